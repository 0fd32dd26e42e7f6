package gateway

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/recap/pkg/conversation"
	"github.com/papercomputeco/recap/pkg/llm"
	"github.com/papercomputeco/recap/pkg/merkle"
)

// HistoryResponse is a stored conversation, oldest turn first.
type HistoryResponse struct {
	HeadHash string        `json:"headHash"`
	Messages []llm.Message `json:"messages"`
	Depth    int           `json:"depth"`
}

// ConversationsResponse lists the head of every stored conversation.
type ConversationsResponse struct {
	Count int      `json:"count"`
	Heads []string `json:"heads"`
}

// PushResponse reports the outcome of a node import.
type PushResponse struct {
	New       int `json:"new"`
	Duplicate int `json:"duplicate"`
	Errors    int `json:"errors"`
}

// handleGetConversation returns the history ending at a head hash.
func (g *Gateway) handleGetConversation(c *fiber.Ctx) error {
	log := requestLog(c)
	if err := authorizeHeader(c, g.runtime.Load().cfg); err != nil {
		return fail(c, log, err)
	}

	hash := c.Params("hash")
	history, err := g.store.History(c.Context(), hash)
	if err != nil {
		var unknown *conversation.UnknownConversationError
		if errors.As(err, &unknown) {
			return c.Status(fiber.StatusNotFound).JSON(llm.ErrorResponse{Error: llm.ErrorMessage(err)})
		}
		return fail(c, log, err)
	}

	return c.JSON(HistoryResponse{HeadHash: hash, Messages: history, Depth: len(history)})
}

// handleListConversations returns every conversation head.
func (g *Gateway) handleListConversations(c *fiber.Ctx) error {
	log := requestLog(c)
	if err := authorizeHeader(c, g.runtime.Load().cfg); err != nil {
		return fail(c, log, err)
	}

	heads, err := g.store.Heads(c.Context())
	if err != nil {
		return fail(c, log, err)
	}
	return c.JSON(ConversationsResponse{Count: len(heads), Heads: heads})
}

// handlePushNodes imports conversation nodes from another recap store. Nodes
// must arrive parents first; a node whose hash does not match its content or
// whose parent is unknown is counted as an error and skipped.
func (g *Gateway) handlePushNodes(c *fiber.Ctx) error {
	log := requestLog(c)
	if err := authorizeHeader(c, g.runtime.Load().cfg); err != nil {
		return fail(c, log, err)
	}

	var nodes []*merkle.Node
	if err := json.Unmarshal(c.Body(), &nodes); err != nil {
		return badBody(c, log, err)
	}

	var resp PushResponse
	for _, node := range nodes {
		isNew, err := g.store.Import(c.Context(), node)
		switch {
		case err != nil:
			log.Warn("rejected pushed node", zap.Error(err))
			resp.Errors++
		case isNew:
			resp.New++
		default:
			resp.Duplicate++
		}
	}

	log.Info("nodes pushed",
		zap.Int("new", resp.New),
		zap.Int("duplicate", resp.Duplicate),
		zap.Int("errors", resp.Errors),
	)
	return c.JSON(resp)
}

// handleTranscript fetches a transcript through the configured source.
func (g *Gateway) handleTranscript(c *fiber.Ctx) error {
	log := requestLog(c)
	rt := g.runtime.Load()

	var req llm.TranscriptRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return badBody(c, log, err)
	}

	if err := authorize(rt.cfg, req.PasswordToken); err != nil {
		return fail(c, log, err)
	}

	if rt.transcripts == nil {
		return fail(c, log, errors.New("no transcript source configured"))
	}

	text, err := rt.transcripts.Fetch(c.Context(), req.URL)
	if err != nil {
		return fail(c, log, err)
	}
	return c.JSON(llm.TranscriptResponse{Transcript: text})
}
