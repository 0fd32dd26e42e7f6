package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/papercomputeco/recap/pkg/conversation"
	"github.com/papercomputeco/recap/pkg/deferred"
	"github.com/papercomputeco/recap/pkg/dispatch"
	"github.com/papercomputeco/recap/pkg/llm"
	"github.com/papercomputeco/recap/pkg/prompt"
	"github.com/papercomputeco/recap/pkg/relay"
	"github.com/papercomputeco/recap/pkg/upstream"
)

// NoticeHeader carries a notice about a trimmed transcript.
const NoticeHeader = "X-Recap-Notice"

// documentInstruction is used for deferred jobs whose prompt has no
// separate instruction, such as an oversized single question.
const documentInstruction = "Respond to the request in the attached document."

// exchange is a prompt plus what to store once it is answered.
type exchange struct {
	prompt prompt.Prompt

	// parentHash is the stored conversation the exchange continues; empty
	// starts a new one.
	parentHash string

	// turns are appended after parentHash, followed by the answer. Nil
	// disables storage.
	turns []llm.Message
}

// handleSummary serves both new summaries and follow-up questions.
func (g *Gateway) handleSummary(c *fiber.Ctx) error {
	startTime := time.Now()
	log := requestLog(c)
	rt := g.runtime.Load()

	// Parse the incoming request
	var req llm.SummaryRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return badBody(c, log, err)
	}

	if err := authorize(rt.cfg, req.PasswordToken); err != nil {
		return fail(c, log, err)
	}

	ex, err := g.assemble(c.Context(), &req)
	if err != nil {
		return fail(c, log, err)
	}

	decision := rt.router.Route(ex.prompt)
	log = log.With(
		zap.String("path", decision.Path.String()),
		zap.Int("prompt_tokens", decision.PromptTokens),
	)
	log.Info("request routed", zap.Int("mode", int(ex.prompt.Mode)), zap.Bool("trimmed", decision.Notice != ""))

	// A deferred job only sees the uploaded document, so a linked follow-up
	// would lose the upstream-held context it depends on.
	if decision.Path == dispatch.Deferred && ex.prompt.Mode == prompt.ModeLinked {
		return fail(c, log, llm.ValidationError{
			Field:  "userPrompt",
			Reason: "follow-up is too large to link to a previous response; resend it with messages or conversationHash",
		})
	}

	if decision.Notice != "" {
		c.Set(NoticeHeader, decision.Notice)
		// The stored conversation holds what was actually submitted.
		if ex.turns != nil {
			ex.turns[0].Content = prompt.WrapTranscript(decision.Prompt.Transcript)
		}
	}
	ex.prompt = decision.Prompt

	if decision.Path == dispatch.Deferred {
		return g.startDeferred(c, log, rt, ex.prompt)
	}
	return g.streamDirect(c, log, rt, ex, startTime)
}

// assemble builds the prompt for whichever request shape was sent, in the
// order messages, conversationHash, previousResponseId, transcript.
func (g *Gateway) assemble(ctx context.Context, req *llm.SummaryRequest) (exchange, error) {
	switch {
	case len(req.Messages) > 0:
		p, err := prompt.Continue(req.Messages)
		if err != nil {
			return exchange{}, err
		}
		return exchange{prompt: p, turns: append([]llm.Message(nil), req.Messages...)}, nil

	case req.ConversationHash != "":
		history, err := g.store.History(ctx, req.ConversationHash)
		if err != nil {
			var unknown *conversation.UnknownConversationError
			if errors.As(err, &unknown) {
				return exchange{}, llm.ValidationError{Field: "conversationHash", Reason: "unknown conversation"}
			}
			return exchange{}, err
		}
		p, err := prompt.Append(history, req.UserPrompt)
		if err != nil {
			return exchange{}, err
		}
		return exchange{
			prompt:     p,
			parentHash: req.ConversationHash,
			turns:      []llm.Message{{Role: llm.RoleUser, Content: req.UserPrompt}},
		}, nil

	case req.PreviousResponseID != "":
		p, err := prompt.Linked(req.PreviousResponseID, req.UserPrompt)
		return exchange{prompt: p}, err

	default:
		var text string
		if req.Transcript != nil {
			text = *req.Transcript
		}
		p, err := prompt.Fresh(text, req.UserPrompt)
		if err != nil {
			return exchange{}, err
		}
		return exchange{
			prompt: p,
			turns:  []llm.Message{{Role: llm.RoleUser, Content: prompt.WrapTranscript(text)}},
		}, nil
	}
}

// streamDirect relays one streamed completion as server-sent events.
func (g *Gateway) streamDirect(c *fiber.Ctx, log *zap.Logger, rt *runtime, ex exchange, startTime time.Time) error {
	// The upstream call outlives this handler: fasthttp runs the body
	// writer after the handler returns, so it cannot use the request ctx.
	upstreamCtx, cancel := context.WithCancel(context.Background())

	// Opened before any header is committed so a rejected call is still a
	// plain JSON error.
	stream, err := rt.client.StreamResponse(upstreamCtx, upstream.ResponseRequest{
		Messages:           ex.prompt.Messages,
		PreviousResponseID: ex.prompt.PreviousResponseID,
		MaxOutputTokens:    rt.cfg.Budget.MaxResponseTokens,
	})
	if err != nil {
		cancel()
		return fail(c, log, err)
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache, no-transform")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	model := rt.cfg.Upstream.Model
	finalize := func(text, responseID string) string {
		if ex.turns == nil {
			return ""
		}
		turns := append(append([]llm.Message(nil), ex.turns...), llm.Message{Role: llm.RoleAssistant, Content: text})
		head, err := g.store.WithModel(model).Append(context.Background(), ex.parentHash, turns...)
		if err != nil {
			// Continue - don't fail the response just because storage failed
			log.Error("failed to store conversation", zap.Error(err))
			return ""
		}
		log.Info("conversation stored", zap.String("head_hash", truncate(head, 16)))
		return head
	}

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cancel()
		outcome := relay.New(log, finalize).Run(upstreamCtx, cancel, stream, relay.NewWriterSink(w))
		log.Info("stream finished",
			zap.Stringer("status", outcome.Status),
			zap.Duration("duration", time.Since(startTime)),
		)
	}))

	return nil
}

// startDeferred uploads the prompt as a document and answers 202 with the
// continuation token.
func (g *Gateway) startDeferred(c *fiber.Ctx, log *zap.Logger, rt *runtime, p prompt.Prompt) error {
	document, instruction := p.Document()
	if strings.TrimSpace(instruction) == "" {
		instruction = documentInstruction
	}

	token, status, err := rt.orchestrator.Start(c.Context(), document, instruction)
	if err != nil {
		return fail(c, log, err)
	}

	log.Info("deferred job started", zap.String("job_id", token.JobID))
	return c.Status(fiber.StatusAccepted).JSON(token.Response(status))
}

// handlePoll checks a deferred job once.
func (g *Gateway) handlePoll(c *fiber.Ctx) error {
	log := requestLog(c)
	rt := g.runtime.Load()

	var req llm.PollRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return badBody(c, log, err)
	}

	if err := authorize(rt.cfg, req.PasswordToken); err != nil {
		return fail(c, log, err)
	}

	result, err := rt.orchestrator.Poll(c.Context(), deferred.FromRequest(req))
	if err != nil {
		return fail(c, log, err)
	}

	if !result.Done {
		return c.JSON(result.Token.Response(result.Status))
	}
	return c.JSON(llm.SummaryResponse{Summary: result.Summary, Message: deferred.CompleteMessage})
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
