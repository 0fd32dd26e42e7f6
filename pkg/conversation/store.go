package conversation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/papercomputeco/recap/pkg/llm"
	"github.com/papercomputeco/recap/pkg/merkle"
	"github.com/papercomputeco/recap/pkg/prompt"
)

const bucketType = "message"

// Store persists conversations as Merkle chains of turns. Appending never
// rewrites history: a new turn becomes a new head pointing at the old one,
// and identical histories share their nodes.
type Store struct {
	storer merkle.Storer
	model  string
}

// NewStore wraps a node storer.
func NewStore(storer merkle.Storer) *Store {
	return &Store{storer: storer}
}

// WithModel returns a Store that tags the assistant turns it appends with
// the model that produced them.
func (s *Store) WithModel(model string) *Store {
	return &Store{storer: s.storer, model: model}
}

// Append adds turns after parentHash and returns the new head hash. An
// empty parentHash starts a new conversation, whose first turn must carry
// the delimited transcript.
func (s *Store) Append(ctx context.Context, parentHash string, turns ...llm.Message) (string, error) {
	if len(turns) == 0 {
		return parentHash, nil
	}

	for i, turn := range turns {
		if err := validateTurn(turn.Role, turn.Content, i == 0 && parentHash == ""); err != nil {
			return "", err
		}
	}

	var parent *merkle.Node
	if parentHash != "" {
		node, err := s.storer.Get(ctx, parentHash)
		if err != nil {
			return "", s.lookupError(parentHash, err)
		}
		parent = node
	}

	for _, turn := range turns {
		bucket := merkle.Bucket{Type: bucketType, Role: turn.Role, Content: turn.Content}
		if turn.Role == llm.RoleAssistant {
			bucket.Model = s.model
		}

		node := merkle.NewNode(bucket, parent)
		if err := s.storer.Put(ctx, node); err != nil {
			return "", fmt.Errorf("storing turn: %w", err)
		}
		parent = node
	}

	return parent.Hash, nil
}

// History returns the conversation ending at hash, oldest turn first.
func (s *Store) History(ctx context.Context, hash string) ([]llm.Message, error) {
	nodes, err := s.storer.Ancestry(ctx, hash)
	if err != nil {
		return nil, s.lookupError(hash, err)
	}

	history := make([]llm.Message, len(nodes))
	for i, node := range nodes {
		history[len(nodes)-1-i] = llm.Message{Role: node.Content.Role, Content: node.Content.Content}
	}
	return history, nil
}

// Heads lists the hash of every conversation's latest turn, sorted.
func (s *Store) Heads(ctx context.Context) ([]string, error) {
	leaves, err := s.storer.Leaves(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}

	heads := make([]string, 0, len(leaves))
	for _, leaf := range leaves {
		heads = append(heads, leaf.Hash)
	}
	sort.Strings(heads)
	return heads, nil
}

// Close releases the underlying storer.
func (s *Store) Close() error {
	return s.storer.Close()
}

func (s *Store) lookupError(hash string, err error) error {
	var notFound merkle.ErrNotFound
	if errors.As(err, &notFound) {
		return &UnknownConversationError{Hash: hash}
	}
	return fmt.Errorf("loading conversation %s: %w", hash, err)
}

// UnknownConversationError is returned for a hash the store has never seen.
type UnknownConversationError struct {
	Hash string
}

func (e *UnknownConversationError) Error() string {
	return "unknown conversation: " + e.Hash
}

// Import stores a node received from another store, reporting whether it
// was new. The node's hash must match its content and its parent must
// already be present.
func (s *Store) Import(ctx context.Context, node *merkle.Node) (bool, error) {
	if node == nil || !node.Verify() {
		return false, llm.ValidationError{Field: "hash", Reason: "does not match node content"}
	}
	if err := validateTurn(node.Content.Role, node.Content.Content, node.ParentHash == nil); err != nil {
		return false, err
	}

	exists, err := s.storer.Has(ctx, node.Hash)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	if node.ParentHash != nil {
		ok, err := s.storer.Has(ctx, *node.ParentHash)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, &UnknownConversationError{Hash: *node.ParentHash}
		}
	}

	if err := s.storer.Put(ctx, node); err != nil {
		return false, fmt.Errorf("storing node: %w", err)
	}
	return true, nil
}

// validateTurn checks a turn about to be stored. A root turn must be the
// user turn carrying the delimited transcript.
func validateTurn(role, content string, root bool) error {
	if !llm.ValidRole(role) {
		return llm.ValidationError{Field: "role", Reason: fmt.Sprintf("unsupported role %q", role)}
	}
	if root && (role != llm.RoleUser || !strings.HasPrefix(content, prompt.StartDelimiter)) {
		return llm.ValidationError{Field: "messages", Reason: "first turn must carry the delimited transcript"}
	}
	return nil
}

// Nodes returns every stored node, parents first.
func (s *Store) Nodes(ctx context.Context) ([]*merkle.Node, error) {
	return merkle.Walk(ctx, s.storer)
}
