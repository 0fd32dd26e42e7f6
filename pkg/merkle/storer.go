package merkle

import "context"

// Storer defines the interface for persisting and retrieving nodes from a
// storage backend. De-duplication happens automatically via content-addressing:
// identical turns with identical parents produce identical hashes and are
// stored once.
type Storer interface {
	// Put stores a node. If the node already exists (by hash), this is a no-op.
	Put(ctx context.Context, node *Node) error

	// Get retrieves a node by its hash. Returns ErrNotFound if the node doesn't exist.
	Get(ctx context.Context, hash string) (*Node, error)

	// Has checks if a node exists by its hash.
	Has(ctx context.Context, hash string) (bool, error)

	// Leaves returns all leaf nodes (nodes with no children).
	Leaves(ctx context.Context) ([]*Node, error)

	// Ancestry returns the path from a node back to its root (node first, root last).
	Ancestry(ctx context.Context, hash string) ([]*Node, error)

	// Close closes the store and releases any resources.
	Close() error
}

// ErrNotFound is returned when a node doesn't exist in the store.
type ErrNotFound struct {
	Hash string
}

func (e ErrNotFound) Error() string {
	if e.Hash == "" {
		return "node not found"
	}

	return "node not found: " + e.Hash
}

// ancestry walks parent links starting at hash using get.
func ancestry(ctx context.Context, hash string, get func(context.Context, string) (*Node, error)) ([]*Node, error) {
	var path []*Node
	current := hash
	for {
		node, err := get(ctx, current)
		if err != nil {
			return nil, err
		}
		path = append(path, node)
		if node.ParentHash == nil {
			return path, nil
		}
		current = *node.ParentHash
	}
}

// Walk returns every node reachable from the store's leaves, each exactly
// once, ordered so that a parent always precedes its children.
func Walk(ctx context.Context, s Storer) ([]*Node, error) {
	leaves, err := s.Leaves(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var ordered []*Node
	for _, leaf := range leaves {
		path, err := s.Ancestry(ctx, leaf.Hash)
		if err != nil {
			return nil, err
		}
		// Ancestry runs leaf to root; emit root first.
		for i := len(path) - 1; i >= 0; i-- {
			if seen[path[i].Hash] {
				continue
			}
			seen[path[i].Hash] = true
			ordered = append(ordered, path[i])
		}
	}
	return ordered, nil
}
