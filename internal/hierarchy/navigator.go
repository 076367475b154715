// Package hierarchy navigates the content pyramid: parent context,
// children, the apex summary, and full source threads.
package hierarchy

import (
	"context"
	"fmt"

	"github.com/kalambet/recall/internal/storage"
)

// NodeStore is the slice of the node store the navigator needs.
type NodeStore interface {
	GetNode(ctx context.Context, id string) (storage.ContentNode, error)
	Children(ctx context.Context, id string) ([]storage.ContentNode, error)
	Thread(ctx context.Context, threadRootID string) ([]storage.ContentNode, error)
}

// Compile-time check that the SQLite store satisfies NodeStore.
var _ NodeStore = (*storage.Store)(nil)

// Navigator provides read-only traversal of indexed pyramids. A missing
// node id surfaces as storage.ErrNotFound.
type Navigator struct {
	store NodeStore
}

// NewNavigator creates a Navigator over the given node store.
func NewNavigator(store NodeStore) *Navigator {
	return &Navigator{store: store}
}

// ParentContext returns the node's parent, or nil when the node is an
// apex or a flat chunk with no ancestors.
func (n *Navigator) ParentContext(ctx context.Context, id string) (*storage.ContentNode, error) {
	node, err := n.store.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	if node.ParentID == "" {
		return nil, nil
	}
	parent, err := n.store.GetNode(ctx, node.ParentID)
	if err != nil {
		return nil, fmt.Errorf("loading parent of %s: %w", id, err)
	}
	return &parent, nil
}

// Children returns the node's children in recorded order; empty for L0.
func (n *Navigator) Children(ctx context.Context, id string) ([]storage.ContentNode, error) {
	return n.store.Children(ctx, id)
}

// Thread returns every node sharing the given node's thread root, ordered
// by source creation time.
func (n *Navigator) Thread(ctx context.Context, id string) ([]storage.ContentNode, error) {
	node, err := n.store.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	return n.store.Thread(ctx, node.ThreadRootID)
}

// Apex climbs parent links to the thread's apex summary, or returns nil
// when the node has no ancestors.
func (n *Navigator) Apex(ctx context.Context, id string) (*storage.ContentNode, error) {
	node, err := n.store.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	if node.ParentID == "" {
		return nil, nil
	}
	current := node
	for current.ParentID != "" {
		parent, err := n.store.GetNode(ctx, current.ParentID)
		if err != nil {
			return nil, fmt.Errorf("climbing from %s: %w", current.ID, err)
		}
		current = parent
	}
	return &current, nil
}
