package graph

import (
	"context"

	"github.com/stoneforge-ai/stoneforge/internal/core"
)

// Direction selects which side of an edge the tree walk follows.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing" // follow blocked -> blocker
	DirectionIncoming Direction = "incoming" // follow blocker -> blocked
)

// EdgeWalker is the subset of store.Storage a tree walk needs.
type EdgeWalker interface {
	Outgoing(ctx context.Context, id core.ElementID) ([]core.Dependency, error)
	Incoming(ctx context.Context, id core.ElementID) ([]core.Dependency, error)
}

// TreeNode is one visited element in a tree walk, at the given depth from
// the root (root is depth 0).
type TreeNode struct {
	ID    core.ElementID
	Depth int
	Via   core.Dependency
}

// Tree walks the dependency graph from id in the given direction, up to
// depth levels, deduplicating visited nodes and terminating cleanly if it
// encounters a tombstone (the caller resolves tombstone-ness; this walk
// only needs edges, which remain resolvable by id).
func Tree(ctx context.Context, w EdgeWalker, id core.ElementID, dir Direction, depth int) ([]TreeNode, error) {
	visited := map[core.ElementID]bool{id: true}
	var out []TreeNode
	frontier := []core.ElementID{id}

	for level := 0; level < depth && len(frontier) > 0; level++ {
		var next []core.ElementID
		for _, cur := range frontier {
			edges, err := edgesFor(ctx, w, cur, dir)
			if err != nil {
				return nil, err
			}
			for _, e := range edges {
				neighbor := neighborOf(e, cur, dir)
				if visited[neighbor] {
					continue
				}
				visited[neighbor] = true
				out = append(out, TreeNode{ID: neighbor, Depth: level + 1, Via: e})
				next = append(next, neighbor)
			}
		}
		frontier = next
	}
	return out, nil
}

func edgesFor(ctx context.Context, w EdgeWalker, id core.ElementID, dir Direction) ([]core.Dependency, error) {
	if dir == DirectionIncoming {
		return w.Incoming(ctx, id)
	}
	return w.Outgoing(ctx, id)
}

func neighborOf(e core.Dependency, cur core.ElementID, dir Direction) core.ElementID {
	if dir == DirectionIncoming {
		return e.Blocked
	}
	return e.Blocker
}
