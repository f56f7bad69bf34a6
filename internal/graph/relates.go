package graph

import (
	"context"

	"github.com/stoneforge-ai/stoneforge/internal/core"
)

// AreRelated reports whether a relates-to edge exists between a and b.
// relates-to is canonicalized at insertion (smaller id stored as
// blocked), so the probe checks both orderings and the answer is
// symmetric: AreRelated(a, b) == AreRelated(b, a).
func AreRelated(ctx context.Context, w EdgeWalker, a, b core.ElementID) (bool, error) {
	out, err := w.Outgoing(ctx, a)
	if err != nil {
		return false, err
	}
	for _, e := range out {
		if e.Type == core.DepRelatesTo && e.Blocker == b {
			return true, nil
		}
	}
	in, err := w.Incoming(ctx, a)
	if err != nil {
		return false, err
	}
	for _, e := range in {
		if e.Type == core.DepRelatesTo && e.Blocked == b {
			return true, nil
		}
	}
	return false, nil
}

// Related returns every element joined to id by a relates-to edge,
// regardless of which side of the canonical ordering id landed on.
func Related(ctx context.Context, w EdgeWalker, id core.ElementID) ([]core.ElementID, error) {
	var out []core.ElementID
	outgoing, err := w.Outgoing(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, e := range outgoing {
		if e.Type == core.DepRelatesTo {
			out = append(out, e.Blocker)
		}
	}
	incoming, err := w.Incoming(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, e := range incoming {
		if e.Type == core.DepRelatesTo {
			out = append(out, e.Blocked)
		}
	}
	return out, nil
}
