package incremental

import (
	"context"

	"github.com/stoneforge-ai/stoneforge/internal/store"
)

// Status reports the incremental-export backlog.
type Status struct {
	DirtyCount int
	TotalCount int
	HasPending bool
}

// GetStatus reports the dirty count, total element count, and whether
// pending changes exist.
func GetStatus(ctx context.Context, st store.Storage) (*Status, error) {
	dirty, err := st.GetDirtyElements(ctx)
	if err != nil {
		return nil, err
	}
	ids, err := st.ListElementIDs(ctx)
	if err != nil {
		return nil, err
	}
	return &Status{
		DirtyCount: len(dirty),
		TotalCount: len(ids),
		HasPending: len(dirty) > 0,
	}, nil
}
