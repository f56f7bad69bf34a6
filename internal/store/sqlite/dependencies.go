package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/stoneforge-ai/stoneforge/internal/core"
)

func (s *SQLiteStorage) AddDependency(ctx context.Context, dep core.Dependency) error {
	return addDependency(ctx, s.db, dep)
}

func (tx *sqlTx) AddDependency(ctx context.Context, dep core.Dependency) error {
	return addDependency(ctx, tx.conn, dep)
}

func addDependency(ctx context.Context, ex execer, dep core.Dependency) error {
	if !dep.Type.IsValid() {
		return core.NewError(core.ErrInvalidInput, "invalid dependency type: %s", dep.Type)
	}
	dep = dep.Normalize()
	if dep.Blocked == dep.Blocker {
		return core.NewError(core.ErrInvalidInput, "dependency cannot self-reference %s", dep.Blocked)
	}
	for _, id := range []core.ElementID{dep.Blocked, dep.Blocker} {
		var exists int
		if err := ex.QueryRowContext(ctx, `SELECT COUNT(1) FROM elements WHERE id = ?`, string(id)).Scan(&exists); err != nil {
			return fmt.Errorf("sqlite: check element exists: %w", err)
		}
		if exists == 0 {
			return core.NewError(core.ErrNotFound, "element %s not found", id)
		}
	}

	if dep.Type.IsBlocking() {
		reachable, err := reachableFrom(ctx, ex, dep.Blocker, dep.Blocked)
		if err != nil {
			return err
		}
		if reachable {
			return core.NewError(core.ErrCycleDetected, "adding %s -> %s as %s would close a cycle", dep.Blocked, dep.Blocker, dep.Type)
		}
	}

	dep.EncodeMetadata()
	metaJSON, err := json.Marshal(dep.Metadata)
	if err != nil {
		return fmt.Errorf("sqlite: marshal dependency metadata: %w", err)
	}
	if _, err := ex.ExecContext(ctx, `
		INSERT OR IGNORE INTO dependencies (blocked, blocker, type, created_at, created_by, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(dep.Blocked), string(dep.Blocker), string(dep.Type), dep.CreatedAt, string(dep.CreatedBy), string(metaJSON)); err != nil {
		return fmt.Errorf("sqlite: insert dependency: %w", err)
	}
	return appendEvent(ctx, ex, string(dep.Blocked), core.EventUpdate, dep.CreatedBy,
		map[string]interface{}{"addDependency": string(dep.Blocker), "type": string(dep.Type)}, "")
}

// reachableFrom performs a DFS over blocking edges starting at start,
// reporting whether target is reachable: the cycle check runs it from
// the new edge's blocker and rejects if the blocked end is reachable.
func reachableFrom(ctx context.Context, ex execer, start, target core.ElementID) (bool, error) {
	visited := map[core.ElementID]bool{}
	stack := []core.ElementID{start}
	for len(stack) > 0 {
		n := len(stack) - 1
		cur := stack[n]
		stack = stack[:n]
		if cur == target {
			return true, nil
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true

		rows, err := ex.QueryContext(ctx, `
			SELECT blocker FROM dependencies WHERE blocked = ? AND type IN ('blocks', 'parent-child', 'awaits')
		`, string(cur))
		if err != nil {
			return false, fmt.Errorf("sqlite: query blocking edges: %w", err)
		}
		var next []core.ElementID
		for rows.Next() {
			var blocker string
			if err := rows.Scan(&blocker); err != nil {
				rows.Close()
				return false, err
			}
			next = append(next, core.ElementID(blocker))
		}
		rows.Close()
		stack = append(stack, next...)
	}
	return false, nil
}

func (s *SQLiteStorage) RemoveDependency(ctx context.Context, key core.DependencyKey, actor core.EntityID) error {
	return removeDependency(ctx, s.db, key, actor)
}

func (tx *sqlTx) RemoveDependency(ctx context.Context, key core.DependencyKey, actor core.EntityID) error {
	return removeDependency(ctx, tx.conn, key, actor)
}

func removeDependency(ctx context.Context, ex execer, key core.DependencyKey, actor core.EntityID) error {
	if _, err := ex.ExecContext(ctx, `
		DELETE FROM dependencies WHERE blocked = ? AND blocker = ? AND type = ?
	`, string(key.Blocked), string(key.Blocker), string(key.Type)); err != nil {
		return fmt.Errorf("sqlite: remove dependency: %w", err)
	}
	return appendEvent(ctx, ex, string(key.Blocked), core.EventUpdate, actor,
		map[string]interface{}{"removeDependency": string(key.Blocker), "type": string(key.Type)}, "")
}

func scanDependencies(rows *sql.Rows) ([]core.Dependency, error) {
	defer rows.Close()
	var out []core.Dependency
	for rows.Next() {
		var d core.Dependency
		var blocked, blocker, typ, createdBy, metaJSON string
		if err := rows.Scan(&blocked, &blocker, &typ, &d.CreatedAt, &createdBy, &metaJSON); err != nil {
			return nil, err
		}
		d.Blocked = core.ElementID(blocked)
		d.Blocker = core.ElementID(blocker)
		d.Type = core.DependencyType(typ)
		d.CreatedBy = core.EntityID(createdBy)
		_ = json.Unmarshal([]byte(metaJSON), &d.Metadata)
		if err := d.DecodeMetadata(); err != nil {
			return nil, fmt.Errorf("sqlite: decode dependency metadata: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Outgoing returns edges where id is the blocked party (it waits on
// something else).
func (s *SQLiteStorage) Outgoing(ctx context.Context, id core.ElementID) ([]core.Dependency, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT blocked, blocker, type, created_at, created_by, metadata FROM dependencies WHERE blocked = ?
	`, string(id))
	if err != nil {
		return nil, fmt.Errorf("sqlite: query outgoing dependencies: %w", err)
	}
	return scanDependencies(rows)
}

// Incoming returns edges where id is the blocker (other elements wait on it).
func (s *SQLiteStorage) Incoming(ctx context.Context, id core.ElementID) ([]core.Dependency, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT blocked, blocker, type, created_at, created_by, metadata FROM dependencies WHERE blocker = ?
	`, string(id))
	if err != nil {
		return nil, fmt.Errorf("sqlite: query incoming dependencies: %w", err)
	}
	return scanDependencies(rows)
}

// ListDependencies returns every edge of the given type.
func (s *SQLiteStorage) ListDependencies(ctx context.Context, depType core.DependencyType) ([]core.Dependency, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT blocked, blocker, type, created_at, created_by, metadata FROM dependencies WHERE type = ?
	`, string(depType))
	if err != nil {
		return nil, fmt.Errorf("sqlite: query dependencies by type: %w", err)
	}
	return scanDependencies(rows)
}

// AllDependencies returns every edge of every type, for full export.
func (s *SQLiteStorage) AllDependencies(ctx context.Context) ([]core.Dependency, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT blocked, blocker, type, created_at, created_by, metadata FROM dependencies
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query all dependencies: %w", err)
	}
	return scanDependencies(rows)
}

func (s *SQLiteStorage) AllBlockingEdges(ctx context.Context) ([]core.Dependency, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT blocked, blocker, type, created_at, created_by, metadata
		FROM dependencies WHERE type IN ('blocks', 'parent-child', 'awaits')
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query blocking edges: %w", err)
	}
	return scanDependencies(rows)
}
