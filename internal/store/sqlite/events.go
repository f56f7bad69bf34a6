package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/stoneforge-ai/stoneforge/internal/core"
)

// appendEvent inserts an append-only event row and marks the element
// dirty within the same statement batch, so every mutation is atomically
// paired with its audit trail entry and its incremental-export marker.
func appendEvent(ctx context.Context, ex execer, elementID string, kind core.EventKind, actor core.EntityID, diff map[string]interface{}, comment string) error {
	diffJSON, err := json.Marshal(diff)
	if err != nil {
		return fmt.Errorf("sqlite: marshal event diff: %w", err)
	}
	id := uuid.NewString()
	if _, err := ex.ExecContext(ctx, `
		INSERT INTO events (id, element_id, kind, actor, diff, comment)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, elementID, string(kind), string(actor), string(diffJSON), comment); err != nil {
		return fmt.Errorf("sqlite: insert event: %w", err)
	}
	return markDirty(ctx, ex, elementID)
}

func markDirty(ctx context.Context, ex execer, elementID string) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO dirty_elements (element_id, marked_at) VALUES (?, CURRENT_TIMESTAMP)
		ON CONFLICT(element_id) DO UPDATE SET marked_at = CURRENT_TIMESTAMP
	`, elementID)
	if err != nil {
		return fmt.Errorf("sqlite: mark dirty: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) GetEvents(ctx context.Context, id core.ElementID, limit int) ([]*core.Event, error) {
	return getEvents(ctx, s.db, id, limit)
}

func getEvents(ctx context.Context, ex execer, id core.ElementID, limit int) ([]*core.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := ex.QueryContext(ctx, `
		SELECT id, element_id, kind, actor, diff, comment, created_at
		FROM events WHERE element_id = ? ORDER BY created_at ASC, id ASC LIMIT ?
	`, string(id), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query events: %w", err)
	}
	defer rows.Close()

	var out []*core.Event
	for rows.Next() {
		var ev core.Event
		var eventID, elementID, kind, actor, diffJSON, comment string
		if err := rows.Scan(&eventID, &elementID, &kind, &actor, &diffJSON, &comment, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("sqlite: scan event: %w", err)
		}
		ev.ID = eventID
		ev.ElementID = core.ElementID(elementID)
		ev.Kind = core.EventKind(kind)
		ev.Actor = core.EntityID(actor)
		ev.Comment = comment
		if diffJSON != "" {
			_ = json.Unmarshal([]byte(diffJSON), &ev.Diff)
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// GetDirtyElements returns every element id marked dirty since the last
// successful incremental export.
func (s *SQLiteStorage) GetDirtyElements(ctx context.Context) ([]core.ElementID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT element_id FROM dirty_elements ORDER BY marked_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query dirty elements: %w", err)
	}
	defer rows.Close()
	var out []core.ElementID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, core.ElementID(id))
	}
	return out, rows.Err()
}

// ClearDirtyElements atomically clears the dirty marker for ids, called
// after a successful incremental export.
func (s *SQLiteStorage) ClearDirtyElements(ctx context.Context, ids []core.ElementID) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `DELETE FROM dirty_elements WHERE element_id = ?`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, string(id)); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStorage) GetExportHash(ctx context.Context, id core.ElementID) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT content_hash FROM export_hashes WHERE element_id = ?`, string(id)).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return hash, err
}

func (s *SQLiteStorage) SetExportHash(ctx context.Context, id core.ElementID, hash string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO export_hashes (element_id, content_hash, exported_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(element_id) DO UPDATE SET content_hash = excluded.content_hash, exported_at = CURRENT_TIMESTAMP
	`, string(id), hash)
	return err
}

func (s *SQLiteStorage) ClearAllExportHashes(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM export_hashes`)
	return err
}
