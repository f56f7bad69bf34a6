package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stoneforge-ai/stoneforge/internal/core"
)

func (s *SQLiteStorage) CreateDocument(ctx context.Context, doc *core.Document, actor core.EntityID) error {
	if !doc.ContentType.IsValid() {
		return core.NewError(core.ErrInvalidContentType, "invalid content type: %s", doc.ContentType)
	}
	if len(doc.Content) > core.MaxDocumentBytes {
		return core.NewError(core.ErrInvalidInput, "document content exceeds %d bytes", core.MaxDocumentBytes)
	}
	doc.Type = core.TypeDocument
	if doc.Version == 0 {
		doc.Version = 1
	}
	if doc.Status == "" {
		doc.Status = core.DocActive
	}

	return s.execInTx(ctx, func(ex execer) error {
		if err := insertElement(ctx, ex, &doc.Element, actor); err != nil {
			return err
		}
		var prev interface{}
		if doc.PreviousVersionID != nil {
			prev = string(*doc.PreviousVersionID)
		}
		immutable := 0
		if doc.Immutable {
			immutable = 1
		}
		if _, err := ex.ExecContext(ctx, `
			INSERT INTO documents (id, content_type, content, version, previous_version_id, category, status, immutable)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, string(doc.ID), string(doc.ContentType), doc.Content, doc.Version, prev, doc.Category, string(doc.Status), immutable); err != nil {
			return fmt.Errorf("sqlite: insert document: %w", err)
		}
		return appendEvent(ctx, ex, string(doc.ID), core.EventCreate, actor, map[string]interface{}{"version": doc.Version}, "")
	})
}

func scanDocument(row interface {
	Scan(dest ...interface{}) error
}) (*core.Document, error) {
	var d core.Document
	var id, typ, createdBy, tagsJSON, metaJSON string
	var tombstone int
	var deletedAt sql.NullTime
	var contentType, status string
	var prevVersion sql.NullString
	var immutable int

	if err := row.Scan(
		&id, &typ, &d.CreatedAt, &d.UpdatedAt, &createdBy, &tagsJSON, &metaJSON, &tombstone, &deletedAt,
		&contentType, &d.Content, &d.Version, &prevVersion, &d.Category, &status, &immutable,
	); err != nil {
		return nil, err
	}
	d.ID = core.ElementID(id)
	d.Type = core.ElementType(typ)
	d.CreatedBy = core.EntityID(createdBy)
	d.Tombstone = tombstone != 0
	if deletedAt.Valid {
		d.DeletedAt = &deletedAt.Time
	}
	_ = json.Unmarshal([]byte(tagsJSON), &d.Tags)
	_ = json.Unmarshal([]byte(metaJSON), &d.Metadata)
	d.ContentType = core.ContentType(contentType)
	d.Status = core.DocStatus(status)
	d.Immutable = immutable != 0
	if prevVersion.Valid {
		p := core.DocumentID(prevVersion.String)
		d.PreviousVersionID = &p
	}
	return &d, nil
}

const documentSelectColumns = `
	e.id, e.type, e.created_at, e.updated_at, e.created_by, e.tags, e.metadata, e.tombstone, e.deleted_at,
	d.content_type, d.content, d.version, d.previous_version_id, d.category, d.status, d.immutable
`

func (s *SQLiteStorage) GetDocument(ctx context.Context, id core.DocumentID) (*core.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+documentSelectColumns+` FROM elements e JOIN documents d ON d.id = e.id WHERE e.id = ?
	`, string(id))
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, core.NewError(core.ErrNotFound, "document %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get document: %w", err)
	}
	return doc, nil
}

// UpdateDocumentContent materializes a new version, archiving the
// superseded tuple into document_versions.
func (s *SQLiteStorage) UpdateDocumentContent(ctx context.Context, id core.DocumentID, content string, actor core.EntityID) (*core.Document, error) {
	lock := s.elementLock(string(id))
	lock.Lock()
	defer lock.Unlock()
	var result *core.Document
	err := s.execInTx(ctx, func(ex execer) error {
		existing, err := getDocumentTx(ctx, ex, id)
		if err != nil {
			return err
		}
		if existing.Immutable {
			return core.NewError(core.ErrImmutable, "document %s is immutable", id)
		}
		if len(content) > core.MaxDocumentBytes {
			return core.NewError(core.ErrInvalidInput, "document content exceeds %d bytes", core.MaxDocumentBytes)
		}
		if _, err := ex.ExecContext(ctx, `
			INSERT INTO document_versions (id, version, content, previous_version_id, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, string(id), existing.Version, existing.Content, existing.PreviousVersionID, existing.UpdatedAt); err != nil {
			return fmt.Errorf("sqlite: archive document version: %w", err)
		}

		newVersion := existing.Version + 1
		prevID := string(id)
		now := time.Now().UTC()
		if _, err := ex.ExecContext(ctx, `
			UPDATE documents SET content = ?, version = ?, previous_version_id = ? WHERE id = ?
		`, content, newVersion, prevID, string(id)); err != nil {
			return fmt.Errorf("sqlite: update document: %w", err)
		}
		if _, err := ex.ExecContext(ctx, `UPDATE elements SET updated_at = ? WHERE id = ?`, now, string(id)); err != nil {
			return err
		}
		if err := appendEvent(ctx, ex, string(id), core.EventUpdate, actor, map[string]interface{}{"version": newVersion}, ""); err != nil {
			return err
		}
		result, err = getDocumentTx(ctx, ex, id)
		return err
	})
	return result, err
}

func getDocumentTx(ctx context.Context, ex execer, id core.DocumentID) (*core.Document, error) {
	row := ex.QueryRowContext(ctx, `
		SELECT `+documentSelectColumns+` FROM elements e JOIN documents d ON d.id = e.id WHERE e.id = ?
	`, string(id))
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, core.NewError(core.ErrNotFound, "document %s not found", id)
	}
	return doc, err
}

func (s *SQLiteStorage) DeleteDocument(ctx context.Context, id core.DocumentID, actor core.EntityID) error {
	lock := s.elementLock(string(id))
	lock.Lock()
	defer lock.Unlock()
	return s.execInTx(ctx, func(ex execer) error {
		existing, err := getDocumentTx(ctx, ex, id)
		if err != nil {
			return err
		}
		if existing.Immutable {
			return core.NewError(core.ErrImmutable, "document %s is immutable", id)
		}
		now := time.Now().UTC()
		if _, err := ex.ExecContext(ctx, `UPDATE elements SET tombstone = 1, deleted_at = ?, updated_at = ? WHERE id = ?`, now, now, string(id)); err != nil {
			return err
		}
		return appendEvent(ctx, ex, string(id), core.EventDelete, actor, nil, "")
	})
}
