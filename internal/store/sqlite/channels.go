package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/stoneforge-ai/stoneforge/internal/core"
)

func (s *SQLiteStorage) CreateChannel(ctx context.Context, ch *core.Channel, actor core.EntityID) error {
	if ch.ChannelType == core.ChannelDirect {
		if len(ch.Members) != 2 {
			return core.NewError(core.ErrInvalidInput, "direct channel requires exactly two members")
		}
		ch.Permissions = core.Permissions{Visibility: core.VisibilityPrivate, JoinPolicy: core.JoinInviteOnly, ModifyMembers: nil}
		ch.Name = core.DirectChannelName(ch.Members[0], ch.Members[1])
	}
	ch.Type = core.TypeChannel

	return s.execInTx(ctx, func(ex execer) error {
		if err := insertElement(ctx, ex, &ch.Element, actor); err != nil {
			return err
		}
		membersJSON, _ := json.Marshal(ch.Members)
		modifyJSON, _ := json.Marshal(ch.Permissions.ModifyMembers)
		if _, err := ex.ExecContext(ctx, `
			INSERT INTO channels (id, channel_type, members, visibility, join_policy, modify_members, name)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, string(ch.ID), string(ch.ChannelType), string(membersJSON), string(ch.Permissions.Visibility),
			string(ch.Permissions.JoinPolicy), string(modifyJSON), ch.Name); err != nil {
			if isUniqueConstraintError(err) {
				return core.NewError(core.ErrAlreadyExists, "channel named %s already exists", ch.Name)
			}
			return fmt.Errorf("sqlite: insert channel: %w", err)
		}
		return appendEvent(ctx, ex, string(ch.ID), core.EventCreate, actor, nil, "")
	})
}

func (s *SQLiteStorage) GetChannel(ctx context.Context, id core.ChannelID) (*core.Channel, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT e.id, e.type, e.created_at, e.updated_at, e.created_by, e.tags, e.metadata, e.tombstone, e.deleted_at,
		       c.channel_type, c.members, c.visibility, c.join_policy, c.modify_members, c.name
		FROM elements e JOIN channels c ON c.id = e.id WHERE e.id = ?
	`, string(id))

	var ch core.Channel
	var eid, typ, createdBy, tagsJSON, metaJSON string
	var tombstone int
	var deletedAt sql.NullTime
	var channelType, membersJSON, visibility, joinPolicy, modifyJSON string

	err := row.Scan(&eid, &typ, &ch.CreatedAt, &ch.UpdatedAt, &createdBy, &tagsJSON, &metaJSON, &tombstone, &deletedAt,
		&channelType, &membersJSON, &visibility, &joinPolicy, &modifyJSON, &ch.Name)
	if err == sql.ErrNoRows {
		return nil, core.NewError(core.ErrNotFound, "channel %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get channel: %w", err)
	}
	ch.ID = core.ElementID(eid)
	ch.Type = core.ElementType(typ)
	ch.CreatedBy = core.EntityID(createdBy)
	ch.Tombstone = tombstone != 0
	if deletedAt.Valid {
		ch.DeletedAt = &deletedAt.Time
	}
	_ = json.Unmarshal([]byte(tagsJSON), &ch.Tags)
	_ = json.Unmarshal([]byte(metaJSON), &ch.Metadata)
	ch.ChannelType = core.ChannelType(channelType)
	_ = json.Unmarshal([]byte(membersJSON), &ch.Members)
	_ = json.Unmarshal([]byte(modifyJSON), &ch.Permissions.ModifyMembers)
	ch.Permissions.Visibility = core.Visibility(visibility)
	ch.Permissions.JoinPolicy = core.JoinPolicy(joinPolicy)
	return &ch, nil
}

// CreateMessage persists a message. Messages are immutable
// post-creation: CreatedAt == UpdatedAt forever, enforced here and by
// the absence of any UpdateMessage/DeleteMessage method on Storage.
func (s *SQLiteStorage) CreateMessage(ctx context.Context, msg *core.Message, actor core.EntityID) error {
	msg.Type = core.TypeMessage
	msg.Sender = core.EntityID(msg.CreatedBy)
	msg.UpdatedAt = msg.CreatedAt

	return s.execInTx(ctx, func(ex execer) error {
		var chID string
		err := ex.QueryRowContext(ctx, `SELECT id FROM channels WHERE id = ?`, string(msg.ChannelID)).Scan(&chID)
		if err == sql.ErrNoRows {
			return core.NewError(core.ErrNotFound, "channel %s not found", msg.ChannelID)
		}
		if err != nil {
			return fmt.Errorf("sqlite: verify channel: %w", err)
		}
		if err := insertElement(ctx, ex, &msg.Element, actor); err != nil {
			return err
		}
		var threadID interface{}
		if msg.ThreadID != nil {
			threadID = string(*msg.ThreadID)
		}
		attachmentsJSON, _ := json.Marshal(msg.Attachments)
		if _, err := ex.ExecContext(ctx, `
			INSERT INTO messages (id, channel_id, sender, content_ref, thread_id, attachments)
			VALUES (?, ?, ?, ?, ?, ?)
		`, string(msg.ID), string(msg.ChannelID), string(msg.Sender), string(msg.ContentRef), threadID, string(attachmentsJSON)); err != nil {
			return fmt.Errorf("sqlite: insert message: %w", err)
		}
		return appendEvent(ctx, ex, string(msg.ID), core.EventCreate, actor, nil, "")
	})
}

func (s *SQLiteStorage) GetMessage(ctx context.Context, id core.MessageID) (*core.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT e.id, e.type, e.created_at, e.updated_at, e.created_by, e.tags, e.metadata, e.tombstone, e.deleted_at,
		       m.channel_id, m.sender, m.content_ref, m.thread_id, m.attachments
		FROM elements e JOIN messages m ON m.id = e.id WHERE e.id = ?
	`, string(id))

	var msg core.Message
	var eid, typ, createdBy, tagsJSON, metaJSON string
	var tombstone int
	var deletedAt sql.NullTime
	var channelID, sender, contentRef, attachmentsJSON string
	var threadID sql.NullString

	err := row.Scan(&eid, &typ, &msg.CreatedAt, &msg.UpdatedAt, &createdBy, &tagsJSON, &metaJSON, &tombstone, &deletedAt,
		&channelID, &sender, &contentRef, &threadID, &attachmentsJSON)
	if err == sql.ErrNoRows {
		return nil, core.NewError(core.ErrNotFound, "message %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get message: %w", err)
	}
	msg.ID = core.ElementID(eid)
	msg.Type = core.ElementType(typ)
	msg.CreatedBy = core.EntityID(createdBy)
	msg.Tombstone = tombstone != 0
	if deletedAt.Valid {
		msg.DeletedAt = &deletedAt.Time
	}
	_ = json.Unmarshal([]byte(tagsJSON), &msg.Tags)
	_ = json.Unmarshal([]byte(metaJSON), &msg.Metadata)
	msg.ChannelID = core.ChannelID(channelID)
	msg.Sender = core.EntityID(sender)
	msg.ContentRef = core.DocumentID(contentRef)
	if threadID.Valid {
		t := core.MessageID(threadID.String)
		msg.ThreadID = &t
	}
	_ = json.Unmarshal([]byte(attachmentsJSON), &msg.Attachments)
	return &msg, nil
}
