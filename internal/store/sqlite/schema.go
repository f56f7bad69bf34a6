package sqlite

// schema is applied on every Open(); every statement is idempotent so
// opening an existing database is a no-op beyond index/view creation.
const schema = `
-- Elements table: the common base every persisted entity shares.
CREATE TABLE IF NOT EXISTS elements (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    created_by TEXT DEFAULT '',
    tags TEXT NOT NULL DEFAULT '[]',      -- JSON array, sorted, deduplicated
    metadata TEXT NOT NULL DEFAULT '{}',  -- JSON object; may hold _externalSync
    tombstone INTEGER NOT NULL DEFAULT 0,
    deleted_at DATETIME,
    CHECK (updated_at >= created_at),
    CHECK ((tombstone = 0 AND deleted_at IS NULL) OR (tombstone = 1))
);

CREATE INDEX IF NOT EXISTS idx_elements_type ON elements(type);
CREATE INDEX IF NOT EXISTS idx_elements_updated_at ON elements(updated_at);

-- Tasks: the Element extension carrying work-item fields.
CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY REFERENCES elements(id) ON DELETE CASCADE,
    title TEXT NOT NULL CHECK(length(title) BETWEEN 1 AND 500),
    status TEXT NOT NULL DEFAULT 'backlog',
    priority INTEGER NOT NULL DEFAULT 3 CHECK(priority >= 1 AND priority <= 5),
    complexity INTEGER NOT NULL DEFAULT 1 CHECK(complexity >= 1 AND complexity <= 5),
    task_type TEXT NOT NULL DEFAULT 'task',
    assignee TEXT,
    description_ref TEXT,
    scheduled_for DATETIME,
    close_reason TEXT DEFAULT '',
    reconciliation_count INTEGER NOT NULL DEFAULT 0,
    CHECK (
        (status = 'closed' AND EXISTS (SELECT 1 FROM elements e WHERE e.id = tasks.id)) OR status != 'closed'
    )
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_priority ON tasks(priority);
CREATE INDEX IF NOT EXISTS idx_tasks_assignee ON tasks(assignee);

-- Documents: versioned content. Only the current tuple
-- lives in this table; prior versions are preserved in document_versions.
CREATE TABLE IF NOT EXISTS documents (
    id TEXT PRIMARY KEY REFERENCES elements(id) ON DELETE CASCADE,
    content_type TEXT NOT NULL DEFAULT 'text',
    content TEXT NOT NULL DEFAULT '',
    version INTEGER NOT NULL DEFAULT 1 CHECK(version >= 1),
    previous_version_id TEXT,
    category TEXT DEFAULT '',
    status TEXT NOT NULL DEFAULT 'active',
    immutable INTEGER NOT NULL DEFAULT 0,
    CHECK ((version = 1 AND previous_version_id IS NULL) OR (version > 1 AND previous_version_id IS NOT NULL))
);

CREATE TABLE IF NOT EXISTS document_versions (
    id TEXT NOT NULL,
    version INTEGER NOT NULL,
    content TEXT NOT NULL,
    previous_version_id TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (id, version)
);

-- Channels: direct-channel invariants enforced in application code
-- since SQLite CHECK cannot express "exactly two members" over a JSON set.
CREATE TABLE IF NOT EXISTS channels (
    id TEXT PRIMARY KEY REFERENCES elements(id) ON DELETE CASCADE,
    channel_type TEXT NOT NULL DEFAULT 'group',
    members TEXT NOT NULL DEFAULT '[]',       -- JSON array of entity ids
    visibility TEXT NOT NULL DEFAULT 'private',
    join_policy TEXT NOT NULL DEFAULT 'invite-only',
    modify_members TEXT NOT NULL DEFAULT '[]',
    name TEXT NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_channels_name ON channels(name);

-- Messages: immutable once created.
CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY REFERENCES elements(id) ON DELETE CASCADE,
    channel_id TEXT NOT NULL REFERENCES channels(id),
    sender TEXT NOT NULL,
    content_ref TEXT NOT NULL,
    thread_id TEXT,
    attachments TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel_id);
CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id);

-- Entities: the minimal actor element referenced by created_by, assignee,
-- and channel members.
CREATE TABLE IF NOT EXISTS entities (
    id TEXT PRIMARY KEY REFERENCES elements(id) ON DELETE CASCADE,
    display_name TEXT NOT NULL DEFAULT ''
);

-- Workflows: lifecycle records; terminal states are
-- absorbing, enforced in application code.
CREATE TABLE IF NOT EXISTS workflows (
    id TEXT PRIMARY KEY REFERENCES elements(id) ON DELETE CASCADE,
    name TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'pending',
    started_at DATETIME,
    ended_at DATETIME
);

-- Playbooks and plans. A draft plan's task set is excluded from
-- readiness until committed.
CREATE TABLE IF NOT EXISTS playbooks (
    id TEXT PRIMARY KEY REFERENCES elements(id) ON DELETE CASCADE,
    name TEXT NOT NULL DEFAULT '',
    description_ref TEXT
);

CREATE TABLE IF NOT EXISTS plans (
    id TEXT PRIMARY KEY REFERENCES elements(id) ON DELETE CASCADE,
    name TEXT NOT NULL DEFAULT '',
    playbook_id TEXT,
    status TEXT NOT NULL DEFAULT 'draft',
    task_ids TEXT NOT NULL DEFAULT '[]'     -- JSON array of task ids
);

CREATE INDEX IF NOT EXISTS idx_plans_status ON plans(status);

-- Dependencies (edges). Keyed by the (blocked, blocker, type)
-- triple; re-inserting the same triple is idempotent.
CREATE TABLE IF NOT EXISTS dependencies (
    blocked TEXT NOT NULL,
    blocker TEXT NOT NULL,
    type TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    created_by TEXT NOT NULL DEFAULT '',
    metadata TEXT NOT NULL DEFAULT '{}',
    PRIMARY KEY (blocked, blocker, type),
    FOREIGN KEY (blocked) REFERENCES elements(id) ON DELETE CASCADE,
    FOREIGN KEY (blocker) REFERENCES elements(id) ON DELETE CASCADE,
    CHECK (blocked != blocker)
);

CREATE INDEX IF NOT EXISTS idx_dependencies_blocker ON dependencies(blocker);
CREATE INDEX IF NOT EXISTS idx_dependencies_blocker_type ON dependencies(blocker, type);
CREATE INDEX IF NOT EXISTS idx_dependencies_type ON dependencies(type);

-- Events table (append-only audit trail).
CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    element_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    actor TEXT NOT NULL DEFAULT '',
    diff TEXT NOT NULL DEFAULT '{}',
    comment TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (element_id) REFERENCES elements(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_events_element ON events(element_id);
CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at);

-- Config table.
CREATE TABLE IF NOT EXISTS config (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Metadata table (internal bookkeeping, e.g. importer state).
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Dirty-tracking table for incremental JSONL export. Persistent
-- across restarts, independent of sync-state hashes.
CREATE TABLE IF NOT EXISTS dirty_elements (
    element_id TEXT PRIMARY KEY,
    marked_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (element_id) REFERENCES elements(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_dirty_elements_marked_at ON dirty_elements(marked_at);

-- Export-hash table, for timestamp-only dedup during incremental export.
CREATE TABLE IF NOT EXISTS export_hashes (
    element_id TEXT PRIMARY KEY,
    content_hash TEXT NOT NULL,
    exported_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (element_id) REFERENCES elements(id) ON DELETE CASCADE
);

-- Ready tasks view: open/in_progress tasks with no unsatisfied blocking
-- edge, propagated transitively through parent-child hierarchy.
-- 'awaits' edges are deliberately excluded here: a gate's unblocking
-- condition (timer/approval/external/webhook) is independent of the
-- blocker's task status and can't be evaluated in SQL, so the Go layer
-- (awaitsBlocking in readiness.go) applies it on top of this view.
CREATE VIEW IF NOT EXISTS ready_tasks AS
WITH RECURSIVE
  blocked_directly AS (
    SELECT DISTINCT d.blocked AS element_id
    FROM dependencies d
    JOIN elements blocker_el ON d.blocker = blocker_el.id
    LEFT JOIN tasks blocker_task ON blocker_task.id = blocker_el.id
    WHERE d.type = 'blocks'
      AND blocker_el.tombstone = 0
      AND (blocker_task.id IS NULL OR blocker_task.status != 'closed')
  ),
  blocked_transitively AS (
    SELECT element_id, 0 AS depth FROM blocked_directly
    UNION ALL
    SELECT d.blocked, bt.depth + 1
    FROM blocked_transitively bt
    JOIN dependencies d ON d.blocker = bt.element_id
    WHERE d.type = 'parent-child' AND bt.depth < 50
  )
SELECT t.*, e.updated_at AS element_updated_at, e.created_at AS element_created_at
FROM tasks t
JOIN elements e ON e.id = t.id
WHERE t.status IN ('open', 'in_progress')
  AND e.tombstone = 0
  AND (t.scheduled_for IS NULL OR t.scheduled_for <= CURRENT_TIMESTAMP)
  AND NOT EXISTS (SELECT 1 FROM blocked_transitively WHERE element_id = t.id);

-- Blocked tasks view: mirror of ready_tasks's complement, retaining the
-- blocker that justifies the block. Like ready_tasks, 'awaits' edges are
-- evaluated in Go (awaitsBlocking), not here.
CREATE VIEW IF NOT EXISTS blocked_tasks AS
SELECT t.id AS element_id, d.blocker AS blocker_id, d.type AS blocker_type
FROM tasks t
JOIN elements e ON e.id = t.id
JOIN dependencies d ON d.blocked = t.id
JOIN elements blocker_el ON blocker_el.id = d.blocker
LEFT JOIN tasks blocker_task ON blocker_task.id = blocker_el.id
WHERE t.status IN ('open', 'in_progress')
  AND e.tombstone = 0
  AND d.type = 'blocks'
  AND blocker_el.tombstone = 0
  AND (blocker_task.id IS NULL OR blocker_task.status != 'closed');
`
