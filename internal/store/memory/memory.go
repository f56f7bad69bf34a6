// Package memory is an in-process implementation of store.Storage: a
// map-of-maps guarded by one RWMutex, following the sqlite package's
// CRUD/OCC/event-log semantics without a database.
//
// It exists for tests and for embedding Stoneforge without a SQLite
// dependency; every method honors the same OCC, soft-delete, dirty-
// tracking, and immutability contracts as internal/store/sqlite.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stoneforge-ai/stoneforge/internal/core"
	"github.com/stoneforge-ai/stoneforge/internal/store"
	"github.com/stoneforge-ai/stoneforge/internal/validation"
)

type docVersion struct {
	version    int
	content    string
	previousID *core.DocumentID
	createdAt  time.Time
}

// Store is an in-memory store.Storage implementation, safe for
// concurrent use. Writes to a given element are serialized via a
// per-id mutex, mirroring sqlite.SQLiteStorage.elementLock
// (single-writer-per-element).
type Store struct {
	mu sync.RWMutex // guards every map below except per-element locks

	tasks     map[core.TaskID]*core.Task
	documents map[core.DocumentID]*core.Document
	channels  map[core.ChannelID]*core.Channel
	messages  map[core.MessageID]*core.Message
	entities  map[core.EntityID]*core.Entity
	workflows map[core.WorkflowID]*core.Workflow
	playbooks map[core.PlaybookID]*core.Playbook
	plans     map[core.PlanID]*core.Plan

	// kinds maps every known id (of any type) to its element kind, for
	// GetElement's generic dispatch and existence checks.
	kinds map[core.ElementID]core.ElementType

	docVersions map[core.DocumentID][]docVersion
	channelName map[string]core.ChannelID // uniqueness index on Channel.Name

	deps map[core.DependencyKey]core.Dependency

	events map[core.ElementID][]*core.Event
	dirty  map[core.ElementID]struct{}

	exportHashes map[core.ElementID]string
	config       map[string]string
	metadata     map[string]string

	locksMu sync.Mutex
	locks   map[core.ElementID]*sync.Mutex
}

var _ store.Storage = (*Store)(nil)

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		tasks:        make(map[core.TaskID]*core.Task),
		documents:    make(map[core.DocumentID]*core.Document),
		channels:     make(map[core.ChannelID]*core.Channel),
		messages:     make(map[core.MessageID]*core.Message),
		entities:     make(map[core.EntityID]*core.Entity),
		workflows:    make(map[core.WorkflowID]*core.Workflow),
		playbooks:    make(map[core.PlaybookID]*core.Playbook),
		plans:        make(map[core.PlanID]*core.Plan),
		kinds:        make(map[core.ElementID]core.ElementType),
		docVersions:  make(map[core.DocumentID][]docVersion),
		channelName:  make(map[string]core.ChannelID),
		deps:         make(map[core.DependencyKey]core.Dependency),
		events:       make(map[core.ElementID][]*core.Event),
		dirty:        make(map[core.ElementID]struct{}),
		exportHashes: make(map[core.ElementID]string),
		config:       make(map[string]string),
		metadata:     make(map[string]string),
		locks:        make(map[core.ElementID]*sync.Mutex),
	}
}

func (s *Store) elementLock(id core.ElementID) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *Store) Close() error { return nil }
func (s *Store) Path() string { return ":memory:" }

// UnderlyingDB always returns nil: this backend has no *sql.DB. Callers
// needing one (e.g. ad-hoc inspection tooling) should use the sqlite
// backend instead.
func (s *Store) UnderlyingDB() *sql.DB { return nil }

func cloneEvent(e *core.Event) *core.Event {
	cp := *e
	if e.Diff != nil {
		cp.Diff = make(map[string]interface{}, len(e.Diff))
		for k, v := range e.Diff {
			cp.Diff[k] = v
		}
	}
	return &cp
}

func (s *Store) appendEvent(id core.ElementID, kind core.EventKind, actor core.EntityID, diff map[string]interface{}, comment string) {
	ev := &core.Event{
		ID:        uuid.NewString(),
		ElementID: id,
		Kind:      kind,
		Actor:     actor,
		Timestamp: time.Now().UTC(),
		Diff:      diff,
		Comment:   comment,
	}
	s.events[id] = append(s.events[id], ev)
	s.dirty[id] = struct{}{}
}

func cloneTags(tags []string) []string {
	if tags == nil {
		return nil
	}
	out := make([]string, len(tags))
	copy(out, tags)
	return out
}

func cloneMeta(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// --- Tasks ---------------------------------------------------------------

func (s *Store) CreateTask(ctx context.Context, task *core.Task, actor core.EntityID) error {
	if err := validation.Title(task.Title); err != nil {
		return err
	}
	if err := validation.Priority(task.Priority); err != nil {
		return err
	}
	if err := validation.Complexity(task.Complexity); err != nil {
		return err
	}
	if !task.TaskType.IsValid() {
		return core.NewError(core.ErrInvalidInput, "invalid task type: %s", task.TaskType)
	}
	if task.Status == "" {
		task.Status = core.StatusBacklog
	}
	if !task.Status.IsValid() {
		return core.NewError(core.ErrInvalidStatus, "invalid status: %s", task.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := core.TaskID(task.ID)
	if _, exists := s.kinds[task.ID]; exists {
		return core.NewError(core.ErrAlreadyExists, "element %s already exists", task.ID)
	}
	task.Type = core.TypeTask
	cp := *task
	cp.Tags = cloneTags(task.Tags)
	cp.Metadata = cloneMeta(task.Metadata)
	s.tasks[id] = &cp
	s.kinds[task.ID] = core.TypeTask
	s.appendEvent(task.ID, core.EventCreate, actor, map[string]interface{}{"title": task.Title}, "")
	return nil
}

func (s *Store) getTaskLocked(id core.TaskID) (*core.Task, error) {
	t, ok := s.tasks[id]
	if !ok {
		return nil, core.NewError(core.ErrNotFound, "task %s not found", id)
	}
	cp := *t
	cp.Tags = cloneTags(t.Tags)
	cp.Metadata = cloneMeta(t.Metadata)
	return &cp, nil
}

func (s *Store) GetTask(ctx context.Context, id core.TaskID) (*core.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getTaskLocked(id)
}

var updatableTaskFields = map[string]bool{
	"title": true, "status": true, "priority": true, "complexity": true,
	"taskType": true, "assignee": true, "descriptionRef": true,
	"scheduledFor": true, "closeReason": true,
}

func (s *Store) UpdateTask(ctx context.Context, id core.TaskID, patch map[string]interface{}, opts store.UpdateOptions) error {
	lock := s.elementLock(core.ElementID(id))
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.tasks[id]
	if !ok {
		return core.NewError(core.ErrNotFound, "task %s not found", id)
	}
	if err := validation.ForUpdate()(string(id), existing); err != nil {
		return err
	}
	if opts.ExpectedUpdatedAt != nil && !opts.ExpectedUpdatedAt.Equal(existing.UpdatedAt) {
		return core.NewError(core.ErrConflict, "task %s was modified concurrently", id)
	}
	if rawStatus, ok := patch["status"]; ok {
		newStatus := core.Status(toString(rawStatus))
		if err := validation.StatusTransition(newStatus)(string(id), existing); err != nil {
			return err
		}
	}
	if rawTitle, ok := patch["title"]; ok {
		if err := validation.Title(toString(rawTitle)); err != nil {
			return err
		}
	}

	changed := false
	for field, value := range patch {
		if !updatableTaskFields[field] {
			continue
		}
		changed = true
		switch field {
		case "title":
			existing.Title = toString(value)
		case "status":
			existing.Status = core.Status(toString(value))
		case "priority":
			existing.Priority = toInt(value)
		case "complexity":
			existing.Complexity = toInt(value)
		case "taskType":
			existing.TaskType = core.TaskType(toString(value))
		case "assignee":
			e := core.EntityID(toString(value))
			existing.Assignee = &e
		case "descriptionRef":
			d := core.DocumentID(toString(value))
			existing.DescriptionRef = &d
		case "scheduledFor":
			if t, ok := value.(time.Time); ok {
				existing.ScheduledFor = &t
			}
		case "closeReason":
			existing.CloseReason = toString(value)
		}
	}
	if rawMeta, ok := patch["metadata"]; ok {
		if m, ok := rawMeta.(map[string]interface{}); ok {
			if existing.Metadata == nil {
				existing.Metadata = make(map[string]interface{})
			}
			// nil at a key deletes it, matching the sqlite backend's
			// metadata merge (unlink removes _externalSync this way).
			for k, v := range m {
				if v == nil {
					delete(existing.Metadata, k)
					continue
				}
				existing.Metadata[k] = v
			}
			changed = true
		}
	}
	if rawTags, ok := patch["tags"]; ok {
		if tags, ok := rawTags.([]string); ok {
			existing.SetTags(tags)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	existing.UpdatedAt = time.Now().UTC()

	kind := core.EventUpdate
	if _, ok := patch["status"]; ok {
		kind = core.EventStatusChange
	}
	s.appendEvent(core.ElementID(id), kind, opts.Actor, patch, "")
	return nil
}

func (s *Store) CloseTask(ctx context.Context, id core.TaskID, reason string, actor core.EntityID) error {
	lock := s.elementLock(core.ElementID(id))
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.tasks[id]
	if !ok {
		return core.NewError(core.ErrNotFound, "task %s not found", id)
	}
	if err := validation.ForClose()(string(id), existing); err != nil {
		return err
	}
	existing.Status = core.StatusClosed
	existing.CloseReason = reason
	existing.UpdatedAt = time.Now().UTC()
	s.appendEvent(core.ElementID(id), core.EventStatusChange, actor, map[string]interface{}{"status": "closed", "closeReason": reason}, reason)
	return nil
}

func (s *Store) ReopenTask(ctx context.Context, id core.TaskID, actor core.EntityID) error {
	lock := s.elementLock(core.ElementID(id))
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.tasks[id]
	if !ok {
		return core.NewError(core.ErrNotFound, "task %s not found", id)
	}
	if err := validation.ForReopen()(string(id), existing); err != nil {
		return err
	}
	existing.Reopen(time.Now().UTC())
	s.appendEvent(core.ElementID(id), core.EventStatusChange, actor, map[string]interface{}{"status": "open"}, "reopened")
	return nil
}

func (s *Store) DeleteTask(ctx context.Context, id core.TaskID, reason string, actor core.EntityID) error {
	lock := s.elementLock(core.ElementID(id))
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.tasks[id]
	if !ok {
		return core.NewError(core.ErrNotFound, "task %s not found", id)
	}
	if err := validation.ForDelete()(string(id), existing); err != nil {
		return err
	}
	now := time.Now().UTC()
	existing.Tombstone = true
	existing.DeletedAt = &now
	existing.UpdatedAt = now
	s.appendEvent(core.ElementID(id), core.EventDelete, actor, map[string]interface{}{"reason": reason}, reason)
	return nil
}

func (s *Store) ListTasks(ctx context.Context, filter store.TaskFilter) ([]*core.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*core.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if !filter.IncludeTombstones && t.Tombstone {
			continue
		}
		if len(filter.Status) > 0 && !containsStatus(filter.Status, t.Status) {
			continue
		}
		if len(filter.TaskType) > 0 && !containsTaskType(filter.TaskType, t.TaskType) {
			continue
		}
		if filter.Assignee != nil && (t.Assignee == nil || *t.Assignee != *filter.Assignee) {
			continue
		}
		cp := *t
		cp.Tags = cloneTags(t.Tags)
		cp.Metadata = cloneMeta(t.Metadata)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func containsStatus(statuses []core.Status, s core.Status) bool {
	for _, c := range statuses {
		if c == s {
			return true
		}
	}
	return false
}

func containsTaskType(types []core.TaskType, t core.TaskType) bool {
	for _, c := range types {
		if c == t {
			return true
		}
	}
	return false
}

// --- Documents -------------------------------------------------------------

func (s *Store) CreateDocument(ctx context.Context, doc *core.Document, actor core.EntityID) error {
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

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.kinds[doc.ID]; exists {
		return core.NewError(core.ErrAlreadyExists, "element %s already exists", doc.ID)
	}
	id := core.DocumentID(doc.ID)
	cp := *doc
	cp.Tags = cloneTags(doc.Tags)
	cp.Metadata = cloneMeta(doc.Metadata)
	s.documents[id] = &cp
	s.kinds[doc.ID] = core.TypeDocument
	s.appendEvent(doc.ID, core.EventCreate, actor, map[string]interface{}{"version": doc.Version}, "")
	return nil
}

func (s *Store) getDocumentLocked(id core.DocumentID) (*core.Document, error) {
	d, ok := s.documents[id]
	if !ok {
		return nil, core.NewError(core.ErrNotFound, "document %s not found", id)
	}
	cp := *d
	cp.Tags = cloneTags(d.Tags)
	cp.Metadata = cloneMeta(d.Metadata)
	return &cp, nil
}

func (s *Store) GetDocument(ctx context.Context, id core.DocumentID) (*core.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getDocumentLocked(id)
}

// UpdateDocumentContent materializes a new version, archiving the
// superseded tuple into docVersions.
func (s *Store) UpdateDocumentContent(ctx context.Context, id core.DocumentID, content string, actor core.EntityID) (*core.Document, error) {
	lock := s.elementLock(core.ElementID(id))
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.documents[id]
	if !ok {
		return nil, core.NewError(core.ErrNotFound, "document %s not found", id)
	}
	if existing.Immutable {
		return nil, core.NewError(core.ErrImmutable, "document %s is immutable", id)
	}
	if len(content) > core.MaxDocumentBytes {
		return nil, core.NewError(core.ErrInvalidInput, "document content exceeds %d bytes", core.MaxDocumentBytes)
	}

	s.docVersions[id] = append(s.docVersions[id], docVersion{
		version:    existing.Version,
		content:    existing.Content,
		previousID: existing.PreviousVersionID,
		createdAt:  existing.UpdatedAt,
	})

	prevID := id
	existing.Content = content
	existing.Version++
	existing.PreviousVersionID = &prevID
	existing.UpdatedAt = time.Now().UTC()

	s.appendEvent(core.ElementID(id), core.EventUpdate, actor, map[string]interface{}{"version": existing.Version}, "")

	cp := *existing
	cp.Tags = cloneTags(existing.Tags)
	cp.Metadata = cloneMeta(existing.Metadata)
	return &cp, nil
}

func (s *Store) DeleteDocument(ctx context.Context, id core.DocumentID, actor core.EntityID) error {
	lock := s.elementLock(core.ElementID(id))
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.documents[id]
	if !ok {
		return core.NewError(core.ErrNotFound, "document %s not found", id)
	}
	if existing.Immutable {
		return core.NewError(core.ErrImmutable, "document %s is immutable", id)
	}
	now := time.Now().UTC()
	existing.Tombstone = true
	existing.DeletedAt = &now
	existing.UpdatedAt = now
	s.appendEvent(core.ElementID(id), core.EventDelete, actor, nil, "")
	return nil
}

// --- Channels & Messages -----------------------------------------------

func (s *Store) CreateChannel(ctx context.Context, ch *core.Channel, actor core.EntityID) error {
	if ch.ChannelType == core.ChannelDirect {
		if len(ch.Members) != 2 {
			return core.NewError(core.ErrInvalidInput, "direct channel requires exactly two members")
		}
		ch.Permissions = core.Permissions{Visibility: core.VisibilityPrivate, JoinPolicy: core.JoinInviteOnly, ModifyMembers: nil}
		ch.Name = core.DirectChannelName(ch.Members[0], ch.Members[1])
	}
	ch.Type = core.TypeChannel

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.kinds[ch.ID]; exists {
		return core.NewError(core.ErrAlreadyExists, "element %s already exists", ch.ID)
	}
	if _, exists := s.channelName[ch.Name]; exists {
		return core.NewError(core.ErrAlreadyExists, "channel named %s already exists", ch.Name)
	}
	id := core.ChannelID(ch.ID)
	cp := *ch
	cp.Tags = cloneTags(ch.Tags)
	cp.Metadata = cloneMeta(ch.Metadata)
	cp.Members = append([]core.EntityID(nil), ch.Members...)
	cp.Permissions.ModifyMembers = append([]core.EntityID(nil), ch.Permissions.ModifyMembers...)
	s.channels[id] = &cp
	s.kinds[ch.ID] = core.TypeChannel
	s.channelName[ch.Name] = id
	s.appendEvent(ch.ID, core.EventCreate, actor, nil, "")
	return nil
}

func (s *Store) GetChannel(ctx context.Context, id core.ChannelID) (*core.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[id]
	if !ok {
		return nil, core.NewError(core.ErrNotFound, "channel %s not found", id)
	}
	cp := *ch
	cp.Tags = cloneTags(ch.Tags)
	cp.Metadata = cloneMeta(ch.Metadata)
	cp.Members = append([]core.EntityID(nil), ch.Members...)
	return &cp, nil
}

// CreateMessage persists a message. Messages are immutable
// post-creation: no UpdateMessage/DeleteMessage method is exposed.
func (s *Store) CreateMessage(ctx context.Context, msg *core.Message, actor core.EntityID) error {
	msg.Type = core.TypeMessage
	msg.Sender = msg.CreatedBy
	msg.UpdatedAt = msg.CreatedAt

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[msg.ChannelID]; !ok {
		return core.NewError(core.ErrNotFound, "channel %s not found", msg.ChannelID)
	}
	if _, exists := s.kinds[msg.ID]; exists {
		return core.NewError(core.ErrAlreadyExists, "element %s already exists", msg.ID)
	}
	id := core.MessageID(msg.ID)
	cp := *msg
	cp.Tags = cloneTags(msg.Tags)
	cp.Metadata = cloneMeta(msg.Metadata)
	cp.Attachments = append([]core.DocumentID(nil), msg.Attachments...)
	s.messages[id] = &cp
	s.kinds[msg.ID] = core.TypeMessage
	s.appendEvent(msg.ID, core.EventCreate, actor, nil, "")
	return nil
}

func (s *Store) GetMessage(ctx context.Context, id core.MessageID) (*core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, core.NewError(core.ErrNotFound, "message %s not found", id)
	}
	cp := *msg
	cp.Tags = cloneTags(msg.Tags)
	cp.Metadata = cloneMeta(msg.Metadata)
	cp.Attachments = append([]core.DocumentID(nil), msg.Attachments...)
	return &cp, nil
}

// GetElement resolves any kind of id to its concrete type.
func (s *Store) GetElement(ctx context.Context, id core.ElementID) (interface{}, error) {
	s.mu.RLock()
	kind, ok := s.kinds[id]
	s.mu.RUnlock()
	if !ok {
		return nil, core.NewError(core.ErrNotFound, "element %s not found", id)
	}
	switch kind {
	case core.TypeTask:
		return s.GetTask(ctx, core.TaskID(id))
	case core.TypeDocument:
		return s.GetDocument(ctx, core.DocumentID(id))
	case core.TypeChannel:
		return s.GetChannel(ctx, core.ChannelID(id))
	case core.TypeMessage:
		return s.GetMessage(ctx, core.MessageID(id))
	case core.TypeEntity:
		return s.GetEntity(ctx, core.EntityID(id))
	case core.TypeWorkflow:
		return s.GetWorkflow(ctx, core.WorkflowID(id))
	case core.TypePlaybook:
		return s.GetPlaybook(ctx, core.PlaybookID(id))
	case core.TypePlan:
		return s.GetPlan(ctx, core.PlanID(id))
	default:
		return nil, core.NewError(core.ErrInvalidInput, "unsupported element type %s for id %s", kind, id)
	}
}

func (s *Store) elementExists(id core.ElementID) bool {
	_, ok := s.kinds[id]
	return ok
}

// ListElementIDs returns every element id of every kind, tombstoned or
// not; callers that need live elements filter after resolving.
func (s *Store) ListElementIDs(ctx context.Context) ([]core.ElementID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.ElementID, 0, len(s.kinds))
	for id := range s.kinds {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// --- Dependencies --------------------------------------------------------

func (s *Store) AddDependency(ctx context.Context, dep core.Dependency) error {
	if !dep.Type.IsValid() {
		return core.NewError(core.ErrInvalidInput, "invalid dependency type: %s", dep.Type)
	}
	dep = dep.Normalize()
	if dep.Blocked == dep.Blocker {
		return core.NewError(core.ErrInvalidInput, "dependency cannot self-reference %s", dep.Blocked)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.elementExists(dep.Blocked) {
		return core.NewError(core.ErrNotFound, "element %s not found", dep.Blocked)
	}
	if !s.elementExists(dep.Blocker) {
		return core.NewError(core.ErrNotFound, "element %s not found", dep.Blocker)
	}

	if dep.Type.IsBlocking() {
		if s.reachableFromLocked(dep.Blocker, dep.Blocked) {
			return core.NewError(core.ErrCycleDetected, "adding %s -> %s as %s would close a cycle", dep.Blocked, dep.Blocker, dep.Type)
		}
	}

	key := dep.Key()
	if _, exists := s.deps[key]; exists {
		return nil // idempotent re-insertion of the same triple
	}
	dep.EncodeMetadata()
	s.deps[key] = dep
	s.appendEvent(dep.Blocked, core.EventUpdate, dep.CreatedBy,
		map[string]interface{}{"addDependency": string(dep.Blocker), "type": string(dep.Type)}, "")
	return nil
}

// reachableFromLocked performs a DFS over blocking edges starting at
// start, reporting whether target is reachable.
// Callers must hold s.mu.
func (s *Store) reachableFromLocked(start, target core.ElementID) bool {
	visited := map[core.ElementID]bool{}
	stack := []core.ElementID{start}
	for len(stack) > 0 {
		n := len(stack) - 1
		cur := stack[n]
		stack = stack[:n]
		if cur == target {
			return true
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true
		for key := range s.deps {
			if key.Blocked != cur {
				continue
			}
			if key.Type != core.DepBlocks && key.Type != core.DepParentChild && key.Type != core.DepAwaits {
				continue
			}
			stack = append(stack, key.Blocker)
		}
	}
	return false
}

func (s *Store) RemoveDependency(ctx context.Context, key core.DependencyKey, actor core.EntityID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.deps, key)
	s.appendEvent(key.Blocked, core.EventUpdate, actor,
		map[string]interface{}{"removeDependency": string(key.Blocker), "type": string(key.Type)}, "")
	return nil
}

func (s *Store) Outgoing(ctx context.Context, id core.ElementID) ([]core.Dependency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Dependency
	for key, d := range s.deps {
		if key.Blocked == id {
			cp := d
			if err := cp.DecodeMetadata(); err != nil {
				return nil, err
			}
			out = append(out, cp)
		}
	}
	return out, nil
}

func (s *Store) Incoming(ctx context.Context, id core.ElementID) ([]core.Dependency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Dependency
	for key, d := range s.deps {
		if key.Blocker == id {
			cp := d
			if err := cp.DecodeMetadata(); err != nil {
				return nil, err
			}
			out = append(out, cp)
		}
	}
	return out, nil
}

// ListDependencies returns every edge of the given type.
func (s *Store) ListDependencies(ctx context.Context, depType core.DependencyType) ([]core.Dependency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Dependency
	for key, d := range s.deps {
		if key.Type == depType {
			cp := d
			if err := cp.DecodeMetadata(); err != nil {
				return nil, err
			}
			out = append(out, cp)
		}
	}
	return out, nil
}

// AllDependencies returns every edge of every type, for full export.
func (s *Store) AllDependencies(ctx context.Context) ([]core.Dependency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Dependency, 0, len(s.deps))
	for _, d := range s.deps {
		cp := d
		if err := cp.DecodeMetadata(); err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

func (s *Store) AllBlockingEdges(ctx context.Context) ([]core.Dependency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Dependency
	for key, d := range s.deps {
		if key.Type.IsBlocking() {
			cp := d
			if err := cp.DecodeMetadata(); err != nil {
				return nil, err
			}
			out = append(out, cp)
		}
	}
	return out, nil
}

// --- Readiness -------------------------------------------------------------

func (s *Store) awaitsBlocking(id core.ElementID) (core.ElementID, bool) {
	for key, d := range s.deps {
		if key.Blocked != id || key.Type != core.DepAwaits {
			continue
		}
		cp := d
		_ = cp.DecodeMetadata()
		if !cp.Gate.Satisfied(time.Now().UTC()) {
			return key.Blocker, true
		}
	}
	return "", false
}

func (s *Store) blockedByLocked(id core.ElementID) (core.ElementID, core.DependencyType, bool) {
	for key, d := range s.deps {
		if key.Blocked != id {
			continue
		}
		switch key.Type {
		case core.DepAwaits:
			cp := d
			_ = cp.DecodeMetadata()
			if !cp.Gate.Satisfied(time.Now().UTC()) {
				return key.Blocker, core.DepAwaits, true
			}
		case core.DepBlocks:
			if s.blockerOpenLocked(key.Blocker) {
				return key.Blocker, key.Type, true
			}
		case core.DepParentChild:
			// Blocking propagates through parent-child hierarchy: a child
			// whose parent is itself blocked is blocked too, bounded to the
			// same depth the sqlite recursive view applies.
			if s.blockedTransitivelyLocked(key.Blocker, map[core.ElementID]bool{}, 0) {
				return key.Blocker, key.Type, true
			}
		}
	}
	return "", "", false
}

// blockerOpenLocked reports whether blocker is an unsatisfied blocks-edge
// target: a non-tombstoned task not yet closed, or any other extant
// non-tombstoned element (which blocks until explicitly resolved).
func (s *Store) blockerOpenLocked(blocker core.ElementID) bool {
	if blockerTask, ok := s.tasks[core.TaskID(blocker)]; ok {
		return !blockerTask.Tombstone && blockerTask.Status != core.StatusClosed
	}
	if blockerDoc, ok := s.documents[core.DocumentID(blocker)]; ok {
		return !blockerDoc.Tombstone
	}
	return s.elementExists(blocker)
}

const maxPropagationDepth = 50

// blockedTransitivelyLocked reports whether id is blocked via a blocks
// edge, directly or through a chain of parent-child edges, up to
// maxPropagationDepth levels. Callers must hold s.mu.
func (s *Store) blockedTransitivelyLocked(id core.ElementID, visited map[core.ElementID]bool, depth int) bool {
	if depth >= maxPropagationDepth || visited[id] {
		return false
	}
	visited[id] = true
	for key := range s.deps {
		if key.Blocked != id {
			continue
		}
		switch key.Type {
		case core.DepBlocks:
			if s.blockerOpenLocked(key.Blocker) {
				return true
			}
		case core.DepParentChild:
			if s.blockedTransitivelyLocked(key.Blocker, visited, depth+1) {
				return true
			}
		}
	}
	return false
}

func (s *Store) GetReadyTasks(ctx context.Context, filter store.TaskFilter) ([]*core.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now().UTC()
	var out []*core.Task
	for _, t := range s.tasks {
		if t.Tombstone || (t.Status != core.StatusOpen && t.Status != core.StatusInProgress) {
			continue
		}
		if !t.EffectiveScheduledFor(now) {
			continue
		}
		if filter.Assignee != nil && (t.Assignee == nil || *t.Assignee != *filter.Assignee) {
			continue
		}
		if len(filter.TaskType) > 0 && !containsTaskType(filter.TaskType, t.TaskType) {
			continue
		}
		if _, blocked := s.awaitsBlocking(t.ID); blocked {
			continue
		}
		if _, _, blocked := s.blockedByLocked(t.ID); blocked {
			continue
		}
		cp := *t
		cp.Tags = cloneTags(t.Tags)
		cp.Metadata = cloneMeta(t.Metadata)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) GetBlockedTasks(ctx context.Context, filter store.TaskFilter) ([]store.BlockedTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now().UTC()
	var out []store.BlockedTask
	for _, t := range s.tasks {
		if t.Tombstone || (t.Status != core.StatusOpen && t.Status != core.StatusInProgress) {
			continue
		}
		if !t.EffectiveScheduledFor(now) {
			continue
		}
		if filter.Assignee != nil && (t.Assignee == nil || *t.Assignee != *filter.Assignee) {
			continue
		}
		blockerID, blockerType, blocked := s.blockedByLocked(t.ID)
		if !blocked {
			continue
		}
		cp := *t
		cp.Tags = cloneTags(t.Tags)
		cp.Metadata = cloneMeta(t.Metadata)
		out = append(out, store.BlockedTask{Task: &cp, BlockerID: blockerID, BlockerType: blockerType})
	}
	return out, nil
}

// --- Events & dirty tracking ---------------------------------------------

func (s *Store) GetEvents(ctx context.Context, id core.ElementID, limit int) ([]*core.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	evs := s.events[id]
	if len(evs) > limit {
		evs = evs[len(evs)-limit:]
	}
	out := make([]*core.Event, len(evs))
	for i, e := range evs {
		out[i] = cloneEvent(e)
	}
	return out, nil
}

func (s *Store) GetDirtyElements(ctx context.Context) ([]core.ElementID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.ElementID, 0, len(s.dirty))
	for id := range s.dirty {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *Store) ClearDirtyElements(ctx context.Context, ids []core.ElementID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.dirty, id)
	}
	return nil
}

func (s *Store) GetExportHash(ctx context.Context, id core.ElementID) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exportHashes[id], nil
}

func (s *Store) SetExportHash(ctx context.Context, id core.ElementID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exportHashes[id] = hash
	return nil
}

func (s *Store) ClearAllExportHashes(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exportHashes = make(map[core.ElementID]string)
	return nil
}

// --- Config & metadata -----------------------------------------------------

func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config[key] = value
	return nil
}

func (s *Store) GetConfig(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.config[key]
	if !ok {
		return "", core.NewError(core.ErrNotFound, "config key %s not found", key)
	}
	return v, nil
}

func (s *Store) DeleteConfig(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.config, key)
	return nil
}

func (s *Store) GetAllConfig(ctx context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.config))
	for k, v := range s.config {
		out[k] = v
	}
	return out, nil
}

func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[key] = value
	return nil
}

func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.metadata[key]
	if !ok {
		return "", core.NewError(core.ErrNotFound, "metadata key %s not found", key)
	}
	return v, nil
}

// --- Transactions ------------------------------------------------------

// memTx adapts Store to store.Transaction by delegating straight back to
// the receiver's own methods, each of which locks and applies on its own.
type memTx struct{ s *Store }

func (t *memTx) CreateTask(ctx context.Context, task *core.Task, actor core.EntityID) error {
	return t.s.CreateTask(ctx, task, actor)
}
func (t *memTx) UpdateTask(ctx context.Context, id core.TaskID, patch map[string]interface{}, opts store.UpdateOptions) error {
	return t.s.UpdateTask(ctx, id, patch, opts)
}
func (t *memTx) DeleteTask(ctx context.Context, id core.TaskID, reason string, actor core.EntityID) error {
	return t.s.DeleteTask(ctx, id, reason, actor)
}
func (t *memTx) GetTask(ctx context.Context, id core.TaskID) (*core.Task, error) {
	return t.s.GetTask(ctx, id)
}
func (t *memTx) AddDependency(ctx context.Context, dep core.Dependency) error {
	return t.s.AddDependency(ctx, dep)
}
func (t *memTx) RemoveDependency(ctx context.Context, key core.DependencyKey, actor core.EntityID) error {
	return t.s.RemoveDependency(ctx, key, actor)
}
func (t *memTx) SetConfig(ctx context.Context, key, value string) error {
	return t.s.SetConfig(ctx, key, value)
}
func (t *memTx) GetConfig(ctx context.Context, key string) (string, error) {
	return t.s.GetConfig(ctx, key)
}

// RunInTransaction calls fn with a Transaction that delegates to the
// store's own methods. It takes no lock of its own and keeps no undo
// log: other callers' writes may interleave with fn's calls, and calls
// fn already made stay applied when fn returns an error.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx store.Transaction) error) error {
	return fn(&memTx{s: s})
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, _ := json.Marshal(v)
	return strings.Trim(string(b), `"`)
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
