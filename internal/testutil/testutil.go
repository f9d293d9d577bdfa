// Package testutil provides in-memory collaborators for pipeline tests.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/starford/wigen/internal/apperr"
	"github.com/starford/wigen/internal/models"
)

// Clock returns a clock function that always reports t.
func Clock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// MemoryStore is a kvstore.Store backed by a map.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
	// Writes records every Put in order as "key=value".
	Writes []string
	// PutErr, when set, is returned by Put.
	PutErr error
}

// NewMemoryStore returns a store seeded with the given key/value pairs.
func NewMemoryStore(seed map[string]string) *MemoryStore {
	m := &MemoryStore{values: map[string]string{}}
	for k, v := range seed {
		m.values[k] = v
	}
	return m
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return "", apperr.ErrNotFound
	}
	return v, nil
}

func (m *MemoryStore) Put(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PutErr != nil {
		return m.PutErr
	}
	m.values[key] = value
	m.Writes = append(m.Writes, key+"="+value)
	return nil
}

// Value returns the stored value for key or "".
func (m *MemoryStore) Value(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key]
}

// LinkCall records one AddHierarchicalLink call.
type LinkCall struct {
	ChildID  int
	ParentID int
	Comment  string
}

// CreateCall records one CreateItem call.
type CreateCall struct {
	Project string
	Payload models.Payload
}

// Tracker is an in-memory tracking system. New items receive sequential IDs.
type Tracker struct {
	mu sync.Mutex

	Items  map[int]*models.Item
	NextID int
	// TaskField is the patch path read as the task tag on CreateItem.
	TaskField string

	Creates []CreateCall
	Links   []LinkCall
	Gets    []int

	GetErr    map[int]error
	CreateErr error
	LinkErr   error
}

// NewTracker returns a Tracker that assigns IDs from nextID.
func NewTracker(nextID int) *Tracker {
	return &Tracker{
		Items:     map[int]*models.Item{},
		NextID:    nextID,
		TaskField: "/fields/GTSKanban.TASK",
		GetErr:    map[int]error{},
	}
}

// Put stores an item directly.
func (f *Tracker) Put(item models.Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it := item
	f.Items[item.ID] = &it
	if item.ID >= f.NextID {
		f.NextID = item.ID + 1
	}
}

func (f *Tracker) GetItem(ctx context.Context, id int, _ bool) (*models.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Gets = append(f.Gets, id)
	if err, ok := f.GetErr[id]; ok {
		return nil, err
	}
	it, ok := f.Items[id]
	if !ok {
		return nil, fmt.Errorf("work item %d: %w", id, apperr.ErrNotFound)
	}
	cp := *it
	cp.Relations = append([]models.Relation(nil), it.Relations...)
	return &cp, nil
}

func (f *Tracker) CreateItem(ctx context.Context, project string, payload models.Payload) (*models.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Creates = append(f.Creates, CreateCall{Project: project, Payload: payload})
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	it := &models.Item{ID: f.NextID, Type: payload.TypeName}
	f.NextID++
	if v, ok := payload.Value("/fields/System.Title"); ok {
		it.Title, _ = v.(string)
	}
	if v, ok := payload.Value(f.TaskField); ok {
		it.TaskTag, _ = v.(string)
		it.HasTaskTag = true
	}
	f.Items[it.ID] = it
	cp := *it
	return &cp, nil
}

func (f *Tracker) AddHierarchicalLink(ctx context.Context, childID, parentID int, comment string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.LinkErr != nil {
		return f.LinkErr
	}
	child, ok := f.Items[childID]
	if !ok {
		return fmt.Errorf("work item %d: %w", childID, apperr.ErrNotFound)
	}
	child.Relations = append(child.Relations, models.Relation{
		Rel:      models.ParentRelation,
		URL:      "https://dev.example/_apis/wit/workItems/" + strconv.Itoa(parentID),
		TargetID: parentID,
	})
	f.Links = append(f.Links, LinkCall{ChildID: childID, ParentID: parentID, Comment: comment})
	return nil
}

// Message is one message held by Mailbox.
type Message struct {
	ID   string
	From string
	Date time.Time
	Raw  []byte
}

// Mailbox is an in-memory mailbox.
type Mailbox struct {
	mu       sync.Mutex
	messages []*Message
	deleted  map[string]bool

	// Extra IDs appended to every search result, e.g. blanks or duplicates.
	Extra []string

	Searches []models.SearchCriteria
	Fetched  []string
	Copied   map[string][]string // archive path -> ids
	Purges   int
	Closed   bool

	SearchErr error
	FetchErr  map[string]error
	CopyErr   error
	// OnCopy runs after each successful Copy.
	OnCopy func(id string)
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{
		deleted:  map[string]bool{},
		Copied:   map[string][]string{},
		FetchErr: map[string]error{},
	}
}

// Add stores a message.
func (m *Mailbox) Add(msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := msg
	m.messages = append(m.messages, &cp)
}

// IDs returns the IDs of messages still in the mailbox, sorted.
func (m *Mailbox) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, msg := range m.messages {
		out = append(out, msg.ID)
	}
	sort.Strings(out)
	return out
}

func (m *Mailbox) Search(_ context.Context, c models.SearchCriteria) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Searches = append(m.Searches, c)
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}
	y, mo, d := c.On.Date()
	var out []string
	for _, msg := range m.messages {
		my, mm, md := msg.Date.In(c.On.Location()).Date()
		if my != y || mm != mo || md != d {
			continue
		}
		if !strings.Contains(strings.ToLower(msg.From), strings.ToLower(c.From)) {
			continue
		}
		out = append(out, msg.ID)
	}
	return append(out, m.Extra...), nil
}

func (m *Mailbox) Fetch(_ context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Fetched = append(m.Fetched, id)
	if err, ok := m.FetchErr[id]; ok {
		return nil, err
	}
	for _, msg := range m.messages {
		if msg.ID == id {
			return msg.Raw, nil
		}
	}
	return nil, fmt.Errorf("message %s: %w", id, apperr.ErrNotFound)
}

func (m *Mailbox) Copy(_ context.Context, id, dest string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CopyErr != nil {
		return m.CopyErr
	}
	m.Copied[dest] = append(m.Copied[dest], id)
	if m.OnCopy != nil {
		m.OnCopy(id)
	}
	return nil
}

func (m *Mailbox) MarkDeleted(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted[id] = true
	return nil
}

func (m *Mailbox) Purge(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Purges++
	kept := m.messages[:0]
	for _, msg := range m.messages {
		if !m.deleted[msg.ID] {
			kept = append(kept, msg)
		}
	}
	m.messages = kept
	m.deleted = map[string]bool{}
	return nil
}

func (m *Mailbox) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// Notifier records sent emails.
type Notifier struct {
	mu   sync.Mutex
	Sent []models.Email
	Err  error
}

func (n *Notifier) Send(_ context.Context, e models.Email) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return n.Err
	}
	n.Sent = append(n.Sent, e)
	return nil
}

// ErrTransport is a generic injected failure.
var ErrTransport = errors.New("transport failure")
