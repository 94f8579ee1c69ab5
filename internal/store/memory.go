package store

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gurkanbulca/taskboard/internal/models"
)

// MemoryBackend is an in-process task backend shared by any number of
// MemoryStore clients. Each client has its own signed-in identity, so writes
// from one client show up in the subscriptions of another.
type MemoryBackend struct {
	mu    sync.Mutex
	tasks map[string]map[string]models.Task // user id -> task id -> task
	subs  map[string]map[int]*memorySub
	seq   int

	// deliverMu serializes snapshot delivery so subscribers see snapshots in
	// commit order.
	deliverMu sync.Mutex

	now   func() time.Time
	newID func() string
}

// MemoryOption configures a MemoryBackend.
type MemoryOption func(*MemoryBackend)

// WithClock overrides the time source used for creation timestamps.
func WithClock(now func() time.Time) MemoryOption {
	return func(b *MemoryBackend) { b.now = now }
}

// WithIDGenerator overrides the id generator used for new tasks.
func WithIDGenerator(newID func() string) MemoryOption {
	return func(b *MemoryBackend) { b.newID = newID }
}

// NewMemoryBackend creates an empty backend.
func NewMemoryBackend(opts ...MemoryOption) *MemoryBackend {
	b := &MemoryBackend{
		tasks: make(map[string]map[string]models.Task),
		subs:  make(map[string]map[int]*memorySub),
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Client returns a new client handle with no identity signed in.
func (b *MemoryBackend) Client() *MemoryStore {
	return &MemoryStore{backend: b}
}

// NewMemoryStore is shorthand for a client of a fresh backend.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	return NewMemoryBackend(opts...).Client()
}

func (b *MemoryBackend) snapshotLocked(userID string) []models.Task {
	out := make([]models.Task, 0, len(b.tasks[userID]))
	for _, t := range b.tasks[userID] {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, c models.Task) int {
		if n := c.CreatedAt.Compare(a.CreatedAt); n != 0 {
			return n
		}
		return cmp.Compare(a.ID, c.ID)
	})
	return out
}

// publish pushes the current snapshot to every live subscriber of userID.
func (b *MemoryBackend) publish(userID string) {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()

	b.mu.Lock()
	snapshot := b.snapshotLocked(userID)
	subs := make([]*memorySub, 0, len(b.subs[userID]))
	for _, s := range b.subs[userID] {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	slices.SortFunc(subs, func(a, c *memorySub) int { return cmp.Compare(a.id, c.id) })
	for _, s := range subs {
		s.deliver(slices.Clone(snapshot))
	}
}

type memorySub struct {
	id     int
	mu     sync.Mutex
	closed bool
	fn     SnapshotFunc
}

func (s *memorySub) deliver(tasks []models.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.fn(tasks)
}

// MemoryStore is a TaskStore backed by a MemoryBackend.
type MemoryStore struct {
	backend *MemoryBackend

	mu     sync.RWMutex
	userID string
}

var _ TaskStore = (*MemoryStore)(nil)

// SignIn sets the identity used by subsequent calls.
func (s *MemoryStore) SignIn(userID string) {
	s.mu.Lock()
	s.userID = userID
	s.mu.Unlock()
}

// SignOut clears the identity.
func (s *MemoryStore) SignOut() {
	s.SignIn("")
}

// CurrentUserID returns the signed-in identity, if any.
func (s *MemoryStore) CurrentUserID() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID, s.userID != ""
}

func (s *MemoryStore) GetTasks(ctx context.Context) []models.Task {
	userID, ok := s.CurrentUserID()
	if !ok {
		return []models.Task{}
	}
	b := s.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked(userID)
}

func (s *MemoryStore) SubscribeToTasks(ctx context.Context, fn SnapshotFunc) Unsubscribe {
	userID, ok := s.CurrentUserID()
	if !ok {
		fn([]models.Task{})
		return func() {}
	}

	b := s.backend
	b.deliverMu.Lock()
	b.mu.Lock()
	b.seq++
	sub := &memorySub{id: b.seq, fn: fn}
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[int]*memorySub)
	}
	b.subs[userID][sub.id] = sub
	snapshot := b.snapshotLocked(userID)
	b.mu.Unlock()
	sub.deliver(snapshot)
	b.deliverMu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			sub.mu.Lock()
			sub.closed = true
			sub.mu.Unlock()

			b.mu.Lock()
			delete(b.subs[userID], sub.id)
			b.mu.Unlock()
		})
	}
	if ctx != nil {
		context.AfterFunc(ctx, unsubscribe)
	}
	return unsubscribe
}

func (s *MemoryStore) AddTask(ctx context.Context, task models.Task) (models.Task, error) {
	userID, ok := s.CurrentUserID()
	if !ok {
		return models.Task{}, ErrUnauthenticated
	}

	b := s.backend
	b.mu.Lock()
	if task.ID == "" {
		task.ID = b.newID()
		task.CreatedAt = b.now()
	} else if task.CreatedAt.IsZero() {
		task.CreatedAt = b.now()
	}
	if b.tasks[userID] == nil {
		b.tasks[userID] = make(map[string]models.Task)
	}
	b.tasks[userID][task.ID] = task
	b.mu.Unlock()

	b.publish(userID)
	return task, nil
}

func (s *MemoryStore) UpdateTask(ctx context.Context, task models.Task) (models.Task, error) {
	userID, ok := s.CurrentUserID()
	if !ok {
		return models.Task{}, ErrUnauthenticated
	}

	b := s.backend
	b.mu.Lock()
	existing, found := b.tasks[userID][task.ID]
	if !found {
		b.mu.Unlock()
		return models.Task{}, ErrNotFound
	}
	existing.Title = task.Title
	existing.Description = task.Description
	existing.Completed = task.Completed
	existing.DueDate = task.DueDate
	existing.DueTime = task.DueTime
	existing.Priority = task.Priority
	b.tasks[userID][task.ID] = existing
	b.mu.Unlock()

	b.publish(userID)
	return existing, nil
}

func (s *MemoryStore) DeleteTask(ctx context.Context, id string) error {
	userID, ok := s.CurrentUserID()
	if !ok {
		return ErrUnauthenticated
	}

	b := s.backend
	b.mu.Lock()
	delete(b.tasks[userID], id)
	b.mu.Unlock()

	b.publish(userID)
	return nil
}

func (s *MemoryStore) GetTask(ctx context.Context, id string) (models.Task, bool) {
	userID, ok := s.CurrentUserID()
	if !ok {
		return models.Task{}, false
	}
	b := s.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	t, found := b.tasks[userID][id]
	return t, found
}
