// Package view holds the client-side task list state: the latest snapshot
// pushed by the store, the chosen ordering, and the short-lived undo buffer
// for deleted tasks.
package view

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gurkanbulca/taskboard/internal/models"
	"github.com/gurkanbulca/taskboard/internal/store"
)

// DefaultUndoWindow is how long a deleted task can be restored.
const DefaultUndoWindow = 10 * time.Second

// ErrUndoUnavailable is returned when the task was not deleted recently or
// its undo window has passed.
var ErrUndoUnavailable = errors.New("nothing to undo for this task")

// State of the list for the current identity.
type State int

const (
	StateUnauthenticated State = iota
	StateLoading
	StateReady
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return "unauthenticated"
	}
}

// Snapshot is an immutable copy of the list as it should be rendered.
type Snapshot struct {
	State     State
	UserID    string
	SortBy    models.SortOption
	Direction models.SortDirection
	// Tasks is the full set in display order.
	Tasks []models.Task
}

// Pending returns the not-yet-completed tasks in display order.
func (s Snapshot) Pending() []models.Task {
	pending, _ := models.Partition(s.Tasks)
	return pending
}

// Completed returns the completed tasks in display order.
func (s Snapshot) Completed() []models.Task {
	_, completed := models.Partition(s.Tasks)
	return completed
}

type deletedTask struct {
	task    models.Task
	expires time.Time
}

// Option configures a TaskList.
type Option func(*TaskList)

// WithNotifier sets where user-visible notices go.
func WithNotifier(n Notifier) Option {
	return func(l *TaskList) { l.notifier = n }
}

// WithUndoWindow overrides DefaultUndoWindow.
func WithUndoWindow(d time.Duration) Option {
	return func(l *TaskList) { l.undoWindow = d }
}

// WithClock overrides the time source for undo expiry.
func WithClock(now func() time.Time) Option {
	return func(l *TaskList) { l.now = now }
}

// WithLogger sets the logger for failures that are also shown as notices.
func WithLogger(log zerolog.Logger) Option {
	return func(l *TaskList) { l.log = log }
}

// TaskList keeps the authoritative task slice for one signed-in identity.
// The slice is replaced wholesale by every subscription snapshot; mutations
// go to the store and show up once the store pushes the next snapshot.
type TaskList struct {
	store      store.TaskStore
	notifier   Notifier
	undoWindow time.Duration
	now        func() time.Time
	log        zerolog.Logger

	// deliverMu orders OnChange deliveries. It is taken before mu.
	deliverMu sync.Mutex

	mu          sync.Mutex
	state       State
	userID      string
	generation  uint64
	unsubscribe store.Unsubscribe
	tasks       []models.Task
	sortBy      models.SortOption
	direction   models.SortDirection
	deleted     map[string]deletedTask
	listeners   map[int]func(Snapshot)
	nextID      int
}

// New creates a signed-out list that reads and writes through s.
func New(s store.TaskStore, opts ...Option) *TaskList {
	l := &TaskList{
		store:      s,
		notifier:   discardNotifier{},
		undoWindow: DefaultUndoWindow,
		now:        time.Now,
		log:        zerolog.Nop(),
		sortBy:     models.SortByDateAdded,
		direction:  models.SortDesc,
		deleted:    make(map[string]deletedTask),
		listeners:  make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SignedIn moves to Loading for userID and subscribes to its tasks. Any
// previous subscription is torn down first. Calling it again for the
// identity that is already active does nothing.
func (l *TaskList) SignedIn(ctx context.Context, userID string) {
	l.mu.Lock()
	if l.state != StateUnauthenticated && l.userID == userID {
		l.mu.Unlock()
		return
	}
	previous := l.unsubscribe
	l.generation++
	gen := l.generation
	l.userID = userID
	l.state = StateLoading
	l.tasks = nil
	l.unsubscribe = nil
	clear(l.deleted)
	l.mu.Unlock()

	if previous != nil {
		previous()
	}
	l.emit()

	unsubscribe := l.store.SubscribeToTasks(ctx, func(tasks []models.Task) {
		l.receive(gen, tasks)
	})

	l.mu.Lock()
	if l.generation != gen {
		// Signed out or switched identity while subscribing.
		l.mu.Unlock()
		unsubscribe()
		return
	}
	l.unsubscribe = unsubscribe
	l.mu.Unlock()
}

// SignedOut returns to Unauthenticated and releases the subscription.
func (l *TaskList) SignedOut() {
	l.mu.Lock()
	if l.state == StateUnauthenticated {
		l.mu.Unlock()
		return
	}
	previous := l.unsubscribe
	l.generation++
	l.userID = ""
	l.state = StateUnauthenticated
	l.tasks = nil
	l.unsubscribe = nil
	clear(l.deleted)
	l.mu.Unlock()

	if previous != nil {
		previous()
	}
	l.emit()
}

func (l *TaskList) receive(gen uint64, tasks []models.Task) {
	l.mu.Lock()
	if gen != l.generation {
		l.mu.Unlock()
		return
	}
	l.tasks = slices.Clone(tasks)
	l.state = StateReady
	l.mu.Unlock()

	l.emit()
}

// SetSort changes the ordering key.
func (l *TaskList) SetSort(by models.SortOption) {
	l.mu.Lock()
	l.sortBy = by
	l.mu.Unlock()
	l.emit()
}

// SetDirection changes the ordering direction.
func (l *TaskList) SetDirection(dir models.SortDirection) {
	l.mu.Lock()
	l.direction = dir
	l.mu.Unlock()
	l.emit()
}

// ToggleDirection flips between asc and desc.
func (l *TaskList) ToggleDirection() {
	l.mu.Lock()
	l.direction = l.direction.Toggle()
	l.mu.Unlock()
	l.emit()
}

// State returns the current state.
func (l *TaskList) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Snapshot returns the current list in display order.
func (l *TaskList) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *TaskList) snapshotLocked() Snapshot {
	return Snapshot{
		State:     l.state,
		UserID:    l.userID,
		SortBy:    l.sortBy,
		Direction: l.direction,
		Tasks:     models.SortTasks(l.tasks, l.sortBy, l.direction),
	}
}

// OnChange registers fn to be called with a fresh snapshot after every
// state, data or ordering change. The returned func removes it. Listeners
// are called one snapshot at a time in the order the snapshots were taken;
// they may read the list but must not change it or sign it in or out.
func (l *TaskList) OnChange(fn func(Snapshot)) func() {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.listeners[id] = fn
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.listeners, id)
		l.mu.Unlock()
	}
}

func (l *TaskList) emit() {
	l.deliverMu.Lock()
	defer l.deliverMu.Unlock()

	l.mu.Lock()
	snap := l.snapshotLocked()
	fns := make([]func(Snapshot), 0, len(l.listeners))
	for _, fn := range l.listeners {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// Find returns the task with id from the current snapshot.
func (l *TaskList) Find(id string) (models.Task, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.findLocked(id)
}

func (l *TaskList) findLocked(id string) (models.Task, bool) {
	for _, t := range l.tasks {
		if t.ID == id {
			return t, true
		}
	}
	return models.Task{}, false
}

// Add validates the draft and creates the task. Validation failures are
// returned without reaching the store.
func (l *TaskList) Add(ctx context.Context, d models.Draft) (models.Task, error) {
	task, err := d.Normalize()
	if err != nil {
		return models.Task{}, err
	}

	created, err := l.store.AddTask(ctx, task)
	if err != nil {
		l.log.Error().Err(err).Msg("Error adding task")
		l.notifier.Notify(Notice{Kind: NoticeError, Title: "Failed to add task"})
		return models.Task{}, fmt.Errorf("add task: %w", err)
	}
	return created, nil
}

// Update normalizes the edited task and sends it to the store.
func (l *TaskList) Update(ctx context.Context, task models.Task) error {
	task, err := task.Normalized()
	if err != nil {
		return err
	}
	if _, err := l.store.UpdateTask(ctx, task); err != nil {
		l.log.Error().Err(err).Str("task_id", task.ID).Msg("Error updating task")
		l.notifier.Notify(Notice{Kind: NoticeError, Title: "Failed to update task"})
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

// Edit applies a draft to the task with id, keeping its id, completion and
// creation time.
func (l *TaskList) Edit(ctx context.Context, id string, d models.Draft) error {
	current, ok := l.Find(id)
	if !ok {
		return store.ErrNotFound
	}
	edited, err := d.Normalize()
	if err != nil {
		return err
	}
	edited.ID = current.ID
	edited.Completed = current.Completed
	edited.CreatedAt = current.CreatedAt
	return l.Update(ctx, edited)
}

// ToggleCompleted flips the completion flag of the task with id.
func (l *TaskList) ToggleCompleted(ctx context.Context, id string) error {
	current, ok := l.Find(id)
	if !ok {
		return store.ErrNotFound
	}
	current.Completed = !current.Completed
	return l.Update(ctx, current)
}

// Delete removes the task with id and keeps a copy for Undo until the undo
// window passes.
func (l *TaskList) Delete(ctx context.Context, id string) error {
	task, ok := l.Find(id)
	if !ok {
		l.log.Warn().Str("task_id", id).Msg("Task not found")
		return store.ErrNotFound
	}

	if err := l.store.DeleteTask(ctx, id); err != nil {
		l.log.Error().Err(err).Str("task_id", id).Msg("Error deleting task")
		l.notifier.Notify(Notice{Kind: NoticeError, Title: "Failed to delete task"})
		return fmt.Errorf("delete task: %w", err)
	}

	l.mu.Lock()
	l.pruneLocked()
	l.deleted[id] = deletedTask{task: task, expires: l.now().Add(l.undoWindow)}
	l.mu.Unlock()

	l.notifier.Notify(Notice{
		Kind:        NoticeInfo,
		Title:       "Task deleted",
		Description: fmt.Sprintf("%q has been removed", task.Title),
		UndoID:      id,
	})
	return nil
}

// Undo re-adds a task deleted within the undo window, keeping its original
// id and creation time. If the store rejects it the copy stays available
// until the window closes.
func (l *TaskList) Undo(ctx context.Context, id string) error {
	l.mu.Lock()
	l.pruneLocked()
	d, ok := l.deleted[id]
	if ok {
		delete(l.deleted, id)
	}
	l.mu.Unlock()

	if !ok {
		return ErrUndoUnavailable
	}

	if _, err := l.store.AddTask(ctx, d.task); err != nil {
		l.log.Error().Err(err).Str("task_id", id).Msg("Error restoring task")
		l.mu.Lock()
		if l.now().Before(d.expires) {
			l.deleted[id] = d
		}
		l.mu.Unlock()
		l.notifier.Notify(Notice{Kind: NoticeError, Title: "Failed to restore task"})
		return fmt.Errorf("restore task: %w", err)
	}

	l.notifier.Notify(Notice{Kind: NoticeSuccess, Title: "Task restored successfully"})
	return nil
}

// Undoable returns the deleted tasks that can still be restored.
func (l *TaskList) Undoable() []models.Task {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked()
	out := make([]models.Task, 0, len(l.deleted))
	for _, d := range l.deleted {
		out = append(out, d.task)
	}
	return out
}

func (l *TaskList) pruneLocked() {
	now := l.now()
	for id, d := range l.deleted {
		if !now.Before(d.expires) {
			delete(l.deleted, id)
		}
	}
}
