package view

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gurkanbulca/taskboard/internal/models"
	"github.com/gurkanbulca/taskboard/internal/store"
)

type noticeLog struct {
	mu      sync.Mutex
	notices []Notice
}

func (n *noticeLog) Notify(notice Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *noticeLog) last() Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.notices) == 0 {
		return Notice{}
	}
	return n.notices[len(n.notices)-1]
}

// flakyStore fails mutating calls while failing is set.
type flakyStore struct {
	*store.MemoryStore
	failing bool
}

var errBackendDown = &store.BackendError{Op: "test", Err: errors.New("backend down")}

func (f *flakyStore) AddTask(ctx context.Context, t models.Task) (models.Task, error) {
	if f.failing {
		return models.Task{}, errBackendDown
	}
	return f.MemoryStore.AddTask(ctx, t)
}

func (f *flakyStore) UpdateTask(ctx context.Context, t models.Task) (models.Task, error) {
	if f.failing {
		return models.Task{}, errBackendDown
	}
	return f.MemoryStore.UpdateTask(ctx, t)
}

func (f *flakyStore) DeleteTask(ctx context.Context, id string) error {
	if f.failing {
		return errBackendDown
	}
	return f.MemoryStore.DeleteTask(ctx, id)
}

type fixture struct {
	store   *flakyStore
	list    *TaskList
	notices *noticeLog
	now     time.Time
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   &flakyStore{MemoryStore: store.NewMemoryStore()},
		notices: &noticeLog{},
		now:     time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.list = New(f.store,
		WithNotifier(f.notices),
		WithClock(func() time.Time { return f.now }),
	)
	return f
}

func (f *fixture) signIn(t *testing.T, userID string) {
	t.Helper()
	f.store.SignIn(userID)
	f.list.SignedIn(context.Background(), userID)
}

func draft(title, priority string) models.Draft {
	return models.Draft{Title: title, DueDate: "2025-05-10", DueTime: "09:00", Priority: priority}
}

func TestTaskList_StateMachine(t *testing.T) {
	f := newFixture(t)
	var states []State
	f.list.OnChange(func(s Snapshot) { states = append(states, s.State) })

	assert.Equal(t, StateUnauthenticated, f.list.State())

	f.signIn(t, "user-1")
	assert.Equal(t, StateReady, f.list.State())
	require.GreaterOrEqual(t, len(states), 2)
	assert.Equal(t, StateLoading, states[0])
	assert.Equal(t, StateReady, states[1])

	_, err := f.list.Add(context.Background(), draft("first", "high"))
	require.NoError(t, err)
	assert.Equal(t, StateReady, f.list.State())
	assert.Len(t, f.list.Snapshot().Tasks, 1)

	f.list.SignedOut()
	f.store.SignOut()
	assert.Equal(t, StateUnauthenticated, f.list.State())
	assert.Empty(t, f.list.Snapshot().Tasks)
}

func TestTaskList_LoadingUntilFirstSnapshot(t *testing.T) {
	// A store whose subscription never delivers keeps the list loading.
	list := New(silentStore{})
	list.SignedIn(context.Background(), "user-1")
	assert.Equal(t, StateLoading, list.State())
}

type silentStore struct{ store.TaskStore }

func (silentStore) SubscribeToTasks(context.Context, store.SnapshotFunc) store.Unsubscribe {
	return func() {}
}

func TestTaskList_SnapshotsReplaceWholesale(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, "user-1")
	ctx := context.Background()

	a, err := f.list.Add(ctx, draft("a", "low"))
	require.NoError(t, err)
	b, err := f.list.Add(ctx, draft("b", "high"))
	require.NoError(t, err)

	require.NoError(t, f.store.MemoryStore.DeleteTask(ctx, a.ID))

	snap := f.list.Snapshot()
	require.Len(t, snap.Tasks, 1)
	assert.Equal(t, b.ID, snap.Tasks[0].ID)
}

func TestTaskList_SortingAndGrouping(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, "user-1")
	ctx := context.Background()

	low, err := f.list.Add(ctx, draft("low", "low"))
	require.NoError(t, err)
	high, err := f.list.Add(ctx, draft("high", "high"))
	require.NoError(t, err)
	medium, err := f.list.Add(ctx, draft("medium", "medium"))
	require.NoError(t, err)

	require.NoError(t, f.list.ToggleCompleted(ctx, high.ID))

	f.list.SetSort(models.SortByPriority)
	f.list.SetDirection(models.SortAsc)
	snap := f.list.Snapshot()

	require.Len(t, snap.Tasks, 3)
	assert.Equal(t, []string{high.ID, medium.ID, low.ID}, []string{snap.Tasks[0].ID, snap.Tasks[1].ID, snap.Tasks[2].ID})

	pending := snap.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, medium.ID, pending[0].ID)
	assert.Equal(t, low.ID, pending[1].ID)

	completed := snap.Completed()
	require.Len(t, completed, 1)
	assert.Equal(t, high.ID, completed[0].ID)

	f.list.ToggleDirection()
	snap = f.list.Snapshot()
	assert.Equal(t, models.SortDesc, snap.Direction)
	assert.Equal(t, low.ID, snap.Tasks[0].ID)
}

func TestTaskList_AddRejectsInvalidDraft(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, "user-1")

	_, err := f.list.Add(context.Background(), models.Draft{Title: " "})
	require.Error(t, err)
	assert.True(t, models.IsValidationError(err))
	assert.Empty(t, f.store.GetTasks(context.Background()))
	assert.Empty(t, f.notices.notices)
}

func TestTaskList_MutationWhileSignedOut(t *testing.T) {
	f := newFixture(t)

	_, err := f.list.Add(context.Background(), draft("x", "low"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrUnauthenticated))
	assert.Equal(t, NoticeError, f.notices.last().Kind)
}

func TestTaskList_DeleteAndUndo(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, "user-1")
	ctx := context.Background()

	task, err := f.list.Add(ctx, draft("keep me", "medium"))
	require.NoError(t, err)

	require.NoError(t, f.list.Delete(ctx, task.ID))
	assert.Empty(t, f.list.Snapshot().Tasks)

	notice := f.notices.last()
	assert.Equal(t, "Task deleted", notice.Title)
	assert.Equal(t, task.ID, notice.UndoID)
	assert.Contains(t, notice.Description, "keep me")
	require.Len(t, f.list.Undoable(), 1)

	f.advance(9 * time.Second)
	require.NoError(t, f.list.Undo(ctx, task.ID))
	assert.Equal(t, "Task restored successfully", f.notices.last().Title)

	snap := f.list.Snapshot()
	require.Len(t, snap.Tasks, 1)
	assert.Equal(t, task.ID, snap.Tasks[0].ID)
	assert.Equal(t, task.CreatedAt, snap.Tasks[0].CreatedAt)

	// A second undo has nothing left to restore.
	assert.ErrorIs(t, f.list.Undo(ctx, task.ID), ErrUndoUnavailable)
}

func TestTaskList_UndoAfterWindow(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, "user-1")
	ctx := context.Background()

	task, err := f.list.Add(ctx, draft("gone", "low"))
	require.NoError(t, err)
	require.NoError(t, f.list.Delete(ctx, task.ID))

	f.advance(DefaultUndoWindow)
	assert.ErrorIs(t, f.list.Undo(ctx, task.ID), ErrUndoUnavailable)
	assert.Empty(t, f.list.Undoable())
	assert.Empty(t, f.list.Snapshot().Tasks)
}

func TestTaskList_FailedMutationsNotifyAndKeepState(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, "user-1")
	ctx := context.Background()

	task, err := f.list.Add(ctx, draft("stable", "medium"))
	require.NoError(t, err)
	before := f.list.Snapshot()

	f.store.failing = true

	err = f.list.ToggleCompleted(ctx, task.ID)
	require.Error(t, err)
	assert.True(t, store.IsBackendFailure(err))
	assert.Equal(t, "Failed to update task", f.notices.last().Title)

	err = f.list.Delete(ctx, task.ID)
	require.Error(t, err)
	assert.Equal(t, "Failed to delete task", f.notices.last().Title)
	assert.Empty(t, f.list.Undoable())

	assert.Equal(t, before, f.list.Snapshot())
}

func TestTaskList_FailedUndoCanBeRetried(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, "user-1")
	ctx := context.Background()

	task, err := f.list.Add(ctx, draft("retry", "high"))
	require.NoError(t, err)
	require.NoError(t, f.list.Delete(ctx, task.ID))

	f.store.failing = true
	require.Error(t, f.list.Undo(ctx, task.ID))
	assert.Equal(t, "Failed to restore task", f.notices.last().Title)

	f.store.failing = false
	require.NoError(t, f.list.Undo(ctx, task.ID))
	_, ok := f.list.Find(task.ID)
	assert.True(t, ok)
}

func TestTaskList_EditKeepsIdentity(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, "user-1")
	ctx := context.Background()

	task, err := f.list.Add(ctx, draft("old title", "low"))
	require.NoError(t, err)

	require.NoError(t, f.list.Edit(ctx, task.ID, draft("new title", "high")))

	edited, ok := f.list.Find(task.ID)
	require.True(t, ok)
	assert.Equal(t, "new title", edited.Title)
	assert.Equal(t, models.PriorityHigh, edited.Priority)
	assert.Equal(t, task.CreatedAt, edited.CreatedAt)

	assert.ErrorIs(t, f.list.Edit(ctx, "missing", draft("x", "low")), store.ErrNotFound)
}

func TestTaskList_UpdateStoresNormalizedTask(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, "user-1")
	ctx := context.Background()

	task, err := f.list.Add(ctx, draft("title", "low"))
	require.NoError(t, err)

	task.Title = "   padded   "
	task.Priority = ""
	task.Completed = true
	require.NoError(t, f.list.Update(ctx, task))

	stored, ok := f.store.GetTask(ctx, task.ID)
	require.True(t, ok)
	assert.Equal(t, "padded", stored.Title)
	assert.Equal(t, models.PriorityMedium, stored.Priority)
	assert.True(t, stored.Completed)
	assert.Equal(t, task.CreatedAt, stored.CreatedAt)

	task.Priority = "urgent"
	var verr *models.ValidationError
	require.ErrorAs(t, f.list.Update(ctx, task), &verr)
	stored, _ = f.store.GetTask(ctx, task.ID)
	assert.Equal(t, models.PriorityMedium, stored.Priority)
}

func TestTaskList_OnChangeDeliversInOrder(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, "user-1")

	entered := make(chan Snapshot, 2)
	release := make(chan struct{})
	stop := f.list.OnChange(func(s Snapshot) {
		entered <- s
		<-release
	})
	defer stop()

	go f.list.SetSort(models.SortByPriority)
	first := <-entered

	go f.list.SetDirection(models.SortAsc)
	select {
	case <-entered:
		t.Fatal("second snapshot delivered while the first was still being handled")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	var second Snapshot
	select {
	case second = <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for second snapshot")
	}
	assert.Equal(t, models.SortDesc, first.Direction)
	assert.Equal(t, models.SortByPriority, second.SortBy)
	assert.Equal(t, models.SortAsc, second.Direction)
}

func TestTaskList_IdentityChangeDropsOldSubscription(t *testing.T) {
	backend := store.NewMemoryBackend()
	client := backend.Client()
	writer := backend.Client()
	list := New(client)
	ctx := context.Background()

	client.SignIn("alice")
	list.SignedIn(ctx, "alice")

	client.SignIn("bob")
	list.SignedIn(ctx, "bob")

	writer.SignIn("alice")
	_, err := writer.AddTask(ctx, models.Task{Title: "alice only", DueDate: "2025-01-01", DueTime: "10:00", Priority: models.PriorityLow})
	require.NoError(t, err)

	snap := list.Snapshot()
	assert.Equal(t, "bob", snap.UserID)
	assert.Equal(t, StateReady, snap.State)
	assert.Empty(t, snap.Tasks)
}

func TestTaskList_SignedOutIgnoresLateSnapshots(t *testing.T) {
	backend := store.NewMemoryBackend()
	client := backend.Client()
	writer := backend.Client()
	list := New(client)
	ctx := context.Background()

	client.SignIn("alice")
	list.SignedIn(ctx, "alice")
	list.SignedOut()

	writer.SignIn("alice")
	_, err := writer.AddTask(ctx, models.Task{Title: "late", DueDate: "2025-01-01", DueTime: "10:00", Priority: models.PriorityLow})
	require.NoError(t, err)

	assert.Equal(t, StateUnauthenticated, list.State())
	assert.Empty(t, list.Snapshot().Tasks)
}
