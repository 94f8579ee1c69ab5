package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/gurkanbulca/taskboard/internal/database"
	"github.com/gurkanbulca/taskboard/internal/models"
)

var taskColumns = []string{
	"id", "user_id", "title", "description", "completed",
	"due_date", "due_time", "priority", "created_at", "updated_at",
}

type taskRow struct {
	ID          string    `db:"id"`
	UserID      string    `db:"user_id"`
	Title       string    `db:"title"`
	Description string    `db:"description"`
	Completed   bool      `db:"completed"`
	DueDate     string    `db:"due_date"`
	DueTime     string    `db:"due_time"`
	Priority    string    `db:"priority"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r taskRow) toModel() models.Task {
	return models.Task{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		Completed:   r.Completed,
		CreatedAt:   r.CreatedAt.UTC(),
		DueDate:     r.DueDate,
		DueTime:     r.DueTime,
		Priority:    models.Priority(r.Priority),
	}
}

// TaskRepository stores tasks per owner. Every method is scoped to userID;
// rows of other users are invisible.
type TaskRepository struct {
	db    *database.DB
	now   func() time.Time
	newID func() string
}

func NewTaskRepository(db *database.DB) *TaskRepository {
	return &TaskRepository{
		db:    db,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

func (r *TaskRepository) builder() *entsql.DialectBuilder {
	return entsql.Dialect(r.db.Dialect())
}

func (r *TaskRepository) selectTasks() *entsql.Selector {
	t := entsql.Table(database.TasksTable)
	return r.builder().Select(taskColumns...).From(t)
}

// ListByUser returns the tasks of userID, newest first.
func (r *TaskRepository) ListByUser(ctx context.Context, userID string) ([]models.Task, error) {
	sel := r.selectTasks()
	sel.Where(entsql.EQ(sel.C("user_id"), userID)).
		OrderBy(entsql.Desc(sel.C("created_at")), entsql.Asc(sel.C("id")))
	query, args := sel.Query()

	var rows []taskRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	tasks := make([]models.Task, len(rows))
	for i, row := range rows {
		tasks[i] = row.toModel()
	}
	return tasks, nil
}

// Get returns one task of userID.
func (r *TaskRepository) Get(ctx context.Context, userID, id string) (models.Task, error) {
	sel := r.selectTasks()
	sel.Where(entsql.And(
		entsql.EQ(sel.C("id"), id),
		entsql.EQ(sel.C("user_id"), userID),
	))
	query, args := sel.Query()

	var row taskRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Task{}, ErrNotFound
		}
		return models.Task{}, fmt.Errorf("get task: %w", err)
	}
	return row.toModel(), nil
}

// Create inserts a task with a fresh id and creation time.
func (r *TaskRepository) Create(ctx context.Context, userID string, task models.Task) (models.Task, error) {
	now := dbTime(r.now())
	task.ID = r.newID()
	task.CreatedAt = now

	query, args := r.builder().Insert(database.TasksTable).
		Columns(taskColumns...).
		Values(taskValues(userID, task, now)...).
		Query()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return models.Task{}, fmt.Errorf("create task: %w", err)
	}
	return task, nil
}

// Upsert writes task under its own id, keeping the supplied CreatedAt (now
// when zero). Writing the same task twice is a no-op. An id owned by another
// user is refused with ErrIDTaken.
func (r *TaskRepository) Upsert(ctx context.Context, userID string, task models.Task) (models.Task, error) {
	if task.ID == "" {
		return r.Create(ctx, userID, task)
	}
	now := dbTime(r.now())
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.CreatedAt = dbTime(task.CreatedAt)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Task{}, fmt.Errorf("begin transaction: %w", err)
	}

	sel := r.builder().Select("user_id").From(entsql.Table(database.TasksTable))
	sel.Where(entsql.EQ(sel.C("id"), task.ID))
	query, args := sel.Query()

	var owner string
	switch err := tx.GetContext(ctx, &owner, query, args...); {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return models.Task{}, rollback(tx, fmt.Errorf("check task owner: %w", err))
	case owner != userID:
		return models.Task{}, rollback(tx, ErrIDTaken)
	}

	query, args = r.builder().Insert(database.TasksTable).
		Columns(taskColumns...).
		Values(taskValues(userID, task, now)...).
		OnConflict(
			entsql.ConflictColumns("id"),
			entsql.ResolveWith(func(u *entsql.UpdateSet) {
				for _, c := range taskColumns {
					if c != "id" && c != "user_id" {
						u.SetExcluded(c)
					}
				}
			}),
		).
		Query()

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return models.Task{}, rollback(tx, fmt.Errorf("upsert task: %w", err))
	}
	if err := tx.Commit(); err != nil {
		return models.Task{}, fmt.Errorf("commit upsert: %w", err)
	}
	return task, nil
}

// Update writes the mutable fields of task. CreatedAt is never changed.
func (r *TaskRepository) Update(ctx context.Context, userID string, task models.Task) (models.Task, error) {
	upd := r.builder().Update(database.TasksTable).
		Set("title", task.Title).
		Set("description", task.Description).
		Set("completed", task.Completed).
		Set("due_date", task.DueDate).
		Set("due_time", task.DueTime).
		Set("priority", string(task.Priority)).
		Set("updated_at", dbTime(r.now())).
		Where(entsql.And(
			entsql.EQ("id", task.ID),
			entsql.EQ("user_id", userID),
		))
	query, args := upd.Query()

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return models.Task{}, fmt.Errorf("update task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return models.Task{}, fmt.Errorf("update task: %w", err)
	}
	if n == 0 {
		return models.Task{}, ErrNotFound
	}
	return r.Get(ctx, userID, task.ID)
}

// Delete removes a task of userID. A missing id is not an error.
func (r *TaskRepository) Delete(ctx context.Context, userID, id string) error {
	query, args := r.builder().Delete(database.TasksTable).
		Where(entsql.And(
			entsql.EQ("id", id),
			entsql.EQ("user_id", userID),
		)).
		Query()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

func taskValues(userID string, t models.Task, updatedAt time.Time) []any {
	return []any{
		t.ID, userID, t.Title, t.Description, t.Completed,
		t.DueDate, t.DueTime, string(t.Priority), t.CreatedAt, updatedAt,
	}
}
