package database_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gurkanbulca/taskboard/internal/database"
	"github.com/gurkanbulca/taskboard/internal/database/dbtest"
)

func TestTables(t *testing.T) {
	tables, err := database.Tables()
	require.NoError(t, err)
	require.Len(t, tables, 2)

	users, tasks := tables[0], tables[1]
	assert.Equal(t, database.UsersTable, users.Name)
	assert.Equal(t, database.TasksTable, tasks.Name)

	require.Len(t, tasks.PrimaryKey, 1)
	assert.Equal(t, "id", tasks.PrimaryKey[0].Name)

	email, ok := users.Column("email")
	require.True(t, ok)
	assert.True(t, email.Unique)

	priority, ok := tasks.Column("priority")
	require.True(t, ok)
	assert.Equal(t, []string{"high", "medium", "low"}, priority.Enums)
	assert.Equal(t, "medium", priority.Default)

	created, ok := tasks.Column("created_at")
	require.True(t, ok)
	assert.Nil(t, created.Default, "function defaults are applied by the repository")

	require.Len(t, tasks.ForeignKeys, 1)
	fk := tasks.ForeignKeys[0]
	assert.Equal(t, "tasks_users_tasks", fk.Symbol)
	assert.Equal(t, users, fk.RefTable)
	assert.Equal(t, "user_id", fk.Columns[0].Name)

	var names []string
	for _, idx := range tasks.Indexes {
		names = append(names, idx.Name)
	}
	assert.ElementsMatch(t, []string{"task_user_id", "task_user_id_created_at"}, names)
}

func TestMigrate_SQLite(t *testing.T) {
	db := dbtest.Open(t)

	// Running twice is a no-op.
	require.NoError(t, db.Migrate(context.Background()))

	var count int
	err := db.Get(&count, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('users', 'tasks')")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestConfigDSN(t *testing.T) {
	cfg := database.Config{Host: "db", Port: 5433, User: "u", Password: "p", DBName: "tb", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=tb sslmode=disable", cfg.DSN())
}
