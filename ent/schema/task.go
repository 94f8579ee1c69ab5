// ent/schema/task.go
package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
	"github.com/google/uuid"
)

// Task holds the schema definition for the Task entity.
type Task struct {
	ent.Schema
}

// Fields of the Task.
func (Task) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			NotEmpty().
			MaxLen(64).
			Immutable().
			Comment("Opaque id; generated on create or supplied when restoring"),

		field.UUID("user_id", uuid.UUID{}).
			Immutable().
			Comment("Owner of the task"),

		field.String("title").
			NotEmpty().
			MaxLen(200),

		field.Text("description").
			Default(""),

		field.Bool("completed").
			Default(false),

		field.String("due_date").
			MaxLen(10).
			Comment("YYYY-MM-DD"),

		field.String("due_time").
			MaxLen(5).
			Comment("HH:MM"),

		field.Enum("priority").
			Values("high", "medium", "low").
			Default("medium"),

		field.Time("created_at").
			Default(time.Now).
			Immutable(),

		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Edges of the Task.
func (Task) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("owner", User.Type).
			Ref("tasks").
			Field("user_id").
			Unique().
			Required().
			Immutable(),
	}
}

// Indexes of the Task.
func (Task) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("user_id"),
		index.Fields("user_id", "created_at"),
	}
}
