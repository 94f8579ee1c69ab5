// ent/schema/user.go
package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
	"github.com/google/uuid"
)

// User holds the schema definition for the User entity.
type User struct {
	ent.Schema
}

// Fields of the User.
func (User) Fields() []ent.Field {
	return []ent.Field{
		field.UUID("id", uuid.UUID{}).
			Default(uuid.New).
			Immutable(),

		field.String("email").
			NotEmpty().
			Unique().
			MaxLen(255).
			Comment("Lower-cased email address"),

		field.String("password_hash").
			Sensitive(),

		field.String("display_name").
			MaxLen(100).
			Default(""),

		// Sessions
		field.String("refresh_token").
			Optional().
			Nillable().
			Sensitive(),

		field.Time("refresh_token_expires_at").
			Optional().
			Nillable(),

		field.Time("last_login").
			Optional().
			Nillable(),

		// Lockout
		field.Int("failed_login_attempts").
			Default(0),

		field.Time("account_locked_until").
			Optional().
			Nillable(),

		// Password reset
		field.String("password_reset_token").
			Optional().
			Nillable().
			Sensitive(),

		field.Time("password_reset_expires_at").
			Optional().
			Nillable(),

		field.Int("password_reset_attempts").
			Default(0),

		field.Time("password_reset_at").
			Optional().
			Nillable(),

		field.Time("password_changed_at").
			Optional().
			Nillable(),

		field.Time("created_at").
			Default(time.Now).
			Immutable(),

		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Edges of the User.
func (User) Edges() []ent.Edge {
	return []ent.Edge{
		edge.To("tasks", Task.Type),
	}
}

// Indexes of the User.
func (User) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("password_reset_token"),
	}
}
