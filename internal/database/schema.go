package database

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"entgo.io/ent"
	"entgo.io/ent/dialect/sql/schema"

	entschema "github.com/gurkanbulca/taskboard/ent/schema"
)

// Table names.
const (
	UsersTable = "users"
	TasksTable = "tasks"
)

type entity struct {
	name  string // schema type name, referenced by edges
	table string
	def   ent.Interface
}

var entities = []entity{
	{name: "User", table: UsersTable, def: entschema.User{}},
	{name: "Task", table: TasksTable, def: entschema.Task{}},
}

// Tables builds the migration tables from the ent schema definitions.
func Tables() ([]*schema.Table, error) {
	byName := make(map[string]*schema.Table, len(entities))
	tables := make([]*schema.Table, 0, len(entities))

	for _, e := range entities {
		t, err := buildTable(e)
		if err != nil {
			return nil, err
		}
		byName[e.name] = t
		tables = append(tables, t)
	}

	// Inverse edges that bind a field become foreign keys.
	for _, e := range entities {
		t := byName[e.name]
		for _, ed := range e.def.Edges() {
			d := ed.Descriptor()
			if !d.Inverse || d.Field == "" {
				continue
			}
			ref, ok := byName[d.Type]
			if !ok {
				return nil, fmt.Errorf("edge %s.%s: unknown type %s", e.name, d.Name, d.Type)
			}
			col, ok := t.Column(d.Field)
			if !ok {
				return nil, fmt.Errorf("edge %s.%s: unknown field %s", e.name, d.Name, d.Field)
			}
			refCol, _ := ref.Column("id")
			t.AddForeignKey(&schema.ForeignKey{
				Symbol:     fmt.Sprintf("%s_%s_%s", t.Name, ref.Name, d.RefName),
				Columns:    []*schema.Column{col},
				RefTable:   ref,
				RefColumns: []*schema.Column{refCol},
				OnDelete:   schema.Cascade,
			})
		}
	}

	return tables, nil
}

func buildTable(e entity) (*schema.Table, error) {
	t := schema.NewTable(e.table)

	for _, f := range e.def.Fields() {
		d := f.Descriptor()
		if d.Err != nil {
			return nil, fmt.Errorf("field %s.%s: %w", e.name, d.Name, d.Err)
		}
		col := &schema.Column{
			Name:     d.Name,
			Type:     d.Info.Type,
			Size:     int64(d.Size),
			Unique:   d.Unique,
			Nullable: d.Optional || d.Nillable,
			Comment:  d.Comment,
		}
		for _, v := range d.Enums {
			col.Enums = append(col.Enums, v.V)
		}
		if d.Default != nil && reflect.TypeOf(d.Default).Kind() != reflect.Func {
			col.Default = d.Default
		}
		if d.Name == "id" {
			t.AddPrimary(col)
			continue
		}
		t.AddColumn(col)
	}

	for _, idx := range e.def.Indexes() {
		d := idx.Descriptor()
		for _, name := range d.Fields {
			if !t.HasColumn(name) {
				return nil, fmt.Errorf("index on %s: unknown field %s", e.name, name)
			}
		}
		name := d.StorageKey
		if name == "" {
			name = strings.ToLower(e.name) + "_" + strings.Join(d.Fields, "_")
		}
		t.AddIndex(name, d.Unique, d.Fields)
	}

	return t, nil
}

// Migrate creates or updates the tables.
func (db *DB) Migrate(ctx context.Context) error {
	tables, err := Tables()
	if err != nil {
		return fmt.Errorf("build schema: %w", err)
	}

	m, err := schema.NewMigrate(
		db.Driver(),
		schema.WithDropIndex(true),
		schema.WithDropColumn(true),
		schema.WithForeignKeys(true),
	)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Create(ctx, tables...); err != nil {
		return fmt.Errorf("run migration: %w", err)
	}

	db.log.Info().Int("tables", len(tables)).Msg("✅ Migration completed")
	return nil
}
