package database

import (
	"context"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// DB is the shared connection pool. Queries go through sqlx; schema
// migration goes through an ent driver on the same pool.
type DB struct {
	*sqlx.DB
	dialect string
	debug   bool
	log     zerolog.Logger
}

// Dialect returns the ent dialect name of the connection.
func (db *DB) Dialect() string {
	return db.dialect
}

// Driver wraps the pool as an ent driver.
func (db *DB) Driver() dialect.Driver {
	var drv dialect.Driver = entsql.OpenDB(db.dialect, db.DB.DB)
	if db.debug {
		drv = dialect.DebugWithContext(drv, func(ctx context.Context, args ...any) {
			db.log.Debug().Msg(fmt.Sprint(args...))
		})
	}
	return drv
}

// Open connects to PostgreSQL.
func Open(cfg Config, log zerolog.Logger) (*DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	log.Info().Str("host", cfg.Host).Str("db", cfg.DBName).Msg("✅ Connected to PostgreSQL")
	return &DB{DB: db, dialect: dialect.Postgres, debug: cfg.Debug, log: log}, nil
}

// OpenSQLite opens a SQLite database. Used by tests and local runs; dsn
// should enable foreign keys with _fk=1.
func OpenSQLite(dsn string, log zerolog.Logger) (*DB, error) {
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	db.SetMaxOpenConns(1)
	return &DB{DB: db, dialect: dialect.SQLite, log: log}, nil
}

// DSN returns the lib/pq connection string for cfg.
func (cfg Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)
}

// Config for database connection
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	Debug    bool
}
