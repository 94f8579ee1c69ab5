package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// DefaultChannel is the Postgres NOTIFY channel for task changes.
const DefaultChannel = "taskboard_task_changes"

// PGNotifier publishes change signals with pg_notify so every server
// process connected to the database hears them.
type PGNotifier struct {
	db      *sqlx.DB
	channel string
}

func NewPGNotifier(db *sqlx.DB, channel string) *PGNotifier {
	if channel == "" {
		channel = DefaultChannel
	}
	return &PGNotifier{db: db, channel: channel}
}

// Publish sends NOTIFY with the user id as payload.
func (n *PGNotifier) Publish(ctx context.Context, userID string) error {
	if _, err := n.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", n.channel, userID); err != nil {
		return fmt.Errorf("pg_notify: %w", err)
	}
	return nil
}

// PGListener forwards notifications from Postgres into a Hub.
type PGListener struct {
	listener *pq.Listener
	hub      *Hub
	channel  string
	log      zerolog.Logger
}

// NewPGListener opens a dedicated LISTEN connection.
func NewPGListener(dsn, channel string, minReconnect, maxReconnect time.Duration, hub *Hub, log zerolog.Logger) *PGListener {
	if channel == "" {
		channel = DefaultChannel
	}
	l := &PGListener{hub: hub, channel: channel, log: log}
	l.listener = pq.NewListener(dsn, minReconnect, maxReconnect, l.onEvent)
	return l
}

func (l *PGListener) onEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnected:
		l.log.Info().Str("channel", l.channel).Msg("📡 Listening for task changes")
	case pq.ListenerEventDisconnected:
		l.log.Warn().Err(err).Msg("Task change listener disconnected")
	case pq.ListenerEventReconnected:
		l.log.Info().Msg("Task change listener reconnected")
	case pq.ListenerEventConnectionAttemptFailed:
		l.log.Error().Err(err).Msg("Task change listener connection attempt failed")
	}
}

// Run listens until ctx is done.
func (l *PGListener) Run(ctx context.Context) error {
	if err := l.listener.Listen(l.channel); err != nil {
		return fmt.Errorf("listen %s: %w", l.channel, err)
	}
	defer l.listener.Close()

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-l.listener.Notify:
			if n == nil {
				// Connection was re-established; notifications may have been
				// lost, so wake every listener of every user.
				l.hub.NotifyAll()
				continue
			}
			l.hub.Notify(n.Extra)
		case <-ping.C:
			if err := l.listener.Ping(); err != nil {
				l.log.Warn().Err(err).Msg("Task change listener ping failed")
			}
		}
	}
}
