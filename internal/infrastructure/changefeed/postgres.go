package changefeed

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// DefaultPostgresChannel is the LISTEN/NOTIFY channel name
const DefaultPostgresChannel = "docsync_changes"

// PostgresNotifier relays change signals through Postgres LISTEN/NOTIFY,
// for deployments that run the GORM store on Postgres without Redis
type PostgresNotifier struct {
	local    *Local
	db       *sql.DB
	listener *pq.Listener
	channel  string
	origin   string
	logger   *zap.Logger
}

// NewPostgresNotifier opens a dedicated listener connection on dsn and
// publishes through db
func NewPostgresNotifier(db *sql.DB, dsn string, logger *zap.Logger) *PostgresNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &PostgresNotifier{
		local:   NewLocal(),
		db:      db,
		channel: DefaultPostgresChannel,
		origin:  uuid.NewString(),
		logger:  logger,
	}
	n.listener = pq.NewListener(dsn, 10*time.Second, time.Minute, n.onListenerEvent)
	return n
}

func (n *PostgresNotifier) onListenerEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnectionAttemptFailed, pq.ListenerEventDisconnected:
		n.logger.Warn("Postgres change listener connection problem", zap.Error(err))
	case pq.ListenerEventReconnected:
		n.logger.Info("Postgres change listener reconnected")
	}
}

// Notify signals local watchers and issues pg_notify for other instances
func (n *PostgresNotifier) Notify(ctx context.Context, path string) error {
	_ = n.local.Notify(ctx, path)

	payload, err := encodeMessage(path, n.origin)
	if err != nil {
		return err
	}
	if _, err := n.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", n.channel, payload); err != nil {
		return fmt.Errorf("failed to notify change: %w", err)
	}
	return nil
}

// Watch registers a local watcher
func (n *PostgresNotifier) Watch(path string) (<-chan struct{}, func()) {
	return n.local.Watch(path)
}

// Run listens on the channel until ctx is cancelled
func (n *PostgresNotifier) Run(ctx context.Context) error {
	if err := n.listener.Listen(n.channel); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", n.channel, err)
	}
	n.logger.Info("Listening for change notifications", zap.String("channel", n.channel))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case note, ok := <-n.listener.Notify:
			if !ok {
				return nil
			}
			// nil after a reconnect; changes may have been missed
			if note == nil {
				n.local.notifyAll(ctx)
				continue
			}
			msg, err := decodeMessage(note.Extra)
			if err != nil {
				n.logger.Error("Dropping change notification", zap.Error(err))
				continue
			}
			if msg.Origin != n.origin {
				_ = n.local.Notify(ctx, msg.Path)
			}
		case <-time.After(90 * time.Second):
			go func() {
				if err := n.listener.Ping(); err != nil {
					n.logger.Warn("Postgres change listener ping failed", zap.Error(err))
				}
			}()
		}
	}
}

// Close stops listening
func (n *PostgresNotifier) Close() error {
	return n.listener.Close()
}

var _ Notifier = (*PostgresNotifier)(nil)
