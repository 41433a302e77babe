// Package pg persists assignment records to PostgreSQL through the pgx
// database/sql driver.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/arloliu/rota/types"
)

// Store implements types.Persister and types.SnapshotLoader.
type Store struct {
	db *sql.DB
}

var (
	_ types.Persister      = (*Store)(nil)
	_ types.SnapshotLoader = (*Store)(nil)
)

// Open connects with the pgx driver and tunes the pool.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &Store{db: db}, nil
}

// New wraps an existing database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Migrate creates the schema when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	return nil
}

// SaveBinding upserts a binding.
func (s *Store) SaveBinding(ctx context.Context, b types.Binding) error {
	convs, err := json.Marshal(nonNil(b.ConversationIDs))
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		insert into rota_bindings (id, worker_id, resource_id, active, is_primary, exclusive,
			created_at, ended_at, end_reason, last_activity_at, last_message_sent_at, last_typing_at,
			conversation_ids, active_conversation_count)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		on conflict (id) do update set
			active = excluded.active,
			is_primary = excluded.is_primary,
			exclusive = excluded.exclusive,
			ended_at = excluded.ended_at,
			end_reason = excluded.end_reason,
			last_activity_at = excluded.last_activity_at,
			last_message_sent_at = excluded.last_message_sent_at,
			last_typing_at = excluded.last_typing_at,
			conversation_ids = excluded.conversation_ids,
			active_conversation_count = excluded.active_conversation_count
	`, string(b.ID), int64(b.WorkerID), int64(b.ResourceID), b.Active, b.Primary, b.Exclusive,
		b.CreatedAt, nullTime(b.EndedAt), string(b.EndReason), b.LastActivityAt,
		nullTime(b.LastMessageSentAt), nullTime(b.LastTypingAt), string(convs), b.ActiveConversationCount)
	if err != nil {
		return fmt.Errorf("save binding %s: %w", b.ID, err)
	}

	return nil
}

// SaveWorker upserts a worker.
func (s *Store) SaveWorker(ctx context.Context, w types.Worker) error {
	_, err := s.db.ExecContext(ctx, `
		insert into rota_workers (id, online, status, last_seen_at)
		values ($1,$2,$3,$4)
		on conflict (id) do update set
			online = excluded.online,
			status = excluded.status,
			last_seen_at = excluded.last_seen_at
	`, int64(w.ID), w.Online, string(w.Status), w.LastSeenAt)
	if err != nil {
		return fmt.Errorf("save worker %d: %w", w.ID, err)
	}

	return nil
}

// SaveQueueEntry upserts a queue entry.
func (s *Store) SaveQueueEntry(ctx context.Context, e types.QueueEntry) error {
	_, err := s.db.ExecContext(ctx, `
		insert into rota_queue (worker_id, queued_at, priority)
		values ($1,$2,$3)
		on conflict (worker_id) do update set
			queued_at = excluded.queued_at,
			priority = excluded.priority
	`, int64(e.WorkerID), e.QueuedAt, e.Priority)
	if err != nil {
		return fmt.Errorf("save queue entry %d: %w", e.WorkerID, err)
	}

	return nil
}

// DeleteQueueEntry removes a worker's queue entry.
func (s *Store) DeleteQueueEntry(ctx context.Context, worker types.WorkerID) error {
	if _, err := s.db.ExecContext(ctx, `delete from rota_queue where worker_id=$1`, int64(worker)); err != nil {
		return fmt.Errorf("delete queue entry %d: %w", worker, err)
	}

	return nil
}

// SaveLock upserts a lock row.
func (s *Store) SaveLock(ctx context.Context, l types.Lock) error {
	_, err := s.db.ExecContext(ctx, `
		insert into rota_locks (key, holder, token, locked_at, expires_at)
		values ($1,$2,$3,$4,$5)
		on conflict (key) do update set
			holder = excluded.holder,
			token = excluded.token,
			locked_at = excluded.locked_at,
			expires_at = excluded.expires_at
	`, l.Key, l.Holder, l.Token, l.LockedAt, nullTime(l.ExpiresAt))
	if err != nil {
		return fmt.Errorf("save lock %s: %w", l.Key, err)
	}

	return nil
}

// DeleteLock removes a lock row.
func (s *Store) DeleteLock(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `delete from rota_locks where key=$1`, key); err != nil {
		return fmt.Errorf("delete lock %s: %w", key, err)
	}

	return nil
}

// SaveNotificationRound appends a notification round.
func (s *Store) SaveNotificationRound(ctx context.Context, r types.NotificationRound) error {
	notified, err := json.Marshal(nonNil(r.WorkersNotified))
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		insert into rota_notification_rounds (round_number, workers_notified, sent_at, pending_work_count)
		values ($1,$2,$3,$4)
	`, r.RoundNumber, string(notified), r.SentAt, r.PendingWorkCount)
	if err != nil {
		return fmt.Errorf("save notification round %d: %w", r.RoundNumber, err)
	}

	return nil
}

// LoadSnapshot reads active bindings, workers and the queue.
func (s *Store) LoadSnapshot(ctx context.Context) (types.Snapshot, error) {
	var snap types.Snapshot

	bindings, err := s.loadActiveBindings(ctx)
	if err != nil {
		return snap, err
	}
	snap.Bindings = bindings

	workers, err := s.loadWorkers(ctx)
	if err != nil {
		return snap, err
	}
	snap.Workers = workers

	queue, err := s.loadQueue(ctx)
	if err != nil {
		return snap, err
	}
	snap.Queue = queue

	return snap, nil
}

func (s *Store) loadActiveBindings(ctx context.Context) ([]types.Binding, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, worker_id, resource_id, is_primary, exclusive, created_at,
			last_activity_at, last_message_sent_at, last_typing_at,
			conversation_ids, active_conversation_count
		from rota_bindings where active order by created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("load bindings: %w", err)
	}
	defer rows.Close()

	var out []types.Binding
	for rows.Next() {
		var (
			b                    types.Binding
			id                   string
			worker, resource     int64
			lastSent, lastTyping sql.NullTime
			convs                []byte
		)
		if err := rows.Scan(&id, &worker, &resource, &b.Primary, &b.Exclusive, &b.CreatedAt,
			&b.LastActivityAt, &lastSent, &lastTyping, &convs, &b.ActiveConversationCount); err != nil {
			return nil, fmt.Errorf("scan binding: %w", err)
		}
		if err := json.Unmarshal(convs, &b.ConversationIDs); err != nil {
			return nil, fmt.Errorf("decode conversations of %s: %w", id, err)
		}
		b.ID = types.BindingID(id)
		b.WorkerID = types.WorkerID(worker)
		b.ResourceID = types.ResourceID(resource)
		b.Active = true
		b.LastMessageSentAt = lastSent.Time
		b.LastTypingAt = lastTyping.Time
		out = append(out, b)
	}

	return out, rows.Err()
}

func (s *Store) loadWorkers(ctx context.Context) ([]types.Worker, error) {
	rows, err := s.db.QueryContext(ctx, `select id, online, status, last_seen_at from rota_workers order by id`)
	if err != nil {
		return nil, fmt.Errorf("load workers: %w", err)
	}
	defer rows.Close()

	var out []types.Worker
	for rows.Next() {
		var (
			id     int64
			status string
			w      types.Worker
		)
		if err := rows.Scan(&id, &w.Online, &status, &w.LastSeenAt); err != nil {
			return nil, fmt.Errorf("scan worker: %w", err)
		}
		w.ID = types.WorkerID(id)
		w.Status = types.WorkerStatus(status)
		out = append(out, w)
	}

	return out, rows.Err()
}

func (s *Store) loadQueue(ctx context.Context) ([]types.QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, `select worker_id, queued_at, priority from rota_queue order by priority, queued_at`)
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}
	defer rows.Close()

	var out []types.QueueEntry
	for rows.Next() {
		var (
			id int64
			e  types.QueueEntry
		)
		if err := rows.Scan(&id, &e.QueuedAt, &e.Priority); err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		e.WorkerID = types.WorkerID(id)
		e.Position = len(out) + 1
		out = append(out, e)
	}

	return out, rows.Err()
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}

	return s
}
