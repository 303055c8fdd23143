package store

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/web3-frozen/overlay-monitor/internal/alert"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// --- Notifications ---

// InsertNotification appends a dispatched alert to the notification log.
// A NaN value is stored as NULL.
func (s *Store) InsertNotification(ctx context.Context, n alert.Notification) error {
	at := n.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (level, rule, condition, metric, label, value, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(n.Level), n.Rule, n.Condition, n.Metric, n.Label, nullableFloat(n.Value), n.Message, at)
	return err
}

// ListNotifications returns the most recent notifications, newest first.
// NULL values come back as NaN.
func (s *Store) ListNotifications(ctx context.Context, limit int) ([]alert.Notification, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT level, rule, condition, metric, label, value, message, created_at
		FROM notifications
		ORDER BY created_at DESC, id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []alert.Notification
	for rows.Next() {
		var (
			n     alert.Notification
			level string
			value *float64
		)
		if err := rows.Scan(&level, &n.Rule, &n.Condition, &n.Metric, &n.Label, &value, &n.Message, &n.At); err != nil {
			return nil, err
		}
		n.Level = alert.Level(level)
		n.Value = math.NaN()
		if value != nil {
			n.Value = *value
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// PruneNotifications deletes notifications older than maxAge.
func (s *Store) PruneNotifications(ctx context.Context, maxAge time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM notifications WHERE created_at < $1`, time.Now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// --- Poller Failures ---

// PollerFailure is one recorded poller step failure.
type PollerFailure struct {
	Poller     string    `json:"poller"`
	Iteration  int64     `json:"iteration"`
	Step       string    `json:"step"`
	Message    string    `json:"message"`
	Stack      string    `json:"stack,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// InsertFailure records a poller failure.
func (s *Store) InsertFailure(ctx context.Context, poller string, iteration int64, step, message, stack string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO poller_failures (poller, iteration, step, message, stack, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		poller, iteration, step, message, stack, at)
	return err
}

// ListFailures returns the most recent failures of one poller, or of all
// pollers when poller is empty.
func (s *Store) ListFailures(ctx context.Context, poller string, limit int) ([]PollerFailure, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT poller, iteration, step, message, stack, occurred_at
		FROM poller_failures
		WHERE $1::text = '' OR poller = $1
		ORDER BY occurred_at DESC, id DESC
		LIMIT $2`, poller, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PollerFailure
	for rows.Next() {
		var f PollerFailure
		if err := rows.Scan(&f.Poller, &f.Iteration, &f.Step, &f.Message, &f.Stack, &f.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func nullableFloat(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
