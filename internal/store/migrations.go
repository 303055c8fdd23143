package store

import "context"

const migrationSQL = `
CREATE TABLE IF NOT EXISTS notifications (
    id BIGSERIAL PRIMARY KEY,
    level TEXT NOT NULL,
    rule TEXT NOT NULL,
    condition TEXT NOT NULL DEFAULT '',
    metric TEXT NOT NULL DEFAULT '',
    label TEXT NOT NULL DEFAULT '',
    value DOUBLE PRECISION,
    message TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_notifications_created_at ON notifications (created_at DESC);

CREATE TABLE IF NOT EXISTS poller_failures (
    id BIGSERIAL PRIMARY KEY,
    poller TEXT NOT NULL,
    iteration BIGINT NOT NULL,
    step TEXT NOT NULL,
    message TEXT NOT NULL,
    stack TEXT NOT NULL DEFAULT '',
    occurred_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_poller_failures_poller ON poller_failures (poller, occurred_at DESC);
`

func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, migrationSQL)
	return err
}
