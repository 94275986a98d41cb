package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dunamismax/layerflow/internal/domain"
	_ "github.com/lib/pq"
)

const usageSchemaSQL = `
CREATE TABLE IF NOT EXISTS usage_logs (
	request_id TEXT PRIMARY KEY,
	subject TEXT NOT NULL DEFAULT '',
	layers INTEGER NOT NULL,
	vector_layers INTEGER NOT NULL DEFAULT 0,
	pixels_processed BIGINT NOT NULL,
	input_bytes BIGINT NOT NULL,
	output_bytes BIGINT NOT NULL,
	compute_time_ms BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS usage_logs_subject_created_at_idx ON usage_logs (subject, created_at);
`

type PostgresUsageStore struct {
	db *sql.DB
}

func NewPostgresUsageStore(ctx context.Context, dsn string) (*PostgresUsageStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresUsageStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresUsageStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, usageSchemaSQL); err != nil {
		return fmt.Errorf("ensure usage schema: %w", err)
	}
	return nil
}

func (s *PostgresUsageStore) Close() error {
	return s.db.Close()
}

func (s *PostgresUsageStore) Record(ctx context.Context, entry domain.UsageLog) error {
	if entry.RequestID == "" {
		return ErrMissingRequestID
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO usage_logs (request_id, subject, layers, vector_layers, pixels_processed, input_bytes, output_bytes, compute_time_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (request_id) DO NOTHING`,
		entry.RequestID,
		entry.Subject,
		entry.Layers,
		entry.VectorLayers,
		entry.PixelsProcessed,
		entry.InputBytes,
		entry.OutputBytes,
		entry.ComputeTimeMS,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}

func (s *PostgresUsageStore) Totals(ctx context.Context, subject string, since time.Time) (UsageTotals, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(layers), 0),
		        COALESCE(SUM(pixels_processed), 0),
		        COALESCE(SUM(input_bytes), 0),
		        COALESCE(SUM(output_bytes), 0),
		        COALESCE(SUM(compute_time_ms), 0)
		 FROM usage_logs
		 WHERE ($1 = '' OR subject = $1) AND created_at >= $2`,
		subject,
		since,
	)

	totals := UsageTotals{Subject: subject}
	if err := row.Scan(
		&totals.Requests,
		&totals.Layers,
		&totals.PixelsProcessed,
		&totals.InputBytes,
		&totals.OutputBytes,
		&totals.ComputeTimeMS,
	); err != nil {
		return UsageTotals{}, fmt.Errorf("query usage totals: %w", err)
	}
	return totals, nil
}
