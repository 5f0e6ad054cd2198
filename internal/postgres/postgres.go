package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"escrow-sync-go/internal/models"
	"escrow-sync-go/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Compile-time check: *Store must satisfy store.MirrorStore.
var _ store.MirrorStore = (*Store)(nil)

const (
	schema = `
CREATE TABLE IF NOT EXISTS escrow_agreements (
    seq BIGSERIAL PRIMARY KEY,
    address TEXT NOT NULL,
    arbiter TEXT NOT NULL,
    beneficiary TEXT NOT NULL,
    depositor TEXT NOT NULL DEFAULT '',
    value NUMERIC(78, 0) NOT NULL,
    started_at BIGINT NOT NULL,
    approved_at BIGINT,
    is_approved BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS escrow_agreements_address_key ON escrow_agreements (lower(address));
`

	selectColumns = `address, arbiter, beneficiary, depositor, value::text, started_at, approved_at, is_approved`

	listSQL = `SELECT ` + selectColumns + ` FROM escrow_agreements ORDER BY seq`

	insertSQL = `
INSERT INTO escrow_agreements (address, arbiter, beneficiary, depositor, value, started_at, approved_at, is_approved)
VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8)
RETURNING ` + selectColumns

	// COALESCE keeps the first approval timestamp on repeated confirmations.
	approveSQL = `
UPDATE escrow_agreements
SET is_approved = TRUE,
    approved_at = COALESCE(approved_at, $2),
    updated_at = CASE WHEN is_approved THEN updated_at ELSE now() END
WHERE lower(address) = lower($1)
RETURNING ` + selectColumns
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres url cannot be empty")
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	zap.L().Info("Postgres mirror initialized", zap.String("host", cfg.ConnConfig.Host))
	return &Store{pool: pool}, nil
}

func scanAgreement(row pgx.Row) (*models.Agreement, error) {
	var a models.Agreement
	if err := row.Scan(&a.Address, &a.Arbiter, &a.Beneficiary, &a.Depositor, &a.Value,
		&a.StartedAt, &a.ApprovedAt, &a.IsApproved); err != nil {
		return nil, err
	}
	a.Normalize()
	return &a, nil
}

func (s *Store) ListAll(ctx context.Context) ([]models.Agreement, error) {
	rows, err := s.pool.Query(ctx, listSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to query agreements: %w", err)
	}
	defer rows.Close()

	agreements := make([]models.Agreement, 0)
	for rows.Next() {
		a, err := scanAgreement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agreement: %w", err)
		}
		agreements = append(agreements, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate agreements: %w", err)
	}
	return agreements, nil
}

func (s *Store) Append(ctx context.Context, agreement models.Agreement) (*models.Agreement, error) {
	if agreement.Address == "" {
		return nil, fmt.Errorf("agreement address cannot be empty")
	}
	agreement.Normalize()

	stored, err := scanAgreement(s.pool.QueryRow(ctx, insertSQL,
		agreement.Address, agreement.Arbiter, agreement.Beneficiary, agreement.Depositor,
		agreement.Value, agreement.StartedAt, agreement.ApprovedAt, agreement.IsApproved))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", store.ErrConflict, agreement.Address)
		}
		return nil, fmt.Errorf("failed to insert agreement: %w", err)
	}
	return stored, nil
}

func (s *Store) UpdateApproval(ctx context.Context, address string, approvedAt int64) (*models.Agreement, error) {
	updated, err := scanAgreement(s.pool.QueryRow(ctx, approveSQL, address, approvedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, address)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to approve agreement: %w", err)
	}
	return updated, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
