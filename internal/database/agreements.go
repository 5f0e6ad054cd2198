package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"escrow-sync-go/internal/models"
	"escrow-sync-go/internal/store"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgreement(row rowScanner) (*models.Agreement, error) {
	var a models.Agreement
	var approvedAt sql.NullInt64
	if err := row.Scan(&a.Address, &a.Arbiter, &a.Beneficiary, &a.Depositor, &a.Value,
		&a.StartedAt, &approvedAt, &a.IsApproved); err != nil {
		return nil, err
	}
	if approvedAt.Valid {
		at := approvedAt.Int64
		a.ApprovedAt = &at
	}
	a.Normalize()
	return &a, nil
}

func (s *Service) ListAll(ctx context.Context) ([]models.Agreement, error) {
	rows, err := s.db.QueryContext(ctx, queryListAgreements)
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

func (s *Service) Append(ctx context.Context, agreement models.Agreement) (*models.Agreement, error) {
	if agreement.Address == "" {
		return nil, fmt.Errorf("agreement address cannot be empty")
	}
	agreement.Normalize()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existingSeq int64
	err = tx.QueryRowContext(ctx, queryCheckDuplicateAgreement, agreement.Address).Scan(&existingSeq)
	if err == nil {
		zap.L().Warn("Duplicate agreement address detected",
			zap.String("address", agreement.Address),
			zap.Int64("existing_seq", existingSeq))
		return nil, fmt.Errorf("%w: %s", store.ErrConflict, agreement.Address)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to check for duplicate agreement: %w", err)
	}

	var approvedAt sql.NullInt64
	if agreement.ApprovedAt != nil {
		approvedAt = sql.NullInt64{Int64: *agreement.ApprovedAt, Valid: true}
	}

	_, err = tx.ExecContext(ctx, queryInsertAgreement,
		agreement.Address, agreement.Arbiter, agreement.Beneficiary, agreement.Depositor,
		agreement.Value, agreement.StartedAt, approvedAt, agreement.IsApproved)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", store.ErrConflict, agreement.Address)
		}
		return nil, fmt.Errorf("failed to insert agreement: %w", err)
	}

	stored, err := scanAgreement(tx.QueryRowContext(ctx, queryGetAgreement, agreement.Address))
	if err != nil {
		return nil, fmt.Errorf("failed to read back agreement: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Agreement stored",
		zap.String("address", stored.Address),
		zap.String("value", stored.Value))

	return stored, nil
}

func (s *Service) UpdateApproval(ctx context.Context, address string, approvedAt int64) (*models.Agreement, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := scanAgreement(tx.QueryRowContext(ctx, queryGetAgreement, address))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, address)
	} else if err != nil {
		return nil, fmt.Errorf("failed to get agreement: %w", err)
	}

	if current.IsApproved {
		zap.L().Debug("Agreement already approved, leaving record unchanged",
			zap.String("address", address))
		return current, nil
	}

	result, err := tx.ExecContext(ctx, queryApproveAgreement, approvedAt, address)
	if err != nil {
		return nil, fmt.Errorf("failed to approve agreement: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("approval update for %s affected no rows", address)
	}

	updated, err := scanAgreement(tx.QueryRowContext(ctx, queryGetAgreement, address))
	if err != nil {
		return nil, fmt.Errorf("failed to read back agreement: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Agreement approved in mirror",
		zap.String("address", address),
		zap.Int64("approved_at", approvedAt))

	return updated, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
