package store

import (
	"context"
	"errors"
	"strings"

	"escrow-sync-go/internal/models"
)

// Sentinel errors shared across all mirror backends.
var (
	ErrNotFound = errors.New("agreement not found")
	ErrConflict = errors.New("agreement already exists")
)

// MirrorStore is the off-chain record of every known agreement. Every backend
// (SQLite, JSON file, Postgres, HTTP) must satisfy it.
//
// Writes are whole-record append or replace; implementations serialize them so
// no reader observes a half-applied mutation.
type MirrorStore interface {
	// ListAll returns every agreement in insertion order.
	ListAll(ctx context.Context) ([]models.Agreement, error)

	// Append stores a new agreement. Returns ErrConflict if the address exists.
	Append(ctx context.Context, agreement models.Agreement) (*models.Agreement, error)

	// UpdateApproval marks the agreement approved at approvedAt (unix seconds).
	// An already approved record is returned unchanged. Returns ErrNotFound if
	// the address is unknown.
	UpdateApproval(ctx context.Context, address string, approvedAt int64) (*models.Agreement, error)

	// --- Lifecycle ---
	Close()
}

// FindByAddress scans a listing for the given address. Ledger addresses are
// hex, so the match ignores case.
func FindByAddress(agreements []models.Agreement, address string) (*models.Agreement, bool) {
	for i := range agreements {
		if strings.EqualFold(agreements[i].Address, address) {
			a := agreements[i].Clone()
			return &a, true
		}
	}
	return nil, false
}
