package formance

import (
	"context"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"escrow-sync-go/internal/ledger"

	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	eventTypeFunded   = "escrow_funded"
	eventTypeApproved = "escrow_approved"
)

// numscriptFund moves the deposit from the depositor into a fresh escrow account.
const numscriptFund = `vars {
  asset $asset
  number $amount
  account $depositor
  account $escrow_id
  string $escrow_ref
  string $arbiter
  string $beneficiary
  string $depositor_address
}

send [$asset $amount] (
  source = @depositors:$depositor allowing unbounded overdraft
  destination = @escrows:$escrow_id
)

set_tx_meta("event_type", "escrow_funded")
set_tx_meta("escrow_id", $escrow_ref)
set_tx_meta("arbiter", $arbiter)
set_tx_meta("beneficiary", $beneficiary)
set_tx_meta("depositor", $depositor_address)
`

// numscriptApprove drains the escrow account to the beneficiary.
const numscriptApprove = `vars {
  asset $asset
  account $escrow_id
  account $beneficiary
  string $escrow_ref
  string $arbiter
}

send [$asset *] (
  source = @escrows:$escrow_id
  destination = @beneficiaries:$beneficiary
)

set_tx_meta("event_type", "escrow_approved")
set_tx_meta("escrow_id", $escrow_ref)
set_tx_meta("arbiter", $arbiter)
`

var invalidSegment = regexp.MustCompile(`[^a-z0-9_-]+`)

// accountSegment turns a party identifier into a valid account path segment.
func accountSegment(id string) string {
	seg := invalidSegment.ReplaceAllString(strings.ToLower(strings.TrimSpace(id)), "_")
	if seg == "" {
		return "unknown"
	}
	return seg
}

func fundReference(id string) string    { return "escrow-" + id + "-funded" }
func approvalReference(id string) string { return "escrow-" + id + "-approved" }

// Fund records the deposit and returns the escrow id, which is the agreement address.
func (s *Service) Fund(ctx context.Context, depositor ledger.Signer, arbiter, beneficiary string, value *big.Int) (string, error) {
	if value == nil || value.Sign() <= 0 {
		return "", fmt.Errorf("%w: value must be positive", ledger.ErrReverted)
	}

	id := uuid.NewString()
	postTx := shared.V2PostTransaction{
		Reference: strPtr(fundReference(id)),
		Script: &shared.V2PostTransactionScript{
			Plain: numscriptFund,
			Vars: map[string]string{
				"asset":             s.asset,
				"amount":            value.String(),
				"depositor":         accountSegment(depositor.Address()),
				"escrow_id":         id,
				"escrow_ref":        id,
				"arbiter":           arbiter,
				"beneficiary":       beneficiary,
				"depositor_address": depositor.Address(),
			},
		},
	}

	_, err := s.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger:            s.ledger,
		V2PostTransaction: postTx,
	})
	if err != nil {
		return "", fmt.Errorf("error recording escrow funding: %w", err)
	}

	zap.L().Info("Escrow funded in Formance",
		zap.String("escrow_id", id),
		zap.String("amount", value.String()),
		zap.String("asset", s.asset))
	return id, nil
}

// SubmitApproval releases the escrow to its beneficiary. Only the arbiter
// recorded at funding time may approve. A repeated approval resolves to the
// original release transaction.
func (s *Service) SubmitApproval(ctx context.Context, approver ledger.Signer, address string) (*ledger.TxHandle, error) {
	funding, err := s.findTransaction(ctx, address, eventTypeFunded)
	if err != nil {
		return nil, err
	}
	if funding == nil {
		return nil, fmt.Errorf("%w: %s", ledger.ErrUnknownAgreement, address)
	}

	arbiter := funding.Metadata["arbiter"]
	if !strings.EqualFold(arbiter, approver.Address()) {
		return nil, fmt.Errorf("%w: %w", ledger.ErrReverted, ledger.ErrNotArbiter)
	}

	resp, err := s.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger: s.ledger,
		V2PostTransaction: shared.V2PostTransaction{
			Reference: strPtr(approvalReference(address)),
			Script: &shared.V2PostTransactionScript{
				Plain: numscriptApprove,
				Vars: map[string]string{
					"asset":       s.asset,
					"escrow_id":   address,
					"escrow_ref":  address,
					"beneficiary": accountSegment(funding.Metadata["beneficiary"]),
					"arbiter":     arbiter,
				},
			},
		},
	})
	if err != nil {
		if isConflictError(err) {
			existing, findErr := s.findTransaction(ctx, address, eventTypeApproved)
			if findErr != nil {
				return nil, findErr
			}
			if existing != nil {
				zap.L().Info("Escrow already released", zap.String("escrow_id", address))
				return &ledger.TxHandle{Hash: txId(*existing), Address: address}, nil
			}
		}
		if isInsufficientFundError(err) {
			return nil, fmt.Errorf("%w: %v", ledger.ErrReverted, err)
		}
		return nil, fmt.Errorf("error recording escrow approval: %w", err)
	}

	handle := &ledger.TxHandle{Address: address}
	if resp.V2CreateTransactionResponse != nil {
		handle.Hash = txId(resp.V2CreateTransactionResponse.Data)
	}

	zap.L().Info("Escrow released in Formance",
		zap.String("escrow_id", address),
		zap.String("tx_id", handle.Hash))
	return handle, nil
}

func (s *Service) IsApproved(ctx context.Context, address string) (bool, error) {
	if funding, err := s.findTransaction(ctx, address, eventTypeFunded); err != nil {
		return false, err
	} else if funding == nil {
		return false, fmt.Errorf("%w: %s", ledger.ErrUnknownAgreement, address)
	}

	approval, err := s.findTransaction(ctx, address, eventTypeApproved)
	if err != nil {
		return false, err
	}
	return approval != nil && !approval.Reverted, nil
}

// findTransaction looks up the escrow's transaction of the given type by metadata.
func (s *Service) findTransaction(ctx context.Context, escrowId, eventType string) (*shared.V2Transaction, error) {
	resp, err := s.client.Ledger.V2.ListTransactions(ctx, operations.V2ListTransactionsRequest{
		Ledger:   s.ledger,
		PageSize: ptrInt64(1),
		RequestBody: map[string]any{
			"$and": []any{
				map[string]any{"$match": map[string]any{"metadata[escrow_id]": escrowId}},
				map[string]any{"$match": map[string]any{"metadata[event_type]": eventType}},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s for escrow %s: %w", eventType, escrowId, err)
	}
	if resp.V2TransactionsCursorResponse == nil || len(resp.V2TransactionsCursorResponse.Cursor.Data) == 0 {
		return nil, nil
	}
	tx := resp.V2TransactionsCursorResponse.Cursor.Data[0]
	return &tx, nil
}

func txId(tx shared.V2Transaction) string {
	if tx.ID == nil {
		return ""
	}
	return tx.ID.String()
}
