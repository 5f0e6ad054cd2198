package formance

import (
	"context"
	"fmt"
	"slices"

	"escrow-sync-go/internal/ledger"

	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
)

const approvalPageSize = 100

// approvalSource feeds the watcher with escrow_approved transactions. The
// cursor is one past the highest transaction id already seen.
type approvalSource struct {
	svc *Service
}

func (a *approvalSource) Head(ctx context.Context) (uint64, error) {
	resp, err := a.svc.client.Ledger.V2.ListTransactions(ctx, operations.V2ListTransactionsRequest{
		Ledger:   a.svc.ledger,
		PageSize: ptrInt64(1),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read latest transaction: %w", err)
	}
	if resp.V2TransactionsCursorResponse == nil || len(resp.V2TransactionsCursorResponse.Cursor.Data) == 0 {
		return 0, nil
	}
	return nextCursor(resp.V2TransactionsCursorResponse.Cursor.Data[0], 0), nil
}

// Poll walks approval transactions newest first until it reaches the cursor.
func (a *approvalSource) Poll(ctx context.Context, cursor uint64) ([]ledger.Event, uint64, error) {
	req := operations.V2ListTransactionsRequest{
		Ledger:   a.svc.ledger,
		PageSize: ptrInt64(approvalPageSize),
		RequestBody: map[string]any{
			"$match": map[string]any{"metadata[event_type]": eventTypeApproved},
		},
	}

	var events []ledger.Event
	next := cursor
	for {
		resp, err := a.svc.client.Ledger.V2.ListTransactions(ctx, req)
		if err != nil {
			return nil, cursor, fmt.Errorf("failed to list approvals: %w", err)
		}
		if resp.V2TransactionsCursorResponse == nil {
			break
		}
		page := resp.V2TransactionsCursorResponse.Cursor

		found, pageNext, reached := eventsFromTransactions(page.Data, cursor)
		events = append(events, found...)
		next = max(next, pageNext)
		if reached || !page.HasMore || page.Next == nil {
			break
		}
		req = operations.V2ListTransactionsRequest{Ledger: a.svc.ledger, Cursor: page.Next}
	}

	slices.Reverse(events)
	return events, next, nil
}

// eventsFromTransactions converts a newest-first page into events at or past
// cursor. reached reports that the page went below the cursor.
func eventsFromTransactions(txs []shared.V2Transaction, cursor uint64) (events []ledger.Event, next uint64, reached bool) {
	next = cursor
	for _, tx := range txs {
		if tx.ID == nil || !tx.ID.IsUint64() {
			continue
		}
		if tx.ID.Uint64() < cursor {
			return events, next, true
		}
		next = max(next, nextCursor(tx, cursor))
		if tx.Reverted || tx.Metadata["escrow_id"] == "" {
			continue
		}
		events = append(events, ledger.Event{
			Id:         "formance:" + tx.ID.String(),
			Name:       ledger.EventApproved,
			Address:    tx.Metadata["escrow_id"],
			TxHash:     tx.ID.String(),
			ObservedAt: tx.Timestamp,
		})
	}
	return events, next, false
}

func nextCursor(tx shared.V2Transaction, fallback uint64) uint64 {
	if tx.ID == nil || !tx.ID.IsUint64() {
		return fallback
	}
	return tx.ID.Uint64() + 1
}
