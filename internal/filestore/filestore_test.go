package filestore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"escrow-sync-go/internal/models"
	"escrow-sync-go/internal/store"
)

func setupTestStore(t *testing.T) (*Store, string) {
	path := filepath.Join(t.TempDir(), "contracts.json")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s, path
}

func TestListAllMissingFile(t *testing.T) {
	s, _ := setupTestStore(t)

	agreements, err := s.ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	if len(agreements) != 0 {
		t.Errorf("Expected empty mirror, got %d", len(agreements))
	}
}

func TestAppendUpdateRoundTrip(t *testing.T) {
	s, path := setupTestStore(t)
	ctx := context.Background()

	a := models.Agreement{Address: "0xAbc", Arbiter: "0xa1", Beneficiary: "0xb1", Value: "7", StartedAt: 1700000000}
	if _, err := s.Append(ctx, a); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if _, err := s.Append(ctx, models.Agreement{Address: "0xabc"}); !errors.Is(err, store.ErrConflict) {
		t.Errorf("Expected ErrConflict for same address in other case, got %v", err)
	}

	updated, err := s.UpdateApproval(ctx, "0xABC", 1700000500)
	if err != nil {
		t.Fatalf("UpdateApproval failed: %v", err)
	}
	if !updated.IsApproved || *updated.ApprovedAt != 1700000500 {
		t.Errorf("Expected approved at 1700000500, got %+v", updated)
	}

	again, err := s.UpdateApproval(ctx, "0xabc", 1800000000)
	if err != nil {
		t.Fatalf("Second UpdateApproval failed: %v", err)
	}
	if *again.ApprovedAt != 1700000500 {
		t.Errorf("Expected approvedAt unchanged, got %d", *again.ApprovedAt)
	}

	// A fresh store on the same file sees the same state.
	reopened, err := New(path)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	all, err := reopened.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	if len(all) != 1 || all[0].Value != "7" || !all[0].IsApproved {
		t.Errorf("Unexpected persisted state: %+v", all)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !strings.Contains(string(data), "\n  {") || !strings.Contains(string(data), `"isApproved": true`) {
		t.Errorf("Expected pretty-printed JSON array, got %s", data)
	}
}

func TestUpdateApprovalNotFound(t *testing.T) {
	s, _ := setupTestStore(t)

	if _, err := s.UpdateApproval(context.Background(), "0xmissing", 1); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestLegacyRecordsAreNormalized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contracts.json")
	legacy := `[
  {"address": "0x01", "arbiter": "0xa", "beneficiary": "0xb", "value": "1", "startedAt": 1, "approvedAt": null},
  {"address": "0x02", "arbiter": "0xa", "beneficiary": "0xb", "value": "2", "startedAt": 2, "approvedAt": 5}
]`
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	s, err := New(path)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	all, err := s.ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}

	if all[0].IsApproved || all[0].ApprovedAt != nil {
		t.Errorf("Expected first record pending, got %+v", all[0])
	}
	if !all[1].IsApproved {
		t.Errorf("Expected record with approvedAt to be approved, got %+v", all[1])
	}
}

func TestNewRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contracts.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := New(path); err == nil {
		t.Errorf("Expected error for corrupt file")
	}
}
