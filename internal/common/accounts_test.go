package common

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"escrow-sync-go/internal/ethereum"
	"escrow-sync-go/internal/ledger"
)

const hardhatKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
const hardhatAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

func TestParseAccounts(t *testing.T) {
	data := []byte(`
accounts:
  - name: depositor
    private_key: ` + hardhatKey + `
  - name: arbiter
    address: "0x00000000000000000000000000000000000000a1"
`)
	accounts, err := ParseAccounts(data)
	if err != nil {
		t.Fatalf("ParseAccounts failed: %v", err)
	}

	signer, err := accounts.Signer("Depositor")
	if err != nil {
		t.Fatalf("Signer failed: %v", err)
	}
	if _, ok := signer.(*ethereum.KeySigner); !ok {
		t.Errorf("Expected a key signer, got %T", signer)
	}
	if signer.Address() != hardhatAddress {
		t.Errorf("Expected %s, got %s", hardhatAddress, signer.Address())
	}

	byAddress, err := accounts.Signer(strings.ToLower(hardhatAddress))
	if err != nil || byAddress != signer {
		t.Errorf("Expected lookup by address to return the same signer, got %v (%v)", byAddress, err)
	}

	arbiter, err := accounts.Signer("arbiter")
	if err != nil {
		t.Fatalf("Signer failed: %v", err)
	}
	if arbiter != ledger.StaticSigner("0x00000000000000000000000000000000000000a1") {
		t.Errorf("Expected static arbiter signer, got %v", arbiter)
	}

	if got := accounts.Address("arbiter"); got != "0x00000000000000000000000000000000000000a1" {
		t.Errorf("Expected arbiter address, got %s", got)
	}
	if got := accounts.Address(" 0xbeef "); got != "0xbeef" {
		t.Errorf("Expected unknown id returned as given, got %s", got)
	}
	if names := accounts.Names(); len(names) != 2 {
		t.Errorf("Expected 2 names, got %v", names)
	}
}

func TestParseAccountsRejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing name", "accounts:\n  - address: \"0x01\"\n"},
		{"missing address and key", "accounts:\n  - name: alice\n"},
		{"bad key", "accounts:\n  - name: alice\n    private_key: nothex\n"},
		{"mismatched address", "accounts:\n  - name: alice\n    address: \"0x00000000000000000000000000000000000000a1\"\n    private_key: " + hardhatKey + "\n"},
		{"not yaml", "accounts: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseAccounts([]byte(tt.data)); err == nil {
				t.Errorf("Expected error for %s", tt.name)
			}
		})
	}
}

func TestSignerFallsBackToStatic(t *testing.T) {
	accounts, err := ParseAccounts(nil)
	if err != nil {
		t.Fatalf("ParseAccounts failed: %v", err)
	}
	signer, err := accounts.Signer("carol")
	if err != nil {
		t.Fatalf("Signer failed: %v", err)
	}
	if signer.Address() != "carol" {
		t.Errorf("Expected carol, got %s", signer.Address())
	}
	if _, err := accounts.Signer("  "); err == nil {
		t.Error("Expected error for empty account")
	}
}

func TestLoadAccountsMissingFile(t *testing.T) {
	accounts, err := LoadAccounts(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadAccounts failed: %v", err)
	}
	if len(accounts.Names()) != 0 {
		t.Errorf("Expected no accounts, got %v", accounts.Names())
	}
}

func TestLoadAccountsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	if err := os.WriteFile(path, []byte("accounts:\n  - name: bob\n    address: \"0x00000000000000000000000000000000000000b1\"\n"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	accounts, err := LoadAccounts(path)
	if err != nil {
		t.Fatalf("LoadAccounts failed: %v", err)
	}
	if got := accounts.Address("BOB"); got != "0x00000000000000000000000000000000000000b1" {
		t.Errorf("Expected bob's address, got %s", got)
	}
}
