package common

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"escrow-sync-go/internal/ethereum"
	"escrow-sync-go/internal/ledger"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// AccountConfig is one named signer. PrivateKey is optional; without it the
// account can only be used against ledgers that need no key material.
type AccountConfig struct {
	Name       string `yaml:"name"`
	Address    string `yaml:"address"`
	PrivateKey string `yaml:"private_key"`
}

type AccountsConfig struct {
	Accounts []AccountConfig `yaml:"accounts"`
}

// Accounts resolves names and addresses to ledger signers.
type Accounts struct {
	signers map[string]ledger.Signer
	names   []string
}

func LoadAccounts(accountsFile string) (*Accounts, error) {
	accountsPath := accountsFile
	if !filepath.IsAbs(accountsFile) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		accountsPath = filepath.Join(wd, accountsFile)
	}

	data, err := os.ReadFile(accountsPath)
	if errors.Is(err, os.ErrNotExist) {
		zap.L().Info("No accounts file, signers resolve to bare identities", zap.String("path", accountsPath))
		return ParseAccounts(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", accountsFile, err)
	}
	return ParseAccounts(data)
}

func ParseAccounts(data []byte) (*Accounts, error) {
	var config AccountsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unable to parse accounts: %w", err)
	}

	accounts := &Accounts{signers: make(map[string]ledger.Signer)}
	for i, acct := range config.Accounts {
		if acct.Name == "" {
			return nil, fmt.Errorf("account at index %d missing name", i)
		}

		var signer ledger.Signer
		switch {
		case acct.PrivateKey != "":
			keySigner, err := ethereum.NewKeySigner(acct.PrivateKey)
			if err != nil {
				return nil, fmt.Errorf("account %s: %w", acct.Name, err)
			}
			if acct.Address != "" && !strings.EqualFold(acct.Address, keySigner.Address()) {
				return nil, fmt.Errorf("account %s: address %s does not match private key (%s)", acct.Name, acct.Address, keySigner.Address())
			}
			signer = keySigner
		case acct.Address != "":
			signer = ledger.StaticSigner(acct.Address)
		default:
			return nil, fmt.Errorf("account %s needs an address or a private_key", acct.Name)
		}

		accounts.signers[strings.ToLower(acct.Name)] = signer
		accounts.signers[strings.ToLower(signer.Address())] = signer
		accounts.names = append(accounts.names, acct.Name)
	}
	return accounts, nil
}

// Signer resolves a configured name or address. Unknown identities become a
// StaticSigner so key-less ledgers still work.
func (a *Accounts) Signer(id string) (ledger.Signer, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("account is required")
	}
	if signer, ok := a.signers[strings.ToLower(id)]; ok {
		return signer, nil
	}
	return ledger.StaticSigner(id), nil
}

// Address resolves a name to its address; anything else is returned as given.
func (a *Accounts) Address(id string) string {
	if signer, ok := a.signers[strings.ToLower(strings.TrimSpace(id))]; ok {
		return signer.Address()
	}
	return strings.TrimSpace(id)
}

func (a *Accounts) Names() []string {
	return append([]string(nil), a.names...)
}
