package escrow

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Denominations accepted for an agreement value.
const (
	UnitWei   = "wei"
	UnitGwei  = "gwei"
	UnitEther = "ether"
)

var unitExponents = map[string]int32{
	UnitWei:   0,
	UnitGwei:  9,
	UnitEther: 18,
}

// ToBaseUnits converts value expressed in kind into a positive integer amount of wei.
func ToBaseUnits(value, kind string) (*big.Int, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		kind = UnitWei
	}
	exp, ok := unitExponents[kind]
	if !ok {
		return nil, fmt.Errorf("unsupported unit %q", kind)
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("invalid value %q: %w", value, err)
	}

	base := amount.Shift(exp)
	if !base.IsInteger() {
		return nil, fmt.Errorf("value %s %s is not a whole number of wei", value, kind)
	}
	if base.Sign() <= 0 {
		return nil, fmt.Errorf("value must be greater than zero")
	}

	return base.BigInt(), nil
}

// FormatUnits renders a wei amount in kind, trimming trailing zeros.
func FormatUnits(wei string, kind string) (string, error) {
	exp, ok := unitExponents[strings.ToLower(kind)]
	if !ok {
		return "", fmt.Errorf("unsupported unit %q", kind)
	}
	amount, err := decimal.NewFromString(wei)
	if err != nil {
		return "", fmt.Errorf("invalid amount %q: %w", wei, err)
	}
	return amount.Shift(-exp).String(), nil
}
