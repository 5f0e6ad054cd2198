package escrow

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// sameAccount compares two account identifiers. Hex addresses compare by
// value, anything else case-insensitively.
func sameAccount(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if common.IsHexAddress(a) && common.IsHexAddress(b) {
		return common.HexToAddress(a) == common.HexToAddress(b)
	}
	return strings.EqualFold(a, b)
}

// validateParties enforces that depositor, arbiter and beneficiary are three
// distinct accounts.
func validateParties(depositor, arbiter, beneficiary string) error {
	if strings.TrimSpace(arbiter) == "" {
		return &ValidationError{First: "arbiter", Reason: "Arbiter address is required"}
	}
	if strings.TrimSpace(beneficiary) == "" {
		return &ValidationError{First: "beneficiary", Reason: "Beneficiary address is required"}
	}
	if sameAccount(arbiter, beneficiary) {
		return &ValidationError{First: "arbiter", Second: "beneficiary", Reason: "Arbiter and Beneficiary cannot be the same address"}
	}
	if sameAccount(arbiter, depositor) {
		return &ValidationError{First: "arbiter", Second: "depositor", Reason: "Arbiter cannot be the same as the signer"}
	}
	if sameAccount(beneficiary, depositor) {
		return &ValidationError{First: "beneficiary", Second: "depositor", Reason: "Beneficiary cannot be the same as the signer"}
	}
	return nil
}

func addressKey(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
