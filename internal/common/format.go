package common

import (
	"fmt"
	"strings"
	"time"

	"escrow-sync-go/internal/escrow"
	"escrow-sync-go/internal/models"
)

const (
	DefaultWidth = 80
	WideWidth    = 100
)

func PrintSeparator(char string, width int) {
	fmt.Println(strings.Repeat(char, width))
}

// PrintHeader prints a formatted header with title and separators
func PrintHeader(title string, width int) {
	fmt.Println("\n" + strings.Repeat("=", width))
	fmt.Println(title)
	PrintSeparator("=", width)
}

// PrintFooter prints a formatted footer with message and separators
func PrintFooter(message string, width int) {
	fmt.Println("\n" + strings.Repeat("=", width))
	fmt.Println(message)
	fmt.Println(strings.Repeat("=", width) + "\n")
}

// BoxPrefix returns the box-drawing prefix for list items
func BoxPrefix(isLast bool) string {
	if isLast {
		return "└  "
	}
	return "│  "
}

// FormatUnixTime renders a unix-seconds timestamp, or "-" when unset.
func FormatUnixTime(unix *int64) string {
	if unix == nil {
		return "-"
	}
	return time.Unix(*unix, 0).UTC().Format("2006-01-02 15:04:05")
}

// FormatAgreementValue renders a base-unit value in kind, falling back to the raw value.
func FormatAgreementValue(value, kind string) string {
	formatted, err := escrow.FormatUnits(value, kind)
	if err != nil {
		return value
	}
	return formatted + " " + kind
}

// PrintAgreement prints one agreement as a box section.
func PrintAgreement(a models.Agreement, kind string) {
	status := "pending"
	if a.IsApproved {
		status = "approved"
	}

	fmt.Printf("\n┌─ Agreement: %s (%s)\n", a.Address, status)
	lines := [][2]string{
		{"Arbiter", a.Arbiter},
		{"Beneficiary", a.Beneficiary},
		{"Depositor", a.Depositor},
		{"Value", FormatAgreementValue(a.Value, kind)},
		{"Started", FormatUnixTime(&a.StartedAt)},
		{"Approved", FormatUnixTime(a.ApprovedAt)},
	}
	for i, line := range lines {
		if line[1] == "" {
			line[1] = "-"
		}
		fmt.Printf("%s%-12s: %s\n", BoxPrefix(i == len(lines)-1), line[0], line[1])
	}
}
