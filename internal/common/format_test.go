package common

import "testing"

func TestFormatUnixTime(t *testing.T) {
	if got := FormatUnixTime(nil); got != "-" {
		t.Errorf("Expected -, got %s", got)
	}
	at := int64(1700000000)
	if got := FormatUnixTime(&at); got != "2023-11-14 22:13:20" {
		t.Errorf("Expected 2023-11-14 22:13:20, got %s", got)
	}
}

func TestFormatAgreementValue(t *testing.T) {
	tests := []struct {
		value string
		kind  string
		want  string
	}{
		{"1500000000000000000", "ether", "1.5 ether"},
		{"2000000000", "gwei", "2 gwei"},
		{"42", "wei", "42 wei"},
		{"42", "florins", "42"},
		{"not-a-number", "ether", "not-a-number"},
	}
	for _, tt := range tests {
		if got := FormatAgreementValue(tt.value, tt.kind); got != tt.want {
			t.Errorf("FormatAgreementValue(%q, %q) = %q, want %q", tt.value, tt.kind, got, tt.want)
		}
	}
}
