package redact

import (
	"strings"
	"testing"
)

func TestRedactor_RedactText(t *testing.T) {
	r := New()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"email", "contact alice@example.com now", "contact [REDACTED:EMAIL] now"},
		{"visa", "card 4111 1111 1111 1111 used", "card [REDACTED:CARD] used"},
		{"visa dashed", "4111-1111-1111-1111", "[REDACTED:CARD]"},
		{"non luhn digits kept", "order 1234567890123", "order 1234567890123"},
		{"ssn", "ssn 123-45-6789", "ssn [REDACTED:SSN]"},
		{"us phone", "call (555) 123-4567", "call [REDACTED:PHONE]"},
		{"intl phone", "call +1 555-123-4567", "call [REDACTED:PHONE]"},
		{"plain numbers kept", "replicas 3 of 5, latency 320ms", "replicas 3 of 5, latency 320ms"},
		{"timestamp kept", "2026-02-14T01:15:32Z restart", "2026-02-14T01:15:32Z restart"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.RedactText(tt.in); got != tt.want {
				t.Errorf("RedactText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRedactor_SensitiveColumn(t *testing.T) {
	r := New("loyalty_id")

	tests := []struct {
		column string
		want   bool
	}{
		{"email", true},
		{"Customer_Email", true},
		{"phone_number", true},
		{"first_name", true},
		{"shipping_address", true},
		{"card_last4", true},
		{"date_of_birth", true},
		{"loyalty_id", true},
		{"name", false},
		{"product_name", false},
		{"table_name", false},
		{"status", false},
		{"total_amount", false},
		{"id", false},
	}
	for _, tt := range tests {
		t.Run(tt.column, func(t *testing.T) {
			if got := r.SensitiveColumn(tt.column); got != tt.want {
				t.Errorf("SensitiveColumn(%q) = %v, want %v", tt.column, got, tt.want)
			}
		})
	}
}

func TestRedactor_RedactRows(t *testing.T) {
	r := New()
	columns := []string{"id", "first_name", "email", "note", "total"}
	rows := [][]any{
		{int64(1), "Alice", "alice@example.com", "called 555-123-4567", 12.5},
		{int64(2), nil, "bob@example.com", "ok", 3.0},
	}

	got := r.RedactRows(columns, rows)

	if got[0][0] != int64(1) || got[0][4] != 12.5 {
		t.Errorf("non-sensitive values changed: %v", got[0])
	}
	if got[0][1] != Mask || got[0][2] != Mask {
		t.Errorf("sensitive columns not masked: %v", got[0])
	}
	if got[0][3] != "called [REDACTED:PHONE]" {
		t.Errorf("inline phone not redacted: %v", got[0][3])
	}
	if got[1][1] != nil {
		t.Errorf("NULL sensitive value should stay NULL, got %v", got[1][1])
	}
	if rows[0][2] != "alice@example.com" {
		t.Error("input rows were modified")
	}
}

func TestRedactor_RedactValue(t *testing.T) {
	r := New()
	in := map[string]any{
		"deployment": "payment-service",
		"owner": map[string]any{
			"email": "ops@example.com",
			"team":  "payments",
		},
		"logs": []any{"user jane@example.com logged in", int64(3)},
	}

	got := r.RedactValue(in).(map[string]any)

	if got["deployment"] != "payment-service" {
		t.Errorf("deployment = %v", got["deployment"])
	}
	owner := got["owner"].(map[string]any)
	if owner["email"] != Mask || owner["team"] != "payments" {
		t.Errorf("owner = %v", owner)
	}
	logs := got["logs"].([]any)
	if !strings.Contains(logs[0].(string), "[REDACTED:EMAIL]") || logs[1] != int64(3) {
		t.Errorf("logs = %v", logs)
	}
	if in["owner"].(map[string]any)["email"] != "ops@example.com" {
		t.Error("input map was modified")
	}
}

func TestLuhnValid(t *testing.T) {
	if !luhnValid("4111111111111111") {
		t.Error("test visa should be valid")
	}
	if luhnValid("4111111111111112") {
		t.Error("bad checksum should be invalid")
	}
	if luhnValid("0000") {
		t.Error("too short should be invalid")
	}
}
