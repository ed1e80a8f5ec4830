// Package redact masks personal data in read results before they leave the
// gateway. Redaction is pure: inputs are never modified.
package redact

import (
	"fmt"
	"regexp"
	"strings"
)

// Mask replaces the whole value of a sensitive column.
const Mask = "***REDACTED***"

// Kind names a detected value pattern.
type Kind string

// Value pattern kinds.
const (
	KindEmail Kind = "EMAIL"
	KindCard  Kind = "CARD"
	KindSSN   Kind = "SSN"
	KindPhone Kind = "PHONE"
)

var (
	emailRe = regexp.MustCompile(`\b[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}\b`)
	// 13-19 digits, optionally grouped by spaces or dashes.
	cardRe = regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`)
	ssnRe  = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	// International (+CC ...) or North American (NNN) NNN-NNNN forms.
	phoneRe = regexp.MustCompile(`(?:\+\d{1,3}[ .\-]?)?(?:\(\d{3}\)|\b\d{3})[ .\-]\d{3}[ .\-]\d{4}\b`)
)

// defaultColumns are lower-case substrings of column names holding
// personal data.
var defaultColumns = []string{
	"email", "e_mail", "phone", "mobile", "fax",
	"ssn", "social_security", "tax_id", "national_id", "passport",
	"address", "street", "zip", "postal",
	"password", "passwd", "secret", "token", "api_key", "apikey",
	"card", "iban", "account_number", "cvv",
	"birth", "dob",
	"first_name", "last_name", "full_name", "middle_name", "customer_name", "contact_name", "surname",
	"ip_address",
}

// Redactor masks sensitive columns and values.
type Redactor struct {
	columns []string
}

// New returns a Redactor using the default column list plus extra column
// substrings (case-insensitive).
func New(extraColumns ...string) *Redactor {
	cols := make([]string, 0, len(defaultColumns)+len(extraColumns))
	cols = append(cols, defaultColumns...)
	for _, c := range extraColumns {
		c = strings.ToLower(strings.TrimSpace(c))
		if c != "" {
			cols = append(cols, c)
		}
	}
	return &Redactor{columns: cols}
}

// SensitiveColumn reports whether a column name indicates personal data.
func (r *Redactor) SensitiveColumn(name string) bool {
	lower := strings.ToLower(name)
	for _, c := range r.columns {
		if strings.Contains(lower, c) {
			return true
		}
	}
	return false
}

// RedactRows returns a copy of rows with sensitive columns masked and PII
// patterns removed from every other string cell.
func (r *Redactor) RedactRows(columns []string, rows [][]any) [][]any {
	sensitive := make([]bool, len(columns))
	for i, c := range columns {
		sensitive[i] = r.SensitiveColumn(c)
	}
	out := make([][]any, len(rows))
	for i, row := range rows {
		cp := make([]any, len(row))
		for j, v := range row {
			if j < len(sensitive) && sensitive[j] && v != nil {
				cp[j] = Mask
				continue
			}
			cp[j] = r.RedactValue(v)
		}
		out[i] = cp
	}
	return out
}

// RedactValue walks maps, slices and strings, masking sensitive keys and
// inline PII.
func (r *Redactor) RedactValue(v any) any {
	switch t := v.(type) {
	case string:
		return r.RedactText(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if r.SensitiveColumn(k) && val != nil {
				out[k] = Mask
				continue
			}
			out[k] = r.RedactValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = r.RedactValue(t[i])
		}
		return out
	case []string:
		out := make([]string, len(t))
		for i := range t {
			out[i] = r.RedactText(t[i])
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i := range t {
			out[i], _ = r.RedactValue(t[i]).(map[string]any)
		}
		return out
	default:
		return v
	}
}

// RedactText replaces inline emails, card numbers, SSNs and phone numbers
// with "[REDACTED:KIND]".
func (r *Redactor) RedactText(s string) string {
	if s == "" {
		return s
	}
	s = emailRe.ReplaceAllString(s, placeholder(KindEmail))
	s = cardRe.ReplaceAllStringFunc(s, func(m string) string {
		if !luhnValid(m) {
			return m
		}
		return placeholder(KindCard)
	})
	s = ssnRe.ReplaceAllString(s, placeholder(KindSSN))
	s = phoneRe.ReplaceAllString(s, placeholder(KindPhone))
	return s
}

func placeholder(k Kind) string {
	return fmt.Sprintf("[REDACTED:%s]", k)
}

// luhnValid checks the Luhn checksum of the digits in s.
func luhnValid(s string) bool {
	sum := 0
	double := false
	digits := 0
	for i := len(s) - 1; i >= 0; i-- {
		c := s[i]
		if c < '0' || c > '9' {
			continue
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
		digits++
	}
	return digits >= 13 && sum%10 == 0
}
