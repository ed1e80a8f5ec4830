package validation

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSanitizer_ValidActionName(t *testing.T) {
	s := NewSanitizer()

	validNames := []string{
		"restart_deployment",
		"scale_deployment",
		"list-pods",
		"a",
		"Tool123",
	}

	for _, name := range validNames {
		t.Run(name, func(t *testing.T) {
			if err := s.ValidateActionName(name); err != nil {
				t.Errorf("ValidateActionName(%q) = %v, want nil", name, err)
			}
		})
	}
}

func TestSanitizer_InvalidActionName(t *testing.T) {
	s := NewSanitizer()

	invalidNames := map[string]string{
		"empty":       "",
		"too long":    "a" + strings.Repeat("b", MaxActionNameLength),
		"traversal":   "../etc/passwd",
		"slash":       "k8s/restart",
		"leading num": "1tool",
		"space":       "restart deployment",
		"semicolon":   "restart;drop",
		"unicode":     "restart_déployment",
	}

	for name, input := range invalidNames {
		t.Run(name, func(t *testing.T) {
			err := s.ValidateActionName(input)
			if !errors.Is(err, ErrInvalidActionName) {
				t.Errorf("ValidateActionName(%q) = %v, want ErrInvalidActionName", input, err)
			}
		})
	}
}

func TestSanitizer_SanitizeArguments(t *testing.T) {
	s := NewSanitizer()

	in := map[string]any{
		"name":     "payment\x00-service",
		"replicas": 3,
		"nested":   map[string]any{"k\x00ey": []any{"a\x00b", true, nil}},
	}
	got, err := s.SanitizeArguments(in)
	if err != nil {
		t.Fatalf("SanitizeArguments() error = %v", err)
	}
	if got["name"] != "payment-service" {
		t.Errorf("name = %q", got["name"])
	}
	if got["replicas"] != 3 {
		t.Errorf("replicas = %v", got["replicas"])
	}
	nested := got["nested"].(map[string]any)
	list, ok := nested["key"].([]any)
	if !ok {
		t.Fatalf("nested key not sanitized: %v", nested)
	}
	if list[0] != "ab" || list[1] != true || list[2] != nil {
		t.Errorf("list = %v", list)
	}
	if in["name"] != "payment\x00-service" {
		t.Error("input was modified")
	}
}

func TestSanitizer_SanitizeArguments_Nil(t *testing.T) {
	got, err := NewSanitizer().SanitizeArguments(nil)
	if err != nil || got == nil || len(got) != 0 {
		t.Errorf("SanitizeArguments(nil) = %v, %v", got, err)
	}
}

func TestSanitizer_SanitizeArguments_TooDeep(t *testing.T) {
	var v any = "leaf"
	for i := 0; i < MaxArgumentDepth+2; i++ {
		v = map[string]any{"n": v}
	}
	_, err := NewSanitizer().SanitizeArguments(v.(map[string]any))
	if !errors.Is(err, ErrArgumentsTooDeep) {
		t.Errorf("error = %v, want ErrArgumentsTooDeep", err)
	}
}

func TestSanitizer_SanitizeArguments_Truncates(t *testing.T) {
	long := strings.Repeat("x", MaxStringLength+10)
	got, err := NewSanitizer().SanitizeArguments(map[string]any{"s": long})
	if err != nil {
		t.Fatal(err)
	}
	if n := len(got["s"].(string)); n != MaxStringLength {
		t.Errorf("len = %d, want %d", n, MaxStringLength)
	}
}

func TestSanitizer_SanitizeText(t *testing.T) {
	s := NewSanitizer()

	if got := s.SanitizeText("line1\nline2\t\x00\x1b[31m", 0); got != "line1\nline2\t[31m" {
		t.Errorf("SanitizeText() = %q", got)
	}

	got := s.SanitizeText(strings.Repeat("é", 10), 5)
	if !utf8.ValidString(got) || len(got) > 5 {
		t.Errorf("truncation produced %q", got)
	}
}
