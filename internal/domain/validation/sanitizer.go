package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Size limits for sanitization.
const (
	// MaxStringLength is the maximum length of any argument string (64KB).
	MaxStringLength = 65536

	// MaxJustificationLength caps the justification text (8KB).
	MaxJustificationLength = 8192

	// MaxActionNameLength is the maximum length of an action name.
	MaxActionNameLength = 128

	// MaxArgumentDepth limits nesting of argument objects and arrays.
	MaxArgumentDepth = 8
)

// ErrInvalidActionName is returned for malformed action names.
var ErrInvalidActionName = errors.New("invalid action name")

// ErrArgumentsTooDeep is returned when arguments nest deeper than MaxArgumentDepth.
var ErrArgumentsTooDeep = errors.New("arguments nested too deeply")

// actionNamePattern: a letter, then letters, digits, underscores or hyphens.
var actionNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// Sanitizer cleans untrusted proposal input before it is hashed or shown to
// the validator.
type Sanitizer struct{}

// NewSanitizer creates a new Sanitizer instance.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{}
}

// ValidateActionName rejects empty, oversized, path-like or otherwise
// malformed action names.
func (s *Sanitizer) ValidateActionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidActionName)
	}
	if len(name) > MaxActionNameLength {
		return fmt.Errorf("%w: name too long", ErrInvalidActionName)
	}
	if strings.Contains(name, "..") || strings.Contains(name, "/") {
		return fmt.Errorf("%w: invalid characters", ErrInvalidActionName)
	}
	if !actionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: invalid format", ErrInvalidActionName)
	}
	return nil
}

// SanitizeArguments returns a sanitized copy of args.
func (s *Sanitizer) SanitizeArguments(args map[string]any) (map[string]any, error) {
	if args == nil {
		return map[string]any{}, nil
	}
	v, err := s.sanitizeValue(args, 0)
	if err != nil {
		return nil, err
	}
	return v.(map[string]any), nil
}

// SanitizeText removes null bytes and control characters other than
// newline and tab, and truncates to max bytes.
func (s *Sanitizer) SanitizeText(str string, max int) string {
	str = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, str)
	if max > 0 && len(str) > max {
		str = str[:max]
		// Do not leave a split UTF-8 sequence at the end.
		str = strings.ToValidUTF8(str, "")
	}
	return str
}

func (s *Sanitizer) sanitizeValue(v any, depth int) (any, error) {
	if depth > MaxArgumentDepth {
		return nil, ErrArgumentsTooDeep
	}
	switch val := v.(type) {
	case string:
		str := strings.ReplaceAll(val, "\x00", "")
		if len(str) > MaxStringLength {
			str = strings.ToValidUTF8(str[:MaxStringLength], "")
		}
		return str, nil

	case map[string]any:
		result := make(map[string]any, len(val))
		for k, item := range val {
			sanitized, err := s.sanitizeValue(item, depth+1)
			if err != nil {
				return nil, err
			}
			result[strings.ReplaceAll(k, "\x00", "")] = sanitized
		}
		return result, nil

	case []any:
		result := make([]any, len(val))
		for i, item := range val {
			sanitized, err := s.sanitizeValue(item, depth+1)
			if err != nil {
				return nil, err
			}
			result[i] = sanitized
		}
		return result, nil

	default:
		// Numbers, booleans and nil pass through unchanged.
		return v, nil
	}
}
