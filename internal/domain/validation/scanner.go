package validation

import (
	"regexp"
)

// Finding is a single injection pattern match.
type Finding struct {
	// Pattern is the identifier of the matched pattern.
	Pattern string
	// Category groups related patterns.
	Category string
	// Text is the matched text, truncated to 100 bytes.
	Text string
	// Position is the byte offset of the match.
	Position int
}

type compiledPattern struct {
	name     string
	category string
	re       *regexp.Regexp
}

// InjectionScanner detects text that tries to instruct the validator
// instead of describing the infrastructure situation.
type InjectionScanner struct {
	patterns []compiledPattern
}

// NewInjectionScanner compiles the built-in patterns.
func NewInjectionScanner() *InjectionScanner {
	rawPatterns := []struct {
		name     string
		category string
		pattern  string
	}{
		{
			name:     "system_prompt_override",
			category: "prompt_injection",
			pattern:  `(?i)(?:ignore|disregard|forget)\s+(?:all\s+)?(?:previous|prior|above|earlier|your)\s+(?:instructions|prompts|rules|context|guidelines)`,
		},
		{
			name:     "role_hijack",
			category: "prompt_injection",
			pattern:  `(?i)you\s+are\s+(?:now|actually|really)\s+(?:a|an|my)\s+`,
		},
		{
			name:     "instruction_injection",
			category: "prompt_injection",
			pattern:  `(?i)(?:new\s+instructions?|updated?\s+(?:instructions?|rules?|prompt)):\s*`,
		},
		{
			name:     "system_tag_injection",
			category: "prompt_injection",
			pattern:  `(?i)<\s*/?\s*(?:system|assistant|user|human|ai)\s*>`,
		},
		{
			name:     "jailbreak",
			category: "prompt_injection",
			pattern:  `(?i)\b(?:DAN|do\s+anything\s+now|jailbreak|ignore\s+safety)\b`,
		},
		{
			name:     "validator_directive",
			category: "validator_addressed",
			pattern:  `(?i)\b(?:validator|reviewer|judge|safety\s+check|guardrails?)\b[^.\n]{0,40}?\b(?:must|should|shall|will|please|needs?\s+to)\s+(?:approve|allow|accept|permit|pass|ignore|skip|bypass)`,
		},
		{
			name:     "validator_vocative",
			category: "validator_addressed",
			pattern:  `(?i)(?:\b(?:dear|hey|hi|hello|attention|note\s+(?:to|for))\s+(?:the\s+)?(?:validators?|reviewers?|judges?|approvers?)\b|(?:^|[.!?\n]\s*)(?:(?:the|to\s+the)\s+)?(?:validators?|reviewers?|judges?|approvers?)\s*[,:])`,
		},
		{
			name:     "validator_approval",
			category: "validator_addressed",
			pattern:  `(?i)\b(?:validators?|reviewers?|judges?|approvers?)\b[^.\n]{0,40}?\b(?:approve|allow|accept|permit|pass|sign\s+off\s+on)\b|\b(?:approve|allow|accept|permit)\b[^.\n]{0,40}?\b(?:validators?|reviewers?|judges?)\b`,
		},
		{
			name:     "check_bypass",
			category: "validator_addressed",
			pattern:  `(?i)\b(?:bypass|skip|disable|override|ignore)\s+(?:the\s+|all\s+|any\s+)?(?:validation|validator|review|confirmation|safety|security|checks?|guardrails?|polic(?:y|ies))\b`,
		},
		{
			name:     "verdict_dictation",
			category: "validator_addressed",
			pattern:  `(?i)(?:\b(?:respond|answer|reply|output|return)\s+(?:only\s+)?(?:with\s+)?["']?(?:allow(?:ed)?|approved?|yes|true)\b|\ballow\s*[=:]\s*true\b|\bverdict\s*[=:])`,
		},
	}

	compiled := make([]compiledPattern, 0, len(rawPatterns))
	for _, rp := range rawPatterns {
		compiled = append(compiled, compiledPattern{
			name:     rp.name,
			category: rp.category,
			re:       regexp.MustCompile(rp.pattern),
		})
	}
	return &InjectionScanner{patterns: compiled}
}

// Scan returns every match in content.
func (s *InjectionScanner) Scan(content string) []Finding {
	if content == "" {
		return nil
	}
	var findings []Finding
	for _, p := range s.patterns {
		for _, loc := range p.re.FindAllStringIndex(content, -1) {
			text := content[loc[0]:loc[1]]
			if len(text) > 100 {
				text = text[:100]
			}
			findings = append(findings, Finding{
				Pattern:  p.name,
				Category: p.category,
				Text:     text,
				Position: loc[0],
			})
		}
	}
	return findings
}
