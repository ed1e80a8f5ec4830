// Package statement classifies data-access statements as read-only or
// mutating. Anything that cannot be proven read-only is mutating.
package statement

import (
	"fmt"
	"strings"
)

// Label is the verdict of a classification.
type Label string

const (
	// LabelRead marks a statement proven to be a pure read.
	LabelRead Label = "read"
	// LabelMutating marks everything else.
	LabelMutating Label = "mutating"
)

// Rule names the check that produced a classification.
type Rule string

// Classification rules.
const (
	RuleReadOnly            Rule = "read_only"
	RuleEmpty               Rule = "empty_statement"
	RuleUnterminated        Rule = "unterminated_input"
	RuleNonKeywordStart     Rule = "non_keyword_start"
	RuleLeadingKeyword      Rule = "leading_keyword"
	RuleExplainAnalyze      Rule = "explain_analyze"
	RuleMutatingKeyword     Rule = "mutating_keyword"
	RuleSelectInto          Rule = "select_into"
	RuleLockingClause       Rule = "locking_clause"
	RulePrivilegedProcedure Rule = "privileged_procedure"
	RuleOpaqueIdentifier    Rule = "opaque_identifier"
)

// Classification is the ephemeral result of Classify.
type Classification struct {
	// Statement is the original input, unmodified.
	Statement string `json:"statement"`
	Label     Label  `json:"label"`
	Rule      Rule   `json:"rule"`
	// Keyword is the token that triggered the rule, upper-cased. For
	// read-only statements it is the leading keyword.
	Keyword string `json:"keyword,omitempty"`
	// Index is the zero-based sub-statement that decided the label.
	Index int `json:"index"`
}

// IsRead reports whether the statement may reach a read-only executor.
func (c Classification) IsRead() bool {
	return c.Label == LabelRead
}

// Reason returns a human-readable explanation of the classification.
func (c Classification) Reason() string {
	switch c.Rule {
	case RuleReadOnly:
		return "statement is read-only"
	case RuleEmpty:
		return "statement is empty"
	case RuleUnterminated:
		return "statement contains an unterminated literal or comment"
	case RuleNonKeywordStart:
		return "statement does not start with a keyword"
	case RuleLeadingKeyword:
		return fmt.Sprintf("leading keyword %s is not a read keyword", c.Keyword)
	case RuleExplainAnalyze:
		return "EXPLAIN ANALYZE executes the statement"
	case RuleMutatingKeyword:
		return fmt.Sprintf("statement contains mutating keyword %s", c.Keyword)
	case RuleSelectInto:
		return "SELECT INTO creates a table"
	case RuleLockingClause:
		return fmt.Sprintf("locking clause FOR %s takes row locks", c.Keyword)
	case RulePrivilegedProcedure:
		return fmt.Sprintf("statement calls privileged function %s", strings.ToLower(c.Keyword))
	case RuleOpaqueIdentifier:
		return "statement contains an identifier with undecodable escapes"
	default:
		return string(c.Rule)
	}
}

var readKeywords = map[string]bool{
	"SELECT":  true,
	"WITH":    true,
	"EXPLAIN": true,
}

var mutatingKeywords = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "MERGE": true, "UPSERT": true,
	"DROP": true, "ALTER": true, "CREATE": true, "TRUNCATE": true, "RENAME": true,
	"GRANT": true, "REVOKE": true,
	"EXEC": true, "EXECUTE": true, "CALL": true, "DO": true, "PREPARE": true, "DEALLOCATE": true,
	"COPY": true, "LOAD": true, "IMPORT": true,
	"VACUUM": true, "ANALYZE": true, "REINDEX": true, "CLUSTER": true, "REFRESH": true, "CHECKPOINT": true,
	"ATTACH": true, "DETACH": true, "PRAGMA": true,
	"SET": true, "RESET": true, "DISCARD": true, "LOCK": true,
	"NOTIFY": true, "LISTEN": true, "UNLISTEN": true,
	"BEGIN": true, "COMMIT": true, "ROLLBACK": true, "SAVEPOINT": true, "RELEASE": true,
}

var lockStrengths = map[string]bool{
	"UPDATE": true,
	"SHARE":  true,
	"NO":     true,
	"KEY":    true,
}

var privilegedPrefixes = []string{
	"PG_READ_", "PG_WRITE_", "PG_FILE_", "LO_", "DBLINK",
	"PG_TERMINATE_", "PG_CANCEL_", "PG_RELOAD_", "PG_ROTATE_", "PG_PROMOTE",
	"PG_SWITCH_", "PG_CREATE_", "PG_DROP_", "PG_ADVISORY", "PG_REPLICATION_",
	"PG_LOGICAL_", "PG_IMPORT_", "PG_EXPORT_",
	"XP_", "SP_",
}

var privilegedNames = map[string]bool{
	"SET_CONFIG":   true,
	"NEXTVAL":      true,
	"SETVAL":       true,
	"PG_LS_DIR":    true,
	"PG_STAT_FILE": true,
	"PG_SLEEP":     true,
	"QUERY_TO_XML": true,
	"DBMS_SQL":     true,
	"LOAD_FILE":    true,
}

func isPrivileged(name string) bool {
	if privilegedNames[name] {
		return true
	}
	for _, p := range privilegedPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// Classify labels statement as read or mutating. It never rewrites the
// input and is deterministic.
func Classify(statement string) Classification {
	result := Classification{Statement: statement, Label: LabelMutating}

	tokens, ok := lex(statement)
	if !ok {
		result.Rule = RuleUnterminated
		return result
	}

	segments := split(tokens)
	if len(segments) == 0 {
		result.Rule = RuleEmpty
		return result
	}

	for i, seg := range segments {
		rule, keyword := classifySegment(seg)
		if rule != RuleReadOnly {
			result.Rule = rule
			result.Keyword = keyword
			result.Index = i
			return result
		}
	}

	result.Label = LabelRead
	result.Rule = RuleReadOnly
	result.Keyword = segments[0][0].text
	return result
}

// split cuts tokens at semicolons, dropping empty sub-statements.
func split(tokens []token) [][]token {
	var segments [][]token
	start := 0
	for i, tok := range tokens {
		if tok.kind != tokSemicolon {
			continue
		}
		if i > start {
			segments = append(segments, tokens[start:i])
		}
		start = i + 1
	}
	if start < len(tokens) {
		segments = append(segments, tokens[start:])
	}
	return segments
}

func classifySegment(seg []token) (Rule, string) {
	lead := seg[0]
	if lead.kind != tokWord {
		return RuleNonKeywordStart, lead.text
	}
	if !readKeywords[lead.text] {
		return RuleLeadingKeyword, lead.text
	}
	if lead.text == "EXPLAIN" {
		for _, tok := range seg[1:] {
			if tok.kind == tokWord && tok.text == "ANALYZE" {
				return RuleExplainAnalyze, tok.text
			}
		}
	}

	for i, tok := range seg {
		switch tok.kind {
		case tokWord:
			if tok.text == "FOR" && i+1 < len(seg) && seg[i+1].kind == tokWord && lockStrengths[seg[i+1].text] {
				return RuleLockingClause, seg[i+1].text
			}
			if tok.text == "INTO" {
				return RuleSelectInto, tok.text
			}
			if mutatingKeywords[tok.text] {
				return RuleMutatingKeyword, tok.text
			}
			if isPrivileged(tok.text) {
				return RulePrivilegedProcedure, tok.text
			}
		case tokQuotedIdent:
			if isPrivileged(tok.text) {
				return RulePrivilegedProcedure, tok.text
			}
		case tokOpaque:
			return RuleOpaqueIdentifier, tok.text
		}
	}
	return RuleReadOnly, lead.text
}
