package validation

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/Sentinel-Gate/infragate/internal/domain/proposal"
)

// confirmationRule blocks proposals without recorded confirmation evidence
// for their exact content hash.
type confirmationRule struct{}

func (confirmationRule) Name() string { return RuleConfirmationMissing }

func (confirmationRule) Check(_ context.Context, p *proposal.Proposal, conv ConversationContext) (string, bool, error) {
	if conv.HasConfirmation(p.Hash()) {
		return "", false, nil
	}
	return "no explicit user confirmation is recorded for this exact action", true, nil
}

// justificationRule blocks proposals with no stated reason.
type justificationRule struct{}

func (justificationRule) Name() string { return RuleJustificationMissing }

func (justificationRule) Check(_ context.Context, p *proposal.Proposal, _ ConversationContext) (string, bool, error) {
	if strings.TrimSpace(p.Justification) != "" {
		return "", false, nil
	}
	return "proposal has no justification", true, nil
}

// injectionRule blocks justifications and string arguments that address the
// validator instead of describing the situation.
type injectionRule struct {
	scanner *InjectionScanner
}

func (injectionRule) Name() string { return RuleInjection }

func (r injectionRule) Check(_ context.Context, p *proposal.Proposal, _ ConversationContext) (string, bool, error) {
	if f := r.scanner.Scan(p.Justification); len(f) > 0 {
		return fmt.Sprintf("justification contains instructions addressed to the validator (%s: %q)", f[0].Pattern, f[0].Text), true, nil
	}
	for _, key := range sortedArgKeys(p.Arguments) {
		s, ok := p.Arguments[key].(string)
		if !ok {
			continue
		}
		if f := r.scanner.Scan(s); len(f) > 0 {
			return fmt.Sprintf("argument %q contains instructions addressed to the validator (%s)", key, f[0].Pattern), true, nil
		}
	}
	return "", false, nil
}

// replicaLimitRule caps scale_deployment below the configured maximum.
type replicaLimitRule struct {
	max int64
}

func (replicaLimitRule) Name() string { return RuleReplicasOverLimit }

func (r replicaLimitRule) Check(_ context.Context, p *proposal.Proposal, _ ConversationContext) (string, bool, error) {
	if p.Action != proposal.ActionScaleDeployment {
		return "", false, nil
	}
	n, ok := proposal.IntArg(p.Arguments, "replicas")
	if !ok {
		return "replica count is missing or not an integer", true, nil
	}
	if n > r.max {
		return fmt.Sprintf("scaling to %d replicas exceeds the limit of %d", n, r.max), true, nil
	}
	return "", false, nil
}

// A bare 0 must not continue as a decimal ("climbed to 0.9s").
var zeroIntentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:to|at)\s+(?:zero|0)(?:$|[^\w.]|\.(?:\s|$))`),
	regexp.MustCompile(`(?i)\b(?:zero|0)\s+(?:replicas|pods|instances)\b`),
	regexp.MustCompile(`(?i)\b(?:shut\s*(?:it\s+)?down|turn\s+(?:it\s+)?off|take\s+(?:it\s+)?offline|decommission|stop\s+(?:it\s+)?(?:completely|entirely))\b`),
}

var clauseBoundary = regexp.MustCompile(`[;!?\n]+|\.(?:\s+|$)`)

// zeroReplicasRule blocks scaling a workload to zero unless the human
// stated that zero is intended for that workload. A human message counts
// when it accompanied the confirmation of this exact proposal, or when one
// of its clauses both names the deployment and states zero intent. The
// agent's justification is never evidence of intent.
type zeroReplicasRule struct{}

func (zeroReplicasRule) Name() string { return RuleZeroReplicasUnstated }

func (zeroReplicasRule) Check(_ context.Context, p *proposal.Proposal, conv ConversationContext) (string, bool, error) {
	if p.Action != proposal.ActionScaleDeployment {
		return "", false, nil
	}
	n, ok := proposal.IntArg(p.Arguments, "replicas")
	if !ok || n != 0 {
		return "", false, nil
	}
	name := proposal.StringArg(p.Arguments, "name")
	hash := p.Hash()
	for _, m := range conv.Messages {
		if m.Role != "user" {
			continue
		}
		if m.ContentHash == hash && statesZeroIntent(m.Text) {
			return "", false, nil
		}
		if namesZeroIntent(m.Text, name) {
			return "", false, nil
		}
	}
	return fmt.Sprintf("scaling %s to zero replicas would take it offline, and the user did not state that this is intended", name), true, nil
}

func statesZeroIntent(text string) bool {
	for _, re := range zeroIntentPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// namesZeroIntent reports whether one clause of text names deployment and
// states zero intent.
func namesZeroIntent(text, deployment string) bool {
	if deployment == "" {
		return false
	}
	want := strings.ToLower(deployment)
	for _, clause := range clauseBoundary.Split(text, -1) {
		if mentionsName(strings.ToLower(clause), want) && statesZeroIntent(clause) {
			return true
		}
	}
	return false
}

// mentionsName matches name as a whole DNS-1123 token, so "order-service"
// does not match "preorder-service".
func mentionsName(clause, name string) bool {
	for i := 0; ; {
		j := strings.Index(clause[i:], name)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(name)
		if (start == 0 || !isNameByte(clause[start-1])) && (end == len(clause) || !isNameByte(clause[end])) {
			return true
		}
		i = start + 1
	}
}

func isNameByte(c byte) bool {
	return c == '-' || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}

func sortedArgKeys(args map[string]any) []string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
