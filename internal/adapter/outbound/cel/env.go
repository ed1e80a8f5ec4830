package cel

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/Sentinel-Gate/infragate/internal/domain/proposal"
	"github.com/Sentinel-Gate/infragate/internal/domain/validation"
)

// NewRuleEnvironment creates the CEL environment for validator deny rules.
// It includes:
//   - Proposal variables: action, arguments, justification, role, session_id, identity_id
//   - Evidence variables: confirmed, user_messages, request_time
//   - Custom functions: glob, action_arg, action_arg_contains
func NewRuleEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),

		cel.Variable("action", cel.StringType),
		cel.Variable("arguments", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("justification", cel.StringType),
		cel.Variable("role", cel.StringType),
		cel.Variable("session_id", cel.StringType),
		cel.Variable("identity_id", cel.StringType),

		cel.Variable("confirmed", cel.BoolType),
		cel.Variable("user_messages", cel.ListType(cel.StringType)),
		cel.Variable("request_time", cel.TimestampType),

		// glob: glob pattern matching, e.g. glob("*_deployment", action)
		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, name ref.Val) ref.Val {
					p := pattern.Value().(string)
					n := name.Value().(string)
					matched, _ := filepath.Match(p, n)
					return types.Bool(matched)
				}),
			),
		),

		// action_arg: extract a specific argument by key, null when absent.
		// Usage: action_arg(arguments, "namespace")
		cel.Function("action_arg",
			cel.Overload("action_arg_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType},
				cel.DynType,
				cel.BinaryBinding(func(mapVal, keyVal ref.Val) ref.Val {
					key := keyVal.Value().(string)
					switch m := mapVal.Value().(type) {
					case map[string]any:
						if v, found := m[key]; found {
							return types.DefaultTypeAdapter.NativeToValue(v)
						}
					case map[ref.Val]ref.Val:
						if v, found := m[types.String(key)]; found {
							return v
						}
					}
					return types.NullValue
				}),
			),
		),

		// action_arg_contains: check if any string argument contains a substring.
		// Usage: action_arg_contains(arguments, "kube-system")
		cel.Function("action_arg_contains",
			cel.Overload("action_arg_contains_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(mapVal, substrVal ref.Val) ref.Val {
					substr := substrVal.Value().(string)
					switch m := mapVal.Value().(type) {
					case map[string]any:
						for _, v := range m {
							if s, ok := v.(string); ok && strings.Contains(s, substr) {
								return types.Bool(true)
							}
						}
					case map[ref.Val]ref.Val:
						for _, v := range m {
							if s, ok := v.Value().(string); ok && strings.Contains(s, substr) {
								return types.Bool(true)
							}
						}
					}
					return types.Bool(false)
				}),
			),
		),
	)
}

// BuildActivation creates the CEL activation for one proposal and its
// evidence snapshot. Numbers in arguments become int64 or float64.
func BuildActivation(p *proposal.Proposal, conv validation.ConversationContext, now time.Time) map[string]any {
	args := proposal.Plain(p.Arguments)
	if args == nil {
		args = map[string]any{}
	}
	userMessages := conv.UserText()
	if userMessages == nil {
		userMessages = []string{}
	}

	return map[string]any{
		"action":        p.Action,
		"arguments":     args,
		"justification": p.Justification,
		"role":          p.Role,
		"session_id":    p.SessionID,
		"identity_id":   p.IdentityID,
		"confirmed":     conv.HasConfirmation(p.Hash()),
		"user_messages": userMessages,
		"request_time":  now.UTC(),
	}
}
