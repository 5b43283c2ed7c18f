package routing

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/praxis-works/covenant/pkg/signal"
)

// The constitutional condition grammar is a flat conjunction of
// "field == value" / "field != value" clauses joined with AND. Conditions
// are translated to CEL and compiled once at boot, so a malformed condition
// is a boot error, never a silent per-signal non-match.

var clausePattern = regexp.MustCompile(`^(\w+)\s*(==|!=)\s*(\w+)$`)

var conditionFields = map[string]bool{
	"type":      true,
	"domain":    true,
	"authority": true,
	"source":    true,
}

func newConditionEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("signal", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("condition environment failed: %w", err)
	}
	return env, nil
}

// translateCondition rewrites a constitutional condition into a CEL
// expression over the signal's routable fields.
func translateCondition(condition string) (string, error) {
	parts := strings.Split(condition, " AND ")
	exprs := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		m := clausePattern.FindStringSubmatch(part)
		if m == nil {
			return "", fmt.Errorf("unparseable condition clause %q", part)
		}
		field, op, value := m[1], m[2], m[3]
		if !conditionFields[field] {
			return "", fmt.Errorf("unknown condition field %q", field)
		}
		exprs = append(exprs, fmt.Sprintf("signal.%s %s %q", field, op, value))
	}
	return strings.Join(exprs, " && "), nil
}

func compileCondition(env *cel.Env, condition string) (cel.Program, error) {
	expr, err := translateCondition(condition)
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("condition %q failed to compile: %w", condition, issues.Err())
	}
	prog, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("condition %q failed to plan: %w", condition, err)
	}
	return prog, nil
}

func evalCondition(prog cel.Program, sig *signal.Signal) bool {
	out, _, err := prog.Eval(map[string]interface{}{
		"signal": map[string]string{
			"type":      sig.Type,
			"domain":    sig.Domain,
			"authority": sig.Authority,
			"source":    sig.Source,
		},
	})
	if err != nil {
		return false
	}
	matched, ok := out.Value().(bool)
	return ok && matched
}
