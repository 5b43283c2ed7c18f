package legality

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/praxis-works/covenant/pkg/signal"
)

var (
	ruleEnvOnce sync.Once
	ruleEnv     *cel.Env
	ruleEnvErr  error
)

func legalityEnv() (*cel.Env, error) {
	ruleEnvOnce.Do(func() {
		ruleEnv, ruleEnvErr = cel.NewEnv(
			cel.Variable("signal", cel.MapType(cel.StringType, cel.StringType)),
			cel.Variable("ctx", cel.MapType(cel.StringType, cel.BoolType)),
		)
	})
	return ruleEnv, ruleEnvErr
}

// AddCELRule compiles a CEL boolean expression and registers it as a
// legality rule. The expression sees two maps: "signal" with the string
// fields type, domain, authority and source, and "ctx" with the boolean
// context flags via_router, system_halted, steward_override and dual_key.
// The expression must evaluate true for the signal to be legal; evaluation
// errors are treated as violations.
func (g *Gate) AddCELRule(name, expr string) error {
	env, err := legalityEnv()
	if err != nil {
		return fmt.Errorf("legality rule %q: %w", name, err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("legality rule %q: %w", name, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return fmt.Errorf("legality rule %q: expression must yield a bool, got %s", name, ast.OutputType())
	}
	prog, err := env.Program(ast)
	if err != nil {
		return fmt.Errorf("legality rule %q: %w", name, err)
	}

	g.AddRule(name, func(sig *signal.Signal, ctx Context) (bool, string) {
		out, _, err := prog.Eval(map[string]interface{}{
			"signal": map[string]string{
				"type":      sig.Type,
				"domain":    sig.Domain,
				"authority": sig.Authority,
				"source":    sig.Source,
			},
			"ctx": map[string]bool{
				"via_router":       ctx.ViaRouter,
				"system_halted":    ctx.SystemHalted,
				"steward_override": ctx.StewardOverride,
				"dual_key":         ctx.DualKey,
			},
		})
		if err != nil {
			return false, fmt.Sprintf("rule evaluation error: %v", err)
		}
		legal, ok := out.Value().(bool)
		if !ok {
			return false, fmt.Sprintf("rule yielded %T, want bool", out.Value())
		}
		if !legal {
			return false, fmt.Sprintf("expression %q evaluated false", expr)
		}
		return true, ""
	})
	return nil
}
