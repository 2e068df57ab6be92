package authority

import (
	"context"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/Mindburn-Labs/tiller/pkg/contracts"
)

// CELPolicy evaluates a CEL expression over the invocation context.
// The expression sees four bindings:
//
//	caller (string), target (string), op (string), now (int, unix seconds)
//
// and must evaluate to a bool. Evaluation is fail-closed: a non-bool
// result or any evaluation error denies.
type CELPolicy struct {
	expr  string
	prg   cel.Program
	clock func() time.Time
}

// NewCELPolicy compiles expr once and returns the policy. Compilation
// errors are returned here so a misconfigured rule cannot be installed.
func NewCELPolicy(expr string) (*CELPolicy, error) {
	env, err := cel.NewEnv(
		cel.Variable("caller", cel.StringType),
		cel.Variable("target", cel.StringType),
		cel.Variable("op", cel.StringType),
		cel.Variable("now", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("cel policy: environment: %w", err)
	}

	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("cel policy: compile %q: %w", expr, iss.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("cel policy: expression %q must return bool, got %s", expr, ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("cel policy: program %q: %w", expr, err)
	}

	return &CELPolicy{expr: expr, prg: prg, clock: time.Now}, nil
}

// WithClock overrides the clock for deterministic testing.
func (p *CELPolicy) WithClock(clock func() time.Time) *CELPolicy {
	p.clock = clock
	return p
}

func (p *CELPolicy) MayInvoke(_ context.Context, caller, target contracts.Address, op contracts.Op) bool {
	out, _, err := p.prg.Eval(map[string]any{
		"caller": string(caller),
		"target": string(target),
		"op":     string(op),
		"now":    p.clock().Unix(),
	})
	if err != nil {
		return false
	}
	allowed, ok := out.Value().(bool)
	return ok && allowed
}

func (p *CELPolicy) Kind() Kind { return KindCEL }

// Expr returns the source expression, for audit records.
func (p *CELPolicy) Expr() string { return p.expr }
