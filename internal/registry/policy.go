package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
)

// Safety limits on method policy expressions, mirroring the bounds a
// general-purpose CEL-backed access-control evaluator needs regardless of
// how narrow its activation variables are.
const (
	maxExpressionLength = 1024
	maxCostBudget       = 100_000
	maxNestingDepth      = 50
	evalTimeout          = 2 * time.Second
	interruptCheckFreq   = 100
)

// Activation is the small, fixed set of variables a method policy may
// reference. Unlike a general RBAC engine, this daemon has exactly one
// scene and one socket, so the policy surface stays intentionally narrow.
type Activation struct {
	Method   string
	ClientID uint64
	PeerUID  uint32
}

func (a Activation) toCELVars() map[string]any {
	return map[string]any{
		"method":    a.Method,
		"client_id": a.ClientID,
		"peer_uid":  a.PeerUID,
	}
}

func policyEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("method", cel.StringType),
		cel.Variable("client_id", cel.UintType),
		cel.Variable("peer_uid", cel.UintType),
	)
}

// PolicyGate compiles and evaluates per-method CEL policy expressions.
type PolicyGate struct {
	env *cel.Env
}

// NewPolicyGate constructs a PolicyGate. A nil return pairs with an error
// only on environment construction failure (never at evaluation time for
// an already-validated expression).
func NewPolicyGate() (*PolicyGate, error) {
	env, err := policyEnv()
	if err != nil {
		return nil, fmt.Errorf("build policy environment: %w", err)
	}
	return &PolicyGate{env: env}, nil
}

// Compile parses, type-checks, and cost-bounds a CEL expression into a
// reusable program.
func (g *PolicyGate) Compile(expression string) (cel.Program, error) {
	if err := g.validate(expression); err != nil {
		return nil, err
	}

	ast, issues := g.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile policy: %w", issues.Err())
	}

	prg, err := g.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("build policy program: %w", err)
	}
	return prg, nil
}

func (g *PolicyGate) validate(expr string) error {
	if expr == "" {
		return errors.New("policy: expression is empty")
	}
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("policy: expression too long: %d chars (max %d)", len(expr), maxExpressionLength)
	}
	if depth := maxBracketDepth(expr); depth > maxNestingDepth {
		return fmt.Errorf("policy: expression nesting too deep: %d levels (max %d)", depth, maxNestingDepth)
	}
	return nil
}

func maxBracketDepth(expr string) int {
	depth, maxDepth := 0, 0
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	return maxDepth
}

// Evaluate runs a compiled policy program against act and reports whether
// the method call is allowed.
func (g *PolicyGate) Evaluate(ctx context.Context, prg cel.Program, act Activation) (bool, error) {
	evalCtx, cancel := context.WithTimeout(ctx, evalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(evalCtx, act.toCELVars())
	if err != nil {
		return false, fmt.Errorf("evaluate policy: %w", err)
	}

	allowed, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("policy expression did not return a boolean, got %T", result.Value())
	}
	return allowed, nil
}
