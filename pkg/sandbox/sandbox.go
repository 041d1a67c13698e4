// Package sandbox evaluates the user code of Function nodes.
//
// Code is a single HCL expression. It sees the node's operands as `input` (a
// tuple, in upstream order) and `value` (the first operand, or null), and a
// fixed set of pure functions. Evaluation has no access to the host and is
// bounded by a wall-clock timeout.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	"github.com/openbms-io/supervisor-sub001/pkg/logging"
)

var (
	// ErrTimeout is returned when evaluation exceeds its time budget.
	ErrTimeout = errors.New("function timed out")
	// ErrCompile is returned for code that does not parse.
	ErrCompile = errors.New("function does not compile")
	// ErrEval is returned when a parsed expression fails to evaluate.
	ErrEval = errors.New("function failed")
)

// DefaultTimeout applies when a caller passes no timeout.
const DefaultTimeout = time.Second

var log = logging.New("sandbox")

// Executor evaluates expressions. It is safe for concurrent use.
type Executor struct {
	functions  map[string]function.Function
	maxTimeout time.Duration
}

// New creates an executor. maxTimeout caps any per-call timeout; zero means
// no cap.
func New(maxTimeout time.Duration) *Executor {
	return &Executor{
		maxTimeout: maxTimeout,
		functions: map[string]function.Function{
			"abs":      stdlib.AbsoluteFunc,
			"ceil":     stdlib.CeilFunc,
			"floor":    stdlib.FloorFunc,
			"max":      stdlib.MaxFunc,
			"min":      stdlib.MinFunc,
			"pow":      stdlib.PowFunc,
			"signum":   stdlib.SignumFunc,
			"log":      stdlib.LogFunc,
			"length":   stdlib.LengthFunc,
			"coalesce": stdlib.CoalesceFunc,
			"upper":    stdlib.UpperFunc,
			"lower":    stdlib.LowerFunc,
			"format":   stdlib.FormatFunc,
		},
	}
}

// Compile checks that code parses without evaluating it.
func (e *Executor) Compile(code string) error {
	_, err := parse(code)
	return err
}

// Execute evaluates code against inputs and returns the result as a plain Go
// value: float64, string, bool, []any, map[string]any or nil.
func (e *Executor) Execute(ctx context.Context, code string, inputs []any, timeout time.Duration) (any, error) {
	expr, err := parse(code)
	if err != nil {
		return nil, err
	}

	vars, err := variables(inputs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEval, err)
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if e.maxTimeout > 0 && timeout > e.maxTimeout {
		timeout = e.maxTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   any
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("%w: %v", ErrEval, r)}
			}
		}()
		v, err := e.eval(expr, vars)
		done <- result{v: v, err: err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		log.WarnContext(ctx, "evaluation abandoned", "timeout", timeout)
		return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
}

func (e *Executor) eval(expr hclsyntax.Expression, vars map[string]cty.Value) (any, error) {
	evalCtx := &hcl.EvalContext{
		Variables: vars,
		Functions: e.functions,
	}
	val, diags := expr.Value(evalCtx)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: %s", ErrEval, diags.Error())
	}
	return toNative(val)
}

func parse(code string) (hclsyntax.Expression, error) {
	expr, diags := hclsyntax.ParseExpression([]byte(code), "function.hcl", hcl.InitialPos)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: %s", ErrCompile, diags.Error())
	}
	return expr, nil
}

func variables(inputs []any) (map[string]cty.Value, error) {
	elems := make([]cty.Value, 0, len(inputs))
	for i, in := range inputs {
		v, err := toCty(in)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		elems = append(elems, v)
	}

	input := cty.EmptyTupleVal
	value := cty.NullVal(cty.DynamicPseudoType)
	if len(elems) > 0 {
		input = cty.TupleVal(elems)
		value = elems[0]
	}
	return map[string]cty.Value{"input": input, "value": value}, nil
}
