package nodes

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/openbms-io/supervisor-sub001/pkg/model"
)

// ConstantConfig holds the fixed value of a constant node.
type ConstantConfig struct {
	Value any `mapstructure:"value"`
}

// Constant emits its configured value whenever it is triggered.
type Constant struct {
	base
	cfg ConstantConfig
}

func (c *Constant) Reset() { c.clear() }

func (c *Constant) Receive(ctx context.Context, _ model.Message, _ string, _ string) error {
	c.done(c.cfg.Value)
	return c.emit(ctx, c.cfg.Value, model.DefaultHandle)
}

// CalculationConfig selects the arithmetic operation.
type CalculationConfig struct {
	Operation string `mapstructure:"operation" validate:"required,oneof=add subtract multiply divide average min max"`
}

// Calculation folds its operands with one arithmetic operation once every
// incoming link has a value.
type Calculation struct {
	base
	cfg CalculationConfig
	ops operands
}

func (c *Calculation) Reset() {
	c.clear()
	c.ops.reset()
}

func (c *Calculation) Receive(ctx context.Context, msg model.Message, handle string, from string) error {
	if !msg.IsTrigger() {
		c.ops.set(from, handle, msg.Payload)
	}
	links := c.upstream()
	if len(links) == 0 {
		return nil
	}
	vals, ok := c.ops.collect(links)
	if !ok {
		return nil
	}
	nums, err := toFloats(vals)
	if err != nil {
		return c.fail(err)
	}
	r, err := calculate(c.cfg.Operation, nums)
	if err != nil {
		return c.fail(err)
	}
	c.done(r)
	return c.emit(ctx, r, model.DefaultHandle)
}

func calculate(op string, xs []float64) (float64, error) {
	if len(xs) == 0 {
		return 0, errors.New("no operands")
	}
	acc := xs[0]
	switch op {
	case "add":
		for _, x := range xs[1:] {
			acc += x
		}
	case "subtract":
		for _, x := range xs[1:] {
			acc -= x
		}
	case "multiply":
		for _, x := range xs[1:] {
			acc *= x
		}
	case "divide":
		for _, x := range xs[1:] {
			if x == 0 {
				return 0, ErrDivideByZero
			}
			acc /= x
		}
	case "average":
		for _, x := range xs[1:] {
			acc += x
		}
		acc /= float64(len(xs))
	case "min":
		for _, x := range xs[1:] {
			acc = math.Min(acc, x)
		}
	case "max":
		for _, x := range xs[1:] {
			acc = math.Max(acc, x)
		}
	default:
		return 0, fmt.Errorf("unknown operation %q", op)
	}
	return acc, nil
}

// ComparisonConfig selects the operator and an optional fixed right operand.
type ComparisonConfig struct {
	Operator string   `mapstructure:"operator" validate:"required,oneof=> < >= <= == !="`
	Value    *float64 `mapstructure:"value"`
}

// Comparison compares its first operand with its second, or with the
// configured value when it has a single input, and emits a bool.
type Comparison struct {
	base
	cfg ComparisonConfig
	ops operands
}

func (c *Comparison) Reset() {
	c.clear()
	c.ops.reset()
}

func (c *Comparison) Receive(ctx context.Context, msg model.Message, handle string, from string) error {
	if !msg.IsTrigger() {
		c.ops.set(from, handle, msg.Payload)
	}
	links := c.upstream()
	if len(links) == 0 {
		return nil
	}
	vals, ok := c.ops.collect(links)
	if !ok {
		return nil
	}
	nums, err := toFloats(vals)
	if err != nil {
		return c.fail(err)
	}
	if len(nums) == 1 {
		if c.cfg.Value == nil {
			return c.fail(errors.New("comparison needs two operands or a value"))
		}
		nums = append(nums, *c.cfg.Value)
	}
	r, err := compare(c.cfg.Operator, nums[0], nums[1])
	if err != nil {
		return c.fail(err)
	}
	c.done(r)
	return c.emit(ctx, r, model.DefaultHandle)
}

// Evaluator runs user code for function nodes.
type Evaluator interface {
	Execute(ctx context.Context, code string, inputs []any, timeout time.Duration) (any, error)
}

// FunctionConfig holds the user expression and its time budget.
type FunctionConfig struct {
	Code      string `mapstructure:"code" validate:"required"`
	TimeoutMs int    `mapstructure:"timeoutMs" validate:"min=0"`
}

// Function evaluates user code over its operands. Without incoming edges it
// evaluates once per pass with no inputs.
type Function struct {
	base
	cfg       FunctionConfig
	ops       operands
	evaluator Evaluator
	timeout   time.Duration
}

func (f *Function) Reset() {
	f.clear()
	f.ops.reset()
}

func (f *Function) Receive(ctx context.Context, msg model.Message, handle string, from string) error {
	links := f.upstream()
	if msg.IsTrigger() && len(links) > 0 {
		return nil
	}
	if !msg.IsTrigger() {
		f.ops.set(from, handle, msg.Payload)
	}
	inputs, ok := f.ops.collect(links)
	if !ok {
		return nil
	}
	if f.evaluator == nil {
		return f.fail(errors.New("no evaluator"))
	}

	timeout := f.timeout
	if f.cfg.TimeoutMs > 0 {
		timeout = time.Duration(f.cfg.TimeoutMs) * time.Millisecond
	}
	f.status = model.StatusRunning
	r, err := f.evaluator.Execute(ctx, f.cfg.Code, inputs, timeout)
	if err != nil {
		return f.fail(err)
	}
	f.done(r)
	return f.emit(ctx, r, model.DefaultHandle)
}
