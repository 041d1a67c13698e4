package nodes

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"

	"github.com/openbms-io/supervisor-sub001/pkg/device"
	"github.com/openbms-io/supervisor-sub001/pkg/model"
)

// Spec is everything needed to construct a node.
type Spec struct {
	ID        string
	Category  model.Category
	Type      string
	Direction model.Direction
	Metadata  map[string]any
}

// Deps are the collaborators nodes call into.
type Deps struct {
	Telemetry       device.Telemetry
	Commander       device.Commander
	Evaluator       Evaluator
	Clock           func() time.Time
	CommandTimeout  time.Duration
	FunctionTimeout time.Duration
}

type builder func(f *Factory, spec Spec) (model.Node, error)

type kind struct {
	category model.Category
	build    builder
}

// Factory builds nodes from specs.
type Factory struct {
	deps     Deps
	validate *validator.Validate
	kinds    map[string]kind
}

// NewFactory creates a factory for all known node types.
func NewFactory(deps Deps) *Factory {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	f := &Factory{
		deps:     deps,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		kinds: map[string]kind{
			model.TypeConstant: {model.CategoryLogic, buildConstant},
			"calculation":      {model.CategoryLogic, buildCalculation},
			"comparison":       {model.CategoryLogic, buildComparison},
			"function":         {model.CategoryLogic, buildFunction},
			"switch":           {model.CategoryControlFlow, buildSwitch},
			"timer":            {model.CategoryControlFlow, buildTimer},
			"schedule":         {model.CategoryControlFlow, buildSchedule},
			"write-setpoint":   {model.CategoryCommand, buildWriteSetpoint},
		},
	}
	for _, t := range PointTypes {
		f.kinds[t] = kind{model.CategoryBACnet, buildPoint}
	}
	return f
}

// Types returns every registered node type, sorted.
func (f *Factory) Types() []string {
	return slices.Sorted(maps.Keys(f.kinds))
}

// Create builds the node described by spec. An empty category is inferred
// from the type.
func (f *Factory) Create(spec Spec) (model.Node, error) {
	if spec.ID == "" {
		return nil, fmt.Errorf("%w: empty id", ErrInvalidConfig)
	}
	k, ok := f.kinds[spec.Type]
	if !ok {
		return nil, fmt.Errorf("node %s: %w %q", spec.ID, ErrUnknownType, spec.Type)
	}
	if spec.Category == "" {
		spec.Category = k.category
	}
	if spec.Category != k.category {
		return nil, fmt.Errorf("node %s: %w: %s is %s, not %s", spec.ID, ErrCategoryMismatch, spec.Type, k.category, spec.Category)
	}
	return k.build(f, spec)
}

// decode fills cfg from the spec metadata and validates it. Fields missing
// from the metadata keep the defaults already in cfg.
func (f *Factory) decode(spec Spec, cfg any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(spec.Metadata); err != nil {
		return fmt.Errorf("node %s: %w: %v", spec.ID, ErrInvalidConfig, err)
	}
	if err := f.validate.Struct(cfg); err != nil {
		return fmt.Errorf("node %s: %w: %v", spec.ID, ErrInvalidConfig, err)
	}
	return nil
}

func buildPoint(f *Factory, spec Spec) (model.Node, error) {
	if spec.Direction != model.DirectionInput && spec.Direction != model.DirectionOutput {
		return nil, fmt.Errorf("node %s: %w: point direction must be input or output", spec.ID, ErrInvalidConfig)
	}
	cfg := PointConfig{}
	if err := f.decode(spec, &cfg); err != nil {
		return nil, err
	}
	return &Point{base: newBase(spec, model.CategoryBACnet), cfg: cfg, telemetry: f.deps.Telemetry}, nil
}

func buildConstant(f *Factory, spec Spec) (model.Node, error) {
	if _, ok := spec.Metadata["value"]; !ok {
		return nil, fmt.Errorf("node %s: %w: constant needs a value", spec.ID, ErrInvalidConfig)
	}
	cfg := ConstantConfig{}
	if err := f.decode(spec, &cfg); err != nil {
		return nil, err
	}
	return &Constant{base: newBase(spec, model.CategoryLogic), cfg: cfg}, nil
}

func buildCalculation(f *Factory, spec Spec) (model.Node, error) {
	cfg := CalculationConfig{}
	if err := f.decode(spec, &cfg); err != nil {
		return nil, err
	}
	return &Calculation{base: newBase(spec, model.CategoryLogic), cfg: cfg}, nil
}

func buildComparison(f *Factory, spec Spec) (model.Node, error) {
	cfg := ComparisonConfig{}
	if err := f.decode(spec, &cfg); err != nil {
		return nil, err
	}
	return &Comparison{base: newBase(spec, model.CategoryLogic), cfg: cfg}, nil
}

func buildFunction(f *Factory, spec Spec) (model.Node, error) {
	cfg := FunctionConfig{}
	if err := f.decode(spec, &cfg); err != nil {
		return nil, err
	}
	if c, ok := f.deps.Evaluator.(interface{ Compile(string) error }); ok {
		if err := c.Compile(cfg.Code); err != nil {
			return nil, fmt.Errorf("node %s: %w: %v", spec.ID, ErrInvalidConfig, err)
		}
	}
	return &Function{
		base:      newBase(spec, model.CategoryLogic),
		cfg:       cfg,
		evaluator: f.deps.Evaluator,
		timeout:   f.deps.FunctionTimeout,
	}, nil
}

func buildSwitch(f *Factory, spec Spec) (model.Node, error) {
	cfg := SwitchConfig{Operator: ">"}
	if err := f.decode(spec, &cfg); err != nil {
		return nil, err
	}
	return &Switch{base: newBase(spec, model.CategoryControlFlow), cfg: cfg}, nil
}

func buildTimer(f *Factory, spec Spec) (model.Node, error) {
	cfg := TimerConfig{}
	if err := f.decode(spec, &cfg); err != nil {
		return nil, err
	}
	return &Timer{base: newBase(spec, model.CategoryControlFlow), cfg: cfg}, nil
}

func buildSchedule(f *Factory, spec Spec) (model.Node, error) {
	cfg := ScheduleConfig{}
	if err := f.decode(spec, &cfg); err != nil {
		return nil, err
	}
	start, err := parseClock(cfg.Start)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w: %v", spec.ID, ErrInvalidConfig, err)
	}
	end, err := parseClock(cfg.End)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w: %v", spec.ID, ErrInvalidConfig, err)
	}
	return &Schedule{
		base:  newBase(spec, model.CategoryControlFlow),
		cfg:   cfg,
		start: start,
		end:   end,
		clock: f.deps.Clock,
	}, nil
}

func buildWriteSetpoint(f *Factory, spec Spec) (model.Node, error) {
	cfg := WriteSetpointConfig{Property: "present-value", Priority: 16}
	if err := f.decode(spec, &cfg); err != nil {
		return nil, err
	}
	return &WriteSetpoint{
		base:      newBase(spec, model.CategoryCommand),
		cfg:       cfg,
		commander: f.deps.Commander,
		timeout:   f.deps.CommandTimeout,
	}, nil
}
