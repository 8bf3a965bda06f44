package gstate

import (
	"time"
)

// EvalContext carries the inputs of an expression evaluation. Top-level keys
// of a map State are also exposed as variables.
type EvalContext struct {
	State any
	Old   any
	Path  string
	Now   *time.Time
	Args  map[string]any
}

func (ctx EvalContext) withDefaults() EvalContext {
	if ctx.Now == nil {
		now := time.Now()
		ctx.Now = &now
	}
	if ctx.Args == nil {
		ctx.Args = map[string]any{}
	}
	return ctx
}

func (ctx EvalContext) stateMap() map[string]any {
	if m, ok := ctx.State.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// Variables reserved by every evaluator. State keys with these names are only
// reachable through "state".
var reservedVariables = map[string]bool{"state": true, "old": true, "path": true, "now": true, "args": true, "call": true}

// variables returns the top-level state keys followed by the reserved
// variables, which win on conflict.
func (ctx EvalContext) variables() map[string]any {
	ctx = ctx.withDefaults()
	state := ctx.stateMap()
	vars := make(map[string]any, len(state)+5)
	for key, value := range state {
		vars[key] = value
	}
	vars["state"] = ctx.State
	vars["old"] = ctx.Old
	vars["path"] = ctx.Path
	vars["now"] = *ctx.Now
	vars["args"] = ctx.Args
	return vars
}

// cachedProgram returns the program stored under key, compiling and storing it
// on a miss. A nil cache always compiles.
func cachedProgram[P any](cache ProgramCache, key string, compile func() (P, error)) (P, error) {
	if cache != nil {
		if cached, ok := cache.Get(key); ok {
			if program, ok := cached.(P); ok {
				return program, nil
			}
		}
	}
	program, err := compile()
	if err != nil {
		return program, err
	}
	if cache != nil {
		cache.Set(key, program)
	}
	return program, nil
}

// Evaluator executes expressions against an evaluation context.
type Evaluator interface {
	Evaluate(ctx EvalContext, expr string) (any, error)
	Compile(expr string) (CompiledRule, error)
}

// CompiledRule is a reusable expression program.
type CompiledRule interface {
	Evaluate(ctx EvalContext) (any, error)
}

// ComputedOption configures ComputedLoader.
type ComputedOption func(*computedConfig)

type computedConfig struct {
	args   map[string]any
	logger EvaluatorLogger
}

// WithComputedArgs exposes args to the expression as "args".
func WithComputedArgs(args map[string]any) ComputedOption {
	return func(cfg *computedConfig) {
		cfg.args = args
	}
}

// WithEvaluatorLogger records every evaluation run by the loader instead of
// the container's trace Logger.
func WithEvaluatorLogger(logger EvaluatorLogger) ComputedOption {
	return func(cfg *computedConfig) {
		cfg.logger = logger
	}
}

// ComputedLoader returns a Loader deriving its value synchronously from the
// container state by evaluating expression. The expression is compiled once;
// compile failures surface on the first load. The loader's result is
// Immediate, so a Load with it writes within the call.
func ComputedLoader(evaluator Evaluator, expression string, opts ...ComputedOption) Loader {
	cfg := computedConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	engine := evaluatorEngineName(evaluator)

	var rule CompiledRule
	var compileErr error
	if evaluator == nil {
		compileErr = ErrNoEvaluator
	} else if expression == "" {
		compileErr = ErrEmptyExpression
	} else {
		rule, compileErr = evaluator.Compile(expression)
	}

	return func(old any, meta *LoadMeta) (Result, error) {
		if compileErr != nil {
			return Result{}, evalError(engine, expression, meta.path, compileErr)
		}
		logger := cfg.logger
		if logger == nil {
			logger = EvaluatorTraceLogger(meta.gs.logger)
		}
		ctx := EvalContext{
			State: meta.State(),
			Old:   old,
			Path:  meta.path,
			Args:  cfg.args,
		}
		now := meta.gs.Now()
		ctx.Now = &now
		start := time.Now()
		value, err := rule.Evaluate(ctx)
		err = evalError(engine, expression, meta.path, err)
		logger.LogEvaluation(EvaluatorLogEvent{
			Engine:      engine,
			Expr:        expression,
			Path:        meta.path,
			OperationID: meta.OperationID,
			Value:       value,
			Duration:    time.Since(start),
			Err:         err,
		})
		if err != nil {
			return Result{}, err
		}
		return Immediate(value), nil
	}
}

// Compute evaluates expression against the current state and stores the
// result in the envelope at path.
func Compute(gs *GlobalState, path string, evaluator Evaluator, expression string, opts ...ComputedOption) (any, error) {
	res, err := Load(gs, path, ComputedLoader(evaluator, expression, opts...))
	if err != nil {
		return nil, err
	}
	return res.Value(), nil
}

func evaluatorEngineName(e Evaluator) string {
	switch e.(type) {
	case nil:
		return "unknown"
	case *exprEvaluator:
		return "expr"
	case *celEvaluator:
		return "cel"
	default:
		if isJSEvaluator(e) {
			return "js"
		}
		return "custom"
	}
}
