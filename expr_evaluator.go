package gstate

import (
	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
)

// ExprEvaluatorOption configures an expr evaluator instance.
type ExprEvaluatorOption func(*exprEvaluator)

// ExprWithProgramCache shares compiled programs through cache.
func ExprWithProgramCache(cache ProgramCache) ExprEvaluatorOption {
	return func(e *exprEvaluator) {
		e.cache = cache
	}
}

// ExprWithFunctionRegistry makes the registry's functions callable by name.
func ExprWithFunctionRegistry(registry *FunctionRegistry) ExprEvaluatorOption {
	return func(e *exprEvaluator) {
		e.registry = registry.Clone()
	}
}

type exprEvaluator struct {
	cache    ProgramCache
	registry *FunctionRegistry
}

// NewExprEvaluator constructs an Evaluator backed by expr-lang/expr.
//
// Expressions see the state as "state", its top-level keys as variables, the
// previous value as "old", the load path as "path", "now" and "args".
// Variables are resolved at run time, so one program serves any state shape.
func NewExprEvaluator(opts ...ExprEvaluatorOption) Evaluator {
	e := &exprEvaluator{}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

func (e *exprEvaluator) Evaluate(ctx EvalContext, expression string) (any, error) {
	rule, err := e.Compile(expression)
	if err != nil {
		return nil, evalError("expr", expression, ctx.Path, err)
	}
	return rule.Evaluate(ctx)
}

func (e *exprEvaluator) Compile(expression string) (CompiledRule, error) {
	if expression == "" {
		return nil, evalError("expr", "", "", ErrEmptyExpression)
	}
	program, err := cachedProgram(e.cache, expression, func() (*exprvm.Program, error) {
		return exprlang.Compile(expression, e.compileOptions()...)
	})
	if err != nil {
		return nil, evalError("expr", expression, "", err)
	}
	return exprRule{program: program, expression: expression, registry: e.registry}, nil
}

func (e *exprEvaluator) compileOptions() []exprlang.Option {
	options := []exprlang.Option{
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
	}
	for _, name := range e.registry.Names() {
		options = append(options, exprlang.Function(name, registryFunction(e.registry, name)))
	}
	return options
}

func registryFunction(registry *FunctionRegistry, name string) func(...any) (any, error) {
	return func(args ...any) (any, error) {
		return registry.Call(name, args...)
	}
}

type exprRule struct {
	program    *exprvm.Program
	expression string
	registry   *FunctionRegistry
}

func (r exprRule) Evaluate(ctx EvalContext) (any, error) {
	env := ctx.variables()
	if r.registry != nil {
		env["call"] = func(name string, args ...any) (any, error) {
			return r.registry.Call(name, args...)
		}
	}
	result, err := exprlang.Run(r.program, env)
	if err != nil {
		return nil, evalError("expr", r.expression, ctx.Path, err)
	}
	return result, nil
}
