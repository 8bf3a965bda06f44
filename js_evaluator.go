//go:build js_eval

package gstate

import (
	"fmt"

	"github.com/dop251/goja"
)

type jsEvaluator struct {
	cache    ProgramCache
	registry *FunctionRegistry
}

// NewJSEvaluator constructs an Evaluator backed by goja. The expression is the
// body of a return statement; each evaluation runs in a fresh runtime.
func NewJSEvaluator(opts ...JSEvaluatorOption) Evaluator {
	cfg := applyJSEvaluatorOptions(opts)
	return &jsEvaluator{
		cache:    cfg.cache,
		registry: cfg.registry,
	}
}

func (e *jsEvaluator) Evaluate(ctx EvalContext, expression string) (any, error) {
	rule, err := e.Compile(expression)
	if err != nil {
		return nil, evalError("js", expression, ctx.Path, err)
	}
	return rule.Evaluate(ctx)
}

func (e *jsEvaluator) Compile(expression string) (CompiledRule, error) {
	if expression == "" {
		return nil, evalError("js", "", "", ErrEmptyExpression)
	}
	program, err := cachedProgram(e.cache, expression, func() (*goja.Program, error) {
		return goja.Compile("", fmt.Sprintf("(function(){ return (%s); })()", expression), false)
	})
	if err != nil {
		return nil, evalError("js", expression, "", err)
	}
	return jsRule{evaluator: e, program: program, expression: expression}, nil
}

type jsRule struct {
	evaluator  *jsEvaluator
	program    *goja.Program
	expression string
}

func (r jsRule) Evaluate(ctx EvalContext) (any, error) {
	vm := goja.New()
	if err := r.evaluator.bind(vm, ctx); err != nil {
		return nil, evalError("js", r.expression, ctx.Path, err)
	}
	value, err := vm.RunProgram(r.program)
	if err != nil {
		return nil, evalError("js", r.expression, ctx.Path, err)
	}
	return value.Export(), nil
}

func (e *jsEvaluator) bind(vm *goja.Runtime, ctx EvalContext) error {
	vars := ctx.variables()
	if e.registry != nil {
		for _, name := range e.registry.Names() {
			if !reservedVariables[name] {
				vars[name] = registryFunction(e.registry, name)
			}
		}
		vars["call"] = func(name string, args ...any) (any, error) {
			return e.registry.Call(name, args...)
		}
	}
	for key, value := range vars {
		if err := vm.Set(key, value); err != nil {
			return err
		}
	}
	return nil
}

func isJSEvaluator(e Evaluator) bool {
	_, ok := e.(*jsEvaluator)
	return ok
}

// JSEvaluatorAvailable reports whether the binary was built with the js_eval
// tag.
func JSEvaluatorAvailable() bool {
	return true
}
