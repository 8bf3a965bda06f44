package gstate

import "errors"

var (
	// ErrSSRWatch is returned by Watch and UnWatch on a container rendering
	// server side. SSR callers poll SSRContext.Dirty and Pending instead.
	ErrSSRWatch = errors.New("gstate: watching the global state is not supported in SSR mode")
	// ErrOperationFinished is returned by LoadMeta.SetAbortCallback once the
	// operation has completed.
	ErrOperationFinished = errors.New("gstate: operation already finished")
	// ErrMissingProvider indicates no GlobalState is attached to a context.
	ErrMissingProvider = errors.New("gstate: no global state provider in context")
	// ErrSSRRoundsExceeded indicates server rendering was still dirty after the
	// last allowed pass.
	ErrSSRRoundsExceeded = errors.New("gstate: ssr did not settle within the allowed rounds")
	// ErrNoEvaluator is returned by computed loaders built without an
	// evaluator, including NewJSEvaluator in builds without js_eval.
	ErrNoEvaluator = errors.New("gstate: evaluator not configured")
	// ErrEmptyExpression is returned by evaluators given an empty expression.
	ErrEmptyExpression = errors.New("gstate: expression must not be empty")
	// ErrFunctionExists is returned when a function name is registered twice.
	ErrFunctionExists = errors.New("gstate: function already registered")
	// ErrUnknownFunction is returned when calling a function that was never
	// registered.
	ErrUnknownFunction = errors.New("gstate: unknown function")
)
