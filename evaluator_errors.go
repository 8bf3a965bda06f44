package gstate

import (
	"errors"
	"fmt"
	"strings"
)

// EvaluationError reports an expression that failed to compile or evaluate
// for the envelope at Path.
type EvaluationError struct {
	Engine string
	Expr   string
	Path   string
	Err    error
}

func (e *EvaluationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "gstate: %s evaluation failed", e.Engine)
	if e.Expr != "" {
		fmt.Fprintf(&b, " for %q", e.Expr)
	}
	fmt.Fprintf(&b, " at %s: %v", displayPath(e.Path), e.Err)
	return b.String()
}

func (e *EvaluationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// evalError attaches evaluator metadata to err. When err already carries an
// EvaluationError only its empty fields are filled.
func evalError(engine, expr, path string, err error) error {
	if err == nil {
		return nil
	}
	var existing *EvaluationError
	if !errors.As(err, &existing) {
		return &EvaluationError{Engine: engine, Expr: expr, Path: path, Err: err}
	}
	if existing.Engine == "" {
		existing.Engine = engine
	}
	if existing.Expr == "" {
		existing.Expr = expr
	}
	if existing.Path == "" {
		existing.Path = path
	}
	return err
}
