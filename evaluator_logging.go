package gstate

import "time"

// EvaluatorLogEvent describes one evaluation run by a computed loader.
type EvaluatorLogEvent struct {
	Engine      string
	Expr        string
	Path        string
	OperationID string
	Value       any
	Duration    time.Duration
	Err         error
}

// EvaluatorLogger records evaluations. Without WithEvaluatorLogger computed
// loaders report to the container's trace Logger.
type EvaluatorLogger interface {
	LogEvaluation(EvaluatorLogEvent)
}

// EvaluatorLoggerFunc adapts a function to EvaluatorLogger.
type EvaluatorLoggerFunc func(EvaluatorLogEvent)

func (f EvaluatorLoggerFunc) LogEvaluation(event EvaluatorLogEvent) {
	if f != nil {
		f(event)
	}
}

// EvaluatorTraceLogger renders evaluations as TraceEvaluate events on logger.
func EvaluatorTraceLogger(logger Logger) EvaluatorLogger {
	if logger == nil {
		logger = noopLogger{}
	}
	return EvaluatorLoggerFunc(func(event EvaluatorLogEvent) {
		logger.LogEvent(TraceEvent{
			Kind:        TraceEvaluate,
			Path:        event.Path,
			OldValue:    event.Expr,
			NewValue:    event.Value,
			OperationID: event.OperationID,
			Err:         event.Err,
		})
	})
}
