package compiler

import "fmt"

// CompileError is a single diagnostic from any pipeline stage. The pipeline
// stops at the first one raised; there is no error-recovery mode.
type CompileError struct {
	Stage string // "lexer", "parser", "semantic", or "interpreter"
	Pos   Position
	Msg   string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("%s: %s at %s", e.Stage, e.Msg, e.Pos)
}

// internalError reports a violated invariant of the analyzer, emitter or
// interpreter (a symptom of a bug in an earlier stage, not a user-facing
// diagnostic). The driver maps it to exit code 2.
type internalError struct {
	Msg string
}

func (e *internalError) Error() string {
	return "internal compiler error: " + e.Msg
}

// IsInternalError reports whether err is an internal compiler error, for
// drivers that map error kinds to process exit codes.
func IsInternalError(err error) bool {
	_, ok := err.(*internalError)
	return ok
}
