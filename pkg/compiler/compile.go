package compiler

import (
	"io"
	"log/slog"
)

// Pipeline runs lex -> parse -> analyze, stopping at the first stage that
// fails, and returns the fully annotated Module on success.
func Pipeline(src string) (*Module, error) {
	tokens, err := Lex(src)
	if err != nil {
		slog.Error("compilation aborted", "stage", "lexer", "error", err)
		return nil, err
	}

	m, err := NewParser(tokens).ParseModule()
	if err != nil {
		slog.Error("compilation aborted", "stage", "parser", "error", err)
		return nil, err
	}

	if err := Analyze(m); err != nil {
		slog.Error("compilation aborted", "stage", "semantic", "error", err)
		return nil, err
	}

	return m, nil
}

// CompileToIR runs the full pipeline and renders textual LLVM-style IR.
func CompileToIR(src string) (string, error) {
	m, err := Pipeline(src)
	if err != nil {
		return "", err
	}
	ir, err := Emit(m)
	if err != nil {
		slog.Error("compilation aborted", "stage", "emitter", "error", err)
		return "", err
	}
	return ir, nil
}

// Run runs the full pipeline and interprets the result, writing Write /
// WriteLn output to out.
func Run(src string, out io.Writer) error {
	m, err := Pipeline(src)
	if err != nil {
		return err
	}
	if err := Interp(m, out); err != nil {
		slog.Error("run aborted", "stage", "interpreter", "error", err)
		return err
	}
	return nil
}
