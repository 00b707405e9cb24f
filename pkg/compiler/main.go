// Package compiler provides an Oberon-subset lexer, recursive-descent
// parser, semantic analyzer, LLVM-style IR emitter, and tree-walking
// interpreter.
//
// Pipeline: source → Lex → Parse → Analyze → Emit (or Interp)
package compiler
