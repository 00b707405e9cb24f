package compiler

import (
	"fmt"
	"io"
)

// Value is a runtime value: one of int32, float64, string, or []Value for
// an array (each element itself a Value, nested for multi-dimensional
// arrays, mirroring the canonicalized nested Type).
type Value = any

// cell is a mutable storage location; frames hold one per variable so
// that assignment through an array index mutates shared state rather
// than a copy.
type cell struct{ val Value }

// frame is one activation record. Its static link (not the dynamic call
// chain) points at the frame of the lexically enclosing procedure, giving
// nested procedures access to their enclosing procedure's locals exactly
// as the analyzer's Scope chain resolves them.
type frame struct {
	owner   *ProcDecl // nil for the global frame
	static  *frame
	vars    map[*Symbol]*cell
	retType *Type // the enclosing procedure's declared return type, nil if none/global
}

func (f *frame) lookup(sym *Symbol) *cell {
	for cur := f; cur != nil; cur = cur.static {
		if c, ok := cur.vars[sym]; ok {
			return c
		}
	}
	return nil
}

// Interpreter tree-walks an analyzed Module; Run uses it for the CLI's
// default (non -c) mode. It executes the AST directly and shares no code
// with the IR emitter.
type Interpreter struct {
	out           io.Writer
	global        *frame
	lexicalParent map[*ProcDecl]*ProcDecl
}

// Interp runs m's BEGIN...END body to completion, writing all Write/WriteLn
// output to out. m must already have passed Analyze.
func Interp(m *Module, out io.Writer) error {
	it := &Interpreter{
		out:           out,
		global:        &frame{vars: make(map[*Symbol]*cell)},
		lexicalParent: make(map[*ProcDecl]*ProcDecl),
	}
	it.indexLexicalParents(m.Decls, nil)
	if err := it.bindDecls(m.Decls, it.global); err != nil {
		return err
	}
	_, _, err := it.execStmts(m.Body, it.global)
	return err
}

// indexLexicalParents records, for every procedure in the program, the
// ProcDecl it is textually nested inside (nil for module-level procedures).
func (it *Interpreter) indexLexicalParents(decls []Decl, parent *ProcDecl) {
	for _, d := range decls {
		if p, ok := d.(*ProcDecl); ok {
			it.lexicalParent[p] = parent
			it.indexLexicalParents(p.Decls, p)
		}
	}
}

// bindDecls materializes VAR storage (zero-valued) in fr; CONST and
// PROCEDURE declarations need no runtime storage (constants are folded,
// procedures are looked up by Symbol when called).
func (it *Interpreter) bindDecls(decls []Decl, fr *frame) error {
	for _, d := range decls {
		if v, ok := d.(*VarDecl); ok {
			ty, err := symTypeOf(v)
			if err != nil {
				return err
			}
			for _, sym := range v.Syms {
				fr.vars[sym] = &cell{val: zeroValueFor(ty)}
			}
		}
	}
	return nil
}

// symTypeOf reads the resolved Type off the first symbol a VarDecl bound;
// all of them share the same Type since they came from one type clause.
func symTypeOf(v *VarDecl) (Type, error) {
	if len(v.Syms) == 0 {
		return Type{}, &internalError{Msg: "VarDecl has no resolved symbols"}
	}
	return v.Syms[0].Type, nil
}

func zeroValueFor(t Type) Value {
	switch t.Kind {
	case KindInteger:
		return int32(0)
	case KindReal:
		return float64(0)
	case KindString:
		return ""
	case KindArray:
		arr := make([]Value, t.Len)
		for i := range arr {
			arr[i] = zeroValueFor(*t.Elem)
		}
		return arr
	default:
		return nil
	}
}

// coerce applies the same INTEGER->REAL widening the analyzer already
// validated as legal at this site.
func coerce(v Value, want Type) Value {
	if want.Kind == KindReal {
		if iv, ok := v.(int32); ok {
			return float64(iv)
		}
	}
	return v
}

//  Statements. execStmt(s) returns (retVal, hasReturn, err): hasReturn
//  signals a RETURN was hit and execution of the enclosing body should
//  stop propagating upward.

func (it *Interpreter) execStmts(stmts []Stmt, fr *frame) (Value, bool, error) {
	for _, s := range stmts {
		v, done, err := it.execStmt(s, fr)
		if err != nil || done {
			return v, done, err
		}
	}
	return nil, false, nil
}

func (it *Interpreter) execStmt(s Stmt, fr *frame) (Value, bool, error) {
	switch s := s.(type) {
	case *Assignment:
		return nil, false, it.execAssignment(s, fr)
	case *ProcCall:
		_, err := it.execProcCall(s, fr)
		return nil, false, err
	case *If:
		return it.execIf(s, fr)
	case *While:
		return it.execWhile(s, fr)
	case *For:
		return it.execFor(s, fr)
	case *Return:
		return it.execReturn(s, fr)
	default:
		return nil, false, &internalError{Msg: fmt.Sprintf("unhandled statement type %T", s)}
	}
}

func (it *Interpreter) execAssignment(a *Assignment, fr *frame) error {
	val, err := it.evalExpr(a.Value, fr)
	if err != nil {
		return err
	}
	val = coerce(val, a.Target.Type())
	c := fr.lookup(a.Target.Sym)
	if c == nil {
		return &internalError{Msg: fmt.Sprintf("unresolved variable %q at runtime", a.Target.Name)}
	}
	if len(a.Target.Indices) == 0 {
		c.val = val
		return nil
	}
	idxs, err := it.evalIndices(a.Target.Indices, fr)
	if err != nil {
		return err
	}
	return setIndexed(c.val, idxs, val)
}

func (it *Interpreter) evalIndices(indices []Expr, fr *frame) ([]int, error) {
	idxs := make([]int, len(indices))
	for i, ix := range indices {
		v, err := it.evalExpr(ix, fr)
		if err != nil {
			return nil, err
		}
		idxs[i] = int(v.(int32))
	}
	return idxs, nil
}

func indexInto(v Value, indices []int) (Value, error) {
	cur := v
	for _, idx := range indices {
		arr, ok := cur.([]Value)
		if !ok || idx < 0 || idx >= len(arr) {
			return nil, &internalError{Msg: "array index out of range at runtime"}
		}
		cur = arr[idx]
	}
	return cur, nil
}

func setIndexed(v Value, indices []int, newVal Value) error {
	arr, ok := v.([]Value)
	if !ok {
		return &internalError{Msg: "indexed assignment into a non-array value"}
	}
	for i := 0; i < len(indices)-1; i++ {
		idx := indices[i]
		if idx < 0 || idx >= len(arr) {
			return &internalError{Msg: "array index out of range at runtime"}
		}
		next, ok := arr[idx].([]Value)
		if !ok {
			return &internalError{Msg: "indexed assignment into a non-array value"}
		}
		arr = next
	}
	last := indices[len(indices)-1]
	if last < 0 || last >= len(arr) {
		return &internalError{Msg: "array index out of range at runtime"}
	}
	arr[last] = newVal
	return nil
}

func (it *Interpreter) execProcCall(s *ProcCall, fr *frame) (Value, error) {
	if s.Name == "Write" || s.Name == "WriteLn" {
		return nil, it.execBuiltinCall(s.Name, s.Args, fr)
	}
	return it.callProc(s.Sym, s.Args, fr)
}

func (it *Interpreter) execBuiltinCall(name string, args []Expr, fr *frame) error {
	if name == "WriteLn" {
		_, err := fmt.Fprintln(it.out)
		return err
	}
	v, err := it.evalExpr(args[0], fr)
	if err != nil {
		return err
	}
	switch x := v.(type) {
	case int32:
		_, err = fmt.Fprintf(it.out, "%d", x)
	case float64:
		_, err = fmt.Fprintf(it.out, "%f", x)
	case string:
		_, err = fmt.Fprintf(it.out, "%s", x)
	default:
		return &internalError{Msg: "Write called with non-scalar argument"}
	}
	return err
}

func (it *Interpreter) execIf(s *If, fr *frame) (Value, bool, error) {
	cond, err := it.evalExpr(s.Cond, fr)
	if err != nil {
		return nil, false, err
	}
	if cond.(bool) {
		return it.execStmts(s.Then, fr)
	}
	return it.execStmts(s.Else, fr)
}

func (it *Interpreter) execWhile(s *While, fr *frame) (Value, bool, error) {
	for {
		cond, err := it.evalExpr(s.Cond, fr)
		if err != nil {
			return nil, false, err
		}
		if !cond.(bool) {
			return nil, false, nil
		}
		v, done, err := it.execStmts(s.Body, fr)
		if err != nil || done {
			return v, done, err
		}
	}
}

func (it *Interpreter) execFor(s *For, fr *frame) (Value, bool, error) {
	c := fr.lookup(s.Sym)
	if c == nil {
		return nil, false, &internalError{Msg: fmt.Sprintf("unresolved FOR variable %q at runtime", s.Var)}
	}
	start, err := it.evalExpr(s.Start, fr)
	if err != nil {
		return nil, false, err
	}
	end, err := it.evalExpr(s.End, fr)
	if err != nil {
		return nil, false, err
	}
	endVal := end.(int32)
	c.val = start.(int32)
	for c.val.(int32) <= endVal {
		v, done, err := it.execStmts(s.Body, fr)
		if err != nil || done {
			return v, done, err
		}
		c.val = c.val.(int32) + 1
	}
	return nil, false, nil
}

func (it *Interpreter) execReturn(s *Return, fr *frame) (Value, bool, error) {
	if s.Value == nil {
		return nil, true, nil
	}
	v, err := it.evalExpr(s.Value, fr)
	if err != nil {
		return nil, false, err
	}
	if fr.retType != nil {
		v = coerce(v, *fr.retType)
	}
	return v, true, nil
}

//  Expressions

func (it *Interpreter) evalExpr(e Expr, fr *frame) (Value, error) {
	switch e := e.(type) {
	case *IntLiteral:
		return e.Value, nil
	case *RealLiteral:
		return e.Value, nil
	case *StringLiteral:
		return e.Value, nil
	case *Designator:
		return it.evalDesignator(e, fr)
	case *FuncCall:
		return it.callProc(e.Sym, e.Args, fr)
	case *UnaryOp:
		return it.evalUnary(e, fr)
	case *BinaryOp:
		return it.evalBinary(e, fr)
	default:
		return nil, &internalError{Msg: fmt.Sprintf("unhandled expression type %T", e)}
	}
}

func (it *Interpreter) evalDesignator(d *Designator, fr *frame) (Value, error) {
	if d.Sym.Kind == SymConst {
		return d.Sym.ConstValue, nil
	}
	c := fr.lookup(d.Sym)
	if c == nil {
		return nil, &internalError{Msg: fmt.Sprintf("unresolved variable %q at runtime", d.Name)}
	}
	if len(d.Indices) == 0 {
		return c.val, nil
	}
	idxs, err := it.evalIndices(d.Indices, fr)
	if err != nil {
		return nil, err
	}
	return indexInto(c.val, idxs)
}

// callProc evaluates args in callerFrame, then runs procDecl's body in a
// fresh frame statically linked to the frame of its lexically enclosing
// procedure (found by walking callerFrame's static chain), not to
// callerFrame itself.
func (it *Interpreter) callProc(sym *Symbol, args []Expr, callerFrame *frame) (Value, error) {
	procDecl := sym.decl
	if procDecl == nil {
		return nil, &internalError{Msg: fmt.Sprintf("%q does not resolve to a procedure body at runtime", sym.Name)}
	}

	argVals := make([]Value, len(args))
	for i, a := range args {
		v, err := it.evalExpr(a, callerFrame)
		if err != nil {
			return nil, err
		}
		argVals[i] = coerce(v, sym.Params[i])
	}

	parentProc := it.lexicalParent[procDecl]
	staticParent := it.global
	if parentProc != nil {
		for f := callerFrame; f != nil; f = f.static {
			if f.owner == parentProc {
				staticParent = f
				break
			}
		}
	}

	newFrame := &frame{owner: procDecl, static: staticParent, vars: make(map[*Symbol]*cell), retType: sym.ReturnType}
	for i, p := range procDecl.Params {
		newFrame.vars[p.Sym] = &cell{val: argVals[i]}
	}
	if err := it.bindDecls(procDecl.Decls, newFrame); err != nil {
		return nil, err
	}

	retVal, _, err := it.execStmts(procDecl.Body, newFrame)
	return retVal, err
}

func (it *Interpreter) evalUnary(u *UnaryOp, fr *frame) (Value, error) {
	v, err := it.evalExpr(u.Operand, fr)
	if err != nil {
		return nil, err
	}
	if u.Op == PLUS {
		return v, nil
	}
	switch x := v.(type) {
	case int32:
		return -x, nil
	case float64:
		return -x, nil
	default:
		return nil, &internalError{Msg: "unary - on non-numeric value"}
	}
}

func (it *Interpreter) evalBinary(b *BinaryOp, fr *frame) (Value, error) {
	lv, err := it.evalExpr(b.Left, fr)
	if err != nil {
		return nil, err
	}
	rv, err := it.evalExpr(b.Right, fr)
	if err != nil {
		return nil, err
	}

	switch b.Op {
	case AND:
		return lv.(bool) && rv.(bool), nil
	case OR:
		return lv.(bool) || rv.(bool), nil
	case DIV, MOD:
		li, ri := lv.(int32), rv.(int32)
		if ri == 0 {
			return nil, &CompileError{Stage: "interpreter", Pos: b.Pos, Msg: "division by zero"}
		}
		if b.Op == DIV {
			return li / ri, nil
		}
		return li % ri, nil
	case SLASH:
		lf, rf := toFloat(lv), toFloat(rv)
		if rf == 0 {
			return nil, &CompileError{Stage: "interpreter", Pos: b.Pos, Msg: "division by zero"}
		}
		return lf / rf, nil
	case PLUS, MINUS, STAR:
		return arith(b.Op, lv, rv), nil
	case EQ, NEQ, LT, LE, GT, GE:
		return compare(b.Op, lv, rv), nil
	default:
		return nil, &internalError{Msg: fmt.Sprintf("unhandled binary operator %s", b.Op)}
	}
}

func toFloat(v Value) float64 {
	switch x := v.(type) {
	case int32:
		return float64(x)
	case float64:
		return x
	default:
		return 0
	}
}

func arith(op TokenType, lv, rv Value) Value {
	li, lIsInt := lv.(int32)
	ri, rIsInt := rv.(int32)
	if lIsInt && rIsInt {
		switch op {
		case PLUS:
			return li + ri
		case MINUS:
			return li - ri
		default:
			return li * ri
		}
	}
	lf, rf := toFloat(lv), toFloat(rv)
	switch op {
	case PLUS:
		return lf + rf
	case MINUS:
		return lf - rf
	default:
		return lf * rf
	}
}

func compare(op TokenType, lv, rv Value) bool {
	if ls, ok := lv.(string); ok {
		rs := rv.(string)
		switch op {
		case EQ:
			return ls == rs
		case NEQ:
			return ls != rs
		case LT:
			return ls < rs
		case LE:
			return ls <= rs
		case GT:
			return ls > rs
		default:
			return ls >= rs
		}
	}
	lf, rf := toFloat(lv), toFloat(rv)
	switch op {
	case EQ:
		return lf == rf
	case NEQ:
		return lf != rf
	case LT:
		return lf < rf
	case LE:
		return lf <= rf
	case GT:
		return lf > rf
	default:
		return lf >= rf
	}
}
