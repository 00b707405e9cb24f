package compiler

import (
	"fmt"
	"strconv"
	"strings"
)

// fnState holds the per-function output buffer and the two monotonic
// counters the emitter resets at every function boundary: tempSeq for %tN
// temporaries and disambig for the suffix shared by one control construct's
// labels. The string pool is per module (see irGen).
type fnState struct {
	out        strings.Builder
	tempSeq    int
	disambig   int
	terminated bool
	retType    *Type // nil for a void procedure
}

// irGen walks an analyzed Module and renders textual LLVM-style IR.
type irGen struct {
	strPool  map[string]string // literal content -> "@.strK"
	strOrder []string          // content in first-appearance order
	globals  strings.Builder
	funcs    []string
	cur      *fnState
}

// Emit lowers an analyzed Module to a complete IR module as text. m must
// already have passed Analyze successfully.
func Emit(m *Module) (string, error) {
	g := &irGen{strPool: make(map[string]string)}

	for _, d := range m.Decls {
		if v, ok := d.(*VarDecl); ok {
			g.emitGlobalVar(v)
		}
	}

	for _, p := range collectProcs(m.Decls) {
		if err := g.genFunction(p); err != nil {
			return "", err
		}
	}
	if err := g.genMain(m); err != nil {
		return "", err
	}

	var out strings.Builder
	out.WriteString(`; ModuleID = "oberon_module"` + "\n\n")
	out.WriteString("declare i32 @printf(i8*, ...)\n\n")
	if g.globals.Len() > 0 {
		out.WriteString(g.globals.String())
		out.WriteString("\n")
	}
	for _, fn := range g.funcs {
		out.WriteString(fn)
		out.WriteString("\n")
	}
	out.WriteString(g.renderStringPool())
	return out.String(), nil
}

// collectProcs flattens a declaration list into its procedures, in
// declaration order, recursing into nested procedure bodies. Name mangling
// is not performed (spec 4.4): a nested procedure emits as plain @name.
func collectProcs(decls []Decl) []*ProcDecl {
	var procs []*ProcDecl
	for _, d := range decls {
		if p, ok := d.(*ProcDecl); ok {
			procs = append(procs, p)
			procs = append(procs, collectProcs(p.Decls)...)
		}
	}
	return procs
}

//  Global declarations

func (g *irGen) emitGlobalVar(v *VarDecl) {
	for _, sym := range v.Syms {
		fmt.Fprintf(&g.globals, "%s = global %s %s\n", sym.IRRef, llvmType(sym.Type), zeroValue(sym.Type))
	}
}

func zeroValue(t Type) string {
	switch t.Kind {
	case KindInteger:
		return "0"
	case KindReal:
		return "0.000000e+00"
	case KindString:
		return "null"
	case KindArray:
		return "zeroinitializer"
	default:
		return "0"
	}
}

// llvmType renders t's LLVM-IR spelling: i32 for INTEGER, double for REAL,
// i8* for STRING, and the full nested aggregate type for ARRAY.
func llvmType(t Type) string {
	switch t.Kind {
	case KindInteger:
		return "i32"
	case KindReal:
		return "double"
	case KindString:
		return "i8*"
	case KindBoolean:
		return "i1"
	case KindArray:
		return fmt.Sprintf("[%d x %s]", t.Len, llvmType(*t.Elem))
	default:
		return "i32"
	}
}

//  Function emission

// collectLocals gathers every VarDecl symbol directly owned by a procedure
// (parameters are materialized separately in genFunction's prologue).
func collectLocals(decls []Decl) []*Symbol {
	var syms []*Symbol
	for _, d := range decls {
		if v, ok := d.(*VarDecl); ok {
			syms = append(syms, v.Syms...)
		}
	}
	return syms
}

func (g *irGen) genFunction(proc *ProcDecl) error {
	g.cur = &fnState{retType: proc.Sym.ReturnType}

	retType := "void"
	if proc.Sym.ReturnType != nil {
		retType = llvmType(*proc.Sym.ReturnType)
	}

	params := make([]string, len(proc.Params))
	for i, p := range proc.Params {
		pty := proc.Sym.Params[i]
		if pty.Kind == KindArray {
			params[i] = fmt.Sprintf("%s* %%%s", llvmType(pty), p.Name)
		} else {
			params[i] = fmt.Sprintf("%s %%%s.arg", llvmType(pty), p.Name)
		}
	}
	fmt.Fprintf(&g.cur.out, "define %s @%s(%s) {\n", retType, proc.Name, strings.Join(params, ", "))
	g.label("entry")

	for i, p := range proc.Params {
		pty := proc.Sym.Params[i]
		if pty.Kind == KindArray {
			continue // the incoming pointer parameter IS the address, no alloca needed
		}
		ty := llvmType(pty)
		g.emit("%%%s = alloca %s", p.Name, ty)
		g.emit("store %s %%%s.arg, %s* %%%s", ty, p.Name, ty, p.Name)
	}
	for _, sym := range collectLocals(proc.Decls) {
		g.emit("%s = alloca %s", sym.IRRef, llvmType(sym.Type))
	}

	if err := g.genStmts(proc.Body); err != nil {
		return err
	}
	if !g.cur.terminated {
		if retType == "void" {
			g.term("ret void")
		} else {
			g.term("ret %s %s", retType, zeroValue(*proc.Sym.ReturnType))
		}
	}
	fmt.Fprintf(&g.cur.out, "}\n")
	g.funcs = append(g.funcs, g.cur.out.String())
	return nil
}

func (g *irGen) genMain(m *Module) error {
	g.cur = &fnState{}
	fmt.Fprintf(&g.cur.out, "define i32 @main() {\n")
	g.label("entry")

	if err := g.genStmts(m.Body); err != nil {
		return err
	}
	if !g.cur.terminated {
		g.term("ret i32 0")
	}
	fmt.Fprintf(&g.cur.out, "}\n")
	g.funcs = append(g.funcs, g.cur.out.String())
	return nil
}

//  Low-level emission helpers

func (g *irGen) newTemp() string {
	g.cur.tempSeq++
	return fmt.Sprintf("%%t%d", g.cur.tempSeq)
}

// nextDisambig returns a fresh suffix shared by every label a single
// control construct introduces (e.g. then3/else3/endif3 all belong to the
// same IF), so labels stay unique across the function without a separate
// counter per label name.
func (g *irGen) nextDisambig() int {
	g.cur.disambig++
	return g.cur.disambig
}

func (g *irGen) emit(format string, args ...any) {
	if g.cur.terminated {
		return
	}
	fmt.Fprintf(&g.cur.out, "  "+format+"\n", args...)
}

func (g *irGen) term(format string, args ...any) {
	if g.cur.terminated {
		return
	}
	fmt.Fprintf(&g.cur.out, "  "+format+"\n", args...)
	g.cur.terminated = true
}

func (g *irGen) label(name string) {
	fmt.Fprintf(&g.cur.out, "%s:\n", name)
	g.cur.terminated = false
}

//  String pool

func (g *irGen) stringRef(content string) (string, int) {
	if label, ok := g.strPool[content]; ok {
		return label, len(content) + 1
	}
	label := fmt.Sprintf("@.str%d", len(g.strOrder))
	g.strPool[content] = label
	g.strOrder = append(g.strOrder, content)
	return label, len(content) + 1
}

func (g *irGen) stringConstExpr(content string) string {
	label, n := g.stringRef(content)
	return fmt.Sprintf("getelementptr inbounds ([%d x i8], [%d x i8]* %s, i32 0, i32 0)", n, n, label)
}

func (g *irGen) renderStringPool() string {
	var sb strings.Builder
	for i, content := range g.strOrder {
		label := fmt.Sprintf("@.str%d", i)
		fmt.Fprintf(&sb, "%s = private constant [%d x i8] c\"%s\\00\"\n", label, len(content)+1, escapeLLVMString(content))
	}
	return sb.String()
}

func escapeLLVMString(s string) string {
	var sb strings.Builder
	for _, b := range []byte(s) {
		switch {
		case b == '"':
			sb.WriteString("\\22")
		case b == '\\':
			sb.WriteString("\\5C")
		case b < 0x20 || b >= 0x7F:
			fmt.Fprintf(&sb, "\\%02X", b)
		default:
			sb.WriteByte(b)
		}
	}
	return sb.String()
}

func formatReal(v float64) string {
	return strconv.FormatFloat(v, 'e', 6, 64)
}

//  Statements

func (g *irGen) genStmts(stmts []Stmt) error {
	for _, s := range stmts {
		if err := g.genStmt(s); err != nil {
			return err
		}
		if g.cur.terminated {
			break
		}
	}
	return nil
}

func (g *irGen) genStmt(s Stmt) error {
	switch s := s.(type) {
	case *Assignment:
		return g.genAssignment(s)
	case *ProcCall:
		return g.genProcCall(s)
	case *If:
		return g.genIf(s)
	case *While:
		return g.genWhile(s)
	case *For:
		return g.genFor(s)
	case *Return:
		return g.genReturn(s)
	default:
		return &internalError{Msg: fmt.Sprintf("unhandled statement type %T", s)}
	}
}

func (g *irGen) genAssignment(a *Assignment) error {
	addr, elemType, destType, err := g.address(a.Target)
	if err != nil {
		return err
	}
	val, err := g.genExprAs(a.Value, destType)
	if err != nil {
		return err
	}
	g.emit("store %s %s, %s* %s", elemType, val, elemType, addr)
	return nil
}

func (g *irGen) genProcCall(s *ProcCall) error {
	if s.Name == "Write" || s.Name == "WriteLn" {
		return g.genBuiltinCall(s)
	}
	args := make([]string, len(s.Args))
	for i, arg := range s.Args {
		v, err := g.genExprAs(arg, s.Sym.Params[i])
		if err != nil {
			return err
		}
		args[i] = fmt.Sprintf("%s %s", llvmType(s.Sym.Params[i]), v)
	}
	retTy := "void"
	if s.Sym.ReturnType != nil {
		retTy = llvmType(*s.Sym.ReturnType)
	}
	if retTy == "void" {
		g.emit("call void @%s(%s)", s.Name, strings.Join(args, ", "))
	} else {
		g.emit("%s = call %s @%s(%s)", g.newTemp(), retTy, s.Name, strings.Join(args, ", "))
	}
	return nil
}

func (g *irGen) genBuiltinCall(s *ProcCall) error {
	if s.Name == "WriteLn" {
		g.emitPrintf("\n", "", "")
		return nil
	}
	arg := s.Args[0]
	switch arg.Type().Kind {
	case KindInteger:
		v, err := g.genExpr(arg)
		if err != nil {
			return err
		}
		g.emitPrintf("%d", "i32", v)
	case KindReal:
		v, err := g.genExprAs(arg, Real)
		if err != nil {
			return err
		}
		g.emitPrintf("%f", "double", v)
	case KindString:
		v, err := g.genExpr(arg)
		if err != nil {
			return err
		}
		g.emitPrintf("%s", "i8*", v)
	default:
		return &internalError{Msg: "Write called with non-scalar argument"}
	}
	return nil
}

func (g *irGen) emitPrintf(format, argType, argVal string) {
	fmtPtr := g.stringConstExpr(format)
	tmp := g.newTemp()
	if argType == "" {
		g.emit("%s = call i32 (i8*, ...) @printf(i8* %s)", tmp, fmtPtr)
	} else {
		g.emit("%s = call i32 (i8*, ...) @printf(i8* %s, %s %s)", tmp, fmtPtr, argType, argVal)
	}
}

func (g *irGen) genIf(s *If) error {
	cond, err := g.genExpr(s.Cond)
	if err != nil {
		return err
	}
	n := g.nextDisambig()
	thenLabel := fmt.Sprintf("then%d", n)
	endLabel := fmt.Sprintf("endif%d", n)
	elseLabel := endLabel
	if len(s.Else) > 0 {
		elseLabel = fmt.Sprintf("else%d", n)
	}
	g.term("br i1 %s, label %%%s, label %%%s", cond, thenLabel, elseLabel)

	g.label(thenLabel)
	if err := g.genStmts(s.Then); err != nil {
		return err
	}
	if !g.cur.terminated {
		g.term("br label %%%s", endLabel)
	}

	if len(s.Else) > 0 {
		g.label(elseLabel)
		if err := g.genStmts(s.Else); err != nil {
			return err
		}
		if !g.cur.terminated {
			g.term("br label %%%s", endLabel)
		}
	}

	g.label(endLabel)
	return nil
}

func (g *irGen) genWhile(s *While) error {
	n := g.nextDisambig()
	condLabel := fmt.Sprintf("cond%d", n)
	bodyLabel := fmt.Sprintf("body%d", n)
	endLabel := fmt.Sprintf("endw%d", n)

	g.term("br label %%%s", condLabel)
	g.label(condLabel)
	cond, err := g.genExpr(s.Cond)
	if err != nil {
		return err
	}
	g.term("br i1 %s, label %%%s, label %%%s", cond, bodyLabel, endLabel)

	g.label(bodyLabel)
	if err := g.genStmts(s.Body); err != nil {
		return err
	}
	if !g.cur.terminated {
		g.term("br label %%%s", condLabel)
	}

	g.label(endLabel)
	return nil
}

// genFor lowers FOR v := start TO end DO body with the inclusive bound
// evaluated once, per spec 4.4: the end value is computed in the preheader
// block, which dominates for_start/for_body, so the same SSA register can
// be compared against on every iteration without reloading it.
func (g *irGen) genFor(s *For) error {
	n := g.nextDisambig()
	startLabel := fmt.Sprintf("for_start%d", n)
	bodyLabel := fmt.Sprintf("for_body%d", n)
	endLabel := fmt.Sprintf("for_end%d", n)

	startVal, err := g.genExpr(s.Start)
	if err != nil {
		return err
	}
	g.emit("store i32 %s, i32* %s", startVal, s.Sym.IRRef)
	endVal, err := g.genExpr(s.End)
	if err != nil {
		return err
	}
	g.term("br label %%%s", startLabel)

	g.label(startLabel)
	cur := g.newTemp()
	g.emit("%s = load i32, i32* %s", cur, s.Sym.IRRef)
	cmp := g.newTemp()
	g.emit("%s = icmp sle i32 %s, %s", cmp, cur, endVal)
	g.term("br i1 %s, label %%%s, label %%%s", cmp, bodyLabel, endLabel)

	g.label(bodyLabel)
	if err := g.genStmts(s.Body); err != nil {
		return err
	}
	if !g.cur.terminated {
		cur2 := g.newTemp()
		g.emit("%s = load i32, i32* %s", cur2, s.Sym.IRRef)
		next := g.newTemp()
		g.emit("%s = add i32 %s, 1", next, cur2)
		g.emit("store i32 %s, i32* %s", next, s.Sym.IRRef)
		g.term("br label %%%s", startLabel)
	}

	g.label(endLabel)
	return nil
}

func (g *irGen) genReturn(s *Return) error {
	if s.Value == nil {
		g.term("ret void")
		return nil
	}
	val, err := g.genExprAs(s.Value, *g.cur.retType)
	if err != nil {
		return err
	}
	g.term("ret %s %s", llvmType(*g.cur.retType), val)
	return nil
}

//  Addresses (designator lvalues)

// address returns the pointer operand, its pointee's IR type, and its
// pointee's Type for a designator, resolving any array indices via GEP.
func (g *irGen) address(d *Designator) (ptr string, elemIR string, elemType Type, err error) {
	if len(d.Indices) == 0 {
		return d.Sym.IRRef, llvmType(d.Sym.Type), d.Sym.Type, nil
	}
	aggType := llvmType(d.Sym.Type)
	idxOperands := make([]string, len(d.Indices))
	for i, ix := range d.Indices {
		v, err := g.genExpr(ix)
		if err != nil {
			return "", "", Type{}, err
		}
		idxOperands[i] = "i32 " + v
	}
	tmp := g.newTemp()
	g.emit("%s = getelementptr inbounds %s, %s* %s, i32 0, %s", tmp, aggType, aggType, d.Sym.IRRef, strings.Join(idxOperands, ", "))
	return tmp, llvmType(d.Type()), d.Type(), nil
}

//  Expressions

func (g *irGen) genExpr(e Expr) (string, error) {
	switch e := e.(type) {
	case *IntLiteral:
		return strconv.FormatInt(int64(e.Value), 10), nil
	case *RealLiteral:
		return formatReal(e.Value), nil
	case *StringLiteral:
		return g.stringConstExpr(e.Value), nil
	case *Designator:
		return g.genLoad(e)
	case *FuncCall:
		return g.genCall(e)
	case *UnaryOp:
		return g.genUnary(e)
	case *BinaryOp:
		return g.genBinary(e)
	default:
		return "", &internalError{Msg: fmt.Sprintf("unhandled expression type %T", e)}
	}
}

// genExprAs evaluates e and, if want is REAL but e is statically INTEGER,
// inserts the sitofp promotion the spec requires at every implicit
// widening site (assignment, arguments, return, mixed arithmetic).
func (g *irGen) genExprAs(e Expr, want Type) (string, error) {
	v, err := g.genExpr(e)
	if err != nil {
		return "", err
	}
	if want.Kind == KindReal && e.Type().Kind == KindInteger {
		tmp := g.newTemp()
		g.emit("%s = sitofp i32 %s to double", tmp, v)
		return tmp, nil
	}
	return v, nil
}

func (g *irGen) genLoad(d *Designator) (string, error) {
	if d.Sym.Kind == SymConst {
		return g.constOperand(d.Sym), nil
	}
	ptr, elemIR, _, err := g.address(d)
	if err != nil {
		return "", err
	}
	tmp := g.newTemp()
	g.emit("%s = load %s, %s* %s", tmp, elemIR, elemIR, ptr)
	return tmp, nil
}

func (g *irGen) constOperand(sym *Symbol) string {
	switch v := sym.ConstValue.(type) {
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case float64:
		return formatReal(v)
	case string:
		return g.stringConstExpr(v)
	default:
		return "0"
	}
}

func (g *irGen) genCall(f *FuncCall) (string, error) {
	args := make([]string, len(f.Args))
	for i, arg := range f.Args {
		v, err := g.genExprAs(arg, f.Sym.Params[i])
		if err != nil {
			return "", err
		}
		args[i] = fmt.Sprintf("%s %s", llvmType(f.Sym.Params[i]), v)
	}
	retTy := llvmType(*f.Sym.ReturnType)
	tmp := g.newTemp()
	g.emit("%s = call %s @%s(%s)", tmp, retTy, f.Name, strings.Join(args, ", "))
	return tmp, nil
}

func (g *irGen) genUnary(u *UnaryOp) (string, error) {
	v, err := g.genExpr(u.Operand)
	if err != nil {
		return "", err
	}
	if u.Op == PLUS {
		return v, nil
	}
	tmp := g.newTemp()
	if u.Type().Kind == KindReal {
		g.emit("%s = fsub double 0.000000e+00, %s", tmp, v)
	} else {
		g.emit("%s = sub i32 0, %s", tmp, v)
	}
	return tmp, nil
}

func (g *irGen) genBinary(b *BinaryOp) (string, error) {
	switch b.Op {
	case AND, OR:
		return g.genLogical(b)
	case DIV, MOD:
		return g.genIntDivMod(b)
	case SLASH:
		return g.genRealDiv(b)
	case PLUS, MINUS, STAR:
		return g.genArith(b)
	case EQ, NEQ, LT, LE, GT, GE:
		return g.genRelational(b)
	default:
		return "", &internalError{Msg: fmt.Sprintf("unhandled binary operator %s", b.Op)}
	}
}

func (g *irGen) genLogical(b *BinaryOp) (string, error) {
	lv, err := g.genExpr(b.Left)
	if err != nil {
		return "", err
	}
	rv, err := g.genExpr(b.Right)
	if err != nil {
		return "", err
	}
	instr := "and"
	if b.Op == OR {
		instr = "or"
	}
	tmp := g.newTemp()
	g.emit("%s = %s i1 %s, %s", tmp, instr, lv, rv)
	return tmp, nil
}

func (g *irGen) genIntDivMod(b *BinaryOp) (string, error) {
	lv, err := g.genExpr(b.Left)
	if err != nil {
		return "", err
	}
	rv, err := g.genExpr(b.Right)
	if err != nil {
		return "", err
	}
	instr := "sdiv"
	if b.Op == MOD {
		instr = "srem"
	}
	tmp := g.newTemp()
	g.emit("%s = %s i32 %s, %s", tmp, instr, lv, rv)
	return tmp, nil
}

func (g *irGen) genRealDiv(b *BinaryOp) (string, error) {
	lv, err := g.genExprAs(b.Left, Real)
	if err != nil {
		return "", err
	}
	rv, err := g.genExprAs(b.Right, Real)
	if err != nil {
		return "", err
	}
	tmp := g.newTemp()
	g.emit("%s = fdiv double %s, %s", tmp, lv, rv)
	return tmp, nil
}

func (g *irGen) genArith(b *BinaryOp) (string, error) {
	result := b.Type()
	lv, err := g.genExprAs(b.Left, result)
	if err != nil {
		return "", err
	}
	rv, err := g.genExprAs(b.Right, result)
	if err != nil {
		return "", err
	}
	tmp := g.newTemp()
	if result.Kind == KindReal {
		g.emit("%s = %s double %s, %s", tmp, realArithOp(b.Op), lv, rv)
	} else {
		g.emit("%s = %s i32 %s, %s", tmp, intArithOp(b.Op), lv, rv)
	}
	return tmp, nil
}

func intArithOp(op TokenType) string {
	switch op {
	case PLUS:
		return "add"
	case MINUS:
		return "sub"
	default:
		return "mul"
	}
}

func realArithOp(op TokenType) string {
	switch op {
	case PLUS:
		return "fadd"
	case MINUS:
		return "fsub"
	default:
		return "fmul"
	}
}

func (g *irGen) genRelational(b *BinaryOp) (string, error) {
	lt, rt := b.Left.Type(), b.Right.Type()
	if lt.Kind == KindString || rt.Kind == KindString {
		lv, err := g.genExpr(b.Left)
		if err != nil {
			return "", err
		}
		rv, err := g.genExpr(b.Right)
		if err != nil {
			return "", err
		}
		tmp := g.newTemp()
		g.emit("%s = icmp %s i8* %s, %s", tmp, stringPredicate(b.Op), lv, rv)
		return tmp, nil
	}

	common := Integer
	if lt.Kind == KindReal || rt.Kind == KindReal {
		common = Real
	}
	lv, err := g.genExprAs(b.Left, common)
	if err != nil {
		return "", err
	}
	rv, err := g.genExprAs(b.Right, common)
	if err != nil {
		return "", err
	}
	tmp := g.newTemp()
	if common.Kind == KindReal {
		g.emit("%s = fcmp %s double %s, %s", tmp, realPredicate(b.Op), lv, rv)
	} else {
		g.emit("%s = icmp %s i32 %s, %s", tmp, intPredicate(b.Op), lv, rv)
	}
	return tmp, nil
}

func intPredicate(op TokenType) string {
	switch op {
	case EQ:
		return "eq"
	case NEQ:
		return "ne"
	case LT:
		return "slt"
	case LE:
		return "sle"
	case GT:
		return "sgt"
	default:
		return "sge"
	}
}

func realPredicate(op TokenType) string {
	switch op {
	case EQ:
		return "oeq"
	case NEQ:
		return "one"
	case LT:
		return "olt"
	case LE:
		return "ole"
	case GT:
		return "ogt"
	default:
		return "oge"
	}
}

// stringPredicate compares STRING operands by pointer identity, matching
// the reference-equality model used for assignment compatibility; ordering
// predicates fall back to an unsigned pointer compare.
func stringPredicate(op TokenType) string {
	switch op {
	case EQ:
		return "eq"
	case NEQ:
		return "ne"
	case LT:
		return "ult"
	case LE:
		return "ule"
	case GT:
		return "ugt"
	default:
		return "uge"
	}
}
