package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func analyzeSrc(t *testing.T, src string) (*Module, error) {
	t.Helper()
	m, err := Parse(src)
	require.NoError(t, err, "fixture must parse cleanly")
	return m, Analyze(m)
}

func TestAnalyzeUndeclaredIdentifier(t *testing.T) {
	_, err := analyzeSrc(t, "MODULE E; BEGIN x := 1; END E.")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undeclared")
	assert.Contains(t, err.Error(), "x")
}

func TestAnalyzeRedeclarationInSameScope(t *testing.T) {
	_, err := analyzeSrc(t, "MODULE M; VAR a: INTEGER; a: REAL; BEGIN END M.")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already declared")
}

func TestAnalyzeShadowingAcrossScopesIsLegal(t *testing.T) {
	_, err := analyzeSrc(t, `MODULE M;
VAR a: INTEGER;
PROCEDURE f(a: REAL): REAL; BEGIN RETURN a END f;
BEGIN END M.`)
	require.NoError(t, err)
}

func TestAnalyzeSlashAlwaysYieldsReal(t *testing.T) {
	m, err := analyzeSrc(t, `MODULE M;
VAR a, b: INTEGER; r: REAL;
BEGIN r := a / b; END M.`)
	require.NoError(t, err)
	assign := m.Body[0].(*Assignment)
	assert.Equal(t, Real, assign.Value.Type())
}

func TestAnalyzeDivModRequireInteger(t *testing.T) {
	_, err := analyzeSrc(t, `MODULE M;
VAR a: REAL; b: INTEGER; r: INTEGER;
BEGIN r := a DIV b; END M.`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DIV")
}

func TestAnalyzeRelationalAcceptsStrings(t *testing.T) {
	m, err := analyzeSrc(t, `MODULE M;
VAR s, t: STRING;
BEGIN IF s = t THEN END END M.`)
	require.NoError(t, err)
	cond := m.Body[0].(*If).Cond
	assert.Equal(t, Boolean, cond.Type())
}

func TestAnalyzeRelationalRejectsMixedStringNumeric(t *testing.T) {
	_, err := analyzeSrc(t, `MODULE M;
VAR s: STRING; n: INTEGER;
BEGIN IF s = n THEN END END M.`)
	require.Error(t, err)
}

func TestAnalyzeIntegerPromotesToReal(t *testing.T) {
	m, err := analyzeSrc(t, `MODULE M;
VAR r: REAL;
BEGIN r := 3; END M.`)
	require.NoError(t, err)
	assign := m.Body[0].(*Assignment)
	assert.Equal(t, Integer, assign.Value.Type())
	assert.True(t, assignable(assign.Target.Type(), assign.Value.Type()))
}

func TestAnalyzeCannotAssignRealToInteger(t *testing.T) {
	_, err := analyzeSrc(t, `MODULE M;
VAR n: INTEGER;
BEGIN n := 3.5; END M.`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot assign")
}

func TestAnalyzeForVariableMustBePredeclaredInteger(t *testing.T) {
	_, err := analyzeSrc(t, `MODULE M;
BEGIN FOR i := 1 TO 3 DO END END M.`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undeclared")
}

func TestAnalyzeForVariableResolvesExistingDecl(t *testing.T) {
	m, err := analyzeSrc(t, `MODULE M;
VAR i: INTEGER;
BEGIN FOR i := 1 TO 3 DO END END M.`)
	require.NoError(t, err)
	forStmt := m.Body[0].(*For)
	require.NotNil(t, forStmt.Sym)
	assert.Equal(t, SymVar, forStmt.Sym.Kind)
}

func TestAnalyzeProcMustReturnWhenReturnTypeDeclared(t *testing.T) {
	_, err := analyzeSrc(t, `MODULE M;
PROCEDURE f(): INTEGER; BEGIN END f;
BEGIN END M.`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must return")
}

func TestAnalyzeProcReturnInsideIfBranchSatisfiesCheck(t *testing.T) {
	_, err := analyzeSrc(t, `MODULE M;
PROCEDURE f(n: INTEGER): INTEGER;
BEGIN IF n <= 1 THEN RETURN 1 ELSE RETURN n END END f;
BEGIN END M.`)
	require.NoError(t, err)
}

func TestAnalyzeRecursiveCall(t *testing.T) {
	_, err := analyzeSrc(t, `MODULE M;
PROCEDURE f(n: INTEGER): INTEGER;
BEGIN IF n <= 1 THEN RETURN 1 ELSE RETURN n * f(n-1) END END f;
BEGIN END M.`)
	require.NoError(t, err)
}

func TestAnalyzeArityMismatch(t *testing.T) {
	_, err := analyzeSrc(t, `MODULE M;
PROCEDURE f(n: INTEGER); BEGIN END f;
BEGIN f(1, 2); END M.`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expects 1 argument")
}

func TestAnalyzeArrayRankViolation(t *testing.T) {
	_, err := analyzeSrc(t, `MODULE M;
VAR a: ARRAY 2 OF INTEGER;
BEGIN a[0,0] := 1; END M.`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension")
}

func TestAnalyzeConstantFolding(t *testing.T) {
	m, err := analyzeSrc(t, `MODULE M;
CONST Two = 1 + 1;
VAR a: INTEGER;
BEGIN a := Two; END M.`)
	require.NoError(t, err)
	cd := m.Decls[0].(*ConstDecl)
	assert.EqualValues(t, 2, cd.Sym.ConstValue)
}
