package compiler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func emitSrc(t *testing.T, src string) string {
	t.Helper()
	m, err := Parse(src)
	require.NoError(t, err)
	require.NoError(t, Analyze(m))
	ir, err := Emit(m)
	require.NoError(t, err)
	return ir
}

func TestEmitModuleHeader(t *testing.T) {
	ir := emitSrc(t, "MODULE H; BEGIN END H.")
	assert.Contains(t, ir, `; ModuleID = "oberon_module"`)
	assert.Contains(t, ir, "declare i32 @printf(i8*, ...)")
	assert.Contains(t, ir, "define i32 @main() {")
}

func TestEmitHiWriteLn(t *testing.T) {
	ir := emitSrc(t, `MODULE H; BEGIN Write("Hi"); WriteLn(); END H.`)
	assert.Contains(t, ir, `@.str0 = private constant [3 x i8] c"Hi\00"`)
	assert.Contains(t, ir, `@.str2 = private constant [2 x i8] c"\0A\00"`)
	assert.Contains(t, ir, "call i32 (i8*, ...) @printf")
}

func TestEmitGlobalVarsAndArithmetic(t *testing.T) {
	ir := emitSrc(t, `MODULE S;
VAR a,b,s: INTEGER;
BEGIN a:=10; b:=20; s:=a+b; Write(s); WriteLn(); END S.`)
	assert.Contains(t, ir, "@a = global i32 0")
	assert.Contains(t, ir, "@b = global i32 0")
	assert.Contains(t, ir, "store i32 10, i32* @a")
	assert.Contains(t, ir, "add i32")
}

func TestEmitForLoopStructure(t *testing.T) {
	ir := emitSrc(t, `MODULE L;
VAR i: INTEGER;
BEGIN FOR i:=1 TO 3 DO Write(i); END; WriteLn(); END L.`)
	assert.Contains(t, ir, "for_start1:")
	assert.Contains(t, ir, "for_body1:")
	assert.Contains(t, ir, "for_end1:")
	assert.Contains(t, ir, "icmp sle i32")
}

func TestEmitRecursiveFunctionHasSelfCall(t *testing.T) {
	ir := emitSrc(t, `MODULE F;
PROCEDURE f(n:INTEGER):INTEGER;
BEGIN IF n<=1 THEN RETURN 1; ELSE RETURN n*f(n-1); END; END f;
BEGIN Write(f(5)); WriteLn(); END F.`)
	assert.Contains(t, ir, "define i32 @f(i32 %n.arg) {")
	assert.Contains(t, ir, "call i32 @f(")
}

func TestEmitArrayParameterIsRawPointer(t *testing.T) {
	ir := emitSrc(t, `MODULE M;
PROCEDURE sum(a: ARRAY 3 OF INTEGER): INTEGER;
VAR i, s: INTEGER;
BEGIN s := 0; FOR i := 0 TO 2 DO s := s + a[i]; END; RETURN s; END sum;
BEGIN END M.`)
	assert.Contains(t, ir, "define i32 @sum([3 x i32]* %a) {")
	assert.NotContains(t, ir, "%a = alloca [3 x i32]")
}

func TestEmit2DArrayIndexingUsesGEP(t *testing.T) {
	ir := emitSrc(t, `MODULE M;
VAR m: ARRAY 2,2 OF INTEGER; i,j: INTEGER;
BEGIN FOR i:=0 TO 1 DO FOR j:=0 TO 1 DO m[i,j]:=i*10+j; END; END; Write(m[1,0]); WriteLn(); END M.`)
	assert.Contains(t, ir, "getelementptr inbounds [2 x [2 x i32]], [2 x [2 x i32]]* @m, i32 0,")
}

func TestEmitBasicBlocksHaveExactlyOneTerminator(t *testing.T) {
	ir := emitSrc(t, `MODULE F;
PROCEDURE f(n:INTEGER):INTEGER;
BEGIN IF n<=1 THEN RETURN 1; ELSE RETURN n*f(n-1); END; END f;
BEGIN Write(f(5)); WriteLn(); END F.`)

	for _, fn := range extractFunctionBodies(ir) {
		for _, block := range splitIntoBlocks(fn) {
			terminators := 0
			lines := strings.Split(block, "\n")
			for _, l := range lines {
				l = strings.TrimSpace(l)
				if strings.HasPrefix(l, "ret ") || strings.HasPrefix(l, "br ") {
					terminators++
				}
			}
			assert.Equal(t, 1, terminators, "block should have exactly one terminator:\n%s", block)
		}
	}
}

// extractFunctionBodies pulls out each "define ... { ... }" body's interior.
func extractFunctionBodies(ir string) []string {
	var bodies []string
	for _, part := range strings.Split(ir, "define ") {
		start := strings.Index(part, "{")
		end := strings.LastIndex(part, "}")
		if start == -1 || end == -1 || end <= start {
			continue
		}
		bodies = append(bodies, part[start+1:end])
	}
	return bodies
}

// splitIntoBlocks splits a function body into basic blocks delimited by
// "label:" lines.
func splitIntoBlocks(body string) []string {
	var blocks []string
	var cur strings.Builder
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasSuffix(trimmed, ":") && !strings.Contains(trimmed, " ") {
			if cur.Len() > 0 {
				blocks = append(blocks, cur.String())
				cur.Reset()
			}
			continue
		}
		cur.WriteString(line)
		cur.WriteString("\n")
	}
	if cur.Len() > 0 {
		blocks = append(blocks, cur.String())
	}
	return blocks
}
