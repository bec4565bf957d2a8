package simplelang

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/emberlang/emberc/pkg/driver"
	"github.com/emberlang/emberc/pkg/verify"
)

// TestLowerIdentityAdd grounds spec scenario 1 from the simplelang side:
// a trivially parsed function must lower to a module that verifies clean
// and lowers through pkg/driver to a non-empty instruction sequence.
func TestLowerIdentityAdd(t *testing.T) {
	prog, err := Parse(`
func add(a: i32, b: i32) -> i32 {
	return a + b
}
`)
	require.NoError(t, err)
	require.Len(t, prog.Funcs, 1)

	m, err := Lower(prog)
	require.NoError(t, err)
	require.Empty(t, verify.Module(m))

	fn, ok := m.Function("add")
	require.True(t, ok)

	b := driver.NewRegistry()
	backend, err := b.Resolve(driver.Triple{Arch: "x86_64", Vendor: "unknown", OS: "linux"})
	require.NoError(t, err)

	instrs, err := driver.BuildMachineInstrs(backend, m, fn)
	require.NoError(t, err)
	require.NotEmpty(t, instrs)
}

// TestLowerIfElseBothArmsReturn exercises the branch-merging logic when
// both arms of an if/else terminate: no merge block should be wired in,
// since control never falls through either branch.
func TestLowerIfElseBothArmsReturn(t *testing.T) {
	prog, err := Parse(`
func max(a: i32, b: i32) -> i32 {
	if a > b {
		return a
	} else {
		return b
	}
}
`)
	require.NoError(t, err)

	m, err := Lower(prog)
	require.NoError(t, err)
	require.Empty(t, verify.Module(m))

	fn, ok := m.Function("max")
	require.True(t, ok)
	require.Len(t, fn.Blocks, 3, "entry, then, else - no merge block since both arms return")
}

// TestLowerIfFallsThroughToMerge exercises the case where one arm doesn't
// terminate: a merge block must be synthesized and wired with Br.
func TestLowerIfFallsThroughToMerge(t *testing.T) {
	prog, err := Parse(`
func clampPositive(x: i32) -> i32 {
	if x < 0 {
		let x = 0
	}
	return x
}
`)
	require.NoError(t, err)

	m, err := Lower(prog)
	require.NoError(t, err)
	require.Empty(t, verify.Module(m))

	fn, ok := m.Function("clampPositive")
	require.True(t, ok)
	require.Len(t, fn.Blocks, 4, "entry, then, else, merge")
}

// TestLowerCallBetweenFunctions exercises the forward-signature pass: a
// function may call another declared later in the same program.
func TestLowerCallBetweenFunctions(t *testing.T) {
	prog, err := Parse(`
func sumOfSquares(a: i32, b: i32) -> i32 {
	return square(a) + square(b)
}

func square(n: i32) -> i32 {
	return n * n
}
`)
	require.NoError(t, err)

	m, err := Lower(prog)
	require.NoError(t, err)
	require.Empty(t, verify.Module(m))
}

func TestParseRejectsUnknownType(t *testing.T) {
	_, err := Parse(`func f(a: bogus) -> i32 { return a }`)
	require.Error(t, err)
}

func TestParseRejectsMalformedFunction(t *testing.T) {
	_, err := Parse(`func f(a: i32 -> i32 { return a }`)
	require.Error(t, err)
}

// TestWin64BackendAlsoAccepts confirms the lowered module is convention-
// agnostic: the same IR drives both registered calling conventions.
func TestWin64BackendAlsoAccepts(t *testing.T) {
	prog, err := Parse(`
func add(a: i32, b: i32) -> i32 {
	return a + b
}
`)
	require.NoError(t, err)
	m, err := Lower(prog)
	require.NoError(t, err)
	fn, _ := m.Function("add")

	reg := driver.NewRegistry()
	backend, err := reg.Resolve(driver.Triple{Arch: "x86_64", Vendor: "pc", OS: "windows"})
	require.NoError(t, err)
	require.Equal(t, "win64", backend.Conv.Name())

	_, err = driver.BuildMachineInstrs(backend, m, fn)
	require.NoError(t, err)
}
