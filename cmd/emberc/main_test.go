package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const identityAddIR = `define i32 @add(i32 %a, i32 %b) {
entry:
  %2 = add i32 %a, %b
  ret i32 %2
}
`

func writeTempIR(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "add.ir")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func execRoot(args ...string) (string, error) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestBuildEmitsAsmForIdentityAdd(t *testing.T) {
	path := writeTempIR(t, identityAddIR)
	outPath := filepath.Join(t.TempDir(), "add.s")

	_, err := execRoot("build", path, "--emit-asm", "-o", outPath)
	require.NoError(t, err)

	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.Contains(t, string(got), "addl %esi, %eax")
}

func TestBuildEmitsObjContainer(t *testing.T) {
	path := writeTempIR(t, identityAddIR)
	outPath := filepath.Join(t.TempDir(), "add.eobj")

	_, err := execRoot("build", path, "--emit-obj", "-o", outPath)
	require.NoError(t, err)

	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(got, []byte("EOB1")))
}

func TestBuildRejectsUnverifiedModule(t *testing.T) {
	path := writeTempIR(t, `define i32 @f(i32 %a, i64 %b) {
entry:
  %2 = add i32 %a, %b
  ret i32 %2
}
`)
	_, err := execRoot("build", path)
	require.Error(t, err)
}

func TestFmtWriteRewritesFileInPrettyForm(t *testing.T) {
	path := writeTempIR(t, identityAddIR)

	require.NoError(t, runFmt(path, true))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(got), "@add(")
	require.Contains(t, string(got), "ret i32 %2")
}

func TestFmtRejectsMalformedModule(t *testing.T) {
	path := writeTempIR(t, "define @broken(\n")
	require.Error(t, runFmt(path, false))
}
