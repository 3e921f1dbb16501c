package converter

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExecutor implements executor for testing. It records the command
// line and optionally writes an output file where the converter would.
type fakeExecutor struct {
	name   string
	args   []string
	output []byte
	result execResult
	err    error
}

func (f *fakeExecutor) Run(ctx context.Context, name string, args []string) (execResult, error) {
	f.name, f.args = name, args
	if f.output != nil {
		if err := os.WriteFile(args[2], f.output, 0o644); err != nil {
			return execResult{}, err
		}
	}
	return f.result, f.err
}

func stageInput(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc1")
	require.NoError(t, os.WriteFile(path, []byte("input"), 0o644))
	return path
}

func TestRun_Success(t *testing.T) {
	input := stageInput(t)
	fx := &fakeExecutor{output: []byte("converted")}
	r := newRunner(Config{}, fx)

	res, err := r.Run(context.Background(), input, "docx", "plain")
	require.NoError(t, err)

	assert.Equal(t, "pandoc", fx.name)
	assert.Equal(t, []string{input, "-o", input + ".out", "--from", "docx", "--to", "plain"}, fx.args)
	assert.Equal(t, StateSucceeded, res.State)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "converted", string(res.Output))

	_, err = os.Stat(res.OutputPath)
	assert.ErrorIs(t, err, os.ErrNotExist, "output should be removed after read-back")
}

func TestRun_KeepOutput(t *testing.T) {
	input := stageInput(t)
	r := newRunner(Config{Bin: "my-pandoc", KeepOutput: true}, &fakeExecutor{output: []byte("x")})

	res, err := r.Run(context.Background(), input, "markdown", "html")
	require.NoError(t, err)
	assert.Equal(t, "my-pandoc", r.Bin())
	assert.FileExists(t, res.OutputPath)
}

func TestRun_NonZeroExit(t *testing.T) {
	input := stageInput(t)
	fx := &fakeExecutor{
		output: []byte("partial"),
		result: execResult{ExitCode: 1, Stdout: []byte("warning: x\n"), Stderr: []byte("unsupported format\n")},
	}
	r := newRunner(Config{}, fx)

	res, err := r.Run(context.Background(), input, "docx", "plain")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConversion)
	assert.Equal(t, StateFailed, res.State)
	assert.Nil(t, res.Output, "partial output must not be accepted")

	var ce *ConversionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 1, ce.ExitCode)
	assert.Equal(t, "warning: x\nunsupported format\n", ce.Diagnostic)
	assert.Contains(t, err.Error(), "unsupported format")
}

func TestRun_MissingOutput(t *testing.T) {
	input := stageInput(t)
	r := newRunner(Config{}, &fakeExecutor{})

	res, err := r.Run(context.Background(), input, "docx", "plain")
	assert.ErrorIs(t, err, ErrOutput)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, StateFailed, res.State)
}

func TestRun_EmptyOutput(t *testing.T) {
	input := stageInput(t)
	r := newRunner(Config{}, &fakeExecutor{output: []byte{}})

	_, err := r.Run(context.Background(), input, "docx", "plain")
	assert.ErrorIs(t, err, ErrOutput)
}

func TestRun_SpawnFailure(t *testing.T) {
	input := stageInput(t)
	r := newRunner(Config{}, &fakeExecutor{err: exec.ErrNotFound})

	_, err := r.Run(context.Background(), input, "docx", "plain")
	assert.ErrorIs(t, err, ErrConversion)
	assert.ErrorIs(t, err, exec.ErrNotFound)
}

func TestResult_DiagnosticLossy(t *testing.T) {
	res := Result{Stdout: []byte{'a', 0xff}, Stderr: []byte("b")}
	assert.Equal(t, "a�b", res.Diagnostic())
}

// writeScript creates an executable shell script standing in for pandoc.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(t.TempDir(), "fake-pandoc")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestRun_RealProcess(t *testing.T) {
	// $1 input, $3 output, $5 from, $7 to
	bin := writeScript(t, `tr a-z A-Z < "$1" > "$3"`)
	input := stageInput(t)

	res, err := New(Config{Bin: bin}).Run(context.Background(), input, "markdown", "plain")
	require.NoError(t, err)
	assert.Equal(t, "INPUT", string(res.Output))
}

func TestRun_RealProcessFailure(t *testing.T) {
	bin := writeScript(t, `echo "unsupported format: $5" >&2; exit 3`)
	input := stageInput(t)

	res, err := New(Config{Bin: bin}).Run(context.Background(), input, "weird", "plain")
	assert.ErrorIs(t, err, ErrConversion)
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, res.Diagnostic(), "unsupported format: weird")
}

func TestRun_Timeout(t *testing.T) {
	bin := writeScript(t, `exec sleep 10`)
	input := stageInput(t)

	start := time.Now()
	res, err := New(Config{Bin: bin, Timeout: 100 * time.Millisecond}).Run(context.Background(), input, "a", "b")
	assert.ErrorIs(t, err, ErrTimeout)
	assert.NotErrorIs(t, err, ErrConversion)
	assert.Equal(t, StateFailed, res.State)
	assert.Less(t, time.Since(start), 5*time.Second)
}
