// Package converter runs the external document converter and interprets
// its exit status.
package converter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// OutputSuffix is appended to the input path to name the converter output.
const OutputSuffix = ".out"

const defaultBin = "pandoc"

var (
	// ErrConversion matches a non-zero exit or a converter that could not
	// be started.
	ErrConversion = errors.New("conversion failed")
	// ErrTimeout matches a converter killed for running past its deadline.
	ErrTimeout = errors.New("conversion timed out")
	// ErrOutput matches a successful exit whose output could not be read.
	ErrOutput = errors.New("conversion output unreadable")
)

type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// ConversionError carries what the converter said when it exited non-zero.
type ConversionError struct {
	ExitCode   int
	Diagnostic string
}

func (e *ConversionError) Error() string {
	if e.Diagnostic == "" {
		return fmt.Sprintf("%s: exit code %d", ErrConversion, e.ExitCode)
	}
	return fmt.Sprintf("%s: exit code %d: %s", ErrConversion, e.ExitCode, strings.TrimSpace(e.Diagnostic))
}
func (e *ConversionError) Is(target error) bool { return target == ErrConversion }

type Config struct {
	Bin        string
	Timeout    time.Duration // 0 => wait forever
	KeepOutput bool
}

type Runner struct {
	bin        string
	timeout    time.Duration
	keepOutput bool
	exec       executor
}

// Result describes one converter invocation.
type Result struct {
	State      State
	ExitCode   int
	Stdout     []byte
	Stderr     []byte
	OutputPath string
	Output     []byte
}

// Diagnostic is the captured process output as text, stdout first.
func (r Result) Diagnostic() string {
	return strings.ToValidUTF8(string(r.Stdout)+string(r.Stderr), "�")
}

func New(cfg Config) *Runner {
	return newRunner(cfg, osExecutor{})
}

func newRunner(cfg Config, exec executor) *Runner {
	bin := cfg.Bin
	if bin == "" {
		bin = defaultBin
	}
	return &Runner{
		bin:        bin,
		timeout:    cfg.Timeout,
		keepOutput: cfg.KeepOutput,
		exec:       exec,
	}
}

func (r *Runner) Bin() string { return r.bin }

// Args builds the converter command line for one job.
func Args(inputPath, outputPath, from, to string) []string {
	return []string{inputPath, "-o", outputPath, "--from", from, "--to", to}
}

// Run converts inputPath and blocks until the converter exits. Exit code 0
// is the only success; on success the output bytes are read back into the
// result.
func (r *Runner) Run(ctx context.Context, inputPath, from, to string) (Result, error) {
	res := Result{State: StateIdle, OutputPath: inputPath + OutputSuffix}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	if !r.keepOutput {
		defer os.Remove(res.OutputPath)
	}

	res.State = StateRunning
	out, err := r.exec.Run(ctx, r.bin, Args(inputPath, res.OutputPath, from, to))
	res.ExitCode, res.Stdout, res.Stderr = out.ExitCode, out.Stdout, out.Stderr
	if err != nil {
		res.State = StateFailed
		if errors.Is(err, context.DeadlineExceeded) {
			return res, fmt.Errorf("%w after %s", ErrTimeout, r.timeout)
		}
		return res, fmt.Errorf("%w: run %s: %w", ErrConversion, r.bin, err)
	}
	if res.ExitCode != 0 {
		res.State = StateFailed
		return res, &ConversionError{ExitCode: res.ExitCode, Diagnostic: res.Diagnostic()}
	}

	data, err := os.ReadFile(res.OutputPath)
	if err != nil {
		res.State = StateFailed
		return res, fmt.Errorf("%w: %w", ErrOutput, err)
	}
	if len(data) == 0 {
		res.State = StateFailed
		return res, fmt.Errorf("%w: %s is empty", ErrOutput, res.OutputPath)
	}
	res.Output = data
	res.State = StateSucceeded
	return res, nil
}
