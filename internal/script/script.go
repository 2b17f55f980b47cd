// Package script runs the configured post and skip scripts and classifies
// their exit status.
//
//	0        continue
//	1..127   warn, then continue
//	128..255 abort the run (also signals and scripts that cannot start)
package script

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// Kind is the classification of a script exit status.
type Kind int

const (
	Continue Kind = iota
	Warn
	Abort
)

func (k Kind) String() string {
	switch k {
	case Continue:
		return "continue"
	case Warn:
		return "warn"
	case Abort:
		return "abort"
	default:
		return "unknown"
	}
}

// Outcome is the result of one script invocation.
type Outcome struct {
	Err  error // set when the script could not be started
	Kind Kind
	Code int // exit code; -1 when the script did not exit normally
}

// Classify maps an exit code to its tier. Negative codes (signal, failure
// to start) abort.
func Classify(code int) Outcome {
	switch {
	case code == 0:
		return Outcome{Kind: Continue}
	case code >= 1 && code <= 127:
		return Outcome{Kind: Warn, Code: code}
	default:
		return Outcome{Kind: Abort, Code: code}
	}
}

// AbortError reports a script exit in the panic tier.
type AbortError struct {
	Script string
	Path   string
	Code   int
}

func (e *AbortError) Error() string {
	if e.Code < 0 {
		return fmt.Sprintf("script %s %s did not exit normally", e.Script, e.Path)
	}
	return fmt.Sprintf("script %s %s exited %d", e.Script, e.Path, e.Code)
}

// ExitCode returns the process exit status to propagate for this abort.
func (e *AbortError) ExitCode() int {
	if e.Code < 128 || e.Code > 255 {
		return 255
	}
	return e.Code
}

// Runner invokes the post and skip scripts. An empty path disables the
// corresponding script.
type Runner struct {
	// Output receives the scripts' stdout and stderr. Defaults to os.Stderr.
	Output io.Writer
	Post   string
	Skip   string
}

// InvokePost runs the post script with a finished part's path.
func (r *Runner) InvokePost(ctx context.Context, partPath string) Outcome {
	return r.invoke(ctx, r.Post, partPath)
}

// InvokeSkip runs the skip script with the unsuffixed archive path a
// skipped segment would have produced. The file does not exist.
func (r *Runner) InvokeSkip(ctx context.Context, basePath string) Outcome {
	return r.invoke(ctx, r.Skip, basePath)
}

func (r *Runner) invoke(ctx context.Context, script, arg string) Outcome {
	if r == nil || script == "" {
		return Outcome{Kind: Continue}
	}

	out := r.Output
	if out == nil {
		out = os.Stderr
	}

	cmd := exec.CommandContext(ctx, script, arg) //nolint:gosec // G204: configured script
	cmd.Stdout = out
	cmd.Stderr = out

	err := cmd.Run()
	if err == nil {
		return Outcome{Kind: Continue}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// ExitCode is -1 for a signal-terminated process.
		return Classify(exitErr.ExitCode())
	}
	return Outcome{Kind: Abort, Code: -1, Err: err}
}

// Check converts an abort outcome into an *AbortError.
func (o Outcome) Check(script, path string) error {
	if o.Kind != Abort {
		return nil
	}
	return &AbortError{Script: script, Path: path, Code: o.Code}
}
