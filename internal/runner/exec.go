package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
)

// Command is an external program invocation. A nil Env inherits the
// process environment.
type Command struct {
	Path string
	Args []string
	Env  []string
	Dir  string
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Path}, c.Args...), " ")
}

// Executor runs external commands. Run streams output to the executor's
// writers; Output captures stdout.
type Executor interface {
	Run(ctx context.Context, cmd Command) error
	Output(ctx context.Context, cmd Command) ([]byte, error)
}

// ExecExecutor runs commands with os/exec. Nil writers mean the process's
// own stdout and stderr.
type ExecExecutor struct {
	Stdout io.Writer
	Stderr io.Writer
}

var _ Executor = (*ExecExecutor)(nil)

func (e *ExecExecutor) Run(ctx context.Context, c Command) error {
	cmd := e.command(ctx, c)
	cmd.Stdout = writerOr(e.Stdout, os.Stdout)
	cmd.Stderr = writerOr(e.Stderr, os.Stderr)
	if err := cmd.Run(); err != nil {
		return newRunError(c, err, "")
	}
	return nil
}

func (e *ExecExecutor) Output(ctx context.Context, c Command) ([]byte, error) {
	cmd := e.command(ctx, c)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return out, newRunError(c, err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

func (e *ExecExecutor) command(ctx context.Context, c Command) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Env = c.Env
	cmd.Dir = c.Dir
	return cmd
}

func writerOr(w, fallback io.Writer) io.Writer {
	if w != nil {
		return w
	}
	return fallback
}

// RunError is returned when an external command cannot start or exits
// non-zero. ExitCode is -1 when the process never ran.
type RunError struct {
	Command  string
	ExitCode int
	Output   string
	Err      error
}

func (e *RunError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Command, e.Err)
	if e.ExitCode >= 0 {
		msg = fmt.Sprintf("%s: exit status %d", e.Command, e.ExitCode)
	}
	if e.Output != "" {
		msg += " (output: " + e.Output + ")"
	}
	return msg
}

func (e *RunError) Unwrap() error {
	return e.Err
}

func newRunError(c Command, err error, output string) *RunError {
	code := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}
	return &RunError{Command: c.String(), ExitCode: code, Output: output, Err: err}
}

// EnvList renders env as sorted KEY=VALUE pairs.
func EnvList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// EnvMap parses KEY=VALUE pairs such as os.Environ. Later entries win.
func EnvMap(pairs []string) map[string]string {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			continue
		}
		out[k] = v
	}
	return out
}
