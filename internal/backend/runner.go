package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// Runner executes the query helper. A non-zero exit is reported through
// exitCode with a nil error; err is reserved for failures to run at all.
type Runner interface {
	Run(ctx context.Context, argv []string) (stdout []byte, exitCode int, err error)
}

// LocalRunner runs the helper on this host
type LocalRunner struct{}

// Run executes argv with the context as its deadline
func (LocalRunner) Run(ctx context.Context, argv []string) ([]byte, int, error) {
	if len(argv) == 0 {
		return nil, 0, ErrNoCommand
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), 0, nil
	}

	if ctx.Err() != nil {
		return nil, 0, ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.Bytes(), exitErr.ExitCode(), nil
	}

	return nil, 0, fmt.Errorf("run %s: %w (%s)", argv[0], err, bytes.TrimSpace(stderr.Bytes()))
}
