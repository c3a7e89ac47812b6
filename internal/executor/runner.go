package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/genricoloni/dropbeat/internal/domain"
	"go.uber.org/zap"
)

var (
	// ErrEmptyCommand is returned when Run is given no argv
	ErrEmptyCommand = errors.New("empty command")
	// ErrToolNotFound is returned when no image transform tool is installed
	ErrToolNotFound = errors.New("no image transform tool found (install ImageMagick)")
)

// ExitError reports a command that ran but exited nonzero
type ExitError struct {
	Command string
	Code    int
	Stderr  string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s exited with status %d", e.Command, e.Code)
	}
	return fmt.Sprintf("%s exited with status %d: %s", e.Command, e.Code, e.Stderr)
}

// ProcessRunner runs external commands to completion
type ProcessRunner struct {
	logger *zap.Logger
}

var _ domain.Runner = (*ProcessRunner)(nil)

// NewProcessRunner creates a runner
func NewProcessRunner(logger *zap.Logger) *ProcessRunner {
	return &ProcessRunner{logger: logger}
}

// Run executes argv. Stdout is captured only when captureStdout is set;
// stderr is always captured so failures can be reported.
func (r *ProcessRunner) Run(ctx context.Context, argv []string, captureStdout bool) (domain.RunResult, error) {
	if len(argv) == 0 {
		return domain.RunResult{}, ErrEmptyCommand
	}

	r.logger.Debug("Running command",
		zap.String("command", argv[0]),
		zap.Strings("args", argv[1:]))

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	if captureStdout {
		cmd.Stdout = &stdout
	}
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.RunResult{}, ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return domain.RunResult{}, &ExitError{
				Command: argv[0],
				Code:    exitErr.ExitCode(),
				Stderr:  strings.TrimSpace(stderr.String()),
			}
		}
		return domain.RunResult{}, fmt.Errorf("failed to start %s: %w", argv[0], err)
	}

	return domain.RunResult{Stdout: stdout.String()}, nil
}

// transformTools are tried in order when no override is configured.
// ImageMagick 7 ships "magick"; version 6 only has "convert".
var transformTools = []string{"magick", "convert"}

// DetectTransformTool resolves the image transform binary. A non-empty
// override must exist on PATH or as a path.
func DetectTransformTool(logger *zap.Logger, override string) (string, error) {
	if override != "" {
		path, err := exec.LookPath(override)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrToolNotFound, override)
		}
		return path, nil
	}

	for _, name := range transformTools {
		if path, err := exec.LookPath(name); err == nil {
			logger.Info("Image transform tool detected",
				zap.String("name", name),
				zap.String("path", path))
			return path, nil
		}
	}
	return "", ErrToolNotFound
}
