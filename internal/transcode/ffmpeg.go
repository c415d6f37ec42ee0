// Package transcode drives the external codec engine.
package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/princekumarofficial/transcode-nexus/internal/types/jobs"
)

var commandContext = exec.CommandContext

const stderrTail = 2048

// Params describes one conversion.
type Params struct {
	Format  jobs.Format
	Quality int
}

// Engine converts the file at input into output.
type Engine interface {
	Transcode(ctx context.Context, input, output string, params Params) error
}

// EngineError reports a non-zero exit of the codec engine.
type EngineError struct {
	ExitCode int
	Stderr   string
}

func (e *EngineError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("ffmpeg exited with status %d", e.ExitCode)
	}
	return fmt.Sprintf("ffmpeg exited with status %d: %s", e.ExitCode, e.Stderr)
}

// Option configures the FFmpeg engine.
type Option func(*FFmpeg)

// WithBinary overrides the default binary name.
func WithBinary(binary string) Option {
	return func(f *FFmpeg) {
		if binary != "" {
			f.binary = binary
		}
	}
}

// FFmpeg runs the ffmpeg command-line encoder.
type FFmpeg struct {
	binary string
}

func NewFFmpeg(opts ...Option) *FFmpeg {
	f := &FFmpeg{binary: "ffmpeg"}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *FFmpeg) Transcode(ctx context.Context, input, output string, params Params) error {
	if input == "" || output == "" {
		return errors.New("input and output paths required")
	}

	profile, err := ProfileFor(params.Format)
	if err != nil {
		return err
	}

	var stderr bytes.Buffer
	cmd := commandContext(ctx, f.binary, profile.Args(input, output, params.Quality)...) //nolint:gosec
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("ffmpeg interrupted: %w", ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &EngineError{ExitCode: exitErr.ExitCode(), Stderr: tail(stderr.String())}
		}
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	return nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrTail {
		s = s[len(s)-stderrTail:]
	}
	return s
}

var _ Engine = (*FFmpeg)(nil)
