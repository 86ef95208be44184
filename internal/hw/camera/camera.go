package camera

import (
	"context"
	"fmt"
	"strconv"
)

// Runner is the high-level interface used by the rest of the application.
// It runs the still-capture utility once with the given arguments and
// returns nil only if the utility reported success.
//
// A failure is either an *ExitError (the process ran and exited non-zero)
// or a *SpawnError (the process could not be started or waited on).
type Runner interface {
	Run(ctx context.Context, args []string) error
}

// ExitError reports a capture utility that exited with a non-zero code.
type ExitError struct {
	Binary string
	Code   int
	Stderr string // tail of the utility's stderr, may be empty
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d", e.Binary, e.Code)
}

// SpawnError reports a capture utility that could not be started.
type SpawnError struct {
	Binary string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Binary, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Preset is a fixed set of capture parameters.
type Preset struct {
	Quality   int // JPEG quality 1-100
	TimeoutMs int // how long the utility runs before taking the picture
	Width     int
	Height    int
	NoPreview bool
	Immediate bool
}

// Args builds the argument list writing a single JPEG to output.
func (p Preset) Args(output string) []string {
	args := []string{
		"-o", output,
		"-q", strconv.Itoa(p.Quality),
		"--timeout", strconv.Itoa(p.TimeoutMs),
		"--width", strconv.Itoa(p.Width),
		"--height", strconv.Itoa(p.Height),
	}
	if p.NoPreview {
		args = append(args, "--nopreview")
	}
	if p.Immediate {
		args = append(args, "--immediate")
	}
	return args
}
