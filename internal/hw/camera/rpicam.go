package camera

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"

	"github.com/agrimonitor/agrimon/internal/debug"
)

// DefaultBinary is the libcamera still-capture utility shipped with Raspberry Pi OS.
const DefaultBinary = "rpicam-still"

// stderrLimit bounds how much of the utility's stderr is kept for diagnostics.
const stderrLimit = 4096

// ExecRunner runs the capture utility as a subprocess.
// No timeout is enforced here: the utility receives its own --timeout.
// Cancelling ctx kills the process, which is only expected on shutdown.
type ExecRunner struct {
	Binary string
}

// NewExecRunner returns a runner for binary, or DefaultBinary if empty.
func NewExecRunner(binary string) *ExecRunner {
	if binary == "" {
		binary = DefaultBinary
	}
	return &ExecRunner{Binary: binary}
}

// Run spawns the utility and waits for it to exit.
func (r *ExecRunner) Run(ctx context.Context, args []string) error {
	if debug.IsEnabled(debug.LevelVerbose) {
		debug.Verbose("exec %s %s", r.Binary, strings.Join(args, " "))
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.Binary, args...)
	cmd.Stderr = &limitedWriter{buf: &stderr, max: stderrLimit}

	if err := cmd.Start(); err != nil {
		return &SpawnError{Binary: r.Binary, Err: err}
	}

	err := cmd.Wait()
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		tail := strings.TrimSpace(stderr.String())
		if tail != "" {
			debug.Verbose("%s stderr: %s", r.Binary, tail)
		}
		return &ExitError{Binary: r.Binary, Code: exitErr.ExitCode(), Stderr: tail}
	}
	return &SpawnError{Binary: r.Binary, Err: err}
}

type limitedWriter struct {
	buf *bytes.Buffer
	max int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	if room := w.max - w.buf.Len(); room > 0 {
		if len(p) > room {
			w.buf.Write(p[:room])
		} else {
			w.buf.Write(p)
		}
	}
	return len(p), nil
}

// WarmupPreset is a tiny, fast shot used to initialize the camera stack.
var WarmupPreset = Preset{Quality: 50, TimeoutMs: 100, Width: 320, Height: 240, NoPreview: true}

// Warmup takes a throwaway picture to bring up the camera pipeline so the
// first real request is faster. Failure is only logged.
func Warmup(ctx context.Context, r Runner, path string) error {
	debug.Info("Warming up camera...")
	if err := r.Run(ctx, WarmupPreset.Args(path)); err != nil {
		debug.Warn("Camera warmup failed: %v", err)
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		debug.Verbose("remove warmup file: %v", err)
	}
	debug.Info("Camera warmed up successfully")
	return nil
}
