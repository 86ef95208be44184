package capture

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agrimonitor/agrimon/internal/debug"
	"github.com/agrimonitor/agrimon/internal/hw/camera"
	"github.com/agrimonitor/agrimon/internal/logic/sensor"
)

// PeriodicConfig defines a periodic capture schedule.
type PeriodicConfig struct {
	Interval   time.Duration // time between two captures
	OutputPath string        // the latest image is kept here
	Preset     camera.Preset
}

// Stats is a snapshot of the scheduler counters.
type Stats struct {
	Runs        int       // captures started
	Failures    int       // captures that did not produce an image
	Skipped     int       // ticks dropped because a capture was still running
	LastSuccess time.Time // zero until the first successful capture
}

// Periodic is the handle of a running capture schedule.
type Periodic struct {
	runner camera.Runner
	cfg    PeriodicConfig
	cancel context.CancelFunc
	wg     sync.WaitGroup
	busy   atomic.Bool

	// onResult is called after every capture, see WithResultHook.
	onResult func(err error, d time.Duration)

	mu    sync.Mutex
	stats Stats
}

// PeriodicOption configures a Periodic schedule.
type PeriodicOption func(*Periodic)

// WithResultHook registers a callback invoked after every periodic capture.
func WithResultHook(fn func(err error, d time.Duration)) PeriodicOption {
	return func(p *Periodic) { p.onResult = fn }
}

// StartPeriodic fires one capture immediately, then one per interval until
// Stop is called or ctx is cancelled. Failures are logged and never stop
// the schedule. A tick arriving while the previous capture still runs is skipped.
func StartPeriodic(ctx context.Context, r camera.Runner, cfg PeriodicConfig, opts ...PeriodicOption) (*Periodic, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("periodic capture interval must be > 0, got %v", cfg.Interval)
	}
	if cfg.OutputPath == "" {
		return nil, fmt.Errorf("periodic capture output path is empty")
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Periodic{runner: r, cfg: cfg, cancel: cancel}
	for _, opt := range opts {
		opt(p)
	}

	debug.Info("Periodic capture every %v to %s", cfg.Interval, cfg.OutputPath)

	p.wg.Add(1)
	go p.loop(ctx)
	return p, nil
}

// Stop cancels the schedule and waits for an in-flight capture to return.
// It is safe to call more than once.
func (p *Periodic) Stop() {
	p.cancel()
	p.wg.Wait()
}

// OutputPath returns where the latest periodic image is written.
func (p *Periodic) OutputPath() string {
	return p.cfg.OutputPath
}

// Stats returns a snapshot of the scheduler counters.
func (p *Periodic) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Periodic) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			debug.Verbose("periodic capture stopped")
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Periodic) tick(ctx context.Context) {
	// select may pick a pending tick over a cancelled ctx.
	if ctx.Err() != nil {
		return
	}
	if !p.busy.CompareAndSwap(false, true) {
		p.mu.Lock()
		p.stats.Skipped++
		p.mu.Unlock()
		debug.Warn("[%s] Periodic capture skipped: previous capture still running", sensor.FormatDate(time.Now()))
		return
	}

	p.mu.Lock()
	p.stats.Runs++
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.busy.Store(false)

		start := time.Now()
		err := p.captureOnce(ctx)
		elapsed := time.Since(start)

		p.mu.Lock()
		if err != nil {
			p.stats.Failures++
		} else {
			p.stats.LastSuccess = time.Now()
		}
		p.mu.Unlock()

		if err != nil {
			debug.Errorf("[%s] Periodic capture failed: %v", sensor.FormatDate(time.Now()), err)
		} else {
			debug.Capture("periodic", p.cfg.OutputPath)
		}
		if p.onResult != nil {
			p.onResult(err, elapsed)
		}
	}()
}

// captureOnce writes to a sibling temp file and renames it over the output,
// so readers of OutputPath never see a partial image.
func (p *Periodic) captureOnce(ctx context.Context) error {
	tmp := p.cfg.OutputPath + ".tmp"
	if err := p.runner.Run(ctx, p.cfg.Preset.Args(tmp)); err != nil {
		removeQuietly(tmp)
		return err
	}
	if _, err := os.Stat(tmp); err != nil {
		removeQuietly(tmp)
		if os.IsNotExist(err) {
			return ErrFileNotCreated
		}
		return fmt.Errorf("check photo %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, p.cfg.OutputPath); err != nil {
		removeQuietly(tmp)
		return fmt.Errorf("replace latest photo: %w", err)
	}
	return nil
}

func removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		debug.Verbose("remove %s: %v", path, err)
	}
}
