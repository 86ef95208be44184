package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agrimonitor/agrimon/internal/debug"
	"github.com/agrimonitor/agrimon/internal/hw/camera"
)

// ErrFileNotCreated is returned when the utility reported success but the
// expected image is missing.
var ErrFileNotCreated = errors.New("photo capture failed - file not created")

// Photographer takes on-demand photos into a temporary directory.
// Concurrent captures are not serialized; each gets its own file.
type Photographer struct {
	runner camera.Runner
	dir    string
	now    func() time.Time

	mu       sync.Mutex
	lastTick int64
}

// NewPhotographer creates a Photographer writing into dir.
func NewPhotographer(r camera.Runner, dir string) *Photographer {
	return &Photographer{runner: r, dir: dir, now: time.Now}
}

// NextPath returns a fresh photo_<ms>.jpg path. The millisecond stamp is
// strictly increasing across calls, so two requests landing in the same
// millisecond still get distinct files.
func (p *Photographer) NextPath() string {
	p.mu.Lock()
	ms := p.now().UnixMilli()
	if ms <= p.lastTick {
		ms = p.lastTick + 1
	}
	p.lastTick = ms
	p.mu.Unlock()

	return filepath.Join(p.dir, fmt.Sprintf("photo_%d.jpg", ms))
}

// Capture takes one photo with preset and returns the path of the image.
// The caller owns the file and must remove it. On error no file is left behind.
func (p *Photographer) Capture(ctx context.Context, preset camera.Preset) (string, error) {
	path := p.NextPath()

	if err := p.runner.Run(ctx, preset.Args(path)); err != nil {
		removeQuietly(path)
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		removeQuietly(path)
		if os.IsNotExist(err) {
			return "", ErrFileNotCreated
		}
		return "", fmt.Errorf("check photo %s: %w", path, err)
	}

	debug.Capture("request", path)
	return path, nil
}
