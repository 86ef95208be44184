package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agrimonitor/agrimon/internal/debug"
	"github.com/agrimonitor/agrimon/internal/logic/sensor"
)

// Source produces one sensor reading.
type Source interface {
	Read() (sensor.Reading, error)
}

// Publisher ships a reading somewhere.
type Publisher interface {
	Publish(ctx context.Context, r sensor.Reading) error
	Close() error
}

// Sampler reads the sensor on a fixed interval and hands each reading to a
// Publisher. Errors are logged and never stop sampling.
type Sampler struct {
	source    Source
	publisher Publisher
	interval  time.Duration

	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	latest sensor.Reading
	ok     bool
}

// StartSampler begins sampling; the first sample is taken immediately.
func StartSampler(ctx context.Context, src Source, pub Publisher, interval time.Duration) (*Sampler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("sample interval must be > 0, got %v", interval)
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Sampler{
		source:    src,
		publisher: pub,
		interval:  interval,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	debug.Info("Sensor sampling every %v", interval)
	go s.loop(ctx)
	return s, nil
}

// Stop ends sampling and closes the publisher.
func (s *Sampler) Stop() error {
	s.cancel()
	<-s.done
	return s.publisher.Close()
}

// Latest returns the last reading taken, if any.
func (s *Sampler) Latest() (sensor.Reading, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.ok
}

func (s *Sampler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sample(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample(ctx)
		}
	}
}

func (s *Sampler) sample(ctx context.Context) {
	r, err := s.source.Read()
	if err != nil {
		debug.Errorf("[%s] Sensor sample failed: %v", sensor.FormatDate(time.Now()), err)
		return
	}

	s.mu.Lock()
	s.latest, s.ok = r, true
	s.mu.Unlock()

	if err := s.publisher.Publish(ctx, r); err != nil {
		debug.Errorf("[%s] Publish sample failed: %v", r.Datetime, err)
	}
}

// LogPublisher writes readings to the debug log only.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, r sensor.Reading) error {
	debug.Live("sample %s temperature=%s humidity=%s", r.Datetime, r.Temperature, r.Humidity)
	return nil
}

func (LogPublisher) Close() error { return nil }
