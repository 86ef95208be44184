package dht

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/agrimonitor/agrimon/internal/debug"
	"github.com/agrimonitor/agrimon/internal/hw/gpio"
)

// Sensor kinds, named after the numeric codes used in the config file.
const (
	DHT11 = 11
	DHT22 = 22
)

// ErrInvalidReading is returned when the sensor answered with garbage:
// a bus timeout or a checksum mismatch. It is expected from time to time
// on real hardware and callers should treat it as a soft failure.
var ErrInvalidReading = errors.New("invalid sensor reading")

// Result is one raw reading. Valid is false when the values must not be used.
type Result struct {
	Temperature float64 // °C
	Humidity    float64 // %RH
	Valid       bool
}

// IsNumeric reports whether the result is valid and both values are finite.
func (r Result) IsNumeric() bool {
	return r.Valid &&
		!math.IsNaN(r.Temperature) && !math.IsInf(r.Temperature, 0) &&
		!math.IsNaN(r.Humidity) && !math.IsInf(r.Humidity, 0)
}

// Bus timings of the single-wire protocol.
const (
	startLowDHT11 = 18 * time.Millisecond
	startLowDHT22 = 1100 * time.Microsecond
	releaseDelay  = 30 * time.Microsecond
	edgeTimeout   = 200 * time.Microsecond
	frameBits     = 40
)

// minInterval returns how often the sensor may be polled.
func minInterval(kind int) time.Duration {
	if kind == DHT11 {
		return time.Second
	}
	return 2 * time.Second
}

// Sensor reads DHT11/DHT22 sensors by bit-banging a GPIO pin.
// Reads are serialized; a read issued before the sensor's minimum polling
// interval has elapsed returns the previous result for that pin.
type Sensor struct {
	gpio gpio.Driver
	now  func() time.Time

	// pulseClock times bus edges; separate from now so the polling cache
	// can be frozen independently.
	pulseClock func() time.Time

	mu   sync.Mutex
	last map[int]cached
}

type cached struct {
	at     time.Time
	kind   int
	result Result
	err    error
}

// NewSensor creates a sensor driver on top of a GPIO driver.
func NewSensor(g gpio.Driver) *Sensor {
	return &Sensor{
		gpio:       g,
		now:        time.Now,
		pulseClock: time.Now,
		last:       make(map[int]cached),
	}
}

// Read performs one transaction with the sensor wired to pin.
func (s *Sensor) Read(kind, pin int) (Result, error) {
	if kind != DHT11 && kind != DHT22 {
		return Result{}, fmt.Errorf("unsupported sensor type %d", kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.last[pin]; ok && c.kind == kind && s.now().Sub(c.at) < minInterval(kind) {
		debug.Trace("DHT%d pin=%d: returning cached reading", kind, pin)
		return c.result, c.err
	}

	res, err := s.transact(kind, pin)
	s.last[pin] = cached{at: s.now(), kind: kind, result: res, err: err}
	return res, err
}

func (s *Sensor) transact(kind, pin int) (Result, error) {
	// Start signal: hold the line low, release it, then listen.
	if err := s.gpio.SetupPin(pin, gpio.Output); err != nil {
		return Result{}, fmt.Errorf("setup pin %d: %w", pin, err)
	}
	if err := s.gpio.WritePin(pin, gpio.Low); err != nil {
		return Result{}, fmt.Errorf("write pin %d: %w", pin, err)
	}
	if kind == DHT11 {
		time.Sleep(startLowDHT11)
	} else {
		time.Sleep(startLowDHT22)
	}
	if err := s.gpio.WritePin(pin, gpio.High); err != nil {
		return Result{}, fmt.Errorf("write pin %d: %w", pin, err)
	}
	time.Sleep(releaseDelay)
	if err := s.gpio.SetupPin(pin, gpio.Input); err != nil {
		return Result{}, fmt.Errorf("setup pin %d: %w", pin, err)
	}
	if err := s.gpio.SetPull(pin, gpio.PullUp); err != nil {
		return Result{}, fmt.Errorf("pull-up pin %d: %w", pin, err)
	}

	// Response: ~80µs low, ~80µs high, then the first bit's low phase.
	for _, lvl := range []gpio.Level{gpio.Low, gpio.High, gpio.Low} {
		if _, err := s.waitFor(pin, lvl); err != nil {
			return Result{}, fmt.Errorf("DHT%d pin=%d handshake: %w", kind, pin, err)
		}
	}

	lows := make([]time.Duration, frameBits)
	highs := make([]time.Duration, frameBits)
	for i := 0; i < frameBits; i++ {
		low, err := s.waitFor(pin, gpio.High)
		if err != nil {
			return Result{}, fmt.Errorf("DHT%d pin=%d bit %d: %w", kind, pin, i, err)
		}
		// After the last bit the sensor may release the line without a
		// trailing low; the time until the timeout still classifies the bit.
		high, err := s.waitFor(pin, gpio.Low)
		if err != nil && (i != frameBits-1 || !errors.Is(err, ErrInvalidReading)) {
			return Result{}, fmt.Errorf("DHT%d pin=%d bit %d: %w", kind, pin, i, err)
		}
		lows[i], highs[i] = low, high
	}

	return Decode(kind, PackBits(lows, highs))
}

// waitFor polls pin until it reads level and returns how long that took.
// On timeout the elapsed time is returned along with the error.
func (s *Sensor) waitFor(pin int, level gpio.Level) (time.Duration, error) {
	start := s.pulseClock()
	for {
		v, err := s.gpio.ReadPin(pin)
		if err != nil {
			return 0, err
		}
		elapsed := s.pulseClock().Sub(start)
		if v == level {
			return elapsed, nil
		}
		if elapsed > edgeTimeout {
			return elapsed, fmt.Errorf("timeout waiting for %v: %w", level, ErrInvalidReading)
		}
	}
}

// PackBits turns measured pulse widths into the 5-byte frame. A bit is 1 when
// its high phase outlasts the preceding low phase (~26µs vs ~70µs against 50µs).
func PackBits(lows, highs []time.Duration) [5]byte {
	var frame [5]byte
	for i := 0; i < frameBits && i < len(lows) && i < len(highs); i++ {
		frame[i/8] <<= 1
		if highs[i] > lows[i] {
			frame[i/8] |= 1
		}
	}
	return frame
}

// Decode converts a 5-byte frame into a Result, checking the checksum.
func Decode(kind int, frame [5]byte) (Result, error) {
	sum := frame[0] + frame[1] + frame[2] + frame[3]
	if sum != frame[4] {
		return Result{}, fmt.Errorf("checksum %#02x != %#02x: %w", sum, frame[4], ErrInvalidReading)
	}

	var res Result
	switch kind {
	case DHT11:
		res.Humidity = float64(frame[0]) + float64(frame[1])/10
		res.Temperature = float64(frame[2]) + float64(frame[3]&0x7f)/10
		if frame[3]&0x80 != 0 {
			res.Temperature = -res.Temperature
		}
	case DHT22:
		res.Humidity = float64(uint16(frame[0])<<8|uint16(frame[1])) / 10
		res.Temperature = float64(uint16(frame[2]&0x7f)<<8|uint16(frame[3])) / 10
		if frame[2]&0x80 != 0 {
			res.Temperature = -res.Temperature
		}
	default:
		return Result{}, fmt.Errorf("unsupported sensor type %d", kind)
	}

	if res.Humidity > 100 {
		return Result{}, fmt.Errorf("humidity %.1f out of range: %w", res.Humidity, ErrInvalidReading)
	}
	res.Valid = true
	return res, nil
}

// Fake is a sensor that always returns the same values. It stands in for the
// hardware when GPIO is mocked.
type Fake struct {
	Temperature float64
	Humidity    float64
}

// Read returns the configured values as a valid result.
func (f Fake) Read(kind, pin int) (Result, error) {
	debug.Trace("fake DHT%d pin=%d read", kind, pin)
	return Result{Temperature: f.Temperature, Humidity: f.Humidity, Valid: true}, nil
}
