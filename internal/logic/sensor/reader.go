package sensor

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/agrimonitor/agrimon/internal/debug"
	"github.com/agrimonitor/agrimon/internal/hw/dht"
)

// ErrorSentinel replaces temperature and humidity when the sensor returned an
// invalid reading. Consumers depend on this exact value; keep it stable.
const ErrorSentinel = "[error]"

// DateLayout is the YYYY/MM/DD HH:mm:ss format used in readings and logs.
const DateLayout = "2006/01/02 15:04:05"

// Driver reads one raw value from a sensor of the given kind on the given pin.
type Driver interface {
	Read(kind, pin int) (dht.Result, error)
}

// Reading is the value returned by GET /sensor.
type Reading struct {
	Datetime    string `json:"datetime"`
	Unixtime    int64  `json:"unixtime"`
	Temperature string `json:"temperature"`
	Humidity    string `json:"humidity"`
}

// Valid reports whether the reading carries numeric values.
func (r Reading) Valid() bool {
	return r.Temperature != ErrorSentinel && r.Humidity != ErrorSentinel
}

// Reader turns raw driver results into Readings.
type Reader struct {
	driver Driver
	kind   int
	pin    int
	now    func() time.Time
}

// Option configures a Reader.
type Option func(*Reader)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Reader) { r.now = now }
}

// NewReader creates a Reader for a sensor of kind wired to pin.
func NewReader(driver Driver, kind, pin int, opts ...Option) *Reader {
	r := &Reader{driver: driver, kind: kind, pin: pin, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Read samples the sensor once. Invalid readings do not fail: their values are
// replaced with ErrorSentinel. Only a hard driver failure returns an error.
func (r *Reader) Read() (Reading, error) {
	res, err := r.driver.Read(r.kind, r.pin)
	if err != nil && !errors.Is(err, dht.ErrInvalidReading) {
		return Reading{}, fmt.Errorf("read sensor DHT%d on pin %d: %w", r.kind, r.pin, err)
	}
	if err != nil {
		debug.Live("invalid sensor reading: %v", err)
		res = dht.Result{}
	}

	now := r.now()
	reading := Reading{
		Datetime:    FormatDate(now),
		Unixtime:    now.UnixMilli() / 1000,
		Temperature: ErrorSentinel,
		Humidity:    ErrorSentinel,
	}
	if res.IsNumeric() {
		reading.Temperature = formatValue(res.Temperature)
		reading.Humidity = formatValue(res.Humidity)
	}
	debug.Reading(reading.Temperature, reading.Humidity)
	return reading, nil
}

// FormatDate formats t as YYYY/MM/DD HH:mm:ss in t's location.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}
