package sensor

import (
	"context"
	"math"
	"strings"
	"time"

	"agro-logger/internal/reading"
)

// Source reads every channel it knows about. A failed channel is reported
// as missing and never affects the others.
type Source interface {
	ReadAll(ctx context.Context) reading.Reading
}

// DS18B20 sentinels: -127 when the probe is disconnected and 85 after a
// power-on reset without conversion.
const (
	DisconnectedC = -127.0
	PowerOnResetC = 85.0
)

// Temperature filters probe sentinels.
func Temperature(v float64) reading.Value {
	if v == DisconnectedC || v == PowerOnResetC {
		return reading.Missing()
	}

	return reading.Some(v)
}

// Humidity filters values outside of 0..100 %RH.
func Humidity(v float64) reading.Value {
	if math.IsNaN(v) || v < 0 || v > 100 {
		return reading.Missing()
	}

	return reading.Some(v)
}

// Classify applies the filter matching the channel kind: humidity channels
// are range checked, every other channel is treated as a temperature probe.
func Classify(channel string, v float64) reading.Value {
	if strings.Contains(channel, "humid") {
		return Humidity(v)
	}

	return Temperature(v)
}

// Multi merges several sources. Each channel is owned by the first source
// that reports a valid value for it.
type Multi []Source

func (m Multi) ReadAll(ctx context.Context) reading.Reading {
	out := reading.New(time.Now())

	for _, src := range m {
		r := src.ReadAll(ctx)

		for ch, v := range r.Values {
			if prev, ok := out.Values[ch]; ok && prev.OK {
				continue
			}

			out.Set(ch, v)
		}
	}

	return out
}

type safeReading interface {
	Set(data reading.Reading)
	Get() reading.Reading
}

// Snapshot is a Source backed by the latest reading pushed by a background
// reader. Readings older than maxAge are reported missing.
type Snapshot struct {
	channels []string
	maxAge   time.Duration
	latest   safeReading
	now      func() time.Time
}

func NewSnapshot(channels []string, maxAge time.Duration) *Snapshot {
	return &Snapshot{
		channels: channels,
		maxAge:   maxAge,
		latest:   reading.NewSafeReading(),
		now:      time.Now,
	}
}

// Emit stores a reading; it satisfies the emitter interface used by the
// serial and UDP services.
func (s *Snapshot) Emit(r reading.Reading) {
	s.latest.Set(r)
}

func (s *Snapshot) ReadAll(_ context.Context) reading.Reading {
	latest := s.latest.Get()
	out := reading.New(s.now())

	fresh := !latest.Timestamp.IsZero() && (s.maxAge <= 0 || s.now().Sub(latest.Timestamp) <= s.maxAge)

	for _, ch := range s.channels {
		if !fresh {
			out.Set(ch, reading.Missing())

			continue
		}

		out.Set(ch, latest.Get(ch))
	}

	return out
}
