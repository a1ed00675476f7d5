package sensor

import (
	"context"
	"math"
	"strings"
	"time"

	"agro-logger/internal/reading"
)

// Sim produces a slow daily temperature and humidity curve for every
// channel. Channels with "humid" in their name follow the humidity curve.
type Sim struct {
	channels []string
	now      func() time.Time
}

func NewSim(channels []string) *Sim {
	return &Sim{
		channels: channels,
		now:      time.Now,
	}
}

func (s *Sim) ReadAll(_ context.Context) reading.Reading {
	now := s.now()
	r := reading.New(now)

	phase := 2 * math.Pi * float64(now.Hour()*60+now.Minute()) / (24 * 60)

	for i, ch := range s.channels {
		v := 22 + 5*math.Sin(phase) + 0.25*float64(i)
		if strings.Contains(ch, "humid") {
			v = 60 - 15*math.Sin(phase)
		}

		r.Set(ch, Classify(ch, math.Round(v*100)/100))
	}

	return r
}
