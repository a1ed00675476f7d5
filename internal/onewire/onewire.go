package onewire

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"periph.io/x/conn/v3/onewire"
	"periph.io/x/conn/v3/onewire/onewirereg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ds18b20"
	"periph.io/x/host/v3"

	"agro-logger/internal/reading"
	"agro-logger/internal/sensor"
)

const resolutionBits = 12

type thermometer interface {
	LastTemp() (physic.Temperature, error)
}

type probe struct {
	channel string
	dev     thermometer
}

// Service reads DS18B20 probes on a 1-Wire bus. All probes convert at once,
// then each one is read by ROM address.
type Service struct {
	bus        onewire.BusCloser
	probes     []probe
	convertAll func() error
}

// ParseAddress reads a ROM code written as 16 hex digits, most significant
// byte (CRC) first. Dashes and a 0x prefix are ignored.
func ParseAddress(s string) (onewire.Address, error) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	s = strings.ReplaceAll(s, "-", "")

	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse address %q: %w", s, err)
	}

	return onewire.Address(v), nil
}

// Open initialises the host drivers and opens the named bus, the first one
// when busName is empty. devices maps channel names to ROM codes.
func Open(busName string, devices map[string]string) (*Service, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph: %w", err)
	}

	bus, err := onewirereg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("failed to open 1-Wire bus: %w", err)
	}

	channels := make([]string, 0, len(devices))
	for ch := range devices {
		channels = append(channels, ch)
	}

	sort.Strings(channels)

	svc := &Service{
		bus: bus,
		convertAll: func() error {
			return ds18b20.ConvertAll(bus, resolutionBits)
		},
	}

	for _, ch := range channels {
		addr, err := ParseAddress(devices[ch])
		if err != nil {
			bus.Close()

			return nil, err
		}

		dev, err := ds18b20.New(bus, addr, resolutionBits)
		if err != nil {
			bus.Close()

			return nil, fmt.Errorf("ds18b20 %s (%s): %w", ch, devices[ch], err)
		}

		slog.Info("ds18b20 probe", "channel", ch, "address", fmt.Sprintf("%#016x", uint64(addr)))

		svc.probes = append(svc.probes, probe{channel: ch, dev: dev})
	}

	return svc, nil
}

func (s *Service) Close() error {
	return s.bus.Close() //nolint:wrapcheck
}

func (s *Service) ReadAll(ctx context.Context) reading.Reading {
	r := reading.New(time.Now())

	if err := s.convertAll(); err != nil {
		slog.WarnContext(ctx, "ds18b20 conversion failed", "err", err)

		for _, p := range s.probes {
			r.Set(p.channel, reading.Missing())
		}

		return r
	}

	for _, p := range s.probes {
		t, err := p.dev.LastTemp()
		if err != nil {
			slog.WarnContext(ctx, "error reading ds18b20", "channel", p.channel, "err", err)
			r.Set(p.channel, reading.Missing())

			continue
		}

		v := sensor.Temperature(t.Celsius())
		if !v.OK {
			slog.WarnContext(ctx, "ds18b20 sentinel value", "channel", p.channel, "celsius", t.Celsius())
		}

		r.Set(p.channel, v)
	}

	return r
}
