package udp

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"time"

	"agro-logger/internal/reading"
	"agro-logger/internal/sensor"
)

const (
	readFromTimeout = 2 * time.Second
	maxUDPSafeSize  = 1472
)

var ErrPacketSize = errors.New("unexpected packet size")

// Service receives datagrams of little-endian float32 values, one per channel
// in configured order. NaN marks a failed read.
type Service struct {
	pc       net.PacketConn
	channels []string
}

func Listen(port string, channels []string) (*Service, error) {
	slog.Info("listening UDP", "port", port)

	pc, err := net.ListenPacket("udp4", port)
	if err != nil {
		return nil, fmt.Errorf("listenPacket: %w", err)
	}

	return &Service{
		pc:       pc,
		channels: channels,
	}, nil
}

func (s *Service) Addr() net.Addr {
	return s.pc.LocalAddr()
}

func (s *Service) Close() error {
	return s.pc.Close() //nolint:wrapcheck
}

type eventEmitter interface {
	Emit(r reading.Reading)
}

// DecodePacket converts a datagram into a reading.
func DecodePacket(data []byte, channels []string, ts time.Time) (reading.Reading, error) {
	if len(data) != 4*len(channels) {
		return reading.Reading{}, fmt.Errorf("%w: got %d bytes, want %d", ErrPacketSize, len(data), 4*len(channels))
	}

	r := reading.New(ts)

	for i, ch := range channels {
		v := math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
		r.Set(ch, sensor.Classify(ch, float64(v)))
	}

	return r, nil
}

func (s *Service) Run(ctx context.Context, emitter eventEmitter) error {
	buf := make([]byte, maxUDPSafeSize)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		err := s.pc.SetReadDeadline(time.Now().Add(readFromTimeout))
		if err != nil {
			return fmt.Errorf("setReadDeadline: %w", err)
		}

		n, addr, err := s.pc.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			if errors.Is(err, net.ErrClosed) {
				return nil
			}

			slog.WarnContext(ctx, "failed to read from UDP", "err", err)

			continue
		}

		r, err := DecodePacket(buf[:n], s.channels, time.Now())
		if err != nil {
			slog.WarnContext(ctx, "dropping UDP packet", "from", addr.String(), "err", err)

			continue
		}

		slog.DebugContext(ctx, "udp reading", "from", addr.String(), "reading", r.String())
		emitter.Emit(r)
	}
}
