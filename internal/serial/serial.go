package serial

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial"

	"agro-logger/internal/reading"
	"agro-logger/internal/sensor"
)

const retryInterval = 2 * time.Second

// Service reads sensor lines printed by a microcontroller on a serial port:
//
//	I (4041275) agro: 21.50,22.10,nan,20.00,24.30,55.00
//
// Values follow the configured channel order.
type Service struct {
	portName string
	mode     *serial.Mode
	tag      string
	channels []string
}

type eventEmitter interface {
	Emit(r reading.Reading)
}

func New(portName string, baudRate int, tag string, channels []string) *Service {
	return &Service{
		portName: portName,
		mode:     &serial.Mode{BaudRate: baudRate},
		tag:      tag,
		channels: channels,
	}
}

// parseFast extracts the comma separated values following "<tag>:".
func parseFast(line string, tag string, out []float64) bool {
	tagPos := strings.Index(line, tag)
	if tagPos == -1 {
		return false
	}

	colon := strings.IndexByte(line[tagPos+len(tag):], ':')
	if colon == -1 {
		return false
	}

	s := line[tagPos+len(tag)+colon+1:]

	for i := range out {
		field, rest, found := strings.Cut(s, ",")

		if found == (i == len(out)-1) {
			return false
		}

		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return false
		}

		out[i] = v
		s = rest
	}

	return true
}

func (s *Service) toReading(values []float64) reading.Reading {
	r := reading.New(time.Now())

	for i, ch := range s.channels {
		r.Set(ch, sensor.Classify(ch, values[i]))
	}

	return r
}

func (s *Service) read(ctx context.Context, port io.Reader, emitter eventEmitter) error {
	reader := bufio.NewScanner(port)
	reader.Split(bufio.ScanLines)

	out := make([]float64, len(s.channels))

	for reader.Scan() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line := reader.Text()
		if line == "" {
			continue
		}

		if parseFast(line, s.tag, out) {
			r := s.toReading(out)
			slog.DebugContext(ctx, "serial reading", "line", line, "reading", r.String())
			emitter.Emit(r)
		}
	}

	if err := reader.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("scan: %w", err)
	}

	return nil
}

// Run keeps the port open, reopening it after failures until ctx is done.
func (s *Service) Run(ctx context.Context, emitter eventEmitter) error {
	slog.InfoContext(ctx, "open serial", "portName", s.portName, "baudRate", s.mode.BaudRate)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		port, err := serial.Open(s.portName, s.mode)
		if err != nil {
			slog.ErrorContext(ctx, "open failed", "port", s.portName, "err", err)
			sleep(ctx, retryInterval)

			continue
		}

		stop := context.AfterFunc(ctx, func() { port.Close() })

		err = s.read(ctx, port, emitter)

		stop()
		port.Close()

		if ctx.Err() != nil {
			return nil
		}

		slog.WarnContext(ctx, "serial disconnected, retrying", "err", err)
		sleep(ctx, retryInterval)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
