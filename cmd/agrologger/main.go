package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"agro-logger/internal/clock"
	"agro-logger/internal/config"
	"agro-logger/internal/live"
	"agro-logger/internal/metrics"
	"agro-logger/internal/mqtt"
	"agro-logger/internal/onewire"
	"agro-logger/internal/reading"
	"agro-logger/internal/report"
	"agro-logger/internal/scheduler"
	"agro-logger/internal/sensor"
	"agro-logger/internal/serial"
	"agro-logger/internal/udp"
	"agro-logger/internal/web"
	"agro-logger/internal/window"
)

const shutdownTimeout = 2 * time.Second

var version = "dev"

var errUnknownSource = errors.New("unknown source")

type closer func() error

func main() {
	cfg, err := config.FromFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if cfg.ShowVersion {
		fmt.Println(version)

		return
	}

	setupLogger(os.Stdout, cfg.Debug)

	if err := run(cfg); err != nil {
		slog.Error("agrologger", "err", err)
		os.Exit(1)
	}
}

func setupLogger(w io.Writer, debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	})))
}

// buildSources opens every configured source. Background readers are added
// to g and stop with its context.
func buildSources(ctx context.Context, g *errgroup.Group, cfg config.Config) (sensor.Source, []closer, error) {
	var (
		sources sensor.Multi
		closers []closer
	)

	for _, kind := range strings.Split(cfg.Source.Kind, ",") {
		switch strings.TrimSpace(kind) {
		case "serial":
			snap := sensor.NewSnapshot(cfg.Channels, cfg.Source.MaxAge)
			svc := serial.New(cfg.Source.Serial.PortName, cfg.Source.Serial.BaudRate, cfg.Source.Serial.Tag, cfg.Channels)

			g.Go(func() error {
				return svc.Run(ctx, snap)
			})

			sources = append(sources, snap)
		case "udp":
			snap := sensor.NewSnapshot(cfg.Channels, cfg.Source.MaxAge)

			svc, err := udp.Listen(cfg.Source.UDP.Port, cfg.Channels)
			if err != nil {
				return nil, closers, err
			}

			closers = append(closers, svc.Close)

			g.Go(func() error {
				return svc.Run(ctx, snap)
			})

			sources = append(sources, snap)
		case "onewire":
			svc, err := onewire.Open(cfg.Source.OneWire.Bus, cfg.Source.OneWire.Devices)
			if err != nil {
				return nil, closers, err
			}

			closers = append(closers, svc.Close)
			sources = append(sources, svc)
		case "sim":
			sources = append(sources, sensor.NewSim(cfg.Channels))
		case "":
		default:
			return nil, closers, fmt.Errorf("%w: %q", errUnknownSource, kind)
		}
	}

	if len(sources) == 0 {
		return nil, closers, fmt.Errorf("%w: %q", errUnknownSource, cfg.Source.Kind)
	}

	return sources, closers, nil
}

func run(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	loc, err := clock.LoadLocation(cfg.Clock.Location)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.InfoContext(ctx, "starting", "version", version, "channels", cfg.Channels,
		"source", cfg.Source.Kind, "report", cfg.Report.URL, "location", loc.String())

	m := metrics.New()

	if cfg.Metrics.PushURL != "" {
		labels := `service_name="agro-logger"`
		if err := m.Push(ctx, cfg.Metrics.PushURL, cfg.Metrics.PushInterval, labels); err != nil {
			return err
		}
	}

	g, gCtx := errgroup.WithContext(ctx)

	src, closers, err := buildSources(gCtx, g, cfg)

	defer func() {
		for _, c := range closers {
			if err := c(); err != nil {
				slog.Warn("close source", "err", err)
			}
		}
	}()

	if err != nil {
		stop()
		_ = g.Wait()

		return err
	}

	emitter := reading.NewEventEmitter()
	defer emitter.Close()

	tracker := live.NewTracker(cfg.Channels, emitter, m)

	clk := clock.New(clock.Options{
		Servers:      cfg.Clock.Servers,
		RequireSync:  cfg.Clock.RequireNTP,
		MaxTries:     cfg.Clock.MaxTries,
		RetryDelay:   cfg.Clock.RetryDelay,
		QueryTimeout: cfg.Clock.QueryTimeout,
		SyncTimeout:  cfg.Clock.SyncTimeout,
		Location:     loc,
	})

	sched := scheduler.New(scheduler.Options{
		SampleInterval: cfg.Scheduler.SampleInterval,
		ReportSecond:   cfg.Scheduler.ReportTriggerSecond,
		TickInterval:   cfg.Scheduler.TickInterval,
		FastInterval:   cfg.Source.FastInterval,
		ResyncInterval: cfg.Clock.ResyncInterval,
	},
		window.New(cfg.Channels, cfg.Scheduler.SamplesPerPeriod),
		src,
		clk,
		report.NewHTTPSink(cfg.Report.URL, cfg.Report.Timeout, cfg.Report.Insecure),
		scheduler.WithSyncer(clk),
		scheduler.WithLive(tracker),
		scheduler.WithObserver(m),
	)

	serverHTTP := web.New(gCtx, cfg.HTTPServer.Addr, emitter, tracker, m)

	g.Go(func() error {
		return sched.Run(gCtx)
	})

	if cfg.MQTT.Enable {
		pub := mqtt.New(cfg.MQTT, emitter)
		defer pub.Close()

		g.Go(func() error {
			return pub.Run(gCtx)
		})
	}

	g.Go(func() error {
		slog.InfoContext(gCtx, "listening on "+serverHTTP.Addr)

		return serverHTTP.ListenAndServe()
	})

	g.Go(func() error {
		<-gCtx.Done()

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return serverHTTP.Shutdown(ctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
