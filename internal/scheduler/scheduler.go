package scheduler

import (
	"context"
	"log/slog"
	"time"

	"agro-logger/internal/clock"
	"agro-logger/internal/reading"
	"agro-logger/internal/report"
	"agro-logger/internal/window"
)

const unarmed = -1

// Action tells which triggers fired during a tick.
type Action uint8

const (
	Sampled Action = 1 << iota
	Reported
)

func (a Action) Sampled() bool  { return a&Sampled != 0 }
func (a Action) Reported() bool { return a&Reported != 0 }

type source interface {
	ReadAll(ctx context.Context) reading.Reading
}

type timeSource interface {
	Now() time.Time
}

type syncer interface {
	Sync(ctx context.Context) error
}

type sink interface {
	Send(ctx context.Context, rec report.Record) (string, error)
}

type liveTracker interface {
	Update(r reading.Reading) reading.Reading
}

type observer interface {
	SampleTaken(r reading.Reading, channels []string)
	ReportSent()
	ReportFailed()
	NTPSyncFailed()
}

type Options struct {
	// SampleInterval is the sampling period in minutes; it divides 60.
	SampleInterval int
	// ReportSecond is the second of hh:00 at which the hourly report fires,
	// after the hh:00:00 sample was recorded.
	ReportSecond int

	TickInterval   time.Duration
	FastInterval   time.Duration
	ResyncInterval time.Duration
}

// Scheduler samples the source on calendar-aligned minutes and reports the
// window averages once per hour. It is driven by a single goroutine and is
// not safe for concurrent use.
type Scheduler struct {
	opts   Options
	window *window.Window
	source source
	clock  timeSource
	sink   sink

	syncer   syncer
	live     liveTracker
	observer observer

	lastSampleMinute int
	lastReportHour   int

	lastSync time.Time
	lastFast time.Time
}

type Option func(*Scheduler)

// WithSyncer resyncs the clock from the control loop.
func WithSyncer(s syncer) Option {
	return func(sc *Scheduler) { sc.syncer = s }
}

// WithLive feeds every fast read into the live tracker.
func WithLive(l liveTracker) Option {
	return func(sc *Scheduler) { sc.live = l }
}

func WithObserver(o observer) Option {
	return func(sc *Scheduler) { sc.observer = o }
}

func New(opts Options, w *window.Window, src source, clk timeSource, snk sink, options ...Option) *Scheduler {
	s := &Scheduler{
		opts:             opts,
		window:           w,
		source:           src,
		clock:            clk,
		sink:             snk,
		lastSampleMinute: unarmed,
		lastReportHour:   unarmed,
	}

	for _, o := range options {
		o(s)
	}

	w.Reset()

	return s
}

func (s *Scheduler) Window() *window.Window {
	return s.window
}

// Tick checks the calendar once and runs whatever trigger matches.
func (s *Scheduler) Tick(ctx context.Context) Action {
	now := s.clock.Now()
	if !clock.Valid(now) {
		return 0
	}

	var action Action

	hour, minute, second := now.Clock()
	aligned := minute%s.opts.SampleInterval == 0

	if aligned && second == 0 && s.lastSampleMinute != minute {
		s.sample(ctx, now)
		s.lastSampleMinute = minute
		action |= Sampled
	}

	if !aligned {
		s.lastSampleMinute = unarmed
	}

	if minute == 0 && second == s.opts.ReportSecond && s.lastReportHour != hour && s.window.Count() > 0 {
		s.report(ctx, now)
		s.lastReportHour = hour
		action |= Reported
	}

	return action
}

func (s *Scheduler) sample(ctx context.Context, now time.Time) {
	r := s.source.ReadAll(ctx)
	slot := s.window.Record(r)

	slog.InfoContext(ctx, "sample taken",
		"at", now.Format(time.TimeOnly), "slot", slot, "count", s.window.Count(), "reading", r.String())

	for _, ch := range s.window.Channels() {
		if !r.Get(ch).OK {
			slog.WarnContext(ctx, "missing sample", "channel", ch, "slot", slot)
		}
	}

	if s.observer != nil {
		s.observer.SampleTaken(r, s.window.Channels())
	}
}

// report hands the averages to the sink once. A failed delivery is logged and
// the record dropped; the window starts a new period either way.
func (s *Scheduler) report(ctx context.Context, now time.Time) {
	rec := report.Record{
		Channels: s.window.Channels(),
		Values:   s.window.Averages(),
	}

	slog.InfoContext(ctx, "initiating hourly report", "hour", now.Hour(), "samples", s.window.Count())

	resp, err := s.sink.Send(ctx, rec)
	if err != nil {
		slog.ErrorContext(ctx, "hourly report failed, dropping record", "hour", now.Hour(), "err", err)

		if s.observer != nil {
			s.observer.ReportFailed()
		}
	} else {
		slog.InfoContext(ctx, "hourly report sent", "hour", now.Hour(), "response", resp)

		if s.observer != nil {
			s.observer.ReportSent()
		}
	}

	s.window.Reset()
}

// poll runs one iteration of the control loop at monotonic time mono.
func (s *Scheduler) poll(ctx context.Context, mono time.Time) Action {
	if s.syncer != nil && (s.lastSync.IsZero() || mono.Sub(s.lastSync) >= s.opts.ResyncInterval) {
		s.lastSync = mono

		if err := s.syncer.Sync(ctx); err != nil {
			slog.ErrorContext(ctx, "ntp time synchronization failed", "err", err)

			if s.observer != nil {
				s.observer.NTPSyncFailed()
			}
		}
	}

	if s.live != nil && (s.lastFast.IsZero() || mono.Sub(s.lastFast) >= s.opts.FastInterval) {
		s.lastFast = mono
		s.live.Update(s.source.ReadAll(ctx))
	}

	return s.Tick(ctx)
}

// Run is the control loop. Every step runs to completion on the calling
// goroutine before the next tick.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()

	for {
		s.poll(ctx, time.Now())

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
