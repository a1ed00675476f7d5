package scheduler //nolint:testpackage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agro-logger/internal/reading"
	"agro-logger/internal/report"
	"agro-logger/internal/window"
)

var (
	channels       = []string{"sensor1", "sensor2", "sensor3", "sensor4", "dhttemp", "dhthumidity"}
	errUnreachable = errors.New("dial tcp: connection refused")
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) set(hour, minute, second int) {
	c.now = time.Date(2025, 6, 1, hour, minute, second, 0, time.UTC)
}

type fakeSource struct {
	queue []reading.Reading
	calls int
}

func (f *fakeSource) ReadAll(context.Context) reading.Reading {
	f.calls++

	if len(f.queue) == 0 {
		return reading.New(time.Now())
	}

	r := f.queue[0]
	f.queue = f.queue[1:]

	return r
}

type fakeSink struct {
	records []report.Record
	err     error
}

func (f *fakeSink) Send(_ context.Context, rec report.Record) (string, error) {
	f.records = append(f.records, report.Record{
		Channels: rec.Channels,
		Values:   append([]reading.Value(nil), rec.Values...),
	})

	return "Success", f.err
}

type fakeObserver struct {
	samples, sent, failed, ntp int
}

func (o *fakeObserver) SampleTaken(reading.Reading, []string) { o.samples++ }
func (o *fakeObserver) ReportSent()                           { o.sent++ }
func (o *fakeObserver) ReportFailed()                         { o.failed++ }
func (o *fakeObserver) NTPSyncFailed()                        { o.ntp++ }

func defaultOptions() Options {
	return Options{
		SampleInterval: 10,
		ReportSecond:   5,
		TickInterval:   200 * time.Millisecond,
		FastInterval:   5 * time.Second,
		ResyncInterval: 12 * time.Hour,
	}
}

func newTestScheduler(opts Options, capacity int) (*Scheduler, *fakeClock, *fakeSource, *fakeSink) {
	clk := &fakeClock{}
	clk.set(10, 5, 0)

	src := &fakeSource{}
	snk := &fakeSink{}

	return New(opts, window.New(channels, capacity), src, clk, snk), clk, src, snk
}

func readingOf(values map[string]float64) reading.Reading {
	r := reading.New(time.Now())
	for k, v := range values {
		r.Set(k, reading.Some(v))
	}

	return r
}

func TestSampleOncePerAlignedSecond(t *testing.T) {
	s, clk, src, _ := newTestScheduler(defaultOptions(), 6)

	clk.set(10, 10, 0)

	for range 5 {
		s.Tick(context.Background())
	}

	assert.Equal(t, 1, src.calls)
	assert.Equal(t, 1, s.Window().Count())

	clk.set(10, 10, 1)
	assert.Equal(t, Action(0), s.Tick(context.Background()))

	clk.set(10, 10, 0)
	s.Tick(context.Background())
	assert.Equal(t, 1, src.calls, "same minute slot does not fire twice")
}

func TestSampleOnlyOnAlignedMinutes(t *testing.T) {
	s, clk, src, _ := newTestScheduler(defaultOptions(), 6)

	for minute := range 60 {
		clk.set(10, minute, 0)
		s.Tick(context.Background())
	}

	assert.Equal(t, 6, src.calls)
}

func TestGuardRearmsNextHour(t *testing.T) {
	s, clk, src, _ := newTestScheduler(defaultOptions(), 6)

	clk.set(10, 10, 0)
	require.True(t, s.Tick(context.Background()).Sampled())

	clk.set(10, 11, 0)
	s.Tick(context.Background())
	assert.Equal(t, unarmed, s.lastSampleMinute)

	clk.set(11, 10, 0)
	assert.True(t, s.Tick(context.Background()).Sampled())
	assert.Equal(t, 2, src.calls)
}

func TestCursorAfterKSamples(t *testing.T) {
	opts := defaultOptions()
	opts.SampleInterval = 1

	s, clk, _, _ := newTestScheduler(opts, 6)

	for k := 1; k <= 40; k++ {
		clk.set(10, k, 0)
		require.True(t, s.Tick(context.Background()).Sampled())

		assert.Equal(t, k%6, s.Window().Cursor())
		assert.Equal(t, min(k, 6), s.Window().Count())
	}
}

func TestHourlyReportAverages(t *testing.T) {
	s, clk, src, snk := newTestScheduler(defaultOptions(), 6)

	src.queue = append(src.queue, readingOf(map[string]float64{"sensor2": 18, "dhthumidity": 55}))
	for _, v := range []float64{20, 21, 22, 23, 24} {
		src.queue = append(src.queue, readingOf(map[string]float64{"sensor1": v, "sensor2": 18, "dhthumidity": 55}))
	}

	for _, minute := range []int{10, 20, 30, 40, 50} {
		clk.set(10, minute, 0)
		require.True(t, s.Tick(context.Background()).Sampled())
	}

	clk.set(11, 0, 0)
	require.True(t, s.Tick(context.Background()).Sampled())
	assert.Empty(t, snk.records, "report waits for the trigger second")

	clk.set(11, 0, 5)
	require.True(t, s.Tick(context.Background()).Reported())
	require.Len(t, snk.records, 1)

	rec := snk.records[0]
	assert.Equal(t, channels, rec.Channels)

	require.True(t, rec.Get("sensor1").OK)
	assert.InDelta(t, 22.0, rec.Get("sensor1").V, 1e-9)
	assert.InDelta(t, 18.0, rec.Get("sensor2").V, 1e-9)
	assert.False(t, rec.Get("sensor3").OK)
	assert.InDelta(t, 55.0, rec.Get("dhthumidity").V, 1e-9)

	body, err := rec.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(body), `"sensor1":22.00`)
	assert.Contains(t, string(body), `"sensor3":null`)

	assert.Equal(t, 0, s.Window().Count())
	assert.Equal(t, 0, s.Window().Cursor())
}

func TestReportOncePerHour(t *testing.T) {
	s, clk, _, snk := newTestScheduler(defaultOptions(), 6)

	clk.set(10, 50, 0)
	s.Tick(context.Background())

	clk.set(11, 0, 5)
	for range 5 {
		s.Tick(context.Background())
	}

	require.Len(t, snk.records, 1)

	clk.set(11, 0, 0)
	s.Tick(context.Background())

	clk.set(11, 0, 5)
	s.Tick(context.Background())
	assert.Len(t, snk.records, 1, "already reported this hour")

	clk.set(12, 0, 0)
	s.Tick(context.Background())

	clk.set(12, 0, 5)
	s.Tick(context.Background())
	assert.Len(t, snk.records, 2)
}

func TestNoReportWithoutSamples(t *testing.T) {
	s, clk, _, snk := newTestScheduler(defaultOptions(), 6)

	clk.set(11, 0, 5)
	assert.Equal(t, Action(0), s.Tick(context.Background()))
	assert.Empty(t, snk.records)
	assert.Equal(t, unarmed, s.lastReportHour)
}

func TestFailedReportIsDropped(t *testing.T) {
	s, clk, _, snk := newTestScheduler(defaultOptions(), 6)

	obs := &fakeObserver{}
	s.observer = obs
	snk.err = errUnreachable

	clk.set(10, 50, 0)
	s.Tick(context.Background())

	clk.set(11, 0, 5)
	require.True(t, s.Tick(context.Background()).Reported())

	assert.Len(t, snk.records, 1)
	assert.Equal(t, 1, obs.failed)
	assert.Equal(t, 0, obs.sent)
	assert.Equal(t, 1, obs.samples)
	assert.Equal(t, 0, s.Window().Count())

	s.Tick(context.Background())
	assert.Len(t, snk.records, 1, "no retry")
}

func TestInvalidClockSuppressesTriggers(t *testing.T) {
	s, clk, src, snk := newTestScheduler(defaultOptions(), 6)

	clk.set(10, 50, 0)
	s.Tick(context.Background())

	for _, ts := range []time.Time{
		time.Unix(0, 0).UTC(),
		time.Unix(3600, 0).UTC(),
		time.Unix(600, 0).UTC(),
		time.Unix(5, 0).UTC(),
	} {
		clk.now = ts
		assert.Equal(t, Action(0), s.Tick(context.Background()), "at %v", ts)
	}

	assert.Equal(t, 1, src.calls)
	assert.Empty(t, snk.records)
}

func TestAlignmentUsesClockLocation(t *testing.T) {
	s, clk, src, _ := newTestScheduler(defaultOptions(), 6)

	loc := time.FixedZone("UTC+08:00", 8*3600)
	clk.now = time.Date(2025, 6, 1, 2, 30, 0, 0, time.UTC).In(loc)

	require.True(t, s.Tick(context.Background()).Sampled())
	assert.Equal(t, 1, src.calls)
}

type fakeSyncer struct {
	calls int
	err   error
}

func (f *fakeSyncer) Sync(context.Context) error {
	f.calls++

	return f.err
}

type fakeLive struct {
	updates int
}

func (f *fakeLive) Update(r reading.Reading) reading.Reading {
	f.updates++

	return r
}

func TestPollResyncAndFastRead(t *testing.T) {
	s, _, src, _ := newTestScheduler(defaultOptions(), 6)

	syn := &fakeSyncer{err: errUnreachable}
	lv := &fakeLive{}
	obs := &fakeObserver{}

	s.syncer = syn
	s.live = lv
	s.observer = obs

	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	s.poll(context.Background(), start)
	assert.Equal(t, 1, syn.calls)
	assert.Equal(t, 1, lv.updates)
	assert.Equal(t, 1, obs.ntp)

	s.poll(context.Background(), start.Add(time.Second))
	assert.Equal(t, 1, syn.calls, "failed sync is not retried immediately")
	assert.Equal(t, 1, lv.updates)

	s.poll(context.Background(), start.Add(5*time.Second))
	assert.Equal(t, 2, lv.updates)

	s.poll(context.Background(), start.Add(12*time.Hour))
	assert.Equal(t, 2, syn.calls)
	assert.Equal(t, 3, lv.updates)
	assert.Equal(t, 3, src.calls, "fast reads only, the clock is not aligned")
}

func TestRunStopsOnCancel(t *testing.T) {
	opts := defaultOptions()
	opts.TickInterval = time.Millisecond

	s, _, _, _ := newTestScheduler(opts, 6)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.NoError(t, s.Run(ctx))
}
