package metrics

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"agro-logger/internal/reading"
)

// Metrics groups the node's counters and gauges in their own set so that
// several instances can coexist in tests.
type Metrics struct {
	set *metrics.Set

	samples        *metrics.Counter
	reports        *metrics.Counter
	reportFailures *metrics.Counter
	ntpFailures    *metrics.Counter
	liveUpdates    *metrics.Counter
}

func New() *Metrics {
	set := metrics.NewSet()

	return &Metrics{
		set:            set,
		samples:        set.NewCounter("agro_samples_total"),
		reports:        set.NewCounter("agro_reports_total"),
		reportFailures: set.NewCounter("agro_report_failures_total"),
		ntpFailures:    set.NewCounter("agro_ntp_sync_failures_total"),
		liveUpdates:    set.NewCounter("agro_live_updates_total"),
	}
}

// SampleTaken counts a window sample and its missing channels.
func (m *Metrics) SampleTaken(r reading.Reading, channels []string) {
	m.samples.Inc()

	for _, ch := range channels {
		if !r.Get(ch).OK {
			m.set.GetOrCreateCounter(fmt.Sprintf(`agro_missing_samples_total{channel=%q}`, ch)).Inc()
		}
	}
}

func (m *Metrics) ReportSent() {
	m.reports.Inc()
}

func (m *Metrics) ReportFailed() {
	m.reportFailures.Inc()
}

func (m *Metrics) NTPSyncFailed() {
	m.ntpFailures.Inc()
}

// Live records the last-known-good value of every channel.
func (m *Metrics) Live(r reading.Reading) {
	m.liveUpdates.Inc()

	for ch, v := range r.Values {
		if !v.OK {
			continue
		}

		m.set.GetOrCreateGauge(fmt.Sprintf(`agro_channel_value{channel=%q}`, ch), nil).Set(v.V)
	}
}

func (m *Metrics) WritePrometheus(w io.Writer) {
	m.set.WritePrometheus(w)
	metrics.WriteProcessMetrics(w)
}

// Push periodically sends the metrics to pushURL, e.g. a VictoriaMetrics
// /api/v1/import/prometheus endpoint, until ctx is done.
func (m *Metrics) Push(ctx context.Context, pushURL string, interval time.Duration, extraLabels string) error {
	opts := &metrics.PushOptions{
		ExtraLabels: extraLabels,
	}

	if err := metrics.InitPushExtWithOptions(ctx, pushURL, interval, m.WritePrometheus, opts); err != nil {
		return fmt.Errorf("init push: %w", err)
	}

	return nil
}
