package live_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agro-logger/internal/live"
	"agro-logger/internal/reading"
)

type recorder struct {
	emitted  []reading.Reading
	observed int
}

func (r *recorder) Emit(rd reading.Reading) {
	r.emitted = append(r.emitted, rd)
}

func (r *recorder) Live(reading.Reading) {
	r.observed++
}

func TestTrackerKeepsLastKnownGood(t *testing.T) {
	rec := &recorder{}
	tr := live.NewTracker([]string{"sensor1", "dhttemp"}, rec, rec)

	assert.False(t, tr.Current().Get("sensor1").OK)

	first := reading.New(time.Now())
	first.Set("sensor1", reading.Some(21.5))
	first.Set("dhttemp", reading.Some(24.3))
	tr.Update(first)

	second := reading.New(time.Now())
	second.Set("sensor1", reading.Missing())
	second.Set("dhttemp", reading.Some(24.8))
	snap := tr.Update(second)

	assert.InDelta(t, 21.5, snap.Get("sensor1").V, 1e-9)
	assert.InDelta(t, 24.8, snap.Get("dhttemp").V, 1e-9)
	assert.Equal(t, second.Timestamp, snap.Timestamp)

	require.Len(t, rec.emitted, 2)
	assert.Equal(t, 2, rec.observed)
	assert.Equal(t, snap.Values, tr.Current().Values)
}

func TestTrackerIgnoresUnknownChannels(t *testing.T) {
	tr := live.NewTracker([]string{"sensor1"}, nil, nil)

	r := reading.New(time.Now())
	r.Set("other", reading.Some(1))
	tr.Update(r)

	_, ok := tr.Current().Values["other"]
	assert.False(t, ok)
}
