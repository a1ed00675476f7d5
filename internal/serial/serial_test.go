package serial //nolint:testpackage

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agro-logger/internal/reading"
)

type collector struct {
	readings []reading.Reading
}

func (c *collector) Emit(r reading.Reading) {
	c.readings = append(c.readings, r)
}

func TestParseString(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
		values   []float64
	}{
		{"I (4041275) agro: 21.50,22.10,19.75", true, []float64{21.5, 22.1, 19.75}},
		{"I (378) heap_init: At 3FFAE6E0 len 00001920 (6 KiB): DRAM", false, nil},
		{"I (4041275) agro: 21.50,22.10", false, nil},
		{"I (4041275) agro: 21.50,22.10,19.75,1", false, nil},
		{"I (4041275) agro: -127,22.10,85", true, []float64{-127, 22.1, 85}},
		{"I (4041275) agro: abc,22.10,19.75", false, nil},
		{"I (4041275) agro 21.50,22.10,19.75", false, nil},
		{"Random string without tag", false, nil},
	}

	tag := "agro"

	for _, test := range tests {
		out := make([]float64, 3)

		result := parseFast(test.input, tag, out)

		require.Equal(t, test.expected, result, "input: %q", test.input)

		if test.expected {
			assert.InDeltaSlice(t, test.values, out, 1e-9, "input: %q", test.input)
		}
	}
}

func TestParseNaN(t *testing.T) {
	out := make([]float64, 2)

	require.True(t, parseFast("agro: nan, 55.0", "agro", out))
	assert.NotEqual(t, out[0], out[0])
	assert.InDelta(t, 55.0, out[1], 1e-9)
}

func TestRead(t *testing.T) {
	s := New("/dev/null", 9600, "agro", []string{"sensor1", "sensor2", "dhttemp", "dhthumidity"})

	input := strings.Join([]string{
		"boot message",
		"",
		"I (100) agro: 21.50,-127,nan,55.00",
		"I (200) agro: 21.75,22.00,24.30,55.50",
	}, "\n")

	var c collector

	require.NoError(t, s.read(context.Background(), strings.NewReader(input), &c))
	require.Len(t, c.readings, 2)

	first := c.readings[0]
	assert.InDelta(t, 21.5, first.Get("sensor1").V, 1e-9)
	assert.False(t, first.Get("sensor2").OK)
	assert.False(t, first.Get("dhttemp").OK)
	assert.InDelta(t, 55.0, first.Get("dhthumidity").V, 1e-9)

	second := c.readings[1]
	assert.InDelta(t, 24.3, second.Get("dhttemp").V, 1e-9)
}
