package sheet_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agro-logger/internal/sheet"
)

var channels = []string{"sensor1", "sensor2", "sensor3", "sensor4", "dhttemp", "dhthumidity"}

func TestParse(t *testing.T) {
	ts := time.Date(2025, 6, 1, 11, 0, 6, 0, time.UTC)

	tests := []struct {
		name  string
		body  string
		cells []string
	}{
		{
			name:  "numbers",
			body:  `{"sensor1":21.50,"sensor2":22.10,"sensor3":19.00,"sensor4":20.00,"dhttemp":24.30,"dhthumidity":55.00}`,
			cells: []string{"21.5", "22.1", "19", "20", "24.3", "55"},
		},
		{
			name:  "nan string",
			body:  `{"sensor1":21.50,"sensor2":22.10,"sensor3":"nan","sensor4":20.00,"dhttemp":24.30,"dhthumidity":55.00}`,
			cells: []string{"21.5", "22.1", "", "20", "24.3", "55"},
		},
		{
			name:  "bare NaN token",
			body:  `{"sensor1":NaN,"sensor2":22.10,"sensor3":nan,"sensor4":-nan,"dhttemp":24.30,"dhthumidity":NaN}`,
			cells: []string{"", "22.1", "", "", "24.3", ""},
		},
		{
			name:  "null missing and garbage",
			body:  `{"sensor1":null,"sensor3":"abc","sensor4":true,"dhttemp":"24.3","dhthumidity":{"v":1}}`,
			cells: []string{"", "", "", "", "24.3", ""},
		},
		{
			name:  "extra keys ignored",
			body:  `{"sensor1":-3.25,"other":1}`,
			cells: []string{"-3.25", "", "", "", "", ""},
		},
	}

	for _, test := range tests {
		row, err := sheet.Parse([]byte(test.body), channels, ts)
		require.NoError(t, err, test.name)

		cells := row.Cells()
		require.Len(t, cells, len(channels)+1, test.name)
		assert.Equal(t, "2025-06-01T11:00:06Z", cells[0], test.name)
		assert.Equal(t, test.cells, cells[1:], test.name)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		body string
		err  error
	}{
		{"", sheet.ErrNoPayload},
		{"   \n", sheet.ErrNoPayload},
		{"null", sheet.ErrNoPayload},
		{"{not json", sheet.ErrMalformed},
		{`[1,2,3]`, sheet.ErrMalformed},
	}

	for _, test := range tests {
		_, err := sheet.Parse([]byte(test.body), channels, time.Now())
		require.ErrorIs(t, err, test.err, "body: %q", test.body)
	}
}
