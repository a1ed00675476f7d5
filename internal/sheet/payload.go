package sheet

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"agro-logger/internal/reading"
)

var (
	ErrNoPayload = errors.New("no payload")
	ErrMalformed = errors.New("malformed JSON payload")
)

// bareNaN matches an unquoted NaN value as printed by printf("%f", NAN).
var bareNaN = regexp.MustCompile(`([:\[,]\s*)[-+]?(?i:nan)(\s*[,}\]])`)

// Row is one spreadsheet line: the receipt time followed by one cell per
// channel. Missing cells are written empty.
type Row struct {
	Timestamp time.Time
	Values    []reading.Value
}

// Parse decodes a report body. Fields that are absent, null, "nan" or not
// numeric become empty cells; only an empty or unparseable body is rejected.
func Parse(body []byte, channels []string, receivedAt time.Time) (Row, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return Row{}, ErrNoPayload
	}

	body = bareNaN.ReplaceAll(body, []byte("${1}null${2}"))

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return Row{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	if fields == nil {
		return Row{}, ErrNoPayload
	}

	row := Row{
		Timestamp: receivedAt,
		Values:    make([]reading.Value, len(channels)),
	}

	for i, ch := range channels {
		row.Values[i] = cell(fields[ch])
	}

	return row, nil
}

func cell(raw json.RawMessage) reading.Value {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return reading.Missing()
	}

	var s string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return reading.Missing()
		}
	} else {
		s = string(raw)
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return reading.Missing()
	}

	return reading.Some(v)
}

// Cells renders the row for a CSV writer.
func (r Row) Cells() []string {
	out := make([]string, 0, len(r.Values)+1)
	out = append(out, r.Timestamp.Format(time.RFC3339))

	for _, v := range r.Values {
		if !v.OK {
			out = append(out, "")

			continue
		}

		out = append(out, strconv.FormatFloat(v.V, 'f', -1, 64))
	}

	return out
}
