package report

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"agro-logger/internal/reading"
)

const maxResponseBody = 4 << 10

var ErrStatus = errors.New("unexpected response status")

// Record holds one averaged value per channel for a reporting period.
type Record struct {
	Channels []string
	Values   []reading.Value
}

func (r Record) Get(channel string) reading.Value {
	for i, ch := range r.Channels {
		if ch == channel {
			return r.Values[i]
		}
	}

	return reading.Missing()
}

// MarshalJSON writes the channels in order with two decimals; missing values
// are null.
func (r Record) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer

	b.WriteByte('{')

	for i, ch := range r.Channels {
		if i > 0 {
			b.WriteByte(',')
		}

		key, err := json.Marshal(ch)
		if err != nil {
			return nil, fmt.Errorf("channel %q: %w", ch, err)
		}

		b.Write(key)
		b.WriteByte(':')

		var v reading.Value
		if i < len(r.Values) {
			v = r.Values[i]
		}

		if !v.OK {
			b.WriteString("null")

			continue
		}

		b.WriteString(strconv.FormatFloat(v.V, 'f', 2, 64))
	}

	b.WriteByte('}')

	return b.Bytes(), nil
}

// HTTPSink posts records to the spreadsheet logger.
type HTTPSink struct {
	url    string
	client *http.Client
}

func NewHTTPSink(url string, timeout time.Duration, insecure bool) *HTTPSink {
	transport := http.DefaultTransport.(*http.Transport).Clone() //nolint:forcetypeassert
	if insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	return &HTTPSink{
		url: url,
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// Send posts the record once. The response body is returned for logging.
func (s *HTTPSink) Send(ctx context.Context, rec Record) (string, error) {
	body, err := rec.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	text, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return string(text), fmt.Errorf("%w: %d %s", ErrStatus, resp.StatusCode, bytes.TrimSpace(text))
	}

	return string(text), nil
}
