package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"agro-logger/internal/reading"
)

const (
	readHeaderTimeout = 2 * time.Second
)

type tracker interface {
	Current() reading.Reading
}

type eventEmitter interface {
	Subscribe() chan reading.Reading
	Unsubscribe(ch chan reading.Reading)
}

type metricsWriter interface {
	WritePrometheus(w io.Writer)
}

type eventResponse struct {
	Timestamp time.Time           `json:"timestamp"`
	Current   map[string]*float64 `json:"current"`
}

var errStreamUnsupported = errors.New("streaming unsupported")

func newServer(ctx context.Context, addr string) *http.Server {
	return &http.Server{
		ReadHeaderTimeout: readHeaderTimeout,
		Addr:              addr,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}
}

func toResponse(r reading.Reading) *eventResponse {
	return &eventResponse{
		Timestamp: r.Timestamp,
		Current:   r.Floats(),
	}
}

func sendResponse(w http.ResponseWriter, response *eventResponse) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return errStreamUnsupported
	}

	if _, err := fmt.Fprintf(w, "data: "); err != nil {
		return fmt.Errorf("error writing to client: %w", err)
	}

	encoder := json.NewEncoder(w)

	if err := encoder.Encode(response); err != nil {
		return fmt.Errorf("error encoding JSON: %w", err)
	}

	if _, err := fmt.Fprint(w, "\n"); err != nil {
		return fmt.Errorf("error writing to client: %w", err)
	}

	flusher.Flush()

	return nil
}

func subscribeHandler(emitter eventEmitter, t tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Type")

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		ch := emitter.Subscribe()
		defer emitter.Unsubscribe(ch)

		ctx := r.Context()

		if err := sendResponse(w, toResponse(t.Current())); err != nil {
			slog.ErrorContext(ctx, "subscribe", "err", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)

			return
		}

		for {
			select {
			case data, ok := <-ch:
				if !ok {
					return
				}

				if err := sendResponse(w, toResponse(data)); err != nil {
					slog.ErrorContext(ctx, "subscribe", "err", err)

					return
				}
			case <-ctx.Done():
				return
			}
		}
	}
}

func currentHandler(t tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)

			return
		}

		if r.URL.Path != "/" {
			http.NotFound(w, r)

			return
		}

		jsonData, err := json.Marshal(toResponse(t.Current()))
		if err != nil {
			slog.ErrorContext(r.Context(), "encode current", "err", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)

			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(jsonData)
	}
}

func metricsHandler(m metricsWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		m.WritePrometheus(w)
	}
}

// New returns the node's status server: / serves the live snapshot,
// /subscribe streams it as server-sent events and /metrics exposes counters.
func New(ctx context.Context, addr string, emitter eventEmitter, t tracker, m metricsWriter) *http.Server {
	mux := http.NewServeMux()

	srv := newServer(ctx, addr)
	srv.Handler = mux

	mux.Handle("/", currentHandler(t))
	mux.Handle("/subscribe", subscribeHandler(emitter, t))
	mux.Handle("/metrics", metricsHandler(m))

	return srv
}
