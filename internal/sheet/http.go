package sheet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"
)

const (
	readHeaderTimeout = 2 * time.Second
	maxBodySize       = 64 << 10
)

var errNoChannels = errors.New("no channels configured")

func newServer(ctx context.Context, addr string) *http.Server {
	return &http.Server{
		ReadHeaderTimeout: readHeaderTimeout,
		Addr:              addr,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}
}

func textResponse(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)

	_, _ = io.WriteString(w, msg)
}

func appendHandler(channels []string, sheet Appender, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			textResponse(w, http.StatusOK, "Spreadsheet logger is running")

			return
		case http.MethodPost:
		default:
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)

			return
		}

		ctx := r.Context()

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
		if err != nil {
			slog.WarnContext(ctx, "read body", "err", err)
			textResponse(w, http.StatusBadRequest, "Error: "+err.Error())

			return
		}

		row, err := Parse(body, channels, now())
		if err != nil {
			slog.WarnContext(ctx, "rejecting payload", "err", err, "body", string(body))

			msg := "Error: " + err.Error()
			if errors.Is(err, ErrNoPayload) {
				msg = "Error: No data received"
			}

			textResponse(w, http.StatusBadRequest, msg)

			return
		}

		if err := sheet.Append(row); err != nil {
			slog.ErrorContext(ctx, "append row", "err", err)
			textResponse(w, http.StatusInternalServerError, "Error: "+err.Error())

			return
		}

		slog.InfoContext(ctx, "row appended", "cells", row.Cells())
		textResponse(w, http.StatusOK, "Success: row appended")
	}
}

// New returns the spreadsheet logger server. Reports are accepted on / and
// /exec.
func New(ctx context.Context, addr string, channels []string, sheet Appender) (*http.Server, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("sheet server: %w", errNoChannels)
	}

	mux := http.NewServeMux()

	srv := newServer(ctx, addr)
	srv.Handler = mux

	h := appendHandler(channels, sheet, time.Now)

	mux.Handle("/", h)
	mux.Handle("/exec", h)

	return srv, nil
}
