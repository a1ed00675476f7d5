package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"agro-logger/internal/config"
	"agro-logger/internal/sheet"
)

const shutdownTimeout = 2 * time.Second

var version = "dev"

func main() {
	cfg, err := config.FromFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if cfg.ShowVersion {
		fmt.Println(version)

		return
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverHTTP, err := sheet.New(ctx, cfg.Sheet.Addr, cfg.Channels, sheet.NewCSVSheet(cfg.Sheet.Path, cfg.Channels))
	if err != nil {
		slog.Error("sheetlogger", "err", err)
		os.Exit(1)
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.InfoContext(gCtx, "listening on "+serverHTTP.Addr, "sheet", cfg.Sheet.Path)

		return serverHTTP.ListenAndServe()
	})

	g.Go(func() error {
		<-gCtx.Done()

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return serverHTTP.Shutdown(ctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("sheetlogger", "err", err)
	}
}
