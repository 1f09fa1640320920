package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/idracpower/pkg/log"
	"github.com/raterudder/idracpower/pkg/monitor"
	"github.com/raterudder/idracpower/pkg/server"
	"github.com/raterudder/idracpower/pkg/storage"
)

func main() {
	// init packages
	s := storage.Configured()
	m := monitor.Configured(s)

	// init server
	srv := server.Configured(m)

	// parse flags
	lflag.Configure()

	// lflag automatically sets llog's level, but we need to set the slog level
	level, err := log.LevelFromLLog()
	if err != nil {
		panic(err)
	}
	log.Configure(level)
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// If initialization inside lflag.Do failed, we wouldn't be here (panic).
	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", slog.Any("error", err))
		}
	}()

	// devices that fail here are retried on every poll
	if err := m.Setup(ctx); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "not all devices are ready", slog.Int("pending", m.Pending()))
	}

	// Run will block until context is canceled or error happens
	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
