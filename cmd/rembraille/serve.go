package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rembraille/rembraille/pkg/middleware"
	"github.com/rembraille/rembraille/pkg/server"
	"github.com/rembraille/rembraille/pkg/transport"
)

func serveCmd() *cobra.Command {
	var (
		addr      string
		httpAddr  string
		cells     uint16
		name      string
		keepalive bool
		logLevel  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the host receiver",
		Long: `Run the host receiver that owns the braille display.

Guests connect over TCP on the listen address, or over WebSocket on
the HTTP address at /ws. The HTTP address also serves /status and
Prometheus metrics at /metrics.

This build prints received cells to stdout instead of driving real
display hardware.

Examples:
  rembraille serve
  rembraille serve --cells=80 --addr=:17635
  rembraille serve --http=:8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(addr, httpAddr, cells, name, keepalive, logLevel)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", ":17635", "TCP listen address")
	cmd.Flags().StringVar(&httpAddr, "http", "", "HTTP listen address for /ws, /status and /metrics (disabled when empty)")
	cmd.Flags().Uint16VarP(&cells, "cells", "c", 40, "Display width in braille cells")
	cmd.Flags().StringVarP(&name, "name", "n", server.DefaultServerName, "Server name sent in handshakes")
	cmd.Flags().BoolVar(&keepalive, "keepalive", false, "Ping idle guests and drop unresponsive ones")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	return cmd
}

func runServe(addr, httpAddr string, cells uint16, name string, keepalive bool, logLevel string) error {
	logger := newLogger(logLevel)
	slog.SetDefault(logger)

	cfg := server.DefaultConfig()
	cfg.Address = addr
	cfg.CellCount = cells
	cfg.ServerName = name
	cfg.EnableKeepalive = keepalive
	cfg.Logger = logger
	cfg.Middleware = []transport.Middleware{middleware.Prometheus()}

	srv, err := server.New(cfg, server.Callbacks{
		OnCellsReceived: func(c []byte) {
			middleware.RecordCells(len(c))
			fmt.Println(renderCells(c))
		},
		OnClientConnected: func(clientID string) {
			middleware.RecordLinkUp()
			logger.Info("guest connected", "client", clientID)
		},
		OnClientDisconnected: func() {
			middleware.RecordLinkDown()
			logger.Info("guest disconnected")
		},
		OnError: func(text string) {
			logger.Warn("link error", "error", text)
		},
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := srv.Serve(ctx)
		if err == context.Canceled || err == server.ErrServerClosed {
			return nil
		}
		return err
	})

	if httpAddr != "" {
		r := chi.NewRouter()
		r.Mount("/", srv.Routes())
		r.Handle("/metrics", promhttp.Handler())

		hs := &http.Server{Addr: httpAddr, Handler: r}
		g.Go(func() error {
			logger.Info("http listening", "addr", httpAddr)
			if err := hs.ListenAndServe(); err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return hs.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		return srv.Close()
	})

	return g.Wait()
}

// renderCells formats one display row as dot patterns for stdout.
func renderCells(cells []byte) string {
	out := make([]rune, len(cells))
	for i, c := range cells {
		// Unicode braille block: U+2800 plus the dot bits.
		out[i] = rune(0x2800 + int(c))
	}
	return string(out)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
