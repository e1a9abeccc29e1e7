package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/MeKo-Tech/segpost/internal/config"
	"github.com/MeKo-Tech/segpost/internal/server"
	"github.com/MeKo-Tech/segpost/internal/utils"
	"github.com/MeKo-Tech/segpost/internal/version"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for the segmentation API",
	Long: `Start an HTTP server that provides REST and WebSocket endpoints for
instance segmentation.

The server provides the following endpoints:
  POST /v1/segment - Segment an uploaded image (multipart field "image")
  GET  /ws/segment - WebSocket; binary frames are images, text frames JSON requests
  GET  /health     - Health check endpoint
  GET  /model      - Loaded model and handle pool
  GET  /metrics    - Prometheus metrics

Examples:
  segpost serve
  segpost serve --port 8080 --handles 4
  segpost serve --host 0.0.0.0 --port 3000`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}

		srv, err := newSegmentServer(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize server: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()
		return runServer(ctx, cfg, srv)
	},
}

// newSegmentServer loads the model pool and wraps it in a server.
func newSegmentServer(cfg *config.Config) (*server.Server, error) {
	labels, err := loadLabels(cfg)
	if err != nil {
		return nil, err
	}
	renderOpts, err := cfg.ToRenderOptions()
	if err != nil {
		return nil, err
	}
	pool, info, err := openPool(cfg, cfg.Server.Handles)
	if err != nil {
		return nil, err
	}

	srv, err := server.NewServer(pool, server.Config{
		CORSOrigin:         cfg.Server.CORSOrigin,
		MaxUploadMB:        int64(cfg.Server.MaxUploadMB),
		TimeoutSec:         cfg.Server.TimeoutSec,
		RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
		Labels:             labels,
		Render:             renderOpts,
		Constraints:        utils.DefaultImageConstraints(),
		ModelInfo:          info,
		Version:            version.Version,
	})
	if err != nil {
		closePool(pool)
		return nil, err
	}
	return srv, nil
}

// runServer serves until ctx is done, then shuts down gracefully.
func runServer(ctx context.Context, cfg *config.Config, srv *server.Server) error {
	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	timeout := time.Duration(cfg.Server.TimeoutSec) * time.Second
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       timeout,
		WriteTimeout:      timeout + 5*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting segmentation server", "addr", addr, "handles", cfg.Server.Handles)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("Received shutdown signal")
	case serveErr = <-errCh:
		if serveErr != nil {
			slog.Error("Server error", "error", serveErr)
		}
	}

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	slog.Info("Starting graceful shutdown", "timeout", shutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Close(); err != nil {
		slog.Error("Server cleanup error", "error", err)
	}
	destroyRuntime()
	slog.Info("Graceful shutdown completed")
	return serveErr
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := serveCmd.Flags()
	f.StringP("host", "H", "localhost", "server host")
	f.IntP("port", "p", 8080, "server port")
	f.String("cors-origin", "*", "CORS allowed origins")
	f.Int("max-upload-size", 50, "maximum upload size in MB")
	f.Int("timeout", 30, "request timeout in seconds")
	f.Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	f.Int("handles", 1, "number of model sessions serving requests concurrently")
	f.Int("rate-limit", 0, "maximum requests per minute per client (0 disables)")

	bindFlag("server.host", f, "host")
	bindFlag("server.port", f, "port")
	bindFlag("server.cors_origin", f, "cors-origin")
	bindFlag("server.max_upload_mb", f, "max-upload-size")
	bindFlag("server.timeout_sec", f, "timeout")
	bindFlag("server.shutdown_timeout", f, "shutdown-timeout")
	bindFlag("server.handles", f, "handles")
	bindFlag("server.rate_limit_per_minute", f, "rate-limit")
}
