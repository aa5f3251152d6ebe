// Command agenshieldd is the broker daemon: it loads configuration, opens
// storage, and serves the local-socket, loopback-HTTP, and control front
// ends until signalled to stop (spec §2, §6).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agenshield/agenshield/internal/audit"
	"github.com/agenshield/agenshield/internal/config"
	"github.com/agenshield/agenshield/internal/daemon"
	"github.com/agenshield/agenshield/internal/rpc"
	"github.com/agenshield/agenshield/internal/storage"
)

// Exit codes per spec §6.
const (
	exitNormal       = 0
	exitConfigError  = 1
	exitBindFailure  = 2
	exitStorageError = 3
	exitTamper       = 4
)

const retentionInterval = time.Hour

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", config.DefaultPath, "path to the daemon's JSON configuration file")
	flag.Parse()

	logger := log.New(os.Stdout, "agenshieldd ", log.LstdFlags|log.LUTC)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Printf("config: %v", err)
		return exitConfigError
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dctx, err := daemon.New(ctx, cfg, logger)
	if err != nil {
		if errors.Is(err, storage.ErrTampered) {
			logger.Printf("storage: %v", err)
			return exitTamper
		}
		logger.Printf("startup: %v", err)
		return exitStorageError
	}
	defer dctx.Close()

	go runRetentionLoop(ctx, dctx, logger)

	socketSrv := rpc.NewSocketServer(cfg.SocketPath, dctx.Dispatcher, logger)
	httpSrv := rpc.NewHTTPServer(cfg.HTTPHost, cfg.HTTPPort, dctx.Dispatcher, logger)
	controlSrv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.ControlHost, cfg.ControlPort),
		Handler:           dctx.Control.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 3)
	go func() {
		if err := socketSrv.ListenAndServe(ctx); err != nil {
			errCh <- fmt.Errorf("socket server: %w", err)
		}
	}()
	go func() {
		if err := httpSrv.ListenAndServe(ctx); err != nil {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		logger.Printf("control API listening on %s", controlSrv.Addr)
		if err := controlSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("control server: %w", err)
		}
	}()

	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Printf("shutting down...")
	case err := <-errCh:
		logger.Printf("listener failure: %v", err)
		cancel()
		_ = socketSrv.Close()
		_ = controlSrv.Shutdown(context.Background())
		return exitBindFailure
	}

	cancel()
	_ = socketSrv.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = controlSrv.Shutdown(shutdownCtx)

	return exitNormal
}

// runRetentionLoop periodically trims the audit log per the configured
// count and age caps (spec §4.10), stopping when ctx is cancelled.
func runRetentionLoop(ctx context.Context, dctx *daemon.Context, logger *log.Logger) {
	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := audit.TrimRetention(ctx, storage.NewAuditStore(dctx.Store.Audit),
				int64(dctx.Config.RetentionCount), dctx.Config.RetentionDays)
			if err != nil {
				logger.Printf("retention trim: %v", err)
				continue
			}
			if n > 0 {
				logger.Printf("retention trim: removed %d audit events", n)
			}
		}
	}
}
