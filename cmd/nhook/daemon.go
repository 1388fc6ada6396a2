package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aysihuniks/nhook/internal/httpapi"
	"github.com/aysihuniks/nhook/internal/logging"
	"github.com/aysihuniks/nhook/internal/metrics"
	"github.com/aysihuniks/nhook/internal/observability"
)

func daemonCmd() *cobra.Command {
	var (
		httpAddr string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the nhook daemon",
		Long:  "Run nhook as a daemon with the query executor, cache sweeper, cross-node invalidation and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("http") {
				cfg.Daemon.HTTPAddr = httpAddr
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Observability.Logging.Level = logLevel
			}

			logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)
			if cfg.Observability.Logging.Queries {
				if err := logging.Queries().Enable(cfg.Observability.Logging.QueryLogPath, true); err != nil {
					logging.Op().Warn("failed to enable query log", "error", err)
				}
				defer logging.Queries().Close()
			}

			if err := observability.Init(context.Background(), observability.Config{
				Enabled:     cfg.Observability.Tracing.Enabled,
				Exporter:    cfg.Observability.Tracing.Exporter,
				Endpoint:    cfg.Observability.Tracing.Endpoint,
				ServiceName: cfg.Observability.Tracing.ServiceName,
				SampleRate:  cfg.Observability.Tracing.SampleRate,
				Version:     version,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.Shutdown(context.Background())

			if cfg.Observability.Metrics.Enabled {
				metrics.InitPrometheus(cfg.Observability.Metrics.Namespace, nil)
			}

			rt, err := startRuntime(context.Background(), cfg)
			if err != nil {
				return err
			}
			logging.Op().Info("nhook started", "version", version, "summary", cfg.Summary())

			nodeID := ""
			if rt.broadcaster != nil {
				nodeID = rt.broadcaster.NodeID()
			}
			server := httpapi.StartHTTPServer(cfg.Daemon.HTTPAddr, httpapi.ServerConfig{
				Reader:      rt.exec,
				Invalidator: rt.invalidator(),
				Renderer:    rt.resolver,
				Players:     rt.client,
				Pool:        rt.pool,
				NodeID:      nodeID,
			})
			logging.Op().Info("HTTP API started", "addr", cfg.Daemon.HTTPAddr)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

			for sig := range sigCh {
				if sig == syscall.SIGHUP {
					reload(cmd, rt)
					continue
				}
				logging.Op().Info("shutdown signal received", "signal", sig.String())
				break
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logging.Op().Warn("HTTP shutdown", "error", err)
			}
			rt.close()
			logging.Op().Info("nhook stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http", ":8085", "HTTP API address")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")

	return cmd
}

// reload re-reads configuration and applies the settings that can change
// at runtime. Pool sizing and addresses need a restart.
func reload(cmd *cobra.Command, rt *runtime) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		logging.Op().Error("config reload failed", "error", err)
		return
	}
	rt.applyReloadable(cfg)
	logging.Op().Info("configuration reloaded", "summary", cfg.Summary())
}

