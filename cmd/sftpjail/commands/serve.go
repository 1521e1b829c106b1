package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mevdschee/sftpjail/internal/config"
	"github.com/mevdschee/sftpjail/internal/fileserver"
	"github.com/mevdschee/sftpjail/internal/logger"
	"github.com/mevdschee/sftpjail/internal/metrics"
	"github.com/mevdschee/sftpjail/internal/sshserver"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the SFTP server",
	Long: `Start the SFTP server in the foreground.

Examples:
  # Start with the default config location
  sftpjail serve

  # Start with only environment configuration
  DATA_DIR=/srv/feeds SFTP_PASS=secret sftpjail serve

  # Verbose logging
  SFTPJAIL_LOGGING_LEVEL=DEBUG sftpjail serve --config /etc/sftpjail/config.yaml`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Info("Configuration loaded", "source", configSource(), "version", Version)

	m := metrics.Noop()
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.New(reg)
		metricsServer = metrics.NewServer(cfg.Metrics.Address, reg)
		if err := metricsServer.Start(); err != nil {
			return err
		}
		logger.Info("Metrics enabled", logger.KeyAddress, metricsServer.Addr())
	}

	dispatcher, err := fileserver.NewRootDispatcher(cfg.Storage.Root, m)
	if err != nil {
		return err
	}
	defer dispatcher.Close()
	if err := dispatcher.EnsureLayout(cfg.Storage.Layout); err != nil {
		return err
	}

	server, err := sshserver.NewServer(sshserver.Options{
		Address:            cfg.Server.Address(),
		HostKeyPath:        cfg.Server.HostKey,
		Username:           cfg.Auth.Username,
		Password:           cfg.Auth.Password,
		AuthorizedKeysPath: cfg.Auth.AuthorizedKeys,
		MaxBytesPerSec:     int64(cfg.Server.MaxBytesPerSec),
	}, dispatcher, m)
	if err != nil {
		return err
	}
	if err := server.Start(); err != nil {
		return err
	}
	if cfg.Server.MaxBytesPerSec > 0 {
		logger.Info("Bandwidth limit enabled", "per_channel", cfg.Server.MaxBytesPerSec.String()+"/s")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		logger.Warn("SSH server stop error", logger.KeyError, err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			logger.Warn("Metrics server shutdown error", logger.KeyError, err)
		}
	}
	logger.Info("Server stopped")
	return nil
}
