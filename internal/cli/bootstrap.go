package cli

import (
	"fmt"

	"github.com/harun/lanes/internal/config"
	"github.com/harun/lanes/internal/daemon"
	"github.com/harun/lanes/internal/logger"
	"github.com/harun/lanes/pkg/jobs"
	"github.com/spf13/cobra"
)

// bootstrap loads the config, sets up logging and builds the daemon
func bootstrap(cmd *cobra.Command) (*daemon.Daemon, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	log, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: true,
		Pretty:  cfg.Logging.Pretty,
		Output:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	d, err := daemon.New(cfg, log)
	if err != nil {
		_ = log.Close()
		return nil, err
	}
	return d, nil
}

// teardown stops the daemon and closes its logger
func teardown(d *daemon.Daemon) error {
	err := d.Stop()
	if closeErr := d.GetLogger().Close(); err == nil {
		err = closeErr
	}
	return err
}

func loadJobFile(d *daemon.Daemon, path string) (*jobs.File, error) {
	loader, err := jobs.NewLoader(d.GetLogger().GetZerolog())
	if err != nil {
		return nil, err
	}
	return loader.LoadFile(path)
}
