package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/harun/lanes/internal/config"
	"github.com/harun/lanes/internal/logger"
	"github.com/harun/lanes/internal/metrics"
	"github.com/harun/lanes/internal/observability"
	"github.com/harun/lanes/internal/tracing"
	"github.com/harun/lanes/pkg/lanes"
)

// Daemon owns the lane registry and the process-wide services around it
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	registry      *lanes.Registry
	audit         *observability.AuditLogger
	metricsServer *http.Server
	metricsAddr   string

	wg sync.WaitGroup

	startTime time.Time
	running   bool
	stopped   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// Status describes the daemon state
type Status struct {
	Running   bool
	StartTime time.Time
	Uptime    time.Duration
	Lanes     map[string]lanes.LaneStats
}

// New creates a daemon and its registry
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	observability.EnsureRegistered()

	d := &Daemon{
		config: cfg,
		logger: log,
	}

	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(cfg.Tracing.ServiceName, cfg.Tracing.SampleRatio); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracingEnabled = true
			log.Info().Msg("Tracing initialized successfully")
		}
	}

	zl := log.GetZerolog()
	d.registry = lanes.NewWithOptions(lanes.Options{
		DefaultLane: cfg.Executor.DefaultLane,
		WarnAfter:   cfg.WarnAfter(),
		DedupTTL:    cfg.DedupTTL(),
		Logger:      &zl,
	})
	log.Info().Str("default_lane", cfg.Executor.DefaultLane).Msg("Lane registry initialized")

	if cfg.AuditFile != "" {
		audit, err := observability.OpenAuditLog(cfg.AuditFile)
		if err != nil {
			d.registry.Dispose()
			d.shutdownTracing()
			return nil, fmt.Errorf("failed to initialize audit log: %w", err)
		}
		d.audit = audit
		d.subscribeAudit()
		log.Info().Str("path", cfg.AuditFile).Msg("Audit log initialized")
	}

	return d, nil
}

// subscribeAudit mirrors registry events into the audit log
func (d *Daemon) subscribeAudit() {
	for _, eventType := range []string{lanes.EventEnqueued, lanes.EventCompleted, lanes.EventCleared, lanes.EventDisposed} {
		d.registry.On(eventType, func(event lanes.Event) {
			status := "success"
			if s, ok := event.Data["status"].(string); ok {
				status = s
			} else if event.Type == lanes.EventEnqueued {
				status = "pending"
			}

			metadata := make(map[string]interface{}, len(event.Data)+1)
			for k, v := range event.Data {
				metadata[k] = v
			}
			if event.TaskID != "" {
				metadata["task_id"] = event.TaskID
			}

			d.audit.Record(context.Background(), observability.AuditEvent{
				Type:     "lane",
				Lane:     event.Lane,
				Action:   "lane_" + event.Type,
				Status:   status,
				Metadata: metadata,
			})
		})
	}
}

// Start starts the metrics endpoint when enabled
func (d *Daemon) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return fmt.Errorf("daemon is already running")
	}
	if d.stopped {
		return fmt.Errorf("daemon has been stopped")
	}

	if d.config.Metrics.Enabled {
		if err := d.startMetricsServer(); err != nil {
			return err
		}
	}

	d.running = true
	d.startTime = time.Now()
	d.logger.Info().Msg("Daemon started")
	return nil
}

func (d *Daemon) startMetricsServer() error {
	listener, err := net.Listen("tcp", d.config.Metrics.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", d.config.Metrics.Addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Default().Handler())

	d.metricsServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	d.metricsAddr = listener.Addr().String()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.metricsServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	d.logger.Info().Str("addr", d.metricsAddr).Msg("Metrics server started")
	return nil
}

// MetricsAddr returns the bound metrics address, empty when disabled
func (d *Daemon) MetricsAddr() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.metricsAddr
}

// Registry returns the lane registry
func (d *Daemon) Registry() *lanes.Registry {
	return d.registry
}

// Drain waits up to the configured drain timeout for every lane to go idle.
func (d *Daemon) Drain() bool {
	return d.registry.WaitDrained(lanes.AllLanes, d.config.DrainTimeout())
}

// Stop disposes the registry, waits for lane workers up to the drain
// timeout and releases the process-wide services. Safe to call repeatedly.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	d.running = false
	d.mu.Unlock()

	logger := d.logger
	logger.Info().Msg("Stopping daemon")

	var errs []error

	shutdownCtx, cancel := context.WithTimeout(context.Background(), d.config.DrainTimeout())
	if err := d.registry.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Lane workers did not exit before the drain timeout")
		errs = append(errs, fmt.Errorf("shutdown registry: %w", err))
	}
	cancel()
	logger.Info().Msg("Lane registry stopped")

	if d.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.metricsServer.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("Failed to shutdown metrics server")
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
		}
		cancel()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logger.Warn().Msg("Timeout waiting for goroutines to stop")
	}

	d.shutdownTracing()

	if d.audit != nil {
		if err := d.audit.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close audit logger")
			errs = append(errs, fmt.Errorf("close audit log: %w", err))
		}
	}

	logger.Info().Msg("Daemon stopped successfully")
	return errors.Join(errs...)
}

func (d *Daemon) shutdownTracing() {
	if !d.tracingEnabled {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
		d.logger.Error().Err(err).Msg("Failed to shutdown tracing")
	}
	d.tracingEnabled = false
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running: d.running,
		Lanes:   d.registry.Stats(),
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}

	return status
}

// Wait blocks until ctx is done or SIGINT/SIGTERM arrives
func (d *Daemon) Wait(ctx context.Context) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		d.logger.Info().Str("signal", sig.String()).Msg("Received signal")
	case <-ctx.Done():
	}
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetLogger returns the daemon logger
func (d *Daemon) GetLogger() *logger.Logger {
	return d.logger
}
