// Package supervisor owns a goxeld instance's whole process lifetime: the
// ordered construction of every subsystem, the pidfile, signal handling,
// and the reverse-order graceful shutdown when the daemon is asked to
// stop.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goxel/goxeld/internal/acceptor"
	"github.com/goxel/goxeld/internal/audit"
	"github.com/goxel/goxeld/internal/config"
	"github.com/goxel/goxeld/internal/handlers"
	"github.com/goxel/goxeld/internal/logging"
	"github.com/goxel/goxeld/internal/registry"
	"github.com/goxel/goxeld/internal/render"
	"github.com/goxel/goxeld/internal/scene"
	"github.com/goxel/goxeld/internal/session"
	"github.com/goxel/goxeld/internal/telemetry"
	"github.com/goxel/goxeld/internal/worker"
)

// Version is the daemon's semantic version, set by the cmd package from
// build-time ldflags.
var Version = "0.0.0-dev"

// ErrForcedShutdown is returned by Run when at least one session's drain
// deadline fired before its in-flight request finished, forcing the
// connection closed instead of draining cleanly. The cmd package surfaces
// this as a non-zero process exit status.
var ErrForcedShutdown = errors.New("supervisor: shutdown forced by drain deadline")

// EngineFactory builds the scene engine the supervisor guards. Tests (and
// eventually alternative engine backends) inject their own.
type EngineFactory func() scene.Engine

// Supervisor owns every long-lived subsystem of a goxeld instance.
type Supervisor struct {
	cfg    *config.DaemonConfig
	logger *slog.Logger
	writer *logging.ReopenableWriter

	newEngine EngineFactory

	guard    *scene.Guard
	render   *render.Store
	reaper   *render.Reaper
	auditSt  *audit.Store
	reg      *registry.Registry
	gate     *registry.PolicyGate
	pool     *worker.Pool
	acceptor *acceptor.Acceptor
	metrics  *telemetry.Metrics
	tracer   *telemetry.TracingShutdown
	httpSrv  *telemetry.MetricsServer

	startTime time.Time
	instanceID string

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// New constructs a Supervisor from cfg but performs no I/O; call Run to
// start it. A nil newEngine defaults to scene.NewMemoryEngine.
func New(cfg *config.DaemonConfig, logger *slog.Logger, newEngine EngineFactory) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if newEngine == nil {
		newEngine = func() scene.Engine { return scene.NewMemoryEngine() }
	}
	return &Supervisor{
		cfg:        cfg,
		logger:     logger,
		newEngine:  newEngine,
		instanceID: uuid.New().String(),
		shutdownCh: make(chan struct{}),
	}
}

// SetLogWriter records the reopenable writer backing s.logger, so SIGHUP
// handling can rotate it. Optional; a nil writer makes Reopen a no-op.
func (s *Supervisor) SetLogWriter(w *logging.ReopenableWriter) {
	s.writer = w
}

// Run performs the full ordered startup, blocks serving connections until
// ctx is cancelled (by a signal handler or an RPC-triggered shutdown), then
// runs the ordered graceful shutdown. It returns once teardown completes.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.writePidfile(); err != nil {
		s.logger.Warn("supervisor: pidfile not written", "path", s.cfg.PidfilePath, "error", err)
	} else if s.cfg.PidfilePath != "" {
		defer os.Remove(s.cfg.PidfilePath)
	}

	if err := s.startSubsystems(ctx); err != nil {
		return fmt.Errorf("supervisor: startup failed: %w", err)
	}

	s.startTime = time.Now().UTC()
	s.logger.Info("goxeld started",
		"version", Version,
		"socket_path", s.cfg.SocketPath,
		"worker_count", s.cfg.WorkerCount,
	)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	go func() {
		select {
		case <-ctx.Done():
		case <-s.shutdownCh:
		}
		cancelRun()
	}()

	s.acceptor.Serve(runCtx)

	forced := s.shutdown()
	if forced {
		return ErrForcedShutdown
	}
	return nil
}

// RequestShutdown asks Run to begin graceful shutdown, for use by the
// shutdown RPC handler. Safe to call more than once and from any goroutine.
func (s *Supervisor) RequestShutdown() {
	s.shutdownOnce.Do(func() { close(s.shutdownCh) })
}

// ReopenLogs asks the log writer to reopen its underlying file, for
// SIGHUP-driven log rotation. A no-op if no writer was set or logs go to
// stderr.
func (s *Supervisor) ReopenLogs() {
	if s.writer == nil {
		return
	}
	if err := s.writer.Reopen(); err != nil {
		s.logger.Error("supervisor: log reopen failed", "error", err)
	}
}

func (s *Supervisor) startSubsystems(ctx context.Context) error {
	engine := s.newEngine()
	s.guard = scene.NewGuard(engine)

	var err error
	s.render, err = render.Open(s.cfg.RenderDir, s.cfg.RenderMaxTotalBytes, time.Duration(s.cfg.RenderTTLMS)*time.Millisecond, s.logger)
	if err != nil {
		return fmt.Errorf("render store: %w", err)
	}
	s.reaper = render.NewReaper(s.render, time.Duration(s.cfg.RenderSweepIntervalMS)*time.Millisecond, s.logger)
	s.reaper.Start()

	if s.cfg.AuditDir != "" {
		s.auditSt, err = audit.Open(audit.Config{
			Dir:           s.cfg.AuditDir,
			RetentionDays: s.cfg.AuditRetentionDays,
			MaxFileSizeMB: s.cfg.AuditMaxFileMB,
			CacheSize:     1000,
		}, s.logger)
		if err != nil {
			return fmt.Errorf("audit store: %w", err)
		}
	}

	s.gate, err = registry.NewPolicyGate()
	if err != nil {
		return fmt.Errorf("policy gate: %w", err)
	}

	s.reg = registry.New()
	handlers.Register(s.reg, handlers.Deps{
		Guard:               s.guard,
		Render:              s.render,
		Audit:               s.auditSt,
		Config:               s.cfg,
		InstanceID:          s.instanceID,
		StartTime:           func() time.Time { return s.startTime },
		ActiveSessions:      func() int { return s.acceptorSessions() },
		QueueDepth:          func() int { return s.poolQueueDepth() },
		AllowRemoteShutdown: s.cfg.AllowRemoteShutdown,
		RequestShutdown:     s.RequestShutdown,
		Version:             Version,
	})
	for method, expr := range s.cfg.MethodPolicies {
		s.reg.AttachPolicy(method, expr)
	}

	var observer worker.Observer
	if s.cfg.MetricsAddr != "" || s.cfg.TracingEnabled {
		s.metrics = telemetry.NewMetrics()
		if s.cfg.TracingEnabled {
			tracer, meter, shutdown, terr := telemetry.NewTracerProvider(ctx, s.instanceID)
			if terr != nil {
				return fmt.Errorf("tracer provider: %w", terr)
			}
			s.tracer = shutdown
			observer = telemetry.NewObserver(s.metrics, tracer, meter)
		} else {
			observer = s.metrics
		}
		if s.cfg.MetricsAddr != "" {
			s.httpSrv = telemetry.ServeMetrics(s.cfg.MetricsAddr, s.metrics, s.logger)
		}
	}

	s.pool, err = worker.New(worker.Config{
		WorkerCount:    s.cfg.WorkerCount,
		QueueCapacity:  s.cfg.RequestQueueCapacity,
		RequestTimeout: time.Duration(s.cfg.RequestTimeoutMS) * time.Millisecond,
	}, s.reg, s.gate, s.auditSt, observer, s.logger)
	if err != nil {
		return fmt.Errorf("worker pool: %w", err)
	}
	s.pool.Start()

	s.acceptor = acceptor.New(acceptor.Config{
		SocketPath:        s.cfg.SocketPath,
		MaxConnections:    s.cfg.MaxConnections,
		ConnectRatePerSec: s.cfg.ConnectRatePerSec,
		ConnectBurst:      s.cfg.ConnectBurst,
		Session: session.Config{
			OutboundQueueDepth: s.cfg.OutboundQueueDepth,
			IdleTimeout:        time.Duration(s.cfg.SessionIdleTimeoutMS) * time.Millisecond,
			DrainDeadline:      time.Duration(s.cfg.SessionDrainDeadlineMS) * time.Millisecond,
			MaxMessageBytes:    s.cfg.MaxMessageBytes,
			AccessTokenHash:    s.cfg.AccessTokenHash,
		},
	}, s.reg, s.pool, s.logger)

	if err := s.acceptor.Listen(); err != nil {
		return fmt.Errorf("acceptor listen: %w", err)
	}

	return nil
}

func (s *Supervisor) acceptorSessions() int {
	if s.acceptor == nil {
		return 0
	}
	return s.acceptor.ActiveSessions()
}

func (s *Supervisor) poolQueueDepth() int {
	if s.pool == nil {
		return 0
	}
	return s.pool.QueueDepth()
}

// shutdown tears every subsystem down in the reverse order it was started:
// stop accepting, let sessions drain, stop the worker pool, final render
// sweep, close the scene engine, close stores, unlink socket/pidfile, metrics/tracer last so
// shutdown itself stays observable until the very end. It reports whether
// any session's drain deadline forced its connection closed.
func (s *Supervisor) shutdown() bool {
	s.logger.Info("goxeld shutting down")

	forced := false
	if s.acceptor != nil {
		_ = s.acceptor.Close()
		s.acceptor.Wait()
		forced = s.acceptor.ForcedShutdown()
		s.acceptor.Stop()
	}
	if s.pool != nil {
		s.pool.Stop()
	}
	if s.reaper != nil {
		s.reaper.Stop()
	}
	if s.guard != nil {
		if err := s.guard.Exclusive(func(e scene.Engine) error { return e.Close() }); err != nil {
			s.logger.Warn("supervisor: scene engine close failed", "error", err)
		}
	}
	if s.render != nil {
		if err := s.render.Close(); err != nil {
			s.logger.Warn("supervisor: render store close failed", "error", err)
		}
	}
	if s.auditSt != nil {
		if err := s.auditSt.Close(); err != nil {
			s.logger.Warn("supervisor: audit store close failed", "error", err)
		}
	}
	if s.httpSrv != nil {
		s.httpSrv.Shutdown()
	}
	if s.tracer != nil {
		s.tracer.Shutdown(context.Background())
	}

	s.logger.Info("goxeld stopped", "forced", forced)
	return forced
}

func (s *Supervisor) writePidfile() error {
	if s.cfg.PidfilePath == "" {
		return nil
	}
	if err := checkStalePidfile(s.cfg.PidfilePath); err != nil {
		return err
	}
	tmp := s.cfg.PidfilePath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(tmp)
		return werr
	}
	return os.Rename(tmp, s.cfg.PidfilePath)
}
