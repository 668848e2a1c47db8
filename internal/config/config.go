// Package config defines DaemonConfig, the immutable configuration for one
// goxeld instance, plus the validation and environment-override machinery
// around it. One process serves exactly one Unix socket and one scene, so
// unlike a multi-tenant gateway this schema carries no identity store, no
// upstream selection, and no HTTP routing: render storage, worker sizing,
// audit retention, optional metrics/tracing, and an optional CEL-based
// per-method policy gate.
package config

// DaemonConfig is the top-level configuration for a goxeld instance.
type DaemonConfig struct {
	// SocketPath is the Unix domain socket path the acceptor binds.
	SocketPath string `yaml:"socket_path" mapstructure:"socket_path" validate:"required"`

	// WorkerCount is the number of goroutines draining the dispatch queue.
	WorkerCount int `yaml:"worker_count" mapstructure:"worker_count" validate:"required,min=1"`

	// RequestQueueCapacity bounds the number of dispatched-but-not-yet-run
	// requests buffered ahead of the worker pool. Must be >= WorkerCount.
	RequestQueueCapacity int `yaml:"request_queue_capacity" mapstructure:"request_queue_capacity" validate:"required,min=1"`

	// MaxConnections bounds concurrently accepted sessions.
	MaxConnections int `yaml:"max_connections" mapstructure:"max_connections" validate:"required,min=1"`

	// MaxMessageBytes bounds a single framed JSON-RPC message.
	MaxMessageBytes int64 `yaml:"max_message_bytes" mapstructure:"max_message_bytes" validate:"required,min=1"`

	// RequestTimeoutMS bounds how long a dispatched request may run before
	// the worker abandons it and returns a timeout error to the caller.
	RequestTimeoutMS int64 `yaml:"request_timeout_ms" mapstructure:"request_timeout_ms" validate:"required,min=1"`

	// OutboundQueueDepth bounds the per-session outbound write buffer.
	OutboundQueueDepth int `yaml:"outbound_queue_depth" mapstructure:"outbound_queue_depth" validate:"required,min=1"`

	// SessionDrainDeadlineMS bounds how long a Draining session is given to
	// finish its in-flight requests before the connection is closed.
	SessionDrainDeadlineMS int64 `yaml:"session_drain_deadline_ms" mapstructure:"session_drain_deadline_ms" validate:"required,min=1"`

	// SessionIdleTimeoutMS closes a session that sends nothing for this long.
	SessionIdleTimeoutMS int64 `yaml:"session_idle_timeout_ms" mapstructure:"session_idle_timeout_ms" validate:"required,min=1"`

	// RenderDir is the root directory for rendered artifact files and the
	// embedded descriptor index.
	RenderDir string `yaml:"render_dir" mapstructure:"render_dir" validate:"required"`

	// RenderTTLMS is the default time-to-live for a render artifact before
	// the reaper is eligible to evict it.
	RenderTTLMS int64 `yaml:"render_ttl_ms" mapstructure:"render_ttl_ms" validate:"required,min=1"`

	// RenderMaxTotalBytes caps the combined size of artifacts kept on disk;
	// registering an artifact that would exceed it first evicts unreferenced
	// artifacts soonest-expiring first. The reaper only removes expired ones.
	RenderMaxTotalBytes int64 `yaml:"render_max_total_bytes" mapstructure:"render_max_total_bytes" validate:"required,min=1"`

	// RenderSweepIntervalMS is how often the reaper goroutine runs.
	RenderSweepIntervalMS int64 `yaml:"render_sweep_interval_ms" mapstructure:"render_sweep_interval_ms" validate:"required,min=1"`

	// PidfilePath, when set, is where the supervisor writes its PID.
	PidfilePath string `yaml:"pidfile_path" mapstructure:"pidfile_path"`

	// LogLevel sets the minimum slog level. Defaults to "info".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// AuditDir is the directory the audit trail is written to.
	AuditDir string `yaml:"audit_dir" mapstructure:"audit_dir"`

	// AuditRetentionDays is how long audit files are kept before deletion.
	AuditRetentionDays int `yaml:"audit_retention_days" mapstructure:"audit_retention_days" validate:"omitempty,min=1"`

	// AuditMaxFileMB is the rotation size threshold for a single audit file.
	AuditMaxFileMB int `yaml:"audit_max_file_mb" mapstructure:"audit_max_file_mb" validate:"omitempty,min=1"`

	// MetricsAddr, when set, is a loopback host:port the Prometheus handler
	// is served from. Empty disables the metrics listener.
	MetricsAddr string `yaml:"metrics_addr" mapstructure:"metrics_addr" validate:"omitempty,hostname_port"`

	// TracingEnabled turns on per-RPC tracing spans (stdout exporter only).
	TracingEnabled bool `yaml:"tracing_enabled" mapstructure:"tracing_enabled"`

	// AccessTokenHash is an argon2id hash of the bearer token a session must
	// present (as params._auth) before any method, ping and version
	// included, is dispatched.
	// Empty disables the access-token check entirely.
	AccessTokenHash string `yaml:"access_token_hash" mapstructure:"access_token_hash"`

	// MethodPolicies maps a method name to a CEL expression gating it. A
	// method absent from this map is allowed unconditionally.
	MethodPolicies map[string]string `yaml:"method_policies" mapstructure:"method_policies"`

	// ConnectRatePerSec and ConnectBurst configure the per-peer-uid
	// connection rate limiter, checked on each accepted connection before a
	// session is created. Zero disables it.
	ConnectRatePerSec int `yaml:"connect_rate_per_sec" mapstructure:"connect_rate_per_sec" validate:"omitempty,min=1"`
	ConnectBurst      int `yaml:"connect_burst" mapstructure:"connect_burst" validate:"omitempty,min=1"`

	// AllowRemoteShutdown gates the shutdown RPC method. When false, the
	// daemon can only be stopped by signal or the stop CLI command.
	AllowRemoteShutdown bool `yaml:"allow_remote_shutdown" mapstructure:"allow_remote_shutdown"`
}

// SetDefaults fills in zero-valued optional fields. Called before Validate
// so CLI/env overrides still take effect first.
func (c *DaemonConfig) SetDefaults() {
	if c.WorkerCount == 0 {
		c.WorkerCount = 4
	}
	if c.RequestQueueCapacity == 0 {
		c.RequestQueueCapacity = c.WorkerCount * 8
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = 64
	}
	if c.MaxMessageBytes == 0 {
		c.MaxMessageBytes = 8 * 1024 * 1024
	}
	if c.RequestTimeoutMS == 0 {
		c.RequestTimeoutMS = 30_000
	}
	if c.OutboundQueueDepth == 0 {
		c.OutboundQueueDepth = 256
	}
	if c.SessionDrainDeadlineMS == 0 {
		c.SessionDrainDeadlineMS = 5_000
	}
	if c.SessionIdleTimeoutMS == 0 {
		c.SessionIdleTimeoutMS = 10 * 60_000
	}
	if c.RenderDir == "" {
		c.RenderDir = "/var/tmp/goxel_renders"
	}
	if c.RenderTTLMS == 0 {
		c.RenderTTLMS = 60 * 60_000
	}
	if c.RenderMaxTotalBytes == 0 {
		c.RenderMaxTotalBytes = 512 * 1024 * 1024
	}
	if c.RenderSweepIntervalMS == 0 {
		c.RenderSweepIntervalMS = 30_000
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.AuditDir == "" {
		c.AuditDir = c.RenderDir + "/../audit"
	}
	if c.AuditRetentionDays == 0 {
		c.AuditRetentionDays = 7
	}
	if c.AuditMaxFileMB == 0 {
		c.AuditMaxFileMB = 100
	}
}

// SetDevDefaults applies permissive defaults for local development: a
// throwaway socket under the OS temp dir and a relaxed log level. Applied
// before validation, mirroring SetDefaults.
func (c *DaemonConfig) SetDevDefaults(devMode bool) {
	if !devMode {
		return
	}
	if c.SocketPath == "" {
		c.SocketPath = "/tmp/goxeld.sock"
	}
	if c.LogLevel == "" || c.LogLevel == "info" {
		c.LogLevel = "debug"
	}
	c.AllowRemoteShutdown = true
}
