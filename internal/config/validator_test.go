package config

import (
	"strings"
	"testing"
)

// minimalValidConfig returns a minimal valid DaemonConfig for testing.
func minimalValidConfig() *DaemonConfig {
	cfg := &DaemonConfig{
		SocketPath: "/tmp/goxeld.sock",
		RenderDir:  "/tmp/goxeld_renders",
	}
	cfg.SetDefaults()
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_MissingSocketPath(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.SocketPath = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for missing socket_path, got nil")
	}
	if !strings.Contains(err.Error(), "SocketPath") {
		t.Errorf("error = %q, want to contain 'SocketPath'", err.Error())
	}
}

func TestValidate_QueueSmallerThanWorkers(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.WorkerCount = 8
	cfg.RequestQueueCapacity = 4

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for undersized queue, got nil")
	}
	if !strings.Contains(err.Error(), "request_queue_capacity") {
		t.Errorf("error = %q, want to mention request_queue_capacity", err.Error())
	}
}

func TestValidate_QueueEqualToWorkers(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.WorkerCount = 4
	cfg.RequestQueueCapacity = 4

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with queue == workers unexpected error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.LogLevel = "verbose"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for invalid log_level, got nil")
	}
	if !strings.Contains(err.Error(), "LogLevel") {
		t.Errorf("error = %q, want to mention LogLevel", err.Error())
	}
}

func TestValidate_BurstWithoutRate(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.ConnectRatePerSec = 0
	cfg.ConnectBurst = 5

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for burst without rate, got nil")
	}
	if !strings.Contains(err.Error(), "connect_rate_per_sec") {
		t.Errorf("error = %q, want to mention connect_rate_per_sec", err.Error())
	}
}

func TestValidate_RateWithBurst(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.ConnectRatePerSec = 10
	cfg.ConnectBurst = 5

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with rate+burst set unexpected error: %v", err)
	}
}

func TestValidate_EmptyMethodPolicyExpression(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.MethodPolicies = map[string]string{"goxel.clear_region": "   "}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for empty method policy expression, got nil")
	}
	if !strings.Contains(err.Error(), "goxel.clear_region") {
		t.Errorf("error = %q, want to mention the offending method", err.Error())
	}
}

func TestValidate_NonEmptyMethodPolicyExpression(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.MethodPolicies = map[string]string{"goxel.clear_region": "client_id == 1"}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with valid method policy unexpected error: %v", err)
	}
}
