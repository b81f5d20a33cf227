package config

import (
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if cfg.HeartbeatInterval <= 0 || cfg.RecoveryInterval <= 0 || cfg.StaleThreshold <= 0 {
		t.Fatalf("Default() produced a non-positive duration: %+v", cfg)
	}
	if cfg.StaleThreshold <= cfg.HeartbeatInterval {
		t.Fatalf("Default() StaleThreshold (%s) does not exceed HeartbeatInterval (%s)", cfg.StaleThreshold, cfg.HeartbeatInterval)
	}
}

func TestNewAppliesOptionsInOrder(t *testing.T) {
	cfg, err := New(
		WithHeartbeatInterval(5*time.Second),
		WithStaleThreshold(20*time.Second),
		WithMaxBacktracks(5),
		WithWorkerPoolSize(4),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if cfg.HeartbeatInterval != 5*time.Second {
		t.Errorf("HeartbeatInterval = %s, want 5s", cfg.HeartbeatInterval)
	}
	if cfg.StaleThreshold != 20*time.Second {
		t.Errorf("StaleThreshold = %s, want 20s", cfg.StaleThreshold)
	}
	if cfg.MaxBacktracks != 5 {
		t.Errorf("MaxBacktracks = %d, want 5", cfg.MaxBacktracks)
	}
	if cfg.WorkerPoolSize != 4 {
		t.Errorf("WorkerPoolSize = %d, want 4", cfg.WorkerPoolSize)
	}
}

func TestWithLogLevelSetsLevel(t *testing.T) {
	cfg, err := New(WithLogLevel("debug"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestWithStaleThresholdRejectsBelowHeartbeat(t *testing.T) {
	_, err := New(
		WithHeartbeatInterval(30*time.Second),
		WithStaleThreshold(10*time.Second),
	)
	if err == nil {
		t.Fatal("New() error = nil, want error for staleThreshold <= heartbeatInterval")
	}
}

func TestWithMaxBacktracksRejectsNegative(t *testing.T) {
	if _, err := New(WithMaxBacktracks(-1)); err == nil {
		t.Fatal("New() error = nil, want error for negative maxBacktracks")
	}
}

func TestWithWorkerPoolSizeRejectsNonPositive(t *testing.T) {
	if _, err := New(WithWorkerPoolSize(0)); err == nil {
		t.Fatal("New() error = nil, want error for workerPoolSize 0")
	}
}

func TestFromYAMLLayersOverDefaults(t *testing.T) {
	yaml := []byte(`
maxBacktracks: 7
serverNodeId: node-7
`)
	cfg, err := FromYAML(yaml)
	if err != nil {
		t.Fatalf("FromYAML() error = %v", err)
	}
	if cfg.MaxBacktracks != 7 {
		t.Errorf("MaxBacktracks = %d, want 7", cfg.MaxBacktracks)
	}
	if cfg.ServerNodeID != "node-7" {
		t.Errorf("ServerNodeID = %q, want node-7", cfg.ServerNodeID)
	}
	// Fields absent from the YAML document keep Default()'s values.
	if cfg.HeartbeatInterval != Default().HeartbeatInterval {
		t.Errorf("HeartbeatInterval = %s, want unchanged default", cfg.HeartbeatInterval)
	}
}

func TestFromYAMLRejectsMalformedDocument(t *testing.T) {
	if _, err := FromYAML([]byte("not: [valid: yaml")); err == nil {
		t.Fatal("FromYAML() error = nil, want parse error")
	}
}

func TestLoadFileRejectsMissingPath(t *testing.T) {
	if _, err := LoadFile("/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("LoadFile() error = nil, want error for missing file")
	}
}
