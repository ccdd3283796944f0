package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultOnEmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}
	if cfg != Default() {
		t.Fatalf("Load(\"\") = %+v, want %+v", cfg, Default())
	}
}

func TestLoadFillsBlankFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vthreadctl.yml")
	if err := os.WriteFile(path, []byte("tracePath: /tmp/trace.bin\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scenario != DefaultScenario {
		t.Errorf("Scenario = %q, want %q", cfg.Scenario, DefaultScenario)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.TracePath != "/tmp/trace.bin" {
		t.Errorf("TracePath = %q", cfg.TracePath)
	}
}

func TestLoadOverridesScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vthreadctl.yml")
	if err := os.WriteFile(path, []byte("scenario: two-vthreads\nlogLevel: debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scenario != "two-vthreads" {
		t.Errorf("Scenario = %q", cfg.Scenario)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
