package pool

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/AlekSi/pointer"
	"github.com/google/go-cmp/cmp"
)

func TestLoadConfigFileYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := "worker_count: 4\nqueue_capacity: 1024\nqueue_bounded: true\noffload_enabled: false\nlog_level: debug\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := LoadConfigFile(path)
	if err != nil {
		t.Fatal(err)
	}

	want := &FileConfig{
		WorkerCount:    4,
		QueueCapacity:  1024,
		QueueBounded:   true,
		OffloadEnabled: pointer.ToBool(false),
		LogLevel:       "debug",
	}

	if diff := cmp.Diff(want, got, cmp.Comparer(func(a, b *bool) bool {
		return (a == nil && b == nil) || (a != nil && b != nil && *a == *b)
	})); diff != "" {
		t.Fatalf("FileConfig mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigFileUnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("worker_count = 4"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfigFile(path); err == nil {
		t.Fatal("expected an error for an unsupported config extension")
	}
}

func TestApplyFileConfigProducesOptions(t *testing.T) {
	cfg := &FileConfig{
		WorkerCount:     2,
		OffloadEnabled:  pointer.ToBool(true),
		FailOpenEnabled: pointer.ToBool(false),
		LogLevel:        "warn",
	}
	resolved := defaultConfig()
	for _, opt := range applyFileConfig(cfg) {
		opt(resolved)
	}
	if resolved.workerCount != 2 {
		t.Fatalf("workerCount = %d, want 2", resolved.workerCount)
	}
	if resolved.failOpenEnabled {
		t.Fatal("expected failOpenEnabled to be disabled by config")
	}
	if resolved.logLevel != LogLevelWarn {
		t.Fatalf("logLevel = %v, want LogLevelWarn", resolved.logLevel)
	}
}
