package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("FLOW_MONITOR_ENV_FILE", filepath.Join(dir, "missing.env"))
	t.Setenv("FLOW_MONITOR_CONFIG", "")
	t.Setenv("FASTAPI_URL", "")
	return dir
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.HTTPAddress != ":8080" || cfg.Server.GRPCAddress != ":50051" {
		t.Fatalf("unexpected server defaults: %+v", cfg.Server)
	}
	if cfg.Upstream.BaseURL != "" {
		t.Fatalf("upstream must be unconfigured by default")
	}
	if cfg.Upstream.SummaryPath != "/dashboard_summary" || cfg.Upstream.IngestPath != "/ingest_hospital" {
		t.Fatalf("unexpected upstream paths: %+v", cfg.Upstream)
	}
	if cfg.Poller.StrictOrdering {
		t.Fatalf("strict ordering must be opt-in")
	}
	if cfg.MQTT.Enabled {
		t.Fatalf("mqtt must be disabled by default")
	}
}

func TestLoadYAMLThenEnvOverrides(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "flow-monitor.yaml")
	if err := os.WriteFile(path, []byte(`server:
  httpAddress: ":9090"
  gracefulTimeout: 3s
upstream:
  baseURL: "http://yaml.example:8000"
  timeout: 2s
poller:
  strictOrdering: true
mqtt:
  enabled: true
  topic: "ward/3/summary"
`), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("FASTAPI_URL", "http://env.example:8000")
	t.Setenv("FLOW_MONITOR_LOG_FORMAT", "json")
	t.Setenv("FLOW_MONITOR_MQTT_QOS", "2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.HTTPAddress != ":9090" || cfg.Server.GracefulTimeout != 3*time.Second {
		t.Fatalf("yaml server values not applied: %+v", cfg.Server)
	}
	if cfg.Upstream.BaseURL != "http://env.example:8000" {
		t.Fatalf("FASTAPI_URL must override yaml, got %s", cfg.Upstream.BaseURL)
	}
	if cfg.Upstream.SummaryPath != "/dashboard_summary" {
		t.Fatalf("defaults must survive partial yaml, got %s", cfg.Upstream.SummaryPath)
	}
	if !cfg.Poller.StrictOrdering || !cfg.MQTT.Enabled || cfg.MQTT.Topic != "ward/3/summary" {
		t.Fatalf("yaml sections not applied: %+v %+v", cfg.Poller, cfg.MQTT)
	}
	if !cfg.Logging.JSON || cfg.MQTT.QoS != 2 {
		t.Fatalf("env overrides not applied: %+v qos=%d", cfg.Logging, cfg.MQTT.QoS)
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("FLOW_MONITOR_TEST_ONLY=1\n"), 0644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("FLOW_MONITOR_ENV_FILE", envFile)
	t.Setenv("FLOW_MONITOR_CONFIG", "")
	t.Cleanup(func() { os.Unsetenv("FLOW_MONITOR_TEST_ONLY") })

	if _, err := Load(""); err != nil {
		t.Fatalf("load: %v", err)
	}
	if os.Getenv("FLOW_MONITOR_TEST_ONLY") != "1" {
		t.Fatalf("expected .env values to be exported")
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	isolate(t)
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
