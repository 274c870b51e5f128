package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the flow monitor.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Upstream   UpstreamConfig   `yaml:"upstream"`
	Poller     PollerConfig     `yaml:"poller"`
	Logging    LoggingConfig    `yaml:"logging"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Advisories AdvisoriesConfig `yaml:"advisories"`
}

// ServerConfig controls the HTTP, gRPC and metrics listeners.
type ServerConfig struct {
	HTTPAddress     string        `yaml:"httpAddress"`
	GRPCAddress     string        `yaml:"grpcAddress"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// UpstreamConfig configures access to the prediction service.
type UpstreamConfig struct {
	BaseURL     string        `yaml:"baseURL"`
	SummaryPath string        `yaml:"summaryPath"`
	IngestPath  string        `yaml:"ingestPath"`
	Timeout     time.Duration `yaml:"timeout"`
}

// PollerConfig tunes the summary poller. The interval is fixed.
type PollerConfig struct {
	StrictOrdering bool `yaml:"strictOrdering"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// MQTTConfig controls snapshot publishing to a broker.
type MQTTConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Broker     string `yaml:"broker"`
	ClientID   string `yaml:"clientID"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	Topic      string `yaml:"topic"`
	AlertTopic string `yaml:"alertTopic"`
	QoS        byte   `yaml:"qos"`
}

// AdvisoriesConfig points at an optional advisory rule pack.
type AdvisoriesConfig struct {
	Path string `yaml:"path"`
}

// Load builds Config from defaults, an optional YAML file, a .env file and
// environment overrides, in that order of increasing precedence.
func Load(path string) (*Config, error) {
	envFile := os.Getenv("FLOW_MONITOR_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	// godotenv never overrides variables already present in the environment.
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file %s: %w", envFile, err)
	}

	if path == "" {
		path = os.Getenv("FLOW_MONITOR_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			HTTPAddress:     ":8080",
			GRPCAddress:     ":50051",
			MetricsAddress:  "",
			GracefulTimeout: 10 * time.Second,
		},
		Upstream: UpstreamConfig{
			SummaryPath: "/dashboard_summary",
			IngestPath:  "/ingest_hospital",
			Timeout:     10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		MQTT: MQTTConfig{
			Broker:     "tcp://localhost:1883",
			ClientID:   "flow-monitor",
			Topic:      "hospital/flow/summary",
			AlertTopic: "hospital/flow/alerts",
			QoS:        1,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FLOW_MONITOR_HTTP_ADDRESS"); v != "" {
		cfg.Server.HTTPAddress = v
	}
	if v := os.Getenv("FLOW_MONITOR_GRPC_ADDRESS"); v != "" {
		cfg.Server.GRPCAddress = v
	}
	if v := os.Getenv("FLOW_MONITOR_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("FLOW_MONITOR_GRACEFUL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.GracefulTimeout = d
		}
	}
	if v := os.Getenv("FASTAPI_URL"); v != "" {
		cfg.Upstream.BaseURL = v
	}
	if v := os.Getenv("FLOW_MONITOR_UPSTREAM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Upstream.Timeout = d
		}
	}
	if v := os.Getenv("FLOW_MONITOR_STRICT_ORDERING"); v != "" {
		cfg.Poller.StrictOrdering = parseBool(v)
	}
	if v := os.Getenv("FLOW_MONITOR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FLOW_MONITOR_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("FLOW_MONITOR_MQTT_ENABLED"); v != "" {
		cfg.MQTT.Enabled = parseBool(v)
	}
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("MQTT_CLIENT_ID"); v != "" {
		cfg.MQTT.ClientID = v
	}
	if v := os.Getenv("MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("FLOW_MONITOR_MQTT_TOPIC"); v != "" {
		cfg.MQTT.Topic = v
	}
	if v := os.Getenv("FLOW_MONITOR_MQTT_ALERT_TOPIC"); v != "" {
		cfg.MQTT.AlertTopic = v
	}
	if v := os.Getenv("FLOW_MONITOR_MQTT_QOS"); v != "" {
		if qos, err := strconv.Atoi(v); err == nil && qos >= 0 && qos <= 2 {
			cfg.MQTT.QoS = byte(qos)
		}
	}
	if v := os.Getenv("FLOW_MONITOR_ADVISORIES_PATH"); v != "" {
		cfg.Advisories.Path = v
	}
}

func parseBool(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}
