// Package config provides YAML-based configuration loading for cohost.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Heartbeat timeout bounds, in milliseconds.
const (
	DefaultTimeoutMs = 30000
	MinTimeoutMs     = 1000
	MaxTimeoutMs     = 300000
)

// Config is the top-level cohost configuration, loaded from cohost.yaml.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Audio     AudioConfig     `yaml:"audio"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Server    ServerConfig    `yaml:"server"`
	Notify    NotifyConfig    `yaml:"notify"`
	Queue     QueueConfig     `yaml:"queue"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
}

// DatabaseConfig selects and locates the relational store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite (default) or mysql
	Path   string `yaml:"path"`   // sqlite file
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	User   string `yaml:"user"`
	Name   string `yaml:"name"`
}

// AudioConfig locates the track files.
type AudioConfig struct {
	Dir string `yaml:"dir"`
}

// HeartbeatConfig holds the liveness policy.
type HeartbeatConfig struct {
	TimeoutMs     int    `yaml:"timeout_ms"`
	SweepSchedule string `yaml:"sweep_schedule"` // cron expression; empty disables the scheduler
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// NotifyConfig configures session:completed delivery. Every configured
// target receives each event.
type NotifyConfig struct {
	Command          string `yaml:"command"`
	NatsURL          string `yaml:"nats_url"`
	NatsSubject      string `yaml:"nats_subject"`
	SlackToken       string `yaml:"slack_token"`
	SlackChannel     string `yaml:"slack_channel"`
	DiscordToken     string `yaml:"discord_token"`
	DiscordChannel   string `yaml:"discord_channel"`
	PublishTimeoutMs int    `yaml:"publish_timeout_ms"`
}

// QueueConfig selects the durable store for the offline transcript queue.
type QueueConfig struct {
	Backend   string `yaml:"backend"` // file (default), redis, nats
	Path      string `yaml:"path"`
	Key       string `yaml:"key"`
	RedisAddr string `yaml:"redis_addr"`
	NatsURL   string `yaml:"nats_url"`
	Bucket    string `yaml:"bucket"`
	ServerURL string `yaml:"server_url"`
}

// UpstreamConfig holds the realtime provider credential.
type UpstreamConfig struct {
	APIKey string `yaml:"api_key"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ClampTimeoutMs bounds a heartbeat timeout to [MinTimeoutMs, MaxTimeoutMs],
// substituting the default for zero.
func ClampTimeoutMs(ms int) int {
	switch {
	case ms == 0:
		return DefaultTimeoutMs
	case ms < MinTimeoutMs:
		return MinTimeoutMs
	case ms > MaxTimeoutMs:
		return MaxTimeoutMs
	}
	return ms
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "cohost.db"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
		if c.Database.Name == "" {
			c.Database.Name = "cohost"
		}
	}
	if c.Audio.Dir == "" {
		c.Audio.Dir = "recordings"
	}
	c.Heartbeat.TimeoutMs = ClampTimeoutMs(c.Heartbeat.TimeoutMs)
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Notify.NatsURL != "" && c.Notify.NatsSubject == "" {
		c.Notify.NatsSubject = "cohost.session.completed"
	}
	if c.Notify.PublishTimeoutMs <= 0 {
		c.Notify.PublishTimeoutMs = 5000
	}
	if c.Queue.Backend == "" {
		c.Queue.Backend = "file"
	}
	if c.Queue.Backend == "file" && c.Queue.Path == "" {
		c.Queue.Path = ".cohost-queue"
	}
	if c.Queue.Key == "" {
		c.Queue.Key = "pending-transcript"
	}
	if c.Queue.Backend == "nats" && c.Queue.Bucket == "" {
		c.Queue.Bucket = "cohost_queue"
	}
	if c.Queue.ServerURL == "" {
		c.Queue.ServerURL = fmt.Sprintf("http://localhost:%d", c.Server.Port)
	}
	if c.Upstream.APIKey == "" {
		c.Upstream.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported (sqlite, mysql)", c.Database.Driver))
	}
	switch c.Queue.Backend {
	case "file":
	case "redis":
		if c.Queue.RedisAddr == "" {
			errs = append(errs, "queue.redis_addr is required for the redis backend")
		}
	case "nats":
		if c.Queue.NatsURL == "" {
			errs = append(errs, "queue.nats_url is required for the nats backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("queue.backend %q is not supported (file, redis, nats)", c.Queue.Backend))
	}
	if (c.Notify.SlackToken == "") != (c.Notify.SlackChannel == "") {
		errs = append(errs, "notify.slack_token and notify.slack_channel must be set together")
	}
	if (c.Notify.DiscordToken == "") != (c.Notify.DiscordChannel == "") {
		errs = append(errs, "notify.discord_token and notify.discord_channel must be set together")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
