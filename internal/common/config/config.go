// Package config provides configuration management for taskbench.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for taskbench.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	NATS    NATSConfig    `mapstructure:"nats"`
	Sandbox SandboxConfig `mapstructure:"sandbox"`
	Agent   AgentConfig   `mapstructure:"agent"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// NATSConfig holds NATS messaging configuration.
// An empty URL selects the in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// SandboxConfig holds execution-context provider configuration.
type SandboxConfig struct {
	// Provider selects the sandbox backend: "sprites" or "docker".
	Provider string `mapstructure:"provider"`

	// SpritesToken is the Sprites API token. Falls back to the
	// SPRITES_API_TOKEN environment variable when empty.
	SpritesToken string `mapstructure:"spritesToken"`

	// NamePrefix is prepended to every sandbox name so stray instances
	// can be identified and cleaned up by operators.
	NamePrefix string `mapstructure:"namePrefix"`

	// Docker settings, used when provider is "docker".
	DockerHost  string `mapstructure:"dockerHost"`
	DockerImage string `mapstructure:"dockerImage"`
}

// AgentConfig holds configuration for the coding-agent server launched
// inside each sandbox.
type AgentConfig struct {
	// Port the agent server binds to inside the sandbox.
	Port int `mapstructure:"port"`

	// WorkspacePath is the fixed clone target inside the sandbox.
	WorkspacePath string `mapstructure:"workspacePath"`

	// CABundlePath overrides the certificate bundle the agent process uses
	// for outbound TLS.
	CABundlePath string `mapstructure:"caBundlePath"`

	// InsecureSkipTLSVerify disables certificate verification for the agent
	// process. Off by default; enabling it is logged loudly at startup.
	InsecureSkipTLSVerify bool `mapstructure:"insecureSkipTlsVerify"`

	// ReadinessAttempts and ReadinessIntervalMs bound how long task creation
	// waits for the agent server to come up.
	ReadinessAttempts   int `mapstructure:"readinessAttempts"`
	ReadinessIntervalMs int `mapstructure:"readinessIntervalMs"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// ReadinessInterval returns the poll interval as a time.Duration.
func (a *AgentConfig) ReadinessInterval() time.Duration {
	return time.Duration(a.ReadinessIntervalMs) * time.Millisecond
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("TASKBENCH_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "taskbench")
	v.SetDefault("nats.maxReconnects", 10)

	// Sandbox defaults
	v.SetDefault("sandbox.provider", "sprites")
	v.SetDefault("sandbox.spritesToken", "")
	v.SetDefault("sandbox.namePrefix", "taskbench-")
	v.SetDefault("sandbox.dockerHost", "unix:///var/run/docker.sock")
	v.SetDefault("sandbox.dockerImage", "taskbench/agent-sandbox:latest")

	// Agent defaults
	v.SetDefault("agent.port", 4096)
	v.SetDefault("agent.workspacePath", "/workspace")
	v.SetDefault("agent.caBundlePath", "")
	v.SetDefault("agent.insecureSkipTlsVerify", false)
	v.SetDefault("agent.readinessAttempts", 30)
	v.SetDefault("agent.readinessIntervalMs", 1000)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix TASKBENCH_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory
// or /etc/taskbench/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("TASKBENCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion, so we
	// explicitly bind keys where env var naming differs from config key naming.
	_ = v.BindEnv("sandbox.spritesToken", "SPRITES_API_TOKEN", "TASKBENCH_SANDBOX_SPRITES_TOKEN")
	_ = v.BindEnv("sandbox.dockerHost", "DOCKER_HOST", "TASKBENCH_SANDBOX_DOCKER_HOST")
	_ = v.BindEnv("agent.caBundlePath", "TASKBENCH_AGENT_CA_BUNDLE_PATH")
	_ = v.BindEnv("agent.insecureSkipTlsVerify", "TASKBENCH_AGENT_INSECURE_SKIP_TLS_VERIFY")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/taskbench/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	switch cfg.Sandbox.Provider {
	case "sprites", "docker":
	default:
		errs = append(errs, "sandbox.provider must be one of: sprites, docker")
	}

	if cfg.Agent.Port <= 0 || cfg.Agent.Port > 65535 {
		errs = append(errs, "agent.port must be between 1 and 65535")
	}
	if cfg.Agent.WorkspacePath == "" {
		errs = append(errs, "agent.workspacePath is required")
	}
	if cfg.Agent.ReadinessAttempts <= 0 {
		errs = append(errs, "agent.readinessAttempts must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
