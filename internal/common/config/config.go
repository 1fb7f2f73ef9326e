// Package config provides configuration management for the orchestra engine.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the engine.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Projects ProjectsConfig `mapstructure:"projects"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Sandbox  SandboxConfig  `mapstructure:"sandbox"`
	Docker   DockerConfig   `mapstructure:"docker"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
	ReadTimeout    int      `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout   int      `mapstructure:"writeTimeout"` // in seconds; 0 keeps long-polls and websockets open
}

// ProjectsConfig holds working-directory configuration.
type ProjectsConfig struct {
	// Dir is the directory under which per-task working directories are created.
	Dir string `mapstructure:"dir"`

	// BrowseRoot is the root directory exposed to the filesystem-browse routes.
	BrowseRoot string `mapstructure:"browseRoot"`
}

// AgentConfig holds agent CLI configuration.
type AgentConfig struct {
	// Binary is the agent CLI invoked for every agent subprocess.
	Binary string `mapstructure:"binary"`

	// DefaultModel is the model tag passed to agents that don't specify one.
	DefaultModel string `mapstructure:"defaultModel"`

	// SidechannelBinary is the path of the stdio bridge the agent spawns.
	// Empty resolves to a "sidechannel" binary next to the server executable,
	// falling back to PATH lookup.
	SidechannelBinary string `mapstructure:"sidechannelBinary"`

	// RolesOverlay is an optional YAML file of extra or replacement agent
	// roles merged over the embedded catalog at startup.
	RolesOverlay string `mapstructure:"rolesOverlay"`
}

// SandboxConfig holds sandbox policy configuration.
type SandboxConfig struct {
	// AllowHost opts in to running agents directly on an unconfined host.
	AllowHost bool `mapstructure:"allowHost"`
}

// DockerConfig holds Docker client configuration.
type DockerConfig struct {
	Host       string `mapstructure:"host"`
	APIVersion string `mapstructure:"apiVersion"`

	// Image is the container image used when the sandbox mode is container-wrap.
	Image string `mapstructure:"image"`
}

// NATSConfig holds NATS messaging configuration.
// An empty URL selects the in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
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

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.allowedOrigins", []string{
		"http://localhost:5173",
		"http://localhost:3000",
	})
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 0)

	// Projects defaults
	v.SetDefault("projects.dir", "~/orchestra-projects")
	v.SetDefault("projects.browseRoot", "~")

	// Agent defaults
	v.SetDefault("agent.binary", "claude")
	v.SetDefault("agent.defaultModel", "sonnet")
	v.SetDefault("agent.sidechannelBinary", "")
	v.SetDefault("agent.rolesOverlay", "")

	// Sandbox defaults
	v.SetDefault("sandbox.allowHost", false)

	// Docker defaults - empty host uses the SDK's environment resolution
	v.SetDefault("docker.host", "")
	v.SetDefault("docker.apiVersion", "")
	v.SetDefault("docker.image", "agent-orchestra-runner:latest")

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "orchestra")
	v.SetDefault("nats.maxReconnects", 10)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "auto")
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix ORCHESTRA_ with snake_case naming.
// The config file is config.yaml in the current directory, ./config,
// ~/.orchestra, or /etc/orchestra.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("ORCHESTRA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for camelCase config keys; AutomaticEnv does not
	// convert camelCase to SNAKE_CASE.
	_ = v.BindEnv("server.allowedOrigins", "ORCHESTRA_ALLOWED_ORIGINS")
	_ = v.BindEnv("projects.browseRoot", "ORCHESTRA_BROWSE_ROOT")
	_ = v.BindEnv("agent.defaultModel", "ORCHESTRA_DEFAULT_MODEL")
	_ = v.BindEnv("agent.rolesOverlay", "ORCHESTRA_ROLES_OVERLAY")
	_ = v.BindEnv("agent.sidechannelBinary", "ORCHESTRA_SIDECHANNEL_BINARY")
	_ = v.BindEnv("sandbox.allowHost", "ORCHESTRA_ALLOW_HOST")
	_ = v.BindEnv("docker.apiVersion", "ORCHESTRA_DOCKER_API_VERSION")
	_ = v.BindEnv("docker.image", "ORCHESTRA_DOCKER_IMAGE")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("$HOME/.orchestra")
	v.AddConfigPath("/etc/orchestra/")

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

	normalize(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// normalize expands home-relative paths and splits comma-separated origin
// lists that arrive through a single environment variable.
func normalize(cfg *Config) {
	cfg.Projects.Dir = expandHome(cfg.Projects.Dir)
	cfg.Projects.BrowseRoot = expandHome(cfg.Projects.BrowseRoot)

	origins := make([]string, 0, len(cfg.Server.AllowedOrigins))
	for _, entry := range cfg.Server.AllowedOrigins {
		for _, p := range strings.Split(entry, ",") {
			if p = strings.TrimSpace(p); p != "" {
				origins = append(origins, p)
			}
		}
	}
	cfg.Server.AllowedOrigins = origins
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Projects.Dir == "" {
		errs = append(errs, "projects.dir is required")
	}

	if cfg.Agent.Binary == "" {
		errs = append(errs, "agent.binary is required")
	}

	if cfg.Docker.Image == "" {
		errs = append(errs, "docker.image is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true, "console": true, "auto": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text, auto")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
