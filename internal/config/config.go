// Package config provides configuration management for streamrtd using
// Viper: SetDefaults before any read, a single mapstructure-tagged
// Config tree, Load for the full file+env+defaults pipeline, and a
// Validate pass before the config is trusted.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultReadyTimeout = 5 * time.Second
	defaultJoinTimeout  = 10 * time.Second
	defaultLinkCapacity = 16
)

// Config holds all configuration for streamrtd.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Runtime RuntimeConfig `mapstructure:"runtime"`
	Graph   GraphConfig   `mapstructure:"graph"`
}

// LoggingConfig holds logging configuration, consumed by
// internal/observability.NewLogger.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// RuntimeConfig holds the runtime's tuning knobs: how long the compiler
// waits for newly started processors to signal ready, how long it waits
// for stopped processors to join, and the link capacity the run command
// gives every declared link that sets no capacity of its own (a zero
// value leaves the source port descriptor's default in effect).
type RuntimeConfig struct {
	ReadyTimeout        time.Duration `mapstructure:"ready_timeout"`
	JoinTimeout         time.Duration `mapstructure:"join_timeout"`
	DefaultLinkCapacity int           `mapstructure:"default_link_capacity"`
}

// GraphConfig is the declarative graph description the `streamrt run`
// command loads: the set of processors to declare and the links to wire
// between them, giving the CLI a config-file bootstrap path alongside
// the programmatic façade API.
type GraphConfig struct {
	Processors []ProcessorConfig `mapstructure:"processors"`
	Links      []LinkConfig      `mapstructure:"links"`
}

// ProcessorConfig declares one node: the factory type tag to construct it
// from and its opaque config payload, handed through unmodified to the
// processor's Factory at construction and to Instance.UpdateConfig.
type ProcessorConfig struct {
	// Name is a user-facing label unique within the file, used to resolve
	// LinkConfig.From/To references; it is not the graph's own NodeID
	// (that is minted fresh by facade.AddProcessor at load time).
	Name   string         `mapstructure:"name"`
	Type   string         `mapstructure:"type"`
	Config map[string]any `mapstructure:"config"`
}

// LinkConfig declares one link by "processor_name.port_name" endpoint
// references, resolved against the Name fields above when the graph is
// loaded.
type LinkConfig struct {
	From     string `mapstructure:"from"`
	To       string `mapstructure:"to"`
	Capacity int    `mapstructure:"capacity"`
}

// Endpoint splits a "name.port" reference into its two parts. It returns
// an error if the reference does not contain exactly one dot-separated
// port suffix.
func Endpoint(ref string) (name, port string, err error) {
	parts := strings.SplitN(ref, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("config: %q is not a valid \"processor.port\" reference", ref)
	}
	return parts[0], parts[1], nil
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration and are
// prefixed with STREAMRT_, using underscores for nesting (e.g.
// STREAMRT_RUNTIME_READY_TIMEOUT=10s).
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("streamrt")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/streamrt")
		v.AddConfigPath("$HOME/.streamrt")
	}

	v.SetEnvPrefix("STREAMRT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// Must be called before reading the config file so file/env values can
// override them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("runtime.ready_timeout", defaultReadyTimeout)
	v.SetDefault("runtime.join_timeout", defaultJoinTimeout)
	v.SetDefault("runtime.default_link_capacity", defaultLinkCapacity)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}
	if c.Runtime.ReadyTimeout <= 0 {
		return fmt.Errorf("runtime.ready_timeout must be positive")
	}
	if c.Runtime.JoinTimeout <= 0 {
		return fmt.Errorf("runtime.join_timeout must be positive")
	}
	if c.Runtime.DefaultLinkCapacity < 1 {
		return fmt.Errorf("runtime.default_link_capacity must be at least 1")
	}

	seen := make(map[string]bool, len(c.Graph.Processors))
	for _, p := range c.Graph.Processors {
		if p.Name == "" {
			return fmt.Errorf("graph.processors: every entry needs a name")
		}
		if p.Type == "" {
			return fmt.Errorf("graph.processors[%s]: type is required", p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("graph.processors: duplicate name %q", p.Name)
		}
		seen[p.Name] = true
	}
	for _, l := range c.Graph.Links {
		fromName, _, err := Endpoint(l.From)
		if err != nil {
			return fmt.Errorf("graph.links: from: %w", err)
		}
		toName, _, err := Endpoint(l.To)
		if err != nil {
			return fmt.Errorf("graph.links: to: %w", err)
		}
		if !seen[fromName] {
			return fmt.Errorf("graph.links: from references unknown processor %q", fromName)
		}
		if !seen[toName] {
			return fmt.Errorf("graph.links: to references unknown processor %q", toName)
		}
	}

	return nil
}
