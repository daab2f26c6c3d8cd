package config

import "time"

// Config represents the complete tandem configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	State    StateConfig    `yaml:"state"`
	API      APIConfig      `yaml:"api,omitempty"`
	Engine   EngineConfig   `yaml:"engine"`
	Script   ScriptConfig   `yaml:"script"`
	Workflow WorkflowConfig `yaml:"workflow"`
	// Include lists further files merged over this one, in order.
	Include []string `yaml:"include,omitempty"`

	// SourceFiles maps every loaded file to its interpolated text.
	SourceFiles map[string]string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// StateConfig defines where session snapshots are stored.
type StateConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Listen          string        `yaml:"listen"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`
	EventBuffer     int           `yaml:"event_buffer,omitempty"`
	// Token, when set, is required as a bearer token on /v1 routes.
	Token string `yaml:"token,omitempty"`
}

// EngineConfig defines defaults for new sessions.
type EngineConfig struct {
	Flavor        string  `yaml:"flavor"`
	DefaultImage  string  `yaml:"default_image"`
	LayoutSpacing float64 `yaml:"layout_spacing"`
}

// ScriptConfig controls the generated script preamble.
type ScriptConfig struct {
	Shell  string `yaml:"shell"`
	Banner string `yaml:"banner"`
}

// WorkflowConfig controls the generated workflow header.
type WorkflowConfig struct {
	Name   string `yaml:"name"`
	RunsOn string `yaml:"runs_on"`
	Branch string `yaml:"branch"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "tandem",
			LogLevel:  "info",
			LogFormat: "json",
		},
		State: StateConfig{
			Path: "./data/tandem.db",
		},
		API: APIConfig{
			Enabled:         false,
			Listen:          "localhost:8080",
			ShutdownTimeout: 10 * time.Second,
			EventBuffer:     256,
		},
		Engine: EngineConfig{
			Flavor:        "jobs",
			DefaultImage:  "alpine:latest",
			LayoutSpacing: 220,
		},
		Script: ScriptConfig{
			Shell:  "#!/usr/bin/env bash",
			Banner: `echo "Starting pipeline..."`,
		},
		Workflow: WorkflowConfig{
			Name:   "CI",
			RunsOn: "ubuntu-latest",
			Branch: "main",
		},
	}
}
