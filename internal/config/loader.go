package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ErrNotFound is returned by DiscoverConfigDir when no location has a config.
var ErrNotFound = errors.New("no config found")

// Load reads and parses configuration from a file, or from config.yaml inside
// a directory. Files named in include are merged over the root in order.
func Load(configPath string) (*Config, error) {
	// Resolve to absolute path for consistent relative path resolution
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	cfg := &Config{SourceFiles: make(map[string]string)}
	if err := loadConfigFile(cfg, absPath); err != nil {
		return nil, err
	}

	visited := map[string]bool{absPath: true}
	if err := loadIncludes(cfg, cfg.Include, filepath.Dir(absPath), visited); err != nil {
		return nil, err
	}

	cfg = applyConfigDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadOrDefaults loads configPath, or the discovered config when it is empty.
// With nothing to discover it returns Defaults.
func LoadOrDefaults(configPath string) (*Config, error) {
	if configPath == "" {
		dir, err := DiscoverConfigDir()
		if errors.Is(err, ErrNotFound) {
			return Defaults(), nil
		}
		if err != nil {
			return nil, err
		}
		configPath = dir
	}
	return Load(configPath)
}

// DiscoverConfigDir finds the config directory by checking standard locations.
// Priority order: $TANDEM_CONFIG_DIR, ~/.config/tandem, ./config.yaml
func DiscoverConfigDir() (string, error) {
	if dir := os.Getenv("TANDEM_CONFIG_DIR"); dir != "" {
		if _, err := os.Stat(dir); err == nil {
			return dir, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfigDir := filepath.Join(homeDir, ".config", "tandem")
		if _, err := os.Stat(filepath.Join(userConfigDir, "config.yaml")); err == nil {
			return userConfigDir, nil
		}
	}

	legacyConfigPath := "./config.yaml"
	if _, err := os.Stat(legacyConfigPath); err == nil {
		return legacyConfigPath, nil
	}

	return "", fmt.Errorf("%w (checked: $TANDEM_CONFIG_DIR, ~/.config/tandem, ./config.yaml)", ErrNotFound)
}

func loadIncludes(cfg *Config, includes []string, baseDir string, visited map[string]bool) error {
	for i, includePath := range includes {
		includePath = interpolateEnv(includePath)
		if !filepath.IsAbs(includePath) {
			includePath = filepath.Join(baseDir, includePath)
		}
		absPath, err := filepath.Abs(includePath)
		if err != nil {
			return fmt.Errorf("include[%d]: failed to resolve path %q: %w", i, includePath, err)
		}
		if visited[absPath] {
			return fmt.Errorf("include[%d]: include cycle at %s", i, absPath)
		}
		visited[absPath] = true

		// Includes may not add includes of their own.
		var nested Config
		nested.SourceFiles = cfg.SourceFiles
		if err := loadConfigFile(&nested, absPath); err != nil {
			return fmt.Errorf("include[%d]: %w", i, err)
		}
		if len(nested.Include) > 0 {
			return fmt.Errorf("include[%d]: nested include in %s is not supported", i, absPath)
		}
		if err := yaml.Unmarshal([]byte(cfg.SourceFiles[absPath]), cfg); err != nil {
			return fmt.Errorf("include[%d]: failed to merge %s: %w", i, absPath, err)
		}
	}
	return nil
}

// loadConfigFile decodes path over cfg. Fields absent from the file keep
// their current values, which is what makes includes merge.
func loadConfigFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	expanded := interpolateEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if cfg.SourceFiles != nil {
		cfg.SourceFiles[path] = expanded
	}
	return nil
}

// applyConfigDefaults fills every unset field from Defaults.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}

	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	if cfg.API.ShutdownTimeout == 0 {
		cfg.API.ShutdownTimeout = defaults.API.ShutdownTimeout
	}
	if cfg.API.EventBuffer == 0 {
		cfg.API.EventBuffer = defaults.API.EventBuffer
	}

	if cfg.Engine.Flavor == "" {
		cfg.Engine.Flavor = defaults.Engine.Flavor
	}
	if cfg.Engine.DefaultImage == "" {
		cfg.Engine.DefaultImage = defaults.Engine.DefaultImage
	}
	if cfg.Engine.LayoutSpacing == 0 {
		cfg.Engine.LayoutSpacing = defaults.Engine.LayoutSpacing
	}

	if cfg.Script.Shell == "" {
		cfg.Script.Shell = defaults.Script.Shell
	}
	if cfg.Script.Banner == "" {
		cfg.Script.Banner = defaults.Script.Banner
	}

	if cfg.Workflow.Name == "" {
		cfg.Workflow.Name = defaults.Workflow.Name
	}
	if cfg.Workflow.RunsOn == "" {
		cfg.Workflow.RunsOn = defaults.Workflow.RunsOn
	}
	if cfg.Workflow.Branch == "" {
		cfg.Workflow.Branch = defaults.Workflow.Branch
	}
	return cfg
}

// interpolateEnv replaces ${VAR} with environment values. Unset variables are
// left in place so validate can name them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if f := cfg.Service.LogFormat; f != "json" && f != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", f)
	}

	if cfg.Engine.Flavor != "jobs" && cfg.Engine.Flavor != "script" {
		return fmt.Errorf("engine.flavor must be jobs or script (got %q)", cfg.Engine.Flavor)
	}
	if cfg.Engine.LayoutSpacing < 0 {
		return fmt.Errorf("engine.layout_spacing must not be negative")
	}

	if cfg.API.Enabled && cfg.API.Listen == "" {
		return fmt.Errorf("api.listen is required when api.enabled is true")
	}
	if cfg.API.EventBuffer < 0 {
		return fmt.Errorf("api.event_buffer must not be negative")
	}

	for field, value := range map[string]string{
		"state.path":           cfg.State.Path,
		"engine.default_image": cfg.Engine.DefaultImage,
		"script.banner":        cfg.Script.Banner,
		"workflow.runs_on":     cfg.Workflow.RunsOn,
		"workflow.branch":      cfg.Workflow.Branch,
	} {
		if m := envVarPattern.FindStringSubmatch(value); len(m) > 1 {
			return fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1])
		}
	}
	return nil
}
