// Package config loads flycli settings from defaults, a .flycli.kdl file,
// FLYCLI_* environment variables and command-line flags, in that order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"
)

var (
	// ErrSamePort is returned when the control port equals the app port.
	ErrSamePort = errors.New("port and app-port must differ")
	// ErrInvalidPort is returned for a port outside 1-65535.
	ErrInvalidPort = errors.New("invalid port")
	// ErrWorkspace is returned when the workspace is missing or not a directory.
	ErrWorkspace = errors.New("invalid workspace")
	// ErrInvalidDuration is returned for an unparsable or non-positive duration.
	ErrInvalidDuration = errors.New("invalid duration")
	// ErrInvalidValue is returned for other out-of-range settings.
	ErrInvalidValue = errors.New("invalid value")
)

// Defaults.
const (
	DefaultPort          = 3100
	DefaultAppPort       = 3000
	DefaultModel         = "anthropic/claude-sonnet-4.5"
	DefaultMaxSteps      = 20
	DefaultMaxTokens     = 8192
	DefaultTemperature   = 0.1
	DefaultTurnTimeout   = 10 * time.Minute
	DefaultSearchTimeout = 30 * time.Second
	DefaultExecTimeout   = 60 * time.Second
	DefaultWatchDebounce = 250 * time.Millisecond
)

// Config is the resolved flycli configuration.
type Config struct {
	// Port the control server listens on.
	Port int `json:"port"`
	// AppPort is where the user's application listens.
	AppPort int `json:"appPort"`
	// AppPortSet is true when the app port was configured explicitly rather
	// than defaulted. When false, a wrapped command's port may be detected.
	AppPortSet bool `json:"-"`
	// Workspace is the absolute project root the tools operate on.
	Workspace string `json:"workspace"`
	Silent    bool   `json:"silent"`
	Verbose   bool   `json:"verbose"`
	// PanelDir overrides the embedded panel assets.
	PanelDir string `json:"panelDir,omitempty"`

	Agent AgentConfig `json:"agent"`
	Tools ToolsConfig `json:"tools"`
	Proxy ProxyConfig `json:"proxy"`
	Watch WatchConfig `json:"watch"`

	// File is the config file that was loaded, if any.
	File string `json:"file,omitempty"`
}

// AgentConfig tunes chat turns.
type AgentConfig struct {
	Model       string        `json:"model"`
	MaxSteps    int           `json:"maxSteps"`
	MaxTokens   int           `json:"maxTokens"`
	Temperature float64       `json:"temperature"`
	TurnTimeout time.Duration `json:"turnTimeout"`
}

// ToolsConfig tunes the tool sandbox and command executor.
type ToolsConfig struct {
	SearchTimeout time.Duration `json:"searchTimeout"`
	ExecTimeout   time.Duration `json:"execTimeout"`
	Ripgrep       bool          `json:"ripgrep"`
}

// ProxyConfig tunes the reverse proxy.
type ProxyConfig struct {
	// InjectLauncher adds a floating panel launcher to proxied HTML pages.
	InjectLauncher bool `json:"injectLauncher"`
}

// WatchConfig controls pushing file lists when the workspace changes.
type WatchConfig struct {
	Enabled  bool          `json:"enabled"`
	Debounce time.Duration `json:"debounce"`
}

// Default returns the built-in configuration rooted at the current
// directory.
func Default() *Config {
	wd, _ := os.Getwd()
	return &Config{
		Port:      DefaultPort,
		AppPort:   DefaultAppPort,
		Workspace: wd,
		Agent: AgentConfig{
			Model:       DefaultModel,
			MaxSteps:    DefaultMaxSteps,
			MaxTokens:   DefaultMaxTokens,
			Temperature: DefaultTemperature,
			TurnTimeout: DefaultTurnTimeout,
		},
		Tools: ToolsConfig{
			SearchTimeout: DefaultSearchTimeout,
			ExecTimeout:   DefaultExecTimeout,
			Ripgrep:       true,
		},
		Watch: WatchConfig{Debounce: DefaultWatchDebounce},
	}
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d", ErrInvalidPort, c.Port)
	}
	if c.AppPort < 1 || c.AppPort > 65535 {
		return fmt.Errorf("%w: app-port %d", ErrInvalidPort, c.AppPort)
	}
	if c.Port == c.AppPort {
		return fmt.Errorf("%w: both are %d", ErrSamePort, c.Port)
	}

	info, err := os.Stat(c.Workspace)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWorkspace, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrWorkspace, c.Workspace)
	}

	durations := []struct {
		key string
		d   time.Duration
	}{
		{"agent.turn-timeout", c.Agent.TurnTimeout},
		{"tools.search-timeout", c.Tools.SearchTimeout},
		{"tools.exec-timeout", c.Tools.ExecTimeout},
		{"watch.debounce", c.Watch.Debounce},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidDuration, d.key)
		}
	}

	if c.Agent.MaxSteps <= 0 {
		return fmt.Errorf("%w: agent.max-steps must be positive", ErrInvalidValue)
	}
	if c.Agent.MaxTokens <= 0 {
		return fmt.Errorf("%w: agent.max-tokens must be positive", ErrInvalidValue)
	}
	if c.Agent.Temperature < 0 || c.Agent.Temperature > 2 {
		return fmt.Errorf("%w: agent.temperature %.2f outside 0-2", ErrInvalidValue, c.Agent.Temperature)
	}
	return nil
}
