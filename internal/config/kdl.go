package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	kdl "github.com/sblinch/kdl-go"
)

// FileName is the project configuration file.
const FileName = ".flycli.kdl"

// ErrConfigExists is returned by WriteDefault when the file already exists.
var ErrConfigExists = errors.New("config file already exists")

// FileConfig mirrors .flycli.kdl. Unset fields leave the lower layer alone.
type FileConfig struct {
	Port     int        `kdl:"port"`
	AppPort  int        `kdl:"app-port"`
	PanelDir string     `kdl:"panel-dir"`
	Silent   *bool      `kdl:"silent"`
	Verbose  *bool      `kdl:"verbose"`
	Agent    *fileAgent `kdl:"agent"`
	Tools    *fileTools `kdl:"tools"`
	Proxy    *fileProxy `kdl:"proxy"`
	Watch    *fileWatch `kdl:"watch"`
}

type fileAgent struct {
	Model       string   `kdl:"model"`
	MaxSteps    int      `kdl:"max-steps"`
	MaxTokens   int      `kdl:"max-tokens"`
	Temperature *float64 `kdl:"temperature"`
	TurnTimeout string   `kdl:"turn-timeout"`
}

type fileTools struct {
	SearchTimeout string `kdl:"search-timeout"`
	ExecTimeout   string `kdl:"exec-timeout"`
	Ripgrep       *bool  `kdl:"ripgrep"`
}

type fileProxy struct {
	InjectLauncher *bool `kdl:"inject-launcher"`
}

type fileWatch struct {
	Enabled  *bool  `kdl:"enabled"`
	Debounce string `kdl:"debounce"`
}

// FindConfigFile searches for .flycli.kdl starting from dir and walking up.
func FindConfigFile(dir string) string {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(absDir, FileName)
		if info, err := os.Stat(configPath); err == nil && !info.IsDir() {
			return configPath
		}

		parent := filepath.Dir(absDir)
		if parent == absDir {
			// Reached root
			break
		}
		absDir = parent
	}

	return ""
}

// LoadFile reads and parses a config file.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	fc, err := ParseFile(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return fc, nil
}

// ParseFile parses KDL configuration data.
func ParseFile(data []byte) (*FileConfig, error) {
	var fc FileConfig
	if err := kdl.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse kdl: %w", err)
	}
	return &fc, nil
}

// Apply overlays the file's settings onto cfg.
func (fc *FileConfig) Apply(cfg *Config) error {
	if fc.Port != 0 {
		cfg.Port = fc.Port
	}
	if fc.AppPort != 0 {
		cfg.AppPort = fc.AppPort
		cfg.AppPortSet = true
	}
	if fc.PanelDir != "" {
		cfg.PanelDir = fc.PanelDir
	}
	if fc.Silent != nil {
		cfg.Silent = *fc.Silent
	}
	if fc.Verbose != nil {
		cfg.Verbose = *fc.Verbose
	}

	if a := fc.Agent; a != nil {
		if a.Model != "" {
			cfg.Agent.Model = a.Model
		}
		if a.MaxSteps != 0 {
			cfg.Agent.MaxSteps = a.MaxSteps
		}
		if a.MaxTokens != 0 {
			cfg.Agent.MaxTokens = a.MaxTokens
		}
		if a.Temperature != nil {
			cfg.Agent.Temperature = *a.Temperature
		}
		if err := setDuration(&cfg.Agent.TurnTimeout, "agent.turn-timeout", a.TurnTimeout); err != nil {
			return err
		}
	}
	if t := fc.Tools; t != nil {
		if err := setDuration(&cfg.Tools.SearchTimeout, "tools.search-timeout", t.SearchTimeout); err != nil {
			return err
		}
		if err := setDuration(&cfg.Tools.ExecTimeout, "tools.exec-timeout", t.ExecTimeout); err != nil {
			return err
		}
		if t.Ripgrep != nil {
			cfg.Tools.Ripgrep = *t.Ripgrep
		}
	}
	if p := fc.Proxy; p != nil && p.InjectLauncher != nil {
		cfg.Proxy.InjectLauncher = *p.InjectLauncher
	}
	if w := fc.Watch; w != nil {
		if w.Enabled != nil {
			cfg.Watch.Enabled = *w.Enabled
		}
		if err := setDuration(&cfg.Watch.Debounce, "watch.debounce", w.Debounce); err != nil {
			return err
		}
	}
	return nil
}

func setDuration(dst *time.Duration, key, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidDuration, key, err)
	}
	*dst = d
	return nil
}

const defaultKDL = `// flycli configuration
// Environment variables (FLYCLI_PORT, FLYCLI_AGENT_MODEL, ...) and flags
// override anything set here.

port 3100
// Set to skip port detection for a wrapped dev server
// app-port 3000

agent {
    // Any model id from the panel's model list
    model "anthropic/claude-sonnet-4.5"
    max-steps 20
    max-tokens 8192
    temperature 0.1
    turn-timeout "10m"
}

tools {
    search-timeout "30s"
    exec-timeout "60s"
    // Use ripgrep for searchText when it is on PATH
    ripgrep true
}

proxy {
    // Add a floating panel launcher to proxied HTML pages
    inject-launcher false
}

watch {
    // Push the file list to connected panels when the workspace changes
    enabled false
    debounce "250ms"
}
`

// WriteDefault writes a documented default config file into dir and
// returns its path.
func WriteDefault(dir string) (string, error) {
	path := filepath.Join(dir, FileName)
	if _, err := os.Stat(path); err == nil {
		return path, fmt.Errorf("%w: %s", ErrConfigExists, path)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return path, os.WriteFile(path, []byte(strings.TrimSpace(defaultKDL)+"\n"), 0644)
}
