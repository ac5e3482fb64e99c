package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FLYCLI"

// Keys understood by Load. Flags with these names are bound automatically.
const (
	KeyPort           = "port"
	KeyAppPort        = "app-port"
	KeyWorkspace      = "workspace"
	KeySilent         = "silent"
	KeyVerbose        = "verbose"
	KeyPanelDir       = "panel-dir"
	KeyModel          = "agent.model"
	KeyMaxSteps       = "agent.max-steps"
	KeyMaxTokens      = "agent.max-tokens"
	KeyTemperature    = "agent.temperature"
	KeyTurnTimeout    = "agent.turn-timeout"
	KeySearchTimeout  = "tools.search-timeout"
	KeyExecTimeout    = "tools.exec-timeout"
	KeyRipgrep        = "tools.ripgrep"
	KeyInjectLauncher = "proxy.inject-launcher"
	KeyWatch          = "watch.enabled"
	KeyWatchDebounce  = "watch.debounce"
)

// flagKeys maps flag names that differ from their config key.
var flagKeys = map[string]string{
	"model":           KeyModel,
	"max-steps":       KeyMaxSteps,
	"inject-launcher": KeyInjectLauncher,
	"watch":           KeyWatch,
}

// Load resolves the configuration. flags may be nil.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	cfg := Default()
	if ws := v.GetString(KeyWorkspace); ws != "" {
		cfg.Workspace = ws
	}
	abs, err := filepath.Abs(cfg.Workspace)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWorkspace, err)
	}
	cfg.Workspace = abs

	if path := FindConfigFile(cfg.Workspace); path != "" {
		fc, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		if err := fc.Apply(cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		cfg.File = path
	}

	setDefaults(v, cfg)

	cfg.Port = v.GetInt(KeyPort)
	cfg.AppPort = v.GetInt(KeyAppPort)
	cfg.AppPortSet = cfg.AppPortSet || explicit(flags, KeyAppPort)
	cfg.Silent = v.GetBool(KeySilent)
	cfg.Verbose = v.GetBool(KeyVerbose)
	cfg.PanelDir = v.GetString(KeyPanelDir)
	cfg.Agent.Model = v.GetString(KeyModel)
	cfg.Agent.MaxSteps = v.GetInt(KeyMaxSteps)
	cfg.Agent.MaxTokens = v.GetInt(KeyMaxTokens)
	cfg.Agent.Temperature = v.GetFloat64(KeyTemperature)
	cfg.Tools.Ripgrep = v.GetBool(KeyRipgrep)
	cfg.Proxy.InjectLauncher = v.GetBool(KeyInjectLauncher)
	cfg.Watch.Enabled = v.GetBool(KeyWatch)

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{KeyTurnTimeout, &cfg.Agent.TurnTimeout},
		{KeySearchTimeout, &cfg.Tools.SearchTimeout},
		{KeyExecTimeout, &cfg.Tools.ExecTimeout},
		{KeyWatchDebounce, &cfg.Watch.Debounce},
	}
	for _, d := range durations {
		if err := setDuration(d.dst, d.key, v.GetString(d.key)); err != nil {
			return nil, err
		}
	}

	if cfg.PanelDir != "" && !filepath.IsAbs(cfg.PanelDir) {
		cfg.PanelDir = filepath.Join(cfg.Workspace, cfg.PanelDir)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault(KeyPort, cfg.Port)
	v.SetDefault(KeyAppPort, cfg.AppPort)
	v.SetDefault(KeySilent, cfg.Silent)
	v.SetDefault(KeyVerbose, cfg.Verbose)
	v.SetDefault(KeyPanelDir, cfg.PanelDir)
	v.SetDefault(KeyModel, cfg.Agent.Model)
	v.SetDefault(KeyMaxSteps, cfg.Agent.MaxSteps)
	v.SetDefault(KeyMaxTokens, cfg.Agent.MaxTokens)
	v.SetDefault(KeyTemperature, cfg.Agent.Temperature)
	v.SetDefault(KeyTurnTimeout, cfg.Agent.TurnTimeout.String())
	v.SetDefault(KeySearchTimeout, cfg.Tools.SearchTimeout.String())
	v.SetDefault(KeyExecTimeout, cfg.Tools.ExecTimeout.String())
	v.SetDefault(KeyRipgrep, cfg.Tools.Ripgrep)
	v.SetDefault(KeyInjectLauncher, cfg.Proxy.InjectLauncher)
	v.SetDefault(KeyWatch, cfg.Watch.Enabled)
	v.SetDefault(KeyWatchDebounce, cfg.Watch.Debounce.String())
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		key := f.Name
		if k, ok := flagKeys[key]; ok {
			key = k
		}
		err = v.BindPFlag(key, f)
	})
	return err
}

// explicit reports whether key was set by a changed flag or the environment.
func explicit(flags *pflag.FlagSet, key string) bool {
	if flags != nil {
		name := key
		for flag, k := range flagKeys {
			if k == key {
				name = flag
			}
		}
		if f := flags.Lookup(name); f != nil && f.Changed {
			return true
		}
	}
	env := EnvPrefix + "_" + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
	_, ok := os.LookupEnv(env)
	return ok
}
