// Package config loads driftlinkd's daemon configuration: the mapping list,
// debounce window, and agent child-process command. Grounded on the
// teacher's internal/client/config/config.go (JSON-tagged Config struct,
// Save/LoadClientConfig) and cmd/client/main.go's loadConfig (viper config
// file search path, cobra flag binding, SYFTBOX_ env-var prefix).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/openmined/driftlink/internal/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// DefaultDebounceMillis is the flush delay applied to local filesystem
// event bursts when the config omits debounce_millis.
const DefaultDebounceMillis = 150

// DefaultConfigName/DefaultConfigType name the config file viper searches
// for when no --config flag is given.
const (
	DefaultConfigName = "config"
	DefaultConfigType = "json"
)

// DefaultConfigDir returns ~/.driftlink, the primary config search location.
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".driftlink"), nil
}

// DefaultConfigPath returns ~/.driftlink/config.json.
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultConfigName+"."+DefaultConfigType), nil
}

// MappingEntry is one local-root/remote-root pair as read from the config
// file, prior to path resolution by internal/mapping.
type MappingEntry struct {
	LocalRoot  string `json:"local_root" mapstructure:"local_root"`
	RemoteRoot string `json:"remote_root" mapstructure:"remote_root"`
}

// Config is driftlinkd's daemon configuration.
type Config struct {
	Mappings       []MappingEntry `json:"mappings" mapstructure:"mappings"`
	DebounceMillis int            `json:"debounce_millis,omitempty" mapstructure:"debounce_millis"`
	AgentCommand   string         `json:"agent_command" mapstructure:"agent_command"`
	AgentArgs      []string       `json:"agent_args" mapstructure:"agent_args"`
	IgnoreFile     string         `json:"ignore_file" mapstructure:"ignore_file"`

	// Path is the file the config was loaded from, or "" if defaults only.
	// Not persisted.
	Path string `json:"-" mapstructure:"-"`
}

// Pairs converts the config's mapping entries into the [2]string pairs
// internal/mapping.New expects.
func (c *Config) Pairs() [][2]string {
	pairs := make([][2]string, len(c.Mappings))
	for i, m := range c.Mappings {
		pairs[i] = [2]string{m.LocalRoot, m.RemoteRoot}
	}
	return pairs
}

// Validate rejects configs the engine cannot run with.
func (c *Config) Validate() error {
	if len(c.Mappings) == 0 {
		return errors.New("config: at least one mapping is required")
	}
	for i, m := range c.Mappings {
		if m.LocalRoot == "" {
			return fmt.Errorf("config: mapping %d missing local_root", i)
		}
		if m.RemoteRoot == "" {
			return fmt.Errorf("config: mapping %d missing remote_root", i)
		}
	}
	if c.DebounceMillis <= 0 {
		return errors.New("config: debounce_millis must be positive")
	}
	if c.AgentCommand == "" {
		return errors.New("config: agent_command is required")
	}
	return nil
}

// Save writes c to path as indented JSON, creating parent directories as
// needed.
func (c *Config) Save(path string) error {
	if err := utils.EnsureParent(path); err != nil {
		return fmt.Errorf("ensure config dir: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %q: %w", path, err)
	}
	return nil
}

// BindFlags registers the cobra flags Load binds to viper keys. Call once
// on the root command before Execute.
func BindFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringP("config", "c", "", "path to driftlink config file (default ~/.driftlink/config.json)")
	cmd.PersistentFlags().Int("debounce-millis", DefaultDebounceMillis, "local filesystem event debounce window, in milliseconds")
	cmd.PersistentFlags().String("agent-command", "", "agent child process command")
}

// Load resolves the config file (via --config, else ~/.driftlink, else
// ~/.config/driftlink), reads it with viper, layers in flag and
// DRIFTLINK_-prefixed environment overrides, and validates the result.
func Load(cmd *cobra.Command) (*Config, error) {
	v := viper.New()

	configPath, _ := cmd.Flags().GetString("config")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		v.AddConfigPath(filepath.Join(home, ".driftlink"))
		v.AddConfigPath(filepath.Join(home, ".config", "driftlink"))
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType(DefaultConfigType)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %q: %w", v.ConfigFileUsed(), err)
		}
	}

	if err := v.BindPFlag("debounce_millis", cmd.Flags().Lookup("debounce-millis")); err != nil {
		return nil, fmt.Errorf("bind debounce-millis flag: %w", err)
	}
	if err := v.BindPFlag("agent_command", cmd.Flags().Lookup("agent-command")); err != nil {
		return nil, fmt.Errorf("bind agent-command flag: %w", err)
	}

	v.SetEnvPrefix("DRIFTLINK")
	v.AutomaticEnv()
	v.SetDefault("debounce_millis", DefaultDebounceMillis)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Path = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
