/*
Package config manages the TOML config for hound.

The file holds server options, index defaults, the parameter values used to
expand dataset URL templates, and one [[dataset]] table per suggestion index:

	[index]
	base_url = "http://localhost:8080"
	ttl_seconds = 86400

	[params]
	server = "1"
	environment = "production"

	[[dataset]]
	name = "puppet_plans"
	url = "/config/puppetServer/{server}/apiPlans/{environment}"
	tokenizer = "nonword"
	transform = "plans"
	limit = 10
*/
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bastiangx/hound/internal/utils"
	"github.com/bastiangx/hound/pkg/source"
	"github.com/bastiangx/hound/pkg/suggest"
	"github.com/charmbracelet/log"
)

// Config holds the entire config structure
type Config struct {
	Server   ServerConfig      `toml:"server"`
	Index    IndexConfig       `toml:"index"`
	CLI      CliConfig         `toml:"cli"`
	Params   map[string]string `toml:"params"`
	Datasets []DatasetConfig   `toml:"dataset"`
}

// ServerConfig has server related options.
type ServerConfig struct {
	Listen   string `toml:"listen"`
	MaxLimit int    `toml:"max_limit"`
	MaxQuery int    `toml:"max_query"`
}

// IndexConfig holds defaults shared by every index.
type IndexConfig struct {
	BaseURL         string `toml:"base_url"`
	TTLSeconds      int    `toml:"ttl_seconds"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	PrefetchOnStart bool   `toml:"prefetch_on_start"`
}

// CliConfig holds cli interface options.
type CliConfig struct {
	DefaultLimit int `toml:"default_limit"`
}

// DatasetConfig describes one suggestion index.
type DatasetConfig struct {
	Name      string `toml:"name"`
	URL       string `toml:"url"`
	Tokenizer string `toml:"tokenizer"`
	Transform string `toml:"transform"`
	Limit     int    `toml:"limit"`
}

// TTL returns the freshness window of a prefetched dataset. Zero leaves the
// index default of 24h; a negative value means datasets never expire on
// their own.
func (c IndexConfig) TTL() time.Duration {
	if c.TTLSeconds < 0 {
		return -1
	}
	return time.Duration(c.TTLSeconds) * time.Second
}

// Timeout returns the per-fetch timeout.
func (c IndexConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// GetConfigDir returns the config directory with fallback priority:
// 1. ~/.config/
// 2. ~/Library/Application Support/ (macOS)
// 3. Current executable dir
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		log.Errorf("Failed to get home directory: %v", err)
		return utils.GetExecutableDir()
	}
	primaryPath := filepath.Join(homeDir, ".config", "hound")
	if result := utils.CheckDirStatus(primaryPath); result.Writable {
		return primaryPath, nil
	}
	macOSPath := filepath.Join(homeDir, "Library", "Application Support", "hound")
	if result := utils.CheckDirStatus(macOSPath); result.Writable {
		return macOSPath, nil
	}
	execDir, err := utils.GetExecutableDir()
	if err != nil {
		log.Errorf("Failed to get executable directory: %v", err)
		return "", err
	}
	return execDir, nil
}

// GetDefaultConfigPath returns the default path for config.toml
func GetDefaultConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.toml"), nil
}

// LoadConfigWithPriority loads config with priority:
// 1. Custom path from --config flag
// 2. Default path: [UserConfigDir]/hound/config.toml
// 3. Builtin defaults
func LoadConfigWithPriority(customConfigPath string) (*Config, string, error) {
	if customConfigPath != "" {
		if _, statErr := os.Stat(customConfigPath); statErr == nil {
			config, err := LoadConfig(customConfigPath)
			if err != nil {
				log.Warnf("Failed to load custom config from %s: %v. Trying default path...", customConfigPath, err)
			} else {
				log.Debugf("Loaded config from custom path: %s", customConfigPath)
				return config, customConfigPath, nil
			}
		} else {
			log.Warnf("Custom config file not found at %s: %v. Trying default path...", customConfigPath, statErr)
		}
	}
	defaultPath, err := GetDefaultConfigPath()
	if err != nil {
		log.Warnf("Failed to determine default config path: %v. Using built-in defaults...", err)
		return DefaultConfig(), "", nil
	}

	config, err := InitConfig(defaultPath)
	if err != nil {
		log.Warnf("Failed to load/create config at default path %s: %v. Using builtin defaults...", defaultPath, err)
		return DefaultConfig(), "", nil
	}
	log.Debugf("Loaded config from default path: %s", defaultPath)
	return config, defaultPath, nil
}

// DefaultConfig returns a Config with default values: the patch window and
// Puppet datasets of the operations console.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:   "127.0.0.1:7410",
			MaxLimit: 64,
			MaxQuery: 128,
		},
		Index: IndexConfig{
			BaseURL:         "http://localhost:8080",
			TTLSeconds:      86400,
			TimeoutSeconds:  30,
			PrefetchOnStart: true,
		},
		CLI: CliConfig{
			DefaultLimit: 10,
		},
		Params: map[string]string{
			"server":      "1",
			"environment": "production",
		},
		Datasets: DefaultDatasets(),
	}
}

// DefaultDatasets returns the dataset tables used when the file has none.
func DefaultDatasets() []DatasetConfig {
	return []DatasetConfig{
		{Name: "patch_windows", URL: "/data/patchWindows", Tokenizer: "whitespace", Transform: "facts", Limit: 10},
		{Name: "puppet_environments", URL: "/config/puppetServer/{server}/environments", Tokenizer: "whitespace", Transform: "environments", Limit: 5},
		{Name: "puppet_plans", URL: "/config/puppetServer/{server}/apiPlans/{environment}", Tokenizer: "nonword", Transform: "plans", Limit: 10},
		{Name: "puppet_tasks", URL: "/config/puppetServer/{server}/apiTasks/{environment}", Tokenizer: "nonword", Transform: "tasks", Limit: 10},
	}
}

// InitConfig loads config from file or creates default if missing
func InitConfig(configPath string) (*Config, error) {
	configDir := filepath.Dir(configPath)

	if err := utils.EnsureDir(configDir); err != nil {
		log.Warnf("Failed to create config directory %s: %v. Using built-in defaults...", configDir, err)
		return DefaultConfig(), nil
	}

	if !utils.FileExists(configPath) {
		config := DefaultConfig()
		if err := SaveConfig(config, configPath); err != nil {
			log.Warnf("Failed to create default config file at %s: %v. Using built-in defaults...", configPath, err)
			return DefaultConfig(), nil
		}
		log.Debugf("Created default config file at: %s", configPath)
		return config, nil
	}

	config, err := LoadConfig(configPath)
	if err != nil {
		log.Warnf("Failed to load config from %s: %v. Using built-in defaults...", configPath, err)
		return DefaultConfig(), nil
	}
	return config, nil
}

// LoadConfig loads from a TOML file. Datasets listed in the file replace the
// defaults entirely; params are merged over the default params.
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()
	config.Datasets = nil

	if err := utils.LoadTOMLFile(configPath, config); err != nil {
		return tryPartialParse(configPath)
	}
	if len(config.Datasets) == 0 {
		config.Datasets = DefaultDatasets()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// tryPartialParse keeps whatever sections of a damaged file still decode.
func tryPartialParse(configPath string) (*Config, error) {
	config := DefaultConfig()

	tempConfig, err := utils.ParseTOMLWithRecovery(configPath)
	if err != nil {
		log.Warnf("Could not parse any valid configuration from %s: %v. Using all defaults.", configPath, err)
		return config, nil
	}

	if serverSection, ok := utils.ExtractSection(tempConfig, "server"); ok {
		extractServerConfig(serverSection, &config.Server)
	}
	if indexSection, ok := utils.ExtractSection(tempConfig, "index"); ok {
		extractIndexConfig(indexSection, &config.Index)
	}
	if cliSection, ok := utils.ExtractSection(tempConfig, "cli"); ok {
		if val, ok := utils.ExtractInt64(cliSection, "default_limit"); ok {
			config.CLI.DefaultLimit = val
		}
	}
	if paramSection, ok := utils.ExtractSection(tempConfig, "params"); ok {
		for k, v := range utils.ExtractStringMap(paramSection) {
			config.Params[k] = v
		}
	}
	if tables, ok := utils.ExtractTables(tempConfig, "dataset"); ok {
		datasets := extractDatasets(tables)
		if len(datasets) > 0 {
			config.Datasets = datasets
		}
	}
	if err := config.Validate(); err != nil {
		log.Warnf("Recovered config from %s is invalid: %v. Using all defaults.", configPath, err)
		return DefaultConfig(), nil
	}
	return config, nil
}

func extractServerConfig(data map[string]any, server *ServerConfig) {
	if val, ok := utils.ExtractString(data, "listen"); ok {
		server.Listen = val
	}
	if val, ok := utils.ExtractInt64(data, "max_limit"); ok {
		server.MaxLimit = val
	}
	if val, ok := utils.ExtractInt64(data, "max_query"); ok {
		server.MaxQuery = val
	}
}

func extractIndexConfig(data map[string]any, index *IndexConfig) {
	if val, ok := utils.ExtractString(data, "base_url"); ok {
		index.BaseURL = val
	}
	if val, ok := utils.ExtractInt64(data, "ttl_seconds"); ok {
		index.TTLSeconds = val
	}
	if val, ok := utils.ExtractInt64(data, "timeout_seconds"); ok {
		index.TimeoutSeconds = val
	}
	if val, ok := utils.ExtractBool(data, "prefetch_on_start"); ok {
		index.PrefetchOnStart = val
	}
}

// extractDatasets keeps every table that has at least a name and a url.
func extractDatasets(tables []map[string]any) []DatasetConfig {
	var out []DatasetConfig
	for _, t := range tables {
		var d DatasetConfig
		d.Name, _ = utils.ExtractString(t, "name")
		d.URL, _ = utils.ExtractString(t, "url")
		d.Tokenizer, _ = utils.ExtractString(t, "tokenizer")
		d.Transform, _ = utils.ExtractString(t, "transform")
		d.Limit, _ = utils.ExtractInt64(t, "limit")
		if d.Name == "" || d.URL == "" {
			log.Warnf("Skipping dataset table without name or url: %v", t)
			continue
		}
		out = append(out, d)
	}
	return out
}

// Validate checks dataset names, tokenizers and transforms.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Datasets))
	for i, d := range c.Datasets {
		if d.Name == "" {
			return fmt.Errorf("dataset[%d]: missing name", i)
		}
		if seen[d.Name] {
			return fmt.Errorf("dataset %q: duplicate name", d.Name)
		}
		seen[d.Name] = true
		if d.URL == "" {
			return fmt.Errorf("dataset %q: missing url", d.Name)
		}
		if _, err := suggest.ParseTokenizerKind(d.Tokenizer); err != nil {
			return fmt.Errorf("dataset %q: %w", d.Name, err)
		}
		if _, err := source.LookupTransform(d.Transform); err != nil {
			return fmt.Errorf("dataset %q: %w", d.Name, err)
		}
		if d.Limit < 0 {
			return fmt.Errorf("dataset %q: negative limit", d.Name)
		}
	}
	return nil
}

// Dataset returns the dataset named name.
func (c *Config) Dataset(name string) (DatasetConfig, bool) {
	for _, d := range c.Datasets {
		if d.Name == name {
			return d, true
		}
	}
	return DatasetConfig{}, false
}

// RebuildConfigFile force creates a new config.toml at default
func RebuildConfigFile() (string, error) {
	defaultPath, err := GetDefaultConfigPath()
	if err != nil {
		return "", err
	}
	if err := utils.EnsureDir(filepath.Dir(defaultPath)); err != nil {
		return "", err
	}
	return defaultPath, SaveConfig(DefaultConfig(), defaultPath)
}

// GetActiveConfigPath returns the absolute path of loaded config file
func GetActiveConfigPath(configPath string) string {
	if configPath == "" {
		return "builtin defaults"
	}
	return utils.GetAbsolutePath(configPath)
}

// SaveConfig saves into a TOML file
func SaveConfig(config *Config, configPath string) error {
	return utils.SaveTOMLFile(config, configPath)
}
