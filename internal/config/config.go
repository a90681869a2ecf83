package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/open-edge-platform/bundlr/internal/config/validate"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is looked up in the working directory and the user
// config directory when no explicit path is given.
const DefaultConfigFile = "bundlr.yml"

// GlobalConfig holds the tool-wide settings loaded from bundlr.yml.
type GlobalConfig struct {
	Workers   int             `yaml:"workers"`
	CacheDir  string          `yaml:"cache_dir"`
	WorkDir   string          `yaml:"work_dir"`
	TempDir   string          `yaml:"temp_dir"`
	Logging   LoggingConfig   `yaml:"logging"`
	Network   NetworkConfig   `yaml:"network"`
	Index     IndexConfig     `yaml:"index"`
	Resolver  ResolverConfig  `yaml:"resolver"`
	Collector CollectorConfig `yaml:"collector"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
	Bundle    BundleConfig    `yaml:"bundle"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type NetworkConfig struct {
	MaxRetries int `yaml:"max_retries"`
	BackoffMS  int `yaml:"backoff_ms"`
}

// Backoff returns the base retry delay.
func (n NetworkConfig) Backoff() time.Duration {
	return time.Duration(n.BackoffMS) * time.Millisecond
}

type IndexConfig struct {
	URL      string `yaml:"url"`
	FilesURL string `yaml:"files_url"`
}

type ResolverConfig struct {
	Tool          string   `yaml:"tool"`
	UVVersion     string   `yaml:"uv_version"`
	UVURLTemplate string   `yaml:"uv_url_template"`
	AllowMock     bool     `yaml:"allow_mock"`
	DevPackages   []string `yaml:"dev_packages"`
}

type CollectorConfig struct {
	ContinueOnError bool `yaml:"continue_on_error"`
}

type RuntimeConfig struct {
	DefaultPython  string            `yaml:"default_python"`
	ReleaseTag     string            `yaml:"release_tag"`
	URLTemplate    string            `yaml:"url_template"`
	Versions       map[string]string `yaml:"versions"`
	ExcludeModules []string          `yaml:"exclude_modules"`
}

type BundleConfig struct {
	StubDir  string `yaml:"stub_dir"`
	GoBinary string `yaml:"go_binary"`
}

// GlConfig is the configuration in effect for this process.
var GlConfig = DefaultGlobalConfig()

// DefaultGlobalConfig returns the built-in defaults.
func DefaultGlobalConfig() *GlobalConfig {
	cacheDir := filepath.Join(os.TempDir(), "bundlr-cache")
	if userCache, err := os.UserCacheDir(); err == nil {
		cacheDir = filepath.Join(userCache, "bundlr")
	}

	return &GlobalConfig{
		Workers:  1,
		CacheDir: cacheDir,
		WorkDir:  filepath.Join(cacheDir, "work"),
		Logging:  LoggingConfig{Level: "info"},
		Network:  NetworkConfig{MaxRetries: 3, BackoffMS: 1000},
		Index: IndexConfig{
			URL:      "https://pypi.org",
			FilesURL: "https://files.pythonhosted.org",
		},
		Resolver: ResolverConfig{
			Tool:          "uv",
			UVVersion:     "0.4.18",
			UVURLTemplate: "https://github.com/astral-sh/uv/releases/download/{version}/uv-{triple}.{ext}",
			DevPackages:   []string{"pytest", "black", "mypy", "flake8", "ruff", "pre-commit", "tox", "coverage"},
		},
		Runtime: RuntimeConfig{
			DefaultPython: "3.11",
			ReleaseTag:    "20240814",
			URLTemplate:   "https://github.com/indygreg/python-build-standalone/releases/download/{tag}/cpython-{version}+{tag}-{triple}-install_only.tar.gz",
			Versions: map[string]string{
				"3.8":  "3.8.19",
				"3.9":  "3.9.19",
				"3.10": "3.10.14",
				"3.11": "3.11.9",
				"3.12": "3.12.5",
			},
		},
		Bundle: BundleConfig{GoBinary: "go"},
	}
}

// Load reads the configuration file at path, or searches the default
// locations when path is empty. Missing default files yield the defaults.
func Load(path string) (*GlobalConfig, error) {
	explicit := path != ""
	if !explicit {
		path = findConfigFile()
	}
	cfg := DefaultGlobalConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data, cfg)
}

// Parse validates data against the config schema and overlays it on base.
func Parse(data []byte, base *GlobalConfig) (*GlobalConfig, error) {
	if err := validate.ValidateConfigYAML(data); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg := base
	if cfg == nil {
		cfg = DefaultGlobalConfig()
	}
	defaultVersions := cfg.Runtime.Versions
	cfg.Runtime.Versions = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	// User version pins extend the defaults instead of replacing them.
	merged := make(map[string]string, len(defaultVersions)+len(cfg.Runtime.Versions))
	for k, v := range defaultVersions {
		merged[k] = v
	}
	for k, v := range cfg.Runtime.Versions {
		merged[k] = v
	}
	cfg.Runtime.Versions = merged

	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return cfg, nil
}

// SetGlobal installs cfg as GlConfig.
func SetGlobal(cfg *GlobalConfig) {
	if cfg != nil {
		GlConfig = cfg
	}
}

func findConfigFile() string {
	candidates := []string{DefaultConfigFile}
	if dir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, "bundlr", DefaultConfigFile))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// CacheDir returns the absolute cache directory of the global config.
func CacheDir() (string, error) {
	return NewConfigHelpers(GlConfig).CacheDir()
}

// WorkDir returns the absolute work directory of the global config.
func WorkDir() (string, error) {
	return NewConfigHelpers(GlConfig).WorkDir()
}

// TempDir returns the temporary directory of the global config.
func TempDir() string {
	return NewConfigHelpers(GlConfig).TempDir()
}
