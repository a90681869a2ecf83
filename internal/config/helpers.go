package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ConfigHelpers provides convenient access to global configuration
type ConfigHelpers struct {
	config *GlobalConfig
}

// NewConfigHelpers creates a new config helpers instance
func NewConfigHelpers(config *GlobalConfig) *ConfigHelpers {
	return &ConfigHelpers{config: config}
}

// Workers returns the number of concurrent download workers
func (c *ConfigHelpers) Workers() int {
	if c.config.Workers < 1 {
		return 1
	}
	return c.config.Workers
}

// CacheDir returns the absolute path to the cache directory
func (c *ConfigHelpers) CacheDir() (string, error) {
	return filepath.Abs(expandHome(c.config.CacheDir))
}

// WorkDir returns the absolute path to the work directory
func (c *ConfigHelpers) WorkDir() (string, error) {
	return filepath.Abs(expandHome(c.config.WorkDir))
}

// TempDir returns the temporary directory path
func (c *ConfigHelpers) TempDir() string {
	if c.config.TempDir == "" {
		return os.TempDir()
	}
	return expandHome(c.config.TempDir)
}

// AssetCacheDir is where downloaded package artifacts are kept.
func (c *ConfigHelpers) AssetCacheDir() (string, error) {
	return c.cacheSubdir("assets")
}

// DistributionCacheDir is where base runtime distributions are unpacked.
func (c *ConfigHelpers) DistributionCacheDir() (string, error) {
	return c.cacheSubdir("python")
}

// RuntimeBundleCacheDir is where optimized runtime archives are kept.
func (c *ConfigHelpers) RuntimeBundleCacheDir() (string, error) {
	return c.cacheSubdir("runtime-bundles")
}

// ToolsDir is where downloaded helper tools (the resolver) are installed.
func (c *ConfigHelpers) ToolsDir() (string, error) {
	return c.cacheSubdir("tools")
}

// StubCacheDir is where compiled launchers are kept.
func (c *ConfigHelpers) StubCacheDir() (string, error) {
	return c.cacheSubdir("stubs")
}

// LogLevel returns the configured log level
func (c *ConfigHelpers) LogLevel() string {
	return c.config.Logging.Level
}

// IsDebugMode returns true if debug logging is enabled
func (c *ConfigHelpers) IsDebugMode() bool {
	return c.config.Logging.Level == "debug"
}

// GetConfig returns the underlying global config (for advanced usage)
func (c *ConfigHelpers) GetConfig() *GlobalConfig {
	return c.config
}

// CreateCacheDir ensures the cache directory exists
func (c *ConfigHelpers) CreateCacheDir() error {
	cacheDir, err := c.CacheDir()
	if err != nil {
		return fmt.Errorf("resolving cache directory: %w", err)
	}
	return createDirIfNotExists(cacheDir)
}

// CreateWorkDir ensures the work directory exists
func (c *ConfigHelpers) CreateWorkDir() error {
	workDir, err := c.WorkDir()
	if err != nil {
		return fmt.Errorf("resolving work directory: %w", err)
	}
	return createDirIfNotExists(workDir)
}

// CreateTempDir ensures a temp subdirectory exists
func (c *ConfigHelpers) CreateTempDir(subdir string) (string, error) {
	tempDir := filepath.Join(c.TempDir(), subdir)
	err := createDirIfNotExists(tempDir)
	return tempDir, err
}

func (c *ConfigHelpers) cacheSubdir(name string) (string, error) {
	cacheDir, err := c.CacheDir()
	if err != nil {
		return "", fmt.Errorf("resolving cache directory: %w", err)
	}
	dir := filepath.Join(cacheDir, name)
	if err := createDirIfNotExists(dir); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}
	return dir, nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// Helper function to create directories
func createDirIfNotExists(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}
