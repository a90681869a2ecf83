package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDefaultsWhenNoFile(t *testing.T) {
	dir := t.TempDir()
	wd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(wd) })
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Workers != 1 {
		t.Errorf("expected default workers 1, got %d", cfg.Workers)
	}
	if cfg.Runtime.DefaultPython != "3.11" {
		t.Errorf("expected default python 3.11, got %s", cfg.Runtime.DefaultPython)
	}
	if cfg.Resolver.AllowMock {
		t.Error("mock resolution must be opt-in")
	}
}

func TestLoadExplicitMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestLoadOverlaysAndMergesVersions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundlr.yml")
	content := `
workers: 3
logging:
  level: debug
resolver:
  allow_mock: true
collector:
  continue_on_error: true
runtime:
  default_python: "3.12"
  versions:
    "3.13": 3.13.0
  exclude_modules: [sqlite3]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Workers != 3 || cfg.Logging.Level != "debug" {
		t.Errorf("overlay not applied: %+v", cfg)
	}
	if !cfg.Resolver.AllowMock || !cfg.Collector.ContinueOnError {
		t.Error("expected boolean overrides to be applied")
	}
	if cfg.Runtime.Versions["3.13"] != "3.13.0" {
		t.Errorf("expected user version pin, got %v", cfg.Runtime.Versions)
	}
	if cfg.Runtime.Versions["3.11"] != "3.11.9" {
		t.Errorf("expected default pins kept, got %v", cfg.Runtime.Versions)
	}
	if cfg.Index.URL != "https://pypi.org" {
		t.Errorf("expected default index kept, got %s", cfg.Index.URL)
	}
	if len(cfg.Resolver.DevPackages) == 0 {
		t.Error("expected default dev packages kept")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundlr.yml")
	os.WriteFile(path, []byte("workers: many"), 0644)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "invalid config") {
		t.Fatalf("expected invalid config error, got %v", err)
	}
}

func TestConfigHelpers(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultGlobalConfig()
	cfg.CacheDir = filepath.Join(root, "cache")
	cfg.WorkDir = filepath.Join(root, "work")
	cfg.Workers = 0
	h := NewConfigHelpers(cfg)

	if h.Workers() != 1 {
		t.Errorf("expected workers clamped to 1, got %d", h.Workers())
	}
	for name, fn := range map[string]func() (string, error){
		"assets":          h.AssetCacheDir,
		"python":          h.DistributionCacheDir,
		"runtime-bundles": h.RuntimeBundleCacheDir,
		"tools":           h.ToolsDir,
		"stubs":           h.StubCacheDir,
	} {
		dir, err := fn()
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if dir != filepath.Join(root, "cache", name) {
			t.Errorf("unexpected dir for %s: %s", name, dir)
		}
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("expected %s to be created", dir)
		}
	}
	if err := h.CreateWorkDir(); err != nil {
		t.Fatalf("CreateWorkDir: %v", err)
	}
	if h.TempDir() != os.TempDir() {
		t.Errorf("expected os temp dir, got %s", h.TempDir())
	}
}

func TestExpandHome(t *testing.T) {
	t.Setenv("HOME", "/home/builder")
	if got := expandHome("~/cache"); got != filepath.Join("/home/builder", "cache") {
		t.Errorf("unexpected expansion %s", got)
	}
	if got := expandHome("/abs"); got != "/abs" {
		t.Errorf("absolute path changed: %s", got)
	}
}
