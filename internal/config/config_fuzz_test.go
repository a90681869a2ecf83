package config

import (
	"os"
	"testing"
)

// FuzzLoad tests the Load function with various file inputs
func FuzzLoad(f *testing.F) {
	f.Add("workers: 2\nlogging:\n  level: debug")
	f.Add("{}")
	f.Add("")
	f.Add("invalid: yaml: content: [")
	f.Add("runtime:\n  versions:\n    \"3.13\": 3.13.0")
	f.Add("---\nworkers: 1")
	f.Add("workers: null")
	f.Add("extra_field: \"should be rejected\"")

	f.Fuzz(func(t *testing.T, yamlContent string) {
		tempFile := t.TempDir() + "/bundlr.yml"
		if err := os.WriteFile(tempFile, []byte(yamlContent), 0644); err != nil {
			t.Skip("Failed to create temp file")
		}

		cfg, err := Load(tempFile)
		if err != nil {
			if cfg != nil {
				t.Error("Expected nil config when error occurred")
			}
			return
		}
		if cfg == nil {
			t.Fatal("Expected non-nil config when no error occurred")
		}
		if cfg.Workers < 1 {
			t.Errorf("Workers must be at least 1, got %d", cfg.Workers)
		}
	})
}
