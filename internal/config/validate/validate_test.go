package validate

import (
	"strings"
	"testing"
)

func TestValidateConfigYAML(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{name: "empty document", yaml: ""},
		{name: "full document", yaml: `
workers: 4
cache_dir: /tmp/bundlr-cache
logging:
  level: debug
network:
  max_retries: 3
  backoff_ms: 500
resolver:
  allow_mock: true
  dev_packages: [pytest]
runtime:
  default_python: "3.12"
  versions:
    "3.12": 3.12.4
bundle:
  stub_dir: ./stubs
`},
		{name: "unknown key", yaml: "wokers: 4", wantErr: "additionalProperties"},
		{name: "bad level", yaml: "logging:\n  level: loud", wantErr: "schema validation"},
		{name: "bad python", yaml: "runtime:\n  default_python: \"2.7\"", wantErr: "schema validation"},
		{name: "zero workers", yaml: "workers: 0", wantErr: "schema validation"},
		{name: "bad index url", yaml: "index:\n  url: pypi.org", wantErr: "schema validation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfigYAML([]byte(tt.yaml))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("expected valid config, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateMetadataJSON(t *testing.T) {
	valid := `{"bundle_version":"1.0","package_name":"cowsay","python_version":"3.11",
		"target_platform":"linux-x86_64","build_timestamp":1700000000,"bundlr_version":"0.3.0","entry_point":null}`
	if err := ValidateMetadataJSON([]byte(valid)); err != nil {
		t.Fatalf("expected valid metadata, got %v", err)
	}

	invalid := []string{
		`{"bundle_version":"1.0","package_name":"cowsay","python_version":"3.11","target_platform":"all","build_timestamp":1,"bundlr_version":"x"}`,
		`{"bundle_version":"1.0","python_version":"3.11","target_platform":"linux-x86_64","build_timestamp":1,"bundlr_version":"x"}`,
		`{"bundle_version":"1.0","package_name":"cowsay","python_version":"3.11","target_platform":"linux-x86_64","build_timestamp":"now","bundlr_version":"x"}`,
	}
	for i, doc := range invalid {
		if err := ValidateMetadataJSON([]byte(doc)); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}
