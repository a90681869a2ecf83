package bundle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"
	"github.com/open-edge-platform/bundlr/internal/config/validate"
	"github.com/open-edge-platform/bundlr/internal/platform"
)

// FormatVersion is the bundle layout version recorded in metadata.json.
const FormatVersion = "1.0"

// Version is the bundlr release stamped into bundles. Overridden at link
// time.
var Version = "0.3.0"

// Metadata is the content of bundle/metadata.json.
type Metadata struct {
	BundleVersion    string   `json:"bundle_version"`
	PackageName      string   `json:"package_name"`
	PythonVersion    string   `json:"python_version"`
	TargetPlatform   string   `json:"target_platform"`
	BuildTimestamp   int64    `json:"build_timestamp"`
	BundlrVersion    string   `json:"bundlr_version"`
	EntryPoint       *string  `json:"entry_point"`
	BuildID          string   `json:"build_id"`
	MockDependencies bool     `json:"mock_dependencies"`
	Assets           []string `json:"assets"`
	UnbuiltSources   []string `json:"unbuilt_sources,omitempty"`
}

func newMetadata(opts *Options, now time.Time) *Metadata {
	m := &Metadata{
		BundleVersion:    FormatVersion,
		PackageName:      opts.packageName(),
		PythonVersion:    opts.Runtime.Metadata.PythonVersion,
		TargetPlatform:   opts.Target.String(),
		BuildTimestamp:   now.Unix(),
		BundlrVersion:    Version,
		BuildID:          uuid.NewString(),
		MockDependencies: opts.Tree != nil && opts.Tree.Metadata.Mock,
		Assets:           []string{},
	}
	if opts.EntryPoint != "" {
		entry := opts.EntryPoint
		m.EntryPoint = &entry
	}
	if opts.Assets != nil {
		m.Assets = append(m.Assets, opts.Assets.Filenames()...)
	}
	return m
}

// Marshal renders the metadata and validates it against the bundle
// metadata schema.
func (m *Metadata) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := validate.ValidateMetadataJSON(data); err != nil {
		return nil, fmt.Errorf("invalid bundle metadata: %w", err)
	}
	return data, nil
}

// ParseMetadata decodes and validates a metadata.json document.
func ParseMetadata(data []byte) (*Metadata, error) {
	if err := validate.ValidateMetadataJSON(data); err != nil {
		return nil, fmt.Errorf("invalid bundle metadata: %w", err)
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

var launcherTemplate = template.Must(template.New("launcher").Parse(`#!/bin/sh
# bundlr launcher
# package: {{.PackageName}}
# python: {{.PythonVersion}}
# target: {{.TargetPlatform}}
# build: {{.BuildID}} ({{.BuildTimestamp}})
# Runs the unpacked bundle. Expects the runtime next to this directory.
set -e
HERE="$(cd "$(dirname "$0")" && pwd)"
RUNTIME="${BUNDLR_RUNTIME:-$HERE/../runtime}"
PYTHONPATH="$HERE/site-packages${PYTHONPATH:+:$PYTHONPATH}"
export PYTHONPATH
exec "$RUNTIME/{{.Interpreter}}" {{.Invocation}} "$@"
`))

// Launcher renders launcher.sh, the shell equivalent of the native stub.
func (m *Metadata) Launcher() (string, error) {
	target, err := platform.Parse(m.TargetPlatform)
	if err != nil {
		return "", err
	}
	invocation := "-m " + shellQuote(moduleName(m.PackageName))
	if m.EntryPoint != nil {
		invocation = "-c " + shellQuote(*m.EntryPoint)
	}

	var buf bytes.Buffer
	err = launcherTemplate.Execute(&buf, struct {
		*Metadata
		Interpreter string
		Invocation  string
	}{m, target.InterpreterPath(), invocation})
	return buf.String(), err
}

func moduleName(pkg string) string {
	return strings.ToLower(strings.NewReplacer("-", "_", ".", "_").Replace(pkg))
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
