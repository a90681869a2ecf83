package pipeline

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/open-edge-platform/bundlr/internal/bundle"
	"github.com/open-edge-platform/bundlr/internal/platform"
	"github.com/open-edge-platform/bundlr/internal/pypackage"
	"github.com/open-edge-platform/bundlr/internal/pypackage/collector"
	"github.com/open-edge-platform/bundlr/internal/pypackage/resolver"
	"github.com/open-edge-platform/bundlr/internal/pyruntime"
)

type fakeResolver struct{}

func (fakeResolver) Resolve(ref string, target platform.Target, pythonVersion string, excludeDev bool) (*pypackage.DependencyTree, error) {
	return resolver.Mock(ref, target, pythonVersion), nil
}

type fakeCollector struct {
	failFor platform.Target
}

func (f fakeCollector) CollectAssets(packages []pypackage.PackageInfo, target platform.Target) (*pypackage.AssetBundle, error) {
	if target == f.failFor {
		return nil, fmt.Errorf("%w: connection reset", collector.ErrDownload)
	}
	b := &pypackage.AssetBundle{Target: target}
	for _, p := range packages {
		b.Assets = append(b.Assets, pypackage.Asset{Package: p.Name, Filename: p.Name + "-1.0.0-py3-none-any.whl", Size: 100})
		b.TotalSize += 100
	}
	b.Metadata.Count = len(b.Assets)
	return b, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) CreateRuntimeBundle(version string, target platform.Target, level pyruntime.OptimizeLevel) (*pyruntime.RuntimeBundle, error) {
	return &pyruntime.RuntimeBundle{
		Size:     1000,
		Metadata: pyruntime.BundleMetadata{PythonVersion: "3.11.9", Target: target, Optimize: level},
	}, nil
}

type fakeGenerator struct {
	opts []*bundle.Options
}

func (f *fakeGenerator) GenerateBundle(opts *bundle.Options) (*bundle.Info, error) {
	f.opts = append(f.opts, opts)
	return &bundle.Info{Path: opts.OutputPath, Target: opts.Target, Size: 4096, BuildID: "id"}, nil
}

func newPipeline(req Request, col fakeCollector) (*Pipeline, *fakeGenerator) {
	gen := &fakeGenerator{}
	if req.PythonVersion == "" {
		req.PythonVersion = "3.11"
	}
	return &Pipeline{
		Request:    req,
		Resolver:   fakeResolver{},
		Collector:  col,
		Embedder:   fakeEmbedder{},
		Generator:  gen,
		WorkingDir: "/work",
	}, gen
}

func TestOutputPathPerTarget(t *testing.T) {
	p, _ := newPipeline(Request{Ref: "cowsay", Target: platform.All, OutputDir: "out"}, fakeCollector{})

	linux := p.OutputPath(platform.LinuxX86_64)
	windows := p.OutputPath(platform.WindowsX86_64)
	if linux == windows {
		t.Fatal("expected distinct output paths")
	}
	if linux != filepath.Join("out", "cowsay-linux-x86_64") {
		t.Errorf("unexpected linux path %s", linux)
	}
	if windows != filepath.Join("out", "cowsay-windows-x86_64.exe") {
		t.Errorf("unexpected windows path %s", windows)
	}
}

func TestOutputPathPrecedence(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want string
	}{
		{"explicit file", Request{Ref: "cowsay", Target: platform.LinuxX86_64, Output: "dist/cow"}, "dist/cow"},
		{"output dir", Request{Ref: "cowsay", Target: platform.LinuxX86_64, OutputDir: "dist"}, filepath.Join("dist", "cowsay-linux-x86_64")},
		{"working dir", Request{Ref: "cowsay", Target: platform.LinuxX86_64}, filepath.Join("/work", "cowsay-linux-x86_64")},
		{"repo url", Request{Ref: "https://github.com/acme/tool.git", Target: platform.MacosAarch64}, filepath.Join("/work", "tool-macos-aarch64")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newPipeline(tt.req, fakeCollector{})
			if got := p.OutputPath(tt.req.Target); got != tt.want {
				t.Errorf("OutputPath = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestExecuteAllTargets(t *testing.T) {
	p, gen := newPipeline(Request{Ref: "requests", Target: platform.All, OutputDir: "out", Optimize: pyruntime.Size}, fakeCollector{})
	results := p.Execute()

	if len(results) != 6 {
		t.Fatalf("expected 6 results, got %d", len(results))
	}
	seen := map[string]bool{}
	for _, r := range results {
		if !r.OK() || r.Size == 0 {
			t.Errorf("unexpected failure %+v", r)
		}
		if seen[r.Path] {
			t.Errorf("duplicate output path %s", r.Path)
		}
		seen[r.Path] = true
		if r.Target.IsWindows() != strings.HasSuffix(r.Path, ".exe") {
			t.Errorf("wrong extension for %s: %s", r.Target, r.Path)
		}
		if r.Metadata["packages"] != "5" || r.Metadata["optimize"] != "size" || r.Metadata["mock"] != "true" {
			t.Errorf("unexpected metadata %v", r.Metadata)
		}
	}
	if len(gen.opts) != 6 || gen.opts[0].PackageName != "requests" {
		t.Errorf("generator not invoked per target: %+v", gen.opts)
	}
}

func TestExecuteIsolatesFailures(t *testing.T) {
	p, _ := newPipeline(Request{Ref: "cowsay", Target: platform.All, OutputDir: "out"}, fakeCollector{failFor: platform.WindowsX86_64})
	results := p.Execute()

	var failedCount int
	for _, r := range results {
		if r.Target == platform.WindowsX86_64 {
			failedCount++
			if r.OK() || r.Size != 0 || !strings.HasSuffix(r.Path, FailedSuffix) {
				t.Errorf("expected failed result, got %+v", r)
			}
			if r.Failure.Stage != StageCollect || !errors.Is(r.Failure, collector.ErrDownload) {
				t.Errorf("unexpected failure %v", r.Failure)
			}
			continue
		}
		if !r.OK() || r.Size == 0 || strings.HasSuffix(r.Path, FailedSuffix) {
			t.Errorf("unaffected target %s failed: %+v", r.Target, r)
		}
	}
	if failedCount != 1 {
		t.Errorf("expected exactly one failed target, got %d", failedCount)
	}
}

func TestExecuteRejectsSingleOutputForManyTargets(t *testing.T) {
	p, gen := newPipeline(Request{Ref: "cowsay", Target: platform.All, Output: "cow"}, fakeCollector{})
	if err := p.Validate(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
	results := p.Execute()
	if len(results) != 6 || len(gen.opts) != 0 {
		t.Fatalf("expected 6 config failures and no builds, got %d results, %d builds", len(results), len(gen.opts))
	}
	for _, r := range results {
		if r.OK() || r.Failure.Stage != StageConfig {
			t.Errorf("expected config failure, got %+v", r)
		}
	}
}
