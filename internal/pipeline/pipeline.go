// Package pipeline runs resolve, collect, embed and generate for every
// requested target.
package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/open-edge-platform/bundlr/internal/bundle"
	"github.com/open-edge-platform/bundlr/internal/platform"
	"github.com/open-edge-platform/bundlr/internal/pypackage"
	"github.com/open-edge-platform/bundlr/internal/pyruntime"
	"github.com/open-edge-platform/bundlr/internal/utils/logger"
)

// ErrConfig reports an invalid build request.
var ErrConfig = errors.New("invalid build request")

// FailedSuffix marks the path of a failed build.
const FailedSuffix = "-FAILED"

type Resolver interface {
	Resolve(ref string, target platform.Target, pythonVersion string, excludeDev bool) (*pypackage.DependencyTree, error)
}

type Collector interface {
	CollectAssets(packages []pypackage.PackageInfo, target platform.Target) (*pypackage.AssetBundle, error)
}

type Embedder interface {
	CreateRuntimeBundle(version string, target platform.Target, level pyruntime.OptimizeLevel) (*pyruntime.RuntimeBundle, error)
}

type Generator interface {
	GenerateBundle(opts *bundle.Options) (*bundle.Info, error)
}

// Stage names the pipeline step a build failed in.
type Stage string

const (
	StageConfig   Stage = "config"
	StageResolve  Stage = "resolve"
	StageCollect  Stage = "collect"
	StageEmbed    Stage = "embed"
	StageGenerate Stage = "generate"
)

// Failure records why a target's build stopped.
type Failure struct {
	Stage Stage
	Err   error
}

func (f *Failure) Error() string { return fmt.Sprintf("%s: %v", f.Stage, f.Err) }

func (f *Failure) Unwrap() error { return f.Err }

// BuildResult is the outcome for one target.
type BuildResult struct {
	Path     string
	Target   platform.Target
	Size     int64
	Metadata map[string]string
	Duration time.Duration
	Failure  *Failure
}

// OK reports whether the build succeeded.
func (r BuildResult) OK() bool { return r.Failure == nil }

// Request holds the user's build parameters.
type Request struct {
	Ref           string
	Target        platform.Target
	Output        string
	OutputDir     string
	PythonVersion string
	Optimize      pyruntime.OptimizeLevel
	ExcludeDev    bool
	EntryPoint    string
}

// Pipeline builds Request.Ref for every target in Request.Target.
type Pipeline struct {
	Request   Request
	Resolver  Resolver
	Collector Collector
	Embedder  Embedder
	Generator Generator
	// WorkingDir is used when neither Output nor OutputDir is set.
	WorkingDir string
}

// Validate checks the request before any work is done.
func (p *Pipeline) Validate() error {
	if p.Request.Ref == "" {
		return fmt.Errorf("%w: a package name or repository URL is required", ErrConfig)
	}
	if p.Request.PythonVersion == "" {
		return fmt.Errorf("%w: a python version is required", ErrConfig)
	}
	if p.Request.Output != "" && len(p.Request.Target.TargetList()) > 1 {
		return fmt.Errorf("%w: --output names a single file and cannot be used with %d targets; use --output-dir", ErrConfig, len(p.Request.Target.TargetList()))
	}
	if p.Request.Output != "" && p.Request.OutputDir != "" {
		return fmt.Errorf("%w: --output and --output-dir are mutually exclusive", ErrConfig)
	}
	return nil
}

// OutputPath resolves where the bundle for target is written.
func (p *Pipeline) OutputPath(target platform.Target) string {
	if p.Request.Output != "" {
		return p.Request.Output
	}
	name := pypackage.DeriveName(p.Request.Ref) + "-" + target.String() + target.ExecutableExt()
	if p.Request.OutputDir != "" {
		return filepath.Join(p.Request.OutputDir, name)
	}
	dir := p.WorkingDir
	if dir == "" {
		dir, _ = os.Getwd()
	}
	return filepath.Join(dir, name)
}

// Execute builds every target in order. A failing target yields a failed
// result and the remaining targets still run.
func (p *Pipeline) Execute() []BuildResult {
	log := logger.Logger()
	start := time.Now()
	targets := p.Request.Target.TargetList()

	results := make([]BuildResult, 0, len(targets))
	if err := p.Validate(); err != nil {
		for _, t := range targets {
			results = append(results, failed(p.OutputPath(t), t, &Failure{Stage: StageConfig, Err: err}, 0))
		}
		log.Errorf("build not started: %v", err)
		return results
	}

	for i, t := range targets {
		log.Infof("[%d/%d] building %s for %s", i+1, len(targets), p.Request.Ref, t)
		results = append(results, p.build(t))
	}

	succeeded := 0
	for _, r := range results {
		if r.OK() {
			succeeded++
		}
	}
	log.Infof("build finished in %s: %d succeeded, %d failed",
		time.Since(start).Round(time.Millisecond), succeeded, len(results)-succeeded)
	return results
}

func (p *Pipeline) build(target platform.Target) BuildResult {
	log := logger.Logger()
	start := time.Now()
	out := p.OutputPath(target)
	fail := func(stage Stage, err error) BuildResult {
		r := failed(out, target, &Failure{Stage: stage, Err: err}, time.Since(start))
		log.Errorf("%s build failed at %s: %v", target, stage, err)
		return r
	}

	tree, err := p.Resolver.Resolve(p.Request.Ref, target, p.Request.PythonVersion, p.Request.ExcludeDev)
	if err != nil {
		return fail(StageResolve, err)
	}
	log.Infof("resolved %d packages (%s)", tree.Len(), tree.Metadata.Resolver)

	assets, err := p.Collector.CollectAssets(tree.Packages, target)
	if err != nil {
		return fail(StageCollect, err)
	}
	log.Infof("collected %d assets, %d bytes (cache hit rate %.0f%%)",
		assets.Metadata.Count, assets.TotalSize, assets.Metadata.CacheHitRate*100)

	rt, err := p.Embedder.CreateRuntimeBundle(p.Request.PythonVersion, target, p.Request.Optimize)
	if err != nil {
		return fail(StageEmbed, err)
	}
	log.Infof("runtime %s: %d bytes (ratio %.2f)", rt.Metadata.PythonVersion, rt.Size, rt.Metadata.CompressionRatio)

	info, err := p.Generator.GenerateBundle(&bundle.Options{
		OutputPath:  out,
		Target:      target,
		PackageName: pypackage.DeriveName(p.Request.Ref),
		EntryPoint:  p.Request.EntryPoint,
		Tree:        tree,
		Assets:      assets,
		Runtime:     rt,
	})
	if err != nil {
		return fail(StageGenerate, err)
	}

	elapsed := time.Since(start)
	log.Infof("%s bundle written to %s (%d bytes) in %s", target, info.Path, info.Size, elapsed.Round(time.Millisecond))
	return BuildResult{
		Path:     info.Path,
		Target:   target,
		Size:     info.Size,
		Duration: elapsed,
		Metadata: map[string]string{
			"build_id":       info.BuildID,
			"python_version": rt.Metadata.PythonVersion,
			"optimize":       p.Request.Optimize.String(),
			"packages":       strconv.Itoa(tree.Len()),
			"assets":         strconv.Itoa(len(assets.Assets)),
			"skipped":        strconv.Itoa(len(assets.Metadata.Skipped)),
			"cache_hit_rate": strconv.FormatFloat(assets.Metadata.CacheHitRate, 'f', 2, 64),
			"runtime_cached": strconv.FormatBool(rt.Metadata.Cached),
			"mock":           strconv.FormatBool(tree.Metadata.Mock),
		},
	}
}

func failed(out string, target platform.Target, f *Failure, d time.Duration) BuildResult {
	return BuildResult{
		Path:     out + FailedSuffix,
		Target:   target,
		Size:     0,
		Duration: d,
		Failure:  f,
	}
}
