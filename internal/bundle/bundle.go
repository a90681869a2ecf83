// Package bundle assembles self-extracting executables from a launcher stub,
// an optimized runtime and the collected package assets.
package bundle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/open-edge-platform/bundlr/internal/bundle/payload"
	"github.com/open-edge-platform/bundlr/internal/config"
	"github.com/open-edge-platform/bundlr/internal/platform"
	"github.com/open-edge-platform/bundlr/internal/pypackage"
	"github.com/open-edge-platform/bundlr/internal/pyruntime"
	"github.com/open-edge-platform/bundlr/internal/utils/archive"
	"github.com/open-edge-platform/bundlr/internal/utils/logger"
)

var (
	ErrTargetMismatch = errors.New("bundle inputs target different platforms")
	ErrPythonMismatch = errors.New("bundle inputs target different python versions")
	ErrStubCompile    = errors.New("launcher stub unavailable")
	ErrAppendPayload  = errors.New("appending payload failed")
	ErrPermissions    = errors.New("setting bundle permissions failed")
)

// Payload layout.
const (
	payloadRoot  = "bundle"
	assetsDir    = "assets"
	metadataName = "metadata.json"
	launcherName = "launcher.sh"
)

// Options describes one bundle to generate.
type Options struct {
	OutputPath  string
	Target      platform.Target
	PackageName string // defaults to the dependency tree root
	EntryPoint  string
	Tree        *pypackage.DependencyTree
	Assets      *pypackage.AssetBundle
	Runtime     *pyruntime.RuntimeBundle
}

func (o *Options) packageName() string {
	if o.PackageName != "" {
		return o.PackageName
	}
	if o.Tree != nil && o.Tree.Root.Name != "" {
		return o.Tree.Root.Name
	}
	return "app"
}

// Breakdown splits a bundle's size by part.
type Breakdown struct {
	Stub     int64
	Runtime  int64
	Assets   int64
	Metadata int64
	Payload  int64 // compressed payload, includes runtime, assets and metadata
}

// Info describes a generated bundle.
type Info struct {
	Path      string
	Target    platform.Target
	Size      int64
	BuildID   string
	Breakdown Breakdown
}

// Generator builds bundles.
type Generator struct {
	Stubs      StubCompiler
	ScratchDir string
	Now        func() time.Time
}

// NewGenerator wires a Generator to the configured launcher sources.
func NewGenerator(cfg *config.GlobalConfig) (*Generator, error) {
	h := config.NewConfigHelpers(cfg)
	if err := h.CreateWorkDir(); err != nil {
		return nil, err
	}
	workDir, err := h.WorkDir()
	if err != nil {
		return nil, err
	}
	stubCache, err := h.StubCacheDir()
	if err != nil {
		return nil, err
	}
	return &Generator{
		Stubs:      NewStubCompiler(cfg.Bundle.StubDir, cfg.Bundle.GoBinary, stubCache, workDir),
		ScratchDir: workDir,
		Now:        time.Now,
	}, nil
}

func checkTargets(opts *Options) error {
	if opts.Target == platform.All {
		return fmt.Errorf("%w: a concrete target is required", ErrTargetMismatch)
	}
	if opts.Runtime == nil || opts.Assets == nil {
		return fmt.Errorf("runtime and asset bundles are required")
	}
	if opts.Tree != nil && opts.Tree.Metadata.Target != opts.Target {
		return fmt.Errorf("%w: dependency tree is for %s, bundle is for %s", ErrTargetMismatch, opts.Tree.Metadata.Target, opts.Target)
	}
	if opts.Assets.Target != opts.Target {
		return fmt.Errorf("%w: assets are for %s, bundle is for %s", ErrTargetMismatch, opts.Assets.Target, opts.Target)
	}
	if opts.Runtime.Metadata.Target != opts.Target {
		return fmt.Errorf("%w: runtime is for %s, bundle is for %s", ErrTargetMismatch, opts.Runtime.Metadata.Target, opts.Target)
	}
	if opts.Tree != nil && opts.Tree.Metadata.PythonVersion != "" {
		want := platform.MajorMinor(opts.Tree.Metadata.PythonVersion)
		if got := platform.MajorMinor(opts.Runtime.Metadata.PythonVersion); got != want {
			return fmt.Errorf("%w: dependencies were resolved for python %s, runtime is %s", ErrPythonMismatch, want, got)
		}
	}
	return nil
}

// GenerateBundle writes [stub][payload][trailer] to opts.OutputPath.
func (g *Generator) GenerateBundle(opts *Options) (*Info, error) {
	log := logger.Logger()
	if err := checkTargets(opts); err != nil {
		return nil, err
	}

	stub, err := g.Stubs.Stub(opts.Target)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(g.ScratchDir, 0755); err != nil {
		return nil, fmt.Errorf("creating scratch dir: %w", err)
	}
	scratch, err := os.MkdirTemp(g.ScratchDir, "bundle-")
	if err != nil {
		return nil, fmt.Errorf("creating scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	meta := newMetadata(opts, now())

	stage := filepath.Join(scratch, payloadRoot)
	sizes, err := stagePayload(stage, opts, meta)
	if err != nil {
		return nil, err
	}

	payloadPath := filepath.Join(scratch, "payload.tar.gz")
	if err := archive.CreateTarGz(stage, payloadPath, payloadRoot); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAppendPayload, err)
	}

	info, err := assemble(stub, payloadPath, opts.OutputPath)
	if err != nil {
		os.Remove(opts.OutputPath)
		return nil, err
	}
	sizes.Stub = info.stub
	sizes.Payload = info.payload

	out := &Info{
		Path:      opts.OutputPath,
		Target:    opts.Target,
		Size:      info.total,
		BuildID:   meta.BuildID,
		Breakdown: sizes,
	}
	log.Infof("bundle %s: %d bytes (stub %d, payload %d: runtime %d, assets %d, metadata %d)",
		out.Path, out.Size, sizes.Stub, sizes.Payload, sizes.Runtime, sizes.Assets, sizes.Metadata)
	return out, nil
}

// stagePayload lays out bundle/ under stage and returns the uncompressed
// part sizes. Wheels are kept in assets/ and installed into site-packages/.
func stagePayload(stage string, opts *Options, meta *Metadata) (Breakdown, error) {
	var b Breakdown
	if err := os.MkdirAll(filepath.Join(stage, assetsDir), 0755); err != nil {
		return b, fmt.Errorf("staging payload: %w", err)
	}

	if err := archive.CopyFile(opts.Runtime.ArchivePath, filepath.Join(stage, pyruntime.ArchiveName), 0644); err != nil {
		return b, fmt.Errorf("staging runtime: %w", err)
	}
	b.Runtime = opts.Runtime.Size

	for _, a := range opts.Assets.Assets {
		dest := filepath.Join(stage, assetsDir, a.Filename)
		if err := archive.CopyFile(a.LocalPath, dest, 0644); err != nil {
			return b, fmt.Errorf("staging asset %s: %w", a.Filename, err)
		}
		b.Assets += a.Size
	}

	unbuilt, err := installAssets(filepath.Join(stage, sitePackagesDir), opts.Assets.Assets)
	if err != nil {
		return b, fmt.Errorf("staging site-packages: %w", err)
	}
	meta.UnbuiltSources = unbuilt

	data, err := meta.Marshal()
	if err != nil {
		return b, err
	}
	if err := os.WriteFile(filepath.Join(stage, metadataName), data, 0644); err != nil {
		return b, fmt.Errorf("writing metadata: %w", err)
	}
	launcher, err := meta.Launcher()
	if err != nil {
		return b, fmt.Errorf("rendering launcher: %w", err)
	}
	if err := os.WriteFile(filepath.Join(stage, launcherName), []byte(launcher), 0755); err != nil {
		return b, fmt.Errorf("writing launcher: %w", err)
	}
	b.Metadata = int64(len(data) + len(launcher))
	return b, nil
}

type assembled struct {
	stub, payload, total int64
}

// assemble copies the stub to out, appends the payload and trailer and
// marks the result executable.
func assemble(stub, payloadPath, out string) (assembled, error) {
	var a assembled
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return a, fmt.Errorf("%w: %v", ErrAppendPayload, err)
	}
	if err := archive.CopyFile(stub, out, 0755); err != nil {
		return a, fmt.Errorf("%w: copying launcher: %v", ErrAppendPayload, err)
	}

	f, err := os.Open(payloadPath)
	if err != nil {
		return a, fmt.Errorf("%w: %v", ErrAppendPayload, err)
	}
	defer f.Close()
	t, err := payload.Append(out, f)
	if err != nil {
		return a, fmt.Errorf("%w: %v", ErrAppendPayload, err)
	}

	if err := os.Chmod(out, 0755); err != nil {
		return a, fmt.Errorf("%w: %v", ErrPermissions, err)
	}
	a.stub = int64(t.Offset)
	a.payload = int64(t.Length)
	a.total = a.stub + a.payload + payload.TrailerSize
	return a, nil
}
