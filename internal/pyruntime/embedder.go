// Package pyruntime prepares optimized, archived Python runtimes for
// bundling.
package pyruntime

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/open-edge-platform/bundlr/internal/cache"
	"github.com/open-edge-platform/bundlr/internal/config"
	"github.com/open-edge-platform/bundlr/internal/platform"
	"github.com/open-edge-platform/bundlr/internal/utils/archive"
	"github.com/open-edge-platform/bundlr/internal/utils/logger"
	"github.com/open-edge-platform/bundlr/internal/utils/network"
	"github.com/open-edge-platform/bundlr/internal/utils/shell"
)

var (
	ErrDistribution = errors.New("runtime distribution unavailable")
	ErrArchive      = errors.New("runtime archive failed")
)

// ArchiveName is the runtime archive file name inside a bundle payload.
const ArchiveName = "python_runtime.tar.gz"

// wrapperDir is the single top-level directory of the runtime archive.
const wrapperDir = "python"

// BundleMetadata describes how a runtime archive was produced.
type BundleMetadata struct {
	PythonVersion    string
	Target           platform.Target
	Optimize         OptimizeLevel
	OriginalSize     int64
	CompressedSize   int64
	CompressionRatio float64
	Cached           bool
}

// RuntimeBundle is an archived runtime for one target.
type RuntimeBundle struct {
	ArchivePath      string
	Size             int64
	RuntimePath      string // wrapper dir inside the archive
	SitePackagesPath string // relative to the extracted archive
	Metadata         BundleMetadata
}

// Embedder creates runtime bundles, reusing cached ones.
type Embedder struct {
	Dists          DistributionSource
	Store          cache.Store
	ScratchDir     string
	OutputDir      string
	ExcludeModules []string
	Host           platform.Target
}

// NewEmbedder wires an Embedder to the on-disk caches described by cfg.
func NewEmbedder(cfg *config.GlobalConfig, dl network.Downloader) (*Embedder, error) {
	h := config.NewConfigHelpers(cfg)
	distDir, err := h.DistributionCacheDir()
	if err != nil {
		return nil, err
	}
	bundleDir, err := h.RuntimeBundleCacheDir()
	if err != nil {
		return nil, err
	}
	if err := h.CreateWorkDir(); err != nil {
		return nil, err
	}
	workDir, err := h.WorkDir()
	if err != nil {
		return nil, err
	}
	return &Embedder{
		Dists: &Distributions{
			Dir:         distDir,
			ReleaseTag:  cfg.Runtime.ReleaseTag,
			URLTemplate: cfg.Runtime.URLTemplate,
			Versions:    cfg.Runtime.Versions,
			Downloader:  dl,
		},
		Store:          cache.NewDiskStore(bundleDir),
		ScratchDir:     workDir,
		OutputDir:      workDir,
		ExcludeModules: cfg.Runtime.ExcludeModules,
		Host:           platform.Host(),
	}, nil
}

// CreateRuntimeBundle returns the optimized runtime archive for
// (version, target, level), building it on a cache miss.
func (e *Embedder) CreateRuntimeBundle(version string, target platform.Target, level OptimizeLevel) (*RuntimeBundle, error) {
	log := logger.Logger()

	full, err := e.Dists.FullVersion(version)
	if err != nil {
		return nil, err
	}
	key := cache.Key(full, target.String(), level.String())

	if e.Store != nil {
		entry, err := e.Store.Get(key)
		if err != nil {
			log.Warnf("runtime cache lookup failed, rebuilding: %v", err)
		} else if entry != nil {
			log.Infof("using cached python %s runtime for %s (%s)", full, target, level)
			return fromEntry(entry, target, level), nil
		}
	}

	distDir, err := e.Dists.Ensure(full, target)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(e.ScratchDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArchive, err)
	}
	scratch, err := os.MkdirTemp(e.ScratchDir, "runtime-")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArchive, err)
	}
	defer os.RemoveAll(scratch)

	tree := &runtimeTree{
		Root:          filepath.Join(scratch, wrapperDir),
		Target:        target,
		PythonVersion: full,
		Runnable:      target == e.Host,
		Exclude:       excludesFor(level, e.ExcludeModules),
	}
	if err := archive.CopyDir(distDir, tree.Root); err != nil {
		return nil, fmt.Errorf("%w: copying distribution: %v", ErrDistribution, err)
	}
	originalSize, err := archive.DirSize(tree.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDistribution, err)
	}

	strategy, ok := strategies[level]
	if !ok {
		return nil, fmt.Errorf("unknown optimization level %d", level)
	}
	start := time.Now()
	if err := strategy(tree); err != nil {
		return nil, fmt.Errorf("optimizing runtime (%s): %w", level, err)
	}
	optimizedSize, _ := archive.DirSize(tree.Root)
	log.Infof("optimized python %s for %s (%s): %d -> %d bytes in %s",
		full, target, level, originalSize, optimizedSize, time.Since(start).Round(time.Millisecond))

	if err := os.MkdirAll(e.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArchive, err)
	}
	out := filepath.Join(e.OutputDir, fmt.Sprintf("python_runtime-%s.tar.gz", key[:12]))
	if err := createArchive(scratch, out, target); err != nil {
		return nil, err
	}
	info, err := os.Stat(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArchive, err)
	}

	rb := &RuntimeBundle{
		ArchivePath:      out,
		Size:             info.Size(),
		RuntimePath:      wrapperDir,
		SitePackagesPath: wrapperDir + "/" + target.SitePackagesPath(full),
		Metadata: BundleMetadata{
			PythonVersion:    full,
			Target:           target,
			Optimize:         level,
			OriginalSize:     originalSize,
			CompressedSize:   info.Size(),
			CompressionRatio: ratio(originalSize, info.Size()),
		},
	}

	if e.Store != nil {
		stored, err := e.Store.Put(key, &cache.Entry{
			ArchivePath:      out,
			Size:             rb.Size,
			RuntimePath:      rb.RuntimePath,
			SitePackagesPath: rb.SitePackagesPath,
			PythonVersion:    full,
			Target:           target.String(),
			Optimize:         level.String(),
			OriginalSize:     originalSize,
			CompressedSize:   rb.Size,
		})
		if err != nil {
			log.Warnf("could not cache runtime bundle: %v", err)
		} else if stored.ArchivePath != out {
			os.Remove(out)
			rb.ArchivePath = stored.ArchivePath
		}
	}

	log.Infof("runtime archive for %s: %d bytes (%.1f%% of original)", target, rb.Size, rb.Metadata.CompressionRatio*100)
	return rb, nil
}

// createArchive packs scratch/python into out. Unix-like targets use the
// host tar when available; everything else uses the in-process writer.
func createArchive(scratch, out string, target platform.Target) error {
	log := logger.Logger()
	if !target.IsWindows() && shell.IsCommandExist("tar") {
		code, err := shell.Run([]string{"tar", "-czf", out, "-C", scratch, wrapperDir}, "", nil)
		if err == nil && code == 0 {
			return nil
		}
		log.Warnf("native tar failed (code %d, err %v), using built-in archiver", code, err)
		os.Remove(out)
	}
	if err := archive.CreateTarGz(filepath.Join(scratch, wrapperDir), out, wrapperDir); err != nil {
		return fmt.Errorf("%w: %v", ErrArchive, err)
	}
	return nil
}

func fromEntry(entry *cache.Entry, target platform.Target, level OptimizeLevel) *RuntimeBundle {
	return &RuntimeBundle{
		ArchivePath:      entry.ArchivePath,
		Size:             entry.Size,
		RuntimePath:      entry.RuntimePath,
		SitePackagesPath: entry.SitePackagesPath,
		Metadata: BundleMetadata{
			PythonVersion:    entry.PythonVersion,
			Target:           target,
			Optimize:         level,
			OriginalSize:     entry.OriginalSize,
			CompressedSize:   entry.CompressedSize,
			CompressionRatio: ratio(entry.OriginalSize, entry.CompressedSize),
			Cached:           true,
		},
	}
}

func ratio(original, compressed int64) float64 {
	if original <= 0 {
		return 0
	}
	return float64(compressed) / float64(original)
}
