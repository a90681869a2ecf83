// Package collector locates, downloads and verifies the artifacts of a
// resolved dependency tree.
package collector

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/open-edge-platform/bundlr/internal/config"
	"github.com/open-edge-platform/bundlr/internal/pkgfetcher"
	"github.com/open-edge-platform/bundlr/internal/platform"
	"github.com/open-edge-platform/bundlr/internal/pypackage"
	"github.com/open-edge-platform/bundlr/internal/pypackage/wheel"
	"github.com/open-edge-platform/bundlr/internal/utils/checksum"
	"github.com/open-edge-platform/bundlr/internal/utils/logger"
	"github.com/open-edge-platform/bundlr/internal/utils/network"
)

var (
	ErrDownload     = errors.New("asset download failed")
	ErrHashMismatch = errors.New("asset hash mismatch")
	ErrNoSource     = errors.New("no artifact found")
)

// Collector fetches package artifacts into the asset cache.
type Collector struct {
	IndexURL        string
	FilesURL        string
	CacheDir        string // <cache>/assets
	ScratchDir      string
	Workers         int
	ContinueOnError bool
	PythonVersion   string
	Downloader      network.Downloader
	Report          *logger.StringListReport
}

// New builds a Collector from cfg for the given runtime version.
func New(cfg *config.GlobalConfig, dl network.Downloader, pythonVersion string) (*Collector, error) {
	h := config.NewConfigHelpers(cfg)
	cacheDir, err := h.AssetCacheDir()
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
	return &Collector{
		IndexURL:        cfg.Index.URL,
		FilesURL:        cfg.Index.FilesURL,
		CacheDir:        cacheDir,
		ScratchDir:      workDir,
		Workers:         h.Workers(),
		ContinueOnError: cfg.Collector.ContinueOnError,
		PythonVersion:   pythonVersion,
		Downloader:      dl,
		Report:          logger.FetchedReport,
	}, nil
}

// planned is an asset whose location is known but which may not be local
// yet.
type planned struct {
	asset    pypackage.Asset
	accepted []string // sha256 digests the file must match, if any
	ready    bool     // already present and verified
}

// CollectAssets fetches one artifact per package for target.
func (c *Collector) CollectAssets(packages []pypackage.PackageInfo, target platform.Target) (*pypackage.AssetBundle, error) {
	log := logger.Logger()
	start := time.Now()

	if err := os.MkdirAll(c.CacheDir, 0755); err != nil {
		return nil, fmt.Errorf("creating asset cache: %w", err)
	}

	bundle := &pypackage.AssetBundle{Target: target}
	var plans []*planned
	fail := func(p pypackage.PackageInfo, err error) error {
		if !c.ContinueOnError {
			return err
		}
		log.Warnf("skipping %s: %v", p.Pinned(), err)
		bundle.Metadata.Skipped = append(bundle.Metadata.Skipped, p.Pinned())
		return nil
	}

	for _, p := range packages {
		pl, err := c.locate(p, target)
		if err == nil {
			err = c.checkCache(pl)
		}
		if err != nil {
			if ferr := fail(p, err); ferr != nil {
				return nil, ferr
			}
			continue
		}
		plans = append(plans, pl)
	}

	var jobs []pkgfetcher.Job
	var pending []*planned
	for _, pl := range plans {
		if !pl.ready {
			jobs = append(jobs, pkgfetcher.Job{URL: pl.asset.RemoteURL, Dest: pl.asset.LocalPath})
			pending = append(pending, pl)
		}
	}
	if len(jobs) > 0 {
		log.Infof("downloading %d of %d assets for %s", len(jobs), len(plans), target)
	}
	errs := pkgfetcher.FetchPackages(jobs, c.Workers, c.Downloader)

	failed := make(map[*planned]bool)
	for i, pl := range pending {
		err := errs[i]
		if err != nil {
			err = fmt.Errorf("%w: %s: %w", ErrDownload, pl.asset.Package, err)
		} else if err = c.verify(pl); err == nil && c.Report != nil {
			c.Report.Add(pl.asset.RemoteURL)
		}
		if err != nil {
			failed[pl] = true
			if ferr := fail(pypackage.PackageInfo{Name: pl.asset.Package, Version: pl.asset.Version}, err); ferr != nil {
				return nil, ferr
			}
		}
	}

	hits := 0
	for _, pl := range plans {
		if failed[pl] {
			continue
		}
		if pl.asset.CacheHit {
			hits++
		}
		bundle.Assets = append(bundle.Assets, pl.asset)
		bundle.TotalSize += pl.asset.Size
	}
	bundle.Metadata.Count = len(bundle.Assets)
	if bundle.Metadata.Count > 0 {
		bundle.Metadata.CacheHitRate = float64(hits) / float64(bundle.Metadata.Count)
	}
	bundle.Metadata.Duration = time.Since(start)

	log.Infof("collected %d assets for %s (%d bytes, %.0f%% cached, %d skipped) in %s",
		bundle.Metadata.Count, target, bundle.TotalSize, bundle.Metadata.CacheHitRate*100,
		len(bundle.Metadata.Skipped), bundle.Metadata.Duration.Round(time.Millisecond))
	return bundle, nil
}

// locate decides which artifact backs p.
func (c *Collector) locate(p pypackage.PackageInfo, target platform.Target) (*planned, error) {
	log := logger.Logger()
	accepted := normalizeAll(p.Hashes)
	if p.BinaryHash != "" && len(accepted) == 0 {
		accepted = []string{checksum.Normalize(p.BinaryHash)}
	}

	if p.IsDirect() {
		return c.locateGit(p)
	}
	if p.BinaryURL != "" {
		return c.plan(p, p.BinaryURL, filenameFromURL(p.BinaryURL), accepted), nil
	}

	files, err := c.releaseFiles(p.Name, p.Version)
	if err != nil {
		log.Debugf("index metadata for %s unavailable: %v", p.Pinned(), err)
	}

	var wheels []string
	byName := make(map[string]releaseFile)
	for _, f := range files {
		byName[f.Filename] = f
		if f.PackageType == "bdist_wheel" && (c.PythonVersion == "" || wheel.SupportsPython(f.Filename, c.PythonVersion)) {
			wheels = append(wheels, f.Filename)
		}
	}
	best, err := wheel.SelectBest(wheels, target)
	if err == nil {
		f := byName[best.Name]
		log.Debugf("selected %s (score %d) for %s", best.Name, best.Score, p.Pinned())
		return c.plan(p, f.URL, f.Filename, pick(accepted, f.Digests["sha256"])), nil
	}
	if len(files) > 0 {
		log.Debugf("%s: %v, looking for a source archive", p.Pinned(), err)
	}

	for _, f := range files {
		if f.PackageType == "sdist" {
			return c.plan(p, f.URL, f.Filename, pick(accepted, f.Digests["sha256"])), nil
		}
	}

	a, err := c.sdistFromListing(p.Name, p.Version)
	if err == nil {
		return c.plan(p, a.URL, a.Filename, pick(accepted, a.SHA256)), nil
	}
	log.Debugf("simple index lookup for %s failed: %v", p.Pinned(), err)

	if p.Name == "" || p.Version == "" {
		return nil, fmt.Errorf("%w for %q", ErrNoSource, p.Pinned())
	}
	u := c.conventionalSdistURL(p.Name, p.Version)
	log.Debugf("falling back to conventional source URL %s", u)
	return c.plan(p, u, filenameFromURL(u), accepted), nil
}

func (c *Collector) locateGit(p pypackage.PackageInfo) (*planned, error) {
	_, ref := splitGitSource(p.Source)
	if ref == "" {
		ref = "HEAD"
	}
	if len(ref) > 12 {
		ref = ref[:12]
	}
	stem := fmt.Sprintf("%s-%s", p.Name, p.Version)
	dest := filepath.Join(c.CacheDir, fmt.Sprintf("%s+git.%s.tar.gz", stem, sanitizeRef(ref)))
	if err := c.sourceFromGit(p.Source, stem, dest); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDownload, p.Name, err)
	}
	pl := c.plan(p, p.Source, filepath.Base(dest), nil)
	pl.ready = true
	if err := c.fillLocal(pl); err != nil {
		return nil, err
	}
	return pl, nil
}

func (c *Collector) plan(p pypackage.PackageInfo, remote, filename string, accepted []string) *planned {
	a := pypackage.Asset{
		Type:      classify(filename),
		Package:   p.Name,
		Version:   p.Version,
		Filename:  filename,
		RemoteURL: remote,
		LocalPath: filepath.Join(c.CacheDir, filename),
	}
	if f, err := wheel.ParseFilename(filename); err == nil {
		a.PlatformTags = f.Platforms
	}
	return &planned{asset: a, accepted: accepted}
}

// checkCache marks pl ready when a verified copy is already cached. A
// cached file that fails verification is discarded.
func (c *Collector) checkCache(pl *planned) error {
	if pl.ready {
		return nil
	}
	if _, err := os.Stat(pl.asset.LocalPath); err != nil {
		return nil
	}
	if err := c.fillLocal(pl); err != nil {
		logger.Logger().Warnf("discarding cached %s: %v", pl.asset.Filename, err)
		return os.Remove(pl.asset.LocalPath)
	}
	pl.ready = true
	pl.asset.CacheHit = true
	logger.Logger().Debugf("cache hit: %s", pl.asset.Filename)
	return nil
}

func (c *Collector) verify(pl *planned) error {
	if err := c.fillLocal(pl); err != nil {
		os.Remove(pl.asset.LocalPath)
		return err
	}
	return nil
}

// fillLocal hashes the local file, checks it against the accepted digests
// and records its size and hash.
func (c *Collector) fillLocal(pl *planned) error {
	info, err := os.Stat(pl.asset.LocalPath)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDownload, pl.asset.Package, err)
	}
	sum, err := checksum.Verify(pl.asset.LocalPath, pl.accepted...)
	if err != nil {
		if errors.Is(err, checksum.ErrMismatch) {
			return fmt.Errorf("%w: %s: %w", ErrHashMismatch, pl.asset.Package, err)
		}
		return err
	}
	pl.asset.Size = info.Size()
	pl.asset.Hash = sum
	return nil
}

func classify(filename string) pypackage.AssetType {
	switch {
	case strings.HasSuffix(filename, ".whl"):
		if f, err := wheel.ParseFilename(filename); err == nil && !f.IsPure() {
			return pypackage.CompiledExt
		}
		return pypackage.Binary
	case strings.HasSuffix(filename, ".tar.gz"), strings.HasSuffix(filename, ".zip"), strings.HasSuffix(filename, ".tar.bz2"):
		return pypackage.Source
	default:
		return pypackage.Data
	}
}

func filenameFromURL(raw string) string {
	u := raw
	if i := strings.IndexAny(u, "#?"); i >= 0 {
		u = u[:i]
	}
	return path.Base(u)
}

// pick prefers lock-file digests over a single index digest.
func pick(lock []string, index string) []string {
	if len(lock) > 0 {
		return lock
	}
	if index != "" {
		return []string{checksum.Normalize(index)}
	}
	return nil
}

func normalizeAll(digests []string) []string {
	var out []string
	for _, d := range digests {
		if d = checksum.Normalize(d); d != "" {
			out = append(out, d)
		}
	}
	return out
}

func sanitizeRef(ref string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_':
			return r
		default:
			return '_'
		}
	}, ref)
}
