package pyruntime

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/open-edge-platform/bundlr/internal/platform"
	"github.com/open-edge-platform/bundlr/internal/utils/archive"
	"github.com/open-edge-platform/bundlr/internal/utils/logger"
	"github.com/open-edge-platform/bundlr/internal/utils/network"
)

// DistributionSource provides unpacked base runtimes.
type DistributionSource interface {
	FullVersion(version string) (string, error)
	Ensure(version string, target platform.Target) (string, error)
}

// Distributions downloads python-build-standalone install_only archives
// and keeps them unpacked under Dir.
type Distributions struct {
	Dir         string // <cache>/python
	ReleaseTag  string
	URLTemplate string // placeholders: {tag} {version} {triple}
	Versions    map[string]string
	Downloader  network.Downloader
}

// FullVersion maps a short version such as 3.11 to its pinned full
// version. Full versions pass through unchanged.
func (d *Distributions) FullVersion(version string) (string, error) {
	v := strings.TrimSpace(version)
	if full, ok := d.Versions[v]; ok {
		return full, nil
	}
	if strings.Count(v, ".") == 2 {
		return v, nil
	}
	return "", fmt.Errorf("%w: no pinned release for python %q", ErrDistribution, version)
}

// URL returns the download URL of the distribution for target.
func (d *Distributions) URL(fullVersion string, target platform.Target) string {
	return strings.NewReplacer(
		"{tag}", d.ReleaseTag,
		"{version}", fullVersion,
		"{triple}", target.Triple(),
	).Replace(d.URLTemplate)
}

// Ensure returns the runtime root of the requested distribution,
// downloading and unpacking it on first use.
func (d *Distributions) Ensure(version string, target platform.Target) (string, error) {
	log := logger.Logger()
	if target == platform.All {
		return "", fmt.Errorf("%w: a concrete target is required", ErrDistribution)
	}
	full, err := d.FullVersion(version)
	if err != nil {
		return "", err
	}

	dest := filepath.Join(d.Dir, full+"-"+target.Triple())
	if _, err := os.Stat(filepath.Join(dest, target.InterpreterPath())); err == nil {
		log.Debugf("python %s for %s already unpacked at %s", full, target, dest)
		return dest, nil
	}
	if d.Downloader == nil {
		return "", fmt.Errorf("%w: python %s for %s is not cached and no downloader is configured", ErrDistribution, full, target)
	}

	if err := os.MkdirAll(d.Dir, 0755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDistribution, err)
	}
	scratch, err := os.MkdirTemp(d.Dir, "download-")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDistribution, err)
	}
	defer os.RemoveAll(scratch)

	url := d.URL(full, target)
	log.Infof("downloading python %s for %s", full, target)
	tarball := filepath.Join(scratch, path.Base(url))
	if err := d.Downloader.DownloadFile(url, tarball, network.BarProgress("python "+full)); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDistribution, err)
	}

	// The archive holds a single python/ directory.
	unpacked := filepath.Join(scratch, "root")
	if err := archive.Extract(tarball, unpacked, 1); err != nil {
		return "", fmt.Errorf("%w: extracting %s: %v", ErrDistribution, path.Base(url), err)
	}
	os.RemoveAll(dest)
	if err := os.Rename(unpacked, dest); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDistribution, err)
	}
	log.Infof("python %s for %s unpacked to %s", full, target, dest)
	return dest, nil
}
