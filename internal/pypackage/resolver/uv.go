package resolver

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/open-edge-platform/bundlr/internal/platform"
	"github.com/open-edge-platform/bundlr/internal/utils/archive"
	"github.com/open-edge-platform/bundlr/internal/utils/checksum"
	"github.com/open-edge-platform/bundlr/internal/utils/logger"
	"github.com/open-edge-platform/bundlr/internal/utils/network"
	"github.com/open-edge-platform/bundlr/internal/utils/shell"
)

// UVTool locates or installs the uv resolver binary.
type UVTool struct {
	Version     string
	URLTemplate string // placeholders: {version} {triple} {ext}
	ToolsDir    string
	Downloader  network.Downloader
	Host        platform.Target
}

func (u *UVTool) binaryName() string {
	return "uv" + u.Host.ExecutableExt()
}

func (u *UVTool) installDir() string {
	return filepath.Join(u.ToolsDir, "uv", u.Version)
}

// ReleaseURL expands the URL template for the build host.
func (u *UVTool) ReleaseURL() string {
	ext := "tar.gz"
	if u.Host.IsWindows() {
		ext = "zip"
	}
	return strings.NewReplacer(
		"{version}", u.Version,
		"{triple}", u.Host.Triple(),
		"{ext}", ext,
	).Replace(u.URLTemplate)
}

// Ensure returns the path of a usable uv binary: one on PATH, one
// previously installed under ToolsDir, or a freshly downloaded release.
func (u *UVTool) Ensure() (string, error) {
	log := logger.Logger()

	if p, err := shell.LookPath(u.binaryName()); err == nil {
		log.Debugf("using uv from PATH: %s", p)
		return p, nil
	}
	if p := findFile(u.installDir(), u.binaryName()); p != "" {
		log.Debugf("using cached uv: %s", p)
		return p, nil
	}
	if u.Downloader == nil || u.URLTemplate == "" || u.Host == platform.All {
		return "", fmt.Errorf("%w: uv not on PATH and cannot be downloaded for this host", ErrToolMissing)
	}
	return u.install()
}

func (u *UVTool) install() (string, error) {
	log := logger.Logger()
	url := u.ReleaseURL()
	log.Infof("downloading uv %s from %s", u.Version, url)

	if err := os.MkdirAll(u.ToolsDir, 0755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrToolMissing, err)
	}
	scratch, err := os.MkdirTemp(u.ToolsDir, "uv-download-")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrToolMissing, err)
	}
	defer os.RemoveAll(scratch)

	archivePath := filepath.Join(scratch, path.Base(url))
	if err := u.Downloader.DownloadFile(url, archivePath, network.BarProgress("uv")); err != nil {
		return "", fmt.Errorf("%w: downloading uv: %v", ErrToolMissing, err)
	}

	if sums, err := u.Downloader.Get(url + ".sha256"); err != nil {
		log.Warnf("no checksum published for %s, skipping verification: %v", url, err)
	} else {
		want, err := checksum.ParseSumFile(string(sums))
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrToolMissing, err)
		}
		if _, err := checksum.Verify(archivePath, want); err != nil {
			return "", fmt.Errorf("%w: %v", ErrToolMissing, err)
		}
	}

	dest := u.installDir()
	if err := archive.Extract(archivePath, dest, 0); err != nil {
		return "", fmt.Errorf("%w: extracting uv: %v", ErrToolMissing, err)
	}
	bin := findFile(dest, u.binaryName())
	if bin == "" {
		return "", fmt.Errorf("%w: %s not found in release archive", ErrToolMissing, u.binaryName())
	}
	if err := os.Chmod(bin, 0755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrToolMissing, err)
	}
	log.Infof("installed uv to %s", bin)
	return bin, nil
}

func findFile(root, name string) string {
	var found string
	filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && d.Name() == name {
			found = p
			return filepath.SkipAll
		}
		return nil
	})
	return found
}
