package bundle

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/open-edge-platform/bundlr/internal/pypackage"
	"github.com/open-edge-platform/bundlr/internal/utils/archive"
	"github.com/open-edge-platform/bundlr/internal/utils/logger"
)

// sitePackagesDir is the payload directory wheels are installed into. The
// launcher puts it on PYTHONPATH.
const sitePackagesDir = "site-packages"

// installAssets unpacks every wheel into dir and returns the file names of
// assets that could not be installed without a build step.
func installAssets(dir string, assets []pypackage.Asset) ([]string, error) {
	log := logger.Logger()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating site-packages: %w", err)
	}
	var unbuilt []string
	for _, a := range assets {
		if !strings.HasSuffix(strings.ToLower(a.Filename), ".whl") {
			log.Warnf("%s is a source distribution: it is shipped in assets/ but is not importable until built; publish a wheel for the target", a.Filename)
			unbuilt = append(unbuilt, a.Filename)
			continue
		}
		if err := installWheel(a.LocalPath, dir); err != nil {
			return unbuilt, fmt.Errorf("installing %s: %w", a.Filename, err)
		}
		log.Debugf("installed %s", a.Filename)
	}
	return unbuilt, nil
}

// installWheel extracts a wheel into dir and folds its purelib and platlib
// data schemes into the top level. Other schemes (scripts, headers, data)
// are dropped.
func installWheel(whl, dir string) error {
	if err := archive.Extract(whl, dir, 0); err != nil {
		return err
	}
	dataDirs, err := filepath.Glob(filepath.Join(dir, "*.data"))
	if err != nil {
		return err
	}
	for _, d := range dataDirs {
		for _, scheme := range []string{"purelib", "platlib"} {
			src := filepath.Join(d, scheme)
			entries, err := os.ReadDir(src)
			if os.IsNotExist(err) {
				continue
			}
			if err != nil {
				return err
			}
			for _, e := range entries {
				if err := mergeInto(filepath.Join(src, e.Name()), filepath.Join(dir, e.Name())); err != nil {
					return fmt.Errorf("installing %s data: %w", scheme, err)
				}
			}
		}
		if err := os.RemoveAll(d); err != nil {
			return err
		}
	}
	return nil
}

// mergeInto moves src to dst, merging directory contents when both exist.
func mergeInto(src, dst string) error {
	dstInfo, err := os.Lstat(dst)
	if os.IsNotExist(err) {
		return os.Rename(src, dst)
	}
	if err != nil {
		return err
	}
	srcInfo, err := os.Lstat(src)
	if err != nil {
		return err
	}
	if !srcInfo.IsDir() || !dstInfo.IsDir() {
		if err := os.RemoveAll(dst); err != nil {
			return err
		}
		return os.Rename(src, dst)
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := mergeInto(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
