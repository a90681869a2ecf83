package bundle

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/open-edge-platform/bundlr/internal/cache"
	"github.com/open-edge-platform/bundlr/internal/platform"
	"github.com/open-edge-platform/bundlr/internal/utils/logger"
	"github.com/open-edge-platform/bundlr/internal/utils/shell"
)

// stubSources holds the launcher program and the payload package it uses.
//
//go:embed stub/main.go payload/payload.go
var stubSources embed.FS

const stubModule = "github.com/open-edge-platform/bundlr"

// StubName is the file name of a prebuilt launcher for target.
func StubName(target platform.Target) string {
	return "bundlr-stub-" + target.String() + target.ExecutableExt()
}

// StubCompiler yields a launcher executable for a target.
type StubCompiler interface {
	Stub(target platform.Target) (string, error)
}

// PrebuiltStubs serves launchers from a directory of StubName files and
// falls back to Next when one is missing.
type PrebuiltStubs struct {
	Dir  string
	Next StubCompiler
}

func (p *PrebuiltStubs) Stub(target platform.Target) (string, error) {
	if p.Dir != "" {
		path := filepath.Join(p.Dir, StubName(target))
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			logger.Logger().Debugf("using prebuilt launcher %s", path)
			return path, nil
		}
	}
	if p.Next == nil {
		return "", fmt.Errorf("%w: no launcher for %s in %q", ErrStubCompile, target, p.Dir)
	}
	return p.Next.Stub(target)
}

// GoStubCompiler cross-compiles the embedded launcher sources with the Go
// toolchain. Results are kept in CacheDir keyed by source digest.
type GoStubCompiler struct {
	GoBinary   string
	CacheDir   string
	ScratchDir string
}

func (g *GoStubCompiler) Stub(target platform.Target) (string, error) {
	log := logger.Logger()
	if target == platform.All {
		return "", fmt.Errorf("%w: a concrete target is required", ErrStubCompile)
	}

	digest, err := sourceDigest()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStubCompile, err)
	}
	out := filepath.Join(g.CacheDir, digest[:12], StubName(target))
	if _, err := os.Stat(out); err == nil {
		log.Debugf("using cached launcher %s", out)
		return out, nil
	}

	goBin := g.GoBinary
	if goBin == "" {
		goBin = "go"
	}
	if _, err := shell.LookPath(goBin); err != nil {
		return "", fmt.Errorf("%w: go toolchain %q not found; set bundle.stub_dir to prebuilt launchers", ErrStubCompile, goBin)
	}

	if err := os.MkdirAll(g.ScratchDir, 0755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStubCompile, err)
	}
	src, err := os.MkdirTemp(g.ScratchDir, "stub-src-")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStubCompile, err)
	}
	defer os.RemoveAll(src)
	if err := writeStubModule(src); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStubCompile, err)
	}

	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStubCompile, err)
	}
	tmpOut := out + ".tmp"
	argv := []string{goBin, "build", "-trimpath", "-ldflags", "-s -w", "-o", tmpOut, "./internal/bundle/stub"}
	env := []string{
		"GOOS=" + target.GOOS(),
		"GOARCH=" + target.GOARCH(),
		"CGO_ENABLED=0",
		"GOWORK=off",
		"GOFLAGS=-mod=mod",
	}
	log.Infof("compiling launcher for %s", target)
	if _, err := shell.Output(argv, src, env); err != nil {
		os.Remove(tmpOut)
		return "", fmt.Errorf("%w: %v", ErrStubCompile, err)
	}
	if err := os.Rename(tmpOut, out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStubCompile, err)
	}
	return out, nil
}

// writeStubModule lays the embedded sources out as a standalone module
// under dir, keeping their import paths.
func writeStubModule(dir string) error {
	gomod := "module " + stubModule + "\n\ngo 1.22\n"
	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte(gomod), 0644); err != nil {
		return err
	}
	return fs.WalkDir(stubSources, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := stubSources.ReadFile(p)
		if err != nil {
			return err
		}
		dest := filepath.Join(dir, "internal", "bundle", filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return err
		}
		return os.WriteFile(dest, data, 0644)
	})
}

func sourceDigest() (string, error) {
	var parts []string
	err := fs.WalkDir(stubSources, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := stubSources.ReadFile(p)
		if err != nil {
			return err
		}
		parts = append(parts, p, string(data))
		return nil
	})
	if err != nil {
		return "", err
	}
	return cache.Key(parts...), nil
}

// NewStubCompiler returns the launcher source configured for this process:
// prebuilt launchers from stubDir first, then the Go toolchain.
func NewStubCompiler(stubDir, goBinary, cacheDir, scratchDir string) StubCompiler {
	return &PrebuiltStubs{
		Dir: strings.TrimSpace(stubDir),
		Next: &GoStubCompiler{
			GoBinary:   goBinary,
			CacheDir:   cacheDir,
			ScratchDir: scratchDir,
		},
	}
}
