// Package resolver turns a package reference into a pinned dependency tree
// by delegating to uv, with an optional deterministic mock.
package resolver

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/open-edge-platform/bundlr/internal/config"
	"github.com/open-edge-platform/bundlr/internal/platform"
	"github.com/open-edge-platform/bundlr/internal/pypackage"
	"github.com/open-edge-platform/bundlr/internal/utils/logger"
	"github.com/open-edge-platform/bundlr/internal/utils/network"
	"github.com/open-edge-platform/bundlr/internal/utils/shell"
)

var (
	ErrToolMissing   = errors.New("resolver tool unavailable")
	ErrResolveFailed = errors.New("dependency resolution failed")
	ErrMalformedLock = errors.New("malformed lock file")
)

// PlaceholderVersion is used when the root line of the lock has no pin.
const PlaceholderVersion = "0.0.0"

// Mode selects between real resolution and the mock table.
type Mode int

const (
	// ModeReal fails when uv fails.
	ModeReal Mode = iota
	// ModeFallback uses the mock table when uv fails.
	ModeFallback
	// ModeMock never runs uv.
	ModeMock
)

func (m Mode) String() string {
	switch m {
	case ModeFallback:
		return "fallback"
	case ModeMock:
		return "mock"
	default:
		return "real"
	}
}

// ModeFor maps configuration to a Mode. A tool of "mock" forces ModeMock;
// allowMock enables the fallback.
func ModeFor(tool string, allowMock bool) Mode {
	switch {
	case tool == "mock":
		return ModeMock
	case allowMock:
		return ModeFallback
	default:
		return ModeReal
	}
}

// Resolver resolves package references for one build.
type Resolver struct {
	Mode        Mode
	Tool        *UVTool
	WorkDir     string
	DevPackages []string
}

// New builds a Resolver from cfg. allowMock is the CLI override that turns
// on the mock fallback.
func New(cfg *config.GlobalConfig, dl network.Downloader, allowMock bool) (*Resolver, error) {
	h := config.NewConfigHelpers(cfg)
	toolsDir, err := h.ToolsDir()
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
	return &Resolver{
		Mode: ModeFor(cfg.Resolver.Tool, cfg.Resolver.AllowMock || allowMock),
		Tool: &UVTool{
			Version:     cfg.Resolver.UVVersion,
			URLTemplate: cfg.Resolver.UVURLTemplate,
			ToolsDir:    toolsDir,
			Downloader:  dl,
			Host:        platform.Host(),
		},
		WorkDir:     workDir,
		DevPackages: cfg.Resolver.DevPackages,
	}, nil
}

// Resolve produces the pinned dependency tree of ref for target.
func (r *Resolver) Resolve(ref string, target platform.Target, pythonVersion string, excludeDev bool) (*pypackage.DependencyTree, error) {
	log := logger.Logger()
	if strings.TrimSpace(ref) == "" {
		return nil, fmt.Errorf("%w: empty package reference", ErrResolveFailed)
	}

	var tree *pypackage.DependencyTree
	var err error
	switch r.Mode {
	case ModeMock:
		tree = Mock(ref, target, pythonVersion)
	default:
		tree, err = r.resolveWithUV(ref, target, pythonVersion)
		if err != nil {
			if r.Mode != ModeFallback {
				return nil, err
			}
			log.Warnf("resolution of %s failed, falling back to mock dependencies: %v", ref, err)
			tree = Mock(ref, target, pythonVersion)
		}
	}

	if tree.Metadata.Mock {
		log.Warnf("using MOCK dependency data for %s (%d packages); this is not a real resolution", ref, tree.Len())
	}
	if excludeDev {
		tree.Packages = r.withoutDev(tree.Packages)
		tree.Metadata.ExcludeDev = true
	}
	log.Infof("resolved %s %s: %d packages for %s", tree.Root.Name, tree.Root.Version, tree.Len(), target)
	return tree, nil
}

func (r *Resolver) resolveWithUV(ref string, target platform.Target, pythonVersion string) (*pypackage.DependencyTree, error) {
	log := logger.Logger()
	uv, err := r.Tool.Ensure()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(r.WorkDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResolveFailed, err)
	}
	workDir, err := os.MkdirTemp(r.WorkDir, "resolve-")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResolveFailed, err)
	}
	defer os.RemoveAll(workDir)

	line := RequirementLine(ref)
	if err := os.WriteFile(filepath.Join(workDir, "requirements.in"), []byte(line+"\n"), 0644); err != nil {
		return nil, fmt.Errorf("%w: writing requirements.in: %v", ErrResolveFailed, err)
	}

	argv := []string{uv, "pip", "compile", "requirements.in",
		"-o", "requirements.txt",
		"--python-version", platform.MajorMinor(pythonVersion),
		"--generate-hashes",
		"--no-annotate",
		"--no-header",
	}
	if target != platform.All {
		argv = append(argv, "--python-platform", target.Triple())
	}
	log.Debugf("resolving %q with uv", line)
	env := []string{"UV_NO_PROGRESS=1"}
	for k, v := range shell.GetOSProxyEnvirons() {
		env = append(env, k+"="+v)
	}
	code, err := shell.Run(argv, workDir, env)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResolveFailed, err)
	}
	if code != 0 {
		return nil, fmt.Errorf("%w: uv exited with code %d", ErrResolveFailed, code)
	}

	data, err := os.ReadFile(filepath.Join(workDir, "requirements.txt"))
	if err != nil {
		return nil, fmt.Errorf("%w: reading lock: %v", ErrResolveFailed, err)
	}
	entries, err := ParseLock(data)
	if err != nil {
		return nil, err
	}
	return buildTree(ref, entries, target, pythonVersion), nil
}

func buildTree(ref string, entries []LockEntry, target platform.Target, pythonVersion string) *pypackage.DependencyTree {
	log := logger.Logger()
	rootName := pypackage.NormalizeName(pypackage.RequirementName(ref))
	gitRef := pypackage.IsGitRef(ref)

	rootIdx := -1
	var packages []pypackage.PackageInfo
	for _, e := range entries {
		isRoot := rootIdx < 0 && (pypackage.NormalizeName(e.Name) == rootName || (gitRef && e.Source != "" && sameRepo(e.Source, ref)))
		if e.Version == "" && e.Source == "" && !isRoot {
			log.Warnf("skipping unpinned lock line %q", e.Raw)
			continue
		}
		p := pypackage.PackageInfo{
			Name:    e.Name,
			Version: e.Version,
			Source:  e.Source,
			Hashes:  e.Hashes,
		}
		if !strings.HasPrefix(e.Source, "git+") && e.Source != "" {
			p.BinaryURL = e.Source
		}
		if isRoot {
			rootIdx = len(packages)
		}
		packages = append(packages, p)
	}

	if rootIdx < 0 {
		log.Warnf("root package %s missing from lock, using placeholder version %s", rootName, PlaceholderVersion)
		packages = append([]pypackage.PackageInfo{{Name: pypackage.RequirementName(ref)}}, packages...)
		rootIdx = 0
	} else if rootIdx > 0 {
		root := packages[rootIdx]
		copy(packages[1:rootIdx+1], packages[:rootIdx])
		packages[0] = root
	}
	if packages[0].Version == "" {
		log.Warnf("malformed root line for %s, using placeholder version %s", packages[0].Name, PlaceholderVersion)
		packages[0].Version = PlaceholderVersion
	}
	for _, p := range packages[1:] {
		packages[0].Dependencies = append(packages[0].Dependencies, p.Name)
	}

	return &pypackage.DependencyTree{
		Root:     packages[0],
		Packages: packages,
		Metadata: pypackage.TreeMetadata{
			PythonVersion: pythonVersion,
			Target:        target,
			Timestamp:     time.Now().UTC(),
			Resolver:      "uv",
		},
	}
}

func sameRepo(source, ref string) bool {
	norm := func(s string) string {
		s = strings.TrimPrefix(strings.TrimSpace(s), "git+")
		if i := strings.Index(s, "://"); i >= 0 {
			s = s[i+3:]
		}
		if i := strings.LastIndex(s, "@"); i > strings.LastIndex(s, "/") {
			s = s[:i]
		}
		return strings.TrimSuffix(strings.TrimSuffix(s, "/"), ".git")
	}
	return norm(source) == norm(ref)
}

func (r *Resolver) withoutDev(packages []pypackage.PackageInfo) []pypackage.PackageInfo {
	dev := make(map[string]bool, len(r.DevPackages))
	for _, name := range r.DevPackages {
		dev[pypackage.NormalizeName(name)] = true
	}
	out := packages[:0:0]
	for i, p := range packages {
		if i > 0 && dev[pypackage.NormalizeName(p.Name)] {
			logger.Logger().Debugf("excluding dev dependency %s", p.Name)
			continue
		}
		out = append(out, p)
	}
	return out
}
