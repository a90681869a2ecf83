// Package pypackage holds the data passed between the resolve and collect
// stages of a build.
package pypackage

import (
	"regexp"
	"strings"
	"time"

	"github.com/open-edge-platform/bundlr/internal/platform"
)

// PackageInfo holds everything you need to fetch + verify one artifact.
type PackageInfo struct {
	Name         string   // e.g. "requests"
	Version      string   // e.g. "2.32.3"
	Source       string   // direct reference such as git+https://..., if any
	BinaryURL    string   // pinned download URL, if the resolver knew one
	BinaryHash   string   // expected sha256 of BinaryURL
	Hashes       []string // sha256 digests from the lock file
	Dependencies []string // names this package requires
}

// Pinned returns the canonical name==version form.
func (p PackageInfo) Pinned() string {
	return p.Name + "==" + p.Version
}

// TreeMetadata describes how a DependencyTree was produced.
type TreeMetadata struct {
	PythonVersion string
	Target        platform.Target
	Timestamp     time.Time
	ExcludeDev    bool
	Mock          bool   // synthetic mock data, not a real resolution
	Resolver      string // "uv" or "mock"
}

// IsDirect reports whether the package comes from a VCS reference rather
// than the index.
func (p PackageInfo) IsDirect() bool {
	return strings.HasPrefix(p.Source, "git+")
}

// DependencyTree is the flat, pinned package set for one root package.
// Packages includes the root itself.
type DependencyTree struct {
	Root     PackageInfo
	Packages []PackageInfo
	Metadata TreeMetadata
}

// Find returns the package with the given normalized name.
func (t *DependencyTree) Find(name string) (PackageInfo, bool) {
	want := NormalizeName(name)
	for _, p := range t.Packages {
		if NormalizeName(p.Name) == want {
			return p, true
		}
	}
	return PackageInfo{}, false
}

// Len is the number of packages including the root.
func (t *DependencyTree) Len() int {
	return len(t.Packages)
}

// AssetType classifies a downloaded artifact.
type AssetType int

const (
	Binary AssetType = iota
	Source
	CompiledExt
	Data
)

func (a AssetType) String() string {
	switch a {
	case Binary:
		return "binary"
	case Source:
		return "source"
	case CompiledExt:
		return "compiled-ext"
	default:
		return "data"
	}
}

// Asset is one artifact in the local asset cache.
type Asset struct {
	Type         AssetType
	Package      string
	Version      string
	Filename     string
	RemoteURL    string
	LocalPath    string
	Size         int64
	Hash         string
	PlatformTags []string
	CacheHit     bool
}

// BundleMetadata summarises a collection run.
type BundleMetadata struct {
	Count        int
	CacheHitRate float64
	Duration     time.Duration
	Skipped      []string // packages left out with continue_on_error
}

// AssetBundle is the set of artifacts collected for one target.
type AssetBundle struct {
	Assets    []Asset
	TotalSize int64
	Target    platform.Target
	Metadata  BundleMetadata
}

// Filenames lists asset file names in collection order.
func (b *AssetBundle) Filenames() []string {
	names := make([]string, 0, len(b.Assets))
	for _, a := range b.Assets {
		names = append(names, a.Filename)
	}
	return names
}

var nameSeparators = regexp.MustCompile(`[-_.]+`)

// NormalizeName applies PEP 503 normalization.
func NormalizeName(name string) string {
	return strings.ToLower(nameSeparators.ReplaceAllString(strings.TrimSpace(name), "-"))
}

// IsGitRef reports whether ref names a Git repository rather than an index
// package.
func IsGitRef(ref string) bool {
	r := strings.TrimSpace(ref)
	return strings.HasPrefix(r, "git+") ||
		strings.HasSuffix(r, ".git") ||
		strings.Contains(r, "github.com/") ||
		strings.Contains(r, "gitlab.com/")
}

// LooksLikeURL reports whether ref is a URL rather than a package name.
func LooksLikeURL(ref string) bool {
	r := strings.TrimPrefix(strings.TrimSpace(ref), "git+")
	return strings.Contains(r, "://") || strings.HasPrefix(r, "git@") || IsGitRef(ref)
}

var requirementDelims = regexp.MustCompile(`[\[<>=!~;@ ]`)

// DeriveName returns the package name implied by ref: the last URL path
// segment without ".git" for URLs, otherwise ref itself.
func DeriveName(ref string) string {
	r := strings.TrimSpace(ref)
	if !LooksLikeURL(r) {
		return r
	}
	r = strings.TrimSuffix(r, "/")
	if i := strings.LastIndexAny(r, "/:"); i >= 0 {
		r = r[i+1:]
	}
	if i := strings.Index(r, "@"); i > 0 {
		r = r[:i]
	}
	return strings.TrimSuffix(r, ".git")
}

// RequirementName returns the distribution name of a requirement such as
// "requests[socks]>=2.0" or a Git reference.
func RequirementName(ref string) string {
	r := strings.TrimSpace(ref)
	if LooksLikeURL(r) {
		return DeriveName(r)
	}
	if loc := requirementDelims.FindStringIndex(r); loc != nil {
		r = r[:loc[0]]
	}
	return strings.TrimSpace(r)
}
