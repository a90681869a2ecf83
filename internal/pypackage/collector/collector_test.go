package collector

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/open-edge-platform/bundlr/internal/platform"
	"github.com/open-edge-platform/bundlr/internal/pypackage"
	"github.com/open-edge-platform/bundlr/internal/pypackage/wheel"
	"github.com/open-edge-platform/bundlr/internal/utils/logger"
	"github.com/open-edge-platform/bundlr/internal/utils/network"
)

func sum(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:])
}

// fakeIndex serves a tiny package index with JSON, simple and files
// endpoints.
type fakeIndex struct {
	*httptest.Server
	mu    sync.Mutex
	files map[string]string // path -> content
	json  map[string]releaseInfo
	hits  map[string]int
}

func newFakeIndex(t *testing.T) *fakeIndex {
	t.Helper()
	idx := &fakeIndex{files: map[string]string{}, json: map[string]releaseInfo{}, hits: map[string]int{}}
	idx.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idx.mu.Lock()
		idx.hits[r.URL.Path]++
		idx.mu.Unlock()
		if info, ok := idx.json[r.URL.Path]; ok {
			json.NewEncoder(w).Encode(info)
			return
		}
		if content, ok := idx.files[r.URL.Path]; ok {
			fmt.Fprint(w, content)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(idx.Close)
	return idx
}

func (f *fakeIndex) addFile(p, content string) string {
	f.files[p] = content
	return f.URL + p
}

func (f *fakeIndex) hitCount(p string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[p]
}

func newTestCollector(t *testing.T, idx *fakeIndex) *Collector {
	t.Helper()
	return &Collector{
		IndexURL:      idx.URL,
		FilesURL:      idx.URL,
		CacheDir:      filepath.Join(t.TempDir(), "assets"),
		ScratchDir:    t.TempDir(),
		Workers:       2,
		PythonVersion: "3.11",
		Downloader:    network.NewClient(0, 0),
		Report:        &logger.StringListReport{Title: "test"},
	}
}

func seedIndex(idx *fakeIndex) {
	sixWheel := "six-1.16.0-py2.py3-none-any.whl"
	idx.json["/pypi/six/1.16.0/json"] = releaseInfo{URLs: []releaseFile{
		{Filename: sixWheel, URL: idx.addFile("/files/"+sixWheel, "six wheel"), PackageType: "bdist_wheel",
			Digests: map[string]string{"sha256": sum("six wheel")}},
		{Filename: "six-1.16.0.tar.gz", URL: idx.addFile("/files/six-1.16.0.tar.gz", "six sdist"), PackageType: "sdist"},
	}}

	numpyWin := "numpy-2.0.1-cp311-cp311-win_amd64.whl"
	numpyOld := "numpy-2.0.1-cp39-cp39-manylinux2014_x86_64.whl"
	idx.json["/pypi/numpy/2.0.1/json"] = releaseInfo{URLs: []releaseFile{
		{Filename: numpyWin, URL: idx.addFile("/files/"+numpyWin, "numpy win"), PackageType: "bdist_wheel"},
		{Filename: numpyOld, URL: idx.addFile("/files/"+numpyOld, "numpy cp39"), PackageType: "bdist_wheel"},
		{Filename: "numpy-2.0.1.tar.gz", URL: idx.addFile("/files/numpy-2.0.1.tar.gz", "numpy sdist"), PackageType: "sdist",
			Digests: map[string]string{"sha256": sum("numpy sdist")}},
	}}

	idx.addFile("/files/legacy_pkg-1.0.tar.gz", "legacy sdist")
	idx.files["/simple/legacy-pkg/"] = `<html><body>
<a href="../../files/legacy_pkg-0.9.tar.gz">legacy_pkg-0.9.tar.gz</a><br/>
<a href="../../files/legacy_pkg-1.0.tar.gz#sha256=` + sum("legacy sdist") + `">legacy_pkg-1.0.tar.gz</a>
</body></html>`

	idx.addFile("/packages/source/o/oldpkg/oldpkg-2.0.tar.gz", "old sdist")
}

func TestCollectAssets(t *testing.T) {
	idx := newFakeIndex(t)
	seedIndex(idx)
	c := newTestCollector(t, idx)
	packages := []pypackage.PackageInfo{
		{Name: "six", Version: "1.16.0"},
		{Name: "numpy", Version: "2.0.1"},
		{Name: "legacy_pkg", Version: "1.0"},
		{Name: "oldpkg", Version: "2.0"},
	}

	bundle, err := c.CollectAssets(packages, platform.LinuxX86_64)
	if err != nil {
		t.Fatalf("CollectAssets failed: %v", err)
	}
	if bundle.Metadata.Count != 4 || len(bundle.Assets) != 4 {
		t.Fatalf("expected 4 assets, got %d", bundle.Metadata.Count)
	}
	if bundle.Target != platform.LinuxX86_64 {
		t.Errorf("unexpected target %s", bundle.Target)
	}

	want := []struct {
		filename string
		typ      pypackage.AssetType
	}{
		{"six-1.16.0-py2.py3-none-any.whl", pypackage.Binary},
		{"numpy-2.0.1.tar.gz", pypackage.Source},
		{"legacy_pkg-1.0.tar.gz", pypackage.Source},
		{"oldpkg-2.0.tar.gz", pypackage.Source},
	}
	var total int64
	for i, w := range want {
		a := bundle.Assets[i]
		if a.Filename != w.filename || a.Type != w.typ {
			t.Errorf("asset %d: got %s (%s), want %s (%s)", i, a.Filename, a.Type, w.filename, w.typ)
		}
		if a.CacheHit {
			t.Errorf("%s: unexpected cache hit on first run", a.Filename)
		}
		data, err := os.ReadFile(a.LocalPath)
		if err != nil {
			t.Fatalf("reading %s: %v", a.LocalPath, err)
		}
		if a.Hash != sum(string(data)) || a.Size != int64(len(data)) {
			t.Errorf("%s: hash/size not recorded", a.Filename)
		}
		total += a.Size
	}
	if bundle.TotalSize != total {
		t.Errorf("TotalSize = %d, want %d", bundle.TotalSize, total)
	}
	if got := bundle.Assets[0].PlatformTags; len(got) != 1 || got[0] != "any" {
		t.Errorf("expected wheel platform tags, got %v", got)
	}
	if c.Report.Len() != 4 {
		t.Errorf("expected 4 fetched URLs in report, got %d", c.Report.Len())
	}

	again, err := c.CollectAssets(packages, platform.LinuxX86_64)
	if err != nil {
		t.Fatalf("second CollectAssets failed: %v", err)
	}
	if again.Metadata.CacheHitRate != 1 {
		t.Errorf("expected full cache hit rate, got %f", again.Metadata.CacheHitRate)
	}
	if n := idx.hitCount("/files/six-1.16.0-py2.py3-none-any.whl"); n != 1 {
		t.Errorf("expected cached wheel to be downloaded once, got %d", n)
	}
}

func TestCollectAssetsPrefersTargetWheel(t *testing.T) {
	idx := newFakeIndex(t)
	seedIndex(idx)
	c := newTestCollector(t, idx)

	bundle, err := c.CollectAssets([]pypackage.PackageInfo{{Name: "numpy", Version: "2.0.1"}}, platform.WindowsX86_64)
	if err != nil {
		t.Fatalf("CollectAssets failed: %v", err)
	}
	if a := bundle.Assets[0]; a.Filename != "numpy-2.0.1-cp311-cp311-win_amd64.whl" || a.Type != pypackage.CompiledExt {
		t.Errorf("expected compiled windows wheel, got %s (%s)", a.Filename, a.Type)
	}
}

func TestCollectAssetsHashMismatch(t *testing.T) {
	idx := newFakeIndex(t)
	seedIndex(idx)
	c := newTestCollector(t, idx)
	packages := []pypackage.PackageInfo{
		{Name: "six", Version: "1.16.0", Hashes: []string{sum("something else")}},
		{Name: "oldpkg", Version: "2.0"},
	}

	_, err := c.CollectAssets(packages, platform.LinuxX86_64)
	if !errors.Is(err, ErrHashMismatch) {
		t.Fatalf("expected ErrHashMismatch, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(c.CacheDir, "six-1.16.0-py2.py3-none-any.whl")); !os.IsNotExist(err) {
		t.Error("mismatched download must not stay in the cache")
	}

	c.ContinueOnError = true
	bundle, err := c.CollectAssets(packages, platform.LinuxX86_64)
	if err != nil {
		t.Fatalf("CollectAssets with continue_on_error failed: %v", err)
	}
	if len(bundle.Assets) != 1 || len(bundle.Metadata.Skipped) != 1 || bundle.Metadata.Skipped[0] != "six==1.16.0" {
		t.Errorf("expected six to be skipped, got assets=%d skipped=%v", len(bundle.Assets), bundle.Metadata.Skipped)
	}
}

func TestCollectAssetsKnownBinaryURL(t *testing.T) {
	idx := newFakeIndex(t)
	url := idx.addFile("/direct/tool-1.0-py3-none-any.whl", "direct wheel")
	c := newTestCollector(t, idx)

	bundle, err := c.CollectAssets([]pypackage.PackageInfo{
		{Name: "tool", Version: "1.0", BinaryURL: url + "#sha256=ignored", BinaryHash: sum("direct wheel")},
	}, platform.MacosAarch64)
	if err != nil {
		t.Fatalf("CollectAssets failed: %v", err)
	}
	if bundle.Assets[0].Filename != "tool-1.0-py3-none-any.whl" {
		t.Errorf("unexpected filename %s", bundle.Assets[0].Filename)
	}
	if idx.hitCount("/pypi/tool/1.0/json") != 0 {
		t.Error("known binary URL must not query the index")
	}
}

func TestCollectAssetsDownloadFailureAborts(t *testing.T) {
	idx := newFakeIndex(t)
	c := newTestCollector(t, idx)

	_, err := c.CollectAssets([]pypackage.PackageInfo{{Name: "missing", Version: "1.0"}}, platform.LinuxX86_64)
	if !errors.Is(err, ErrDownload) {
		t.Fatalf("expected ErrDownload, got %v", err)
	}
}

func TestCollectAssetsFromGit(t *testing.T) {
	orig := CloneRepo
	t.Cleanup(func() { CloneRepo = orig })
	var gotURL, gotRef string
	CloneRepo = func(repoURL, ref, dir string) error {
		gotURL, gotRef = repoURL, ref
		if err := os.MkdirAll(filepath.Join(dir, ".git"), 0755); err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(dir, "pyproject.toml"), []byte("[project]\nname = \"mytool\"\n"), 0644)
	}

	idx := newFakeIndex(t)
	c := newTestCollector(t, idx)
	bundle, err := c.CollectAssets([]pypackage.PackageInfo{
		{Name: "mytool", Version: "0.0.0", Source: "git+https://github.com/acme/mytool.git@0123456789abcdef"},
	}, platform.LinuxX86_64)
	if err != nil {
		t.Fatalf("CollectAssets failed: %v", err)
	}
	if gotURL != "https://github.com/acme/mytool.git" || gotRef != "0123456789abcdef" {
		t.Errorf("unexpected clone args %s @ %s", gotURL, gotRef)
	}
	a := bundle.Assets[0]
	if a.Type != pypackage.Source || !strings.HasPrefix(a.Filename, "mytool-0.0.0+git.0123456789ab") {
		t.Errorf("unexpected git asset %+v", a)
	}
	if a.Size == 0 || a.Hash == "" {
		t.Error("git asset should be hashed")
	}
}

func TestScanAnchors(t *testing.T) {
	page := []byte(`<a href="a-1.0.tar.gz">a</a> <a href="https://cdn.example/b-1.0.whl#sha256=abc">b</a>
<a href="/x/c-1.0.zip?x=1&amp;y=2">c</a>`)
	anchors, err := scanAnchors(page, "https://index.example/simple/a/")
	if err != nil {
		t.Fatalf("scanAnchors failed: %v", err)
	}
	if len(anchors) != 3 {
		t.Fatalf("expected 3 anchors, got %d", len(anchors))
	}
	if anchors[0].URL != "https://index.example/simple/a/a-1.0.tar.gz" {
		t.Errorf("relative link not resolved: %s", anchors[0].URL)
	}
	if anchors[1].SHA256 != "abc" || anchors[1].Filename != "b-1.0.whl" {
		t.Errorf("unexpected anchor %+v", anchors[1])
	}
	if anchors[2].Filename != "c-1.0.zip" || anchors[2].URL != "https://index.example/x/c-1.0.zip?x=1&y=2" {
		t.Errorf("unexpected anchor %+v", anchors[2])
	}
}

func TestScanAnchorsInvalidInput(t *testing.T) {
	if _, err := scanAnchors([]byte(`<a href="a-1.0.tar.gz">a</a>`), "http://index.example/%zz/"); err == nil {
		t.Error("expected an error for an unparsable listing url")
	}

	page := []byte(`<a href="http://bad host/x-1.0.tar.gz">x</a> <a href="y-1.0.tar.gz">y</a>`)
	anchors, err := scanAnchors(page, "https://index.example/simple/y/")
	if err != nil {
		t.Fatalf("scanAnchors failed: %v", err)
	}
	if len(anchors) != 1 || anchors[0].Filename != "y-1.0.tar.gz" {
		t.Errorf("malformed link should be skipped, got %+v", anchors)
	}
}

func TestIsSdistFor(t *testing.T) {
	if !isSdistFor("Legacy.Pkg-1.0.tar.gz", "legacy_pkg", "1.0") {
		t.Error("expected normalized match")
	}
	if isSdistFor("legacy_pkg-1.0.1.tar.gz", "legacy_pkg", "1.0") || isSdistFor("legacy_pkg-1.0.whl", "legacy_pkg", "1.0") {
		t.Error("unexpected match")
	}
}

func TestClassify(t *testing.T) {
	tests := map[string]pypackage.AssetType{
		"a-1-py3-none-any.whl":          pypackage.Binary,
		"a-1-cp311-cp311-win_amd64.whl": pypackage.CompiledExt,
		"a-1.tar.gz":                    pypackage.Source,
		"a-1.zip":                       pypackage.Source,
		"a-1.json":                      pypackage.Data,
	}
	for name, want := range tests {
		if got := classify(name); got != want {
			t.Errorf("classify(%s) = %s, want %s", name, got, want)
		}
	}
	if _, err := wheel.ParseFilename("a-1-py3-none-any.whl"); err != nil {
		t.Fatal(err)
	}
}
