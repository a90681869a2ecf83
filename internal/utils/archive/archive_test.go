package archive

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
}

func tarBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0644, Size: int64(len(content)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("header: %v", err)
		}
		tw.Write([]byte(content))
	}
	tw.Close()
	return buf.Bytes()
}

func TestDetectFormat(t *testing.T) {
	tests := map[string]Format{
		"cpython-3.11.9-x86_64-unknown-linux-gnu-install_only.tar.gz": FormatTarGz,
		"pkg.tgz":                     FormatTarGz,
		"cpython-full.tar.zst":        FormatTarZst,
		"Python-3.12.4.tar.xz":        FormatTarXz,
		"plain.tar":                   FormatTar,
		"uv-x86_64-pc-windows.zip":    FormatZip,
		"six-1.16.0-py2.py3-none-any.whl": FormatZip,
		"README.md":                   FormatUnknown,
	}
	for name, want := range tests {
		if got := DetectFormat(name); got != want {
			t.Errorf("DetectFormat(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestCreateAndExtractTarGzWithStrip(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"bin/python3":         "#!interp",
		"lib/python3.11/os.py": "import sys",
	})
	if err := os.Symlink("python3", filepath.Join(src, "bin", "python")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	archivePath := filepath.Join(t.TempDir(), "python_runtime.tar.gz")
	if err := CreateTarGz(src, archivePath, "python"); err != nil {
		t.Fatalf("CreateTarGz failed: %v", err)
	}

	dest := t.TempDir()
	if err := Extract(archivePath, dest, 1); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dest, "lib", "python3.11", "os.py"))
	if err != nil || string(data) != "import sys" {
		t.Fatalf("expected stripped file content, got %q (%v)", data, err)
	}
	link, err := os.Readlink(filepath.Join(dest, "bin", "python"))
	if err != nil || link != "python3" {
		t.Errorf("expected symlink to python3, got %q (%v)", link, err)
	}
}

func TestExtractZstdAndXz(t *testing.T) {
	raw := tarBytes(t, map[string]string{"python/README": "hello"})

	dir := t.TempDir()
	zstPath := filepath.Join(dir, "dist.tar.zst")
	var zbuf bytes.Buffer
	zw, err := zstd.NewWriter(&zbuf)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	zw.Write(raw)
	zw.Close()
	os.WriteFile(zstPath, zbuf.Bytes(), 0644)

	xzPath := filepath.Join(dir, "dist.tar.xz")
	var xbuf bytes.Buffer
	xw, err := xz.NewWriter(&xbuf)
	if err != nil {
		t.Fatalf("xz writer: %v", err)
	}
	xw.Write(raw)
	xw.Close()
	os.WriteFile(xzPath, xbuf.Bytes(), 0644)

	for _, p := range []string{zstPath, xzPath} {
		dest := t.TempDir()
		if err := Extract(p, dest, 0); err != nil {
			t.Fatalf("Extract(%s) failed: %v", filepath.Base(p), err)
		}
		data, err := os.ReadFile(filepath.Join(dest, "python", "README"))
		if err != nil || string(data) != "hello" {
			t.Errorf("%s: unexpected content %q (%v)", filepath.Base(p), data, err)
		}
	}
}

func TestExtractZip(t *testing.T) {
	zipPath := filepath.Join(t.TempDir(), "six-1.16.0-py2.py3-none-any.whl")
	f, _ := os.Create(zipPath)
	zw := zip.NewWriter(f)
	w, _ := zw.Create("six.py")
	w.Write([]byte("# six"))
	zw.Close()
	f.Close()

	dest := t.TempDir()
	if err := Extract(zipPath, dest, 0); err != nil {
		t.Fatalf("Extract zip failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "six.py")); err != nil {
		t.Errorf("expected six.py extracted: %v", err)
	}
}

func TestExtractRejectsTraversal(t *testing.T) {
	raw := tarBytes(t, map[string]string{"../../evil": "x"})
	p := filepath.Join(t.TempDir(), "evil.tar")
	os.WriteFile(p, raw, 0644)

	if err := Extract(p, t.TempDir(), 0); err == nil {
		t.Fatal("expected traversal entry to be rejected")
	}
}

func TestExtractRejectsEscapingSymlink(t *testing.T) {
	for _, link := range []string{"../../outside", "/etc"} {
		var buf bytes.Buffer
		tw := tar.NewWriter(&buf)
		tw.WriteHeader(&tar.Header{Name: "pkg/escape", Linkname: link, Typeflag: tar.TypeSymlink, Mode: 0777})
		tw.Close()
		p := filepath.Join(t.TempDir(), "evil.tar")
		os.WriteFile(p, buf.Bytes(), 0644)

		if err := Extract(p, t.TempDir(), 0); err == nil {
			t.Errorf("expected symlink to %s to be rejected", link)
		}
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	tw.WriteHeader(&tar.Header{Name: "python/bin/python3", Linkname: "python3.11", Typeflag: tar.TypeSymlink, Mode: 0777})
	tw.Close()
	p := filepath.Join(t.TempDir(), "ok.tar")
	os.WriteFile(p, buf.Bytes(), 0644)
	if err := Extract(p, t.TempDir(), 1); err != nil {
		t.Errorf("relative symlink inside the tree rejected: %v", err)
	}
}

func TestExtractUnsupported(t *testing.T) {
	p := filepath.Join(t.TempDir(), "notes.txt")
	os.WriteFile(p, []byte("x"), 0644)
	if err := Extract(p, t.TempDir(), 0); err == nil {
		t.Fatal("expected unsupported format error")
	}
}

func TestDirSizeAndCopyDir(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{"a": "12345", "sub/b": "123"})

	size, err := DirSize(src)
	if err != nil || size != 8 {
		t.Fatalf("DirSize = %d (%v), want 8", size, err)
	}

	dst := filepath.Join(t.TempDir(), "copy")
	if err := CopyDir(src, dst); err != nil {
		t.Fatalf("CopyDir failed: %v", err)
	}
	copied, _ := DirSize(dst)
	if copied != size {
		t.Errorf("copy size %d != source size %d", copied, size)
	}
}
