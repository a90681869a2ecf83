// Command stub is the launcher prepended to every bundle. It unpacks the
// payload appended to its own executable into a temporary directory, starts
// the bundled interpreter and exits with the interpreter's exit code.
//
// It is cross-compiled per target from embedded sources and may only use
// the standard library and the payload package.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/open-edge-platform/bundlr/internal/bundle/payload"
)

const (
	bundleDir      = "bundle"
	runtimeArchive = "python_runtime.tar.gz"
	metadataFile   = "metadata.json"
	assetsDir      = "assets"
	sitePackages   = "site-packages"
	runtimeDir     = "runtime"
	tempAttempts   = 10
)

// metadata is the subset of metadata.json the launcher needs.
type metadata struct {
	PackageName    string   `json:"package_name"`
	PythonVersion  string   `json:"python_version"`
	TargetPlatform string   `json:"target_platform"`
	EntryPoint     *string  `json:"entry_point"`
	UnbuiltSources []string `json:"unbuilt_sources"`
}

var debug = os.Getenv("BUNDLR_DEBUG") != ""

func debugf(format string, args ...interface{}) {
	if debug {
		fmt.Fprintf(os.Stderr, "bundlr: "+format+"\n", args...)
	}
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	exe, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "bundlr: cannot locate executable: %v\n", err)
		return 1
	}

	tmp, err := makeTempDir(os.TempDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "bundlr: %v\n", err)
		return 1
	}
	defer os.RemoveAll(tmp)

	meta, err := unpack(exe, tmp)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bundlr: %v\n", err)
		return 1
	}

	if len(meta.UnbuiltSources) > 0 {
		debugf("source distributions not installed: %s", strings.Join(meta.UnbuiltSources, ", "))
	}

	cmd := command(tmp, meta, args, runtime.GOOS)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	debugf("running %s", strings.Join(cmd.Args, " "))

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode()
		}
		fmt.Fprintf(os.Stderr, "bundlr: starting python: %v\n", err)
		return 1
	}
	return 0
}

// makeTempDir creates bundlr-<timestamp>-<random> under parent, retrying on
// name collisions.
func makeTempDir(parent string) (string, error) {
	for i := 0; i < tempAttempts; i++ {
		name := fmt.Sprintf("bundlr-%d-%d", time.Now().UnixNano(), rand.Uint32())
		dir := filepath.Join(parent, name)
		err := os.Mkdir(dir, 0700)
		if err == nil {
			return dir, nil
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("creating temp dir: %w", err)
		}
	}
	return "", fmt.Errorf("creating temp dir: %d name collisions", tempAttempts)
}

// unpack extracts the payload of exe and the runtime inside it into tmp.
func unpack(exe, tmp string) (*metadata, error) {
	f, err := os.Open(exe)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	offset, length, err := payload.Locate(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("reading bundle: %w", err)
	}
	if t, err := payload.ReadTrailer(f, info.Size()); err == nil {
		if err := payload.Verify(f, t); err != nil {
			return nil, err
		}
	}
	debugf("payload at %d (%d bytes)", offset, length)

	if err := payload.ExtractTarGz(io.NewSectionReader(f, offset, length), tmp, 0); err != nil {
		return nil, fmt.Errorf("extracting payload: %w", err)
	}

	rt, err := os.Open(filepath.Join(tmp, bundleDir, runtimeArchive))
	if err != nil {
		return nil, fmt.Errorf("bundle has no runtime: %w", err)
	}
	defer rt.Close()
	if err := payload.ExtractTarGz(rt, filepath.Join(tmp, runtimeDir), 1); err != nil {
		return nil, fmt.Errorf("extracting runtime: %w", err)
	}

	data, err := os.ReadFile(filepath.Join(tmp, bundleDir, metadataFile))
	if err != nil {
		return nil, fmt.Errorf("reading metadata: %w", err)
	}
	var meta metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parsing metadata: %w", err)
	}
	return &meta, nil
}

// command builds the interpreter invocation for the unpacked bundle in tmp.
func command(tmp string, meta *metadata, args []string, goos string) *exec.Cmd {
	interp := filepath.Join(tmp, runtimeDir, "bin", "python3")
	if goos == "windows" {
		interp = filepath.Join(tmp, runtimeDir, "python.exe")
	}

	argv := []string{}
	if meta.EntryPoint != nil && *meta.EntryPoint != "" {
		argv = append(argv, "-c", *meta.EntryPoint)
	} else {
		argv = append(argv, "-m", moduleName(meta.PackageName))
	}
	argv = append(argv, args...)

	cmd := exec.Command(interp, argv...)
	cmd.Env = append(os.Environ(), "PYTHONPATH="+pythonPath(filepath.Join(tmp, bundleDir, sitePackages)))
	return cmd
}

// pythonPath puts the installed dependencies ahead of any inherited
// PYTHONPATH.
func pythonPath(site string) string {
	entries := []string{site}
	if inherited := os.Getenv("PYTHONPATH"); inherited != "" {
		entries = append(entries, inherited)
	}
	return strings.Join(entries, string(os.PathListSeparator))
}

// moduleName maps a distribution name to its conventional import name.
func moduleName(pkg string) string {
	return strings.ToLower(strings.NewReplacer("-", "_", ".", "_").Replace(pkg))
}
