package pyruntime

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/open-edge-platform/bundlr/internal/platform"
	"github.com/open-edge-platform/bundlr/internal/utils/logger"
	"github.com/open-edge-platform/bundlr/internal/utils/shell"
)

// OptimizeLevel selects a runtime optimization strategy.
type OptimizeLevel int

const (
	Balanced OptimizeLevel = iota
	Size
	Speed
	Compatibility
)

func (l OptimizeLevel) String() string {
	switch l {
	case Size:
		return "size"
	case Speed:
		return "speed"
	case Compatibility:
		return "compatibility"
	default:
		return "balanced"
	}
}

// ParseLevel converts a level name.
func ParseLevel(s string) (OptimizeLevel, error) {
	for _, l := range []OptimizeLevel{Balanced, Size, Speed, Compatibility} {
		if strings.EqualFold(strings.TrimSpace(s), l.String()) {
			return l, nil
		}
	}
	return Balanced, fmt.Errorf("unknown optimization level %q", s)
}

// ImportIndexFile is written at the runtime root by the speed strategy.
const ImportIndexFile = "import_index.json"

var (
	commonExcludes = []string{"tkinter", "turtle", "turtledemo", "idlelib", "lib2to3", "test", "unittest/test"}
	sizeExcludes   = []string{"pydoc_data", "pydoc", "doctest", "distutils", "ensurepip"}
)

// runtimeTree is an unpacked runtime being optimized in place.
type runtimeTree struct {
	Root          string
	Target        platform.Target
	PythonVersion string
	Runnable      bool // the interpreter can execute on this host
	Exclude       []string
}

func (r *runtimeTree) stdlibDir() string {
	if r.Target.IsWindows() {
		return filepath.Join(r.Root, "Lib")
	}
	return filepath.Join(r.Root, "lib", "python"+platform.MajorMinor(r.PythonVersion))
}

func (r *runtimeTree) interpreter() string {
	return filepath.Join(r.Root, filepath.FromSlash(r.Target.InterpreterPath()))
}

type strategyFunc func(r *runtimeTree) error

var strategies = map[OptimizeLevel]strategyFunc{
	Size:          optimizeSize,
	Speed:         optimizeSpeed,
	Compatibility: func(*runtimeTree) error { return nil },
	Balanced: func(r *runtimeTree) error {
		if err := optimizeSize(r); err != nil {
			return err
		}
		return optimizeSpeed(r)
	},
}

// excludesFor returns the module exclusion list applied under level.
func excludesFor(level OptimizeLevel, extra []string) []string {
	if level == Compatibility {
		return nil
	}
	out := append([]string(nil), commonExcludes...)
	if level == Size || level == Balanced {
		out = append(out, sizeExcludes...)
	}
	return append(out, extra...)
}

func optimizeSize(r *runtimeTree) error {
	log := logger.Logger()
	steps := []struct {
		name string
		fn   func() (int, error)
	}{
		{"test suites", func() (int, error) { return removeDirsNamed(r.stdlibDir(), "test", "tests", "idle_test") }},
		{"docs", func() (int, error) {
			return removePaths(filepath.Join(r.Root, "share", "man"), filepath.Join(r.Root, "share", "doc"), filepath.Join(r.Root, "Doc"))
		}},
		{"static libraries", func() (int, error) { return removeFilesWithSuffix(r.Root, ".a", ".lib") }},
		{"headers", func() (int, error) { return removePaths(filepath.Join(r.Root, "include")) }},
		{"bytecode caches", func() (int, error) { return removeBytecode(r.Root) }},
		{"excluded modules", func() (int, error) { return removeModules(r.stdlibDir(), r.Exclude) }},
	}
	for _, s := range steps {
		n, err := s.fn()
		if err != nil {
			return fmt.Errorf("stripping %s: %w", s.name, err)
		}
		log.Debugf("size: removed %d entries (%s)", n, s.name)
	}
	return compileAll(r, false)
}

func optimizeSpeed(r *runtimeTree) error {
	n, err := removeModules(r.stdlibDir(), r.Exclude)
	if err != nil {
		return fmt.Errorf("stripping excluded modules: %w", err)
	}
	logger.Logger().Debugf("speed: removed %d entries (excluded modules)", n)
	if err := compileAll(r, true); err != nil {
		return err
	}
	return writeImportIndex(r)
}

// compileAll byte-compiles the stdlib with the bundled interpreter. It is a
// no-op when the target interpreter cannot run on this host.
func compileAll(r *runtimeTree, optimized bool) error {
	log := logger.Logger()
	if !r.Runnable {
		log.Debugf("skipping compileall: %s interpreter cannot run on this host", r.Target)
		return nil
	}
	argv := []string{r.interpreter()}
	if optimized {
		argv = append(argv, "-O")
	}
	argv = append(argv, "-m", "compileall", "-q", "-j", "0", r.stdlibDir())
	code, err := shell.Run(argv, r.Root, nil)
	if err != nil {
		log.Warnf("compileall could not run: %v", err)
		return nil
	}
	if code != 0 {
		// Some stdlib files are expected to fail on purpose (lib2to3 fixtures).
		log.Debugf("compileall exited with %d", code)
	}
	return nil
}

// writeImportIndex records module name -> relative path for the stdlib and
// site-packages.
func writeImportIndex(r *runtimeTree) error {
	stdlib := r.stdlibDir()
	index := make(map[string]string)
	err := filepath.WalkDir(stdlib, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "__pycache__" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".py") {
			return nil
		}
		rel, err := filepath.Rel(stdlib, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		rel = strings.TrimPrefix(rel, "site-packages/")
		mod := strings.TrimSuffix(rel, ".py")
		mod = strings.TrimSuffix(mod, "/__init__")
		mod = strings.ReplaceAll(mod, "/", ".")
		if _, seen := index[mod]; !seen {
			relRoot, _ := filepath.Rel(r.Root, p)
			index[mod] = filepath.ToSlash(relRoot)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("building import index: %w", err)
	}

	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return err
	}
	logger.Logger().Debugf("speed: indexed %d modules", len(index))
	return os.WriteFile(filepath.Join(r.Root, ImportIndexFile), data, 0644)
}

func removePaths(paths ...string) (int, error) {
	n := 0
	for _, p := range paths {
		if _, err := os.Lstat(p); err != nil {
			continue
		}
		if err := os.RemoveAll(p); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func removeDirsNamed(root string, names ...string) (int, error) {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var victims []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() && p != root && want[d.Name()] {
			victims = append(victims, p)
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removePaths(victims...)
}

func removeFilesWithSuffix(root string, suffixes ...string) (int, error) {
	var victims []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			for _, s := range suffixes {
				if strings.HasSuffix(d.Name(), s) {
					victims = append(victims, p)
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removePaths(victims...)
}

func removeBytecode(root string) (int, error) {
	n, err := removeDirsNamed(root, "__pycache__")
	if err != nil {
		return n, err
	}
	m, err := removeFilesWithSuffix(root, ".pyc", ".pyo")
	return n + m, err
}

// removeModules deletes stdlib packages or modules by import path, plus
// their lib-dynload extensions.
func removeModules(stdlib string, modules []string) (int, error) {
	var victims []string
	for _, m := range modules {
		rel := filepath.FromSlash(strings.ReplaceAll(strings.TrimSpace(m), ".", "/"))
		if rel == "" {
			continue
		}
		victims = append(victims, filepath.Join(stdlib, rel), filepath.Join(stdlib, rel+".py"))
		if !strings.Contains(rel, string(filepath.Separator)) {
			matches, _ := filepath.Glob(filepath.Join(stdlib, "lib-dynload", "_"+rel+".*"))
			victims = append(victims, matches...)
		}
	}
	sort.Strings(victims)
	return removePaths(victims...)
}
