// Package platform enumerates the (OS, architecture) pairs bundlr can build for.
package platform

import (
	"fmt"
	"runtime"
	"strings"
)

// OS is a target operating system.
type OS int

const (
	AnyOS OS = iota
	Linux
	Windows
	MacOS
)

func (o OS) String() string {
	switch o {
	case Linux:
		return "linux"
	case Windows:
		return "windows"
	case MacOS:
		return "macos"
	default:
		return "any"
	}
}

// Arch is a target CPU architecture.
type Arch int

const (
	AnyArch Arch = iota
	X86_64
	Aarch64
)

func (a Arch) String() string {
	switch a {
	case X86_64:
		return "x86_64"
	case Aarch64:
		return "aarch64"
	default:
		return "any"
	}
}

// Target is one build target, or All.
type Target int

const (
	All Target = iota
	LinuxX86_64
	LinuxAarch64
	WindowsX86_64
	WindowsAarch64
	MacosX86_64
	MacosAarch64
)

var concrete = []Target{
	LinuxX86_64,
	LinuxAarch64,
	WindowsX86_64,
	WindowsAarch64,
	MacosX86_64,
	MacosAarch64,
}

// Concrete returns every supported non-wildcard target.
func Concrete() []Target {
	return append([]Target(nil), concrete...)
}

// Parse converts a CLI platform id such as "linux-x86_64" or "all".
func Parse(s string) (Target, error) {
	id := strings.ToLower(strings.TrimSpace(s))
	if id == "all" {
		return All, nil
	}
	for _, t := range concrete {
		if t.String() == id {
			return t, nil
		}
	}
	return All, fmt.Errorf("unsupported target platform %q (expected one of %s)", s, strings.Join(IDs(), ", "))
}

// IDs lists every accepted platform id.
func IDs() []string {
	ids := make([]string, 0, len(concrete)+1)
	for _, t := range concrete {
		ids = append(ids, t.String())
	}
	return append(ids, "all")
}

// TargetList expands All into every concrete target.
func (t Target) TargetList() []Target {
	if t == All {
		return Concrete()
	}
	return []Target{t}
}

func (t Target) String() string {
	if t == All {
		return "all"
	}
	return t.OS().String() + "-" + t.Arch().String()
}

func (t Target) OS() OS {
	switch t {
	case LinuxX86_64, LinuxAarch64:
		return Linux
	case WindowsX86_64, WindowsAarch64:
		return Windows
	case MacosX86_64, MacosAarch64:
		return MacOS
	default:
		return AnyOS
	}
}

func (t Target) Arch() Arch {
	switch t {
	case LinuxX86_64, WindowsX86_64, MacosX86_64:
		return X86_64
	case LinuxAarch64, WindowsAarch64, MacosAarch64:
		return Aarch64
	default:
		return AnyArch
	}
}

// IsWindows reports whether the target runs Windows.
func (t Target) IsWindows() bool { return t.OS() == Windows }

// ExecutableExt is the file extension of native executables.
func (t Target) ExecutableExt() string {
	if t.IsWindows() {
		return ".exe"
	}
	return ""
}

// Triple is the LLVM-style target triple used by python-build-standalone
// and uv release assets.
func (t Target) Triple() string {
	switch t {
	case LinuxX86_64:
		return "x86_64-unknown-linux-gnu"
	case LinuxAarch64:
		return "aarch64-unknown-linux-gnu"
	case WindowsX86_64:
		return "x86_64-pc-windows-msvc"
	case WindowsAarch64:
		return "aarch64-pc-windows-msvc"
	case MacosX86_64:
		return "x86_64-apple-darwin"
	case MacosAarch64:
		return "aarch64-apple-darwin"
	default:
		return ""
	}
}

// GOOS returns the Go toolchain GOOS for the target.
func (t Target) GOOS() string {
	switch t.OS() {
	case Linux:
		return "linux"
	case Windows:
		return "windows"
	case MacOS:
		return "darwin"
	default:
		return ""
	}
}

// GOARCH returns the Go toolchain GOARCH for the target.
func (t Target) GOARCH() string {
	switch t.Arch() {
	case X86_64:
		return "amd64"
	case Aarch64:
		return "arm64"
	default:
		return ""
	}
}

// InterpreterPath is the interpreter inside an unpacked runtime, relative
// to the runtime root.
func (t Target) InterpreterPath() string {
	if t.IsWindows() {
		return "python.exe"
	}
	return "bin/python3"
}

// SitePackagesPath is the site-packages directory relative to the runtime
// root for the given major.minor version.
func (t Target) SitePackagesPath(pythonVersion string) string {
	if t.IsWindows() {
		return "Lib/site-packages"
	}
	return "lib/python" + MajorMinor(pythonVersion) + "/site-packages"
}

// MajorMinor trims a version like 3.11.9 to 3.11.
func MajorMinor(version string) string {
	parts := strings.SplitN(version, ".", 3)
	if len(parts) < 2 {
		return version
	}
	return parts[0] + "." + parts[1]
}

// Host returns the target matching the running process, or All when the
// host is not a supported target.
func Host() Target {
	return FromGo(runtime.GOOS, runtime.GOARCH)
}

// FromGo maps a GOOS/GOARCH pair to a target.
func FromGo(goos, goarch string) Target {
	for _, t := range concrete {
		if t.GOOS() == goos && t.GOARCH() == goarch {
			return t
		}
	}
	return All
}
