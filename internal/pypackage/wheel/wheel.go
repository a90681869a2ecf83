// Package wheel parses wheel filenames and ranks them against a target
// platform.
package wheel

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/open-edge-platform/bundlr/internal/platform"
)

var ErrNoCompatibleWheel = errors.New("no compatible wheel")

const (
	py3Bonus     = 10
	noneABIBonus = 5
)

var platformTags = map[platform.Target][]string{
	platform.LinuxX86_64: {
		"manylinux_2_28_x86_64",
		"manylinux_2_17_x86_64",
		"manylinux2014_x86_64",
		"manylinux_2_12_x86_64",
		"manylinux2010_x86_64",
		"manylinux_2_5_x86_64",
		"manylinux1_x86_64",
		"linux_x86_64",
		"any",
	},
	platform.LinuxAarch64: {
		"manylinux_2_28_aarch64",
		"manylinux_2_17_aarch64",
		"manylinux2014_aarch64",
		"linux_aarch64",
		"any",
	},
	platform.WindowsX86_64: {
		"win_amd64",
		"any",
	},
	platform.WindowsAarch64: {
		"win_arm64",
		"any",
	},
	platform.MacosX86_64: {
		"macosx_14_0_x86_64",
		"macosx_13_0_x86_64",
		"macosx_12_0_x86_64",
		"macosx_11_0_x86_64",
		"macosx_10_15_x86_64",
		"macosx_10_14_x86_64",
		"macosx_10_13_x86_64",
		"macosx_10_12_x86_64",
		"macosx_10_9_x86_64",
		"macosx_11_0_universal2",
		"macosx_10_9_universal2",
		"any",
	},
	platform.MacosAarch64: {
		"macosx_14_0_arm64",
		"macosx_13_0_arm64",
		"macosx_12_0_arm64",
		"macosx_11_0_arm64",
		"macosx_11_0_universal2",
		"macosx_10_9_universal2",
		"any",
	},
	platform.All: {"any"},
}

// PlatformTags returns the ordered platform tags for target, most specific
// first. The list always ends with "any".
func PlatformTags(target platform.Target) []string {
	tags, ok := platformTags[target]
	if !ok {
		tags = platformTags[platform.All]
	}
	return append([]string(nil), tags...)
}

// Filename is a parsed wheel file name.
type Filename struct {
	Name         string
	Version      string
	Build        string
	Interpreters []string
	ABIs         []string
	Platforms    []string
}

// IsPure reports whether the wheel carries no compiled code.
func (f Filename) IsPure() bool {
	for _, abi := range f.ABIs {
		if abi != "none" {
			return false
		}
	}
	return true
}

// ParseFilename splits name-version[-build]-interpreter-abi-platform.whl.
func ParseFilename(name string) (Filename, error) {
	if !strings.HasSuffix(name, ".whl") {
		return Filename{}, fmt.Errorf("%s: not a wheel", name)
	}
	fields := strings.Split(strings.TrimSuffix(name, ".whl"), "-")
	if len(fields) != 5 && len(fields) != 6 {
		return Filename{}, fmt.Errorf("%s: expected 5 or 6 dash-separated fields, got %d", name, len(fields))
	}
	f := Filename{Name: fields[0], Version: fields[1]}
	if len(fields) == 6 {
		f.Build = fields[2]
	}
	n := len(fields)
	f.Interpreters = strings.Split(fields[n-3], ".")
	f.ABIs = strings.Split(fields[n-2], ".")
	f.Platforms = strings.Split(fields[n-1], ".")
	return f, nil
}

// splitTags returns the interpreter, ABI and platform fields of a wheel
// name. ok is false when there are fewer than four fields.
func splitTags(name string) (interp, abi, plat string, ok bool) {
	fields := strings.Split(strings.TrimSuffix(name, ".whl"), "-")
	switch {
	case len(fields) < 4:
		return "", "", "", false
	case len(fields) == 4:
		return fields[2], fields[3], "", true
	default:
		n := len(fields)
		return fields[n-3], fields[n-2], fields[n-1], true
	}
}

// Score rates a wheel file name against ordered platform tags. A substring
// match on tag i of n adds n-i. A py3 interpreter tag adds 10 and a "none"
// ABI adds 5. Names with fewer than four fields score 0.
func Score(name string, tags []string) int {
	interp, abi, plat, ok := splitTags(name)
	if !ok {
		return 0
	}
	score := 0
	for i, tag := range tags {
		if strings.Contains(plat, tag) {
			score += len(tags) - i
		}
	}
	if strings.Contains(interp, "py3") {
		score += py3Bonus
	}
	if abi == "none" {
		score += noneABIBonus
	}
	return score
}

// Compatible reports whether one of the wheel's platform tags can run on
// target.
func Compatible(name string, target platform.Target) bool {
	_, _, plat, ok := splitTags(name)
	if !ok {
		return false
	}
	for _, p := range strings.Split(plat, ".") {
		if platformMatches(p, target) {
			return true
		}
	}
	return false
}

func platformMatches(p string, target platform.Target) bool {
	if p == "any" {
		return true
	}
	switch target.OS() {
	case platform.Linux:
		arch := target.Arch().String()
		return (strings.HasPrefix(p, "manylinux") || strings.HasPrefix(p, "linux_")) && strings.HasSuffix(p, "_"+arch)
	case platform.Windows:
		if target.Arch() == platform.Aarch64 {
			return p == "win_arm64"
		}
		return p == "win_amd64"
	case platform.MacOS:
		if !strings.HasPrefix(p, "macosx_") {
			return false
		}
		if strings.HasSuffix(p, "_universal2") {
			return true
		}
		if target.Arch() == platform.Aarch64 {
			return strings.HasSuffix(p, "_arm64")
		}
		return strings.HasSuffix(p, "_x86_64") || strings.HasSuffix(p, "_intel")
	default:
		return false
	}
}

// SupportsPython reports whether the wheel's interpreter and ABI tags accept
// the given major.minor Python version.
func SupportsPython(name, pythonVersion string) bool {
	f, err := ParseFilename(name)
	if err != nil {
		return false
	}
	mm := strings.SplitN(platform.MajorMinor(pythonVersion), ".", 2)
	if len(mm) != 2 {
		return true
	}
	minor, err := strconv.Atoi(mm[1])
	if err != nil {
		return true
	}
	for _, interp := range f.Interpreters {
		switch {
		case interp == "py"+mm[0] || interp == "py"+mm[0]+mm[1]:
			return true
		case interp == "cp"+mm[0]+mm[1]:
			return true
		case strings.HasPrefix(interp, "cp"+mm[0]) && containsABI(f.ABIs, "abi3"):
			// abi3 wheels run on their minimum version and later.
			if built, err := strconv.Atoi(strings.TrimPrefix(interp, "cp"+mm[0])); err == nil && built <= minor {
				return true
			}
		}
	}
	return false
}

func containsABI(abis []string, want string) bool {
	for _, a := range abis {
		if a == want {
			return true
		}
	}
	return false
}

// Candidate is a scored wheel.
type Candidate struct {
	Name  string
	Score int
}

// SelectBest returns the compatible candidate with the strictly highest
// score. Ties keep the earlier candidate.
func SelectBest(names []string, target platform.Target) (Candidate, error) {
	tags := PlatformTags(target)
	best := Candidate{Score: -1}
	for _, name := range names {
		if !Compatible(name, target) {
			continue
		}
		if s := Score(name, tags); s > best.Score {
			best = Candidate{Name: name, Score: s}
		}
	}
	if best.Score <= -1 {
		return Candidate{}, fmt.Errorf("%w for %s among %d candidates", ErrNoCompatibleWheel, target, len(names))
	}
	return best, nil
}
