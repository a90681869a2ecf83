package system

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/open-edge-platform/bundlr/internal/utils/logger"
	"github.com/open-edge-platform/bundlr/internal/utils/shell"
)

var OsReleaseFile = "/etc/os-release"

// GetHostOsInfo returns the name, version and machine architecture of the
// build host.
func GetHostOsInfo() (map[string]string, error) {
	log := logger.Logger()
	hostOsInfo := map[string]string{
		"name":    runtime.GOOS,
		"version": "",
		"arch":    runtime.GOARCH,
	}
	if runtime.GOOS == "windows" {
		return hostOsInfo, nil
	}

	output, err := shell.Output([]string{"uname", "-m"}, "", nil)
	if err != nil {
		return hostOsInfo, fmt.Errorf("failed to get host architecture: %w", err)
	}
	hostOsInfo["arch"] = strings.TrimSpace(output)

	file, err := os.Open(OsReleaseFile)
	if err != nil {
		log.Debugf("no %s, using kernel release", OsReleaseFile)
		if output, err := shell.Output([]string{"uname", "-r"}, "", nil); err == nil {
			hostOsInfo["version"] = strings.TrimSpace(output)
		}
		return hostOsInfo, nil
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), "\"")
		switch key {
		case "NAME":
			hostOsInfo["name"] = value
		case "VERSION_ID":
			hostOsInfo["version"] = value
		}
	}
	log.Debugf("detected host OS: %s %s %s", hostOsInfo["name"], hostOsInfo["version"], hostOsInfo["arch"])
	return hostOsInfo, scanner.Err()
}

// Tool describes an external program bundlr can use.
type Tool struct {
	Name    string
	Path    string
	Version string
}

// Found reports whether the tool is on PATH.
func (t Tool) Found() bool { return t.Path != "" }

// versionArgs are the flags printing each tool's version.
var versionArgs = map[string][]string{
	"go":  {"version"},
	"tar": {"--version"},
	"uv":  {"--version"},
	"git": {"--version"},
}

// DetectTools looks up each named tool and its version.
func DetectTools(names ...string) []Tool {
	tools := make([]Tool, 0, len(names))
	for _, name := range names {
		t := Tool{Name: name}
		path, err := shell.LookPath(name)
		if err != nil {
			tools = append(tools, t)
			continue
		}
		t.Path = path
		args, ok := versionArgs[name]
		if !ok {
			args = []string{"--version"}
		}
		if out, err := shell.Output(append([]string{path}, args...), "", nil); err == nil {
			t.Version, _, _ = strings.Cut(strings.TrimSpace(out), "\n")
		}
		tools = append(tools, t)
	}
	return tools
}
