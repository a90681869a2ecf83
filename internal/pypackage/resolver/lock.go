package resolver

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/open-edge-platform/bundlr/internal/pypackage"
)

// LockEntry is one requirement line of a compiled lock file.
type LockEntry struct {
	Name    string
	Version string // empty when the line carried no == pin
	Source  string // direct URL for "name @ url" lines
	Hashes  []string
	Raw     string
}

// RequirementLine renders the single requirements.in entry for ref.
func RequirementLine(ref string) string {
	r := strings.TrimSpace(ref)
	if !pypackage.IsGitRef(r) {
		return r
	}
	url := r
	if !strings.HasPrefix(url, "git+") {
		if !strings.Contains(url, "://") && !strings.HasPrefix(url, "git@") {
			url = "https://" + url
		}
		url = "git+" + url
	}
	return pypackage.DeriveName(r) + " @ " + url
}

// ParseLock reads the output of "uv pip compile --generate-hashes". Lines
// continued with a backslash are joined; comments and options other than
// --hash are ignored.
func ParseLock(data []byte) ([]LockEntry, error) {
	var entries []LockEntry
	var logical strings.Builder

	flush := func() {
		line := strings.TrimSpace(logical.String())
		logical.Reset()
		if line == "" {
			return
		}
		if e, ok := parseLockLine(line); ok {
			entries = append(entries, e)
		}
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.Index(line, "#"); i >= 0 && (i == 0 || line[i-1] == ' ' || line[i-1] == '\t') {
			line = line[:i]
		}
		trimmed := strings.TrimRight(line, " \t")
		if strings.HasSuffix(trimmed, "\\") {
			logical.WriteString(strings.TrimSuffix(trimmed, "\\"))
			logical.WriteString(" ")
			continue
		}
		logical.WriteString(trimmed)
		flush()
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedLock, err)
	}
	flush()

	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no requirements found", ErrMalformedLock)
	}
	return entries, nil
}

func parseLockLine(line string) (LockEntry, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "-") {
		return LockEntry{}, false
	}

	e := LockEntry{Raw: line}
	var spec []string
	for _, f := range fields {
		switch {
		case strings.HasPrefix(f, "--hash="):
			e.Hashes = append(e.Hashes, strings.TrimPrefix(strings.TrimPrefix(f, "--hash="), "sha256:"))
		case strings.HasPrefix(f, "--"):
		default:
			spec = append(spec, f)
		}
	}
	req := strings.Join(spec, " ")
	if i := strings.Index(req, ";"); i >= 0 {
		req = strings.TrimSpace(req[:i])
	}

	if name, url, ok := strings.Cut(req, " @ "); ok {
		e.Name = stripExtras(strings.TrimSpace(name))
		e.Source = strings.TrimSpace(url)
		return e, e.Name != ""
	}
	if name, version, ok := strings.Cut(req, "=="); ok {
		e.Name = stripExtras(strings.TrimSpace(name))
		e.Version = strings.TrimSpace(version)
		return e, e.Name != ""
	}
	e.Name = stripExtras(pypackage.RequirementName(req))
	return e, e.Name != ""
}

func stripExtras(name string) string {
	if i := strings.Index(name, "["); i >= 0 {
		return name[:i]
	}
	return name
}
