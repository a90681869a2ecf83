package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// StringListReport accumulates lines that are flushed to a text file at the
// end of a build step.
type StringListReport struct {
	Title string
	Items []string
	mu    sync.Mutex
}

// FetchedReport lists every artifact URL fetched during a build.
var FetchedReport = &StringListReport{Title: "FetchedAssets"}

// ReportPath is the directory reports are written to.
var ReportPath = "builds"

// Add appends an item to the report.
func (r *StringListReport) Add(item string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Items = append(r.Items, item)
}

// Len returns the number of pending items.
func (r *StringListReport) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Items)
}

// Flush appends the pending items to <ReportPath>/fetchurl-<title>-<suffix>.txt
// and clears the report. It returns the path written.
func (r *StringListReport) Flush(suffix string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(ReportPath, 0755); err != nil {
		return "", fmt.Errorf("creating base path: %w", err)
	}

	name := sanitize(r.Title)
	if suffix != "" {
		name += "-" + sanitize(suffix)
	}
	reportFullPath := filepath.Join(ReportPath, fmt.Sprintf("fetchurl-%s.txt", name))

	f, err := os.OpenFile(reportFullPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	for _, item := range r.Items {
		if _, err := fmt.Fprintln(f, item); err != nil {
			return "", fmt.Errorf("writing to file: %w", err)
		}
	}
	r.Items = nil
	if _, err := fmt.Fprintln(f); err != nil {
		return "", fmt.Errorf("writing new line to file: %w", err)
	}
	return reportFullPath, nil
}

// sanitize replaces everything but ASCII letters and digits with underscores.
func sanitize(s string) string {
	if s == "" {
		return "untitled"
	}
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, byte(r))
		} else {
			out = append(out, '_')
		}
	}
	return string(out)
}
