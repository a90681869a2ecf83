package collector

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/open-edge-platform/bundlr/internal/pypackage"
	"github.com/open-edge-platform/bundlr/internal/utils/logger"
)

// releaseFile is one entry of the "urls" array of the PyPI JSON API.
type releaseFile struct {
	Filename    string            `json:"filename"`
	URL         string            `json:"url"`
	PackageType string            `json:"packagetype"`
	Size        int64             `json:"size"`
	Digests     map[string]string `json:"digests"`
	Yanked      bool              `json:"yanked"`
}

type releaseInfo struct {
	URLs []releaseFile `json:"urls"`
}

func (c *Collector) releaseFiles(name, version string) ([]releaseFile, error) {
	endpoint := fmt.Sprintf("%s/pypi/%s/%s/json", strings.TrimSuffix(c.IndexURL, "/"), url.PathEscape(name), url.PathEscape(version))
	body, err := c.Downloader.Get(endpoint)
	if err != nil {
		return nil, err
	}
	var info releaseInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", endpoint, err)
	}
	files := info.URLs[:0]
	for _, f := range info.URLs {
		if !f.Yanked && f.Filename != "" && f.URL != "" {
			files = append(files, f)
		}
	}
	return files, nil
}

// anchor is one link of a simple-index listing.
type anchor struct {
	Filename string
	URL      string
	SHA256   string
}

// scanAnchors pulls href targets out of an HTML listing and resolves them
// against base.
func scanAnchors(page []byte, base string) ([]anchor, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid listing url %q: %w", base, err)
	}
	var anchors []anchor

	s := bufio.NewScanner(strings.NewReader(string(page)))
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for s.Scan() {
		line := s.Text()
		// simplistic HTML href parse, one or more anchors per line
		for {
			idx := strings.Index(line, "href=\"")
			if idx == -1 {
				break
			}
			part := line[idx+6:]
			end := strings.Index(part, "\"")
			if end == -1 {
				break
			}
			href := strings.ReplaceAll(part[:end], "&amp;", "&")
			line = part[end+1:]

			link, fragment, _ := strings.Cut(href, "#")
			a := anchor{URL: link, Filename: path.Base(strings.SplitN(link, "?", 2)[0])}
			if ref, err := url.Parse(link); err == nil {
				a.URL = baseURL.ResolveReference(ref).String()
			} else {
				logger.Logger().Debugf("skipping malformed link %q in %s: %v", link, base, err)
				continue
			}
			if digest, ok := strings.CutPrefix(fragment, "sha256="); ok {
				a.SHA256 = digest
			}
			anchors = append(anchors, a)
		}
	}
	if err := s.Err(); err != nil {
		return anchors, fmt.Errorf("reading listing %s: %w", base, err)
	}
	return anchors, nil
}

// sdistFromListing finds <name>-<version>.tar.gz (or .zip) in the simple
// index page of name.
func (c *Collector) sdistFromListing(name, version string) (anchor, error) {
	listing := fmt.Sprintf("%s/simple/%s/", strings.TrimSuffix(c.IndexURL, "/"), pypackage.NormalizeName(name))
	page, err := c.Downloader.Get(listing)
	if err != nil {
		return anchor{}, err
	}
	anchors, err := scanAnchors(page, listing)
	if err != nil {
		return anchor{}, err
	}
	for _, a := range anchors {
		if isSdistFor(a.Filename, name, version) {
			return a, nil
		}
	}
	return anchor{}, fmt.Errorf("no source archive for %s %s in %s", name, version, listing)
}

// conventionalSdistURL is the files host layout for source archives.
func (c *Collector) conventionalSdistURL(name, version string) string {
	first := strings.ToLower(name[:1])
	return fmt.Sprintf("%s/packages/source/%s/%s/%s-%s.tar.gz", strings.TrimSuffix(c.FilesURL, "/"), first, name, name, version)
}

func isSdistFor(filename, name, version string) bool {
	var stem string
	switch {
	case strings.HasSuffix(filename, ".tar.gz"):
		stem = strings.TrimSuffix(filename, ".tar.gz")
	case strings.HasSuffix(filename, ".zip"):
		stem = strings.TrimSuffix(filename, ".zip")
	default:
		return false
	}
	prefix, ok := strings.CutSuffix(stem, "-"+version)
	return ok && pypackage.NormalizeName(prefix) == pypackage.NormalizeName(name)
}
