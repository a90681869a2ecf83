package network

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/open-edge-platform/bundlr/internal/utils/logger"
	"github.com/schollz/progressbar/v3"
)

// Error kinds returned by Client. Use errors.Is to classify.
var (
	ErrInvalidURL       = errors.New("invalid url")
	ErrNetwork          = errors.New("network error")
	ErrServer           = errors.New("server error")
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// ProgressFunc receives the number of bytes written so far and the expected
// total (-1 when unknown).
type ProgressFunc func(written, total int64)

// Downloader is the subset of Client the build pipeline depends on.
type Downloader interface {
	Get(rawURL string) ([]byte, error)
	DownloadFile(rawURL, destPath string, progress ProgressFunc) error
}

// Client is a retrying HTTP client.
type Client struct {
	HTTP       *http.Client
	MaxRetries int
	Backoff    time.Duration
	UserAgent  string
}

// NewClient returns a Client on top of NewSecureHTTPClient.
func NewClient(maxRetries int, backoff time.Duration) *Client {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Client{
		HTTP:       NewSecureHTTPClient(),
		MaxRetries: maxRetries,
		Backoff:    backoff,
		UserAgent:  "bundlr",
	}
}

// Get fetches rawURL and returns the response body.
func (c *Client) Get(rawURL string) ([]byte, error) {
	var body []byte
	err := c.do(rawURL, func(resp *http.Response) error {
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%w: reading body: %v", ErrNetwork, err)
		}
		body = b
		return nil
	})
	return body, err
}

// DownloadFile streams rawURL into destPath. The file is written to a
// temporary name next to destPath and renamed once complete.
func (c *Client) DownloadFile(rawURL, destPath string, progress ProgressFunc) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("creating destination directory: %w", err)
	}
	partPath := destPath + ".part"

	err := c.do(rawURL, func(resp *http.Response) error {
		out, err := os.Create(partPath)
		if err != nil {
			return fmt.Errorf("creating %s: %w", partPath, err)
		}
		defer out.Close()

		var w io.Writer = out
		if progress != nil {
			w = &progressWriter{w: out, total: resp.ContentLength, fn: progress}
		}
		if _, err := io.Copy(w, resp.Body); err != nil {
			return fmt.Errorf("%w: copying body: %v", ErrNetwork, err)
		}
		return out.Close()
	})
	if err != nil {
		os.Remove(partPath)
		return err
	}
	if err := os.Rename(partPath, destPath); err != nil {
		return fmt.Errorf("moving download into place: %w", err)
	}
	return nil
}

func (c *Client) do(rawURL string, handle func(*http.Response) error) error {
	log := logger.Logger()

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	var lastErr error
	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := c.Backoff * time.Duration(1<<(attempt-1))
			log.Debugf("retrying %s in %s (attempt %d/%d): %v", rawURL, wait, attempt, c.MaxRetries, lastErr)
			time.Sleep(wait)
		}

		lastErr = c.once(rawURL, handle)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
	}
	if c.MaxRetries == 0 {
		return lastErr
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, c.MaxRetries+1, lastErr)
}

func (c *Client) once(rawURL string, handle func(*http.Response) error) error {
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: GET %s: %v", ErrNetwork, rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	return handle(resp)
}

// StatusError is returned for non-2xx responses. It matches ErrServer.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server error: GET %s: %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

func (e *StatusError) Is(target error) bool { return target == ErrServer }

func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == http.StatusTooManyRequests
	}
	return errors.Is(err, ErrNetwork)
}

type progressWriter struct {
	w       io.Writer
	written int64
	total   int64
	fn      ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += int64(n)
	p.fn(p.written, p.total)
	return n, err
}

// BarProgress returns a ProgressFunc rendering a byte progress bar on stderr.
func BarProgress(description string) ProgressFunc {
	var (
		bar  *progressbar.ProgressBar
		last int64
	)
	return func(written, total int64) {
		if bar == nil {
			bar = progressbar.NewOptions64(total,
				progressbar.OptionSetDescription(description),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowBytes(true),
				progressbar.OptionSetWidth(40),
				progressbar.OptionThrottle(100*time.Millisecond),
			)
		}
		_ = bar.Add64(written - last)
		last = written
		if total > 0 && written >= total {
			_ = bar.Finish()
		}
	}
}
