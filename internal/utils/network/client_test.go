package network

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "bundlr" {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	c := NewClient(0, time.Millisecond)
	body, err := c.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(body) != "payload" {
		t.Errorf("expected payload, got %q", body)
	}
}

func TestGetErrorKinds(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		case "/flaky":
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	c := NewClient(2, time.Millisecond)

	tests := []struct {
		name     string
		url      string
		wantKind error
		wantHits int32
	}{
		{name: "invalid url", url: "ftp//nope", wantKind: ErrInvalidURL, wantHits: 0},
		{name: "not found is not retried", url: srv.URL + "/missing", wantKind: ErrServer, wantHits: 1},
		{name: "5xx is retried", url: srv.URL + "/flaky", wantKind: ErrRetriesExhausted, wantHits: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits.Store(0)
			_, err := c.Get(tt.url)
			if !errors.Is(err, tt.wantKind) {
				t.Fatalf("expected %v, got %v", tt.wantKind, err)
			}
			if got := hits.Load(); got != tt.wantHits {
				t.Errorf("expected %d requests, got %d", tt.wantHits, got)
			}
		})
	}
}

func TestGetNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	c := NewClient(0, time.Millisecond)
	if _, err := c.Get(addr); !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
}

func TestDownloadFile(t *testing.T) {
	content := []byte("0123456789abcdef")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(content)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "nested", "file.bin")
	var lastWritten int64
	c := NewClient(0, time.Millisecond)
	err := c.DownloadFile(srv.URL, dest, func(written, total int64) {
		lastWritten = written
	})
	if err != nil {
		t.Fatalf("DownloadFile failed: %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("reading download: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("downloaded content mismatch: %q", got)
	}
	if lastWritten != int64(len(content)) {
		t.Errorf("expected progress to reach %d, got %d", len(content), lastWritten)
	}
	if _, err := os.Stat(dest + ".part"); !os.IsNotExist(err) {
		t.Error("expected partial file to be gone")
	}
}

func TestDownloadFileFailureLeavesNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "file.bin")
	c := NewClient(0, time.Millisecond)
	if err := c.DownloadFile(srv.URL, dest, nil); !errors.Is(err, ErrServer) {
		t.Fatalf("expected ErrServer, got %v", err)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("expected no destination file after failure")
	}
}
