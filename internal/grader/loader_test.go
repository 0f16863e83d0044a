package grader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestLoader_File verifies file mode returns the file contents unchanged.
func TestLoader_File(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "index.html")
	if err := os.WriteFile(p, []byte("<p>x</p>"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	l := NewLoader(nil, 0)
	html, err := l.Load(context.Background(), Input{Path: p})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if html != "<p>x</p>" {
		t.Fatalf("unexpected html: %q", html)
	}
}

// TestLoader_FileMissing verifies read errors surface instead of yielding an
// empty document.
func TestLoader_FileMissing(t *testing.T) {
	t.Parallel()

	l := NewLoader(nil, 0)
	_, err := l.Load(context.Background(), Input{Path: filepath.Join(t.TempDir(), "nope.html")})
	if err == nil || !strings.Contains(err.Error(), "read html file") {
		t.Fatalf("expected read error, got %v", err)
	}
}

// TestLoader_URL_PrecedenceAndUserAgent verifies the URL wins over Path and
// that the configured User-Agent is sent.
func TestLoader_URL_PrecedenceAndUserAgent(t *testing.T) {
	t.Parallel()

	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte("<h1>remote</h1>"))
	}))
	t.Cleanup(srv.Close)

	l := NewLoader(&http.Client{Timeout: 2 * time.Second}, 0).WithUserAgent("grading-bot/2")
	in := Input{URL: srv.URL, Path: "ignored.html"}
	if in.Mode() != "url" || in.Source() != srv.URL {
		t.Fatalf("unexpected mode/source: %s %s", in.Mode(), in.Source())
	}

	html, err := l.Load(context.Background(), in)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if html != "<h1>remote</h1>" {
		t.Fatalf("unexpected html: %q", html)
	}
	if gotUA != "grading-bot/2" {
		t.Fatalf("unexpected user agent: %q", gotUA)
	}
}

// TestLoader_URL_Non2xx verifies we include status code and a body snippet.
func TestLoader_URL_Non2xx(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	l := NewLoader(&http.Client{Timeout: 2 * time.Second}, 2*time.Second)
	_, err := l.Load(context.Background(), Input{URL: srv.URL})
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	msg := err.Error()
	if !strings.Contains(msg, "http status 404") || !strings.Contains(msg, "nope") {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestLoader_URL_Timeout verifies an explicit timeout bounds the fetch.
func TestLoader_URL_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	l := NewLoader(nil, 50*time.Millisecond)
	if _, err := l.Load(context.Background(), Input{URL: srv.URL}); err == nil {
		t.Fatalf("expected timeout error")
	}
}
