package grader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"htmlgrader/internal/metrics"
)

// DefaultUserAgent is sent with every URL fetch unless overridden.
const DefaultUserAgent = "htmlgrader/1.0"

// Input describes where the HTML document comes from.
type Input struct {
	// URL, if provided, is fetched via a single HTTP GET and takes precedence
	// over Path.
	URL string

	// Path is a local HTML file, read when URL is empty.
	Path string
}

// Mode returns "url" or "file" depending on which source Load will use.
func (in Input) Mode() string {
	if strings.TrimSpace(in.URL) != "" {
		return "url"
	}
	return "file"
}

// Source returns the URL or path that Load will read.
func (in Input) Source() string {
	if in.Mode() == "url" {
		return in.URL
	}
	return in.Path
}

// Loader reads local files or fetches URLs.
type Loader struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
}

// NewLoader creates a Loader. If client is nil, http.DefaultClient is used.
// A timeout <= 0 means the fetch waits as long as the client allows.
func NewLoader(client *http.Client, timeout time.Duration) *Loader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Loader{
		client:    client,
		timeout:   timeout,
		userAgent: DefaultUserAgent,
	}
}

// WithUserAgent overrides the User-Agent header. Empty keeps the current one.
func (l *Loader) WithUserAgent(ua string) *Loader {
	if ua = strings.TrimSpace(ua); ua != "" {
		l.userAgent = ua
	}
	return l
}

// Load returns the HTML source for input.
//
// On non-2xx HTTP responses, Load returns an error that includes the status
// code and up to 4KB of the response body.
func (l *Loader) Load(ctx context.Context, input Input) (string, error) {
	if input.Mode() == "file" {
		b, err := os.ReadFile(input.Path)
		if err != nil {
			return "", fmt.Errorf("read html file: %w", err)
		}
		return string(b), nil
	}
	return l.fetch(ctx, input.URL)
}

func (l *Loader) fetch(ctx context.Context, url string) (string, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", l.userAgent)

	start := time.Now()
	resp, err := l.client.Do(req)
	if err != nil {
		observeHTTP("error", start, 0, true)
		return "", fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	status := strconv.Itoa(resp.StatusCode)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		observeHTTP(status, start, len(body), true)
		return "", fmt.Errorf("http status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		observeHTTP(status, start, len(b), true)
		return "", fmt.Errorf("read body: %w", err)
	}
	observeHTTP(status, start, len(b), false)
	return string(b), nil
}

func observeHTTP(status string, start time.Time, size int, failed bool) {
	labels := metrics.Labels{"status": status}
	metrics.IncCounter(metrics.HTTPRequestsTotal, 1, labels)
	if failed {
		metrics.IncCounter(metrics.HTTPErrorsTotal, 1, labels)
	}
	metrics.ObserveHistogram(metrics.HTTPDurationSeconds, time.Since(start).Seconds(), labels)
	metrics.ObserveHistogram(metrics.HTTPDownloadBytes, float64(size), labels)
}
