package storage

import (
	"context"
	"strings"
	"testing"
	"time"
)

type fakeRepo struct{ closed bool }

func (f *fakeRepo) Close()                             { f.closed = true }
func (f *fakeRepo) EnsureTables(context.Context) error { return nil }
func (f *fakeRepo) SaveRun(context.Context, Run) (int64, error) {
	return 1, nil
}

// TestRegisterAndNew covers the registry: lookup by kind, unknown kinds, and
// the fail-fast panics on bad registrations.
func TestRegisterAndNew(t *testing.T) {
	Register("fake-test", func(ctx context.Context, cfg Config) (Repository, error) {
		if cfg.DSN != "mem" {
			t.Fatalf("unexpected dsn %q", cfg.DSN)
		}
		return &fakeRepo{}, nil
	})

	repo, err := New(context.Background(), Config{Kind: "fake-test", DSN: "mem"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := repo.(*fakeRepo); !ok {
		t.Fatalf("unexpected repo type %T", repo)
	}

	found := false
	for _, k := range Kinds() {
		if k == "fake-test" {
			found = true
		}
	}
	if !found {
		t.Fatalf("Kinds() missing registered kind: %v", Kinds())
	}

	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for empty kind")
	}
	if _, err := New(context.Background(), Config{Kind: "nope"}); err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Fatalf("expected unsupported error, got %v", err)
	}

	mustPanic(t, func() { Register("", func(context.Context, Config) (Repository, error) { return nil, nil }) })
	mustPanic(t, func() { Register("nil-factory", nil) })
	mustPanic(t, func() {
		Register("fake-test", func(context.Context, Config) (Repository, error) { return nil, nil })
	})
}

func mustPanic(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	fn()
}

// TestRun_NormalizedChecks verifies NFC normalization, trimming, and
// keep-first dedupe after normalization.
func TestRun_NormalizedChecks(t *testing.T) {
	t.Parallel()

	decomposed := "p.cafe\u0301" // "e" + combining acute
	composed := "p.caf\u00e9"

	r := Run{
		Source:   "index.html",
		Mode:     "file",
		GradedAt: time.Unix(0, 0),
		Checks: []Check{
			{Selector: decomposed, Present: true},
			{Selector: "  h1 ", Present: false},
			{Selector: composed, Present: false},
		},
	}

	got := r.NormalizedChecks()
	if len(got) != 2 {
		t.Fatalf("expected 2 checks after dedupe, got %v", got)
	}
	if got[0].Selector != composed || !got[0].Present {
		t.Fatalf("first occurrence not kept in NFC form: %+v", got[0])
	}
	if got[1].Selector != "h1" {
		t.Fatalf("selector not trimmed: %q", got[1].Selector)
	}
	if r.Passed() != 1 {
		t.Fatalf("Passed()=%d want 1", r.Passed())
	}
}

// TestRun_PassedMatchesNormalizedChecks verifies duplicates that collapse
// under normalization are counted once.
func TestRun_PassedMatchesNormalizedChecks(t *testing.T) {
	t.Parallel()

	r := Run{Checks: []Check{
		{Selector: "h1", Present: true},
		{Selector: " h1", Present: true},
		{Selector: "h1 ", Present: true},
		{Selector: "#x", Present: false},
	}}
	if got, total := r.Passed(), len(r.NormalizedChecks()); got != 1 || total != 2 {
		t.Fatalf("Passed()=%d total=%d, want 1 and 2", got, total)
	}
	if got := CountPassed(r.Checks); got != 3 {
		t.Fatalf("CountPassed(raw)=%d, want 3", got)
	}
}

func TestBatches(t *testing.T) {
	t.Parallel()

	got := Batches([]int{1, 2, 3, 4, 5}, 2)
	if len(got) != 3 || len(got[2]) != 1 || got[2][0] != 5 {
		t.Fatalf("unexpected batches: %v", got)
	}
	if len(Batches([]int(nil), 3)) != 0 {
		t.Fatalf("expected no batches for empty input")
	}
	if b := Batches([]int{1, 2}, 0); len(b) != 1 || len(b[0]) != 2 {
		t.Fatalf("size<=0 should yield a single batch: %v", b)
	}
}
