package metrics

import (
	"errors"
	"sync"
	"testing"
)

type recordingBackend struct {
	mu       sync.Mutex
	counters map[string]float64
	samples  map[string][]float64
	flushErr error
}

func newRecordingBackend() *recordingBackend {
	return &recordingBackend{
		counters: map[string]float64{},
		samples:  map[string][]float64{},
	}
}

func (r *recordingBackend) IncCounter(name string, delta float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name+"|"+labels["result"]] += delta
}

func (r *recordingBackend) ObserveHistogram(name string, value float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples[name] = append(r.samples[name], value)
}

func (r *recordingBackend) Flush() error { return r.flushErr }

// TestSetBackend_RoutesCalls verifies the package helpers forward to the
// installed backend and that SetBackend(nil) restores the no-op.
//
// Not parallel: the backend is process-wide.
func TestSetBackend_RoutesCalls(t *testing.T) {
	rb := newRecordingBackend()
	rb.flushErr = errors.New("flush failed")
	SetBackend(rb)
	t.Cleanup(func() { SetBackend(nil) })

	IncCounter(ChecksTotal, 2, Labels{"result": "present"})
	IncCounter(ChecksTotal, 1, Labels{"result": "present"})
	ObserveHistogram(RunDurationSeconds, 0.25, nil)

	if got := rb.counters[ChecksTotal+"|present"]; got != 3 {
		t.Fatalf("counter=%v, want 3", got)
	}
	if got := rb.samples[RunDurationSeconds]; len(got) != 1 || got[0] != 0.25 {
		t.Fatalf("samples=%v", got)
	}
	if err := backend().Flush(); err == nil {
		t.Fatalf("expected flush error from backend")
	}

	SetBackend(nil)
	if err := backend().Flush(); err != nil {
		t.Fatalf("nop Flush: %v", err)
	}
	IncCounter(ChecksTotal, 1, Labels{"result": "present"})
	if got := rb.counters[ChecksTotal+"|present"]; got != 3 {
		t.Fatalf("old backend still receiving calls: %v", got)
	}
}
