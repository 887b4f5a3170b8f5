package systems

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"
)

func TestNewJobSystemRejectsBadSizes(t *testing.T) {
	if _, err := NewJobSystem(0, 1); !errors.Is(err, ErrNoWorkers) {
		t.Errorf("expected ErrNoWorkers, got %v", err)
	}
	if _, err := NewJobSystem(1, -1); !errors.Is(err, ErrNegativeChannelSize) {
		t.Errorf("expected ErrNegativeChannelSize, got %v", err)
	}
}

func TestRunAllUsesWorkerIDs(t *testing.T) {
	js, err := NewJobSystem(3, 8)
	if err != nil {
		t.Fatal(err)
	}
	defer js.Shutdown()

	var (
		mu   sync.Mutex
		seen = map[int]bool{}
		ran  atomic.Int32
	)
	jobs := make([]JobTask, 20)
	for i := range jobs {
		jobs[i] = JobTask{Name: "count", OnStart: func(workerID int) error {
			if workerID < 0 || workerID >= js.NumWorkers() {
				t.Errorf("worker id %d out of range", workerID)
			}
			mu.Lock()
			seen[workerID] = true
			mu.Unlock()
			ran.Add(1)
			return nil
		}}
	}
	if err := js.RunAll(jobs); err != nil {
		t.Fatal(err)
	}
	if ran.Load() != 20 {
		t.Errorf("ran %d jobs, want 20", ran.Load())
	}
}

func TestRunAllReportsFailure(t *testing.T) {
	js, err := NewJobSystem(2, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer js.Shutdown()

	boom := errors.New("boom")
	var failures atomic.Int32
	jobs := []JobTask{
		{Name: "ok", OnStart: func(int) error { return nil }},
		{Name: "bad", OnStart: func(int) error { return boom }, OnFailure: func(error) { failures.Add(1) }},
	}
	if err := js.RunAll(jobs); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if failures.Load() != 1 {
		t.Errorf("OnFailure ran %d times", failures.Load())
	}
}
