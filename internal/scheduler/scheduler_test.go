package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGateSizeOneSerializes(t *testing.T) {
	s := New(context.Background(), nil)
	gate := NewGate("convert", 1)

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	release := make(chan struct{})
	done := make(chan struct{}, 3)

	for i := int64(1); i <= 3; i++ {
		err := s.Submit(Key{LectureID: i, Axis: "audio"}, gate, func(ctx context.Context) error {
			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()

			<-release

			mu.Lock()
			active--
			mu.Unlock()
			done <- struct{}{}
			return nil
		})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("task did not finish")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if maxSeen != 1 {
		t.Fatalf("max concurrent = %d, want 1", maxSeen)
	}
}

func TestSubmitDeduplicatesKey(t *testing.T) {
	s := New(context.Background(), nil)
	gate := NewGate("download", 2)
	block := make(chan struct{})

	key := Key{LectureID: 42, Axis: "audio"}
	if err := s.Submit(key, gate, func(ctx context.Context) error {
		<-block
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.Submit(key, gate, func(ctx context.Context) error { return nil }); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("duplicate submit err = %v", err)
	}
	if !s.IsRunning(key) {
		t.Fatal("key not reported running")
	}

	// A different axis on the same lecture is independent.
	other := Key{LectureID: 42, Axis: "notes"}
	if err := s.Submit(other, gate, func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("other axis submit: %v", err)
	}

	close(block)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if s.IsRunning(key) {
		t.Fatal("key still registered after completion")
	}
}

func TestShutdownCancelsTasks(t *testing.T) {
	s := New(context.Background(), nil)
	gate := NewGate("download", 1)

	var sawCancel atomic.Bool
	started := make(chan struct{})
	if err := s.Submit(Key{LectureID: 1, Axis: "audio"}, gate, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		sawCancel.Store(true)
		return ctx.Err()
	}); err != nil {
		t.Fatal(err)
	}
	<-started

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !sawCancel.Load() {
		t.Fatal("task context was not cancelled")
	}
	if err := s.Submit(Key{LectureID: 2, Axis: "audio"}, gate, func(ctx context.Context) error { return nil }); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("submit after shutdown err = %v", err)
	}
}
