package download

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/hananf11/echo360/internal/config"
	"github.com/hananf11/echo360/internal/services"
)

func testClient(workers int) *Client {
	return NewClient(config.Download{
		SegmentWorkers:      workers,
		SegmentRetries:      3,
		SegmentRetryDelayMS: 1,
		RequestTimeout:      10,
	}, nil)
}

func TestDirectWritesFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "raw audio bytes")
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "lecture.m4a")
	if err := testClient(4).Direct(context.Background(), server.URL, dest, nil); err != nil {
		t.Fatalf("Direct: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "raw audio bytes" {
		t.Fatalf("content = %q", data)
	}
}

func TestDirectReportsByteProgress(t *testing.T) {
	payload := make([]byte, 256<<10)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer server.Close()

	var (
		mu       sync.Mutex
		lastDone int64
		total    int64
	)
	progress := func(done, tot int64) {
		mu.Lock()
		defer mu.Unlock()
		if done < lastDone {
			t.Errorf("progress went backwards: %d after %d", done, lastDone)
		}
		lastDone = done
		total = tot
	}

	dest := filepath.Join(t.TempDir(), "lecture.m4a")
	if err := testClient(4).Direct(context.Background(), server.URL, dest, progress); err != nil {
		t.Fatal(err)
	}
	if lastDone != int64(len(payload)) {
		t.Fatalf("final done = %d, want %d", lastDone, len(payload))
	}
	if total != int64(len(payload)) {
		t.Fatalf("total = %d, want %d", total, len(payload))
	}
}

func TestManifestReportsSegmentProgress(t *testing.T) {
	const segmentCount = 10
	mux := http.NewServeMux()
	mux.HandleFunc("/playlist.m3u8", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "#EXTM3U")
		for i := 0; i < segmentCount; i++ {
			fmt.Fprintf(w, "#EXTINF:6.0,\nseg%d.ts\n", i)
		}
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "x")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	var (
		mu       sync.Mutex
		reported []int64
	)
	progress := func(done, total int64) {
		mu.Lock()
		defer mu.Unlock()
		if total != segmentCount {
			t.Errorf("total = %d, want %d", total, segmentCount)
		}
		reported = append(reported, done)
	}

	dest := filepath.Join(t.TempDir(), "lecture.ts")
	if err := testClient(3).Manifest(context.Background(), server.URL+"/playlist.m3u8", dest, progress); err != nil {
		t.Fatal(err)
	}
	if len(reported) != segmentCount {
		t.Fatalf("callbacks = %d, want %d", len(reported), segmentCount)
	}
	// Concurrent workers each report a unique count; the highest must be
	// the full segment total.
	var highest int64
	for _, done := range reported {
		if done > highest {
			highest = done
		}
	}
	if highest != segmentCount {
		t.Fatalf("highest reported = %d, want %d", highest, segmentCount)
	}
}

func TestManifestJoinsSegmentsInOrder(t *testing.T) {
	const segmentCount = 20
	mux := http.NewServeMux()
	mux.HandleFunc("/playlist.m3u8", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "#EXTM3U")
		for i := 0; i < segmentCount; i++ {
			fmt.Fprintf(w, "#EXTINF:6.0,\nseg%05d.ts\n", i)
		}
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		var index int
		fmt.Sscanf(r.URL.Path, "/seg%05d.ts", &index)
		fmt.Fprintf(w, "[%02d]", index)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "lecture.ts")
	if err := testClient(8).Manifest(context.Background(), server.URL+"/playlist.m3u8", dest, nil); err != nil {
		t.Fatalf("Manifest: %v", err)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	want := ""
	for i := 0; i < segmentCount; i++ {
		want += fmt.Sprintf("[%02d]", i)
	}
	if string(data) != want {
		t.Fatalf("joined output out of order:\n got %q\nwant %q", data, want)
	}
}

func TestManifestFollowsMasterOneLevel(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1000\naudio.m3u8\n")
	})
	mux.HandleFunc("/audio.m3u8", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n#EXTINF:6.0,\nseg0.ts\n")
	})
	mux.HandleFunc("/seg0.ts", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "payload")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "lecture.ts")
	if err := testClient(4).Manifest(context.Background(), server.URL+"/master.m3u8", dest, nil); err != nil {
		t.Fatalf("Manifest: %v", err)
	}
	data, _ := os.ReadFile(dest)
	if string(data) != "payload" {
		t.Fatalf("content = %q", data)
	}
}

func TestResolveSegmentsRejectsNestedMaster(t *testing.T) {
	mux := http.NewServeMux()
	master := "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1000\ninner.m3u8\n"
	mux.HandleFunc("/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, master)
	})
	mux.HandleFunc("/inner.m3u8", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, master)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	if _, err := testClient(4).ResolveSegments(context.Background(), server.URL+"/master.m3u8"); err == nil {
		t.Fatal("expected error for nested master playlist")
	}
}

func TestSegmentRetryRecoversFromServerError(t *testing.T) {
	var failures atomic.Int32
	failures.Store(2)
	mux := http.NewServeMux()
	mux.HandleFunc("/playlist.m3u8", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n#EXTINF:6.0,\nseg0.ts\n")
	})
	mux.HandleFunc("/seg0.ts", func(w http.ResponseWriter, r *http.Request) {
		if failures.Add(-1) >= 0 {
			http.Error(w, "flaky", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, "finally")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "lecture.ts")
	if err := testClient(4).Manifest(context.Background(), server.URL+"/playlist.m3u8", dest, nil); err != nil {
		t.Fatalf("Manifest with flaky segment: %v", err)
	}
	data, _ := os.ReadFile(dest)
	if string(data) != "finally" {
		t.Fatalf("content = %q", data)
	}
}

func TestSegmentRetryGivesUpAfterAttempts(t *testing.T) {
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/playlist.m3u8", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n#EXTINF:6.0,\nseg0.ts\n")
	})
	mux.HandleFunc("/seg0.ts", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "lecture.ts")
	err := testClient(4).Manifest(context.Background(), server.URL+"/playlist.m3u8", dest, nil)
	if err == nil {
		t.Fatal("expected failure")
	}
	if got := hits.Load(); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
	if _, statErr := os.Stat(dest); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatal("partial output left behind")
	}
}

func TestClientErrorNotRetried(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	client := testClient(4)
	if _, err := client.fetchSegmentWithRetry(context.Background(), server.URL); err == nil {
		t.Fatal("expected error")
	} else if services.IsRetryable(err) {
		t.Fatalf("404 classified retryable: %v", err)
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("attempts = %d, want 1", got)
	}
}

func TestSegmentWorkersBoundFanout(t *testing.T) {
	const workers = 2
	var (
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/playlist.m3u8", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "#EXTM3U")
		for i := 0; i < 10; i++ {
			fmt.Fprintf(w, "#EXTINF:6.0,\nseg%d.ts\n", i)
		}
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		active++
		if active > maxSeen {
			maxSeen = active
		}
		mu.Unlock()
		defer func() {
			mu.Lock()
			active--
			mu.Unlock()
		}()
		fmt.Fprint(w, "x")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "lecture.ts")
	if err := testClient(workers).Manifest(context.Background(), server.URL+"/playlist.m3u8", dest, nil); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if maxSeen > workers {
		t.Fatalf("max concurrent fetches = %d, want <= %d", maxSeen, workers)
	}
}
