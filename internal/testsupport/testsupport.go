// Package testsupport provides shared constructors for package tests.
package testsupport

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hananf11/echo360/internal/config"
	"github.com/hananf11/echo360/internal/store"
)

// ConfigOption customizes the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.LibraryDir = filepath.Join(base, "library")
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	return &cfg
}

// WithMissingRawStatus overrides the startup repair policy.
func WithMissingRawStatus(status string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Recovery.MissingRawStatus = status
	}
}

// MustOpenStore opens a store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewLecture inserts a course and lecture for tests and returns the lecture.
func NewLecture(t testing.TB, st *store.Store, mediaID, title string) *store.Lecture {
	t.Helper()

	ctx := context.Background()
	course, err := st.UpsertCourse(ctx, &store.Course{
		UUID:    "section-" + mediaID,
		Name:    "COMP1000 Computing",
		Enabled: true,
	})
	if err != nil {
		t.Fatalf("UpsertCourse: %v", err)
	}
	lecture, err := st.UpsertLecture(ctx, &store.Lecture{
		CourseID: course.ID,
		MediaID:  mediaID,
		Title:    title,
	})
	if err != nil {
		t.Fatalf("UpsertLecture: %v", err)
	}
	return lecture
}

// WriteFile fills the target path with size bytes of a repeating pattern.
// A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}

	buf := make([]byte, size)
	for i := range buf {
		buf[i] = 0x42
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
