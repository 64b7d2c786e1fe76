package storage

import (
	"os"
	"testing"
)

// setupTempEngine opens a fresh Engine in a temp directory, following the
// teacher's SetupTempDB helper pattern (Epokhe-bitdb/core/test_helpers.go).
func setupTempEngine(tb testing.TB, opts ...Option) (e *Engine, dir string) {
	tb.Helper()

	dir, err := os.MkdirTemp("", "kvs_test_*")
	if err != nil {
		tb.Fatalf("MkdirTemp: %v", err)
	}

	e, err = Open(dir, opts...)
	if err != nil {
		_ = os.RemoveAll(dir)
		tb.Fatalf("Open(%q): %v", dir, err)
	}

	tb.Cleanup(func() {
		_ = e.Close()
		_ = os.RemoveAll(dir)
	})

	return e, dir
}
