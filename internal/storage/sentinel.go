package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EngineName is the sentinel value this package writes/expects in
// <root>/db/ENGINE. An alternative engine implementation (internal/bboltengine)
// uses its own name so that reopening a directory with the wrong engine is
// refused rather than silently corrupting data (spec §4.6).
const EngineName = "kvs"

func sentinelPath(dir string) string {
	return filepath.Join(dir, segmentsDir, "ENGINE")
}

// ensureSentinel writes EngineName on first open, or verifies it matches
// on a reopen. It is exported via CheckSentinel so non-kvs engines (e.g.
// bboltengine) can enforce the same rule with their own name.
func ensureSentinel(dir string) error {
	return CheckSentinel(dir, EngineName)
}

// CheckSentinel enforces that a database directory is only ever opened by
// one named engine. It creates the sentinel on first use and returns
// ErrEngineMismatch if a later Open names a different engine.
func CheckSentinel(dir, name string) error {
	path := sentinelPath(dir)

	existing, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("read engine sentinel: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create sentinel directory: %w", err)
		}
		if err := os.WriteFile(path, []byte(name), 0o644); err != nil {
			return fmt.Errorf("write engine sentinel: %w", err)
		}
		return nil
	}

	got := strings.TrimSpace(string(existing))
	if got != name {
		return fmt.Errorf("%w: directory was opened with %q, requested %q", ErrEngineMismatch, got, name)
	}
	return nil
}
