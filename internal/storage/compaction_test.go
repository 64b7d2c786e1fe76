//go:build goexperiment.synctest

package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"testing/synctest"
)

func segmentFileCount(tb testing.TB, dir string) int {
	tb.Helper()
	entries, err := os.ReadDir(filepath.Join(dir, segmentsDir))
	if err != nil {
		tb.Fatalf("ReadDir: %v", err)
	}
	n := 0
	for _, ent := range entries {
		if filepath.Ext(ent.Name()) == ".log" {
			n++
		}
	}
	return n
}

// TestCompactionRunsOnlyAboveThreshold checks compaction stays dormant below
// the configured number of inactive segments, then fires once it's crossed.
func TestCompactionRunsOnlyAboveThreshold(t *testing.T) {
	synctest.Run(func() {
		e, dir := setupTempEngine(t,
			WithLogMaxSize(20),
			WithCompactionThreshold(3),
			WithCompactionEnabled(true),
		)

		_ = mustSet(t, e, "k1", "v1")
		_ = mustSet(t, e, "k1", "v2") // segment 0 rolls over -> 1 inactive
		_ = mustSet(t, e, "k1", "v3")
		_ = mustSet(t, e, "k1", "v4") // segment 1 rolls over -> 2 inactive, below threshold

		synctest.Wait()
		if got := segmentFileCount(t, dir); got != 3 {
			t.Fatalf("compaction ran too early; segments=%d", got)
		}

		_ = mustSet(t, e, "k1", "v5")
		_ = mustSet(t, e, "k1", "v6") // segment 2 rolls over -> 3 inactive, triggers compaction

		synctest.Wait()
		if got := segmentFileCount(t, dir); got != 2 {
			t.Fatalf("expected 2 segments after compaction, got %d", got)
		}
	})
}

// TestCompactionKeepsLatestValue checks last-writer-wins survives compaction
// and that its scenario-7/8 shape (2 segments, highest id = oldMax+1) holds.
func TestCompactionKeepsLatestValue(t *testing.T) {
	synctest.Run(func() {
		e, dir := setupTempEngine(t,
			WithLogMaxSize(20),
			WithCompactionThreshold(2),
			WithCompactionEnabled(true),
		)

		_ = mustSet(t, e, "k1", "old")
		_ = mustSet(t, e, "k2", "old") // segment 0 rolls over
		_ = mustSet(t, e, "k1", "new")
		_ = mustSet(t, e, "k2", "new") // segment 1 rolls over, triggers compaction

		synctest.Wait()

		if got := segmentFileCount(t, dir); got != 2 {
			t.Fatalf("expected 2 segments after compaction, got %d", got)
		}
		if v, err := e.Get("k1"); err != nil || v != "new" {
			t.Fatalf("k1: got (%q, %v), want (new, nil)", v, err)
		}
		if v, err := e.Get("k2"); err != nil || v != "new" {
			t.Fatalf("k2: got (%q, %v), want (new, nil)", v, err)
		}

		if e.maxSegmentID.Load() != 2 {
			t.Fatalf("expected max segment id 2 after compacting segments 0,1, got %d", e.maxSegmentID.Load())
		}
		if e.writer.id != e.maxSegmentID.Load() {
			t.Fatalf("writer segment %d is not the max segment %d", e.writer.id, e.maxSegmentID.Load())
		}
	})
}

// TestWritesWhileCompacting verifies writes issued while a compaction is in
// flight are preserved, and that a second trigger during the same cycle is a
// no-op thanks to the semaphore.
func TestWritesWhileCompacting(t *testing.T) {
	synctest.Run(func() {
		var wg sync.WaitGroup
		wg.Add(1)

		var e *Engine
		e, _ = setupTempEngine(t,
			WithLogMaxSize(20),
			WithCompactionThreshold(2),
			WithCompactionEnabled(true),
			withOnCompactStart(func() {
				wg.Wait()
				_ = mustSet(t, e, "k1", "vx")
				_ = mustSet(t, e, "k5", "v5") // rolls over, would trigger compaction (skipped)
			}),
		)

		_ = mustSet(t, e, "k1", "v1")
		_ = mustSet(t, e, "k2", "v2") // segment 0 rolls over
		_ = mustSet(t, e, "k2", "vy")
		_ = mustSet(t, e, "k4", "v4") // segment 1 rolls over, triggers compaction

		wg.Done()
		synctest.Wait()

		if v, _ := e.Get("k2"); v != "vy" {
			t.Fatalf("want k2=vy, got %q", v)
		}
		if v, _ := e.Get("k1"); v != "vx" {
			t.Fatalf("want k1=vx, got %q", v)
		}
	})
}

// TestCompactionPersistence verifies state survives a close/reopen following
// a compaction cycle.
func TestCompactionPersistence(t *testing.T) {
	synctest.Run(func() {
		e, dir := setupTempEngine(t,
			WithLogMaxSize(20),
			WithCompactionThreshold(2),
			WithCompactionEnabled(true),
		)

		_ = mustSet(t, e, "a", "1")
		_ = mustSet(t, e, "b", "1") // segment 0 rolls over
		_ = mustSet(t, e, "a", "2")
		_ = mustSet(t, e, "c", "3") // segment 1 rolls over, triggers compaction

		synctest.Wait()

		vals := map[string]string{}
		for _, k := range []string{"a", "b", "c"} {
			v, err := e.Get(k)
			if err != nil {
				t.Fatalf("get %s: %v", k, err)
			}
			vals[k] = v
		}

		if err := e.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}

		reopened, err := Open(dir, WithCompactionEnabled(false))
		if err != nil {
			t.Fatalf("reopen: %v", err)
		}
		defer reopened.Close()

		for k, want := range vals {
			got, err := reopened.Get(k)
			if err != nil || got != want {
				t.Fatalf("want %s=%s, got %s err=%v", k, want, got, err)
			}
		}
	})
}

// TestMultipleSequentialCompactions triggers several compaction cycles back
// to back and checks the segment count converges to 2: the still-active
// segment at any given moment, plus the sealed predecessor compaction feeds
// from next time.
func TestMultipleSequentialCompactions(t *testing.T) {
	synctest.Run(func() {
		e, dir := setupTempEngine(t,
			WithLogMaxSize(24),
			WithCompactionThreshold(2),
			WithCompactionEnabled(true),
		)

		for i := 0; i < 40; i++ {
			_ = mustSet(t, e, "k1", fmt.Sprintf("v%d", i))
			synctest.Wait()
		}

		if got := segmentFileCount(t, dir); got > 2 {
			t.Fatalf("expected compaction to converge to <=2 segments, got %d", got)
		}
		if v, err := e.Get("k1"); err != nil || v != "v39" {
			t.Fatalf("k1: got (%q, %v), want (v39, nil)", v, err)
		}
	})
}

func mustSet(t *testing.T, e *Engine, key, value string) string {
	t.Helper()
	prev, _, err := e.Set(key, value)
	if err != nil {
		t.Fatalf("Set(%q, %q): %v", key, value, err)
	}
	return prev
}
