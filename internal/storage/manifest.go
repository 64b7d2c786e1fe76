package storage

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

const manifestFileName = "MANIFEST"

func manifestPath(root string) string {
	return filepath.Join(root, segmentsDir, manifestFileName)
}

// ensureManifest opens the manifest file at root, creating it empty (but
// fsynced, along with its directory entry) on first use.
func ensureManifest(root string) (*os.File, error) {
	path := manifestPath(root)

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat manifest: %w", err)
		}
		return createFileDurable(filepath.Dir(path), manifestFileName)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	return f, nil
}

// readManifestIDs parses the newline-separated segment ids the manifest
// currently holds. A fresh (empty) manifest yields no ids, same as a
// fresh directory.
func readManifestIDs(f *os.File) ([]uint32, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek manifest: %w", err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var ids []uint32
	for _, tok := range strings.Fields(string(data)) {
		id, perr := strconv.ParseUint(tok, 10, 32)
		if perr != nil {
			continue // manifest is advisory; a stray malformed line is not fatal
		}
		ids = append(ids, uint32(id))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// overwriteManifest atomically rewrites the manifest to hold exactly ids,
// one per line, and returns the fresh file handle (the old one, if
// replaced via rename, is closed). Callers must hold writerMu.
func overwriteManifest(f *os.File, ids []uint32) (*os.File, error) {
	var buf bytes.Buffer
	for _, id := range ids {
		fmt.Fprintf(&buf, "%d\n", id)
	}

	newf, err := writeFileAtomic(f, buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("overwrite manifest: %w", err)
	}
	return newf, nil
}

// checkOrphanedSegments warns (without failing Open) when segment files on
// disk aren't listed in the manifest — the signature a crash mid-compaction
// leaves behind: the destination segment got written but the manifest
// update that would have recorded it never landed. The engine still opens
// normally, since every segment file on disk replays safely regardless of
// manifest membership; this only surfaces the leak so it can be cleaned up
// by hand or by a future compaction.
func checkOrphanedSegments(segDir string, manifestIDs []uint32, logf func(format string, args ...any)) error {
	entries, err := os.ReadDir(segDir)
	if err != nil {
		return fmt.Errorf("read dir %q: %w", segDir, err)
	}

	expected := mapset.NewSet[string]()
	for _, id := range manifestIDs {
		expected.Add(fmt.Sprintf("%d.log", id))
	}

	actual := mapset.NewSet[string]()
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(entry.Name(), ".log") {
			actual.Add(entry.Name())
		}
	}

	if orphans := actual.Difference(expected); orphans.Cardinality() != 0 {
		logf("orphaned segment file(s) present (crash during a prior compaction?): %v", orphans.ToSlice())
	}
	return nil
}
