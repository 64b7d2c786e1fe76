package storage

import "fmt"

// Compact reclaims space held by superseded and tombstoned records. It
// allocates a fresh destination segment (id = maxSegmentID+1), copies
// every live record whose current index entry lives in a segment below
// the old maxSegmentID verbatim into it, then makes that destination the
// new active segment: segments strictly below the old maxSegmentID are
// closed and deleted, and all future writes land in the destination.
//
// Records already in the (old) active segment are left untouched — they
// are not yet sealed, so they are picked up by a later compaction cycle
// once a subsequent rollover seals that segment.
//
// Compact acquires the writer lock before the index lock, the same order
// Set and Remove use, so it cannot deadlock against a concurrent mutation;
// it holds both for its full duration, which is the spec's documented
// trade-off between simplicity and write availability during a compaction
// cycle.
func (e *Engine) Compact() (err error) {
	e.writerMu.Lock()
	defer e.writerMu.Unlock()
	e.indexMu.Lock()
	defer e.indexMu.Unlock()

	oldMaxID := e.maxSegmentID.Load()

	e.onCompactStart()

	destID := oldMaxID + 1
	dest, err := createSegment(e.dir, destID)
	if err != nil {
		return fmt.Errorf("allocate compaction destination %d: %w", destID, err)
	}
	defer func() {
		if err != nil {
			_ = dest.close()
			_ = removeSegmentFile(e.dir, destID)
		}
	}()

	for key, entry := range e.index {
		if entry.segmentID >= oldMaxID {
			continue // lives in the still-active segment; left in place
		}

		r, ok := e.readers.get(entry.segmentID)
		if !ok {
			return fmt.Errorf("no reader for segment %d while compacting key %q", entry.segmentID, key)
		}

		raw, rerr := r.readRawAt(entry.offset, entry.length)
		if rerr != nil {
			return fmt.Errorf("read key %q from segment %d: %w", key, entry.segmentID, rerr)
		}

		newOffset, werr := dest.appendRaw(raw, e.fsync)
		if werr != nil {
			return fmt.Errorf("copy key %q into segment %d: %w", key, destID, werr)
		}

		e.index[key] = indexEntry{segmentID: destID, offset: newOffset, length: entry.length}
	}

	if err = dest.file.Sync(); err != nil {
		return fmt.Errorf("sync compaction destination %d: %w", destID, err)
	}

	e.readers.install(destID, dest.file)

	// Record the post-compaction segment set (oldMaxID survives untouched,
	// destID is the new writer) before deleting the stale files below: a
	// crash between here and the deletion loop leaves the still-present
	// stale segments flagged as orphans on the next Open, the same
	// failure window the teacher's manifest protects.
	if newManifest, merr := overwriteManifest(e.manifest, []uint32{oldMaxID, destID}); merr != nil {
		e.logf("compact: overwrite manifest: %v", merr)
	} else {
		e.manifest = newManifest
	}

	for id := uint32(0); id < oldMaxID; id++ {
		if rerr := e.readers.remove(id); rerr != nil {
			e.logf("compact: close stale segment %d: %v", id, rerr)
		}
		if rerr := removeSegmentFile(e.dir, id); rerr != nil {
			e.logf("compact: remove stale segment %d: %v", id, rerr)
		}
	}

	e.maxSegmentID.Store(destID)
	e.writer = dest

	e.logf("compacted segments below %d into segment %d", oldMaxID, destID)
	return nil
}
