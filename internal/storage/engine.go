// Package storage implements the log-structured key-value engine: segment
// files, a crash-recovery scan that rebuilds an in-memory offset index,
// concurrent readers behind a single exclusive appender, size-based
// segment rollover, and compaction.
//
// An *Engine is a handle over shared state (the index, the writer, the
// reader table): Go's pointer semantics already give every caller a cheap,
// independent reference to the same underlying engine, so — unlike the
// value-oriented language this design was distilled from — no explicit
// Clone method is needed; handing a *Engine to each server connection is
// the idiomatic equivalent.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/epokhe/kvs/internal/codec"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// indexEntry points at the latest live value for a key.
type indexEntry struct {
	segmentID uint32
	offset    int64
	length    int64
}

// Engine is the running storage instance: a database directory, an
// in-memory index, a pool of per-segment read handles, and exactly one
// writer bound to the highest-numbered segment.
type Engine struct {
	dir string

	indexMu sync.RWMutex
	index   map[string]indexEntry

	writerMu sync.Mutex
	writer   *segment
	manifest *os.File

	readers *readerTable

	maxSegmentID atomic.Uint32

	compactSem chan struct{}
	compactErr chan error

	logMaxSize          int64
	fsync               bool
	compactionEnabled   bool
	compactionThreshold int
	log                 *zap.SugaredLogger
	onCompactStart      func()
}

// Open loads (or creates) a database at root, replaying every segment's
// log in ascending id order to rebuild the index.
func Open(root string, opts ...Option) (e *Engine, err error) {
	e = &Engine{
		dir:                 root,
		index:               make(map[string]indexEntry),
		readers:             newReaderTable(),
		compactSem:          make(chan struct{}, 1),
		compactErr:          make(chan error, 1),
		logMaxSize:          DefaultLogMaxSize,
		compactionEnabled:   true,
		compactionThreshold: DefaultCompactionThreshold,
		onCompactStart:      func() {},
	}

	for _, opt := range opts {
		opt(e)
	}

	defer func() {
		if err != nil {
			_ = e.readers.closeAll()
			if e.writer != nil {
				_ = e.writer.close()
			}
			if e.manifest != nil {
				_ = e.manifest.Close()
			}
		}
	}()

	segDir := filepath.Join(root, segmentsDir)
	if err = os.MkdirAll(segDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %q: %w", segDir, err)
	}

	if err = ensureSentinel(root); err != nil {
		return nil, err
	}

	if e.manifest, err = ensureManifest(root); err != nil {
		return nil, err
	}

	manifestIDs, err := readManifestIDs(e.manifest)
	if err != nil {
		return nil, err
	}
	if err = checkOrphanedSegments(segDir, manifestIDs, e.logf); err != nil {
		return nil, err
	}

	ids, err := listSegmentIDs(segDir)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	if len(ids) == 0 {
		ids = []uint32{0}
	}

	var lastSeg *segment
	for _, id := range ids {
		seg, recs, rerr := openOrCreateForRecovery(root, id)
		if rerr != nil {
			return nil, fmt.Errorf("recover segment %d: %w", id, rerr)
		}

		for _, rec := range recs {
			switch rec.Tag {
			case codec.TagSet:
				e.index[rec.Key] = indexEntry{segmentID: id, offset: rec.Offset, length: rec.Len}
			case codec.TagRemove:
				delete(e.index, rec.Key)
			}
		}

		e.readers.install(id, seg.file)
		lastSeg = seg
	}

	e.writer = lastSeg
	e.maxSegmentID.Store(ids[len(ids)-1])

	if e.manifest, err = overwriteManifest(e.manifest, ids); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}

	e.logf("opened database at %q with %d segment(s), %d live key(s)", root, len(ids), len(e.index))

	return e, nil
}

func openOrCreateForRecovery(root string, id uint32) (*segment, []codec.ScannedRecord, error) {
	if _, err := os.Stat(segmentPath(root, id)); os.IsNotExist(err) {
		seg, cerr := createSegment(root, id)
		return seg, nil, cerr
	}
	return openSegmentForRecovery(root, id)
}

// listSegmentIDs enumerates <root>/db/<id>.log files, sorted by numeric id.
func listSegmentIDs(segDir string) ([]uint32, error) {
	entries, err := os.ReadDir(segDir)
	if err != nil {
		return nil, err
	}

	var ids []uint32
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		idStr, ok := strings.CutSuffix(name, ".log")
		if !ok {
			continue
		}
		id, err := strconv.ParseUint(idStr, 10, 32)
		if err != nil {
			continue
		}
		ids = append(ids, uint32(id))
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (e *Engine) logf(format string, args ...any) {
	if e.log != nil {
		e.log.Infof(format, args...)
	}
}

// Close flushes and closes every open segment file, the manifest, and the
// reader table, aggregating any failures instead of stopping at the first.
func (e *Engine) Close() error {
	e.writerMu.Lock()
	defer e.writerMu.Unlock()

	var errs error
	if e.writer != nil {
		if err := e.writer.file.Sync(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("sync active segment: %w", err))
		}
	}
	if e.manifest != nil {
		if err := e.manifest.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close manifest: %w", err))
		}
	}
	errs = multierr.Append(errs, e.readers.closeAll())
	return errs
}

// Get returns the latest value stored for key.
//
// indexMu is held for the whole lookup, not just the index snapshot:
// Compact also holds indexMu (after writerMu) for its full duration and
// only removes a segment's reader once it has moved every still-live key
// out of it. Releasing indexMu between the index snapshot and the reader
// read would let a concurrent Compact remove the very reader this call is
// about to use, for a key that was never actually missing.
func (e *Engine) Get(key string) (string, error) {
	e.indexMu.RLock()
	defer e.indexMu.RUnlock()

	entry, ok := e.index[key]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}

	r, ok := e.readers.get(entry.segmentID)
	if !ok {
		return "", fmt.Errorf("no reader for segment %d", entry.segmentID)
	}

	rec, err := r.readAt(entry.offset, true)
	if err != nil {
		return "", fmt.Errorf("read key %q at segment %d offset %d: %w", key, entry.segmentID, entry.offset, err)
	}

	if rec.Tag == codec.TagRemove {
		// The log disagrees with the index: a corruption signal, not a
		// normal miss, but surfaced identically to the caller.
		e.logf("get %q: indexed record decoded as tombstone, treating as not found", key)
		return "", fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}
	return rec.Value, nil
}

// Set stores value for key, returning the prior value if one existed.
func (e *Engine) Set(key, value string) (prev string, hadPrev bool, err error) {
	e.writerMu.Lock()
	defer e.writerMu.Unlock()

	rec := codec.Record{Tag: codec.TagSet, Key: key, Value: value}
	if err = e.rolloverIfNeeded(int64(len(key) + len(value) + codec.HeaderLen)); err != nil {
		return "", false, err
	}

	offset, length, err := e.writer.append(rec, e.fsync)
	if err != nil {
		return "", false, err
	}

	e.indexMu.Lock()
	old, hadPrev := e.index[key]
	e.index[key] = indexEntry{segmentID: e.writer.id, offset: offset, length: length}
	e.indexMu.Unlock()

	if hadPrev {
		if prevRec, perr := e.readIndexed(old); perr == nil && prevRec.Tag == codec.TagSet {
			prev = prevRec.Value
		}
	}

	e.maybeCompact()
	return prev, hadPrev, nil
}

// Remove deletes key, appending a tombstone so recovery can replay the
// deletion. The tombstone is appended before the index entry is dropped,
// the same append-then-index order Set uses: if append fails, the index
// still shows the key live, matching what the log actually holds, instead
// of a restart resurrecting a key this call had already forgotten.
func (e *Engine) Remove(key string) error {
	e.writerMu.Lock()
	defer e.writerMu.Unlock()

	e.indexMu.RLock()
	_, ok := e.index[key]
	e.indexMu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}

	rec := codec.Record{Tag: codec.TagRemove, Key: key}
	if err := e.rolloverIfNeeded(int64(len(key) + codec.HeaderLen)); err != nil {
		return err
	}
	if _, _, err := e.writer.append(rec, e.fsync); err != nil {
		return err
	}

	e.indexMu.Lock()
	delete(e.index, key)
	e.indexMu.Unlock()
	return nil
}

// readIndexed fetches the record an index entry points at; used to
// recover Set's "previous value" return from the entry Set already
// captured, without a second index lookup. Set calls it with writerMu still
// held, so Compact cannot remove that entry's segment in the meantime.
func (e *Engine) readIndexed(entry indexEntry) (codec.Record, error) {
	r, ok := e.readers.get(entry.segmentID)
	if !ok {
		return codec.Record{}, fmt.Errorf("no reader for segment %d", entry.segmentID)
	}
	return r.readAt(entry.offset, true)
}

// rolloverIfNeeded opens segment maxID+1 and redirects the writer to it
// when the active segment would cross logMaxSize. Callers must hold
// writerMu. The new maxSegmentID is published before any caller records an
// index entry against it (spec §9's resolved ambiguity).
func (e *Engine) rolloverIfNeeded(nextRecordSize int64) error {
	if e.writer.size+nextRecordSize <= e.logMaxSize {
		return nil
	}

	newID := e.maxSegmentID.Load() + 1
	seg, err := createSegment(e.dir, newID)
	if err != nil {
		return fmt.Errorf("rollover to segment %d: %w", newID, err)
	}

	e.readers.install(newID, seg.file)
	e.maxSegmentID.Store(newID)
	e.writer = seg

	if e.manifest, err = overwriteManifest(e.manifest, e.readers.ids()); err != nil {
		e.logf("rollover to segment %d: %v", newID, err)
	}

	e.logf("rolled over to segment %d", newID)
	return nil
}

// maybeCompact runs a compaction in the background if enough inactive
// segments have accumulated and one isn't already running. It takes no
// locks itself; Compact() does.
func (e *Engine) maybeCompact() {
	if !e.compactionEnabled {
		return
	}

	// Count installed readers below the active segment directly, rather
	// than deriving it from maxSegmentID: after a compaction the surviving
	// ids are {oldMaxID, destID}, not a contiguous 0..maxSegmentID range,
	// so maxSegmentID alone overstates how many sealed segments remain.
	activeID := e.maxSegmentID.Load()
	inactive := 0
	for _, id := range e.readers.ids() {
		if id < activeID {
			inactive++
		}
	}

	if inactive < e.compactionThreshold {
		return
	}

	select {
	case e.compactSem <- struct{}{}:
		go func() {
			defer func() { <-e.compactSem }()
			if err := e.Compact(); err != nil {
				select {
				case e.compactErr <- err:
				default:
				}
				e.logf("background compaction failed: %v", err)
			}
		}()
	default:
		// a compaction is already running
	}
}

// CompactionErrors reports errors from compactions triggered automatically
// in the background.
func (e *Engine) CompactionErrors() <-chan error { return e.compactErr }
