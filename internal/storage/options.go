package storage

import "go.uber.org/zap"

// DefaultLogMaxSize is the canonical segment rollover threshold (spec §9:
// the source drifted between 1 MiB and 24 MiB; 24 MiB is canonical).
const DefaultLogMaxSize int64 = 24 * 1024 * 1024

// DefaultCompactionThreshold is the number of inactive (sealed) segments
// that must accumulate before a compaction cycle is triggered automatically.
const DefaultCompactionThreshold = 2

// Option configures an Engine at Open time, following the teacher's
// functional-options idiom (core.Option in Epokhe-bitdb).
type Option func(*Engine)

// WithLogMaxSize overrides the segment rollover threshold.
func WithLogMaxSize(n int64) Option {
	return func(e *Engine) { e.logMaxSize = n }
}

// WithFsync enables fsync on every append (default: rely on the OS page
// cache and the write syscall's own buffering).
func WithFsync(b bool) Option {
	return func(e *Engine) { e.fsync = b }
}

// WithCompactionEnabled toggles automatic background compaction.
func WithCompactionEnabled(b bool) Option {
	return func(e *Engine) { e.compactionEnabled = b }
}

// WithCompactionThreshold sets how many inactive segments must exist
// before a Set triggers an automatic compaction.
func WithCompactionThreshold(n int) Option {
	return func(e *Engine) { e.compactionThreshold = n }
}

// WithLogger attaches a structured logger; nil (the default) disables
// logging.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(e *Engine) { e.log = log }
}

// withOnCompactStart is a test hook fired just after the set of segments to
// compact has been decided, mirroring Epokhe-bitdb's onMergeStart.
func withOnCompactStart(f func()) Option {
	return func(e *Engine) { e.onCompactStart = f }
}
