package storage

import "errors"

// ErrKeyNotFound is returned by Get/Remove when the key is absent, and by
// Get when the indexed record decodes to a tombstone (an index/log
// disagreement that should not normally occur).
var ErrKeyNotFound = errors.New("storage: key not found")

// ErrEngineMismatch is returned by Open when the directory's sentinel file
// names a different engine than the one being opened with.
var ErrEngineMismatch = errors.New("storage: directory was created by a different engine")
