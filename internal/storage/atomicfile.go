package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// createFileDurable creates name under dir and fsyncs both the new file and
// the directory entry pointing at it, so the file's existence survives a
// crash immediately after Open returns.
func createFileDurable(dir, name string) (*os.File, error) {
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create %q: %w", path, err)
	}

	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("sync %q: %w", path, err)
	}

	if err := syncDir(dir); err != nil {
		return nil, err
	}

	return f, nil
}

// writeFileAtomic replaces f's contents with data by writing a sibling temp
// file, fsyncing it, renaming it over f's path, and fsyncing the directory
// so the rename itself is durable. A crash at any point before the rename
// leaves the original file untouched; a crash after leaves the new one.
// Returns the file handle reopened at the now-current path; f is closed.
func writeFileAtomic(f *os.File, data []byte) (retf *os.File, err error) {
	path := f.Name()
	tmpPath := path + ".tmp"

	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	tmpf, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create temp %q: %w", tmpPath, err)
	}
	defer tmpf.Close() //nolint:errcheck

	if _, err = tmpf.Write(data); err != nil {
		return nil, fmt.Errorf("write temp %q: %w", tmpPath, err)
	}
	if err = tmpf.Sync(); err != nil {
		return nil, fmt.Errorf("sync temp %q: %w", tmpPath, err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return nil, fmt.Errorf("rename %q to %q: %w", tmpPath, path, err)
	}
	if err = f.Close(); err != nil {
		return nil, fmt.Errorf("close old handle for %q: %w", path, err)
	}
	if err = syncDir(filepath.Dir(path)); err != nil {
		return nil, err
	}

	retf, err = os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("reopen %q: %w", path, err)
	}
	return retf, nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir %q: %w", dir, err)
	}
	defer d.Close() //nolint:errcheck

	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync dir %q: %w", dir, err)
	}
	return nil
}
