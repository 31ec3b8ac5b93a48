// Package readermanager implements the engine's reference-counted
// file-descriptor cache: one *os.File per canonicalized path, shared by all
// concurrent Readers of that path, released through a bounded FIFO queue so
// a descriptor stays open for a little while after its last user lets go
// (amortizing reopen cost across back-to-back probes of the same file).
//
// The map and release queue are protected by the engine's single lock, not
// an independent one — Manager has no mutex of its own and must only be
// driven by a caller already holding that lock.
package readermanager

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

type entry struct {
	file     *os.File
	size     int64
	refcount int
}

// Manager is the descriptor cache.
type Manager struct {
	open         map[string]*entry
	releaseQueue []string
	cacheSize    int
}

// New constructs a Manager that keeps up to cacheSize recently-released
// descriptors open before actually closing them.
func New(cacheSize int) *Manager {
	return &Manager{
		open:      make(map[string]*entry),
		cacheSize: cacheSize,
	}
}

// CacheSize returns the configured release-queue bound, persisted as
// fd_cache_size in engine metadata.
func (m *Manager) CacheSize() int {
	return m.cacheSize
}

func canonical(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return filepath.Clean(abs)
	}
	return filepath.Clean(path)
}

// Reader is a handle on a shared descriptor. It implements io.ReaderAt so
// it can back an sstable.Reader directly, plus Size and Close.
type Reader struct {
	mgr  *Manager
	path string
	e    *entry
	done bool
}

// ReadAt issues a positioned read against the shared descriptor.
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	return r.e.file.ReadAt(p, off)
}

// Size returns the file's size as of when it was opened (SSTables are
// immutable once written, so this never changes underneath a Reader).
func (r *Reader) Size() int64 {
	return r.e.size
}

// Close decrements the descriptor's refcount. If it reaches zero, the path
// is queued for release; eviction past cacheSize closes the oldest queued
// descriptor still at zero refcount.
func (r *Reader) Close() error {
	if r.done {
		return nil
	}
	r.done = true
	return r.mgr.release(r.path)
}

// CreateReader returns a Reader bound to path, opening a fresh descriptor
// (O_RDONLY) on first use and incrementing the shared refcount on every
// subsequent call for the same canonical path.
func (m *Manager) CreateReader(path string) (*Reader, error) {
	canon := canonical(path)
	if e, ok := m.open[canon]; ok {
		e.refcount++
		return &Reader{mgr: m, path: canon, e: e}, nil
	}

	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "readermanager: open %q", path)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "readermanager: stat %q", path)
	}

	e := &entry{file: f, size: st.Size(), refcount: 1}
	m.open[canon] = e
	return &Reader{mgr: m, path: canon, e: e}, nil
}

func (m *Manager) release(canon string) error {
	e, ok := m.open[canon]
	if !ok {
		return nil
	}
	e.refcount--
	if e.refcount > 0 {
		return nil
	}

	m.releaseQueue = append(m.releaseQueue, canon)
	var firstErr error
	for len(m.releaseQueue) > m.cacheSize {
		front := m.releaseQueue[0]
		m.releaseQueue = m.releaseQueue[1:]

		fe, ok := m.open[front]
		if !ok || fe.refcount > 0 {
			// Reacquired since being queued, or already gone — leave it.
			continue
		}
		if err := fe.file.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "readermanager: close %q", front)
		}
		delete(m.open, front)
	}
	return firstErr
}

// Unlink closes any open descriptor for path, removes it from the cache,
// and deletes the file from disk. Callers must ensure no Reader is
// currently active over path before calling this — the engine lock
// guarantees that, since every public operation (including compaction)
// runs under it.
func (m *Manager) Unlink(path string) error {
	canon := canonical(path)
	if e, ok := m.open[canon]; ok {
		e.file.Close()
		delete(m.open, canon)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "readermanager: unlink %q", path)
	}
	return nil
}
