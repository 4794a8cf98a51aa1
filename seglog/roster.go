// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package seglog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
)

// roster is the ordered in-memory reflection of a log directory's segment
// files, keyed by base offset. Exactly one segment, the one with the
// greatest key, is active; all others are sealed. A write store shares its
// roster with attached readers, hence the lock.
type roster struct {
	mu   sync.RWMutex
	dir  string
	segs []*segment // ordered by base offset
}

// discover enumerates {hex16}.log entries in dir and assembles the roster.
// The directory is created if absent. Entries that do not match the
// pattern are ignored; parse failures are ignored with a warning.
func discover(dir string) (*roster, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	r := &roster{dir: dir}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != segSuffix {
			continue
		}

		if _, err := parseSegmentName(entry.Name()); err != nil {
			Logger.Printf("warn: ignoring %q: %s", entry.Name(), err)
			continue
		}

		seg, err := loadSegment(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}

		r.segs = append(r.segs, seg)
	}

	sort.Slice(r.segs, func(i, j int) bool {
		return r.segs[i].base < r.segs[j].base
	})

	for i := 1; i < len(r.segs); i++ {
		if r.segs[i].base == r.segs[i-1].base {
			return nil, fmt.Errorf("%w: duplicate segment key %d", ErrCorruption, r.segs[i].base)
		}
	}

	return r, nil
}

// active returns the segment with the greatest key, or nil if the roster
// is empty. Write stores ensure non-emptiness through bootstrap.
func (r *roster) active() *segment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeLocked()
}

func (r *roster) activeLocked() *segment {
	if len(r.segs) == 0 {
		return nil
	}

	return r.segs[len(r.segs)-1]
}

// oldest returns the segment with the smallest key, or nil.
func (r *roster) oldest() *segment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.segs) == 0 {
		return nil
	}

	return r.segs[0]
}

// bootstrap creates segment 0 when discovery produced an empty roster
// and returns the active segment.
func (r *roster) bootstrap() (*segment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.segs) > 0 {
		return r.activeLocked(), nil
	}

	Logger.Printf("info: no segment files in %q, initializing new log", r.dir)
	seg, err := createSegment(r.dir, 0)
	if err != nil {
		return nil, err
	}

	r.segs = append(r.segs, seg)
	return seg, nil
}

// floor returns the segment with the greatest key <= index,
// or nil if index precedes every segment.
func (r *roster) floor(index uint64) *segment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i := sort.Search(len(r.segs), func(i int) bool {
		return r.segs[i].base > index
	})
	if i == 0 {
		return nil
	}

	return r.segs[i-1]
}

// next returns the segment with the smallest key > base, or nil.
func (r *roster) next(base uint64) *segment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i := sort.Search(len(r.segs), func(i int) bool {
		return r.segs[i].base > base
	})
	if i == len(r.segs) {
		return nil
	}

	return r.segs[i]
}

// roll creates the segment file named for nextBase, inserts it and makes
// it the active segment. nextBase must exceed every existing key so that
// the naming invariant holds: the new name equals the next offset assigned.
func (r *roster) roll(nextBase uint64) (*segment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if act := r.activeLocked(); act != nil && nextBase <= act.base {
		return nil, fmt.Errorf("%w: roll to %d behind active %d", ErrInvariant, nextBase, act.base)
	}

	seg, err := createSegment(r.dir, nextBase)
	if err != nil {
		return nil, err
	}

	r.segs = append(r.segs, seg)
	return seg, nil
}

// totalSize sums the byte length of every segment in the roster.
func (r *roster) totalSize() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var total int64
	for _, seg := range r.segs {
		total += seg.size
	}

	return total
}

func (r *roster) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.segs)
}

// snapshot returns the current segment list.
// The slice must not be modified by callers.
func (r *roster) snapshot() []*segment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.segs
}

// dropOldest removes the lowest-keyed segment from the roster. The file
// is unlinked immediately unless a reader still holds it open, in which
// case it is marked pending-delete and unlinked on the last release.
func (r *roster) dropOldest() error {
	r.mu.Lock()

	if len(r.segs) < 2 {
		r.mu.Unlock()
		return fmt.Errorf("%w: refusing to drop the active segment", ErrInvariant)
	}

	seg := r.segs[0]
	r.segs = r.segs[1:]
	r.mu.Unlock()

	if seg.isBusy() {
		Logger.Printf("info: segment %s busy, deferring deletion", seg.path)
		seg.pendingDelete = true

		// the last reader may have left between the check and the mark
		if !seg.isBusy() {
			return r.unlinkPending(seg)
		}

		return nil
	}

	return seg.unlink()
}

// release drops a reader's hold on seg, unlinking it when it was the last
// reader of a pending-delete segment.
func (r *roster) release(seg *segment) {
	if atomic.AddInt32(seg.readers, -1) > 0 || !seg.pendingDelete {
		return
	}

	if err := r.unlinkPending(seg); err != nil {
		Logger.Printf("error: deferred delete of %s failed: %s", seg.path, err)
	}
}

func (r *roster) unlinkPending(seg *segment) error {
	err := seg.unlink()
	if os.IsNotExist(err) {
		return nil // raced with another releaser
	}

	return err
}
