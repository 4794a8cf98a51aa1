// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package seglog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmhodges/clock"
)

// Defaults applied by OpenWriteStore for zero-valued Config fields.
const (
	DefaultFileRollSize  = 64 << 20  // 67_108_864
	DefaultMaxTotalBytes = 512 << 20 // 536_870_912
	DefaultSyncInterval  = time.Second
)

// backpressurePoll is the cadence at which a blocked append re-evaluates
// the retention floor.
const backpressurePoll = 25 * time.Millisecond

type syncMode int

const (
	syncPeriodic syncMode = iota
	syncAlways
	syncNever
	syncPerThreadBytes
	syncTotalBytes
)

// SyncPolicy selects when the write store issues a durability barrier.
// Sync never happens on read.
type SyncPolicy struct {
	mode     syncMode
	interval time.Duration
	bytes    int64
}

// SyncAlways syncs after every successful append.
func SyncAlways() SyncPolicy {
	return SyncPolicy{mode: syncAlways}
}

// SyncNever never syncs, relying on OS flush at close.
func SyncNever() SyncPolicy {
	return SyncPolicy{mode: syncNever}
}

// SyncPeriodic syncs when at least d has passed since the last sync at
// append time, and on close.
func SyncPeriodic(d time.Duration) SyncPolicy {
	return SyncPolicy{mode: syncPeriodic, interval: d}
}

// SyncPerThreadBufferBytes syncs when at least n bytes have accumulated
// unsynced since the last sync. With the single writer a log directory
// permits, this coincides with SyncTotalBufferBytes; both names exist
// to keep the policy surface complete.
func SyncPerThreadBufferBytes(n int64) SyncPolicy {
	return SyncPolicy{mode: syncPerThreadBytes, bytes: n}
}

// SyncTotalBufferBytes syncs when at least n bytes have accumulated
// unsynced since the last sync.
func SyncTotalBufferBytes(n int64) SyncPolicy {
	return SyncPolicy{mode: syncTotalBytes, bytes: n}
}

// Config carries the tunables of a write store.
type Config struct {
	// SyncPolicy selects the durability barrier cadence. Default: SyncPeriodic(1s).
	SyncPolicy SyncPolicy
	// FileRollSize is the segment size at which the next append goes to a
	// fresh segment. Checked before writing; a single frame larger than
	// the roll size gets its own segment rather than being refused.
	FileRollSize int64
	// MaxTotalBytes bounds the sum of all segment sizes; oldest sealed
	// segments are evicted to fit. Default: DefaultMaxTotalBytes; a
	// negative value disables the bound.
	MaxTotalBytes int64
	// MaxFileAge makes sealed segments whose age exceeds it eligible for
	// eviction. 0 disables age-based eviction.
	MaxFileAge time.Duration
	// BlockingMinRetention is a hard floor: sealed segments younger than
	// it are never evicted, and appends block under size pressure until
	// the floor expires.
	BlockingMinRetention time.Duration
	// BufioSize buffers appends to the active segment when > 0.
	BufioSize int
	// Clock is the injected time source. Default: the system clock.
	Clock clock.Clock
}

func (c Config) withDefaults() Config {
	if c.SyncPolicy == (SyncPolicy{}) {
		c.SyncPolicy = SyncPeriodic(DefaultSyncInterval)
	}
	if c.FileRollSize == 0 {
		c.FileRollSize = DefaultFileRollSize
	}
	if c.MaxTotalBytes == 0 {
		c.MaxTotalBytes = DefaultMaxTotalBytes
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}

	return c
}

// WriteStore is the single-writer append path of a log directory: it owns
// the active segment's writable handle, assigns offsets and applies the
// roll, sync and retention policies. At most one write store may exist
// per directory; enforcing that is the embedder's job.
type WriteStore struct {
	mu   sync.Mutex
	dir  string
	conf Config
	clk  clock.Clock
	ros  *roster

	maxOffset uint64 // last assigned offset; 0 while the log is empty

	lastSync time.Time
	unsynced int64

	wmu      sync.Mutex
	watchers map[chan struct{}]struct{}

	closed bool
}

// OpenWriteStore discovers dir, repairs the active segment's trailing
// partial frame if a crash left one, and readies the store for appends.
// The directory and segment 0 are created when absent.
func OpenWriteStore(dir string, conf Config) (*WriteStore, error) {
	conf = conf.withDefaults()

	ros, err := discover(dir)
	if err != nil {
		return nil, err
	}

	act, err := ros.bootstrap()
	if err != nil {
		return nil, err
	}

	if err = act.recover(); err != nil {
		return nil, err
	}

	if err = act.openWriter(conf.BufioSize); err != nil {
		return nil, err
	}

	ws := &WriteStore{
		dir:      dir,
		conf:     conf,
		clk:      conf.Clock,
		ros:      ros,
		lastSync: conf.Clock.Now(),
		watchers: make(map[chan struct{}]struct{}),
	}

	ws.maxOffset = act.lastOff
	if act.lastOff == 0 && act.base > 0 {
		ws.maxOffset = act.base - 1
	}

	if err = ws.verifySealed(); err != nil {
		return nil, err
	}

	return ws, nil
}

// verifySealed cross-checks every sealed segment's first frame against its
// filename. Offsets below the filename are corruption; offsets above it
// are tolerated drift (the bootstrap segment is named 0 while offsets
// start at 1). A drift of one passes silently; a larger drift is only
// warned about.
func (ws *WriteStore) verifySealed() error {
	segs := ws.ros.snapshot()
	for _, seg := range segs[:len(segs)-1] {
		first, ok, err := seg.firstOffset()
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		if first < seg.base {
			return fmt.Errorf("%w: segment %s starts at offset %d", ErrCorruption, seg.path, first)
		}
		if first > seg.base+1 {
			Logger.Printf("warn: segment %s starts at offset %d, drift %d", seg.path, first, first-seg.base)
		}
	}

	return nil
}

// Append writes one message and returns its assigned offset. It blocks
// for as long as the retention floor forbids making room; use
// AppendContext to bound the wait.
func (ws *WriteStore) Append(payload []byte) (uint64, error) {
	return ws.AppendContext(context.Background(), payload)
}

// AppendContext writes one message and returns its assigned offset.
// Offset assignment and the frame write form a single step: if the frame
// is not written the store's max offset does not advance. A sync failure
// after a successful write returns the assigned offset together with the
// error. ErrBackpressure is returned when
// ctx expires while the retention floor blocks acceptance.
func (ws *WriteStore) AppendContext(ctx context.Context, payload []byte) (uint64, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.closed {
		return 0, ErrClosed
	}

	frameLen := int64(headerWidth) + int64(len(payload))
	if err := ws.reserve(ctx, frameLen); err != nil {
		return 0, err
	}

	act := ws.ros.active()
	if act == nil || act.file == nil {
		return 0, fmt.Errorf("%w: no active segment", ErrInvariant)
	}

	if ws.shouldRoll(act, len(payload)) {
		var err error
		if act, err = ws.roll(); err != nil {
			return 0, err
		}
	}

	offset := ws.maxOffset + 1
	if err := act.append(offset, payload); err != nil {
		return 0, err
	}

	ws.maxOffset = offset
	ws.unsynced += frameLen

	if err := ws.maybeSync(act); err != nil {
		return offset, err
	}

	ws.notify()
	return offset, nil
}

// shouldRoll reports whether the next frame must open a fresh segment:
// the frame would push the active segment past the roll size AND the
// active segment already holds at least one complete frame. The check
// runs before writing, so an oversized payload lands alone in its own
// segment instead of being refused.
func (ws *WriteStore) shouldRoll(act *segment, payloadLen int) bool {
	if act.lastOff == 0 {
		return false
	}

	return act.size+int64(headerWidth)+int64(payloadLen) > ws.conf.FileRollSize
}

// roll seals the active segment and creates its successor named for the
// next offset to be assigned.
func (ws *WriteStore) roll() (*segment, error) {
	act := ws.ros.active()
	if err := act.seal(ws.clk.Now()); err != nil {
		return nil, err
	}

	seg, err := ws.ros.roll(ws.maxOffset + 1)
	if err != nil {
		return nil, err
	}

	if err = seg.openWriter(ws.conf.BufioSize); err != nil {
		return nil, err
	}

	Logger.Printf("info: rolled to segment %s", seg.path)
	return seg, nil
}

// reserve makes room for an incoming frame under the retention policy.
// When the size bound is exceeded and the floor forbids eviction, it
// blocks, re-evaluating on a short poll, until the floor expires or ctx
// is done. This is the store's sole backpressure point.
func (ws *WriteStore) reserve(ctx context.Context, incoming int64) error {
	for {
		if err := ws.pruneLocked(incoming); err != nil {
			return err
		}

		if ws.conf.MaxTotalBytes <= 0 || ws.ros.totalSize()+incoming <= ws.conf.MaxTotalBytes {
			return nil
		}

		if ws.ros.len() < 2 {
			// nothing sealed to evict: retention cannot shrink a log
			// that is a single active segment
			return nil
		}

		select {
		case <-ctx.Done():
			return ErrBackpressure
		case <-time.After(backpressurePoll):
		}
	}
}

// Prune evaluates retention and deletes eligible sealed segments from the
// low-offset end. Safe to call from a monitor goroutine.
func (ws *WriteStore) Prune() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.closed {
		return ErrClosed
	}

	return ws.pruneLocked(0)
}

// pruneLocked evicts from the low-offset end only, never the active
// segment, and never a sealed segment younger than the blocking floor.
// incoming is the frame length an append needs room for, 0 outside the
// append path.
func (ws *WriteStore) pruneLocked(incoming int64) error {
	now := ws.clk.Now()

	if ws.conf.MaxFileAge > 0 {
		for ws.ros.len() > 1 {
			old := ws.ros.oldest()
			if now.Sub(old.modTime) < ws.conf.MaxFileAge || ws.underFloor(now, old) {
				break
			}

			Logger.Printf("info: removing aged-out segment %s", old.path)
			if err := ws.ros.dropOldest(); err != nil {
				return err
			}
		}
	}

	if ws.conf.MaxTotalBytes > 0 {
		for ws.ros.len() > 1 && ws.ros.totalSize()+incoming > ws.conf.MaxTotalBytes {
			old := ws.ros.oldest()
			if ws.underFloor(now, old) {
				break
			}

			Logger.Printf("info: evicting segment %s under size pressure", old.path)
			if err := ws.ros.dropOldest(); err != nil {
				return err
			}
		}
	}

	return nil
}

// underFloor reports whether the blocking retention floor protects seg.
func (ws *WriteStore) underFloor(now time.Time, seg *segment) bool {
	return ws.conf.BlockingMinRetention > 0 && now.Sub(seg.modTime) < ws.conf.BlockingMinRetention
}

// maybeSync applies the configured sync policy after a successful append.
func (ws *WriteStore) maybeSync(act *segment) error {
	p := ws.conf.SyncPolicy
	switch p.mode {
	case syncAlways:
		return ws.syncLocked(act)
	case syncNever:
		return nil
	case syncPeriodic:
		if ws.clk.Now().Sub(ws.lastSync) >= p.interval {
			return ws.syncLocked(act)
		}
	case syncPerThreadBytes, syncTotalBytes:
		if ws.unsynced >= p.bytes {
			return ws.syncLocked(act)
		}
	}

	return nil
}

// Sync flushes buffered appends and issues a full durability barrier on
// the active segment.
func (ws *WriteStore) Sync() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.closed {
		return ErrClosed
	}

	return ws.syncLocked(ws.ros.active())
}

func (ws *WriteStore) syncLocked(act *segment) error {
	if act == nil {
		return fmt.Errorf("%w: no active segment", ErrInvariant)
	}

	if err := act.sync(); err != nil {
		return err
	}

	ws.lastSync = ws.clk.Now()
	ws.unsynced = 0
	return nil
}

// MaxOffset returns the last assigned offset, 0 while the log is empty.
func (ws *WriteStore) MaxOffset() uint64 {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.maxOffset
}

// Dir returns the log directory the store writes to.
func (ws *WriteStore) Dir() string {
	return ws.dir
}

// Close flushes the active segment, syncs when the policy calls for it,
// and releases the writable handle. Readers remain usable.
func (ws *WriteStore) Close() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.closed {
		return ErrClosed
	}
	ws.closed = true

	act := ws.ros.active()
	if act == nil {
		return nil
	}

	if ws.conf.SyncPolicy.mode != syncNever {
		if err := act.sync(); err != nil {
			return err
		}
	}

	return act.seal(ws.clk.Now())
}
