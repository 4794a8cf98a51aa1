// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package seglog

import (
	"io"
	"os"
)

// MessageAndOffset is one decoded frame: the payload and the offset it
// was assigned at append time.
type MessageAndOffset struct {
	Offset  uint64
	Message []byte
}

type whenceMode int

const (
	whenceOldest whenceMode = iota
	whenceLatest
	whencePosition
)

// Whence directs where a read store positions itself on open or seek.
type Whence struct {
	mode whenceMode
	pos  uint64
}

// WhenceOldest positions at the first frame of the lowest segment.
var WhenceOldest = Whence{mode: whenceOldest}

// WhenceLatest positions at the end of the active segment; reads return
// end-of-stream until new frames are written.
var WhenceLatest = Whence{mode: whenceLatest}

// WhencePosition positions at the first frame whose offset is >= p,
// or at the tail of the active segment if no such frame exists.
func WhencePosition(p uint64) Whence {
	return Whence{mode: whencePosition, pos: p}
}

// TargetPosition returns the target offset of a position whence.
func (w Whence) TargetPosition() (uint64, bool) {
	return w.pos, w.mode == whencePosition
}

// ReadStore is a cursor over the roster: it owns its own read-only file
// handles and crosses segment boundaries transparently. A read store is
// not thread-safe; guard it with a mutex to share it across goroutines.
type ReadStore struct {
	dir    string
	ros    *roster
	shared bool // roster is a write store's live roster

	cur  *segment
	f    *os.File
	last uint64 // offset of the frame before the cursor, 0 if none
}

// OpenReadStore discovers dir into a private roster snapshot and
// positions per whence. The snapshot is consistent until Refresh.
func OpenReadStore(dir string, w Whence) (*ReadStore, error) {
	ros, err := discover(dir)
	if err != nil {
		return nil, err
	}

	rs := &ReadStore{dir: dir, ros: ros}
	if err = rs.Seek(w); err != nil {
		logClose(rs)
		return nil, err
	}

	return rs, nil
}

// NewReader returns a read store attached to the write store's live
// roster: it observes rolls without refreshing, and the segments it holds
// open are protected from retention deletion until released.
func (ws *WriteStore) NewReader(w Whence) (*ReadStore, error) {
	rs := &ReadStore{dir: ws.dir, ros: ws.ros, shared: true}
	if err := rs.Seek(w); err != nil {
		logClose(rs)
		return nil, err
	}

	return rs, nil
}

// Seek repositions the cursor per whence, as on open.
func (rs *ReadStore) Seek(w Whence) error {
	rs.last = 0

	switch w.mode {
	case whenceOldest:
		return rs.setSegment(rs.ros.oldest(), 0)

	case whenceLatest:
		act := rs.ros.active()
		if act == nil {
			return rs.setSegment(nil, 0)
		}

		if err := rs.setSegment(act, 0); err != nil {
			return err
		}

		lastOff, end, err := scanLastFrame(rs.f)
		if err != nil {
			return err
		}

		if _, err = rs.f.Seek(end, io.SeekStart); err != nil {
			return err
		}

		rs.last = lastOff
		return nil

	default: // whencePosition
		seg := rs.ros.floor(w.pos)
		if seg == nil {
			seg = rs.ros.oldest()
		}

		if err := rs.setSegment(seg, 0); err != nil {
			return err
		}

		return rs.skipTo(w.pos)
	}
}

// skipTo walks frames forward from the current position, crossing
// segments as needed, and leaves the cursor on the first frame whose
// offset is >= target, or at the tail of the active segment.
func (rs *ReadStore) skipTo(target uint64) error {
	for rs.cur != nil {
		start, err := rs.f.Seek(0, io.SeekCurrent)
		if err != nil {
			return err
		}

		offset, err := skipFrame(rs.f)
		switch err {
		case nil:
			if offset >= target {
				_, err = rs.f.Seek(start, io.SeekStart)
				return err
			}

			rs.last = offset

		case io.EOF, errPartialFrame:
			next := rs.ros.next(rs.cur.base)
			if next == nil {
				return nil // tail of the active segment
			}

			if err = rs.setSegment(next, 0); err != nil {
				return err
			}

		default:
			return err
		}
	}

	return nil
}

// Read returns the next complete frame, or io.EOF at end of stream. At
// the end of a sealed segment the cursor advances to the next segment in
// the roster; at the end of the active segment new frames become readable
// as the writer flushes them (after Refresh for detached stores when the
// writer has rolled).
func (rs *ReadStore) Read() (MessageAndOffset, error) {
	for {
		if rs.cur == nil {
			// the roster was empty when the cursor was positioned;
			// pick up the bootstrap segment once a writer creates it
			seg := rs.ros.oldest()
			if seg == nil {
				return MessageAndOffset{}, io.EOF
			}

			if err := rs.setSegment(seg, 0); err != nil {
				return MessageAndOffset{}, err
			}
		}

		offset, payload, err := readFrame(rs.f)
		switch err {
		case nil:
			rs.last = offset
			return MessageAndOffset{Offset: offset, Message: payload}, nil

		case errPartialFrame:
			return MessageAndOffset{}, io.EOF

		case io.EOF:
			next := rs.ros.next(rs.cur.base)
			if next == nil {
				return MessageAndOffset{}, io.EOF
			}

			if err = rs.setSegment(next, 0); err != nil {
				return MessageAndOffset{}, err
			}

		default:
			return MessageAndOffset{}, err
		}
	}
}

// LastOffset returns the offset of the frame just before the cursor: the
// last frame Read returned, or the last frame a seek stepped over (after
// WhenceLatest, the last frame in the active segment). It is 0 when no
// frame precedes the cursor.
func (rs *ReadStore) LastOffset() uint64 {
	return rs.last
}

// Refresh re-discovers the directory so that segments created after open
// become visible. The cursor keeps its position. Attached read stores
// observe the live roster and return immediately.
func (rs *ReadStore) Refresh() error {
	if rs.shared {
		return nil
	}

	ros, err := discover(rs.dir)
	if err != nil {
		return err
	}

	rs.ros = ros
	return nil
}

// setSegment swaps the current segment, releasing the old handle and
// reference and opening fresh ones at byte position pos.
func (rs *ReadStore) setSegment(seg *segment, pos int64) error {
	if rs.f != nil {
		logClose(rs.f)
		rs.f = nil
	}
	if rs.cur != nil {
		rs.ros.release(rs.cur)
		rs.cur = nil
	}

	if seg == nil {
		return nil
	}

	f, err := seg.openRead()
	if err != nil {
		return err
	}

	if pos > 0 {
		if _, err = f.Seek(pos, io.SeekStart); err != nil {
			logClose(f)
			return err
		}
	}

	seg.acquire()
	rs.cur = seg
	rs.f = f
	return nil
}

// Close releases the read store's handle and segment reference.
func (rs *ReadStore) Close() error {
	return rs.setSegment(nil, 0)
}
