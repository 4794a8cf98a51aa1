// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package seglog

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// Logger is the logger instance used by the engine in case of error.
var Logger = log.New(os.Stderr, "SEGLOG ", log.LstdFlags)

const segSuffix = ".log"

// segmentName renders a base offset as the 16-digit lowercase
// hex file name of the segment that starts at it.
func segmentName(base uint64) string {
	return fmt.Sprintf("%016x%s", base, segSuffix)
}

// parseSegmentName extracts the base offset from a segment file name.
// Only exact matches of the {hex16}.log pattern parse.
func parseSegmentName(name string) (uint64, error) {
	if len(name) != 16+len(segSuffix) || !strings.HasSuffix(name, segSuffix) {
		return 0, fmt.Errorf("%q does not match the segment name pattern", name)
	}

	hex := strings.TrimSuffix(name, segSuffix)
	if hex != strings.ToLower(hex) {
		return 0, fmt.Errorf("%q is not lowercase hex", name)
	}

	return strconv.ParseUint(hex, 16, 64)
}

// A segment is one append-only file holding a contiguous run of frames.
// The entry in the roster doubles as segment metadata shared by lookup;
// only the active segment carries an open writable handle.
type segment struct {
	readers *int32 // reader handles holding this segment open

	base    uint64
	path    string
	size    int64
	modTime time.Time

	// writable side, set only while the segment is active
	file    *os.File
	writer  io.Writer
	lastOff uint64 // offset of the last complete frame, 0 if none

	pendingDelete bool
}

// createSegment creates an empty segment file for the given base offset.
// The file must not exist yet.
func createSegment(dir string, base uint64) (*segment, error) {
	path := filepath.Join(dir, segmentName(base))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		return nil, err
	}

	if err = f.Close(); err != nil {
		return nil, err
	}

	return loadSegment(path)
}

// loadSegment builds a segment entry from an existing file.
// No file handle is kept open; writers and readers open their own.
func loadSegment(path string) (*segment, error) {
	base, err := parseSegmentName(filepath.Base(path))
	if err != nil {
		return nil, err
	}

	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	var readers int32
	return &segment{
		readers: &readers,
		base:    base,
		path:    path,
		size:    fi.Size(),
		modTime: fi.ModTime(),
	}, nil
}

// recover scans the segment for its last complete frame and truncates any
// trailing partial frame left behind by an interrupted write. Only the
// active segment of a write store goes through recovery.
func (s *segment) recover() error {
	f, err := os.OpenFile(s.path, os.O_RDWR, 0666)
	if err != nil {
		return err
	}
	defer logClose(f)

	lastOff, end, err := scanLastFrame(f)
	if err != nil {
		return err
	}

	if end < s.size {
		Logger.Printf("warn: %s is %d bytes longer than its last frame, truncating", s.path, s.size-end)
		if err = f.Truncate(end); err != nil {
			return err
		}
	}

	s.size = end
	s.lastOff = lastOff
	return nil
}

// openWriter opens the writable handle of the active segment, positioned
// at end of file. A bufioSize > 0 buffers appends until flush or sync.
func (s *segment) openWriter(bufioSize int) error {
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return err
	}

	s.file = f
	s.writer = f
	if bufioSize > 0 {
		s.writer = bufio.NewWriterSize(f, bufioSize)
	}

	return nil
}

// append writes one frame to the segment. Offsets must be handed in
// strictly increasing. A short write leaves a trailing partial frame
// that readers detect and recovery truncates.
func (s *segment) append(offset uint64, payload []byte) error {
	if s.file == nil {
		return ErrSealed
	}

	if s.lastOff != 0 && offset <= s.lastOff {
		return fmt.Errorf("%w: offset %d after %d", ErrInvariant, offset, s.lastOff)
	}

	frame := make([]byte, headerWidth+len(payload))
	putHeader(frame, offset, uint32(len(payload)))
	copy(frame[headerWidth:], payload)

	n, err := s.writer.Write(frame)
	s.size += int64(n)
	if err != nil {
		return err
	}

	s.lastOff = offset
	return nil
}

// flush empties the bufio writer, if any, into the file.
func (s *segment) flush() error {
	if flusher, ok := s.writer.(ioFlusher); ok {
		return flusher.Flush()
	}

	return nil
}

// sync flushes buffered appends and issues a full durability barrier.
func (s *segment) sync() error {
	if s.file == nil {
		return ErrSealed
	}

	if err := s.flush(); err != nil {
		return err
	}

	return s.file.Sync()
}

// seal flushes and closes the writable handle, making the segment
// read-only. sealedAt becomes the reference time for retention ages.
func (s *segment) seal(sealedAt time.Time) error {
	if s.file == nil {
		return nil
	}

	if err := s.flush(); err != nil {
		return err
	}

	err := s.file.Close()
	s.file = nil
	s.writer = nil
	s.modTime = sealedAt
	return err
}

// openRead opens an independent read-only handle positioned at 0.
func (s *segment) openRead() (*os.File, error) {
	return os.OpenFile(s.path, os.O_RDONLY, 0666)
}

// acquire registers a reader handle on the segment.
func (s *segment) acquire() {
	atomic.AddInt32(s.readers, 1)
}

// isBusy returns true while at least one reader holds the segment open.
func (s *segment) isBusy() bool {
	return atomic.LoadInt32(s.readers) > 0
}

// unlink removes the segment file from disk.
func (s *segment) unlink() error {
	return os.Remove(s.path)
}

// firstOffset returns the offset of the first complete frame, if any.
func (s *segment) firstOffset() (offset uint64, ok bool, err error) {
	f, err := s.openRead()
	if err != nil {
		return 0, false, err
	}
	defer logClose(f)

	offset, _, err = readFrame(f)
	switch err {
	case nil:
		return offset, true, nil
	case io.EOF, errPartialFrame:
		return 0, false, nil
	default:
		return 0, false, err
	}
}

// info returns a SegInfo with the segment's current on-disk state.
func (s *segment) info() (*SegInfo, error) {
	fi, err := os.Stat(s.path)
	if err != nil {
		return nil, err
	}

	return &SegInfo{
		FirstOffset: s.base,
		DiskSize:    fi.Size(),
		ModTime:     s.modTime,
	}, nil
}

// readFrame reads one complete frame from f's current position. It returns
// io.EOF at a clean frame boundary at end of file, and errPartialFrame when
// the file ends mid-frame, with the cursor restored to its entry position.
func readFrame(f *os.File) (offset uint64, payload []byte, err error) {
	entry, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, nil, err
	}

	restore := func() {
		if _, serr := f.Seek(entry, io.SeekStart); serr != nil {
			Logger.Printf("error: can't restore read cursor on %s: %s", f.Name(), serr)
		}
	}

	var hdr [headerWidth]byte
	if _, err = io.ReadFull(f, hdr[:]); err != nil {
		if err == io.EOF {
			return 0, nil, io.EOF
		}

		restore()
		if err == io.ErrUnexpectedEOF {
			return 0, nil, errPartialFrame
		}

		return 0, nil, err
	}

	offset, size := parseHeader(hdr[:])
	payload = make([]byte, size)
	if _, err = io.ReadFull(f, payload); err != nil {
		restore()
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return 0, nil, errPartialFrame
		}

		return 0, nil, err
	}

	return offset, payload, nil
}

// skipFrame reads one frame header from f's current position and seeks
// past the payload without reading it, returning the frame's offset.
// Error semantics match readFrame.
func skipFrame(f *os.File) (offset uint64, err error) {
	entry, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}

	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}

	var hdr [headerWidth]byte
	if _, err = io.ReadFull(f, hdr[:]); err != nil {
		if err == io.EOF {
			return 0, io.EOF
		}

		if _, serr := f.Seek(entry, io.SeekStart); serr != nil {
			return 0, serr
		}
		if err == io.ErrUnexpectedEOF {
			return 0, errPartialFrame
		}

		return 0, err
	}

	offset, size := parseHeader(hdr[:])
	next := entry + headerWidth + int64(size)
	if next > fi.Size() {
		if _, serr := f.Seek(entry, io.SeekStart); serr != nil {
			return 0, serr
		}

		return 0, errPartialFrame
	}

	if _, err = f.Seek(next, io.SeekStart); err != nil {
		return 0, err
	}

	return offset, nil
}

// scanLastFrame walks whole frames from the start of f and reports the
// offset of the last complete one (0 if none) along with the byte position
// just past it. The cursor is restored to its entry position.
func scanLastFrame(f *os.File) (lastOff uint64, end int64, err error) {
	entry, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, 0, err
	}

	fi, err := f.Stat()
	if err != nil {
		return 0, 0, err
	}
	fileSize := fi.Size()

	if _, err = f.Seek(0, io.SeekStart); err != nil {
		return 0, 0, err
	}

	var hdr [headerWidth]byte
	var pos int64
	for {
		if _, rerr := io.ReadFull(f, hdr[:]); rerr != nil {
			break // end of file or partial header: the last recorded frame wins
		}

		offset, size := parseHeader(hdr[:])
		next := pos + headerWidth + int64(size)
		if next > fileSize {
			break // partial payload
		}

		if _, err = f.Seek(int64(size), io.SeekCurrent); err != nil {
			return 0, 0, err
		}

		lastOff, pos = offset, next
	}

	if _, err = f.Seek(entry, io.SeekStart); err != nil {
		return 0, 0, err
	}

	return lastOff, pos, nil
}

// interface to flush bufio.Writer
type ioFlusher interface {
	Flush() error
}

// logClose calls Close on the subject and logs the error if any,
// handy to call Close on defer.
func logClose(c io.Closer) {
	if err := c.Close(); err != nil {
		Logger.Printf("error: %s", err)
	}
}
