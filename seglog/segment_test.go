// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package seglog

import (
	"bytes"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
)

func tempLogDir(t *testing.T) string {
	t.Helper()

	dir := filepath.Join(os.TempDir(), fmt.Sprintf("seglogtest-%d", rand.Int63()))
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

func TestSegmentNames(t *testing.T) {
	if got := segmentName(0); got != "0000000000000000.log" {
		t.Errorf("segmentName(0) = %q", got)
	}

	if got := segmentName(3); got != "0000000000000003.log" {
		t.Errorf("segmentName(3) = %q", got)
	}

	base, err := parseSegmentName("00000000000000ff.log")
	if err != nil || base != 255 {
		t.Errorf("parseSegmentName = (%d, %v)", base, err)
	}

	for _, name := range []string{
		"settings.json",
		"123.log",
		"00000000000000FF.log", // uppercase hex
		"000000000000000g.log",
		"0000000000000000.data",
	} {
		if _, err := parseSegmentName(name); err == nil {
			t.Errorf("parseSegmentName(%q) accepted", name)
		}
	}
}

func TestSegmentAppendReadFrame(t *testing.T) {
	dir := tempLogDir(t)

	seg, err := createSegment(dir, 0)
	if err != nil {
		t.Fatal(err)
	}

	if err = seg.openWriter(0); err != nil {
		t.Fatal(err)
	}

	payloads := [][]byte{[]byte("first"), []byte("second"), {}}
	for i, p := range payloads {
		if err = seg.append(uint64(i+1), p); err != nil {
			t.Fatal(err)
		}
	}

	// offsets must be handed in strictly increasing
	if err = seg.append(2, []byte("rewind")); err == nil {
		t.Error("append accepted a non-increasing offset")
	}

	f, err := seg.openRead()
	if err != nil {
		t.Fatal(err)
	}
	defer logClose(f)

	for i, p := range payloads {
		offset, payload, err := readFrame(f)
		if err != nil {
			t.Fatal(err)
		}

		if offset != uint64(i+1) || !bytes.Equal(payload, p) {
			t.Errorf("frame %d = (%d, %q)", i, offset, payload)
		}
	}

	if _, _, err = readFrame(f); err != io.EOF {
		t.Errorf("expected io.EOF at end of segment, got %v", err)
	}
}

func TestReadFramePartialRestoresCursor(t *testing.T) {
	dir := tempLogDir(t)

	seg, err := createSegment(dir, 0)
	if err != nil {
		t.Fatal(err)
	}

	if err = seg.openWriter(0); err != nil {
		t.Fatal(err)
	}

	if err = seg.append(1, []byte("complete")); err != nil {
		t.Fatal(err)
	}
	if err = seg.append(2, []byte("to be cut short")); err != nil {
		t.Fatal(err)
	}

	// cut the second frame in half
	if err = os.Truncate(seg.path, seg.size-7); err != nil {
		t.Fatal(err)
	}

	f, err := seg.openRead()
	if err != nil {
		t.Fatal(err)
	}
	defer logClose(f)

	if _, _, err = readFrame(f); err != nil {
		t.Fatal(err)
	}

	entry, _ := f.Seek(0, io.SeekCurrent)
	if _, _, err = readFrame(f); err != errPartialFrame {
		t.Fatalf("expected errPartialFrame, got %v", err)
	}

	pos, _ := f.Seek(0, io.SeekCurrent)
	if pos != entry {
		t.Errorf("cursor moved from %d to %d on partial frame", entry, pos)
	}
}

func TestRecoverTruncatesTrailingPartial(t *testing.T) {
	dir := tempLogDir(t)

	seg, err := createSegment(dir, 0)
	if err != nil {
		t.Fatal(err)
	}

	if err = seg.openWriter(0); err != nil {
		t.Fatal(err)
	}

	for i := 1; i <= 3; i++ {
		if err = seg.append(uint64(i), []byte("payload")); err != nil {
			t.Fatal(err)
		}
	}
	boundary := seg.size

	// simulate an interrupted write
	f, err := os.OpenFile(seg.path, os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		t.Fatal(err)
	}
	if _, err = f.Write([]byte{9, 9, 9, 9, 9, 9, 9}); err != nil {
		t.Fatal(err)
	}
	logClose(f)

	reloaded, err := loadSegment(seg.path)
	if err != nil {
		t.Fatal(err)
	}

	if err = reloaded.recover(); err != nil {
		t.Fatal(err)
	}

	if reloaded.lastOff != 3 {
		t.Errorf("lastOff = %d, expected 3", reloaded.lastOff)
	}
	if reloaded.size != boundary {
		t.Errorf("size = %d, expected %d", reloaded.size, boundary)
	}

	fi, err := os.Stat(seg.path)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Size() != boundary {
		t.Errorf("file size = %d, expected %d", fi.Size(), boundary)
	}
}

func TestScanLastFrameEmpty(t *testing.T) {
	dir := tempLogDir(t)

	seg, err := createSegment(dir, 42)
	if err != nil {
		t.Fatal(err)
	}

	f, err := seg.openRead()
	if err != nil {
		t.Fatal(err)
	}
	defer logClose(f)

	lastOff, end, err := scanLastFrame(f)
	if err != nil {
		t.Fatal(err)
	}
	if lastOff != 0 || end != 0 {
		t.Errorf("scanLastFrame = (%d, %d) on empty segment", lastOff, end)
	}
}

func TestSkipFrame(t *testing.T) {
	dir := tempLogDir(t)

	seg, err := createSegment(dir, 0)
	if err != nil {
		t.Fatal(err)
	}

	if err = seg.openWriter(0); err != nil {
		t.Fatal(err)
	}

	if err = seg.append(1, []byte("0123456789")); err != nil {
		t.Fatal(err)
	}
	if err = seg.append(2, []byte("x")); err != nil {
		t.Fatal(err)
	}

	f, err := seg.openRead()
	if err != nil {
		t.Fatal(err)
	}
	defer logClose(f)

	offset, err := skipFrame(f)
	if err != nil || offset != 1 {
		t.Fatalf("skipFrame = (%d, %v)", offset, err)
	}

	offset, payload, err := readFrame(f)
	if err != nil || offset != 2 || string(payload) != "x" {
		t.Fatalf("frame after skip = (%d, %q, %v)", offset, payload, err)
	}
}

func TestFirstOffset(t *testing.T) {
	dir := tempLogDir(t)

	seg, err := createSegment(dir, 5)
	if err != nil {
		t.Fatal(err)
	}

	if _, ok, err := seg.firstOffset(); err != nil || ok {
		t.Fatalf("firstOffset on empty segment = (ok=%t, %v)", ok, err)
	}

	if err = seg.openWriter(0); err != nil {
		t.Fatal(err)
	}
	if err = seg.append(6, []byte("data")); err != nil {
		t.Fatal(err)
	}

	first, ok, err := seg.firstOffset()
	if err != nil || !ok || first != 6 {
		t.Fatalf("firstOffset = (%d, %t, %v)", first, ok, err)
	}
}
