// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package seglog

import (
	"testing"
	"time"
)

func TestWatcherSignalsAppend(t *testing.T) {
	dir := tempLogDir(t)

	ws, err := OpenWriteStore(dir, Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer logClose(ws)

	wa := ws.NewWatcher()
	defer logClose(wa)

	select {
	case <-wa.Watch():
		t.Fatal("watcher fired before any append")
	default:
	}

	if _, err = ws.Append([]byte("ping")); err != nil {
		t.Fatal(err)
	}

	select {
	case <-wa.Watch():
	case <-time.After(time.Second):
		t.Fatal("watcher did not fire on append")
	}
}

func TestWatcherCloseIsIdempotent(t *testing.T) {
	dir := tempLogDir(t)

	ws, err := OpenWriteStore(dir, Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer logClose(ws)

	wa := ws.NewWatcher()
	if err = wa.Close(); err != nil {
		t.Fatal(err)
	}
	if err = wa.Close(); err != nil {
		t.Fatal(err)
	}

	// appends after close must not panic on the closed channel
	if _, err = ws.Append([]byte("after close")); err != nil {
		t.Fatal(err)
	}
}
