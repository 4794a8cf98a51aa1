// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package seglog

// Watcher provides a notification channel for appends
// on a given write store.
type Watcher struct {
	wc chan struct{}
	ws *WriteStore
}

// NewWatcher creates a new Watcher for the write store.
func (ws *WriteStore) NewWatcher() *Watcher {
	wa := &Watcher{
		wc: make(chan struct{}, 1),
		ws: ws,
	}

	ws.wmu.Lock()
	ws.watchers[wa.wc] = struct{}{}
	ws.wmu.Unlock()

	return wa
}

// Watch returns a channel that gets sent an empty struct when there have
// been appends since the last time the channel was read.
func (wa *Watcher) Watch() <-chan struct{} {
	return wa.wc
}

// Close releases the Watcher.
func (wa *Watcher) Close() error {
	wa.ws.wmu.Lock()
	defer wa.ws.wmu.Unlock()

	if _, ok := wa.ws.watchers[wa.wc]; !ok {
		return nil
	}

	delete(wa.ws.watchers, wa.wc)
	close(wa.wc)
	return nil
}

// notify dispatches a non-blocking change notification to every watcher.
func (ws *WriteStore) notify() {
	ws.wmu.Lock()
	defer ws.wmu.Unlock()

	for wc := range ws.watchers {
		select {
		case wc <- struct{}{}:
		default:
		}
	}
}
