// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package seqlog is an embeddable append-only log: a durable, ordered,
// segmented store of opaque binary messages, each assigned a
// monotonically increasing 64-bit offset. A Producer appends messages to
// a log directory; any number of Consumers stream them back, across
// segment boundaries, from any position.
//
// One log directory supports exactly one Producer; enforcing that across
// processes is the embedder's job. The heavy lifting lives in the seglog
// package; this package is the thin embedder-facing surface.
package seqlog

import "github.com/seqlog/seqlog/seglog"

// MessageAndOffset is one consumed message with the offset it was
// assigned at append time.
type MessageAndOffset = seglog.MessageAndOffset

// Whence directs where a consumer positions itself on open or seek.
type Whence = seglog.Whence

// Positioning directives.
var (
	// WhenceOldest positions at the first message in the log.
	WhenceOldest = seglog.WhenceOldest
	// WhenceLatest positions past the last message; reads return
	// ErrEndOfLog until the producer appends more.
	WhenceLatest = seglog.WhenceLatest
)

// WhencePosition positions at the first message whose offset is >= p.
func WhencePosition(p uint64) Whence {
	return seglog.WhencePosition(p)
}
