// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package seglog

import "errors"

var (
	// ErrCorruption is returned when the log directory violates a structural
	// invariant that cannot be repaired: duplicate segment keys, or a sealed
	// segment whose first frame precedes its filename offset.
	ErrCorruption = errors.New("seglog: corrupt log directory")

	// ErrInvariant is returned when an internal precondition fails, such as
	// an append on a store whose active segment vanished.
	ErrInvariant = errors.New("seglog: invariant violation")

	// ErrBackpressure is returned when an append deadline expires while the
	// retention floor forbids evicting enough data to stay under the size bound.
	ErrBackpressure = errors.New("seglog: retention floor backpressure")

	// ErrClosed is returned when using a store after Close.
	ErrClosed = errors.New("seglog: store closed")

	// ErrSealed is returned when appending to a segment that is no longer active.
	ErrSealed = errors.New("seglog: segment sealed")

	// errPartialFrame reports a frame cut short by end of file. It never
	// escapes the package: readers translate it into end-of-stream after
	// restoring their cursor.
	errPartialFrame = errors.New("seglog: partial frame")
)
