// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package seqlog

import (
	"errors"
	"io"

	"github.com/seqlog/seqlog/seglog"
)

// Kind classifies the failures surfaced to embedders.
type Kind int

// Failure classes.
const (
	// KindIo is an underlying filesystem failure.
	KindIo Kind = iota
	// KindCorruption is a structural invariant violation found on disk.
	KindCorruption
	// KindInvariant is an internal precondition failure.
	KindInvariant
	// KindBackpressure means the retention floor blocked acceptance
	// within the caller's deadline.
	KindBackpressure
)

// LogError is a known seqlog error with its failure kind attached.
type LogError interface {
	error
	Kind() Kind
}

type logError struct {
	kind Kind
	err  string
}

func newErr(kind Kind, message string) LogError {
	return &logError{kind: kind, err: message}
}

// Kind returns the error's failure class.
func (e *logError) Kind() Kind {
	return e.kind
}

// Error returns the error string.
func (e *logError) Error() string {
	return e.err
}

var (
	// ErrCorruptLog is returned when the directory's segment files violate
	// a structural invariant that cannot be repaired.
	ErrCorruptLog = newErr(KindCorruption, "seqlog: corrupt log directory")
	// ErrInvariant is returned when an internal precondition failed.
	ErrInvariant = newErr(KindInvariant, "seqlog: invariant violation")
	// ErrBackpressure is returned when the retention floor blocks an
	// append past the caller's deadline.
	ErrBackpressure = newErr(KindBackpressure, "seqlog: retention floor backpressure")
	// ErrClosed is returned when using a producer or consumer after Close.
	ErrClosed = newErr(KindInvariant, "seqlog: closed")

	// ErrEndOfLog is returned by a consumer that has read all the way to
	// the end of the log. Reading past the end is not a failure; new
	// frames become readable as the producer advances.
	ErrEndOfLog = errors.New("seqlog: end of log")
	// ErrBusy is returned when closing a producer that still has attached
	// consumers open.
	ErrBusy = errors.New("seqlog: resource busy")
	// ErrClientTxReserved is returned when opening a consumer with the
	// ClientTxConsumer style, which is a reserved extension point.
	ErrClientTxReserved = errors.New("seqlog: client tx consumers are reserved")
)

var errmap = map[error]error{
	io.EOF:                 ErrEndOfLog,
	seglog.ErrBackpressure: ErrBackpressure,
	seglog.ErrCorruption:   ErrCorruptLog,
	seglog.ErrInvariant:    ErrInvariant,
	seglog.ErrClosed:       ErrClosed,
}

// extErr maps engine errors to their seqlog counterparts. Unmapped
// errors pass through untouched: filesystem failures reach the embedder
// as they are.
func extErr(err error) error {
	if err == nil {
		return nil
	}

	for ext, mapped := range errmap {
		if errors.Is(err, ext) {
			return mapped
		}
	}

	return err
}
