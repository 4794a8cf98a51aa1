// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package seqlog

import (
	"context"
	"log"

	"github.com/seqlog/seqlog/seglog"
)

// Producer is the single append handle on a log directory.
// Producers are thread-safe.
type Producer struct {
	dir       string
	opts      Options
	ws        *seglog.WriteStore
	consumers *ConsumerAtomicMap
}

// OpenProducer opens (creating if necessary) the log in dir. Explicitly
// set options win over options persisted in the directory, which win
// over the defaults; the effective options are persisted back for the
// next open.
func OpenProducer(dir string, opts Options) (*Producer, error) {
	persisted, err := loadSettings(dir)
	if err != nil {
		log.Printf("warn: ignoring unreadable settings in %q: %s", dir, err)
	}

	opts = opts.merge(persisted).merge(DefaultOptions())

	ws, err := seglog.OpenWriteStore(dir, opts.config())
	if err != nil {
		return nil, extErr(err)
	}

	if err = persistSettings(dir, opts); err != nil {
		log.Printf("warn: failed to persist settings in %q: %s", dir, err)
	}

	return &Producer{
		dir:       dir,
		opts:      opts,
		ws:        ws,
		consumers: NewConsumerAtomicMap(),
	}, nil
}

// Append writes one message and returns its assigned offset. Under size
// pressure that the retention floor forbids relieving, Append blocks
// until the floor expires; use AppendContext to bound the wait.
func (p *Producer) Append(payload []byte) (uint64, error) {
	offset, err := p.ws.Append(payload)
	return offset, extErr(err)
}

// AppendContext is Append with a caller-supplied deadline for the
// retention backpressure wait. ErrBackpressure is returned when ctx
// expires while the floor still blocks acceptance.
func (p *Producer) AppendContext(ctx context.Context, payload []byte) (uint64, error) {
	offset, err := p.ws.AppendContext(ctx, payload)
	return offset, extErr(err)
}

// Sync flushes all data to disk.
func (p *Producer) Sync() error {
	return extErr(p.ws.Sync())
}

// Prune evaluates retention and deletes eligible sealed segments.
// The append path prunes on its own; Prune exists for the retention
// monitor and for embedders that want eager reclamation.
func (p *Producer) Prune() error {
	return extErr(p.ws.Prune())
}

// MaxOffset returns the last assigned offset, 0 while the log is empty.
func (p *Producer) MaxOffset() uint64 {
	return p.ws.MaxOffset()
}

// Info provides all public information about the log.
func (p *Producer) Info() (*seglog.Info, error) {
	inf, err := p.ws.Info()
	return inf, extErr(err)
}

// Dir returns the log directory.
func (p *Producer) Dir() string {
	return p.dir
}

// Close flushes and releases the producer. ErrBusy is returned while
// attached consumers remain open.
func (p *Producer) Close() error {
	if p.consumers.Len() > 0 {
		return ErrBusy
	}

	return extErr(p.ws.Close())
}
