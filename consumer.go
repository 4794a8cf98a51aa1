// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package seqlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/comail/go-uuid/uuid"

	"github.com/seqlog/seqlog/seglog"
)

//go:generate atomicmapper -pointer -type Consumer

// file name structure for persisted consumer cursors
var cursorPattern = "%s.cursor"

// scanPoll is the cadence at which a detached consumer's Scan looks for
// new data. Attached consumers are woken by the producer instead.
const scanPoll = 50 * time.Millisecond

// ConsumerStyle selects how a consumer traverses the log.
type ConsumerStyle struct {
	client bool
	name   string
}

// GlobalTxConsumer returns every committed message in offset order.
// It is the default and only implemented style.
var GlobalTxConsumer = ConsumerStyle{}

// ClientTxConsumer is a reserved extension point for consumers that
// filter to messages tagged for a named subscriber. Opening a consumer
// with it fails with ErrClientTxReserved.
func ClientTxConsumer(name string) ConsumerStyle {
	return ConsumerStyle{client: true, name: name}
}

// ConsumerOption is the type of function used to set consumer parameters.
type ConsumerOption func(*Consumer)

// Style selects the consumer style; see GlobalTxConsumer.
func Style(s ConsumerStyle) ConsumerOption {
	return func(c *Consumer) {
		c.style = s
	}
}

// Persist makes the consumer checkpoint its position to the log
// directory on Close, so it can be picked up again with ResumeConsumer.
func Persist() ConsumerOption {
	return func(c *Consumer) {
		c.persist = true
	}
}

// WithID overrides the consumer's random ID. IDs name cursor files; two
// live consumers must not share one.
func WithID(id string) ConsumerOption {
	return func(c *Consumer) {
		c._ID = id
	}
}

// Consumer streams messages out of a log directory, transparently
// crossing segment boundaries. Consumers are NOT thread-safe; to share
// one across goroutines the embedder must protect it with a mutex.
type Consumer struct {
	_ID     string
	dir     string
	style   ConsumerStyle
	persist bool
	next    uint64 // next offset expected, 0 if unknown

	rs     *seglog.ReadStore
	wc     *seglog.Watcher // set on attached consumers
	owner  *Producer       // set on attached consumers
	closed bool
}

// OpenConsumer opens a detached consumer on dir positioned per whence.
// Detached consumers snapshot the segment roster and pick up later
// segments via Refresh (Scan refreshes on its own).
func OpenConsumer(dir string, w Whence, copts ...ConsumerOption) (*Consumer, error) {
	c, err := newConsumer(dir, copts)
	if err != nil {
		return nil, err
	}

	if c.rs, err = seglog.OpenReadStore(dir, w); err != nil {
		return nil, extErr(err)
	}

	c.noteWhence(w)
	return c, nil
}

// NewConsumer opens a consumer attached to the producer: it observes
// segment rolls live, its Scan blocks on the producer's write signal
// instead of polling, and segments it holds open are protected from
// retention deletion until released.
func (p *Producer) NewConsumer(w Whence, copts ...ConsumerOption) (*Consumer, error) {
	c, err := newConsumer(p.dir, copts)
	if err != nil {
		return nil, err
	}

	if c.rs, err = p.ws.NewReader(w); err != nil {
		return nil, extErr(err)
	}

	c.noteWhence(w)
	c.wc = p.ws.NewWatcher()
	c.owner = p
	p.consumers.Set(c._ID, c)
	return c, nil
}

// ResumeConsumer reopens a persisted consumer by ID, positioned at the
// first offset it has not yet returned.
func ResumeConsumer(dir, id string, copts ...ConsumerOption) (*Consumer, error) {
	cur, err := loadCursor(dir, id)
	if err != nil {
		return nil, err
	}

	copts = append(copts, WithID(id), Persist())
	return OpenConsumer(dir, WhencePosition(cur.Next), copts...)
}

func newConsumer(dir string, copts []ConsumerOption) (*Consumer, error) {
	c := &Consumer{dir: dir}
	for _, opt := range copts {
		opt(c)
	}

	if c.style.client {
		return nil, ErrClientTxReserved
	}

	if c._ID == "" {
		c._ID = uuid.NewRandom().String()
	}

	return c, nil
}

// noteWhence records the offset the consumer expects next, used for
// checkpoints taken before the first read.
func (c *Consumer) noteWhence(w Whence) {
	c.next = 0
	if p, ok := w.TargetPosition(); ok {
		c.next = p
	}
}

// Read returns the next message, or ErrEndOfLog once the consumer has
// caught up with the producer. Reading past the end is not terminal:
// later Reads return messages appended in between.
func (c *Consumer) Read() (*MessageAndOffset, error) {
	if c.closed {
		return nil, ErrClosed
	}

	mo, err := c.rs.Read()
	if err != nil {
		return nil, extErr(err)
	}

	c.next = mo.Offset + 1
	return &mo, nil
}

// Scan returns the next message, blocking at the end of the log until
// the producer appends more or ctx is done.
func (c *Consumer) Scan(ctx context.Context) (*MessageAndOffset, error) {
	for {
		mo, err := c.Read()
		if err != ErrEndOfLog {
			return mo, err
		}

		if c.wc != nil {
			// block until done or new data
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-c.wc.Watch():
			}

			continue
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(scanPoll):
			if err = c.Refresh(); err != nil {
				return nil, err
			}
		}
	}
}

// Seek repositions the consumer per whence, as on open.
func (c *Consumer) Seek(w Whence) error {
	if c.closed {
		return ErrClosed
	}

	if err := c.rs.Seek(w); err != nil {
		return extErr(err)
	}

	c.noteWhence(w)
	return nil
}

// Refresh makes segments created after open visible to a detached
// consumer. Attached consumers observe the live roster and need none.
func (c *Consumer) Refresh() error {
	if c.closed {
		return ErrClosed
	}

	return extErr(c.rs.Refresh())
}

// ID returns the ID of the consumer.
func (c *Consumer) ID() string {
	return c._ID
}

// LastOffset returns the offset of the message just before the cursor:
// the last one Read returned, or the last one a seek stepped over (after
// WhenceLatest, the last message in the log). It is 0 when no message
// precedes the cursor.
func (c *Consumer) LastOffset() uint64 {
	return c.rs.LastOffset()
}

// ConsumerInfo holds the consumer's offset information.
type ConsumerInfo struct {
	ID      string `json:"id"`
	Next    uint64 `json:"next"`
	Persist bool   `json:"persistent"`
}

// Info returns a ConsumerInfo struct with the consumer's next offset.
func (c *Consumer) Info() ConsumerInfo {
	next := c.next
	if last := c.rs.LastOffset(); last > 0 {
		next = last + 1
	}

	return ConsumerInfo{
		ID:      c._ID,
		Next:    next,
		Persist: c.persist,
	}
}

// Checkpoint persists the consumer's position so ResumeConsumer can pick
// it up after a restart. Close checkpoints persistent consumers on its own.
func (c *Consumer) Checkpoint() error {
	if c.closed {
		return ErrClosed
	}

	return saveCursor(c.dir, c.Info())
}

// Close releases the consumer, checkpointing it first when persistent.
func (c *Consumer) Close() error {
	if c.closed {
		return ErrClosed
	}
	c.closed = true

	if c.persist {
		if err := saveCursor(c.dir, c.Info()); err != nil {
			log.Printf("warn: failed to checkpoint consumer %s: %s", c._ID, err)
		}
	}

	if c.wc != nil {
		logClose(c.wc)
	}
	if c.owner != nil {
		c.owner.consumers.Delete(c._ID)
	}

	return extErr(c.rs.Close())
}

// readersDir is where consumer cursor files live; it does not match the
// segment pattern and is ignored by discovery.
func readersDir(dir string) string {
	return filepath.Join(dir, "readers")
}

func cursorPath(dir, id string) string {
	return filepath.Join(readersDir(dir), fmt.Sprintf(cursorPattern, id))
}

func loadCursor(dir, id string) (ConsumerInfo, error) {
	var cur ConsumerInfo

	f, err := os.Open(cursorPath(dir, id))
	if err != nil {
		return cur, err
	}
	defer logClose(f)

	dec := json.NewDecoder(f)
	err = dec.Decode(&cur)
	return cur, err
}

func saveCursor(dir string, cur ConsumerInfo) error {
	if err := os.MkdirAll(readersDir(dir), 0755); err != nil {
		return err
	}

	f, err := os.OpenFile(cursorPath(dir, cur.ID), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return err
	}
	defer logClose(f)

	enc := json.NewEncoder(f)
	return enc.Encode(cur)
}
