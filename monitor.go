// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package seqlog

import (
	"log"
	"sync"
	"time"

	"github.com/ninibe/bigduration"
)

// RetentionMonitor periodically prunes a producer's log at a given
// interval. The library starts no goroutines of its own: the append path
// already applies retention inline, and embedders that want reclamation
// independent of write traffic start a monitor explicitly.
type RetentionMonitor struct {
	p        *Producer
	interval time.Duration
	stopc    chan struct{}
	wg       sync.WaitGroup
}

// NewRetentionMonitor returns a monitor for the producer's log.
// A zero interval defaults to one second.
func NewRetentionMonitor(p *Producer, interval bigduration.BigDuration) *RetentionMonitor {
	d := interval.Duration()
	if d == 0 {
		d = time.Second
	}

	return &RetentionMonitor{
		p:        p,
		interval: d,
		stopc:    make(chan struct{}),
	}
}

// Start launches the monitor goroutine.
func (m *RetentionMonitor) Start() {
	m.wg.Add(1)
	go m.run()
}

func (m *RetentionMonitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.check()
		case <-m.stopc:
			return
		}
	}
}

func (m *RetentionMonitor) check() {
	defer func() {
		if err := recover(); err != nil {
			log.Printf("alert: retention check failed: %s", err)
		}
	}()

	log.Printf("trace: running retention monitor")
	if err := m.p.Prune(); err != nil && err != ErrClosed {
		log.Printf("error: retention prune failed: %s", err)
	}
}

// Stop terminates the monitor and waits for it to finish.
func (m *RetentionMonitor) Stop() {
	close(m.stopc)
	m.wg.Wait()
}
