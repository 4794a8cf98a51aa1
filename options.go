// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package seqlog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/jmhodges/clock"
	"github.com/ninibe/bigduration"

	"github.com/seqlog/seqlog/seglog"
)

const settingsFile = "settings.json"

// SyncMode names a durability barrier cadence.
type SyncMode string

// Available sync modes.
const (
	SyncModeAlways               SyncMode = "always"
	SyncModeNever                SyncMode = "never"
	SyncModePeriodic             SyncMode = "periodic"
	SyncModePerThreadBufferBytes SyncMode = "per_thread_buffer_bytes"
	SyncModeTotalBufferBytes     SyncMode = "total_buffer_bytes"
)

// SyncPolicy selects when appends are followed by a durability barrier.
type SyncPolicy struct {
	Mode SyncMode `json:"mode,omitempty"`
	// Interval applies to SyncModePeriodic.
	Interval bigduration.BigDuration `json:"interval,omitempty"`
	// BufferBytes applies to the buffer-bytes modes.
	BufferBytes int64 `json:"buffer_bytes,omitempty"`
}

// SyncAlways syncs after every successful append.
func SyncAlways() SyncPolicy {
	return SyncPolicy{Mode: SyncModeAlways}
}

// SyncNever never syncs, relying on OS flush at close.
func SyncNever() SyncPolicy {
	return SyncPolicy{Mode: SyncModeNever}
}

// SyncPeriodic syncs when at least interval has passed since the last
// sync at append time, and on close.
func SyncPeriodic(interval bigduration.BigDuration) SyncPolicy {
	return SyncPolicy{Mode: SyncModePeriodic, Interval: interval}
}

// SyncPerThreadBufferBytes syncs once n unsynced bytes accumulate.
func SyncPerThreadBufferBytes(n int64) SyncPolicy {
	return SyncPolicy{Mode: SyncModePerThreadBufferBytes, BufferBytes: n}
}

// SyncTotalBufferBytes syncs once n unsynced bytes accumulate.
func SyncTotalBufferBytes(n int64) SyncPolicy {
	return SyncPolicy{Mode: SyncModeTotalBufferBytes, BufferBytes: n}
}

func (p SyncPolicy) lower() seglog.SyncPolicy {
	switch p.Mode {
	case SyncModeAlways:
		return seglog.SyncAlways()
	case SyncModeNever:
		return seglog.SyncNever()
	case SyncModePerThreadBufferBytes:
		return seglog.SyncPerThreadBufferBytes(p.BufferBytes)
	case SyncModeTotalBufferBytes:
		return seglog.SyncTotalBufferBytes(p.BufferBytes)
	default:
		d := p.Interval.Duration()
		if d == 0 {
			d = time.Second
		}
		return seglog.SyncPeriodic(d)
	}
}

// Options holds the tunable settings of a log.
type Options struct {
	// SyncPolicy is the durability barrier cadence. Default: periodic, 1s.
	SyncPolicy SyncPolicy `json:"sync_policy,omitempty"`
	// FileRollSize is the segment size in bytes at which new appends go
	// to a fresh segment. Default 64 MiB.
	FileRollSize int64 `json:"file_roll_size,omitempty"`
	// MaxTotalBytes bounds the log's total size; oldest sealed segments
	// are evicted to fit. Default 512 MiB.
	MaxTotalBytes int64 `json:"max_total_bytes,omitempty"`
	// MaxFileAge is the age after which old sealed segments are
	// discarded. Unset disables age-based eviction.
	MaxFileAge bigduration.BigDuration `json:"max_file_age,omitempty"`
	// BlockingMinRetention is a hard floor: sealed segments younger than
	// it are never evicted, and appends block under size pressure until
	// the floor expires.
	BlockingMinRetention bigduration.BigDuration `json:"blocking_min_retention,omitempty"`
	// BufioSize buffers appends to the active segment when > 0.
	BufioSize int `json:"bufio_size,omitempty"`

	// Clock is the injected time source used for sync intervals and
	// retention ages. Defaults to the system clock.
	Clock clock.Clock `json:"-"`
}

// DefaultOptions returns the options used when nothing else is defined.
func DefaultOptions() Options {
	return Options{
		SyncPolicy:    SyncPeriodic(bigduration.BigDuration{Nanos: time.Second}),
		FileRollSize:  seglog.DefaultFileRollSize,
		MaxTotalBytes: seglog.DefaultMaxTotalBytes,
	}
}

// merge fills o's unset fields from fallback.
func (o Options) merge(fallback Options) Options {
	if o.SyncPolicy.Mode == "" {
		o.SyncPolicy = fallback.SyncPolicy
	}
	if o.FileRollSize == 0 {
		o.FileRollSize = fallback.FileRollSize
	}
	if o.MaxTotalBytes == 0 {
		o.MaxTotalBytes = fallback.MaxTotalBytes
	}
	if o.MaxFileAge.Duration() == 0 {
		o.MaxFileAge = fallback.MaxFileAge
	}
	if o.BlockingMinRetention.Duration() == 0 {
		o.BlockingMinRetention = fallback.BlockingMinRetention
	}
	if o.BufioSize == 0 {
		o.BufioSize = fallback.BufioSize
	}
	if o.Clock == nil {
		o.Clock = fallback.Clock
	}

	return o
}

func (o Options) config() seglog.Config {
	return seglog.Config{
		SyncPolicy:           o.SyncPolicy.lower(),
		FileRollSize:         o.FileRollSize,
		MaxTotalBytes:        o.MaxTotalBytes,
		MaxFileAge:           o.MaxFileAge.Duration(),
		BlockingMinRetention: o.BlockingMinRetention.Duration(),
		BufioSize:            o.BufioSize,
		Clock:                o.Clock,
	}
}

// loadSettings reads persisted options from the log directory,
// returning zero options if none have been persisted yet.
func loadSettings(dir string) (Options, error) {
	f, err := os.Open(filepath.Join(dir, settingsFile))
	if os.IsNotExist(err) {
		return Options{}, nil
	}
	if err != nil {
		return Options{}, err
	}
	defer logClose(f)

	var opts Options
	dec := json.NewDecoder(f)
	err = dec.Decode(&opts)
	return opts, err
}

// persistSettings writes the effective options next to the segment files
// so that future opens can default from them. The settings file does not
// match the segment pattern and is ignored by discovery.
func persistSettings(dir string, opts Options) error {
	f, err := os.OpenFile(filepath.Join(dir, settingsFile), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return err
	}
	defer logClose(f)

	enc := json.NewEncoder(f)
	return enc.Encode(opts)
}
