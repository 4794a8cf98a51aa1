// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package seglog

import "time"

// SegInfo contains information about one segment.
type SegInfo struct {
	FirstOffset uint64    `json:"first_offset"`
	DiskSize    int64     `json:"disk_size"`
	ModTime     time.Time `json:"mod_time"`
}

// Info holds all write store meta data.
type Info struct {
	Path         string     `json:"path"`
	DiskSize     int64      `json:"disk_size"`
	FirstOffset  uint64     `json:"first_offset"`
	LatestOffset uint64     `json:"latest_offset"`
	Segments     []*SegInfo `json:"segments"`
	ModTime      time.Time  `json:"mod_time"`
}

// Info returns an Info struct with all information about the store.
func (ws *WriteStore) Info() (*Info, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	inf := &Info{
		Path:         ws.dir,
		LatestOffset: ws.maxOffset,
	}

	segs := ws.ros.snapshot()
	if len(segs) > 0 {
		inf.FirstOffset = segs[0].base
	}

	for _, seg := range segs {
		si, err := seg.info()
		if err != nil {
			return nil, err
		}

		inf.Segments = append(inf.Segments, si)
		inf.DiskSize += si.DiskSize
		inf.ModTime = si.ModTime
	}

	return inf, nil
}
