// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package seglog

import "encoding/binary"

var enc = binary.BigEndian

const (
	offsetWidth = 8                        // length in bytes of a frame's offset field
	sizeWidth   = 4                        // length in bytes of a frame's payload-size field
	headerWidth = offsetWidth + sizeWidth  // length in bytes of a complete frame header
)

// EncodeU32 returns x as 4 big-endian bytes.
func EncodeU32(x uint32) [4]byte {
	var buf [4]byte
	enc.PutUint32(buf[:], x)
	return buf
}

// DecodeU32 decodes 4 big-endian bytes.
func DecodeU32(buf [4]byte) uint32 {
	return enc.Uint32(buf[:])
}

// EncodeU64 returns x as 8 big-endian bytes.
func EncodeU64(x uint64) [8]byte {
	var buf [8]byte
	enc.PutUint64(buf[:], x)
	return buf
}

// DecodeU64 decodes 8 big-endian bytes.
func DecodeU64(buf [8]byte) uint64 {
	return enc.Uint64(buf[:])
}

// putHeader writes a frame header into h.
//
// Memory layout of a frame:
//
//	  offset          size          payload
//	[ 8 bytes BE ] [ 4 bytes BE ] [ size bytes ]
//	[ 0 : ow     ] [ ow : hw    ] [ hw : hw+size ]
func putHeader(h []byte, offset uint64, size uint32) {
	enc.PutUint64(h[0:offsetWidth], offset)
	enc.PutUint32(h[offsetWidth:headerWidth], size)
}

// parseHeader reads a frame header using the layout documented in putHeader.
func parseHeader(h []byte) (offset uint64, size uint32) {
	offset = enc.Uint64(h[0:offsetWidth])
	size = enc.Uint32(h[offsetWidth:headerWidth])
	return
}
