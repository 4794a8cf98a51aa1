// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package seqlog

import (
	crand "crypto/rand"

	"comail.io/go/colog"
)

func init() {
	colog.Register()
	colog.SetMinLevel(colog.LError)
}

func randData(size int) []byte {
	var bytes = make([]byte, size)
	_, _ = crand.Read(bytes)
	return bytes
}
