package vio

import (
	"io"
)

type zeroesReader struct {
}

func (rdr *zeroesReader) Read(p []byte) (n int, err error) {

	if len(p) == 0 {
		return
	}
	p[0] = 0
	for bp := 1; bp < len(p); bp *= 2 {
		copy(p[bp:], p[:bp])
	}

	return len(p), nil
}

// Zeroes is an infinite stream of zero bytes, used by vdd.Format to
// zero-fill the backing file without materializing a BlockSize buffer.
var Zeroes = io.Reader(&zeroesReader{})
