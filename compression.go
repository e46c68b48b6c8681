// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arcview

import (
	"compress/flate"
	"fmt"
	"io"
	"sync"
)

// CompressionMethod is the ZIP method id of an entry's payload.
type CompressionMethod uint16

const (
	Stored   CompressionMethod = 0 // no compression
	Deflated CompressionMethod = 8 // DEFLATE

	// winZipAESMarker replaces the method of AES entries; the real method
	// is kept in the AES extra field.
	winZipAESMarker CompressionMethod = 99
)

func (m CompressionMethod) String() string {
	switch m {
	case Stored:
		return "store"
	case Deflated:
		return "deflate"
	case winZipAESMarker:
		return "aes"
	}
	return fmt.Sprintf("method(%d)", uint16(m))
}

// deflateCompressor reuses flate writers of a single level across workers.
type deflateCompressor struct {
	pool sync.Pool
}

func newDeflateCompressor(level int) *deflateCompressor {
	return &deflateCompressor{
		pool: sync.Pool{
			New: func() any {
				w, err := flate.NewWriter(io.Discard, level)
				if err != nil {
					w, _ = flate.NewWriter(io.Discard, flate.DefaultCompression)
				}
				return w
			},
		},
	}
}

// Compress deflates p into dest and flushes the final block.
func (d *deflateCompressor) Compress(p []byte, dest io.Writer) error {
	w := d.pool.Get().(*flate.Writer)
	defer d.pool.Put(w)

	w.Reset(dest)
	if _, err := w.Write(p); err != nil {
		return err
	}
	return w.Close()
}

// decompress wraps src according to method.
func decompress(method CompressionMethod, src io.Reader) (io.ReadCloser, error) {
	switch method {
	case Stored:
		return io.NopCloser(src), nil
	case Deflated:
		return flate.NewReader(src), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrAlgorithm, method)
}
