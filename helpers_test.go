// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arcview

import (
	"bytes"
	"context"
	"hash/crc32"
	"math/rand"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTempDir = "/tmp/archive_viewer"

type testFile struct {
	path string
	data []byte
}

// writeFiles creates files on fsys and returns their paths in order.
func writeFiles(t *testing.T, fsys afero.Fs, files ...testFile) []string {
	t.Helper()

	paths := make([]string, 0, len(files))
	for _, f := range files {
		require.NoError(t, fsys.MkdirAll(filepath.Dir(f.path), 0755))
		require.NoError(t, afero.WriteFile(fsys, f.path, f.data, 0644))
		paths = append(paths, f.path)
	}
	return paths
}

// randomBytes returns incompressible, reproducible data.
func randomBytes(n int, seed int64) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(b)
	return b
}

// countingOpener records every Open call.
type countingOpener struct {
	calls atomic.Int32
	last  atomic.Value
}

func (o *countingOpener) Open(path string) error {
	o.calls.Add(1)
	o.last.Store(path)
	return nil
}

func testOptions(fsys afero.Fs, extra ...Option) []Option {
	opts := []Option{
		WithFs(fsys),
		WithTempDir(testTempDir),
		WithOpener(NopOpener{}),
		WithWorkers(4),
		WithBatchSize(2),
	}
	return append(opts, extra...)
}

// collect drains a progress channel in the background.
func collect[S any](p *ProgressChannel[S]) func() []Update[S] {
	var updates []Update[S]
	done := make(chan struct{})
	go func() {
		defer close(done)
		for u := range p.Updates() {
			updates = append(updates, u)
		}
	}()
	return func() []Update[S] {
		<-done
		return updates
	}
}

func assertMonotonic[S any](t *testing.T, updates []Update[S]) {
	t.Helper()

	last := float32(-1)
	for i, u := range updates {
		if u.Cleared {
			continue
		}
		assert.GreaterOrEqual(t, u.Snapshot.Fraction, last, "update %d", i)
		assert.LessOrEqual(t, u.Snapshot.Fraction, float32(1), "update %d", i)
		last = u.Snapshot.Fraction
	}
}

// testEntry describes an entry built directly through the archive writer.
type testEntry struct {
	name     string
	data     []byte
	password string
}

// buildArchive writes entries in order, bypassing the worker pool.
func buildArchive(t *testing.T, fsys afero.Fs, path string, entries ...testEntry) {
	t.Helper()

	require.NoError(t, fsys.MkdirAll(filepath.Dir(path), 0755))
	file, err := fsys.Create(path)
	require.NoError(t, err)

	aw := newArchiveWriter(file)
	deflate := newDeflateCompressor(DefaultCompressionLevel)
	for _, e := range entries {
		buf := new(bytes.Buffer)
		require.NoError(t, encodePayload(deflate, e.data, e.password, buf))

		require.NoError(t, aw.WriteEntry(&preparedEntry{
			name:             e.name,
			method:           Deflated,
			encrypted:        e.password != "",
			crc32:            crc32.ChecksumIEEE(e.data),
			uncompressedSize: uint64(len(e.data)),
			modified:         time.Date(2024, 5, 17, 10, 30, 0, 0, time.UTC),
			payload:          buf.Bytes(),
		}))
	}
	require.NoError(t, aw.Close())
}

func loadArchive(t *testing.T, fsys afero.Fs, path string) *Archive {
	t.Helper()

	a, err := LoadArchive(context.Background(), fsys, path)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}
