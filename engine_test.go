// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arcview

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEngine_Defaults(t *testing.T) {
	cfg := NewEngine().Config()
	assert.Positive(t, cfg.Workers)
	assert.Equal(t, DefaultBatchSize, cfg.BatchSize)
	assert.Equal(t, DefaultChunkSize, cfg.ChunkSize)
	assert.Equal(t, DefaultCompressionLevel, cfg.CompressionLevel)
	assert.Equal(t, ExtractDirName, filepath.Base(cfg.TempDir))
	assert.IsType(t, SystemOpener{}, cfg.Opener)
	assert.Equal(t, DuplicateRename, cfg.Duplicates)

	cfg = NewEngine(WithWorkers(-1), WithCompressionLevel(42)).Config()
	assert.Positive(t, cfg.Workers)
	assert.Equal(t, DefaultCompressionLevel, cfg.CompressionLevel)
}

func TestEngine_CompressAndExtract(t *testing.T) {
	fsys := afero.NewMemMapFs()
	files := writeFiles(t, fsys,
		testFile{"/data/a.txt", []byte(strings.Repeat("a", 1000))},
		testFile{"/data/b.txt", []byte(strings.Repeat("b", 2000))},
	)

	opener := &countingOpener{}
	engine := NewEngine(testOptions(fsys, WithOpener(opener))...)

	job, err := engine.StartCompress(files, "/out/x.zip", "secret")
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID())

	updates := collect(job.Progress())
	require.NoError(t, job.Wait())
	assertMonotonic(t, updates())

	res := job.Result()
	assert.Equal(t, uint64(3000), res.Stats.OriginalSize)
	assert.Equal(t, job.ID(), res.Stats.JobID)
	assert.True(t, strings.HasPrefix(job.Message(), "Archive created: /out/x.zip"), job.Message())
	assert.False(t, engine.CancelCompress())

	_, err = engine.OpenArchive(context.Background(), "/out/x.zip", "")
	assert.ErrorIs(t, err, ErrNeedsPassword)
	_, err = engine.OpenArchive(context.Background(), "/out/x.zip", "wrong")
	assert.ErrorIs(t, err, ErrWrongPassword)

	entries, err := engine.OpenArchive(context.Background(), "/out/x.zip", "secret")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	extractJob, err := engine.ExtractEntry("/out/x.zip", "b.txt", "secret")
	require.NoError(t, err)
	extractUpdates := collect(extractJob.Progress())

	path, err := extractJob.Wait()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(testTempDir, "b.txt"), path)
	assert.Equal(t, "Extracted b.txt to "+path, extractJob.Message())

	data, err := afero.ReadFile(fsys, path)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("b", 2000), string(data))
	assert.Equal(t, int32(1), opener.calls.Load())

	all := extractUpdates()
	require.NotEmpty(t, all)
	assert.True(t, all[len(all)-1].Cleared)
}

func TestEngine_EmptyJob(t *testing.T) {
	engine := NewEngine(testOptions(afero.NewMemMapFs())...)

	job, err := engine.StartCompress(nil, "/out.zip", "")
	require.NoError(t, err)
	require.NoError(t, job.Wait())

	assert.True(t, job.Result().Empty)
	assert.Equal(t, "no files selected", job.Message())
}

func TestEngine_SingleCompressionJob(t *testing.T) {
	mem := afero.NewMemMapFs()
	files := writeFiles(t, mem,
		testFile{"/a.txt", []byte("a")},
		testFile{"/b.txt", []byte("b")},
	)

	release := make(chan struct{})
	fsys := hookFs{Fs: mem, open: func(string) error {
		<-release
		return nil
	}}
	engine := NewEngine(testOptions(fsys, WithWorkers(1), WithBatchSize(1))...)

	job, err := engine.StartCompress(files, "/out.zip", "")
	require.NoError(t, err)

	_, err = engine.StartCompress(files, "/other.zip", "")
	assert.ErrorIs(t, err, ErrJobRunning)

	assert.True(t, engine.CancelCompress())
	close(release)

	err = job.Wait()
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, "Compression cancelled", job.Message())
	assert.False(t, engine.CancelCompress())

	next, err := engine.StartCompress(files, "/out.zip", "")
	require.NoError(t, err)
	require.NoError(t, next.Wait())
}

func TestEngine_CompressFailure(t *testing.T) {
	mem := afero.NewMemMapFs()
	files := writeFiles(t, mem, testFile{"/a.txt", []byte("a")})

	fsys := hookFs{Fs: mem, open: func(string) error { return errors.New("disk on fire") }}
	engine := NewEngine(testOptions(fsys)...)

	job, err := engine.StartCompress(files, "/out.zip", "")
	require.NoError(t, err)

	assert.ErrorContains(t, job.Wait(), "disk on fire")
	assert.True(t, strings.HasPrefix(job.Message(), "Error: "), job.Message())
}

func TestEngine_ExtractEntryFailures(t *testing.T) {
	fsys := afero.NewMemMapFs()
	buildArchive(t, fsys, "/a.zip", testEntry{name: "locked.txt", data: []byte("x"), password: "pw"})

	opener := &countingOpener{}
	engine := NewEngine(testOptions(fsys, WithOpener(opener))...)

	_, err := engine.ExtractEntry("/a.zip", "", "")
	assert.ErrorIs(t, err, ErrEntryNotFound)

	tests := []struct {
		name     string
		archive  string
		entry    string
		password string
		kind     ErrorKind
		message  string
	}{
		{"Needs password", "/a.zip", "locked.txt", "", KindNeedsPassword, "Password required"},
		{"Wrong password", "/a.zip", "locked.txt", "nope", KindWrongPassword, "Wrong password"},
		{"Missing entry", "/a.zip", "other.txt", "", KindLookup, ""},
		{"Missing archive", "/missing.zip", "locked.txt", "", KindIO, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := engine.ExtractEntry(tt.archive, tt.entry, tt.password)
			require.NoError(t, err)

			updates := collect(job.Progress())
			_, err = job.Wait()
			assert.Equal(t, tt.kind, KindOf(err))
			assert.Empty(t, updates())
			if tt.message != "" {
				assert.Equal(t, tt.message, job.Message())
			}
		})
	}
	assert.Zero(t, opener.calls.Load())
}

func TestEngine_OpenerErrorIsNotFatal(t *testing.T) {
	fsys := afero.NewMemMapFs()
	buildArchive(t, fsys, "/a.zip", testEntry{name: "f.txt", data: []byte("f")})

	engine := NewEngine(testOptions(fsys, WithOpener(OpenerFunc(func(string) error {
		return errors.New("no default handler")
	})))...)

	job, err := engine.ExtractEntry("/a.zip", "f.txt", "")
	require.NoError(t, err)
	path, err := job.Wait()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(testTempDir, "f.txt"), path)
}
