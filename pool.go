// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arcview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"k8s.io/klog/v2"
)

// Result is the outcome of a successful compression job.
type Result struct {
	Stats CompressionStats
	Empty bool // no input files, nothing was written
}

// Compress writes files into a new archive at dest, reading and writing
// through the configured filesystem. With a non-empty password every entry
// is AES-256 encrypted.
//
// Snapshots are sent to progress, which may be nil, and progress is closed
// when Compress returns. A cancelled ctx yields ErrCancelled and leaves an
// incomplete archive behind.
func Compress(ctx context.Context, files []string, dest, password string,
	progress *ProgressChannel[CompressionStats], opts ...Option) (Result, error) {

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	return compress(ctx, cfg.withDefaults(), uuid.NewString(), files, dest, password, progress)
}

func compress(ctx context.Context, cfg Config, jobID string, files []string, dest, password string,
	progress *ProgressChannel[CompressionStats]) (Result, error) {

	if progress != nil {
		defer progress.close()
	}

	if len(files) == 0 {
		klog.V(2).InfoS("Nothing to compress", "job", jobID)
		return Result{Empty: true}, nil
	}

	probe := ProbeFiles(cfg.Fs, files)
	names, err := entryNames(probe.Files, cfg.Duplicates)
	if err != nil {
		return Result{}, err
	}

	file, err := cfg.Fs.Create(dest)
	if err != nil {
		return Result{}, fmt.Errorf("create archive: %w", err)
	}

	job := &compressJob{
		cfg:      cfg,
		files:    probe.Files,
		names:    names,
		password: password,
		aw:       newArchiveWriter(file),
		deflate:  newDeflateCompressor(cfg.CompressionLevel),
		progress: progress,
		stats: CompressionStats{
			JobID:        jobID,
			OriginalSize: probe.TotalSize,
			StartTime:    time.Now(),
			OutputPath:   dest,
			TotalFiles:   len(probe.Files),
		},
	}
	job.bufferPool.New = func() any { return new(bytes.Buffer) }

	klog.InfoS("Compression started", "job", jobID, "dest", dest, "files", len(probe.Files),
		"skipped", len(probe.Skipped), "totalSize", probe.TotalSize, "encrypted", password != "")

	return job.run(ctx)
}

// compressJob is one run of the worker pool.
type compressJob struct {
	cfg      Config
	files    []ProbedFile
	names    []string
	password string

	aw         *archiveWriter
	deflate    *deflateCompressor
	bufferPool sync.Pool

	progress *ProgressChannel[CompressionStats]
	stats    CompressionStats // owned by aggregate until it returns
}

// fileDone is sent by a worker after each appended entry.
type fileDone struct {
	size uint64
}

func (j *compressJob) run(parent context.Context) (Result, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var (
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	chunks := make(chan []int)
	reports := make(chan fileDone, len(j.files))

	var wg sync.WaitGroup
	for range min(j.cfg.Workers, max(len(j.files), 1)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for chunk := range chunks {
				if err := j.processChunk(ctx, chunk, reports); err != nil {
					fail(err)
				}
			}
		}()
	}

	statsCh := make(chan CompressionStats, 1)
	go func() {
		statsCh <- j.aggregate(ctx, reports)
	}()

	j.dispatch(ctx, chunks)
	wg.Wait()
	close(reports)
	stats := <-statsCh

	if firstErr == nil && parent.Err() != nil {
		firstErr = ErrCancelled
	}
	if firstErr != nil {
		if err := j.aw.Abort(); err != nil {
			klog.ErrorS(err, "Close incomplete archive", "job", stats.JobID)
		}
		if errors.Is(firstErr, ErrCancelled) {
			klog.InfoS("Compression cancelled", "job", stats.JobID, "filesProcessed", stats.FilesProcessed)
		} else {
			klog.ErrorS(firstErr, "Compression failed", "job", stats.JobID)
		}
		return Result{}, firstErr
	}

	return j.finish(stats)
}

// dispatch partitions the files into chunks of BatchSize and hands them
// to the workers until done or cancelled.
func (j *compressJob) dispatch(ctx context.Context, chunks chan<- []int) {
	defer close(chunks)

	for start := 0; start < len(j.files); start += j.cfg.BatchSize {
		end := min(start+j.cfg.BatchSize, len(j.files))
		chunk := make([]int, 0, end-start)
		for i := start; i < end; i++ {
			chunk = append(chunk, i)
		}

		select {
		case chunks <- chunk:
		case <-ctx.Done():
			return
		}
	}
}

// processChunk appends the files of one chunk. Cancellation is observed
// between files only.
func (j *compressJob) processChunk(ctx context.Context, chunk []int, reports chan<- fileDone) error {
	for _, i := range chunk {
		if ctx.Err() != nil {
			return nil
		}
		if err := j.processFile(i); err != nil {
			return fmt.Errorf("%s: %w", j.files[i].Path, err)
		}
		reports <- fileDone{size: j.files[i].Size}
	}
	return nil
}

func (j *compressJob) processFile(i int) error {
	src := j.files[i]

	data, err := afero.ReadFile(j.cfg.Fs, src.Path)
	if err != nil {
		return err
	}

	buf := j.bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer j.bufferPool.Put(buf)

	entry := &preparedEntry{
		name:             j.names[i],
		method:           Deflated,
		encrypted:        j.password != "",
		crc32:            crc32.ChecksumIEEE(data),
		uncompressedSize: uint64(len(data)),
		modified:         src.Modified,
	}
	if err := encodePayload(j.deflate, data, j.password, buf); err != nil {
		return err
	}
	entry.payload = buf.Bytes()

	return j.aw.WriteEntry(entry)
}

// encodePayload deflates data into buf, encrypting when password is set.
func encodePayload(d *deflateCompressor, data []byte, password string, buf *bytes.Buffer) error {
	if password == "" {
		if err := d.Compress(data, buf); err != nil {
			return fmt.Errorf("compress: %w", err)
		}
		return nil
	}

	encryptor, err := newAESWriter(buf, password)
	if err != nil {
		return err
	}
	if err := d.Compress(data, encryptor); err != nil {
		return fmt.Errorf("compress: %w", err)
	}
	return encryptor.Close()
}

// aggregate is the only writer of the job stats. It emits a snapshot each
// time the completed percentage reaches a new whole number below 100; the
// 100% snapshot is sent by finish once the archive is closed.
func (j *compressJob) aggregate(ctx context.Context, reports <-chan fileDone) CompressionStats {
	var (
		processed uint64
		lastPct   = -1
	)

	for r := range reports {
		processed += r.size
		j.stats.FilesProcessed++

		fraction := j.fraction(processed)
		pct := int(math.Floor(fraction * 100))
		if pct <= lastPct || pct >= 100 {
			continue
		}
		lastPct = pct

		j.stats.EstimatedTime = estimateRemaining(time.Since(j.stats.StartTime), fraction)
		if ctx.Err() == nil {
			j.emit(fraction, j.stats)
		}
	}
	return j.stats
}

// fraction falls back to the file count when every input is empty.
func (j *compressJob) fraction(processed uint64) float64 {
	if j.stats.OriginalSize == 0 {
		return fractionOf(uint64(j.stats.FilesProcessed), uint64(j.stats.TotalFiles))
	}
	return fractionOf(processed, j.stats.OriginalSize)
}

func (j *compressJob) finish(stats CompressionStats) (Result, error) {
	if err := j.aw.Close(); err != nil {
		klog.ErrorS(err, "Finalize archive", "job", stats.JobID)
		return Result{}, fmt.Errorf("finalize archive: %w", err)
	}

	info, err := j.cfg.Fs.Stat(stats.OutputPath)
	if err != nil {
		klog.ErrorS(err, "Stat archive", "job", stats.JobID)
		return Result{}, err
	}
	stats.CompressedSize = uint64(info.Size())
	stats.EstimatedTime = 0

	j.emit(1, stats)

	klog.InfoS("Compression finished", "job", stats.JobID, "dest", stats.OutputPath,
		"files", stats.FilesProcessed, "originalSize", stats.OriginalSize,
		"compressedSize", stats.CompressedSize, "elapsed", time.Since(stats.StartTime))
	return Result{Stats: stats}, nil
}

func (j *compressJob) emit(fraction float64, stats CompressionStats) {
	if j.progress != nil {
		j.progress.send(Snapshot[CompressionStats]{Fraction: float32(fraction), Stats: stats})
	}
}
