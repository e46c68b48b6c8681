// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package arcview is a parallel ZIP archive engine for interactive
// front-ends: it builds archives from many files concurrently, lists and
// extracts single entries with live progress, and gates WinZip AES-256
// protected archives behind a password. No call blocks the caller's event
// loop; long operations run as jobs.
//
// # Key Features
//
// 1. Concurrency: files are split into batches compressed by a worker pool.
// Workers encode outside the archive lock and hold it only to append.
//
// 2. Progress: every job hands out a [ProgressChannel] that can be ranged
// over or polled with TryReadLatest from a render loop.
//
// 3. Security: WinZip AES-256 (AE-2) encryption and "Zip Slip" protection
// during extraction.
//
// 4. Cancellation: jobs stop cooperatively between files or chunks.
//
// # Basic Usage
//
//	engine := arcview.NewEngine()
//	job, _ := engine.StartCompress([]string{"/data/a.txt", "/data/b.txt"}, "/tmp/out.zip", "")
//	for u := range job.Progress().Updates() {
//		fmt.Printf("%.0f%%\n", u.Snapshot.Fraction*100)
//	}
//	if err := job.Wait(); err != nil {
//		log.Fatal(err)
//	}
//
// Listing and extracting a protected archive:
//
//	entries, err := engine.OpenArchive(ctx, "/tmp/out.zip", "secret")
//	switch arcview.KindOf(err) {
//	case arcview.KindNeedsPassword, arcview.KindWrongPassword:
//		// re-prompt
//	}
//	job, _ := engine.ExtractEntry("/tmp/out.zip", entries[0].Name, "secret")
//	path, err := job.Wait()
package arcview

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

// Engine runs compression and extraction jobs. At most one compression
// job runs at a time. Engine is safe for concurrent use.
type Engine struct {
	cfg Config

	mu      sync.Mutex
	current *CompressJob
}

// NewEngine returns an Engine configured by opts.
func NewEngine(opts ...Option) *Engine {
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Engine{cfg: cfg.withDefaults()}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// StartCompress launches a compression job in the background. An empty
// file list completes immediately with the message "no files selected".
// It fails with ErrJobRunning while another compression job is running.
func (e *Engine) StartCompress(files []string, dest, password string) (*CompressJob, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current != nil && !e.current.finished() {
		return nil, ErrJobRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &CompressJob{
		job:      newJob(cancel),
		progress: NewProgressChannel[CompressionStats](DefaultProgressBuffer),
	}
	e.current = job

	files = append([]string(nil), files...)
	go func() {
		defer cancel()
		res, err := compress(ctx, e.cfg, job.id, files, dest, password, job.progress)
		job.result = res
		job.complete(err, compressMessage(res, err))
	}()

	return job, nil
}

// CancelCompress signals the running compression job to stop and reports
// whether there was one.
func (e *Engine) CancelCompress() bool {
	e.mu.Lock()
	job := e.current
	e.mu.Unlock()

	if job == nil || job.finished() {
		return false
	}
	job.Cancel()
	return true
}

// OpenArchive lists the archive at path. It returns ErrNeedsPassword or
// ErrWrongPassword for protected archives as described by List.
func (e *Engine) OpenArchive(ctx context.Context, path, password string) ([]ArchiveEntry, error) {
	entries, err := List(ctx, e.cfg.Fs, path, password)
	if err != nil && !KindOf(err).Retryable() {
		klog.ErrorS(err, "Open archive", "path", path)
	}
	return entries, err
}

// ExtractEntry extracts the entry called name from the archive at
// archivePath into the configured temp directory in the background.
func (e *Engine) ExtractEntry(archivePath, name, password string) (*ExtractJob, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrEntryNotFound)
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &ExtractJob{
		job:      newJob(cancel),
		progress: NewProgressChannel[ExtractionStats](DefaultProgressBuffer),
	}

	go func() {
		defer cancel()
		path, err := e.extract(ctx, archivePath, name, password, job.progress)
		job.path = path
		job.complete(err, extractMessage(name, path, err))
	}()

	return job, nil
}

func (e *Engine) extract(ctx context.Context, archivePath, name, password string,
	progress *ProgressChannel[ExtractionStats]) (string, error) {

	a, err := LoadArchive(ctx, e.cfg.Fs, archivePath)
	if err != nil {
		progress.close()
		return "", err
	}
	defer a.Close()

	return extract(ctx, e.cfg, a, name, password, e.cfg.TempDir, progress)
}

// job is the state shared by both job kinds.
type job struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	err     error
	message string
}

func newJob(cancel context.CancelFunc) job {
	return job{
		id:     uuid.NewString(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// ID returns the job identifier used in logs.
func (j *job) ID() string { return j.id }

// Cancel requests a cooperative stop.
func (j *job) Cancel() { j.cancel() }

// Done is closed when the job has ended.
func (j *job) Done() <-chan struct{} { return j.done }

// Err returns the terminal error, nil while running or on success.
func (j *job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Message returns a human-readable terminal status, empty while running.
func (j *job) Message() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.message
}

func (j *job) finished() bool {
	select {
	case <-j.done:
		return true
	default:
		return false
	}
}

func (j *job) complete(err error, message string) {
	j.mu.Lock()
	j.err, j.message = err, message
	j.mu.Unlock()
	close(j.done)
}

// CompressJob is a running or finished compression.
type CompressJob struct {
	job
	progress *ProgressChannel[CompressionStats]
	result   Result
}

// Progress returns the job's progress conduit.
func (j *CompressJob) Progress() *ProgressChannel[CompressionStats] { return j.progress }

// Wait blocks until the job ends and returns its terminal error.
func (j *CompressJob) Wait() error {
	<-j.done
	return j.Err()
}

// Result returns the outcome once the job has ended successfully.
func (j *CompressJob) Result() Result {
	<-j.done
	return j.result
}

// ExtractJob is a running or finished single-entry extraction.
type ExtractJob struct {
	job
	progress *ProgressChannel[ExtractionStats]
	path     string
}

// Progress returns the job's progress conduit.
func (j *ExtractJob) Progress() *ProgressChannel[ExtractionStats] { return j.progress }

// Wait blocks until the job ends and returns the extracted file path.
// The path is also set on failures after the file was created.
func (j *ExtractJob) Wait() (string, error) {
	<-j.done
	return j.path, j.Err()
}

func compressMessage(res Result, err error) string {
	switch {
	case err == nil && res.Empty:
		return "no files selected"
	case err == nil:
		return fmt.Sprintf("Archive created: %s (%s -> %s)", res.Stats.OutputPath,
			FormatSize(res.Stats.OriginalSize), FormatSize(res.Stats.CompressedSize))
	case errors.Is(err, ErrCancelled):
		return "Compression cancelled"
	default:
		return fmt.Sprintf("Error: %v", err)
	}
}

func extractMessage(name, path string, err error) string {
	switch KindOf(err) {
	case KindNone:
		return fmt.Sprintf("Extracted %s to %s", name, path)
	case KindNeedsPassword:
		return "Password required"
	case KindWrongPassword:
		return "Wrong password"
	case KindCancelled:
		return "Extraction cancelled"
	default:
		return fmt.Sprintf("Error: %v", err)
	}
}
