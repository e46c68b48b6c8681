// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arcview

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"k8s.io/klog/v2"
)

// Extract streams the entry called name from a into destDir, mirroring
// the entry's relative path, and returns the written file path.
//
// Lookup and password errors are reported before anything is created. A
// snapshot is sent after each chunk; on success the slot is cleared and the
// configured Opener is invoked once with the path. On failure the partial
// file is left in place. progress may be nil and is closed on return.
func Extract(ctx context.Context, a *Archive, name, password, destDir string,
	progress *ProgressChannel[ExtractionStats], opts ...Option) (string, error) {

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	return extract(ctx, cfg.withDefaults(), a, name, password, destDir, progress)
}

func extract(ctx context.Context, cfg Config, a *Archive, name, password, destDir string,
	progress *ProgressChannel[ExtractionStats]) (string, error) {

	if progress != nil {
		defer progress.close()
	}

	e, err := a.Lookup(name)
	if err != nil {
		return "", err
	}

	target, err := securePath(destDir, e.Name())
	if err != nil {
		return "", err
	}

	if e.IsDir() {
		if err := cfg.Fs.MkdirAll(target, 0755); err != nil {
			return "", err
		}
		return finishExtraction(cfg, target, progress)
	}

	src, err := Unlock(e, password)
	if err != nil {
		return "", err
	}
	defer src.Close()

	stats := ExtractionStats{
		OriginalSize: e.Size(),
		StartTime:    time.Now(),
		CurrentFile:  e.Name(),
		OutputPath:   target,
	}
	klog.V(2).InfoS("Extraction started", "archive", a.Path(), "entry", e.Name(), "dest", target, "size", stats.OriginalSize)

	if err := cfg.Fs.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return "", fmt.Errorf("create dir for %s: %w", e.Name(), err)
	}

	perm := e.Mode() & fs.ModePerm
	if perm == 0 {
		perm = 0644
	}
	// read-only entries must stay replaceable by the next extraction
	perm |= 0200
	dst, err := cfg.Fs.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return "", err
	}

	if err := streamEntry(ctx, cfg.ChunkSize, src, dst, &stats, progress); err != nil {
		dst.Close()
		klog.ErrorS(err, "Extraction failed", "entry", e.Name(), "dest", target)
		return target, err
	}
	if err := dst.Close(); err != nil {
		return target, err
	}

	// Errors are ignored on filesystems without timestamp support
	_ = cfg.Fs.Chtimes(target, time.Now(), e.Modified())

	klog.V(2).InfoS("Extraction finished", "entry", e.Name(), "dest", target, "elapsed", time.Since(stats.StartTime))
	return finishExtraction(cfg, target, progress)
}

// streamEntry copies src to dst in chunks, checking ctx between them.
func streamEntry(ctx context.Context, chunkSize int, src io.Reader, dst io.Writer,
	stats *ExtractionStats, progress *ProgressChannel[ExtractionStats]) error {

	buf := make([]byte, chunkSize)
	emitted := false

	for {
		if ctx.Err() != nil {
			return ErrCancelled
		}

		n, rerr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return fmt.Errorf("write %s: %w", stats.OutputPath, err)
			}
			stats.ExtractedSize += uint64(n)

			fraction := fractionOf(stats.ExtractedSize, stats.OriginalSize)
			stats.EstimatedTime = estimateRemaining(time.Since(stats.StartTime), fraction)
			if progress != nil {
				progress.send(Snapshot[ExtractionStats]{Fraction: float32(fraction), Stats: *stats})
				emitted = true
			}
		}

		switch {
		case rerr == nil:
			continue
		case errors.Is(rerr, io.EOF):
			if !emitted && progress != nil {
				progress.send(Snapshot[ExtractionStats]{Fraction: 1, Stats: *stats})
			}
			return nil
		default:
			return rerr
		}
	}
}

func finishExtraction(cfg Config, target string, progress *ProgressChannel[ExtractionStats]) (string, error) {
	if progress != nil {
		progress.clear()
	}
	if err := cfg.Opener.Open(target); err != nil {
		klog.ErrorS(err, "Open extracted file", "path", target)
	}
	return target, nil
}

// securePath joins name under root and rejects names that escape it.
func securePath(root, name string) (string, error) {
	root = filepath.Clean(root)
	target := filepath.Join(root, filepath.FromSlash(name))

	if target == root || !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s", ErrInsecurePath, name)
	}
	return target, nil
}
