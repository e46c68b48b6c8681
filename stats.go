// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arcview

import (
	"fmt"
	"time"
)

// CompressionStats describes a compression job. Values received from a
// ProgressChannel are copies owned by the receiver.
type CompressionStats struct {
	JobID          string
	OriginalSize   uint64 // sum of the sizes of the files present at job start
	CompressedSize uint64 // size of the finished archive, set by the final snapshot
	StartTime      time.Time
	EstimatedTime  time.Duration // remaining
	OutputPath     string
	FilesProcessed int
	TotalFiles     int
}

func (s CompressionStats) String() string {
	return fmt.Sprintf("%d/%d files, %s -> %s, eta %s",
		s.FilesProcessed, s.TotalFiles, FormatSize(s.OriginalSize),
		FormatSize(s.CompressedSize), FormatDuration(s.EstimatedTime))
}

// ExtractionStats describes a single-entry extraction.
type ExtractionStats struct {
	OriginalSize  uint64
	ExtractedSize uint64
	StartTime     time.Time
	EstimatedTime time.Duration // remaining
	CurrentFile   string        // entry name
	OutputPath    string
}

func (s ExtractionStats) String() string {
	return fmt.Sprintf("%s: %s of %s, eta %s", s.CurrentFile,
		FormatSize(s.ExtractedSize), FormatSize(s.OriginalSize), FormatDuration(s.EstimatedTime))
}

// estimateRemaining extrapolates linearly from the elapsed time.
// It is zero before any progress has been made.
func estimateRemaining(elapsed time.Duration, fraction float64) time.Duration {
	if fraction <= 0 {
		return 0
	}
	if fraction >= 1 {
		return 0
	}
	return time.Duration(float64(elapsed) * (1 - fraction) / fraction)
}

// fractionOf returns done/total clamped to [0, 1]. A zero total counts
// as complete.
func fractionOf(done, total uint64) float64 {
	if total == 0 {
		return 1
	}
	return min(float64(done)/float64(total), 1)
}
