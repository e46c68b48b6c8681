// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arcview

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/afero"
)

// Defaults used when a Config field is left zero.
const (
	DefaultBatchSize        = 4        // files per worker unit
	DefaultChunkSize        = 8 * 1024 // extraction read size
	DefaultCompressionLevel = 5        // Deflate level, speed over ratio
	DefaultEntryPerm        = 0755     // permission bits stamped on every entry
	ExtractDirName          = "archive_viewer"
)

// DuplicatePolicy decides what happens when two inputs share a basename.
type DuplicatePolicy int

const (
	// DuplicateRename keeps the first name and suffixes later ones: "a (1).txt".
	DuplicateRename DuplicatePolicy = iota
	// DuplicateReject fails the job before anything is written.
	DuplicateReject
)

// Config holds engine-wide settings. Zero values fall back to the defaults.
type Config struct {
	// Workers is the number of concurrent compression workers.
	// Default: runtime.NumCPU().
	Workers int

	// BatchSize is the number of files a worker takes at a time.
	BatchSize int

	// ChunkSize is the read size used when streaming an entry out.
	ChunkSize int

	// CompressionLevel is the Deflate level (1-9).
	CompressionLevel int

	// Fs is the filesystem used for every read and write.
	// Default: the host filesystem.
	Fs afero.Fs

	// TempDir is the extraction root. Default: <os.TempDir()>/archive_viewer.
	TempDir string

	// Opener is invoked once for each successfully extracted file.
	// Default: SystemOpener.
	Opener Opener

	// Duplicates selects the basename collision policy.
	Duplicates DuplicatePolicy
}

// Option configures an Engine.
type Option func(c *Config)

// WithWorkers sets the compression worker count. Non-positive values are ignored.
func WithWorkers(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.Workers = n
		}
	}
}

// WithBatchSize sets how many files a worker processes per unit of work.
func WithBatchSize(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.BatchSize = n
		}
	}
}

// WithChunkSize sets the extraction chunk size in bytes.
func WithChunkSize(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.ChunkSize = n
		}
	}
}

// WithCompressionLevel sets the Deflate level.
func WithCompressionLevel(lvl int) Option {
	return func(c *Config) {
		c.CompressionLevel = lvl
	}
}

// WithFs replaces the filesystem, e.g. afero.NewMemMapFs() in tests.
func WithFs(fs afero.Fs) Option {
	return func(c *Config) {
		c.Fs = fs
	}
}

// WithTempDir overrides the extraction root.
func WithTempDir(dir string) Option {
	return func(c *Config) {
		c.TempDir = dir
	}
}

// WithOpener replaces the handler run after a successful extraction.
func WithOpener(o Opener) Option {
	return func(c *Config) {
		c.Opener = o
	}
}

// WithDuplicatePolicy sets the basename collision policy.
func WithDuplicatePolicy(p DuplicatePolicy) Option {
	return func(c *Config) {
		c.Duplicates = p
	}
}

// withDefaults returns a copy of c with every zero field filled in.
func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.CompressionLevel < 1 || c.CompressionLevel > 9 {
		c.CompressionLevel = DefaultCompressionLevel
	}
	if c.Fs == nil {
		c.Fs = afero.NewOsFs()
	}
	if c.TempDir == "" {
		c.TempDir = filepath.Join(os.TempDir(), ExtractDirName)
	}
	if c.Opener == nil {
		c.Opener = SystemOpener{}
	}
	return c
}
