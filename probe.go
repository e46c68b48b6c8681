// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arcview

import (
	"time"

	"github.com/spf13/afero"
	"k8s.io/klog/v2"
)

// ProbedFile is an input file found on disk at job start.
type ProbedFile struct {
	Path     string
	Size     uint64
	Modified time.Time
}

// ProbeResult is the outcome of ProbeFiles.
type ProbeResult struct {
	Files     []ProbedFile // present regular files, input order kept
	TotalSize uint64
	Skipped   []string // missing, unreadable or not regular files
}

// ProbeFiles stats every path on fsys and sums the sizes of the regular
// files. Paths that cannot be used are skipped and logged, never fatal.
func ProbeFiles(fsys afero.Fs, paths []string) ProbeResult {
	var res ProbeResult

	for _, path := range paths {
		info, err := fsys.Stat(path)
		if err != nil {
			klog.InfoS("Skipping input file", "path", path, "err", err)
			res.Skipped = append(res.Skipped, path)
			continue
		}
		if !info.Mode().IsRegular() {
			klog.InfoS("Skipping input that is not a regular file", "path", path, "mode", info.Mode())
			res.Skipped = append(res.Skipped, path)
			continue
		}

		size := uint64(max(info.Size(), 0))
		res.Files = append(res.Files, ProbedFile{
			Path:     path,
			Size:     size,
			Modified: info.ModTime(),
		})
		res.TotalSize += size
	}
	return res
}
