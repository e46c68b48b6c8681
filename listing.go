// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arcview

import (
	"context"
	"time"

	"github.com/spf13/afero"
	"k8s.io/klog/v2"
)

// ArchiveEntry is the listing view of an entry.
type ArchiveEntry struct {
	Name           string
	IsDir          bool
	Size           uint64 // uncompressed
	CompressedSize uint64
	Protected      bool
	Modified       time.Time
}

// List returns the entries of the archive at path in central directory order.
//
// A Protected archive requires a password: without one List fails with
// ErrNeedsPassword, and a password that does not match the verification
// value of the first protected entry, or the authentication code of the
// smallest one, fails with ErrWrongPassword.
func List(ctx context.Context, fsys afero.Fs, path, password string) ([]ArchiveEntry, error) {
	a, err := LoadArchive(ctx, fsys, path)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	entries := a.Entries()
	if Classify(entries) == Protected {
		if password == "" {
			return nil, ErrNeedsPassword
		}
		if err := firstProtected(entries).verifyPassword(password); err != nil {
			return nil, err
		}
		if err := smallestProtected(entries).authenticate(password); err != nil {
			return nil, err
		}
	}

	infos := make([]ArchiveEntry, len(entries))
	for i, e := range entries {
		infos[i] = e.Info()
	}

	klog.V(2).InfoS("Listed archive", "path", path, "entries", len(infos), "protection", Classify(entries))
	return infos, nil
}
