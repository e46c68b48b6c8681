// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arcview

import "io"

// Protection is the archive-level password state.
type Protection int

const (
	Open      Protection = iota // no password needed
	Protected                   // the first entry is AES encrypted
)

func (p Protection) String() string {
	if p == Protected {
		return "protected"
	}
	return "open"
}

// Classify inspects only the first entry: an archive is Protected iff that
// entry carries the WinZip AES extra field. An empty archive is Open.
func Classify(entries []*Entry) Protection {
	if len(entries) > 0 && entries[0].Protected() {
		return Protected
	}
	return Open
}

// Unlock opens e for reading. A protected entry with an empty password
// yields ErrNeedsPassword. A mismatching verification value or
// authentication code yields ErrWrongPassword, checked before any data is
// returned; any other error is an I/O or format failure. The password is
// ignored for open entries.
func Unlock(e *Entry, password string) (io.ReadCloser, error) {
	return e.open(password)
}

// firstProtected returns the first AES entry or nil.
func firstProtected(entries []*Entry) *Entry {
	for _, e := range entries {
		if e.Protected() {
			return e
		}
	}
	return nil
}

// smallestProtected returns the AES entry that is cheapest to authenticate, or nil.
func smallestProtected(entries []*Entry) *Entry {
	var best *Entry
	for _, e := range entries {
		if e.Protected() && (best == nil || e.compressedSize < best.compressedSize) {
			best = e
		}
	}
	return best
}
