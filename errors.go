// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arcview

import (
	"context"
	"errors"
)

var (
	// ErrNeedsPassword is returned when a protected archive or entry is
	// accessed without a password. The caller may retry with one.
	ErrNeedsPassword = errors.New("arcview: password required")

	// ErrWrongPassword is returned when the supplied password does not match
	// the entry's verification value. The caller may re-prompt.
	ErrWrongPassword = errors.New("arcview: wrong password")

	// ErrEntryNotFound is returned when the requested entry is not in the archive index.
	ErrEntryNotFound = errors.New("arcview: entry not found")

	// ErrCancelled is returned when a job stopped early on request. Its output is incomplete.
	ErrCancelled = errors.New("arcview: operation cancelled")

	// ErrFormat is returned when the input is not a valid ZIP archive.
	ErrFormat = errors.New("arcview: not a valid zip file")

	// ErrAlgorithm is returned when an entry uses an unsupported compression method.
	ErrAlgorithm = errors.New("arcview: unsupported compression algorithm")

	// ErrEncryption is returned when an entry uses an unsupported encryption scheme.
	ErrEncryption = errors.New("arcview: unsupported encryption method")

	// ErrChecksum is returned when the CRC-32 of extracted data does not match.
	ErrChecksum = errors.New("arcview: checksum error")

	// ErrSizeMismatch is returned when the extracted size does not match the header.
	ErrSizeMismatch = errors.New("arcview: uncompressed size mismatch")

	// ErrAuthentication is returned when the AES authentication code does not match.
	ErrAuthentication = errors.New("arcview: aes authentication failed")

	// ErrInsecurePath is returned when an entry name would escape the extraction directory.
	ErrInsecurePath = errors.New("arcview: insecure file path")

	// ErrDuplicateEntry is returned when two inputs map to one entry name
	// and the duplicate policy is DuplicateReject.
	ErrDuplicateEntry = errors.New("arcview: duplicate entry name")

	// ErrJobRunning is returned when a compression job is started while another is running.
	ErrJobRunning = errors.New("arcview: compression already in progress")
)

// ErrorKind classifies an error for the presentation layer.
type ErrorKind int

const (
	KindNone          ErrorKind = iota // no error
	KindNeedsPassword                  // paused, retry with a password
	KindWrongPassword                  // retry with another password
	KindLookup                         // entry absent, fatal to the request
	KindCancelled                      // stopped on request, discard output
	KindIO                             // filesystem, stream or format failure
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNeedsPassword:
		return "needs password"
	case KindWrongPassword:
		return "wrong password"
	case KindLookup:
		return "lookup error"
	case KindCancelled:
		return "cancelled"
	default:
		return "io error"
	}
}

// Retryable reports whether the caller should re-prompt instead of aborting.
func (k ErrorKind) Retryable() bool {
	return k == KindNeedsPassword || k == KindWrongPassword
}

// KindOf maps err onto the error taxonomy. Anything not recognised is an IO error.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrNeedsPassword):
		return KindNeedsPassword
	case errors.Is(err, ErrWrongPassword):
		return KindWrongPassword
	case errors.Is(err, ErrEntryNotFound):
		return KindLookup
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	default:
		return KindIO
	}
}
