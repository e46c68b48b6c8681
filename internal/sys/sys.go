// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sys maps between Go file modes and the host-specific
// attribute encodings stored in ZIP headers.
package sys

import "io/fs"

// HostSystem is the "version made by" upper byte.
type HostSystem uint8

const (
	HostSystemFAT    HostSystem = 0  // MS-DOS and OS/2
	HostSystemUNIX   HostSystem = 3  // UNIX
	HostSystemNTFS   HostSystem = 10 // Windows NTFS
	HostSystemDarwin HostSystem = 19 // OS X (Darwin)
)

func (h HostSystem) String() string {
	switch h {
	case HostSystemFAT:
		return "MS-DOS/OS2 (FAT)"
	case HostSystemUNIX:
		return "UNIX"
	case HostSystemNTFS:
		return "Windows NTFS"
	case HostSystemDarwin:
		return "OS X (Darwin)"
	}
	return "Unknown"
}

// IsUnix reports whether external attributes carry a POSIX st_mode.
func (h HostSystem) IsUnix() bool {
	return h == HostSystemUNIX || h == HostSystemDarwin
}

// IsWindows reports whether external attributes carry DOS attribute bits.
func (h HostSystem) IsWindows() bool {
	return h == HostSystemFAT || h == HostSystemNTFS
}

// POSIX file type bits.
const (
	S_IFMT  = 0170000
	S_IFREG = 0100000
	S_IFDIR = 0040000
	S_IFLNK = 0120000
)

// DOS attribute bits.
const (
	dosReadOnly  = 0x01
	dosDirectory = 0x10
)

// UnixAttrs builds the external attributes for a Unix host: st_mode in the
// upper 16 bits.
func UnixAttrs(perm fs.FileMode, isDir bool) uint32 {
	mode := uint32(perm & fs.ModePerm)
	if isDir {
		mode |= S_IFDIR
	} else {
		mode |= S_IFREG
	}
	return mode << 16
}

// FileMode decodes external attributes written by host.
func FileMode(host HostSystem, attrs uint32, isDir bool) fs.FileMode {
	switch {
	case host.IsUnix():
		unixMode := attrs >> 16
		mode := fs.FileMode(unixMode & 0777)
		switch unixMode & S_IFMT {
		case S_IFDIR:
			mode |= fs.ModeDir
		case S_IFLNK:
			mode |= fs.ModeSymlink
		}
		return mode

	case host.IsWindows():
		mode := fs.FileMode(0644)
		if isDir || attrs&dosDirectory != 0 {
			mode = 0755 | fs.ModeDir
		}
		if attrs&dosReadOnly != 0 {
			mode &^= 0222
		}
		return mode
	}

	if isDir {
		return 0755 | fs.ModeDir
	}
	return 0644
}
