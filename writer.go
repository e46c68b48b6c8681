// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arcview

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/lemon4ksan/arcview/internal"
	"github.com/lemon4ksan/arcview/internal/sys"
	"github.com/spf13/afero"
)

const (
	// Zip64ExtraFieldTag identifies the Zip64 extended information field.
	Zip64ExtraFieldTag uint16 = 0x0001

	// LatestZipVersion is the APPNOTE revision written in "version made by".
	LatestZipVersion uint16 = 63

	flagEncrypted = 0x1
)

var errWriterClosed = errors.New("archive writer closed")

// preparedEntry is a fully encoded entry waiting to be appended.
// Workers build it outside the writer lock.
type preparedEntry struct {
	name             string
	method           CompressionMethod // method of the payload before encryption
	encrypted        bool
	crc32            uint32
	uncompressedSize uint64
	modified         time.Time
	payload          []byte

	localOffset uint64 // assigned by the writer
}

func (e *preparedEntry) compressedSize() uint64 { return uint64(len(e.payload)) }

func (e *preparedEntry) requiresZip64() bool {
	return e.uncompressedSize > math.MaxUint32 || e.compressedSize() > math.MaxUint32 ||
		e.localOffset > math.MaxUint32
}

func (e *preparedEntry) versionNeeded() uint16 {
	switch {
	case e.encrypted:
		return 51
	case e.requiresZip64():
		return 45
	case e.method == Deflated:
		return 20
	}
	return 10
}

func (e *preparedEntry) flags() uint16 {
	flag := uint16(flagUTF8)
	if e.encrypted {
		flag |= flagEncrypted
	}
	return flag
}

func (e *preparedEntry) storedMethod() uint16 {
	if e.encrypted {
		return uint16(winZipAESMarker)
	}
	return uint16(e.method)
}

// storedCRC is zero for AE-2 entries, the MAC replaces it.
func (e *preparedEntry) storedCRC() uint32 {
	if e.encrypted {
		return 0
	}
	return e.crc32
}

func (e *preparedEntry) localHeader() internal.LocalFileHeader {
	dosDate, dosTime := timeToMsDos(e.modified)

	var extra []byte
	if e.uncompressedSize > math.MaxUint32 || e.compressedSize() > math.MaxUint32 {
		extra = append(extra, encodeZip64LocalExtraField(e)...)
	}
	if e.encrypted {
		extra = append(extra, encodeAESExtraField(e.method)...)
	}

	return internal.LocalFileHeader{
		VersionNeeded:    e.versionNeeded(),
		Flags:            e.flags(),
		Method:           e.storedMethod(),
		ModTime:          dosTime,
		ModDate:          dosDate,
		CRC32:            e.storedCRC(),
		CompressedSize:   uint32(min(math.MaxUint32, e.compressedSize())),
		UncompressedSize: uint32(min(math.MaxUint32, e.uncompressedSize)),
		Name:             e.name,
		Extra:            extra,
	}
}

func (e *preparedEntry) centralDirEntry() internal.CentralDirectory {
	dosDate, dosTime := timeToMsDos(e.modified)

	extra := make(map[uint16][]byte)
	if e.encrypted {
		extra[AESEncryptionTag] = encodeAESExtraField(e.method)
	}
	if e.requiresZip64() {
		extra[Zip64ExtraFieldTag] = encodeZip64ExtraField(e)
	}

	return internal.CentralDirectory{
		VersionMadeBy:    uint16(sys.HostSystemUNIX)<<8 | LatestZipVersion,
		VersionNeeded:    e.versionNeeded(),
		Flags:            e.flags(),
		Method:           e.storedMethod(),
		ModTime:          dosTime,
		ModDate:          dosDate,
		CRC32:            e.storedCRC(),
		CompressedSize:   uint32(min(math.MaxUint32, e.compressedSize())),
		UncompressedSize: uint32(min(math.MaxUint32, e.uncompressedSize)),
		ExternalAttrs:    sys.UnixAttrs(DefaultEntryPerm, false),
		LocalOffset:      uint32(min(math.MaxUint32, e.localOffset)),
		Name:             e.name,
		Extra:            extra,
	}
}

// archiveWriter appends entries to one output file. The mutex is the only
// exclusive resource shared by compression workers.
type archiveWriter struct {
	mu         sync.Mutex
	file       afero.File
	dest       *byteCountWriter // counts the offset of the next local header
	centralDir bytes.Buffer
	entriesNum int
	closed     bool
}

func newArchiveWriter(file afero.File) *archiveWriter {
	return &archiveWriter{
		file: file,
		dest: &byteCountWriter{dest: file},
	}
}

// WriteEntry appends the local header and payload of e and records its
// central directory entry.
func (aw *archiveWriter) WriteEntry(e *preparedEntry) error {
	aw.mu.Lock()
	defer aw.mu.Unlock()

	if aw.closed {
		return errWriterClosed
	}

	e.localOffset = uint64(aw.dest.bytesWritten)
	if _, err := aw.dest.Write(e.localHeader().Encode()); err != nil {
		return fmt.Errorf("write header %s: %w", e.name, err)
	}
	if _, err := aw.dest.Write(e.payload); err != nil {
		return fmt.Errorf("write payload %s: %w", e.name, err)
	}

	aw.centralDir.Write(e.centralDirEntry().Encode())
	aw.entriesNum++
	return nil
}

// Entries returns the number of entries written so far.
func (aw *archiveWriter) Entries() int {
	aw.mu.Lock()
	defer aw.mu.Unlock()
	return aw.entriesNum
}

// Close writes the central directory and end records, then syncs and
// closes the file.
func (aw *archiveWriter) Close() error {
	aw.mu.Lock()
	defer aw.mu.Unlock()

	if aw.closed {
		return errWriterClosed
	}
	aw.closed = true

	if err := aw.writeCentralDirAndEndRecords(); err != nil {
		aw.file.Close()
		return err
	}
	if err := aw.file.Sync(); err != nil {
		aw.file.Close()
		return fmt.Errorf("sync archive: %w", err)
	}
	return aw.file.Close()
}

// Abort closes the file handle without finishing the archive.
func (aw *archiveWriter) Abort() error {
	aw.mu.Lock()
	defer aw.mu.Unlock()

	if aw.closed {
		return nil
	}
	aw.closed = true
	return aw.file.Close()
}

func (aw *archiveWriter) writeCentralDirAndEndRecords() error {
	centralDirOffset := uint64(aw.dest.bytesWritten)
	centralDirSize := uint64(aw.centralDir.Len())

	if _, err := aw.dest.Write(aw.centralDir.Bytes()); err != nil {
		return fmt.Errorf("write central directory: %w", err)
	}

	end := internal.NewEndOfCentralDirectory(aw.entriesNum, centralDirSize, centralDirOffset, "")
	if end.NeedsZip64() {
		zip64End := internal.Zip64EndOfCentralDirectory{
			Entries:          uint64(aw.entriesNum),
			CentralDirSize:   centralDirSize,
			CentralDirOffset: centralDirOffset,
		}
		recordOffset := uint64(aw.dest.bytesWritten)
		if _, err := aw.dest.Write(zip64End.Encode(recordOffset)); err != nil {
			return fmt.Errorf("write zip64 end of central directory: %w", err)
		}
	}

	if _, err := aw.dest.Write(end.Encode()); err != nil {
		return fmt.Errorf("write end of central directory: %w", err)
	}
	return nil
}

// encodeZip64ExtraField carries the 64-bit values that overflowed their
// central directory slots, in APPNOTE order.
func encodeZip64ExtraField(e *preparedEntry) []byte {
	data := make([]byte, 4, 28)
	binary.LittleEndian.PutUint16(data[0:2], Zip64ExtraFieldTag)

	if e.uncompressedSize > math.MaxUint32 {
		data = binary.LittleEndian.AppendUint64(data, e.uncompressedSize)
	}
	if e.compressedSize() > math.MaxUint32 {
		data = binary.LittleEndian.AppendUint64(data, e.compressedSize())
	}
	if e.localOffset > math.MaxUint32 {
		data = binary.LittleEndian.AppendUint64(data, e.localOffset)
	}

	binary.LittleEndian.PutUint16(data[2:4], uint16(len(data)-4))
	return data
}

// encodeZip64LocalExtraField always carries both sizes.
func encodeZip64LocalExtraField(e *preparedEntry) []byte {
	data := make([]byte, 20)

	binary.LittleEndian.PutUint16(data[0:2], Zip64ExtraFieldTag)
	binary.LittleEndian.PutUint16(data[2:4], 16)
	binary.LittleEndian.PutUint64(data[4:12], e.uncompressedSize)
	binary.LittleEndian.PutUint64(data[12:20], e.compressedSize())

	return data
}
