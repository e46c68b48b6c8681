// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package internal holds the binary codecs for the ZIP container records.
// Every record is little-endian and starts with a "PK" signature.
package internal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
)

// Record signatures.
const (
	LocalFileHeaderSignature             uint32 = 0x04034b50
	CentralDirectorySignature            uint32 = 0x02014b50
	EndOfCentralDirSignature             uint32 = 0x06054b50
	Zip64EndOfCentralDirSignature        uint32 = 0x06064b50
	Zip64EndOfCentralDirLocatorSignature uint32 = 0x07064b50
)

// Fixed record sizes, signature included.
const (
	LocalFileHeaderLen             = 30
	CentralDirectoryLen            = 46
	EndOfCentralDirLen             = 22
	Zip64EndOfCentralDirLen        = 56
	Zip64EndOfCentralDirLocatorLen = 20
)

// ErrSignature is returned when a record does not start with the expected signature.
var ErrSignature = errors.New("unexpected record signature")

// LocalFileHeader precedes the payload of every entry.
type LocalFileHeader struct {
	VersionNeeded    uint16
	Flags            uint16
	Method           uint16
	ModTime          uint16
	ModDate          uint16
	CRC32            uint32
	CompressedSize   uint32
	UncompressedSize uint32
	Name             string
	Extra            []byte
}

// Encode serializes the header together with its name and extra field.
func (h LocalFileHeader) Encode() []byte {
	buf := make([]byte, LocalFileHeaderLen+len(h.Name)+len(h.Extra))

	binary.LittleEndian.PutUint32(buf[0:4], LocalFileHeaderSignature)
	binary.LittleEndian.PutUint16(buf[4:6], h.VersionNeeded)
	binary.LittleEndian.PutUint16(buf[6:8], h.Flags)
	binary.LittleEndian.PutUint16(buf[8:10], h.Method)
	binary.LittleEndian.PutUint16(buf[10:12], h.ModTime)
	binary.LittleEndian.PutUint16(buf[12:14], h.ModDate)
	binary.LittleEndian.PutUint32(buf[14:18], h.CRC32)
	binary.LittleEndian.PutUint32(buf[18:22], h.CompressedSize)
	binary.LittleEndian.PutUint32(buf[22:26], h.UncompressedSize)
	binary.LittleEndian.PutUint16(buf[26:28], uint16(len(h.Name)))
	binary.LittleEndian.PutUint16(buf[28:30], uint16(len(h.Extra)))

	n := copy(buf[LocalFileHeaderLen:], h.Name)
	copy(buf[LocalFileHeaderLen+n:], h.Extra)

	return buf
}

// LocalHeaderSpan reads the fixed part of a local header and reports the
// flags and the total header length, so the caller can locate the payload.
func LocalHeaderSpan(src io.Reader) (flags uint16, length int64, err error) {
	var buf [LocalFileHeaderLen]byte
	if _, err := io.ReadFull(src, buf[:]); err != nil {
		return 0, 0, fmt.Errorf("read local header: %w", err)
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != LocalFileHeaderSignature {
		return 0, 0, fmt.Errorf("local header: %w", ErrSignature)
	}

	nameLen := int64(binary.LittleEndian.Uint16(buf[26:28]))
	extraLen := int64(binary.LittleEndian.Uint16(buf[28:30]))

	return binary.LittleEndian.Uint16(buf[6:8]), LocalFileHeaderLen + nameLen + extraLen, nil
}

// CentralDirectory is one record of the archive index.
type CentralDirectory struct {
	VersionMadeBy    uint16
	VersionNeeded    uint16
	Flags            uint16
	Method           uint16
	ModTime          uint16
	ModDate          uint16
	CRC32            uint32
	CompressedSize   uint32
	UncompressedSize uint32
	ExternalAttrs    uint32
	LocalOffset      uint32
	Name             string
	Extra            map[uint16][]byte // tag -> whole field, tag and size included
	Comment          string
}

// ExtraLen returns the encoded size of all extra fields.
func (d CentralDirectory) ExtraLen() int {
	var n int
	for _, field := range d.Extra {
		n += len(field)
	}
	return n
}

// Encode serializes the record. Extra fields are written in ascending tag
// order so the output is deterministic.
func (d CentralDirectory) Encode() []byte {
	extraLen := d.ExtraLen()
	buf := make([]byte, CentralDirectoryLen+len(d.Name)+extraLen+len(d.Comment))

	binary.LittleEndian.PutUint32(buf[0:4], CentralDirectorySignature)
	binary.LittleEndian.PutUint16(buf[4:6], d.VersionMadeBy)
	binary.LittleEndian.PutUint16(buf[6:8], d.VersionNeeded)
	binary.LittleEndian.PutUint16(buf[8:10], d.Flags)
	binary.LittleEndian.PutUint16(buf[10:12], d.Method)
	binary.LittleEndian.PutUint16(buf[12:14], d.ModTime)
	binary.LittleEndian.PutUint16(buf[14:16], d.ModDate)
	binary.LittleEndian.PutUint32(buf[16:20], d.CRC32)
	binary.LittleEndian.PutUint32(buf[20:24], d.CompressedSize)
	binary.LittleEndian.PutUint32(buf[24:28], d.UncompressedSize)
	binary.LittleEndian.PutUint16(buf[28:30], uint16(len(d.Name)))
	binary.LittleEndian.PutUint16(buf[30:32], uint16(extraLen))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(len(d.Comment)))
	// disk number start and internal attributes stay zero
	binary.LittleEndian.PutUint32(buf[38:42], d.ExternalAttrs)
	binary.LittleEndian.PutUint32(buf[42:46], d.LocalOffset)

	offset := CentralDirectoryLen
	offset += copy(buf[offset:], d.Name)

	tags := make([]uint16, 0, len(d.Extra))
	for tag := range d.Extra {
		tags = append(tags, tag)
	}
	slices.Sort(tags)
	for _, tag := range tags {
		offset += copy(buf[offset:], d.Extra[tag])
	}

	copy(buf[offset:], d.Comment)
	return buf
}

// ReadCentralDirEntry decodes one record, signature included.
func ReadCentralDirEntry(src io.Reader) (CentralDirectory, error) {
	var buf [CentralDirectoryLen]byte
	if _, err := io.ReadFull(src, buf[:]); err != nil {
		return CentralDirectory{}, fmt.Errorf("read central directory: %w", err)
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != CentralDirectorySignature {
		return CentralDirectory{}, fmt.Errorf("central directory: %w", ErrSignature)
	}

	d := CentralDirectory{
		VersionMadeBy:    binary.LittleEndian.Uint16(buf[4:6]),
		VersionNeeded:    binary.LittleEndian.Uint16(buf[6:8]),
		Flags:            binary.LittleEndian.Uint16(buf[8:10]),
		Method:           binary.LittleEndian.Uint16(buf[10:12]),
		ModTime:          binary.LittleEndian.Uint16(buf[12:14]),
		ModDate:          binary.LittleEndian.Uint16(buf[14:16]),
		CRC32:            binary.LittleEndian.Uint32(buf[16:20]),
		CompressedSize:   binary.LittleEndian.Uint32(buf[20:24]),
		UncompressedSize: binary.LittleEndian.Uint32(buf[24:28]),
		ExternalAttrs:    binary.LittleEndian.Uint32(buf[38:42]),
		LocalOffset:      binary.LittleEndian.Uint32(buf[42:46]),
	}

	nameLen := int(binary.LittleEndian.Uint16(buf[28:30]))
	extraLen := int(binary.LittleEndian.Uint16(buf[30:32]))
	commentLen := int(binary.LittleEndian.Uint16(buf[32:34]))

	tail := make([]byte, nameLen+extraLen+commentLen)
	if _, err := io.ReadFull(src, tail); err != nil {
		return CentralDirectory{}, fmt.Errorf("read central directory fields: %w", err)
	}

	d.Name = string(tail[:nameLen])
	d.Extra = ParseExtraField(tail[nameLen : nameLen+extraLen])
	d.Comment = string(tail[nameLen+extraLen:])

	return d, nil
}

// EndOfCentralDirectory closes the archive and locates the index.
type EndOfCentralDirectory struct {
	Entries          uint16
	CentralDirSize   uint32
	CentralDirOffset uint32
	Comment          string
}

// NewEndOfCentralDirectory clamps 64-bit values to their 32-bit sentinels.
func NewEndOfCentralDirectory(entries int, size, offset uint64, comment string) EndOfCentralDirectory {
	return EndOfCentralDirectory{
		Entries:          uint16(min(math.MaxUint16, entries)),
		CentralDirSize:   uint32(min(math.MaxUint32, size)),
		CentralDirOffset: uint32(min(math.MaxUint32, offset)),
		Comment:          comment[:min(len(comment), math.MaxUint16)],
	}
}

// Encode serializes the record. The archive is always a single disk.
func (e EndOfCentralDirectory) Encode() []byte {
	buf := make([]byte, EndOfCentralDirLen+len(e.Comment))

	binary.LittleEndian.PutUint32(buf[0:4], EndOfCentralDirSignature)
	binary.LittleEndian.PutUint16(buf[8:10], e.Entries)
	binary.LittleEndian.PutUint16(buf[10:12], e.Entries)
	binary.LittleEndian.PutUint32(buf[12:16], e.CentralDirSize)
	binary.LittleEndian.PutUint32(buf[16:20], e.CentralDirOffset)
	binary.LittleEndian.PutUint16(buf[20:22], uint16(len(e.Comment)))
	copy(buf[EndOfCentralDirLen:], e.Comment)

	return buf
}

// NeedsZip64 reports whether any field overflowed its 32-bit slot.
func (e EndOfCentralDirectory) NeedsZip64() bool {
	return e.Entries == math.MaxUint16 ||
		e.CentralDirSize == math.MaxUint32 ||
		e.CentralDirOffset == math.MaxUint32
}

// DecodeEndOfCentralDir decodes a record found in memory, signature included.
func DecodeEndOfCentralDir(buf []byte) (EndOfCentralDirectory, error) {
	if len(buf) < EndOfCentralDirLen {
		return EndOfCentralDirectory{}, fmt.Errorf("end of central directory: %w", io.ErrUnexpectedEOF)
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != EndOfCentralDirSignature {
		return EndOfCentralDirectory{}, fmt.Errorf("end of central directory: %w", ErrSignature)
	}

	e := EndOfCentralDirectory{
		Entries:          binary.LittleEndian.Uint16(buf[10:12]),
		CentralDirSize:   binary.LittleEndian.Uint32(buf[12:16]),
		CentralDirOffset: binary.LittleEndian.Uint32(buf[16:20]),
	}
	commentLen := int(binary.LittleEndian.Uint16(buf[20:22]))
	if rest := buf[EndOfCentralDirLen:]; commentLen <= len(rest) {
		e.Comment = string(rest[:commentLen])
	}

	return e, nil
}

// Zip64EndOfCentralDirectory carries the 64-bit index location.
type Zip64EndOfCentralDirectory struct {
	Entries          uint64
	CentralDirSize   uint64
	CentralDirOffset uint64
}

// Encode serializes the record followed by its locator. recordOffset is the
// position at which the record itself will be written.
func (z Zip64EndOfCentralDirectory) Encode(recordOffset uint64) []byte {
	buf := make([]byte, Zip64EndOfCentralDirLen+Zip64EndOfCentralDirLocatorLen)

	binary.LittleEndian.PutUint32(buf[0:4], Zip64EndOfCentralDirSignature)
	binary.LittleEndian.PutUint64(buf[4:12], Zip64EndOfCentralDirLen-12)
	binary.LittleEndian.PutUint16(buf[12:14], 45)
	binary.LittleEndian.PutUint16(buf[14:16], 45)
	binary.LittleEndian.PutUint64(buf[24:32], z.Entries)
	binary.LittleEndian.PutUint64(buf[32:40], z.Entries)
	binary.LittleEndian.PutUint64(buf[40:48], z.CentralDirSize)
	binary.LittleEndian.PutUint64(buf[48:56], z.CentralDirOffset)

	loc := buf[Zip64EndOfCentralDirLen:]
	binary.LittleEndian.PutUint32(loc[0:4], Zip64EndOfCentralDirLocatorSignature)
	binary.LittleEndian.PutUint64(loc[8:16], recordOffset)
	binary.LittleEndian.PutUint32(loc[16:20], 1)

	return buf
}

// ReadZip64Locator returns the offset of the Zip64 end record.
func ReadZip64Locator(src io.Reader) (uint64, error) {
	var buf [Zip64EndOfCentralDirLocatorLen]byte
	if _, err := io.ReadFull(src, buf[:]); err != nil {
		return 0, fmt.Errorf("read zip64 locator: %w", err)
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != Zip64EndOfCentralDirLocatorSignature {
		return 0, fmt.Errorf("zip64 locator: %w", ErrSignature)
	}
	return binary.LittleEndian.Uint64(buf[8:16]), nil
}

// ReadZip64EndOfCentralDir decodes the Zip64 end record, signature included.
func ReadZip64EndOfCentralDir(src io.Reader) (Zip64EndOfCentralDirectory, error) {
	var buf [Zip64EndOfCentralDirLen]byte
	if _, err := io.ReadFull(src, buf[:]); err != nil {
		return Zip64EndOfCentralDirectory{}, fmt.Errorf("read zip64 end of central directory: %w", err)
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != Zip64EndOfCentralDirSignature {
		return Zip64EndOfCentralDirectory{}, fmt.Errorf("zip64 end of central directory: %w", ErrSignature)
	}
	return Zip64EndOfCentralDirectory{
		Entries:          binary.LittleEndian.Uint64(buf[32:40]),
		CentralDirSize:   binary.LittleEndian.Uint64(buf[40:48]),
		CentralDirOffset: binary.LittleEndian.Uint64(buf[48:56]),
	}, nil
}

// ParseExtraField splits raw extra field bytes into whole fields keyed by tag.
// A truncated trailing field is dropped.
func ParseExtraField(raw []byte) map[uint16][]byte {
	fields := make(map[uint16][]byte)

	for offset := 0; offset+4 <= len(raw); {
		tag := binary.LittleEndian.Uint16(raw[offset : offset+2])
		size := int(binary.LittleEndian.Uint16(raw[offset+2 : offset+4]))

		end := offset + 4 + size
		if end > len(raw) {
			break
		}
		fields[tag] = raw[offset:end]
		offset = end
	}
	return fields
}
