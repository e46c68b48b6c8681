// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package internal

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFileHeader_Encode(t *testing.T) {
	tests := []struct {
		name   string
		header LocalFileHeader
	}{
		{
			name: "Standard file",
			header: LocalFileHeader{
				VersionNeeded:    20,
				Method:           8,
				CRC32:            0x12345678,
				CompressedSize:   100,
				UncompressedSize: 200,
				Name:             "test.txt",
			},
		},
		{
			name: "With extra field",
			header: LocalFileHeader{
				VersionNeeded: 51,
				Flags:         0x801,
				Method:        99,
				Name:          "secret.txt",
				Extra:         []byte{0x01, 0x99, 0x07, 0x00, 0x02, 0x00, 'A', 'E', 0x03, 0x08, 0x00},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := tt.header.Encode()
			require.Len(t, buf, LocalFileHeaderLen+len(tt.header.Name)+len(tt.header.Extra))

			assert.Equal(t, LocalFileHeaderSignature, binary.LittleEndian.Uint32(buf[0:4]))
			assert.Equal(t, tt.header.VersionNeeded, binary.LittleEndian.Uint16(buf[4:6]))
			assert.Equal(t, tt.header.Flags, binary.LittleEndian.Uint16(buf[6:8]))
			assert.Equal(t, tt.header.Method, binary.LittleEndian.Uint16(buf[8:10]))
			assert.Equal(t, tt.header.CRC32, binary.LittleEndian.Uint32(buf[14:18]))
			assert.Equal(t, tt.header.CompressedSize, binary.LittleEndian.Uint32(buf[18:22]))
			assert.Equal(t, tt.header.UncompressedSize, binary.LittleEndian.Uint32(buf[22:26]))
			assert.Equal(t, tt.header.Name, string(buf[LocalFileHeaderLen:LocalFileHeaderLen+len(tt.header.Name)]))

			flags, length, err := LocalHeaderSpan(bytes.NewReader(buf))
			require.NoError(t, err)
			assert.Equal(t, tt.header.Flags, flags)
			assert.Equal(t, int64(len(buf)), length)
		})
	}
}

func TestLocalHeaderSpan_BadSignature(t *testing.T) {
	buf := make([]byte, LocalFileHeaderLen)
	_, _, err := LocalHeaderSpan(bytes.NewReader(buf))
	assert.ErrorIs(t, err, ErrSignature)
}

func TestCentralDirectory_RoundTrip(t *testing.T) {
	aes := []byte{0x01, 0x99, 0x07, 0x00, 0x02, 0x00, 'A', 'E', 0x03, 0x08, 0x00}
	zip64 := []byte{0x01, 0x00, 0x08, 0x00, 1, 2, 3, 4, 5, 6, 7, 8}

	original := CentralDirectory{
		VersionMadeBy:    3<<8 | 63,
		VersionNeeded:    51,
		Flags:            0x801,
		Method:           99,
		ModTime:          0x73C7,
		ModDate:          0x578F,
		CRC32:            0,
		CompressedSize:   1234,
		UncompressedSize: 5678,
		ExternalAttrs:    0100755 << 16,
		LocalOffset:      42,
		Name:             "dir/file.txt",
		Extra:            map[uint16][]byte{0x9901: aes, 0x0001: zip64},
		Comment:          "note",
	}

	buf := original.Encode()
	require.Len(t, buf, CentralDirectoryLen+len(original.Name)+len(aes)+len(zip64)+len(original.Comment))

	// extra fields are written in ascending tag order
	extraStart := CentralDirectoryLen + len(original.Name)
	assert.Equal(t, zip64, buf[extraStart:extraStart+len(zip64)])

	decoded, err := ReadCentralDirEntry(bytes.NewReader(buf))
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestReadCentralDirEntry_Truncated(t *testing.T) {
	buf := CentralDirectory{Name: "a.txt"}.Encode()
	_, err := ReadCentralDirEntry(bytes.NewReader(buf[:CentralDirectoryLen+2]))
	assert.Error(t, err)
}

func TestEndOfCentralDirectory(t *testing.T) {
	t.Run("Round trip", func(t *testing.T) {
		end := NewEndOfCentralDirectory(2, 100, 3000, "archive comment")
		assert.False(t, end.NeedsZip64())

		decoded, err := DecodeEndOfCentralDir(end.Encode())
		require.NoError(t, err)
		assert.Equal(t, end, decoded)
	})

	t.Run("Clamps to zip64 sentinels", func(t *testing.T) {
		end := NewEndOfCentralDirectory(70000, 100, math.MaxUint32+10, "")
		assert.Equal(t, uint16(math.MaxUint16), end.Entries)
		assert.Equal(t, uint32(math.MaxUint32), end.CentralDirOffset)
		assert.True(t, end.NeedsZip64())
	})

	t.Run("Bad signature", func(t *testing.T) {
		_, err := DecodeEndOfCentralDir(make([]byte, EndOfCentralDirLen))
		assert.ErrorIs(t, err, ErrSignature)
	})
}

func TestZip64EndOfCentralDirectory(t *testing.T) {
	record := Zip64EndOfCentralDirectory{
		Entries:          70000,
		CentralDirSize:   1 << 20,
		CentralDirOffset: 1 << 33,
	}
	const recordOffset = 1<<33 + 1<<20

	buf := record.Encode(recordOffset)
	require.Len(t, buf, Zip64EndOfCentralDirLen+Zip64EndOfCentralDirLocatorLen)

	decoded, err := ReadZip64EndOfCentralDir(bytes.NewReader(buf[:Zip64EndOfCentralDirLen]))
	require.NoError(t, err)
	assert.Equal(t, record, decoded)

	offset, err := ReadZip64Locator(bytes.NewReader(buf[Zip64EndOfCentralDirLen:]))
	require.NoError(t, err)
	assert.Equal(t, uint64(recordOffset), offset)
}

func TestParseExtraField(t *testing.T) {
	tests := []struct {
		name     string
		raw      []byte
		expected map[uint16][]byte
	}{
		{
			name:     "Empty",
			raw:      nil,
			expected: map[uint16][]byte{},
		},
		{
			name: "Two fields",
			raw:  []byte{0x01, 0x00, 0x02, 0x00, 0xAA, 0xBB, 0x0A, 0x00, 0x00, 0x00},
			expected: map[uint16][]byte{
				0x0001: {0x01, 0x00, 0x02, 0x00, 0xAA, 0xBB},
				0x000A: {0x0A, 0x00, 0x00, 0x00},
			},
		},
		{
			name: "Truncated trailing field dropped",
			raw:  []byte{0x01, 0x00, 0x01, 0x00, 0xAA, 0x0A, 0x00, 0x09, 0x00, 0x01},
			expected: map[uint16][]byte{
				0x0001: {0x01, 0x00, 0x01, 0x00, 0xAA},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseExtraField(tt.raw))
		})
	}
}
