// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arcview

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"io/fs"
	"math"
	"strings"
	"time"

	"github.com/lemon4ksan/arcview/internal"
	"github.com/lemon4ksan/arcview/internal/sys"
	"github.com/spf13/afero"
)

// Archive is an opened ZIP file and its central directory.
// Entries may be opened concurrently.
type Archive struct {
	path    string
	file    afero.File
	size    int64
	entries []*Entry
	byName  map[string]*Entry
}

// Entry is one record of the central directory.
type Entry struct {
	archive *Archive

	name             string
	isDir            bool
	flags            uint16
	method           CompressionMethod // method of the payload after decryption
	aes              *aesInfo          // nil for unencrypted entries
	crc32            uint32
	compressedSize   uint64
	uncompressedSize uint64
	localOffset      uint64
	modified         time.Time
	mode             fs.FileMode
	hostSystem       sys.HostSystem
}

// LoadArchive opens path on fsys and reads its central directory.
// The returned Archive must be closed.
func LoadArchive(ctx context.Context, fsys afero.Fs, path string) (*Archive, error) {
	file, err := fsys.Open(path)
	if err != nil {
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	a := &Archive{
		path: path,
		file: file,
		size: info.Size(),
	}
	if err := a.readCentralDir(ctx); err != nil {
		file.Close()
		return nil, err
	}
	return a, nil
}

// Path returns the archive location.
func (a *Archive) Path() string { return a.path }

// Entries returns the entries in central directory order.
func (a *Archive) Entries() []*Entry { return a.entries }

// Lookup returns the entry called name.
func (a *Archive) Lookup(name string) (*Entry, error) {
	if e, ok := a.byName[strings.TrimSuffix(name, "/")]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, name)
}

// Close releases the underlying file.
func (a *Archive) Close() error { return a.file.Close() }

func (a *Archive) readCentralDir(ctx context.Context) error {
	end, endOffset, err := a.findEndOfCentralDir(ctx)
	if err != nil {
		return err
	}
	offset, entriesNum := uint64(end.CentralDirOffset), uint64(end.Entries)

	if end.NeedsZip64() {
		zip64End, err := a.readZip64EndOfCentralDir(endOffset)
		if err != nil {
			return err
		}
		offset, entriesNum = zip64End.CentralDirOffset, zip64End.Entries
	}
	if offset > uint64(a.size) {
		return fmt.Errorf("%w: central directory offset out of range", ErrFormat)
	}

	// Guard against forged counts before preallocating
	a.entries = make([]*Entry, 0, min(entriesNum, 1024))
	a.byName = make(map[string]*Entry, min(entriesNum, 1024))

	cdReader := io.NewSectionReader(a.file, int64(offset), a.size-int64(offset))
	for i := range entriesNum {
		if err := ctx.Err(); err != nil {
			return err
		}

		record, err := internal.ReadCentralDirEntry(cdReader)
		if err != nil {
			return fmt.Errorf("%w: entry %d: %w", ErrFormat, i, err)
		}

		e, err := a.newEntry(record)
		if err != nil {
			return err
		}
		a.entries = append(a.entries, e)
		if _, dup := a.byName[e.name]; !dup {
			a.byName[e.name] = e
		}
	}
	return nil
}

// findEndOfCentralDir scans backwards for the end record, which may be
// followed by a comment of up to 64 KiB.
func (a *Archive) findEndOfCentralDir(ctx context.Context) (internal.EndOfCentralDirectory, int64, error) {
	var end internal.EndOfCentralDirectory

	if a.size < internal.EndOfCentralDirLen {
		return end, 0, fmt.Errorf("%w: file too small", ErrFormat)
	}

	const bufSize = 1024
	buf := make([]byte, bufSize)
	searchLimit := min(int64(math.MaxUint16)+internal.EndOfCentralDirLen, a.size)

	for searchStart := int64(0); searchStart < searchLimit; {
		if err := ctx.Err(); err != nil {
			return end, 0, err
		}

		readSize := min(bufSize, searchLimit-searchStart)
		readPos := a.size - searchStart - readSize

		n, err := a.file.ReadAt(buf[:readSize], readPos)
		if err != nil && err != io.EOF {
			return end, 0, fmt.Errorf("read at %d: %w", readPos, err)
		}
		chunk := buf[:n]

		for p := n - 4; p >= 0; p-- {
			if binary.LittleEndian.Uint32(chunk[p:p+4]) != internal.EndOfCentralDirSignature {
				continue
			}
			recordOffset := readPos + int64(p)
			if recordOffset+internal.EndOfCentralDirLen > a.size {
				continue
			}

			record := make([]byte, a.size-recordOffset)
			if _, err := a.file.ReadAt(record, recordOffset); err != nil && err != io.EOF {
				return end, 0, fmt.Errorf("read end of central directory: %w", err)
			}
			end, err := internal.DecodeEndOfCentralDir(record)
			return end, recordOffset, err
		}

		// overlap by 3 bytes so a signature split across reads is still found
		if n < 4 {
			break
		}
		searchStart += int64(n) - 3
	}

	return end, 0, fmt.Errorf("%w: no end of central directory signature found", ErrFormat)
}

func (a *Archive) readZip64EndOfCentralDir(endOffset int64) (internal.Zip64EndOfCentralDirectory, error) {
	locatorOffset := endOffset - internal.Zip64EndOfCentralDirLocatorLen
	if locatorOffset < 0 {
		return internal.Zip64EndOfCentralDirectory{}, fmt.Errorf("%w: invalid zip64 locator offset", ErrFormat)
	}

	recordOffset, err := internal.ReadZip64Locator(io.NewSectionReader(a.file, locatorOffset, internal.Zip64EndOfCentralDirLocatorLen))
	if err != nil {
		return internal.Zip64EndOfCentralDirectory{}, fmt.Errorf("%w: %w", ErrFormat, err)
	}
	if recordOffset > uint64(locatorOffset) {
		return internal.Zip64EndOfCentralDirectory{}, fmt.Errorf("%w: invalid zip64 end of central directory offset", ErrFormat)
	}

	record, err := internal.ReadZip64EndOfCentralDir(io.NewSectionReader(a.file, int64(recordOffset), internal.Zip64EndOfCentralDirLen))
	if err != nil {
		return record, fmt.Errorf("%w: %w", ErrFormat, err)
	}
	return record, nil
}

func (a *Archive) newEntry(record internal.CentralDirectory) (*Entry, error) {
	name := decodeName(record.Name, record.Flags)
	isDir := strings.HasSuffix(name, "/")

	e := &Entry{
		archive:          a,
		name:             strings.TrimSuffix(name, "/"),
		isDir:            isDir,
		flags:            record.Flags,
		method:           CompressionMethod(record.Method),
		crc32:            record.CRC32,
		compressedSize:   uint64(record.CompressedSize),
		uncompressedSize: uint64(record.UncompressedSize),
		localOffset:      uint64(record.LocalOffset),
		modified:         msDosToTime(record.ModDate, record.ModTime),
		hostSystem:       sys.HostSystem(record.VersionMadeBy >> 8),
	}
	e.mode = sys.FileMode(e.hostSystem, record.ExternalAttrs, isDir)

	if zip64Data, ok := record.Extra[Zip64ExtraFieldTag]; ok {
		e.applyZip64(zip64Data[4:])
	}

	if field, ok := record.Extra[AESEncryptionTag]; ok {
		info, err := parseAESExtraField(field)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.name, err)
		}
		e.aes = &info
		e.method = info.method
	}

	return e, nil
}

// applyZip64 replaces the fields that hold the 32-bit overflow sentinel.
func (e *Entry) applyZip64(data []byte) {
	next := func(v *uint64) {
		if *v != math.MaxUint32 || len(data) < 8 {
			return
		}
		*v = binary.LittleEndian.Uint64(data[:8])
		data = data[8:]
	}
	next(&e.uncompressedSize)
	next(&e.compressedSize)
	next(&e.localOffset)
}

// Name returns the entry path inside the archive, without a trailing slash.
func (e *Entry) Name() string { return e.name }

// IsDir reports whether the entry is a directory.
func (e *Entry) IsDir() bool { return e.isDir }

// Size returns the uncompressed size.
func (e *Entry) Size() uint64 { return e.uncompressedSize }

// CompressedSize returns the stored payload size.
func (e *Entry) CompressedSize() uint64 { return e.compressedSize }

// Protected reports whether the entry carries the WinZip AES extra field.
func (e *Entry) Protected() bool { return e.aes != nil }

// Modified returns the DOS timestamp of the entry.
func (e *Entry) Modified() time.Time { return e.modified }

// Mode returns the permission and type bits recorded by the creating host.
func (e *Entry) Mode() fs.FileMode { return e.mode }

// Method returns the compression method of the decrypted payload.
func (e *Entry) Method() CompressionMethod { return e.method }

// Info returns the listing view of the entry.
func (e *Entry) Info() ArchiveEntry {
	return ArchiveEntry{
		Name:           e.name,
		IsDir:          e.isDir,
		Size:           e.uncompressedSize,
		CompressedSize: e.compressedSize,
		Protected:      e.Protected(),
		Modified:       e.modified,
	}
}

// payload returns a reader over the stored bytes of the entry.
func (e *Entry) payload() (*io.SectionReader, error) {
	a := e.archive
	if e.localOffset > uint64(a.size) {
		return nil, fmt.Errorf("%w: local header offset out of range", ErrFormat)
	}

	_, headerLen, err := internal.LocalHeaderSpan(io.NewSectionReader(a.file, int64(e.localOffset), internal.LocalFileHeaderLen))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFormat, e.name, err)
	}

	dataOffset := int64(e.localOffset) + headerLen
	if dataOffset+int64(e.compressedSize) > a.size {
		return nil, fmt.Errorf("%w: %s: payload exceeds archive", ErrFormat, e.name)
	}
	return io.NewSectionReader(a.file, dataOffset, int64(e.compressedSize)), nil
}

// verifyPassword checks password against the entry's verification value
// without decrypting the payload.
func (e *Entry) verifyPassword(password string) error {
	if e.aes == nil {
		return nil
	}
	if password == "" {
		return ErrNeedsPassword
	}

	src, err := e.payload()
	if err != nil {
		return err
	}
	_, err = readAESHeader(src, password, *e.aes)
	return err
}

// authenticate checks password against the authentication code of the
// whole payload. Unlike verifyPassword it cannot be passed by chance.
func (e *Entry) authenticate(password string) error {
	if e.aes == nil {
		return nil
	}
	if password == "" {
		return ErrNeedsPassword
	}

	src, err := e.payload()
	if err != nil {
		return err
	}
	return authenticateAES(src, password, int64(e.compressedSize), *e.aes)
}

// open returns a reader over the decrypted, decompressed contents. AES
// payloads are authenticated up front; the checksum and size are verified
// as the stream ends.
func (e *Entry) open(password string) (io.ReadCloser, error) {
	if e.isDir {
		return io.NopCloser(strings.NewReader("")), nil
	}

	if e.aes == nil && e.flags&flagEncrypted != 0 {
		return nil, fmt.Errorf("%w: %s uses traditional encryption", ErrEncryption, e.name)
	}
	if e.aes != nil && password == "" {
		return nil, ErrNeedsPassword
	}

	src, err := e.payload()
	if err != nil {
		return nil, err
	}

	var r io.Reader = src
	if e.aes != nil {
		// authenticate before any plaintext is produced
		if err := authenticateAES(src, password, int64(e.compressedSize), *e.aes); err != nil {
			return nil, err
		}
		if _, err := src.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		r, err = newAESReader(src, password, int64(e.compressedSize), *e.aes)
		if err != nil {
			return nil, err
		}
	}

	rc, err := decompress(e.method, r)
	if err != nil {
		return nil, err
	}

	cr := &checksumReader{
		rc:       rc,
		hash:     crc32.NewIEEE(),
		want:     e.crc32,
		checkCRC: e.aes == nil || e.aes.version != aesVersionAE2,
		size:     e.uncompressedSize,
	}
	if e.aes != nil {
		// the deflate stream may end before the authentication code is read
		cr.tail = r
	}
	return cr, nil
}

// checksumReader verifies the CRC32 and size of a stream. Errors are
// reported by Read on EOF, so a copy loop sees them without calling Close.
type checksumReader struct {
	rc       io.ReadCloser
	tail     io.Reader // drained on EOF, if set
	hash     hash.Hash32
	want     uint32
	checkCRC bool
	read     uint64
	size     uint64
	err      error // sticky verification failure
}

func (cr *checksumReader) Read(p []byte) (int, error) {
	if cr.err != nil {
		return 0, cr.err
	}

	n, err := cr.rc.Read(p)
	if n > 0 {
		cr.read += uint64(n)
		if cr.read > cr.size {
			cr.err = fmt.Errorf("%w: more than %d bytes", ErrSizeMismatch, cr.size)
			return n, cr.err
		}
		cr.hash.Write(p[:n])
	}
	if errors.Is(err, io.EOF) {
		if cr.err = cr.verify(); cr.err != nil {
			return n, cr.err
		}
	}
	return n, err
}

func (cr *checksumReader) verify() error {
	if cr.tail != nil {
		if _, err := io.Copy(io.Discard, cr.tail); err != nil {
			return err
		}
		cr.tail = nil
	}
	if cr.read != cr.size {
		return fmt.Errorf("%w: read %d, want %d", ErrSizeMismatch, cr.read, cr.size)
	}
	if got := cr.hash.Sum32(); cr.checkCRC && got != cr.want {
		return fmt.Errorf("%w: got %08x, want %08x", ErrChecksum, got, cr.want)
	}
	return nil
}

func (cr *checksumReader) Close() error {
	return cr.rc.Close()
}
