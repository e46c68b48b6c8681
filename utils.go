// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arcview

import (
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// flagUTF8 is general purpose bit 11: name and comment are UTF-8.
const flagUTF8 = 0x800

// byteCountWriter counts bytes written to a writer.
type byteCountWriter struct {
	dest         io.Writer
	bytesWritten int64
}

func (w *byteCountWriter) Write(p []byte) (int, error) {
	n, err := w.dest.Write(p)
	w.bytesWritten += int64(n)
	return n, err
}

// decodeName returns an entry name as UTF-8. Names without the UTF-8 flag
// that are not valid UTF-8 are treated as IBM code page 437.
func decodeName(raw string, flags uint16) string {
	if flags&flagUTF8 != 0 || utf8.ValidString(raw) {
		return raw
	}
	decoded, err := charmap.CodePage437.NewDecoder().String(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// Time conversion functions
func timeToMsDos(t time.Time) (dosDate uint16, dosTime uint16) {
	year := min(max(t.Year()-1980, 0), 127)

	dosDate = uint16(year)<<9 | uint16(t.Month())<<5 | uint16(t.Day())
	dosTime = uint16(t.Hour())<<11 | uint16(t.Minute())<<5 | uint16(t.Second()/2)
	return dosDate, dosTime
}

func msDosToTime(dosDate uint16, dosTime uint16) time.Time {
	day := int(dosDate & 0x1F)
	month := int((dosDate >> 5) & 0x0F)
	year := int((dosDate>>9)&0x7F) + 1980

	if month < 1 || month > 12 {
		month = 1
	}
	if day < 1 || day > 31 {
		day = 1
	}

	return time.Date(year, time.Month(month), day,
		int(dosTime>>11), int((dosTime>>5)&0x3F), int(dosTime&0x1F)*2, 0, time.UTC)
}

// FormatSize renders a byte count for status messages.
func FormatSize(size uint64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case size >= gb:
		return fmt.Sprintf("%.2f GB", float64(size)/gb)
	case size >= mb:
		return fmt.Sprintf("%.2f MB", float64(size)/mb)
	case size >= kb:
		return fmt.Sprintf("%.2f KB", float64(size)/kb)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}

// FormatDuration renders an ETA as "1h 2m 3s", "2m 3s" or "3s".
func FormatDuration(d time.Duration) string {
	secs := int64(d.Round(time.Second) / time.Second)
	hours, minutes, seconds := secs/3600, (secs%3600)/60, secs%60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
