// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arcview

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeStdlibArchive builds an archive with archive/zip. Names are stored
// verbatim, without the UTF-8 flag.
func writeStdlibArchive(t *testing.T, fsys afero.Fs, path string, files map[string][]byte, order ...string) {
	t.Helper()

	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)
	for _, name := range order {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			NonUTF8:  true,
			Modified: time.Date(2024, 1, 2, 3, 4, 6, 0, time.UTC),
		})
		require.NoError(t, err)
		_, err = w.Write(files[name])
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, afero.WriteFile(fsys, path, buf.Bytes(), 0644))
}

func TestList_PasswordScenario(t *testing.T) {
	fsys := afero.NewMemMapFs()
	files := writeFiles(t, fsys, testFile{"/data/doc.txt", []byte("top secret document")})

	_, err := Compress(context.Background(), files, "/out/secret.zip", "secret", nil, testOptions(fsys)...)
	require.NoError(t, err)

	tests := []struct {
		name     string
		password string
		expected error
	}{
		{"No password", "", ErrNeedsPassword},
		{"Wrong password", "wrong", ErrWrongPassword},
		{"Correct password", "secret", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := List(context.Background(), fsys, "/out/secret.zip", tt.password)
			if tt.expected != nil {
				assert.ErrorIs(t, err, tt.expected)
				assert.True(t, KindOf(err).Retryable())
				assert.Nil(t, entries)
				return
			}

			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, "doc.txt", entries[0].Name)
			assert.Equal(t, uint64(19), entries[0].Size)
			assert.True(t, entries[0].Protected)
			assert.False(t, entries[0].IsDir)
		})
	}
}

func TestList_KeepsCentralDirectoryOrder(t *testing.T) {
	fsys := afero.NewMemMapFs()
	buildArchive(t, fsys, "/a.zip",
		testEntry{name: "zulu.txt", data: []byte("z")},
		testEntry{name: "alpha.txt", data: []byte("a")},
		testEntry{name: "mike.txt", data: []byte("m")},
	)

	entries, err := List(context.Background(), fsys, "/a.zip", "")
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"zulu.txt", "alpha.txt", "mike.txt"}, names)
}

func TestList_StdlibArchive(t *testing.T) {
	fsys := afero.NewMemMapFs()
	files := map[string][]byte{
		"docs/":          nil,
		"docs/readme.md": []byte("# readme"),
		"\x80\x81.txt":   []byte("cp437"),
	}
	writeStdlibArchive(t, fsys, "/std.zip", files, "docs/", "docs/readme.md", "\x80\x81.txt")

	entries, err := List(context.Background(), fsys, "/std.zip", "")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "docs", entries[0].Name)
	assert.True(t, entries[0].IsDir)
	assert.Equal(t, "docs/readme.md", entries[1].Name)
	assert.Equal(t, uint64(8), entries[1].Size)
	assert.Equal(t, "Çü.txt", entries[2].Name)
	assert.True(t, time.Date(2024, 1, 2, 3, 4, 6, 0, time.UTC).Equal(entries[1].Modified))
}

func TestList_NotAnArchive(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/junk.zip", bytes.Repeat([]byte("junk"), 100), 0644))
	require.NoError(t, afero.WriteFile(fsys, "/tiny.zip", []byte("PK"), 0644))

	for _, path := range []string{"/junk.zip", "/tiny.zip"} {
		_, err := List(context.Background(), fsys, path, "")
		assert.ErrorIs(t, err, ErrFormat, path)
		assert.Equal(t, KindIO, KindOf(err))
	}

	_, err := List(context.Background(), fsys, "/missing.zip", "")
	assert.Error(t, err)
	assert.Equal(t, KindIO, KindOf(err))
}

func TestLoadArchive_TrailingComment(t *testing.T) {
	fsys := afero.NewMemMapFs()

	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)
	w, err := zw.Create("note.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("note"))
	require.NoError(t, err)
	// longer than one scan window
	require.NoError(t, zw.SetComment(string(bytes.Repeat([]byte("c"), 5000))))
	require.NoError(t, zw.Close())
	require.NoError(t, afero.WriteFile(fsys, "/comment.zip", buf.Bytes(), 0644))

	a := loadArchive(t, fsys, "/comment.zip")
	require.Len(t, a.Entries(), 1)

	e, err := a.Lookup("note.txt")
	require.NoError(t, err)
	rc, err := Unlock(e, "")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "note", string(data))
}

func TestArchive_Lookup(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeStdlibArchive(t, fsys, "/a.zip", map[string][]byte{"dir/": nil, "dir/f.txt": []byte("f")}, "dir/", "dir/f.txt")
	a := loadArchive(t, fsys, "/a.zip")

	e, err := a.Lookup("dir/")
	require.NoError(t, err)
	assert.True(t, e.IsDir())

	e, err = a.Lookup("dir")
	require.NoError(t, err)
	assert.True(t, e.IsDir())

	_, err = a.Lookup("nope.txt")
	assert.ErrorIs(t, err, ErrEntryNotFound)
	assert.Equal(t, KindLookup, KindOf(err))
}

func TestClassify(t *testing.T) {
	fsys := afero.NewMemMapFs()

	tests := []struct {
		name     string
		entries  []testEntry
		expected Protection
	}{
		{"Empty archive", nil, Open},
		{"All open", []testEntry{{name: "a", data: []byte("a")}}, Open},
		{"All protected", []testEntry{{name: "a", data: []byte("a"), password: "pw"}}, Protected},
		{"First open", []testEntry{
			{name: "a", data: []byte("a")},
			{name: "b", data: []byte("b"), password: "pw"},
		}, Open},
		{"First protected", []testEntry{
			{name: "a", data: []byte("a"), password: "pw"},
			{name: "b", data: []byte("b")},
		}, Protected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := "/" + tt.name + ".zip"
			buildArchive(t, fsys, path, tt.entries...)
			a := loadArchive(t, fsys, path)
			assert.Equal(t, tt.expected, Classify(a.Entries()))
		})
	}

	assert.Equal(t, "protected", Protected.String())
	assert.Equal(t, "open", Open.String())
}

func TestMixedArchive(t *testing.T) {
	fsys := afero.NewMemMapFs()
	buildArchive(t, fsys, "/mixed.zip",
		testEntry{name: "public.txt", data: []byte("public")},
		testEntry{name: "private.txt", data: []byte("private"), password: "pw"},
	)

	// the archive is classified by its first entry
	entries, err := List(context.Background(), fsys, "/mixed.zip", "")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.False(t, entries[0].Protected)
	assert.True(t, entries[1].Protected)

	a := loadArchive(t, fsys, "/mixed.zip")
	private, err := a.Lookup("private.txt")
	require.NoError(t, err)

	_, err = Unlock(private, "")
	assert.ErrorIs(t, err, ErrNeedsPassword)

	_, err = Unlock(private, "nope")
	assert.ErrorIs(t, err, ErrWrongPassword)

	rc, err := Unlock(private, "pw")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "private", string(data))

	public, err := a.Lookup("public.txt")
	require.NoError(t, err)
	rc, err = Unlock(public, "ignored")
	require.NoError(t, err)
	data, err = io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "public", string(data))
}

func TestUnlock_Corruption(t *testing.T) {
	tests := []struct {
		name     string
		password string
		expected error
		onUnlock bool
	}{
		{"Open entry checksum", "", ErrChecksum, false},
		{"Protected entry authentication", "pw", ErrAuthentication, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := afero.NewMemMapFs()
			data := randomBytes(4096, 9)
			buildArchive(t, fsys, "/c.zip", testEntry{name: "f.bin", data: data, password: tt.password})

			raw, err := afero.ReadFile(fsys, "/c.zip")
			require.NoError(t, err)

			a, err := LoadArchive(context.Background(), fsys, "/c.zip")
			require.NoError(t, err)
			payload, err := a.Entries()[0].payload()
			require.NoError(t, err)
			_, start, size := payload.Outer()
			require.NoError(t, a.Close())

			// flip a byte near the end of the stored data, before any auth code
			raw[start+size-200] ^= 0x01
			require.NoError(t, afero.WriteFile(fsys, "/c.zip", raw, 0644))

			rc, err := Unlock(loadArchive(t, fsys, "/c.zip").Entries()[0], tt.password)
			if tt.onUnlock {
				assert.ErrorIs(t, err, tt.expected)
				assert.Equal(t, KindWrongPassword, KindOf(err))
				return
			}
			require.NoError(t, err)
			defer rc.Close()
			_, err = io.ReadAll(rc)
			assert.ErrorIs(t, err, tt.expected)
		})
	}
}

func TestUnlock_TraditionalEncryption(t *testing.T) {
	fsys := afero.NewMemMapFs()
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)
	w, err := zw.CreateHeader(&zip.FileHeader{Name: "legacy.txt", Method: zip.Store, Flags: flagEncrypted})
	require.NoError(t, err)
	_, err = w.Write([]byte("not really encrypted"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, afero.WriteFile(fsys, "/legacy.zip", buf.Bytes(), 0644))

	a := loadArchive(t, fsys, "/legacy.zip")
	_, err = Unlock(a.Entries()[0], "pw")
	assert.ErrorIs(t, err, ErrEncryption)
}
