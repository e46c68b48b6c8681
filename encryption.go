// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arcview

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// AESEncryptionTag identifies the WinZip AES extra field.
const AESEncryptionTag uint16 = 0x9901

const (
	aesVersionAE2   = 0x0002 // CRC is zeroed, the MAC alone protects the data
	aesStrength256  = 0x03
	aesIterations   = 1000
	aesMacSize      = 10 // HMAC-SHA1 truncated to 10 bytes
	aesPvvSize      = 2  // password verification value
	aesExtraDataLen = 7
)

// saltSource supplies AES salts.
var saltSource io.Reader = rand.Reader

// errAESMismatch is reported when the authentication code does not match,
// including for a wrong password that passes the verification value.
var errAESMismatch = fmt.Errorf("%w: %w", ErrWrongPassword, ErrAuthentication)

// aesStrength describes one of the three WinZip key sizes.
type aesStrength struct {
	keySize  int
	saltSize int
}

var aesStrengths = map[byte]aesStrength{
	0x01: {keySize: 16, saltSize: 8},
	0x02: {keySize: 24, saltSize: 12},
	0x03: {keySize: 32, saltSize: 16},
}

// aesInfo is the decoded AES extra field of an entry.
type aesInfo struct {
	version  uint16
	strength aesStrength
	method   CompressionMethod // actual compression method of the payload
}

// overhead is the number of payload bytes that are not ciphertext.
func (a aesInfo) overhead() int64 {
	return int64(a.strength.saltSize + aesPvvSize + aesMacSize)
}

// encodeAESExtraField builds the AE-2, AES-256 extra field for method.
func encodeAESExtraField(method CompressionMethod) []byte {
	data := make([]byte, 4+aesExtraDataLen)

	binary.LittleEndian.PutUint16(data[0:2], AESEncryptionTag)
	binary.LittleEndian.PutUint16(data[2:4], aesExtraDataLen)
	binary.LittleEndian.PutUint16(data[4:6], aesVersionAE2)
	data[6], data[7] = 'A', 'E'
	data[8] = aesStrength256
	binary.LittleEndian.PutUint16(data[9:11], uint16(method))

	return data
}

// parseAESExtraField decodes a whole extra field, tag and size included.
func parseAESExtraField(field []byte) (aesInfo, error) {
	if len(field) < 4+aesExtraDataLen {
		return aesInfo{}, fmt.Errorf("%w: short aes extra field", ErrFormat)
	}
	if field[6] != 'A' || field[7] != 'E' {
		return aesInfo{}, fmt.Errorf("%w: aes vendor %q", ErrEncryption, field[6:8])
	}
	strength, ok := aesStrengths[field[8]]
	if !ok {
		return aesInfo{}, fmt.Errorf("%w: aes strength %d", ErrEncryption, field[8])
	}

	return aesInfo{
		version:  binary.LittleEndian.Uint16(field[4:6]),
		strength: strength,
		method:   CompressionMethod(binary.LittleEndian.Uint16(field[9:11])),
	}, nil
}

// aesKeys holds keys derived from the password.
type aesKeys struct {
	encKey []byte
	macKey []byte
	pvv    []byte
}

// deriveAESKeys runs PBKDF2-HMAC-SHA1 over password and salt.
func deriveAESKeys(password string, salt []byte, keySize int) aesKeys {
	dk := pbkdf2.Key([]byte(password), salt, aesIterations, 2*keySize+aesPvvSize, sha1.New)

	return aesKeys{
		encKey: dk[:keySize],
		macKey: dk[keySize : 2*keySize],
		pvv:    dk[2*keySize:],
	}
}

// aesWriter implements WinZip AES-256 encryption.
// The salt and verification value are written on creation, the
// authentication code on Close. Close does not close dest.
type aesWriter struct {
	dest   io.Writer
	stream cipher.Stream
	mac    hash.Hash
	buf    []byte
}

func newAESWriter(dest io.Writer, password string) (*aesWriter, error) {
	strength := aesStrengths[aesStrength256]

	salt := make([]byte, strength.saltSize)
	if _, err := io.ReadFull(saltSource, salt); err != nil {
		return nil, fmt.Errorf("aes salt: %w", err)
	}
	keys := deriveAESKeys(password, salt, strength.keySize)

	block, err := aes.NewCipher(keys.encKey)
	if err != nil {
		return nil, err
	}

	if _, err := dest.Write(salt); err != nil {
		return nil, fmt.Errorf("write salt: %w", err)
	}
	if _, err := dest.Write(keys.pvv); err != nil {
		return nil, fmt.Errorf("write pvv: %w", err)
	}

	return &aesWriter{
		dest:   dest,
		stream: newWinZipCounter(block),
		mac:    hmac.New(sha1.New, keys.macKey),
	}, nil
}

func (w *aesWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if cap(w.buf) < len(p) {
		w.buf = make([]byte, len(p))
	}
	buf := w.buf[:len(p)]

	w.stream.XORKeyStream(buf, p)
	// Encrypt-then-MAC: the code covers the ciphertext
	w.mac.Write(buf)

	return w.dest.Write(buf)
}

// Close appends the 10-byte authentication code.
func (w *aesWriter) Close() error {
	if _, err := w.dest.Write(w.mac.Sum(nil)[:aesMacSize]); err != nil {
		return fmt.Errorf("write auth code: %w", err)
	}
	return nil
}

// readAESHeader consumes the salt and verification value from src and
// checks them against password. It returns ErrWrongPassword on mismatch.
func readAESHeader(src io.Reader, password string, info aesInfo) (aesKeys, error) {
	header := make([]byte, info.strength.saltSize+aesPvvSize)
	if _, err := io.ReadFull(src, header); err != nil {
		return aesKeys{}, fmt.Errorf("read aes header: %w", err)
	}

	salt, pvv := header[:info.strength.saltSize], header[info.strength.saltSize:]
	keys := deriveAESKeys(password, salt, info.strength.keySize)
	if subtle.ConstantTimeCompare(pvv, keys.pvv) != 1 {
		return aesKeys{}, ErrWrongPassword
	}
	return keys, nil
}

// aesReader decrypts a WinZip AES payload and verifies its
// authentication code once the ciphertext is exhausted.
type aesReader struct {
	data   io.Reader // ciphertext only
	src    io.Reader // positioned at the MAC after data is drained
	stream cipher.Stream
	mac    hash.Hash
	err    error // terminal result, io.EOF once authenticated
}

// newAESReader returns a reader over the plaintext of an AES payload.
// src must be positioned at the salt; size is the full payload length.
func newAESReader(src io.Reader, password string, size int64, info aesInfo) (io.Reader, error) {
	if size < info.overhead() {
		return nil, fmt.Errorf("%w: aes payload too small", ErrFormat)
	}

	keys, err := readAESHeader(src, password, info)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(keys.encKey)
	if err != nil {
		return nil, err
	}

	return &aesReader{
		data:   io.LimitReader(src, size-info.overhead()),
		src:    src,
		stream: newWinZipCounter(block),
		mac:    hmac.New(sha1.New, keys.macKey),
	}, nil
}

func (r *aesReader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}

	n, err := r.data.Read(p)
	if n > 0 {
		r.mac.Write(p[:n])
		r.stream.XORKeyStream(p[:n], p[:n])
	}
	if err != io.EOF {
		return n, err
	}

	r.err = r.authenticate()
	return n, r.err
}

func (r *aesReader) authenticate() error {
	if err := checkAESMac(r.src, r.mac); err != nil {
		return err
	}
	return io.EOF
}

// authenticateAES verifies the verification value and the authentication
// code of a whole AES payload without decrypting it. src must be
// positioned at the salt; size is the full payload length.
func authenticateAES(src io.Reader, password string, size int64, info aesInfo) error {
	if size < info.overhead() {
		return fmt.Errorf("%w: aes payload too small", ErrFormat)
	}

	keys, err := readAESHeader(src, password, info)
	if err != nil {
		return err
	}

	mac := hmac.New(sha1.New, keys.macKey)
	if _, err := io.CopyN(mac, src, size-info.overhead()); err != nil {
		return fmt.Errorf("read ciphertext: %w", err)
	}
	return checkAESMac(src, mac)
}

// checkAESMac compares mac with the code that follows the ciphertext in src.
func checkAESMac(src io.Reader, mac hash.Hash) error {
	expected := make([]byte, aesMacSize)
	if _, err := io.ReadFull(src, expected); err != nil {
		return fmt.Errorf("read auth code: %w", err)
	}
	if !hmac.Equal(mac.Sum(nil)[:aesMacSize], expected) {
		return errAESMismatch
	}
	return nil
}

// winZipCounter is AES-CTR with a little-endian counter starting at 1,
// which cipher.NewCTR (big-endian) cannot express.
type winZipCounter struct {
	block   cipher.Block
	counter [aes.BlockSize]byte
	buffer  [aes.BlockSize]byte
	pos     int
}

func newWinZipCounter(block cipher.Block) *winZipCounter {
	c := &winZipCounter{block: block}
	c.counter[0] = 1
	return c
}

func (c *winZipCounter) XORKeyStream(dst, src []byte) {
	for i := range src {
		if c.pos == 0 {
			c.block.Encrypt(c.buffer[:], c.counter[:])
			for j := range c.counter {
				c.counter[j]++
				if c.counter[j] != 0 {
					break
				}
			}
		}
		dst[i] = src[i] ^ c.buffer[c.pos]
		c.pos = (c.pos + 1) % aes.BlockSize
	}
}
