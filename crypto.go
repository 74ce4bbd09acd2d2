// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package unzip

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	zipCryptoHeaderLen = 12
	aesPVVLen          = 2
	aesMACLen          = 10
	aesIterations      = 1000
)

// newDecryptor returns a reader that yields the plain compressed data of e.
// compressed is the encrypted data span of exactly e.CompressedSize bytes.
func newDecryptor(e *Entry, compressed io.Reader, password []byte) (io.Reader, error) {
	if !e.IsEncrypted() {
		return compressed, nil
	}
	if len(password) == 0 {
		return nil, ErrPasswordRequired
	}
	if e.Flags&flagStrongCrypto != 0 {
		return nil, fmt.Errorf("%w: strong encryption", ErrUnsupportedMethod)
	}
	if e.aes != nil {
		return newAESReader(e, compressed, password)
	}
	return newZipCryptoReader(e, compressed, password)
}

// zipCrypto implements the traditional PKWARE stream cipher.
type zipCrypto struct {
	keys [3]uint32
}

func newZipCrypto(password []byte) *zipCrypto {
	z := &zipCrypto{keys: [3]uint32{0x12345678, 0x23456789, 0x34567890}}
	for _, b := range password {
		z.update(b)
	}
	return z
}

func crc32Update(crc uint32, b byte) uint32 {
	return crc32.IEEETable[byte(crc)^b] ^ (crc >> 8)
}

func (z *zipCrypto) update(b byte) {
	z.keys[0] = crc32Update(z.keys[0], b)
	z.keys[1] += z.keys[0] & 0xff
	z.keys[1] = z.keys[1]*134775813 + 1
	z.keys[2] = crc32Update(z.keys[2], byte(z.keys[1]>>24))
}

func (z *zipCrypto) decryptByte() byte {
	t := z.keys[2] | 2
	return byte((t * (t ^ 1)) >> 8)
}

func (z *zipCrypto) decrypt(p []byte) {
	for i, c := range p {
		b := c ^ z.decryptByte()
		z.update(b)
		p[i] = b
	}
}

type zipCryptoReader struct {
	r io.Reader
	z *zipCrypto
}

func (r *zipCryptoReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	r.z.decrypt(p[:n])
	return n, err
}

// newZipCryptoReader consumes the encryption header and verifies the check
// byte against the CRC-32, or the modification time if sizes were deferred.
func newZipCryptoReader(e *Entry, r io.Reader, password []byte) (io.Reader, error) {
	if e.CompressedSize < zipCryptoHeaderLen {
		return nil, fmt.Errorf("%w: encrypted entry too short", ErrFormat)
	}
	z := newZipCrypto(password)
	var hdr [zipCryptoHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	z.decrypt(hdr[:])

	check := byte(e.CRC32 >> 24)
	if e.SizeDeferred() {
		check = byte(e.modTime >> 8)
	}
	if hdr[zipCryptoHeaderLen-1] != check {
		return nil, ErrPasswordMismatch
	}
	return &zipCryptoReader{r: r, z: z}, nil
}

// aesSaltLen returns the salt length for the WinZip AES strength 1, 2 or 3.
func aesSaltLen(strength byte) (int, error) {
	switch strength {
	case 1:
		return 8, nil
	case 2:
		return 12, nil
	case 3:
		return 16, nil
	}
	return 0, fmt.Errorf("%w: aes strength %d", ErrUnsupportedMethod, strength)
}

// aesReader decrypts WinZip AES data and verifies the trailing
// authentication code when the encrypted data is exhausted.
type aesReader struct {
	r      io.Reader
	stream cipher.Stream
	mac    hash.Hash
	n      int64 // remaining encrypted bytes
	err    error
}

func newAESReader(e *Entry, r io.Reader, password []byte) (io.Reader, error) {
	saltLen, err := aesSaltLen(e.aes.strength)
	if err != nil {
		return nil, err
	}
	dataLen := e.CompressedSize - int64(saltLen+aesPVVLen+aesMACLen)
	if dataLen < 0 {
		return nil, fmt.Errorf("%w: encrypted entry too short", ErrFormat)
	}

	head := make([]byte, saltLen+aesPVVLen)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, err
	}
	salt, pvv := head[:saltLen], head[saltLen:]

	keyLen := saltLen * 2
	derived := pbkdf2.Key(password, salt, aesIterations, 2*keyLen+aesPVVLen, sha1.New)
	if subtle.ConstantTimeCompare(derived[2*keyLen:], pvv) != 1 {
		return nil, ErrPasswordMismatch
	}

	block, err := aes.NewCipher(derived[:keyLen])
	if err != nil {
		return nil, err
	}
	return &aesReader{
		r:      r,
		stream: newWinZipCTR(block),
		mac:    hmac.New(sha1.New, derived[keyLen:2*keyLen]),
		n:      dataLen,
	}, nil
}

func (a *aesReader) Read(p []byte) (int, error) {
	if a.err != nil {
		return 0, a.err
	}
	if a.n <= 0 {
		a.err = a.verify()
		if a.err == nil {
			a.err = io.EOF
		}
		return 0, a.err
	}
	if int64(len(p)) > a.n {
		p = p[:a.n]
	}
	n, err := a.r.Read(p)
	a.mac.Write(p[:n])
	a.stream.XORKeyStream(p[:n], p[:n])
	a.n -= int64(n)
	if errors.Is(err, io.EOF) && a.n > 0 {
		err = io.ErrUnexpectedEOF
	} else if errors.Is(err, io.EOF) {
		err = nil
	}
	if err != nil {
		a.err = err
	}
	return n, err
}

func (a *aesReader) verify() error {
	var code [aesMACLen]byte
	if _, err := io.ReadFull(a.r, code[:]); err != nil {
		return err
	}
	if !hmac.Equal(a.mac.Sum(nil)[:aesMACLen], code[:]) {
		return ErrAuthentication
	}
	return nil
}

// winZipCTR is AES in counter mode with a little endian counter starting at 1.
type winZipCTR struct {
	block   cipher.Block
	counter [aes.BlockSize]byte
	buf     [aes.BlockSize]byte
	pos     int
}

func newWinZipCTR(block cipher.Block) *winZipCTR {
	return &winZipCTR{block: block, pos: aes.BlockSize}
}

func (c *winZipCTR) XORKeyStream(dst, src []byte) {
	for i := range src {
		if c.pos == aes.BlockSize {
			for j := range c.counter {
				c.counter[j]++
				if c.counter[j] != 0 {
					break
				}
			}
			c.block.Encrypt(c.buf[:], c.counter[:])
			c.pos = 0
		}
		dst[i] = src[i] ^ c.buf[c.pos]
		c.pos++
	}
}
