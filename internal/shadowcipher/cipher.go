// Package shadowcipher provides the named AEAD ciphers the Shadowsocks
// ingress needs: encrypt(bytes)/decrypt(bytes) over a whole chunk, keyed by
// a shared password. chacha20-ietf-poly1305 uses x/crypto; aes-256-gcm uses
// the standard library's crypto/aes, which already implements AES-GCM to
// spec and needs no external package.
package shadowcipher

import (
	"crypto/aes"
	gocipher "crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Method names recognized by NewCipher, matching the allow-list in
// internal/config.
const (
	MethodChacha20IETFPoly1305 = "chacha20-ietf-poly1305"
	MethodAES256GCM            = "aes-256-gcm"
)

// Cipher encrypts and decrypts whole chunks for the Shadowsocks ingress
// wrapper. Each side keeps its own monotonically increasing nonce counter;
// chunks must be encrypted/decrypted in the order they were produced,
// which TCP already guarantees.
//
// Sealed chunks are framed with a 2-byte big-endian length prefix so the
// reader can recover chunk boundaries out of the raw, arbitrarily-sized
// reads the ingress wrapper pulls off the socket.
type Cipher struct {
	encAEAD cipherAEAD
	decAEAD cipherAEAD
	encCtr  uint64
	decCtr  uint64

	rawBuf []byte // undigested ciphertext bytes fed via FeedAndDecrypt
}

const chunkLengthPrefix = 2

type cipherAEAD interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
}

// NewCipher derives a key from password via SHA-256 and builds the named
// AEAD. method must be one of the Method* constants.
func NewCipher(method, password string) (*Cipher, error) {
	key := sha256.Sum256([]byte(password))

	switch method {
	case MethodChacha20IETFPoly1305:
		enc, err := chacha20poly1305.New(key[:])
		if err != nil {
			return nil, fmt.Errorf("shadowcipher: building chacha20poly1305: %w", err)
		}
		dec, err := chacha20poly1305.New(key[:])
		if err != nil {
			return nil, fmt.Errorf("shadowcipher: building chacha20poly1305: %w", err)
		}
		return &Cipher{encAEAD: enc, decAEAD: dec}, nil
	case MethodAES256GCM:
		enc, err := newAESGCM(key[:])
		if err != nil {
			return nil, fmt.Errorf("shadowcipher: building aes-256-gcm: %w", err)
		}
		dec, err := newAESGCM(key[:])
		if err != nil {
			return nil, fmt.Errorf("shadowcipher: building aes-256-gcm: %w", err)
		}
		return &Cipher{encAEAD: enc, decAEAD: dec}, nil
	default:
		return nil, fmt.Errorf("shadowcipher: unsupported method %q", method)
	}
}

func newAESGCM(key []byte) (cipherAEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return gocipher.NewGCM(block)
}

func nonceFor(counter uint64, size int) []byte {
	nonce := make([]byte, size)
	binary.LittleEndian.PutUint64(nonce, counter)
	return nonce
}

// Encrypt seals plaintext into a length-prefixed chunk ready to write to
// the socket, advancing the write-direction nonce counter.
func (c *Cipher) Encrypt(plaintext []byte) []byte {
	nonce := nonceFor(c.encCtr, c.encAEAD.NonceSize())
	c.encCtr++
	sealed := c.encAEAD.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, chunkLengthPrefix+len(sealed))
	binary.BigEndian.PutUint16(out, uint16(len(sealed)))
	copy(out[chunkLengthPrefix:], sealed)
	return out
}

// FeedAndDecrypt appends raw socket bytes to the internal ciphertext
// buffer and opens every complete chunk it can find. A chunk that fails to
// authenticate is logged by the caller (the error is returned alongside
// whatever plaintext chunks did decode) and contributes no plaintext; the
// nonce counter still advances past it, since the sender consumed a nonce
// for it, so parsing resumes at the next chunk boundary in step with the
// sender.
func (c *Cipher) FeedAndDecrypt(raw []byte) (plaintexts [][]byte, err error) {
	c.rawBuf = append(c.rawBuf, raw...)

	for {
		if len(c.rawBuf) < chunkLengthPrefix {
			return plaintexts, err
		}
		chunkLen := int(binary.BigEndian.Uint16(c.rawBuf))
		total := chunkLengthPrefix + chunkLen
		if len(c.rawBuf) < total {
			return plaintexts, err
		}

		sealed := c.rawBuf[chunkLengthPrefix:total]
		nonce := nonceFor(c.decCtr, c.decAEAD.NonceSize())

		pt, openErr := c.decAEAD.Open(nil, nonce, sealed, nil)
		c.decCtr++
		if openErr != nil {
			err = fmt.Errorf("shadowcipher: decrypt failed: %w", openErr)
		} else {
			plaintexts = append(plaintexts, pt)
		}

		c.rawBuf = c.rawBuf[total:]
	}
}
