// Package wire implements a message-boundary-preserving multipart
// transport: every relay message is exactly three frames, and frame
// boundaries must survive the trip over a plain net.Conn.
//
// The length prefix of each frame is masked with a SipHash-2-4 keystream
// the same way framing.go obfuscates its frame-length header, keeping a
// running counter instead of transmitting a nonce.
package wire

import (
	"bufio"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash"
	"io"
	"net"

	"github.com/dchest/siphash"
)

const maxFrameLength = 1 << 24 // 16 MiB, generous upper bound against abuse

// Conn is a multipart-message connection layered over a net.Conn.
type Conn struct {
	raw net.Conn
	r   *bufio.Reader

	writeMask *lengthMasker
	readMask  *lengthMasker
}

// NewConn wraps raw in a multipart Conn keyed by token (the same shared
// ASCII token that seeds the swap-alphabet pool).
func NewConn(raw net.Conn, token string) *Conn {
	key := deriveKey(token)
	return &Conn{
		raw:       raw,
		r:         bufio.NewReader(raw),
		writeMask: newLengthMasker(key),
		readMask:  newLengthMasker(key),
	}
}

func deriveKey(token string) []byte {
	sum := sha256.Sum256([]byte("detour-wire-length-mask:" + token))
	return sum[:16]
}

// lengthMasker derives a per-frame XOR mask for the length prefix from a
// SipHash-2-4 keystream over a monotonically increasing counter, mirroring
// framing.go's running siphash-over-nonce length obfuscation.
type lengthMasker struct {
	mac     hash.Hash64
	counter uint64
}

func newLengthMasker(key []byte) *lengthMasker {
	return &lengthMasker{mac: siphash.New(key)}
}

func (m *lengthMasker) next() uint32 {
	var ctr [8]byte
	binary.BigEndian.PutUint64(ctr[:], m.counter)
	m.counter++

	m.mac.Reset()
	m.mac.Write(ctr[:])
	sum := m.mac.Sum(nil)
	return binary.BigEndian.Uint32(sum[:4])
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.raw.Close()
}

// RemoteAddr returns the underlying connection's remote address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

// SetLinger sets TCP linger=0 on the underlying connection when possible,
// so a closed session doesn't block shutdown waiting to drain.
func (c *Conn) SetLinger() {
	if tc, ok := c.raw.(*net.TCPConn); ok {
		_ = tc.SetLinger(0)
	}
}

// SendMulti writes a multipart message: a one-byte frame count followed by
// each frame as a length-obfuscated-prefix + payload.
func (c *Conn) SendMulti(frames [][]byte) error {
	if len(frames) == 0 || len(frames) > 255 {
		return fmt.Errorf("wire: invalid frame count %d", len(frames))
	}
	if _, err := c.raw.Write([]byte{byte(len(frames))}); err != nil {
		return fmt.Errorf("wire: writing frame count: %w", err)
	}
	for _, f := range frames {
		if len(f) > maxFrameLength {
			return fmt.Errorf("wire: frame too large: %d bytes", len(f))
		}
		masked := uint32(len(f)) ^ c.writeMask.next()
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], masked)
		if _, err := c.raw.Write(lenBuf[:]); err != nil {
			return fmt.Errorf("wire: writing frame length: %w", err)
		}
		if len(f) > 0 {
			if _, err := c.raw.Write(f); err != nil {
				return fmt.Errorf("wire: writing frame payload: %w", err)
			}
		}
	}
	return nil
}

// RecvMulti reads one multipart message.
func (c *Conn) RecvMulti() ([][]byte, error) {
	countBuf, err := c.r.ReadByte()
	if err != nil {
		return nil, err
	}
	count := int(countBuf)
	if count == 0 {
		return nil, fmt.Errorf("wire: received zero-frame message")
	}

	frames := make([][]byte, count)
	for i := 0; i < count; i++ {
		var lenBuf [4]byte
		if _, err := io.ReadFull(c.r, lenBuf[:]); err != nil {
			return nil, fmt.Errorf("wire: reading frame length: %w", err)
		}
		length := binary.BigEndian.Uint32(lenBuf[:]) ^ c.readMask.next()
		if length > maxFrameLength {
			return nil, fmt.Errorf("wire: frame length %d exceeds maximum", length)
		}
		payload := make([]byte, length)
		if length > 0 {
			if _, err := io.ReadFull(c.r, payload); err != nil {
				return nil, fmt.Errorf("wire: reading frame payload: %w", err)
			}
		}
		frames[i] = payload
	}
	return frames, nil
}
