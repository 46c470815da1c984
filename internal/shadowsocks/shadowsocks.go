// Package shadowsocks implements the fixed-cipher Shadowsocks ingress: a
// cipher-wrapping stream and the header-only target negotiator that reads
// the plaintext CONNECT address straight off it.
package shadowsocks

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/detour-relay/detour/internal/dlog"
	"github.com/detour-relay/detour/internal/ioutilx"
	"github.com/detour-relay/detour/internal/shadowcipher"
)

const readChunkSize = 32 * 1024

const (
	atypIPv4   = 0x01
	atypDomain = 0x03
	atypIPv6   = 0x04
)

// CipherStream wraps a net.Conn so that Read transparently decrypts and
// Write transparently encrypts; the negotiator that runs against it never
// sees ciphertext.
type CipherStream struct {
	conn   net.Conn
	cipher *shadowcipher.Cipher
	buf    ioutilx.IOBuffer
}

// NewCipherStream builds the wrapper. The negotiator must be run against
// this stream, not the raw conn.
func NewCipherStream(conn net.Conn, cipher *shadowcipher.Cipher) *CipherStream {
	return &CipherStream{conn: conn, cipher: cipher}
}

// Read satisfies io.Reader, pulling fixed 32 KiB chunks off the socket and
// buffering decrypted plaintext until the caller's request is satisfied.
func (s *CipherStream) Read(p []byte) (int, error) {
	for s.buf.Len() == 0 {
		chunk := make([]byte, readChunkSize)
		n, err := s.conn.Read(chunk)
		if n > 0 {
			plaintexts, decErr := s.cipher.FeedAndDecrypt(chunk[:n])
			if decErr != nil {
				dlog.Warnf("shadowsocks: decrypt failure, dropping chunk: %v", decErr)
			}
			for _, pt := range plaintexts {
				s.buf.Append(pt)
			}
		}
		if err != nil {
			if s.buf.Len() > 0 {
				break
			}
			return 0, err
		}
	}
	return s.buf.Read(p), nil
}

// Write satisfies io.Writer, encrypting the entire write as a single
// sealed chunk before handing it to the socket.
func (s *CipherStream) Write(p []byte) (int, error) {
	sealed := s.cipher.Encrypt(p)
	if _, err := s.conn.Write(sealed); err != nil {
		return 0, fmt.Errorf("shadowsocks: writing ciphertext: %w", err)
	}
	return len(p), nil
}

// Close closes the underlying connection.
func (s *CipherStream) Close() error {
	return s.conn.Close()
}

// Target is the parsed CONNECT target from the Shadowsocks request header.
type Target struct {
	Addr string
	Port uint16
}

// BindFunc opens the tunnel for the parsed target.
type BindFunc func(target Target) error

// Negotiate reads the plaintext Shadowsocks request header directly (the
// caller must have already wrapped reader/writer in a CipherStream) and
// calls bind. There is no handshake reply on success or failure: any error
// here means the caller must silently close the ingress.
func Negotiate(r io.Reader, bind BindFunc) error {
	atypBuf := make([]byte, 1)
	if _, err := io.ReadFull(r, atypBuf); err != nil {
		return fmt.Errorf("shadowsocks: reading address type: %w", err)
	}

	var addr string
	switch atypBuf[0] {
	case atypIPv4:
		buf := make([]byte, 4)
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("shadowsocks: reading IPv4 address: %w", err)
		}
		addr = net.IP(buf).String()
	case atypIPv6:
		buf := make([]byte, 16)
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("shadowsocks: reading IPv6 address: %w", err)
		}
		addr = net.IP(buf).String()
	case atypDomain:
		lenBuf := make([]byte, 1)
		if _, err := io.ReadFull(r, lenBuf); err != nil {
			return fmt.Errorf("shadowsocks: reading domain length: %w", err)
		}
		buf := make([]byte, lenBuf[0])
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("shadowsocks: reading domain: %w", err)
		}
		addr = string(buf)
	default:
		return fmt.Errorf("shadowsocks: unsupported address type %d", atypBuf[0])
	}

	portBuf := make([]byte, 2)
	if _, err := io.ReadFull(r, portBuf); err != nil {
		return fmt.Errorf("shadowsocks: reading port: %w", err)
	}
	port := binary.BigEndian.Uint16(portBuf)

	if err := bind(Target{Addr: addr, Port: port}); err != nil {
		return fmt.Errorf("shadowsocks: bind failed: %w", err)
	}
	return nil
}
