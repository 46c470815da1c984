package relay

import (
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/detour-relay/detour/csrand"
	"github.com/detour-relay/detour/internal/codec"
	"github.com/detour-relay/detour/internal/dlog"
)

// isReset reports whether err looks like a peer reset rather than a
// generic transport error: it terminates the affected direction silently
// instead of logging at warning level.
func isReset(err error) bool {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE)
}

// RunSplitForward reads up to readChunkSize bytes at a time from src,
// fragments each read into random sub-chunks in
// [codec.MinReceiveLength, codec.MaxReceiveLength], tags the last
// sub-chunk with eos, and sends each as a RelayData frame on ch. On clean
// EOF it sends a single RelayData{CLOSE} and returns nil. Every successful
// send calls touch(). This implements both the client's ingress-to-tunnel
// uplink and the server's upstream-to-tunnel forwarder.
func RunSplitForward(src io.Reader, readChunkSize int, ch *DataChannel, touch func()) error {
	buf := make([]byte, readChunkSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if sendErr := sendFragments(buf[:n], ch, touch); sendErr != nil {
				return sendErr
			}
		}
		if err != nil {
			if err == io.EOF {
				_ = ch.SendData(&codec.RelayData{Method: codec.MethodClose})
				return nil
			}
			if isReset(err) {
				return nil
			}
			dlog.Warnf("relay: forward read error: %v", err)
			return err
		}
	}
}

func sendFragments(data []byte, ch *DataChannel, touch func()) error {
	for len(data) > 0 {
		size := csrand.IntRange(codec.MinReceiveLength, codec.MaxReceiveLength)
		if size > len(data) {
			size = len(data)
		}
		chunk := data[:size]
		data = data[size:]
		eos := len(data) == 0

		if err := ch.SendData(&codec.RelayData{Method: codec.MethodData, EOS: eos, Data: chunk}); err != nil {
			return err
		}
		touch()
	}
	return nil
}

// RunReassembleForward reads RelayData frames from ch, appending fragment
// payloads until a frame with EOS=true arrives, then performs a single
// write of the concatenated buffer to dst (required for Shadowsocks AEAD,
// which expects one complete application packet per write, and harmless
// for plain SOCKS5 sockets). A CLOSE frame is echoed back and ends the
// loop; a CLOSE that interrupts a partial burst is tolerated by simply
// discarding the unterminated buffer. Every successful write calls touch().
func RunReassembleForward(ch *DataChannel, dst io.Writer, touch func()) error {
	var pending []byte
	for {
		frame, err := ch.RecvData()
		if err != nil {
			if isReset(err) {
				return nil
			}
			return err
		}

		switch frame.Method {
		case codec.MethodClose:
			_ = ch.SendData(&codec.RelayData{Method: codec.MethodClose})
			return nil
		case codec.MethodData:
			pending = append(pending, frame.Data...)
			if frame.EOS {
				if _, err := dst.Write(pending); err != nil {
					if isReset(err) {
						return nil
					}
					return err
				}
				touch()
				pending = nil
			}
		default:
			dlog.Warnf("relay: unexpected data-frame method %q", frame.Method)
		}
	}
}
