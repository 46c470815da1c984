package relay

import (
	"fmt"

	"github.com/detour-relay/detour/internal/codec"
	"github.com/detour-relay/detour/internal/wire"
)

// SendRequest obfuscates (if req carries a data payload) and writes a
// RelayRequest on the control socket.
func SendRequest(conn *wire.Conn, obfs *codec.Obfuscator, req *codec.RelayRequest) error {
	alphabet, padding, dataObfs, err := obfs.Obfuscate(req.Data)
	if err != nil {
		return fmt.Errorf("relay: obfuscating request: %w", err)
	}
	req.Swaps, req.Padding, req.DataObfs = alphabet, padding, dataObfs

	frames, err := codec.EncodeRelayRequest(req)
	if err != nil {
		return fmt.Errorf("relay: encoding request: %w", err)
	}
	if err := conn.SendMulti(frames); err != nil {
		return fmt.Errorf("relay: sending request: %w", err)
	}
	return nil
}

// RecvRequest reads and deobfuscates a RelayRequest.
func RecvRequest(conn *wire.Conn) (*codec.RelayRequest, error) {
	frames, err := conn.RecvMulti()
	if err != nil {
		return nil, err
	}
	req, err := codec.DecodeRelayRequest(frames)
	if err != nil {
		return nil, fmt.Errorf("relay: decoding request: %w", err)
	}
	data, err := codec.Deobfuscate(req.Swaps, req.Padding, req.DataObfs)
	if err != nil {
		return nil, fmt.Errorf("relay: deobfuscating request: %w", err)
	}
	req.Data = data
	return req, nil
}

// SendResponse obfuscates and writes a RelayResponse on the control socket.
func SendResponse(conn *wire.Conn, obfs *codec.Obfuscator, resp *codec.RelayResponse) error {
	alphabet, padding, dataObfs, err := obfs.Obfuscate(resp.Data)
	if err != nil {
		return fmt.Errorf("relay: obfuscating response: %w", err)
	}
	resp.Swaps, resp.Padding, resp.DataObfs = alphabet, padding, dataObfs

	frames, err := codec.EncodeRelayResponse(resp)
	if err != nil {
		return fmt.Errorf("relay: encoding response: %w", err)
	}
	if err := conn.SendMulti(frames); err != nil {
		return fmt.Errorf("relay: sending response: %w", err)
	}
	return nil
}

// RecvResponse reads and deobfuscates a RelayResponse.
func RecvResponse(conn *wire.Conn) (*codec.RelayResponse, error) {
	frames, err := conn.RecvMulti()
	if err != nil {
		return nil, err
	}
	resp, err := codec.DecodeRelayResponse(frames)
	if err != nil {
		return nil, fmt.Errorf("relay: decoding response: %w", err)
	}
	data, err := codec.Deobfuscate(resp.Swaps, resp.Padding, resp.DataObfs)
	if err != nil {
		return nil, fmt.Errorf("relay: deobfuscating response: %w", err)
	}
	resp.Data = data
	return resp, nil
}
