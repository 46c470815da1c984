package relay

import (
	"fmt"

	"github.com/detour-relay/detour/internal/codec"
	"github.com/detour-relay/detour/internal/wire"
)

// DataChannel is the per-session data socket: a PAIR-style exclusive
// bidirectional transport carrying obfuscated RelayData frames.
type DataChannel struct {
	conn *wire.Conn
	obfs *codec.Obfuscator
}

// NewDataChannel wraps a freshly connected/accepted data socket.
func NewDataChannel(conn *wire.Conn, obfs *codec.Obfuscator) *DataChannel {
	return &DataChannel{conn: conn, obfs: obfs}
}

// Close closes the underlying socket with linger=0 so teardown doesn't block.
func (c *DataChannel) Close() {
	c.conn.SetLinger()
	_ = c.conn.Close()
}

// SendData obfuscates d.Data (if any) and writes the three-frame RelayData
// message.
func (c *DataChannel) SendData(d *codec.RelayData) error {
	alphabet, padding, dataObfs, err := c.obfs.Obfuscate(d.Data)
	if err != nil {
		return fmt.Errorf("relay: obfuscating data frame: %w", err)
	}
	d.Swaps, d.Padding, d.DataObfs = alphabet, padding, dataObfs

	frames, err := codec.EncodeRelayData(d)
	if err != nil {
		return fmt.Errorf("relay: encoding data frame: %w", err)
	}
	if err := c.conn.SendMulti(frames); err != nil {
		return fmt.Errorf("relay: sending data frame: %w", err)
	}
	return nil
}

// RecvData reads and deobfuscates one RelayData frame.
func (c *DataChannel) RecvData() (*codec.RelayData, error) {
	frames, err := c.conn.RecvMulti()
	if err != nil {
		return nil, err
	}
	d, err := codec.DecodeRelayData(frames)
	if err != nil {
		return nil, fmt.Errorf("relay: decoding data frame: %w", err)
	}
	data, err := codec.Deobfuscate(d.Swaps, d.Padding, d.DataObfs)
	if err != nil {
		return nil, fmt.Errorf("relay: deobfuscating data frame: %w", err)
	}
	d.Data = data
	return d, nil
}
