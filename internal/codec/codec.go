// Package codec implements the relay's wire messages: obfuscation of the
// payload bytes and the three-frame packing used for every message type.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/detour-relay/detour/csrand"
	"github.com/detour-relay/detour/internal/swaps"
)

// Method names, the literal strings used on the wire.
const (
	MethodConnect = "CONNECT"
	MethodClose   = "CLOSE"
	MethodData    = "DATA"
)

// Default padding and fragmentation bounds.
const (
	MinPaddingLength = 320
	MaxPaddingLength = 648

	MinReceiveLength = 1024
	MaxReceiveLength = 4096
)

// DefaultToken is the shared ASCII token seeding the swap-alphabet pool.
const DefaultToken = "LzHAxq0KtWM"

// RelayRequest is the client->server control message.
type RelayRequest struct {
	Method     string
	Addr       string
	Port       uint16
	Padding    uint32
	Connection string
	Swaps      []byte
	DataObfs   []byte
	Data       []byte // plaintext payload, populated after Deobfuscate
}

// RelayResponse is the server->client control reply.
type RelayResponse struct {
	Method     string
	OK         bool
	Msg        string
	Addr       string
	Port       uint16
	Padding    uint32
	Connection string
	Swaps      []byte
	DataObfs   []byte
	Data       []byte
}

// RelayData is a bidirectional data-channel frame.
type RelayData struct {
	Method   string
	Padding  uint32
	EOS      bool
	Swaps    []byte
	DataObfs []byte
	Data     []byte
}

// Obfuscator picks swap alphabets from a precomputed pool and applies the
// padding/substitution obfuscation scheme.
type Obfuscator struct {
	pool *swaps.Pool
}

// NewObfuscator builds the process-wide swap pool from token.
func NewObfuscator(token string) (*Obfuscator, error) {
	pool, err := swaps.NewPool(token)
	if err != nil {
		return nil, fmt.Errorf("codec: building swap pool: %w", err)
	}
	return &Obfuscator{pool: pool}, nil
}

// Obfuscate implements the obfuscation algorithm: an empty
// payload is emitted with no swap alphabet and no padding; a short payload
// is padded up to somewhere in [MinPaddingLength, MaxPaddingLength] with a
// random prefix before substitution.
func (o *Obfuscator) Obfuscate(data []byte) (alphabet []byte, padding uint32, dataObfs []byte, err error) {
	if len(data) == 0 {
		return nil, 0, nil, nil
	}

	alphabet = o.pool.Random()
	table := swaps.New(alphabet)

	plain := data
	if len(data) < MinPaddingLength {
		lo := MinPaddingLength - len(data)
		hi := MaxPaddingLength - len(data)
		p := csrand.IntRange(lo, hi)
		prefix := make([]byte, p)
		if err := csrand.Bytes(prefix); err != nil {
			return nil, 0, nil, fmt.Errorf("codec: generating padding: %w", err)
		}
		plain = append(prefix, data...)
		padding = uint32(p)
	}

	return alphabet, padding, swaps.Translate(table, plain), nil
}

// Deobfuscate reverses Obfuscate: rebuild the translation table from the
// alphabet, undo the substitution, then drop the first `padding` bytes.
func Deobfuscate(alphabet []byte, padding uint32, dataObfs []byte) ([]byte, error) {
	if len(dataObfs) == 0 {
		return nil, nil
	}
	if err := ValidateAlphabet(alphabet); err != nil {
		return nil, err
	}
	if uint32(len(dataObfs)) < padding {
		return nil, fmt.Errorf("codec: padding %d exceeds obfuscated length %d", padding, len(dataObfs))
	}

	table := swaps.New(alphabet)
	plain := swaps.Translate(table, dataObfs)
	return plain[padding:], nil
}

// ValidateAlphabet checks the swap-alphabet invariant: a non-empty
// alphabet must have even length and no duplicate bytes.
func ValidateAlphabet(alphabet []byte) error {
	if len(alphabet) == 0 {
		return nil
	}
	if len(alphabet)%2 != 0 {
		return fmt.Errorf("codec: swap alphabet has odd length %d", len(alphabet))
	}
	seen := make(map[byte]bool, len(alphabet))
	for _, b := range alphabet {
		if seen[b] {
			return fmt.Errorf("codec: swap alphabet has duplicate byte 0x%02x", b)
		}
		seen[b] = true
	}
	return nil
}

// --- frame 0 (header) JSON encodings; field order is part of the wire format ---

func encodeHeader(fields ...interface{}) ([]byte, error) {
	b, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("codec: encoding header: %w", err)
	}
	return b, nil
}

func optionalString(present bool, s string) interface{} {
	if !present {
		return nil
	}
	return s
}

func optionalUint16(present bool, p uint16) interface{} {
	if !present {
		return nil
	}
	return p
}

// EncodeRelayRequest packs a RelayRequest into its three wire frames.
func EncodeRelayRequest(r *RelayRequest) ([][]byte, error) {
	isConnect := r.Method == MethodConnect
	header, err := encodeHeader(r.Method, optionalString(isConnect, r.Addr), optionalUint16(isConnect, r.Port), r.Padding, optionalString(r.Connection != "", r.Connection))
	if err != nil {
		return nil, err
	}
	return [][]byte{header, r.Swaps, r.DataObfs}, nil
}

// DecodeRelayRequest unpacks a RelayRequest from its three wire frames.
func DecodeRelayRequest(frames [][]byte) (*RelayRequest, error) {
	if len(frames) != 3 {
		return nil, fmt.Errorf("codec: RelayRequest wants 3 frames, got %d", len(frames))
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(frames[0], &raw); err != nil {
		return nil, fmt.Errorf("codec: decoding RelayRequest header: %w", err)
	}
	if len(raw) != 5 {
		return nil, fmt.Errorf("codec: RelayRequest header wants 5 fields, got %d", len(raw))
	}

	r := &RelayRequest{Swaps: frames[1], DataObfs: frames[2]}
	if err := json.Unmarshal(raw[0], &r.Method); err != nil {
		return nil, fmt.Errorf("codec: decoding method: %w", err)
	}
	_ = json.Unmarshal(raw[1], &r.Addr)
	var port *uint16
	_ = json.Unmarshal(raw[2], &port)
	if port != nil {
		r.Port = *port
	}
	if err := json.Unmarshal(raw[3], &r.Padding); err != nil {
		return nil, fmt.Errorf("codec: decoding padding: %w", err)
	}
	_ = json.Unmarshal(raw[4], &r.Connection)

	return r, nil
}

// EncodeRelayResponse packs a RelayResponse into its three wire frames.
func EncodeRelayResponse(r *RelayResponse) ([][]byte, error) {
	header, err := encodeHeader(r.Method, r.OK, r.Msg, optionalString(r.Addr != "", r.Addr), optionalUint16(r.Addr != "", r.Port), r.Padding, optionalString(r.Connection != "", r.Connection))
	if err != nil {
		return nil, err
	}
	return [][]byte{header, r.Swaps, r.DataObfs}, nil
}

// DecodeRelayResponse unpacks a RelayResponse from its three wire frames.
func DecodeRelayResponse(frames [][]byte) (*RelayResponse, error) {
	if len(frames) != 3 {
		return nil, fmt.Errorf("codec: RelayResponse wants 3 frames, got %d", len(frames))
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(frames[0], &raw); err != nil {
		return nil, fmt.Errorf("codec: decoding RelayResponse header: %w", err)
	}
	if len(raw) != 7 {
		return nil, fmt.Errorf("codec: RelayResponse header wants 7 fields, got %d", len(raw))
	}

	r := &RelayResponse{Swaps: frames[1], DataObfs: frames[2]}
	if err := json.Unmarshal(raw[0], &r.Method); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw[1], &r.OK); err != nil {
		return nil, err
	}
	_ = json.Unmarshal(raw[2], &r.Msg)
	_ = json.Unmarshal(raw[3], &r.Addr)
	var port *uint16
	_ = json.Unmarshal(raw[4], &port)
	if port != nil {
		r.Port = *port
	}
	if err := json.Unmarshal(raw[5], &r.Padding); err != nil {
		return nil, err
	}
	_ = json.Unmarshal(raw[6], &r.Connection)

	return r, nil
}

// EncodeRelayData packs a RelayData into its three wire frames.
func EncodeRelayData(d *RelayData) ([][]byte, error) {
	header, err := encodeHeader(d.Method, d.Padding, d.EOS)
	if err != nil {
		return nil, err
	}
	return [][]byte{header, d.Swaps, d.DataObfs}, nil
}

// DecodeRelayData unpacks a RelayData from its three wire frames.
func DecodeRelayData(frames [][]byte) (*RelayData, error) {
	if len(frames) != 3 {
		return nil, fmt.Errorf("codec: RelayData wants 3 frames, got %d", len(frames))
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(frames[0], &raw); err != nil {
		return nil, fmt.Errorf("codec: decoding RelayData header: %w", err)
	}
	if len(raw) != 3 {
		return nil, fmt.Errorf("codec: RelayData header wants 3 fields, got %d", len(raw))
	}

	d := &RelayData{Swaps: frames[1], DataObfs: frames[2]}
	if err := json.Unmarshal(raw[0], &d.Method); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw[1], &d.Padding); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw[2], &d.EOS); err != nil {
		return nil, err
	}

	return d, nil
}
