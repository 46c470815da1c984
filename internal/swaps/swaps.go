// Package swaps implements the byte-substitution alphabets used to obscure
// relay payloads. The precomputed pool mirrors a table-of-precomputed-
// candidates idiom, swapping a probability table for an alphabet pool.
package swaps

import (
	"github.com/detour-relay/detour/csrand"
)

const (
	// PoolSize is the number of candidate alphabets generated at startup.
	PoolSize = 1000

	// sampleLength is the number of random bytes mixed into each candidate.
	sampleLength = 16

	seedPrefix = "aeiou"
)

// Table is a byte substitution table: Table[b] is what b translates to.
// Because every pair swaps[i] <-> swaps[len-1-i], Table is its own inverse.
type Table [256]byte

// New builds the translation table defined by an alphabet. Bytes outside
// the alphabet map to themselves.
func New(alphabet []byte) Table {
	var t Table
	for i := 0; i < 256; i++ {
		t[i] = byte(i)
	}
	n := len(alphabet)
	for i := 0; i < n; i++ {
		t[alphabet[i]] = alphabet[n-1-i]
	}
	return t
}

// Translate applies the substitution table to every byte of src, returning
// a new slice. The table is an involution, so calling Translate twice with
// the same table recovers the original bytes.
func Translate(t Table, src []byte) []byte {
	out := make([]byte, len(src))
	for i, b := range src {
		out[i] = t[b]
	}
	return out
}

// generate samples one candidate alphabet: "aeiou" + token + L random
// bytes, deduplicated in encounter order, trimmed to even length.
func generate(token string) ([]byte, error) {
	raw := make([]byte, sampleLength)
	if err := csrand.Bytes(raw); err != nil {
		return nil, err
	}

	candidate := make([]byte, 0, len(seedPrefix)+len(token)+sampleLength)
	candidate = append(candidate, seedPrefix...)
	candidate = append(candidate, token...)
	candidate = append(candidate, raw...)

	seen := make(map[byte]bool, len(candidate))
	deduped := make([]byte, 0, len(candidate))
	for _, b := range candidate {
		if seen[b] {
			continue
		}
		seen[b] = true
		deduped = append(deduped, b)
	}
	if len(deduped)%2 != 0 {
		deduped = deduped[:len(deduped)-1]
	}
	return deduped, nil
}

// Pool is the process-wide set of precomputed candidate alphabets a sender
// picks from uniformly at random. It is built once at startup and never
// mutated afterward, so it is safe to share read-only across goroutines.
type Pool struct {
	alphabets [][]byte
}

// NewPool generates PoolSize candidate alphabets seeded from token.
func NewPool(token string) (*Pool, error) {
	p := &Pool{alphabets: make([][]byte, 0, PoolSize)}
	for i := 0; i < PoolSize; i++ {
		a, err := generate(token)
		if err != nil {
			return nil, err
		}
		p.alphabets = append(p.alphabets, a)
	}
	return p, nil
}

// Random returns a uniformly chosen alphabet from the pool.
func (p *Pool) Random() []byte {
	idx := csrand.IntRange(0, len(p.alphabets)-1)
	return p.alphabets[idx]
}
