package swaps

import "testing"

func TestNewTranslateInvolution(t *testing.T) {
	pool, err := NewPool("token")
	if err != nil {
		t.Fatal("NewPool failed:", err)
	}
	alphabet := pool.Random()
	if len(alphabet)%2 != 0 {
		t.Fatalf("alphabet has odd length %d", len(alphabet))
	}

	table := New(alphabet)
	msg := []byte("the quick brown fox jumps over the lazy dog")
	once := Translate(table, msg)
	twice := Translate(table, once)
	if string(twice) != string(msg) {
		t.Fatalf("translate is not an involution: got %q, want %q", twice, msg)
	}
}

func TestGenerateNoDuplicates(t *testing.T) {
	alphabet, err := generate("LzHAxq0KtWM")
	if err != nil {
		t.Fatal("generate failed:", err)
	}
	if len(alphabet)%2 != 0 {
		t.Fatalf("generated alphabet has odd length %d", len(alphabet))
	}
	seen := make(map[byte]bool)
	for _, b := range alphabet {
		if seen[b] {
			t.Fatalf("duplicate byte 0x%02x in generated alphabet", b)
		}
		seen[b] = true
	}
}

func TestPoolRandomWithinBounds(t *testing.T) {
	pool, err := NewPool("token")
	if err != nil {
		t.Fatal("NewPool failed:", err)
	}
	for i := 0; i < 20; i++ {
		a := pool.Random()
		if a == nil {
			t.Fatal("Random returned nil alphabet")
		}
	}
}
