package wire

import (
	"net"
	"testing"
)

func TestSendRecvMultiRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	connA := NewConn(a, "token")
	connB := NewConn(b, "token")

	frames := [][]byte{
		[]byte(`["CONNECT","example.com",80,0,null]`),
		{1, 2, 3, 4},
		[]byte("obfuscated payload"),
	}

	done := make(chan error, 1)
	go func() {
		done <- connA.SendMulti(frames)
	}()

	got, err := connB.RecvMulti()
	if err != nil {
		t.Fatal("RecvMulti failed:", err)
	}
	if err := <-done; err != nil {
		t.Fatal("SendMulti failed:", err)
	}

	if len(got) != len(frames) {
		t.Fatalf("got %d frames, want %d", len(got), len(frames))
	}
	for i := range frames {
		if string(got[i]) != string(frames[i]) {
			t.Fatalf("frame %d mismatch: got %q, want %q", i, got[i], frames[i])
		}
	}
}

func TestSendMultiRejectsTooManyFrames(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	connA := NewConn(a, "token")
	frames := make([][]byte, 256)
	for i := range frames {
		frames[i] = []byte{byte(i)}
	}
	if err := connA.SendMulti(frames); err == nil {
		t.Fatal("expected error for 256 frames")
	}
}

func TestLengthMaskerVariesAcrossFrames(t *testing.T) {
	m := newLengthMasker(deriveKey("token"))
	first := m.next()
	second := m.next()
	if first == second {
		t.Fatal("consecutive masks should differ since the counter advances")
	}
}
