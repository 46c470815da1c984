package relay

import (
	"net"
	"testing"
	"time"

	"github.com/detour-relay/detour/internal/codec"
	"github.com/detour-relay/detour/internal/wire"
)

// newTestSession builds a Session backed by a real (in-memory) pipe
// connection so Close can safely tear down the underlying DataChannel.
func newTestSession(url string) *Session {
	obfs, err := codec.NewObfuscator(codec.DefaultToken)
	if err != nil {
		panic(err)
	}
	a, _ := net.Pipe()
	channel := NewDataChannel(wire.NewConn(a, codec.DefaultToken), obfs)
	return NewSession(url, channel, nil)
}

func TestRegistryInsertGetRemove(t *testing.T) {
	r := NewRegistry()
	s := newTestSession("tcp://1.2.3.4:5000")
	r.Insert(s)

	got, ok := r.Get(s.URL)
	if !ok || got != s {
		t.Fatal("Get did not return the inserted session")
	}

	r.Remove(s.URL)
	if _, ok := r.Get(s.URL); ok {
		t.Fatal("session still present after Remove")
	}
}

func TestHousekeeperReapsIdleSessions(t *testing.T) {
	r := NewRegistry()
	s := newTestSession("tcp://1.2.3.4:5000")
	s.lastActivityNano = time.Now().Add(-time.Minute).UnixNano()
	r.Insert(s)

	hk := NewHousekeeper(r, time.Millisecond, 10*time.Millisecond)
	hk.Start()
	defer hk.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := r.Get(s.URL); !ok {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("idle session was not reaped within the deadline")
}

func TestHousekeeperKeepsActiveSessions(t *testing.T) {
	r := NewRegistry()
	s := newTestSession("tcp://1.2.3.4:5000")
	r.Insert(s)

	hk := NewHousekeeper(r, time.Millisecond, time.Hour)
	hk.Start()
	time.Sleep(20 * time.Millisecond)
	hk.Stop()

	if _, ok := r.Get(s.URL); !ok {
		t.Fatal("active session was reaped")
	}
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	s := newTestSession("tcp://1.2.3.4:5000")
	s.Close()
	s.Close() // must not panic or double-invoke onClose synchronously
}
