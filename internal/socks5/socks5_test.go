package socks5

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"testing"
)

func TestNegotiateNoAuthConnectSuccess(t *testing.T) {
	var in bytes.Buffer
	in.Write([]byte{0x05, 0x01, 0x00})                                                       // greeting: NO_AUTH offered
	in.Write([]byte{0x05, 0x01, 0x00, 0x01, 0x7F, 0x00, 0x00, 0x01, 0x00, 0x50})               // CONNECT 127.0.0.1:80
	var out bytes.Buffer

	n := &Negotiator{}
	err := n.Negotiate(&in, &out, func(target Target, _ io.Reader) (*Bound, error) {
		if target.Addr != "127.0.0.1" || target.Port != 80 {
			t.Fatalf("unexpected target %+v", target)
		}
		return &Bound{IP: net.ParseIP("9.9.9.9"), Port: 43171}, nil
	})
	if err != nil {
		t.Fatal("Negotiate failed:", err)
	}

	// method-selection reply (2 bytes) + CONNECT reply (10 bytes)
	binPort := []byte{byte(43171 >> 8), byte(43171 & 0xFF)}
	want := append([]byte{0x05, 0x00}, 0x05, 0x00, 0x00, 0x01, 9, 9, 9, 9, binPort[0], binPort[1])
	if !bytes.Equal(out.Bytes(), want) {
		t.Fatalf("got reply % x, want % x", out.Bytes(), want)
	}
}

func TestNegotiateBadVersion(t *testing.T) {
	in := bytes.NewReader([]byte{0x04, 0x01, 0x00})
	var out bytes.Buffer

	n := &Negotiator{}
	err := n.Negotiate(in, &out, func(target Target, _ io.Reader) (*Bound, error) {
		t.Fatal("bind must not be called for a bad version greeting")
		return nil, nil
	})
	if err == nil {
		t.Fatal("expected error for bad version")
	}
	if !bytes.Equal(out.Bytes(), []byte{0x05, 0xFF}) {
		t.Fatalf("got reply % x, want 05 FF", out.Bytes())
	}
}

func TestNegotiateUsernamePasswordSuccess(t *testing.T) {
	var in bytes.Buffer
	in.Write([]byte{0x05, 0x01, 0x02})
	in.Write([]byte{0x01, 0x05, 'a', 'l', 'i', 'c', 'e', 0x06, 's', 'e', 'c', 'r', 'e', 't'})
	in.Write([]byte{0x05, 0x01, 0x00, 0x01, 0x7F, 0x00, 0x00, 0x01, 0x00, 0x50})
	var out bytes.Buffer

	n := &Negotiator{RequireAuth: true, Username: "alice", Password: "secret"}
	err := n.Negotiate(&in, &out, func(target Target, _ io.Reader) (*Bound, error) {
		return &Bound{IP: net.IPv4zero, Port: 0}, nil
	})
	if err != nil {
		t.Fatal("Negotiate failed:", err)
	}
	got := out.Bytes()
	if len(got) < 4 || !bytes.Equal(got[:2], []byte{0x05, 0x02}) || !bytes.Equal(got[2:4], []byte{0x01, 0x00}) {
		t.Fatalf("got reply % x, want prefix 05 02 01 00", got)
	}
}

func TestNegotiateUsernamePasswordMismatch(t *testing.T) {
	var in bytes.Buffer
	in.Write([]byte{0x05, 0x01, 0x02})
	in.Write([]byte{0x01, 0x05, 'a', 'l', 'i', 'c', 'e', 0x03, 'b', 'a', 'd'})
	var out bytes.Buffer

	n := &Negotiator{RequireAuth: true, Username: "alice", Password: "secret"}
	err := n.Negotiate(&in, &out, func(target Target, _ io.Reader) (*Bound, error) {
		t.Fatal("bind must not be called on auth failure")
		return nil, nil
	})
	if err == nil {
		t.Fatal("expected error for mismatched credentials")
	}
	got := out.Bytes()
	if len(got) < 4 || !bytes.Equal(got[2:4], []byte{0x01, 0x01}) {
		t.Fatalf("got reply % x, want suffix 01 01", got)
	}
}

func TestNegotiateHandsBackBufferedTrailingBytes(t *testing.T) {
	var in bytes.Buffer
	in.Write([]byte{0x05, 0x01, 0x00})
	in.Write([]byte{0x05, 0x01, 0x00, 0x01, 0x7F, 0x00, 0x00, 0x01, 0x00, 0x50})
	in.WriteString("pipelined application bytes")
	var out bytes.Buffer

	n := &Negotiator{}
	var gotTrailer []byte
	err := n.Negotiate(&in, &out, func(target Target, buffered io.Reader) (*Bound, error) {
		var readErr error
		gotTrailer, readErr = io.ReadAll(buffered)
		if readErr != nil {
			t.Fatal("reading buffered trailer failed:", readErr)
		}
		return &Bound{IP: net.IPv4zero, Port: 0}, nil
	})
	if err != nil {
		t.Fatal("Negotiate failed:", err)
	}
	if string(gotTrailer) != "pipelined application bytes" {
		t.Fatalf("buffered reader did not hand back pipelined bytes: got %q", gotTrailer)
	}
}

func TestNegotiateBindFailureIsGeneralFailure(t *testing.T) {
	var in bytes.Buffer
	in.Write([]byte{0x05, 0x01, 0x00})
	in.Write([]byte{0x05, 0x01, 0x00, 0x01, 0x7F, 0x00, 0x00, 0x01, 0x00, 0x01})
	var out bytes.Buffer

	n := &Negotiator{}
	err := n.Negotiate(&in, &out, func(target Target, _ io.Reader) (*Bound, error) {
		return nil, fmt.Errorf("connection refused")
	})
	if err == nil {
		t.Fatal("expected error when bind fails")
	}
	want := []byte{0x05, 0x00, 0x05, 0x01, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	if !bytes.Equal(out.Bytes(), want) {
		t.Fatalf("got reply % x, want % x", out.Bytes(), want)
	}
}
