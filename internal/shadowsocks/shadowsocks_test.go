package shadowsocks

import (
	"bytes"
	"testing"
)

func TestNegotiateDomainTarget(t *testing.T) {
	var header bytes.Buffer
	header.WriteByte(atypDomain)
	domain := "example.com"
	header.WriteByte(byte(len(domain)))
	header.WriteString(domain)
	header.Write([]byte{0x00, 0x50}) // port 80

	var gotTarget Target
	err := Negotiate(&header, func(target Target) error {
		gotTarget = target
		return nil
	})
	if err != nil {
		t.Fatal("Negotiate failed:", err)
	}
	if gotTarget.Addr != domain || gotTarget.Port != 80 {
		t.Fatalf("unexpected target %+v", gotTarget)
	}
}

func TestNegotiateIPv4Target(t *testing.T) {
	var header bytes.Buffer
	header.WriteByte(atypIPv4)
	header.Write([]byte{127, 0, 0, 1})
	header.Write([]byte{0x01, 0xBB}) // port 443

	err := Negotiate(&header, func(target Target) error {
		if target.Addr != "127.0.0.1" || target.Port != 443 {
			t.Fatalf("unexpected target %+v", target)
		}
		return nil
	})
	if err != nil {
		t.Fatal("Negotiate failed:", err)
	}
}

func TestNegotiatePropagatesBindFailure(t *testing.T) {
	var header bytes.Buffer
	header.WriteByte(atypIPv4)
	header.Write([]byte{0, 0, 0, 0})
	header.Write([]byte{0, 0})

	err := Negotiate(&header, func(target Target) error {
		return bytes.ErrTooLarge
	})
	if err == nil {
		t.Fatal("expected bind failure to propagate")
	}
}
