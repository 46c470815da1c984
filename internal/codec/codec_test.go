package codec

import "testing"

func TestObfuscateDeobfuscateRoundTrip(t *testing.T) {
	obfs, err := NewObfuscator(DefaultToken)
	if err != nil {
		t.Fatal("NewObfuscator failed:", err)
	}

	for _, data := range [][]byte{
		nil,
		[]byte("short"),
		[]byte("this message is long enough that it should not need any padding at all because it already exceeds the minimum padding length threshold by a wide margin"),
	} {
		alphabet, padding, dataObfs, err := obfs.Obfuscate(data)
		if err != nil {
			t.Fatal("Obfuscate failed:", err)
		}
		got, err := Deobfuscate(alphabet, padding, dataObfs)
		if err != nil {
			t.Fatal("Deobfuscate failed:", err)
		}
		if len(data) == 0 && len(got) != 0 {
			t.Fatalf("round-trip of empty data produced %q", got)
		}
		if len(data) > 0 && string(got) != string(data) {
			t.Fatalf("round-trip mismatch: got %q, want %q", got, data)
		}
	}
}

func TestObfuscatePadsShortMessages(t *testing.T) {
	obfs, err := NewObfuscator(DefaultToken)
	if err != nil {
		t.Fatal("NewObfuscator failed:", err)
	}

	data := []byte("short message")
	_, padding, dataObfs, err := obfs.Obfuscate(data)
	if err != nil {
		t.Fatal("Obfuscate failed:", err)
	}
	total := int(padding) + len(data)
	if total < MinPaddingLength || total > MaxPaddingLength {
		t.Fatalf("padded length %d outside [%d, %d]", total, MinPaddingLength, MaxPaddingLength)
	}
	if len(dataObfs) != total {
		t.Fatalf("data_obfs length %d does not match padding+data %d", len(dataObfs), total)
	}
}

func TestValidateAlphabetRejectsOddLength(t *testing.T) {
	if err := ValidateAlphabet([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for odd-length alphabet")
	}
}

func TestValidateAlphabetRejectsDuplicates(t *testing.T) {
	if err := ValidateAlphabet([]byte{1, 2, 1, 2}); err == nil {
		t.Fatal("expected error for duplicate bytes")
	}
}

func TestRelayRequestHeaderFieldOrder(t *testing.T) {
	req := &RelayRequest{Method: MethodConnect, Addr: "example.com", Port: 80, Padding: 12, Swaps: []byte{1, 2}, DataObfs: []byte{3, 4}}
	frames, err := EncodeRelayRequest(req)
	if err != nil {
		t.Fatal("EncodeRelayRequest failed:", err)
	}
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	if want := `["CONNECT","example.com",80,12,null]`; string(frames[0]) != want {
		t.Fatalf("header frame %s, want %s", frames[0], want)
	}

	got, err := DecodeRelayRequest(frames)
	if err != nil {
		t.Fatal("DecodeRelayRequest failed:", err)
	}
	if got.Method != req.Method || got.Addr != req.Addr || got.Port != req.Port || got.Padding != req.Padding {
		t.Fatalf("decoded request mismatch: %+v", got)
	}
}

func TestRelayDataHeaderRoundTrip(t *testing.T) {
	d := &RelayData{Method: MethodData, Padding: 5, EOS: true, Swaps: []byte{9, 8}, DataObfs: []byte("x")}
	frames, err := EncodeRelayData(d)
	if err != nil {
		t.Fatal("EncodeRelayData failed:", err)
	}
	got, err := DecodeRelayData(frames)
	if err != nil {
		t.Fatal("DecodeRelayData failed:", err)
	}
	if got.Method != d.Method || got.Padding != d.Padding || got.EOS != d.EOS {
		t.Fatalf("decoded data frame mismatch: %+v", got)
	}
}
