package auth

import "testing"

func TestTokenCodecEncode(t *testing.T) {
	codec := NewTokenCodec(16)
	first, err := codec.Encode()
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	if len(first) != 32 {
		t.Fatalf("expected 32 hex characters for 16 bytes, got %d", len(first))
	}
	second, err := codec.Encode()
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	if first == second {
		t.Fatal("expected distinct tokens")
	}
}

func TestTokenCodecDecodeIsDeterministic(t *testing.T) {
	codec := NewTokenCodec(0)
	a, err := codec.Decode("some-token")
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	b, err := codec.Decode("some-token")
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if a != b {
		t.Fatal("expected deterministic decode")
	}
	if len(a) != 64 {
		t.Fatalf("expected a 64-character digest, got %d", len(a))
	}
	if a == "some-token" {
		t.Fatal("decode must not pass the token through")
	}
}

func TestTokenCodecRejectsEmptyToken(t *testing.T) {
	if _, err := NewTokenCodec(0).Decode(""); err == nil {
		t.Fatal("expected error for empty token")
	}
}
