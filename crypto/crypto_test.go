package crypto

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func testKey(b byte) string {
	key := make([]byte, 32)
	for i := range key {
		key[i] = b + byte(i)
	}
	return base64.StdEncoding.EncodeToString(key)
}

func TestNewAESSealer(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr string
	}{
		{"valid", testKey(1), ""},
		{"empty", "", "empty"},
		{"not base64", "!!!not-base64!!!", "base64"},
		{"short key", base64.StdEncoding.EncodeToString([]byte("too-short")), "32 bytes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewAESSealer(tt.key)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if len(s.KeyID()) != 8 {
					t.Errorf("KeyID() = %q, want 8 hex chars", s.KeyID())
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	s, err := NewAESSealer(testKey(1))
	if err != nil {
		t.Fatal(err)
	}
	for _, plain := range []string{"access-token-123", "üñíçødé", strings.Repeat("x", 4096)} {
		sealed, err := s.Seal(plain)
		if err != nil {
			t.Fatalf("Seal: %v", err)
		}
		if sealed == plain || strings.Contains(sealed, plain) {
			t.Fatalf("sealed value leaks plaintext")
		}
		got, err := s.Open(sealed)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if got != plain {
			t.Errorf("Open() = %q, want %q", got, plain)
		}
	}
}

func TestSealUsesFreshNonce(t *testing.T) {
	s, _ := NewAESSealer(testKey(1))
	a, _ := s.Seal("same")
	b, _ := s.Seal("same")
	if a == b {
		t.Error("two seals of the same plaintext should differ")
	}
}

func TestEmptyValuesPassThrough(t *testing.T) {
	s, _ := NewAESSealer(testKey(1))
	if v, err := s.Seal(""); v != "" || err != nil {
		t.Errorf("Seal(\"\") = %q, %v", v, err)
	}
	if v, err := s.Open(""); v != "" || err != nil {
		t.Errorf("Open(\"\") = %q, %v", v, err)
	}
}

func TestOpenRejectsTampering(t *testing.T) {
	s, _ := NewAESSealer(testKey(1))
	sealed, _ := s.Seal("secret")
	raw, _ := base64.StdEncoding.DecodeString(sealed)
	raw[len(raw)-1] ^= 0xff
	if _, err := s.Open(base64.StdEncoding.EncodeToString(raw)); err == nil {
		t.Error("expected tampered ciphertext to fail")
	}
	if _, err := s.Open(base64.StdEncoding.EncodeToString([]byte("tiny"))); err == nil {
		t.Error("expected short ciphertext to fail")
	}
	if _, err := s.Open("%%%"); err == nil {
		t.Error("expected invalid base64 to fail")
	}
}

func TestOpenWithKeyID(t *testing.T) {
	s1, _ := NewAESSealer(testKey(1))
	s2, _ := NewAESSealer(testKey(2))
	if s1.KeyID() == s2.KeyID() {
		t.Fatal("distinct keys should have distinct ids")
	}
	sealed, _ := s1.Seal("secret")

	if got, err := OpenWithKeyID(s1, sealed, s1.KeyID()); err != nil || got != "secret" {
		t.Errorf("OpenWithKeyID(matching) = %q, %v", got, err)
	}
	if got, err := OpenWithKeyID(s1, sealed, "default"); err != nil || got != "secret" {
		t.Errorf("OpenWithKeyID(legacy) = %q, %v", got, err)
	}
	if _, err := OpenWithKeyID(s2, sealed, s1.KeyID()); !errors.Is(err, ErrKeyMismatch) {
		t.Errorf("OpenWithKeyID(other key) error = %v, want ErrKeyMismatch", err)
	}
}
