package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func newKey(t *testing.T) string {
	t.Helper()
	k := make([]byte, 32)
	if _, err := rand.Read(k); err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(k)
}

func TestSealOpenRoundTrip(t *testing.T) {
	s, err := NewAESSealer(newKey(t))
	if err != nil {
		t.Fatal(err)
	}
	for _, in := range []string{"", "oauth:abc123", strings.Repeat("x", 4096)} {
		sealed, err := s.Seal(in)
		if err != nil {
			t.Fatalf("seal %q: %v", in, err)
		}
		if in != "" && sealed == in {
			t.Fatalf("sealed value equals plaintext")
		}
		got, err := s.Open(sealed)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if got != in {
			t.Errorf("round trip = %q, want %q", got, in)
		}
	}
}

func TestSealUsesFreshNonce(t *testing.T) {
	s, _ := NewAESSealer(newKey(t))
	a, _ := s.Seal("token")
	b, _ := s.Seal("token")
	if a == b {
		t.Error("two seals of the same value must differ")
	}
}

func TestOpenRejectsTamperingAndWrongKey(t *testing.T) {
	s, _ := NewAESSealer(newKey(t))
	other, _ := NewAESSealer(newKey(t))
	sealed, _ := s.Seal("token")

	if _, err := other.Open(sealed); !errors.Is(err, ErrOpen) {
		t.Errorf("wrong key err = %v, want ErrOpen", err)
	}

	raw, _ := base64.StdEncoding.DecodeString(sealed)
	raw[len(raw)-1] ^= 0xff
	if _, err := s.Open(base64.StdEncoding.EncodeToString(raw)); !errors.Is(err, ErrOpen) {
		t.Errorf("tampered err = %v, want ErrOpen", err)
	}
	if _, err := s.Open(base64.StdEncoding.EncodeToString([]byte("short"))); !errors.Is(err, ErrOpen) {
		t.Errorf("short err = %v, want ErrOpen", err)
	}
	if _, err := s.Open("%%%"); err == nil {
		t.Error("invalid base64 must fail")
	}
}

func TestNewAESSealerValidatesKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"not base64", "!!!"},
		{"short", base64.StdEncoding.EncodeToString([]byte("too short"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewAESSealer(tt.key); err == nil {
				t.Error("expected error")
			}
		})
	}
}
