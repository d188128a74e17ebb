package sealer

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newSealer(t *testing.T) *Sealer {
	t.Helper()
	s, err := New(bytes.Repeat([]byte{7}, KeyLen))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNew_BadKey(t *testing.T) {
	t.Parallel()
	if _, err := New([]byte("short")); !errors.Is(err, ErrBadKey) {
		t.Fatalf("want ErrBadKey, got %v", err)
	}
}

func TestSealOpen_RoundTrip(t *testing.T) {
	t.Parallel()
	s := newSealer(t)

	blob, err := s.Seal("user-1", []byte(`{"active":true}`))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	pt, err := s.Open("user-1", blob)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(pt) != `{"active":true}` {
		t.Fatalf("plaintext mismatch: %s", pt)
	}

	again, _ := s.Seal("user-1", []byte(`{"active":true}`))
	if bytes.Equal(blob, again) {
		t.Fatalf("nonce reuse: identical blobs")
	}
}

func TestOpen_RejectsTamperAndScopeSwap(t *testing.T) {
	t.Parallel()
	s := newSealer(t)

	blob, err := s.Seal("user-1", []byte("payload"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := s.Open("user-2", blob); !errors.Is(err, ErrOpen) {
		t.Fatalf("want ErrOpen on scope swap, got %v", err)
	}

	bad := append([]byte(nil), blob...)
	bad[len(bad)-1] ^= 0xFF
	if _, err := s.Open("user-1", bad); !errors.Is(err, ErrOpen) {
		t.Fatalf("want ErrOpen on tamper, got %v", err)
	}
	if _, err := s.Open("user-1", []byte{1, 2, 3}); !errors.Is(err, ErrOpen) {
		t.Fatalf("want ErrOpen on short blob, got %v", err)
	}

	other, _ := New(bytes.Repeat([]byte{8}, KeyLen))
	if _, err := other.Open("user-1", blob); !errors.Is(err, ErrOpen) {
		t.Fatalf("want ErrOpen with other device key, got %v", err)
	}
}

func TestLoadOrCreateKey(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "device.key")

	k1, err := LoadOrCreateKey(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(k1) != KeyLen {
		t.Fatalf("len=%d", len(k1))
	}
	st, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if st.Mode().Perm() != 0o600 {
		t.Fatalf("perm=%v", st.Mode().Perm())
	}

	k2, err := LoadOrCreateKey(path)
	if err != nil || !bytes.Equal(k1, k2) {
		t.Fatalf("reload mismatch: %v", err)
	}

	if err := os.WriteFile(path, []byte("bad"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadOrCreateKey(path); !errors.Is(err, ErrBadKey) {
		t.Fatalf("want ErrBadKey, got %v", err)
	}
}
