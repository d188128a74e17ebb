package crypto

import (
	"bytes"
	"strings"
	"testing"
)

func TestRandBytes_LengthAndUniqueness(t *testing.T) {
	t.Parallel()

	const n = 64
	a, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes: %v", err)
	}
	if len(a) != n {
		t.Fatalf("len=%d, want=%d", len(a), n)
	}
	b, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes(2): %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatalf("two subsequent RandBytes(%d) are equal, looks non-random", n)
	}
}

func TestHashPassword_SaltedEncoding(t *testing.T) {
	t.Parallel()

	pw := []byte("p@ssw0rd")
	h1, err := HashPassword(pw)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	h2, err := HashPassword(pw)
	if err != nil {
		t.Fatalf("HashPassword(2): %v", err)
	}
	if !strings.HasPrefix(h1, "$argon2id$v=19$m=65536,t=3,p=1$") {
		t.Fatalf("unexpected encoding: %s", h1)
	}
	if h1 == h2 {
		t.Fatalf("hashes of the same password must differ by salt")
	}
}

func TestVerifyPassword(t *testing.T) {
	t.Parallel()

	pw := []byte("correct horse battery staple")
	hash, err := HashPassword(pw)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}

	ok, err := VerifyPassword(pw, hash)
	if err != nil || !ok {
		t.Fatalf("VerifyPassword correct: ok=%v err=%v", ok, err)
	}
	ok, err = VerifyPassword([]byte("wrong"), hash)
	if err != nil || ok {
		t.Fatalf("VerifyPassword wrong: ok=%v err=%v", ok, err)
	}
	ok, err = VerifyPassword([]byte{}, hash)
	if err != nil || ok {
		t.Fatalf("VerifyPassword empty: ok=%v err=%v", ok, err)
	}
}

func TestVerifyPassword_Malformed(t *testing.T) {
	t.Parallel()

	for _, enc := range []string{
		"",
		"plain",
		"$bcrypt$v=19$m=1,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=18$m=65536,t=3,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$garbage$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=65536,t=3,p=1$!!!$aGFzaA",
		"$argon2id$v=19$m=65536,t=3,p=1$c2FsdA$",
	} {
		if ok, err := VerifyPassword([]byte("x"), enc); err == nil || ok {
			t.Fatalf("want error for %q, got ok=%v err=%v", enc, ok, err)
		}
	}
}
