// Package sealer protects device-local cache entries with a per-device key.
//
// Entries are encrypted with XChaCha20-Poly1305 under a key derived by HKDF from
// the device key and the entry scope, with the scope also bound as AAD, so a
// blob copied between scopes or edited on disk fails to open.
package sealer

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeyLen is the device key length in bytes.
const KeyLen = 32

var (
	// ErrBadKey indicates a device key of the wrong length.
	ErrBadKey = errors.New("sealer: bad key length")
	// ErrOpen indicates a blob that is truncated, tampered with, or sealed for another scope.
	ErrOpen = errors.New("sealer: cannot open blob")
)

// Sealer encrypts and authenticates small blobs bound to a scope.
type Sealer struct {
	key []byte
}

// New constructs a Sealer from a device key.
func New(deviceKey []byte) (*Sealer, error) {
	if len(deviceKey) != KeyLen {
		return nil, ErrBadKey
	}
	return &Sealer{key: append([]byte(nil), deviceKey...)}, nil
}

// LoadOrCreateKey reads the device key at path, creating it with 0600 permissions when absent.
func LoadOrCreateKey(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(b) != KeyLen {
			return nil, ErrBadKey
		}
		return b, nil
	case !errors.Is(err, os.ErrNotExist):
		return nil, err
	}

	key := make([]byte, KeyLen)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("write device key: %w", err)
	}
	return key, nil
}

func (s *Sealer) scopeKey(scope string) ([]byte, error) {
	r := hkdf.New(sha256.New, s.key, nil, []byte("charforge/cache/"+scope))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Seal encrypts plaintext for scope. Output is nonce||ciphertext.
func (s *Sealer) Seal(scope string, plaintext []byte) ([]byte, error) {
	key, err := s.scopeKey(scope)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, []byte(scope)), nil
}

// Open decrypts a blob produced by Seal for the same scope.
func (s *Sealer) Open(scope string, blob []byte) ([]byte, error) {
	if len(blob) < chacha20poly1305.NonceSizeX {
		return nil, ErrOpen
	}
	key, err := s.scopeKey(scope)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(nil, blob[:chacha20poly1305.NonceSizeX], blob[chacha20poly1305.NonceSizeX:], []byte(scope))
	if err != nil {
		return nil, ErrOpen
	}
	return pt, nil
}
