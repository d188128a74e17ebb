// Package session keeps the signed-in identity of the CLI on disk and runs
// sign-out hooks such as clearing the device cache.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
)

// ErrNoSession is returned when no valid session is stored.
var ErrNoSession = errors.New("no valid session (login required)")

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	UserID      string    `json:"user_id"`
}

// Dir returns the per-user configuration directory.
func Dir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "charforge")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "charforge")
}

// Store is the identity context of the client. It is created once per process
// and passed to the components that need the current identity.
type Store struct {
	dir string
	now func() time.Time

	mu        sync.Mutex
	onSignOut []func() error
}

// New returns a Store rooted at dir; an empty dir means Dir().
func New(dir string) *Store {
	if dir == "" {
		dir = Dir()
	}
	return &Store{dir: dir, now: time.Now}
}

// Path returns a file path inside the session directory.
func (s *Store) Path(name string) string { return filepath.Join(s.dir, name) }

func (s *Store) tokenPath() string { return s.Path("token.json") }

// OnSignOut registers a hook run by SignOut.
func (s *Store) OnSignOut(fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSignOut = append(s.onSignOut, fn)
}

// SignIn persists the token for userID. A zero expiry is read from the token.
func (s *Store) SignIn(token string, userID uuid.UUID, expiresAt time.Time) error {
	if token == "" || userID == uuid.Nil {
		return errors.New("session: empty token or user id")
	}
	if expiresAt.IsZero() {
		exp, err := TokenExpiry(token)
		if err != nil {
			return err
		}
		expiresAt = exp
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(tokenFile{AccessToken: token, ExpiresAt: expiresAt, UserID: userID.String()}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.tokenPath(), b, 0o600)
}

func (s *Store) load() (tokenFile, error) {
	b, err := os.ReadFile(s.tokenPath())
	if errors.Is(err, os.ErrNotExist) {
		return tokenFile{}, ErrNoSession
	}
	if err != nil {
		return tokenFile{}, err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return tokenFile{}, fmt.Errorf("session: corrupt token file: %w", err)
	}
	if tf.AccessToken == "" || s.now().After(tf.ExpiresAt) {
		return tokenFile{}, ErrNoSession
	}
	return tf, nil
}

// Token returns the stored access token while it is valid.
func (s *Store) Token() (string, error) {
	tf, err := s.load()
	if err != nil {
		return "", err
	}
	return tf.AccessToken, nil
}

// Current returns the signed-in identity, or uuid.Nil for anonymous use.
func (s *Store) Current() uuid.UUID {
	tf, err := s.load()
	if err != nil {
		return uuid.Nil
	}
	id, err := uuid.FromString(tf.UserID)
	if err != nil {
		return uuid.Nil
	}
	return id
}

// SignOut removes the stored session and runs the sign-out hooks.
func (s *Store) SignOut() error {
	var all []error
	if err := os.Remove(s.tokenPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		all = append(all, err)
	}
	s.mu.Lock()
	hooks := append([]func() error(nil), s.onSignOut...)
	s.mu.Unlock()
	for _, fn := range hooks {
		if err := fn(); err != nil {
			all = append(all, err)
		}
	}
	return errors.Join(all...)
}

// TokenExpiry reads the exp claim without verifying the signature. The server
// remains the only judge of token validity.
func TokenExpiry(token string) (time.Time, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, fmt.Errorf("session: parse token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, errors.New("session: token has no expiry")
	}
	return claims.ExpiresAt.Time, nil
}
