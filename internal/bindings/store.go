package bindings

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrBindingConflict is returned when a user tries to bind a different
// platform username than the one already on record. Bindings are permanent:
// only the secret of the existing username may be refreshed.
var ErrBindingConflict = errors.New("user is already bound to a different account")

// BindStatus tells the caller whether Bind created a binding or refreshed
// the secret of an existing one.
type BindStatus int

const (
	StatusBound BindStatus = iota
	StatusSecretUpdated
)

// Credentials is a decrypted view of one binding.
type Credentials struct {
	Username  string
	Secret    string
	BoundAt   time.Time
	UpdatedAt time.Time
}

// MaskedBinding is the admin-facing listing entry (no secret material).
type MaskedBinding struct {
	User     string
	Username string // masked
	BoundAt  time.Time
}

type entry struct {
	Username  string    `json:"username"`
	Secret    string    `json:"secret"` // base64(nonce || AES-GCM ciphertext)
	BoundAt   time.Time `json:"bound_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type document struct {
	Version  int              `json:"version"`
	Bindings map[string]entry `json:"bindings"`
}

// Store persists user→credential bindings as a single encrypted-at-rest JSON
// document, rewritten atomically (tmp + rename) on every mutation.
type Store struct {
	path    string
	keyPath string

	mu   sync.Mutex
	aead cipher.AEAD
	doc  document

	now func() time.Time
}

func Open(path, keyPath string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("bindings.path is required")
	}
	if strings.TrimSpace(keyPath) == "" {
		keyPath = filepath.Join(filepath.Dir(path), "secret.key")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	aead, err := loadOrCreateKey(keyPath)
	if err != nil {
		return nil, err
	}

	s := &Store{path: path, keyPath: keyPath, aead: aead, now: time.Now}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func loadOrCreateKey(path string) (cipher.AEAD, error) {
	key, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, key, 0o600); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("key file %s: want 32 bytes, have %d", path, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (s *Store) load() error {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.doc = document{Version: 1, Bindings: map[string]entry{}}
		return nil
	}
	if err != nil {
		return err
	}
	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("bindings file corrupt: %w", err)
	}
	if doc.Bindings == nil {
		doc.Bindings = map[string]entry{}
	}
	s.doc = doc
	return nil
}

// save rewrites the whole document atomically. Caller holds s.mu.
func (s *Store) save() error {
	b, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Bind creates a binding, or refreshes the secret when the same username is
// re-bound. Binding a different username under a bound user fails with
// ErrBindingConflict and leaves the record untouched.
func (s *Store) Bind(user, username, secret string) (BindStatus, error) {
	user = strings.TrimSpace(user)
	username = strings.TrimSpace(username)
	if user == "" || username == "" || secret == "" {
		return 0, errors.New("user, username and secret are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if existing, ok := s.doc.Bindings[user]; ok {
		if existing.Username != username {
			return 0, ErrBindingConflict
		}
		enc, err := s.encrypt(secret)
		if err != nil {
			return 0, err
		}
		existing.Secret = enc
		existing.UpdatedAt = now
		s.doc.Bindings[user] = existing
		if err := s.save(); err != nil {
			return 0, err
		}
		return StatusSecretUpdated, nil
	}

	enc, err := s.encrypt(secret)
	if err != nil {
		return 0, err
	}
	s.doc.Bindings[user] = entry{
		Username:  username,
		Secret:    enc,
		BoundAt:   now,
		UpdatedAt: now,
	}
	if err := s.save(); err != nil {
		return 0, err
	}
	return StatusBound, nil
}

// Get returns the decrypted credentials for a user, or (nil, nil) when the
// user has no binding.
func (s *Store) Get(user string) (*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.doc.Bindings[user]
	if !ok {
		return nil, nil
	}
	secret, err := s.decrypt(e.Secret)
	if err != nil {
		return nil, fmt.Errorf("decrypt binding for %s: %w", user, err)
	}
	return &Credentials{
		Username:  e.Username,
		Secret:    secret,
		BoundAt:   e.BoundAt,
		UpdatedAt: e.UpdatedAt,
	}, nil
}

// ListMasked returns all bindings with usernames masked for display.
func (s *Store) ListMasked() []MaskedBinding {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]MaskedBinding, 0, len(s.doc.Bindings))
	for user, e := range s.doc.Bindings {
		out = append(out, MaskedBinding{
			User:     user,
			Username: Mask(e.Username, 2),
			BoundAt:  e.BoundAt,
		})
	}
	return out
}

func (s *Store) encrypt(plain string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	ct := s.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(ct), nil
}

func (s *Store) decrypt(enc string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return "", err
	}
	ns := s.aead.NonceSize()
	if len(raw) < ns {
		return "", errors.New("ciphertext too short")
	}
	plain, err := s.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// Mask hides all but the first keep runes of a string.
func Mask(text string, keep int) string {
	r := []rune(text)
	if len(r) <= keep {
		return strings.Repeat("*", len(r))
	}
	return string(r[:keep]) + strings.Repeat("*", len(r)-keep)
}
