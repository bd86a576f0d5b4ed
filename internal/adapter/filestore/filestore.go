// Package filestore implements domain.CredentialStore as a single
// passphrase-encrypted file.
package filestore

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"driverlink/internal/domain"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// ErrBadPassphrase is returned when the file cannot be decrypted.
var ErrBadPassphrase = errors.New("filestore: wrong passphrase or corrupted file")

var magic = []byte("DLK1")

const saltSize = 16

// KDF parameters (argon2id).
type KDF struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
}

// DefaultKDF follows the argon2id recommendation for interactive logins.
var DefaultKDF = KDF{Time: 1, Memory: 64 * 1024, Threads: 4}

// Store keeps all values in memory and rewrites the whole file on change.
//
// File layout: magic | salt | nonce | XChaCha20-Poly1305(json values).
type Store struct {
	mu     sync.Mutex
	path   string
	salt   []byte
	key    []byte
	values map[string]string
}

var _ domain.CredentialStore = (*Store)(nil)

// Open loads path with passphrase, or prepares a new file if none exists.
func Open(path, passphrase string, kdf KDF) (*Store, error) {
	if passphrase == "" {
		return nil, errors.New("filestore: passphrase is required")
	}
	s := &Store{path: path, values: make(map[string]string)}

	blob, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.salt = make([]byte, saltSize)
		if _, err := io.ReadFull(rand.Reader, s.salt); err != nil {
			return nil, err
		}
		s.key = deriveKey(passphrase, s.salt, kdf)
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("filestore: read %s: %w", path, err)
	}

	if len(blob) < len(magic)+saltSize || !bytes.Equal(blob[:len(magic)], magic) {
		return nil, fmt.Errorf("filestore: %s is not a credential file", path)
	}
	s.salt = append([]byte(nil), blob[len(magic):len(magic)+saltSize]...)
	s.key = deriveKey(passphrase, s.salt, kdf)

	plain, err := s.open(blob[len(magic)+saltSize:])
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(plain, &s.values); err != nil {
		return nil, fmt.Errorf("filestore: decode: %w", err)
	}
	if s.values == nil {
		s.values = make(map[string]string)
	}
	return s, nil
}

func deriveKey(passphrase string, salt []byte, kdf KDF) []byte {
	return argon2.IDKey([]byte(passphrase), salt, kdf.Time, kdf.Memory, kdf.Threads, chacha20poly1305.KeySize)
}

func (s *Store) open(sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, ErrBadPassphrase
	}
	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ct, magic)
	if err != nil {
		return nil, ErrBadPassphrase
	}
	return plain, nil
}

func (s *Store) seal(plain []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plain, magic), nil
}

// flush writes next to a temp file and renames it over path. Caller holds mu.
func (s *Store) flush(next map[string]string) error {
	plain, err := json.Marshal(next)
	if err != nil {
		return err
	}
	sealed, err := s.seal(plain)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("filestore: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".driverlink-*")
	if err != nil {
		return fmt.Errorf("filestore: temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	for _, part := range [][]byte{magic, s.salt, sealed} {
		if _, err := tmp.Write(part); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("filestore: write: %w", err)
		}
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("filestore: replace: %w", err)
	}
	s.values = next
	return nil
}

func (s *Store) copyValues() map[string]string {
	next := make(map[string]string, len(s.values)+1)
	for k, v := range s.values {
		next[k] = v
	}
	return next
}

// Get returns the value for key, or "" when it is not set.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key], nil
}

// Set stores value under key and persists the file.
func (s *Store) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.copyValues()
	next[key] = value
	return s.flush(next)
}

// Remove deletes the given keys and persists the file once.
func (s *Store) Remove(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.copyValues()
	changed := false
	for _, k := range keys {
		if _, ok := next[k]; ok {
			delete(next, k)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.flush(next)
}
