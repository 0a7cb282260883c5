package storage

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// keySize is the length of a generated key file.
const keySize = 32

// NewAEADFromKey derives an AES-256-GCM AEAD from arbitrary key material.
func NewAEADFromKey(material []byte) (cipher.AEAD, error) {
	if len(material) == 0 {
		return nil, errors.New("empty key material")
	}
	key := sha256.Sum256(material)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create AEAD: %w", err)
	}
	return aead, nil
}

// LoadOrCreateKey reads the key file at path, generating a random one with
// 0600 permissions when it does not exist.
func LoadOrCreateKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err == nil {
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read key: %w", err)
	}

	key = make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("write key: %w", err)
	}
	return key, nil
}

// SealedBackend encrypts values before handing them to an inner backend.
// Stored values are base64(nonce || ciphertext); keys stay in clear text.
type SealedBackend struct {
	inner Backend
	aead  cipher.AEAD
}

// NewSealedBackend wraps inner with aead.
func NewSealedBackend(inner Backend, aead cipher.AEAD) *SealedBackend {
	return &SealedBackend{inner: inner, aead: aead}
}

// NewSecureFileBackend is the desktop secrets tier: a FileBackend at path
// sealed with the key read (or created) at keyPath.
func NewSecureFileBackend(path, keyPath string) (*SealedBackend, error) {
	key, err := LoadOrCreateKey(keyPath)
	if err != nil {
		return nil, err
	}
	aead, err := NewAEADFromKey(key)
	if err != nil {
		return nil, err
	}
	return NewSealedBackend(NewFileBackend(path), aead), nil
}

func (s *SealedBackend) Get(ctx context.Context, key string) (string, error) {
	enc, err := s.inner.Get(ctx, key)
	if err != nil {
		return "", err
	}
	data, err := base64.StdEncoding.DecodeString(enc)
	if err != nil || len(data) < s.aead.NonceSize() {
		return "", fmt.Errorf("decode sealed value %q: malformed", key)
	}
	nonce, ct := data[:s.aead.NonceSize()], data[s.aead.NonceSize():]
	// The key is bound as additional data so values cannot be swapped between keys.
	plain, err := s.aead.Open(nil, nonce, ct, []byte(key))
	if err != nil {
		return "", fmt.Errorf("open sealed value %q: %w", key, err)
	}
	return string(plain), nil
}

func (s *SealedBackend) Set(ctx context.Context, key, value string) error {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	ct := s.aead.Seal(nonce, nonce, []byte(value), []byte(key))
	return s.inner.Set(ctx, key, base64.StdEncoding.EncodeToString(ct))
}

func (s *SealedBackend) Remove(ctx context.Context, key string) error {
	return s.inner.Remove(ctx, key)
}

func (s *SealedBackend) Keys(ctx context.Context) ([]string, error) {
	return s.inner.Keys(ctx)
}

func (s *SealedBackend) Clear(ctx context.Context) error {
	return s.inner.Clear(ctx)
}
