// Package secret encrypts and decrypts upstream API keys at rest using
// AES-256-GCM with a process-wide key (spec §4's Secret store, §6's
// "iv:authTag:ciphertext" wire format). The key is loaded once and cached;
// per-row key derivation is never performed (spec §5).
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/engels74/comradarr-sub004/internal/apperr"
)

const (
	keyBytes = 32 // 256 bits
	ivBytes  = 16
	tagBytes = 16
)

// Store encrypts/decrypts values with a cached 256-bit key.
type Store struct {
	mu  sync.RWMutex
	key []byte
}

// NewStore validates keyHex (64 hex characters) and returns a Store with the
// key cached for the process lifetime.
func NewStore(keyHex string) (*Store, error) {
	key, err := decodeKey(keyHex)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfiguration, "invalid SECRET_KEY", err)
	}
	return &Store{key: key}, nil
}

func decodeKey(keyHex string) ([]byte, error) {
	keyHex = strings.TrimSpace(keyHex)
	if len(keyHex) != keyBytes*2 {
		return nil, fmt.Errorf("key must be %d hex characters, got %d", keyBytes*2, len(keyHex))
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decode hex key: %w", err)
	}
	return key, nil
}

// Encrypt returns the "iv:authTag:ciphertext" hex-encoded form of plaintext.
func (s *Store) Encrypt(plaintext string) (string, error) {
	s.mu.RLock()
	key := s.key
	s.mu.RUnlock()

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", apperr.Wrap(apperr.KindConfiguration, "create AES cipher", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivBytes)
	if err != nil {
		return "", apperr.Wrap(apperr.KindConfiguration, "create GCM", err)
	}

	iv := make([]byte, ivBytes)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", apperr.Wrap(apperr.KindConfiguration, "generate IV", err)
	}

	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	ciphertext := sealed[:len(sealed)-tagBytes]
	authTag := sealed[len(sealed)-tagBytes:]

	return fmt.Sprintf("%s:%s:%s",
		hex.EncodeToString(iv),
		hex.EncodeToString(authTag),
		hex.EncodeToString(ciphertext),
	), nil
}

// Decrypt reverses Encrypt. Any tampering with iv/authTag/ciphertext yields
// a KindDecryption error.
func (s *Store) Decrypt(stored string) (string, error) {
	parts := strings.SplitN(stored, ":", 3)
	if len(parts) != 3 {
		return "", apperr.New(apperr.KindDecryption, "malformed stored secret")
	}

	iv, err1 := hex.DecodeString(parts[0])
	authTag, err2 := hex.DecodeString(parts[1])
	ciphertext, err3 := hex.DecodeString(parts[2])
	if err1 != nil || err2 != nil || err3 != nil || len(iv) != ivBytes || len(authTag) != tagBytes {
		return "", apperr.New(apperr.KindDecryption, "malformed stored secret components")
	}

	s.mu.RLock()
	key := s.key
	s.mu.RUnlock()

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", apperr.Wrap(apperr.KindConfiguration, "create AES cipher", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivBytes)
	if err != nil {
		return "", apperr.Wrap(apperr.KindConfiguration, "create GCM", err)
	}

	sealed := append(ciphertext, authTag...)
	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", apperr.Wrap(apperr.KindDecryption, "authentication failed", err)
	}
	return string(plaintext), nil
}
