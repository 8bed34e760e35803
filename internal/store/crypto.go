package store

import (
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/nacl/secretbox"
)

// keySealer encrypts/decrypts small secrets (provider API keys) at
// rest using a machine-local key file under the data root, per
// SPEC_FULL.md §3's use of golang.org/x/crypto/nacl/secretbox.
type keySealer struct {
	key [32]byte
}

func newKeySealer(dataRoot string) (*keySealer, error) {
	keyPath := filepath.Join(dataRoot, ".engine_key")
	data, err := os.ReadFile(keyPath)
	if err == nil && len(data) == 32 {
		var k [32]byte
		copy(k[:], data)
		return &keySealer{key: k}, nil
	}
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("store: read key file: %w", err)
	}

	var k [32]byte
	if _, err := io.ReadFull(rand.Reader, k[:]); err != nil {
		return nil, fmt.Errorf("store: generate key: %w", err)
	}
	if err := os.MkdirAll(dataRoot, 0o700); err != nil {
		return nil, fmt.Errorf("store: create data root: %w", err)
	}
	if err := os.WriteFile(keyPath, k[:], 0o600); err != nil {
		return nil, fmt.Errorf("store: write key file: %w", err)
	}
	return &keySealer{key: k}, nil
}

func (k *keySealer) seal(plaintext string) ([]byte, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &k.key), nil
}

func (k *keySealer) open(sealed []byte) (string, error) {
	if len(sealed) < 24 {
		return "", fmt.Errorf("store: sealed value too short")
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	plaintext, ok := secretbox.Open(nil, sealed[24:], &nonce, &k.key)
	if !ok {
		return "", fmt.Errorf("store: decryption failed")
	}
	return string(plaintext), nil
}
