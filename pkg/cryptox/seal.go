// Package cryptox provides authenticated encryption for tokens persisted
// outside process memory. Durable token store adaptors (sqlite) seal each
// serialized token so a copied database file doesn't hand out live
// credentials.
package cryptox

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

var (
	// ErrNoKeyMaterial reports an attempt to build a Box without a key.
	ErrNoKeyMaterial = errors.New("cryptox: no key material")

	// ErrOpen reports a sealed value that failed authentication, either
	// tampered with or sealed under a different key.
	ErrOpen = errors.New("cryptox: cannot open sealed value")
)

// sealInfo domain-separates the derived key from any other use of the
// same master key material.
const sealInfo = "oidcgate/token-seal/v1"

// Box seals and opens byte payloads using ChaCha20-Poly1305 under a key
// derived from the caller's master key material via HKDF-SHA256.
type Box struct {
	aead cipher.AEAD
}

// NewBox derives the sealing key from keyMaterial and returns a ready Box.
// Any non-empty key material works; derivation stretches it to the cipher
// key size.
func NewBox(keyMaterial []byte) (*Box, error) {
	if len(keyMaterial) == 0 {
		return nil, ErrNoKeyMaterial
	}

	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, keyMaterial, nil, []byte(sealInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("cryptox: derive key: %w", err)
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("cryptox: init cipher: %w", err)
	}

	return &Box{aead: aead}, nil
}

// Seal encrypts plain and returns nonce||ciphertext.
func (b *Box) Seal(plain []byte) ([]byte, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("cryptox: nonce: %w", err)
	}

	return b.aead.Seal(nonce, nonce, plain, nil), nil
}

// Open authenticates and decrypts a value produced by Seal.
func (b *Box) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < b.aead.NonceSize() {
		return nil, ErrOpen
	}

	nonce, ciphertext := sealed[:b.aead.NonceSize()], sealed[b.aead.NonceSize():]
	plain, err := b.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrOpen
	}

	return plain, nil
}
