// Package kms provides an in-process key management adapter. Keys are derived
// from a single master secret per key id; each message gets a fresh data key.
package kms

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	envelopeVersion byte = 1
	keySize              = chacha20poly1305.KeySize
	nonceSize            = chacha20poly1305.NonceSizeX
	wrappedKeySize       = keySize + chacha20poly1305.Overhead
	headerSize           = 1 + nonceSize + wrappedKeySize + nonceSize
	minMasterKeySize     = 32
)

var (
	// ErrDecrypt is returned for any ciphertext that fails to open. It does
	// not say why.
	ErrDecrypt = errors.New("kms: message authentication failed")

	ErrMasterKey = errors.New("kms: master key must be at least 32 bytes")
)

// Local seals values with XChaCha20-Poly1305 under a per-message data key that
// is itself sealed with a key-encryption key derived for the key id.
//
// Envelope layout: version | kek nonce | wrapped dek | dek nonce | ciphertext.
type Local struct {
	master []byte
	rand   io.Reader
}

// NewLocal constructs a Local adapter from master.
func NewLocal(master []byte) (*Local, error) {
	if len(master) < minMasterKeySize {
		return nil, ErrMasterKey
	}
	return &Local{master: append([]byte(nil), master...), rand: rand.Reader}, nil
}

func (l *Local) Encrypt(_ context.Context, keyID string, plaintext []byte) ([]byte, error) {
	kek, err := l.derive("kek", keyID)
	if err != nil {
		return nil, err
	}
	dek := make([]byte, keySize)
	if _, err := io.ReadFull(l.rand, dek); err != nil {
		return nil, fmt.Errorf("generate data key: %w", err)
	}

	out := make([]byte, 1, headerSize+len(plaintext)+chacha20poly1305.Overhead)
	out[0] = envelopeVersion

	out, err = seal(l.rand, out, kek, dek, []byte(keyID))
	if err != nil {
		return nil, err
	}
	return seal(l.rand, out, dek, plaintext, []byte(keyID))
}

func (l *Local) Decrypt(_ context.Context, keyID string, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < headerSize+chacha20poly1305.Overhead || ciphertext[0] != envelopeVersion {
		return nil, ErrDecrypt
	}
	kek, err := l.derive("kek", keyID)
	if err != nil {
		return nil, err
	}

	body := ciphertext[1:]
	dek, err := open(kek, body[:nonceSize], body[nonceSize:nonceSize+wrappedKeySize], []byte(keyID))
	if err != nil {
		return nil, ErrDecrypt
	}
	body = body[nonceSize+wrappedKeySize:]
	plaintext, err := open(dek, body[:nonceSize], body[nonceSize:], []byte(keyID))
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// MAC returns HMAC-SHA256 of data under a key derived for keyID.
func (l *Local) MAC(_ context.Context, keyID string, data []byte) ([]byte, error) {
	key, err := l.derive("mac", keyID)
	if err != nil {
		return nil, err
	}
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil), nil
}

func (l *Local) derive(purpose, keyID string) ([]byte, error) {
	key := make([]byte, keySize)
	r := hkdf.New(sha256.New, l.master, nil, []byte("audiovault/"+purpose+"/"+keyID))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive %s key: %w", purpose, err)
	}
	return key, nil
}

func seal(rnd io.Reader, dst, key, plaintext, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rnd, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	dst = append(dst, nonce...)
	return aead.Seal(dst, nonce, plaintext, ad), nil
}

func open(key, nonce, ciphertext, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ciphertext, ad)
}
