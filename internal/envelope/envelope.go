// Package envelope seals payloads for the sink before they are split into
// shares.
//
// A sealed blob is
//
//	ephemeral X25519 public key (32) || nonce (24) || XChaCha20-Poly1305 ciphertext
//
// The AEAD key is derived with HKDF-SHA256 from the X25519 shared secret,
// salted with both public keys.
package envelope

import (
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	// PublicKeySize is the size of an X25519 public key.
	PublicKeySize = 32
	// Overhead is the number of bytes Seal adds to a plaintext.
	Overhead = PublicKeySize + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

	info = "sensornet envelope v1"
)

var (
	// ErrMalformed is returned for blobs too short to hold an envelope.
	ErrMalformed = errors.New("malformed envelope")
	// ErrOpen is returned when a blob fails authentication.
	ErrOpen = errors.New("envelope authentication failed")
)

// GenerateKeyPair returns a fresh X25519 key pair for the sink.
func GenerateKeyPair(r io.Reader) (*ecdh.PrivateKey, error) {
	if r == nil {
		r = rand.Reader
	}
	priv, err := ecdh.X25519().GenerateKey(r)
	if err != nil {
		return nil, fmt.Errorf("generate x25519 key: %w", err)
	}
	return priv, nil
}

// Seal encrypts plaintext for the holder of recipient's private key.
func Seal(r io.Reader, recipient *ecdh.PublicKey, plaintext []byte) ([]byte, error) {
	if recipient == nil {
		return nil, errors.New("envelope: nil recipient key")
	}
	if r == nil {
		r = rand.Reader
	}
	eph, err := ecdh.X25519().GenerateKey(r)
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}
	shared, err := eph.ECDH(recipient)
	if err != nil {
		return nil, fmt.Errorf("x25519: %w", err)
	}
	ephPub := eph.PublicKey().Bytes()
	aead, err := newAEAD(shared, ephPub, recipient.Bytes())
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(r, nonce); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}

	out := make([]byte, 0, len(plaintext)+Overhead)
	out = append(out, ephPub...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, ephPub), nil
}

// Open decrypts a blob produced by Seal.
func Open(priv *ecdh.PrivateKey, blob []byte) ([]byte, error) {
	if priv == nil {
		return nil, errors.New("envelope: nil private key")
	}
	if len(blob) < Overhead {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformed, len(blob))
	}
	ephPub := blob[:PublicKeySize]
	nonce := blob[PublicKeySize : PublicKeySize+chacha20poly1305.NonceSizeX]
	ct := blob[PublicKeySize+chacha20poly1305.NonceSizeX:]

	pub, err := ecdh.X25519().NewPublicKey(ephPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	shared, err := priv.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}
	aead, err := newAEAD(shared, ephPub, priv.PublicKey().Bytes())
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(nil, nonce, ct, ephPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}
	return pt, nil
}

func newAEAD(shared, ephPub, recipientPub []byte) (cipher.AEAD, error) {
	salt := make([]byte, 0, len(ephPub)+len(recipientPub))
	salt = append(salt, ephPub...)
	salt = append(salt, recipientPub...)

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, salt, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	return aead, nil
}
