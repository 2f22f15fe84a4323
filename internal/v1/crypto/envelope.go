package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

const (
	// NonceSize is the AES-GCM nonce length in bytes.
	NonceSize = 12
	// TagSize is the AES-GCM authentication tag length in bytes, appended to
	// the ciphertext by cipher.AEAD.Seal.
	TagSize = 16
)

// Envelope is the wire shape of an encrypted frame payload: a fresh random
// nonce and the AES-256-GCM sealed ciphertext (tag included).
type Envelope struct {
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Cipher seals and opens frame payloads once a handshake has negotiated a
// shared secret. Each Seal call generates its own fresh nonce, so a Cipher
// is safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds an AES-256-GCM AEAD keyed by a handshake shared secret.
func NewCipher(sharedSecret [32]byte) (*Cipher, error) {
	block, err := aes.NewCipher(sharedSecret[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: new aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: new gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Seal encrypts plaintext into an Envelope with a freshly random nonce.
func (c *Cipher) Seal(plaintext []byte) (Envelope, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return Envelope{}, fmt.Errorf("crypto: generate nonce: %w", err)
	}
	ciphertext := c.aead.Seal(nil, nonce, plaintext, nil)
	return Envelope{
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

// Open decrypts and authenticates an Envelope. Any tamper (a flipped bit in
// either the nonce or the ciphertext) causes authentication to fail; the
// caller must treat any error here as a reason to close the connection, not
// to respond with a descriptive error body.
func (c *Cipher) Open(env Envelope) ([]byte, error) {
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, errors.New("crypto: malformed nonce")
	}
	if len(nonce) != NonceSize {
		return nil, errors.New("crypto: wrong nonce size")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, errors.New("crypto: malformed ciphertext")
	}
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.New("crypto: authentication failed")
	}
	return plaintext, nil
}
