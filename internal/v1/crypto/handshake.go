// Package crypto implements the framed adapter's per-connection handshake
// and authenticated encryption envelope: an ephemeral X25519 key exchange
// feeding a 32-byte shared secret into AES-256-GCM.
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// KeyPair is an ephemeral X25519 key pair used for exactly one handshake.
type KeyPair struct {
	private [32]byte
	public  [32]byte
}

// GenerateKeyPair creates a fresh ephemeral X25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	var priv [32]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return nil, fmt.Errorf("crypto: generate private key: %w", err)
	}
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("crypto: derive public key: %w", err)
	}
	kp := &KeyPair{private: priv}
	copy(kp.public[:], pub)
	return kp, nil
}

// PublicKeyBase64 returns the standard-base64 encoding of the public key, as
// carried in server_hello/client_hello frames.
func (k *KeyPair) PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(k.public[:])
}

// ParsePublicKey decodes a peer's base64 public key.
func ParsePublicKey(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("crypto: decode peer public key: %w", err)
	}
	if len(raw) != 32 {
		return out, errors.New("crypto: peer public key must be 32 bytes")
	}
	copy(out[:], raw)
	return out, nil
}

// SharedSecret performs the X25519 Diffie-Hellman operation against a peer
// public key, producing the 32-byte secret both handshake parties share.
func (k *KeyPair) SharedSecret(peerPublic [32]byte) ([32]byte, error) {
	var secret [32]byte
	shared, err := curve25519.X25519(k.private[:], peerPublic[:])
	if err != nil {
		return secret, fmt.Errorf("crypto: compute shared secret: %w", err)
	}
	copy(secret[:], shared)
	return secret, nil
}
