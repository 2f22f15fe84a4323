package crypto

import "testing"

func TestHandshakeDerivesMatchingSecret(t *testing.T) {
	alice, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate alice keypair: %v", err)
	}
	bob, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate bob keypair: %v", err)
	}

	bobPub, err := ParsePublicKey(bob.PublicKeyBase64())
	if err != nil {
		t.Fatalf("parse bob public key: %v", err)
	}
	alicePub, err := ParsePublicKey(alice.PublicKeyBase64())
	if err != nil {
		t.Fatalf("parse alice public key: %v", err)
	}

	secretA, err := alice.SharedSecret(bobPub)
	if err != nil {
		t.Fatalf("alice shared secret: %v", err)
	}
	secretB, err := bob.SharedSecret(alicePub)
	if err != nil {
		t.Fatalf("bob shared secret: %v", err)
	}
	if secretA != secretB {
		t.Fatal("expected both sides to derive the same shared secret")
	}
}

func TestParsePublicKeyRejectsWrongLength(t *testing.T) {
	if _, err := ParsePublicKey("dG9vc2hvcnQ="); err == nil {
		t.Fatal("expected error for undersized public key")
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	var secret [32]byte
	for i := range secret {
		secret[i] = byte(i)
	}
	c, err := NewCipher(secret)
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	plaintext := []byte(`{"type":"send_message","content":"hi"}`)
	env, err := c.Seal(plaintext)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	got, err := c.Open(env)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	var secret [32]byte
	c, err := NewCipher(secret)
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	env, err := c.Seal([]byte("hello"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	// Flip one bit of the second-to-last base64 character to corrupt the ciphertext.
	tampered := []byte(env.Ciphertext)
	tampered[len(tampered)-2] ^= 1
	env.Ciphertext = string(tampered)

	if _, err := c.Open(env); err == nil {
		t.Fatal("expected tampered ciphertext to fail authentication")
	}
}

func TestOpenRejectsWrongNonceSize(t *testing.T) {
	var secret [32]byte
	c, err := NewCipher(secret)
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	env, err := c.Seal([]byte("hello"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	env.Nonce = "AAAA"
	if _, err := c.Open(env); err == nil {
		t.Fatal("expected wrong nonce size to be rejected")
	}
}
