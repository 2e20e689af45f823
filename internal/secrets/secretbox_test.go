package secrets

import (
	"bytes"
	"encoding/hex"
	"testing"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := NewCipher(testKey)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}

	seed := []byte("abandon ability able about above absent absorb abstract absurd abuse access accident")
	blob, err := c.Encrypt(seed)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Contains(blob, seed) {
		t.Error("ciphertext contains plaintext")
	}

	got, err := c.Decrypt(blob)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, seed) {
		t.Errorf("round trip mismatch: got %q", got)
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	c, _ := NewCipher(testKey)
	blob, _ := c.Encrypt([]byte("secret"))
	blob[len(blob)-1] ^= 0xff
	if _, err := c.Decrypt(blob); err == nil {
		t.Error("expected authentication failure on tampered blob")
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	c1, _ := NewCipher(testKey)
	otherKey := hex.EncodeToString(bytes.Repeat([]byte{0x42}, 32))
	c2, _ := NewCipher(otherKey)

	blob, _ := c1.Encrypt([]byte("secret"))
	if _, err := c2.Decrypt(blob); err == nil {
		t.Error("expected failure decrypting with wrong key")
	}
}

func TestNewCipherValidatesKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"not hex", "zz"},
		{"too short", "0001"},
		{"too long", testKey + "ff"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewCipher(tt.key); err == nil {
				t.Errorf("NewCipher(%q) should fail", tt.key)
			}
		})
	}
}
