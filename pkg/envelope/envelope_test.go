package envelope

import "testing"

func testKey() Key {
	var k Key
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	c := NewCipher(testKey())

	wrapped, err := c.Encrypt("sk-super-secret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if !IsEnveloped(wrapped) {
		t.Fatalf("wrapped value %q does not carry the enc: prefix", wrapped)
	}

	got, err := c.Decrypt(wrapped)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if got != "sk-super-secret" {
		t.Errorf("got %q, want %q", got, "sk-super-secret")
	}
}

func TestDecrypt_RejectsPlaintext(t *testing.T) {
	c := NewCipher(testKey())

	_, err := c.Decrypt("sk-not-enveloped-at-all")
	if err != ErrNotEnveloped {
		t.Fatalf("error = %v, want ErrNotEnveloped", err)
	}
}

func TestDecrypt_RejectsTamperedCiphertext(t *testing.T) {
	c := NewCipher(testKey())

	wrapped, err := c.Encrypt("sk-super-secret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	tampered := wrapped[:len(wrapped)-4] + "AAAA"
	if _, err := c.Decrypt(tampered); err == nil {
		t.Fatal("expected decryption of tampered ciphertext to fail")
	}
}

func TestDecrypt_RejectsWrongKey(t *testing.T) {
	a := NewCipher(testKey())
	var otherKey Key
	otherKey[0] = 0xFF
	b := NewCipher(otherKey)

	wrapped, err := a.Encrypt("sk-super-secret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := b.Decrypt(wrapped); err == nil {
		t.Fatal("expected decryption with the wrong key to fail")
	}
}
