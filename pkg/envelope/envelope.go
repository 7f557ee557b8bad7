// Package envelope implements the credential envelope format:
// enc:<cipher>:<version>:<ciphertext>. Decryption rejects plaintext
// values outright when encryption is enabled, so a secret can never be
// silently replaced with a tampered plaintext bypass.
package envelope

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	prefix      = "enc:"
	cipherName  = "nacl-secretbox"
	version     = 1
	nonceLength = 24
)

// ErrNotEnveloped is returned by Decrypt when the input lacks the
// enc:<cipher>:<version>: prefix: a hard failure, never a silent
// plaintext pass-through.
var ErrNotEnveloped = errors.New("envelope: value is not enveloped")

// ErrUnsupportedCipher is returned when the envelope names a cipher this
// build does not implement.
var ErrUnsupportedCipher = errors.New("envelope: unsupported cipher")

// Key is a 32-byte secretbox key, typically derived from an operator-
// supplied master secret.
type Key [32]byte

// Cipher wraps and unwraps envelope-formatted secrets with a single
// symmetric key.
type Cipher struct {
	key Key
}

func NewCipher(key Key) *Cipher {
	return &Cipher{key: key}
}

// Encrypt produces enc:nacl-secretbox:1:<base64 nonce||ciphertext>.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, (*[32]byte)(&c.key))
	encoded := base64.RawStdEncoding.EncodeToString(sealed)
	return fmt.Sprintf("%s%s:%d:%s", prefix, cipherName, version, encoded), nil
}

// Decrypt unwraps an enveloped secret. Any value without the enc:
// prefix is rejected outright rather than decrypted as plaintext.
func (c *Cipher) Decrypt(value string) (string, error) {
	if !strings.HasPrefix(value, prefix) {
		return "", ErrNotEnveloped
	}
	rest := strings.TrimPrefix(value, prefix)

	parts := strings.SplitN(rest, ":", 3)
	if len(parts) != 3 {
		return "", fmt.Errorf("envelope: malformed value, want %d colon-separated parts, got %d", 3, len(parts))
	}
	cipherID, versionStr, ciphertextB64 := parts[0], parts[1], parts[2]

	if cipherID != cipherName {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCipher, cipherID)
	}
	if _, err := strconv.Atoi(versionStr); err != nil {
		return "", fmt.Errorf("envelope: invalid version %q: %w", versionStr, err)
	}

	sealed, err := base64.RawStdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", fmt.Errorf("envelope: invalid base64 payload: %w", err)
	}
	if len(sealed) < nonceLength {
		return "", errors.New("envelope: ciphertext too short to contain a nonce")
	}

	var nonce [24]byte
	copy(nonce[:], sealed[:nonceLength])

	plaintext, ok := secretbox.Open(nil, sealed[nonceLength:], &nonce, (*[32]byte)(&c.key))
	if !ok {
		return "", errors.New("envelope: decryption failed, ciphertext is invalid or tampered")
	}
	return string(plaintext), nil
}

// IsEnveloped reports whether a value carries the enc: prefix, without
// attempting to decrypt it.
func IsEnveloped(value string) bool {
	return strings.HasPrefix(value, prefix)
}
