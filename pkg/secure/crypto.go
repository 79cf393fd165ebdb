package secure

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
)

// ErrInvalidKeySize is returned for keys that are not 16, 24 or 32 bytes long
var ErrInvalidKeySize = errors.New("encryption key must be 16, 24, or 32 bytes long")

// Sealer encrypts short secrets (pending OTP codes) with AES-GCM.
// A nil *Sealer passes values through unchanged.
type Sealer struct {
	gcm cipher.AEAD
}

// NewSealer validates key and prepares the AEAD.
// Supported key sizes: 16, 24, 32 bytes (AES-128/192/256).
// An empty key yields a nil Sealer (no encryption).
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) == 0 {
		return nil, nil
	}
	keyLen := len(key)
	if keyLen != 16 && keyLen != 24 && keyLen != 32 {
		return nil, ErrInvalidKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{gcm: gcm}, nil
}

// EncryptString encrypts the given plaintext and returns a base64-encoded ciphertext.
// If the input is empty, it returns an empty string without error.
func (s *Sealer) EncryptString(plaintext string) (string, error) {
	if s == nil || plaintext == "" {
		return plaintext, nil
	}

	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	ciphertext := s.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptString decrypts a base64-encoded AES-GCM ciphertext and returns the plaintext.
// If the input is empty, it returns an empty string without error.
func (s *Sealer) DecryptString(ciphertext string) (string, error) {
	if s == nil || ciphertext == "" {
		return ciphertext, nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}

	nonceSize := s.gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, cipherData := data[:nonceSize], data[nonceSize:]
	plainBytes, err := s.gcm.Open(nil, nonce, cipherData, nil)
	if err != nil {
		return "", err
	}

	return string(plainBytes), nil
}
