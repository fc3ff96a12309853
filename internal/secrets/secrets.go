// Package secrets seals the quiz submission secret while it sits on a task
// queue or in a workflow history. Sealed values are bound to a run id.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
)

var (
	newGCM     = cipher.NewGCM
	randReader = rand.Reader
)

var errKeyFormat = errors.New("SECRETS_KEY must be 32 bytes or base64-encoded 32 bytes")

func ParseKey(raw string) ([]byte, error) {
	if raw == "" {
		return nil, errors.New("SECRETS_KEY is required")
	}
	if len(raw) == 32 {
		return []byte(raw), nil
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, errKeyFormat
	}
	if len(decoded) != 32 {
		return nil, errKeyFormat
	}
	return decoded, nil
}

// GenerateKey returns a random key for processes that seal and open secrets
// themselves and need nothing to survive a restart.
func GenerateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(randReader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Encrypt seals plaintext with AES-GCM. The context string is authenticated
// but not stored; Decrypt needs the same value.
func Encrypt(key []byte, plaintext, context string) (string, error) {
	gcm, err := aead(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(randReader, nonce); err != nil {
		return "", err
	}
	ciphertext := gcm.Seal(nil, nonce, []byte(plaintext), []byte(context))
	combined := append(nonce, ciphertext...)
	return base64.StdEncoding.EncodeToString(combined), nil
}

func Decrypt(key []byte, encoded, context string) (string, error) {
	gcm, err := aead(key)
	if err != nil {
		return "", err
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return "", errors.New("invalid encrypted secret")
	}
	nonce := data[:gcm.NonceSize()]
	ciphertext := data[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, []byte(context))
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func aead(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return newGCM(block)
}

// Sealer binds a key so callers pass only the run id and the value.
type Sealer struct {
	key []byte
}

func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != 32 {
		return nil, errKeyFormat
	}
	return &Sealer{key: append([]byte(nil), key...)}, nil
}

func (s *Sealer) Seal(runID, secret string) (string, error) {
	return Encrypt(s.key, secret, runID)
}

func (s *Sealer) Open(runID, sealed string) (string, error) {
	return Decrypt(s.key, sealed, runID)
}
