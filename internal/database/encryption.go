package database

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"

	"meshbridge/internal/constants"
	"meshbridge/internal/models"

	"golang.org/x/crypto/pbkdf2"
)

// encryptor seals record content at rest. A nil gcm passes values through.
type encryptor struct {
	gcm cipher.AEAD
}

// NewEncryptor reads the encryption switch and secret from the environment.
func NewEncryptor() (*encryptor, error) {
	if os.Getenv(constants.EncryptionEnableEnv) != "true" {
		return &encryptor{}, nil
	}
	return newEncryptorWithSecret(os.Getenv(constants.EncryptionSecretEnv))
}

func newEncryptorWithSecret(secret string) (*encryptor, error) {
	if secret == "" {
		return nil, fmt.Errorf("%s environment variable is required when encryption is enabled", constants.EncryptionSecretEnv)
	}
	if len(secret) < constants.MinEncryptionSecretLen {
		return nil, fmt.Errorf("encryption secret must be at least %d characters long", constants.MinEncryptionSecretLen)
	}

	key := pbkdf2.Key([]byte(secret), []byte(constants.EncryptionSalt), models.Iterations, models.KeySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &encryptor{gcm: gcm}, nil
}

func (e *encryptor) enabled() bool {
	return e != nil && e.gcm != nil
}

func (e *encryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" || !e.enabled() {
		return plaintext, nil
	}

	nonce := make([]byte, models.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := e.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (e *encryptor) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" || !e.enabled() {
		return ciphertext, nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}
	if len(data) < models.NonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, body := data[:models.NonceSize], data[models.NonceSize:]
	plaintext, err := e.gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}
