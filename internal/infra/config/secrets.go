package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

const encPrefix = "enc:"

// decryptSecrets finds "enc:..." values in secret fields and decrypts them.
func decryptSecrets(cfg *Config, passphrase string) error {
	if strings.HasPrefix(cfg.LLM.Provider.APIKey, encPrefix) {
		decrypted, err := DecryptValue(strings.TrimPrefix(cfg.LLM.Provider.APIKey, encPrefix), passphrase)
		if err != nil {
			return fmt.Errorf("provider %s api_key: %w", cfg.LLM.Provider.Name, err)
		}
		cfg.LLM.Provider.APIKey = decrypted
	}

	for i, key := range cfg.Billing.UnmeteredKeys {
		if !strings.HasPrefix(key, encPrefix) {
			continue
		}
		decrypted, err := DecryptValue(strings.TrimPrefix(key, encPrefix), passphrase)
		if err != nil {
			return fmt.Errorf("billing unmetered key #%d: %w", i, err)
		}
		cfg.Billing.UnmeteredKeys[i] = decrypted
	}

	for i, tok := range cfg.Telemetry.AuthTokens {
		if !strings.HasPrefix(tok, encPrefix) {
			continue
		}
		decrypted, err := DecryptValue(strings.TrimPrefix(tok, encPrefix), passphrase)
		if err != nil {
			return fmt.Errorf("telemetry auth token #%d: %w", i, err)
		}
		cfg.Telemetry.AuthTokens[i] = decrypted
	}

	for i := range cfg.Tools.MCPServers {
		srv := &cfg.Tools.MCPServers[i]
		for k, v := range srv.Env {
			if !strings.HasPrefix(v, encPrefix) {
				continue
			}
			decrypted, err := DecryptValue(strings.TrimPrefix(v, encPrefix), passphrase)
			if err != nil {
				return fmt.Errorf("mcp server %s env %s: %w", srv.Name, k, err)
			}
			srv.Env[k] = decrypted
		}
	}

	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts an AES-256-GCM encrypted value.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}
