// Copyright 2025 Casey Haldane
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/argon2"
)

// SnapshotKeyEnv is the environment variable carrying the encryption key:
// either a base64-encoded 32-byte key or a passphrase to derive one from.
const SnapshotKeyEnv = "STEPFLOW_SNAPSHOT_KEY"

const (
	// Argon2id parameters: time=3, memory=64MB, parallelism=4
	argon2Time        = 3
	argon2Memory      = 64 * 1024 // KB
	argon2Parallelism = 4
	argon2KeyLength   = 32 // 256 bits for AES-256

	saltLength  = 16
	metaSaltKey = "encryption_salt"
)

// Cipher encrypts record payloads with AES-256-GCM.
type Cipher struct {
	key []byte
}

// LoadCipher builds a cipher from the STEPFLOW_SNAPSHOT_KEY environment
// variable. A base64-encoded 32-byte value is used directly; anything else
// is treated as a passphrase and run through argon2id with the given salt.
// Returns nil when the variable is unset.
func LoadCipher(salt []byte) (*Cipher, error) {
	keyStr := os.Getenv(SnapshotKeyEnv)
	if keyStr == "" {
		return nil, nil
	}

	if decoded, err := base64.StdEncoding.DecodeString(keyStr); err == nil && len(decoded) == argon2KeyLength {
		return &Cipher{key: decoded}, nil
	}

	if len(salt) == 0 {
		return nil, fmt.Errorf("passphrase key derivation requires a salt")
	}
	key := argon2.IDKey([]byte(keyStr), salt, argon2Time, argon2Memory, argon2Parallelism, argon2KeyLength)
	return &Cipher{key: key}, nil
}

// newSalt generates a random key-derivation salt.
func newSalt() ([]byte, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// Encrypt encrypts plaintext using AES-256-GCM.
// Returns base64-encoded ciphertext with the nonce prepended.
func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	if c == nil {
		return "", fmt.Errorf("cipher is nil")
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts base64-encoded ciphertext produced by Encrypt.
func (c *Cipher) Decrypt(encoded string) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("cipher is nil")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}
