package secret

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Cache is a local, password-encrypted store of per-node sudo passwords
// (SPEC_FULL.md §4.3 expansion: deploy-rs itself never persists a sudo
// password between runs, so this is an opt-in convenience for repeated
// deployments to the same fleet, never the default path).
type Cache struct {
	path string
}

// OpenCache binds a Cache to a file path; the file itself is created
// lazily on first Save.
func OpenCache(path string) *Cache { return &Cache{path: path} }

// Load decrypts the cache file with unlockPassword and returns the
// key -> sudo-password map it holds (the CLI keys entries by the node's
// hostname). A missing cache file is not an
// error: it returns an empty map.
func (c *Cache) Load(unlockPassword string) (map[string]string, error) {
	raw, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading sudo cache %s: %w", c.path, err)
	}

	plainText, err := decrypt(raw, []byte(unlockPassword))
	if err != nil {
		return nil, fmt.Errorf("unlocking sudo cache: %w", err)
	}

	entries := map[string]string{}
	if err := json.Unmarshal([]byte(plainText), &entries); err != nil {
		return nil, fmt.Errorf("decoding sudo cache contents: %w", err)
	}
	return entries, nil
}

// Save re-encrypts entries with unlockPassword and writes the cache file
// with owner-only permissions.
func (c *Cache) Save(unlockPassword string, entries map[string]string) error {
	plainText, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encoding sudo cache contents: %w", err)
	}

	cipherText, err := encrypt(plainText, []byte(unlockPassword))
	if err != nil {
		return fmt.Errorf("encrypting sudo cache: %w", err)
	}

	if err := os.WriteFile(c.path, cipherText, 0o600); err != nil {
		return fmt.Errorf("writing sudo cache %s: %w", c.path, err)
	}
	return nil
}

func deriveKey(password, salt []byte) []byte {
	const timeCost = 1
	const memory = 64 * 1024
	const threads = 4
	const keyLen = 32
	return argon2.IDKey(password, salt, timeCost, memory, threads, keyLen)
}

// encrypt salts, derives a key via Argon2id, and seals plainText with
// ChaCha20-Poly1305, returning base64(salt || nonce || ciphertext).
func encrypt(plainText, password []byte) ([]byte, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	key := deriveKey(password, salt)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	sealed := aead.Seal(nil, nonce, plainText, nil)
	blob := append(append(salt, nonce...), sealed...)
	return []byte(base64.StdEncoding.EncodeToString(blob)), nil
}

func decrypt(encoded, password []byte) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(string(encoded))
	if err != nil {
		return "", fmt.Errorf("decoding cache blob: %w", err)
	}
	if len(blob) < 16+12 {
		return "", fmt.Errorf("cache blob too short")
	}

	salt := blob[:16]
	nonce := blob[16:28]
	cipherText := blob[28:]

	key := deriveKey(password, salt)
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", err
	}

	plainText, err := aead.Open(nil, nonce, cipherText, nil)
	if err != nil {
		return "", fmt.Errorf("decrypting cache blob: %w", err)
	}
	return string(plainText), nil
}
