// Package crypto provides field-level encryption for keyhaven.
//
// Secret values are stored as textual tokens of the form
// hex(iv) ":" hex(ciphertext). The cipher is AES-256-CBC with a key
// derived from the vault secret via PBKDF2-HMAC-SHA256 using a fixed
// salt label and iteration count, and a fresh random IV per call.
//
// Decrypt deliberately never fails: anything that does not parse as a
// token is treated as legacy plaintext and returned unchanged. Vaults
// created before field encryption was introduced still contain such
// values, and raising on them would make those records unreadable.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KDFIterations is the PBKDF2 iteration count.
	KDFIterations = 100_000

	// KDFSaltLabel is the fixed salt label for field-key derivation.
	KDFSaltLabel = "keyhaven:field:v1"

	// KeyLength is the derived key length in bytes (AES-256).
	KeyLength = 32

	// IVLength is the CBC initialization vector length in bytes.
	IVLength = aes.BlockSize

	// TokenSeparator separates the hex-encoded IV from the ciphertext.
	TokenSeparator = ":"
)

// ErrEmptySecret indicates the cipher was constructed without a vault secret.
var ErrEmptySecret = errors.New("crypto: vault secret must not be empty")

// Cipher encrypts and decrypts field values under one vault secret.
// The PBKDF2 key is derived once at construction; deriving per call
// would be correct too, the cache only changes performance.
type Cipher struct {
	key []byte
}

// New derives the field key from the vault secret and returns a Cipher.
func New(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	key := pbkdf2.Key([]byte(secret), []byte(KDFSaltLabel), KDFIterations, KeyLength, sha256.New)
	return &Cipher{key: key}, nil
}

// Encrypt encrypts plaintext and returns the hex(iv):hex(ciphertext) token.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("crypto: failed to create cipher: %w", err)
	}

	iv := make([]byte, IVLength)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("crypto: failed to generate iv: %w", err)
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return hex.EncodeToString(iv) + TokenSeparator + hex.EncodeToString(ciphertext), nil
}

// Decrypt parses a token and returns the plaintext. Any value that does
// not decode as a well-formed token is returned unchanged.
func (c *Cipher) Decrypt(token string) string {
	ivHex, ctHex, ok := strings.Cut(token, TokenSeparator)
	if !ok {
		return token
	}

	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != IVLength {
		return token
	}
	ciphertext, err := hex.DecodeString(ctHex)
	if err != nil || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return token
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return token
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	unpadded, err := pkcs7Unpad(plaintext, aes.BlockSize)
	if err != nil {
		return token
	}
	return string(unpadded)
}

// IsToken reports whether s has the hex(iv):hex(ciphertext) shape.
// Save and import paths use this to decide whether a value still needs
// encryption; values already in token form are never re-encrypted.
func IsToken(s string) bool {
	ivHex, ctHex, ok := strings.Cut(s, TokenSeparator)
	if !ok {
		return false
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != IVLength {
		return false
	}
	ciphertext, err := hex.DecodeString(ctHex)
	if err != nil || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return false
	}
	return true
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+n)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(n)
	}
	return padded
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("crypto: invalid padded length")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, errors.New("crypto: invalid padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.New("crypto: invalid padding")
		}
	}
	return data[:len(data)-n], nil
}
