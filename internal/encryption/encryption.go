package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	// KeySize is the required AES-256 key size in bytes.
	KeySize = 32
	// NonceSize is the AES-GCM nonce size in bytes.
	NonceSize = 12
	// FormatVersion is the current token format version.
	FormatVersion byte = 1
)

const headerSize = 1 + NonceSize // version + nonce

// ErrorKind categorizes encryption/decryption failures.
type ErrorKind string

const (
	ErrInvalidKey        ErrorKind = "invalid_key"
	ErrWrongKey          ErrorKind = "wrong_key"
	ErrCorruptedData     ErrorKind = "corrupted_data"
	ErrUnsupportedFormat ErrorKind = "unsupported_format"
)

// Error is a typed error for encryption/decryption failures.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsKind reports whether err is an *Error with the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsWrongKey reports whether err indicates an authentication failure.
func IsWrongKey(err error) bool {
	return IsKind(err, ErrWrongKey)
}

// Cipher encrypts span text into URL-safe tokens with AES-256-GCM.
//
// Token layout before base64url encoding:
//
//	[version (1 byte)][nonce (12 bytes)][ciphertext+tag]
//
// Tokens are randomized: equal plaintexts produce different tokens.
type Cipher struct {
	gcm cipher.AEAD
}

// New creates a Cipher from a raw 32-byte key.
func New(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, &Error{Kind: ErrInvalidKey, Err: fmt.Errorf("expected %d bytes, got %d", KeySize, len(key))}
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, &Error{Kind: ErrInvalidKey, Err: err}
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if gcm.NonceSize() != NonceSize {
		return nil, &Error{Kind: ErrUnsupportedFormat, Err: fmt.Errorf("unexpected nonce size %d", gcm.NonceSize())}
	}
	return &Cipher{gcm: gcm}, nil
}

// Encrypt seals plaintext and returns a base64url token.
func (c *Cipher) Encrypt(ctx context.Context, plaintext string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}

	sealed := c.gcm.Seal(nil, nonce, []byte(plaintext), nil)
	out := make([]byte, 0, headerSize+len(sealed))
	out = append(out, FormatVersion)
	out = append(out, nonce...)
	out = append(out, sealed...)
	return base64.RawURLEncoding.EncodeToString(out), nil
}

// Decrypt opens a token produced by Encrypt.
// Returns ErrWrongKey for authentication failures and ErrCorruptedData for
// malformed tokens.
func (c *Cipher) Decrypt(ctx context.Context, token string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", &Error{Kind: ErrCorruptedData, Err: fmt.Errorf("decode token: %w", err)}
	}
	if len(data) < headerSize {
		return "", &Error{Kind: ErrCorruptedData, Err: fmt.Errorf("token too short (%d bytes)", len(data))}
	}
	if data[0] != FormatVersion {
		return "", &Error{Kind: ErrUnsupportedFormat, Err: fmt.Errorf("unsupported version %d", data[0])}
	}

	nonce := data[1:headerSize]
	sealed := data[headerSize:]
	if len(sealed) < c.gcm.Overhead() {
		return "", &Error{Kind: ErrCorruptedData, Err: fmt.Errorf("ciphertext too short (%d bytes)", len(sealed))}
	}

	plaintext, err := c.gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", &Error{Kind: ErrWrongKey, Err: fmt.Errorf("authentication failed (wrong key or corrupted data): %w", err)}
	}
	return string(plaintext), nil
}

// ParseKey decodes a key given as 64 hex characters or as standard base64.
func ParseKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, &Error{Kind: ErrInvalidKey, Err: errors.New("empty key")}
	}
	if len(s) == hex.EncodedLen(KeySize) {
		if key, err := hex.DecodeString(s); err == nil {
			return key, nil
		}
	}
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, &Error{Kind: ErrInvalidKey, Err: errors.New("key is neither hex nor base64")}
	}
	if len(key) != KeySize {
		return nil, &Error{Kind: ErrInvalidKey, Err: fmt.Errorf("expected %d bytes, got %d", KeySize, len(key))}
	}
	return key, nil
}

// LoadKey reads and parses a key file.
func LoadKey(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	return ParseKey(string(raw))
}

// GenerateKey returns a new random key, hex encoded.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("read key: %w", err)
	}
	return hex.EncodeToString(key), nil
}
