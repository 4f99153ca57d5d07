package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"strings"

	"github.com/fernet/fernet-go"
)

const sealedPrefix = "gcm1:"

var ErrUndecryptable = errors.New("failed to decrypt message text")

// Encryptor seals message text at rest with AES-256-GCM. Text written by
// earlier deployments as Fernet tokens is still readable through the legacy
// keys.
type Encryptor struct {
	aead       cipher.AEAD
	fernetKeys []*fernet.Key
}

// NewEncryptor derives the AES key from secret with SHA-256, so secrets of any
// length work.
func NewEncryptor(secret string, legacyKeys []string) (*Encryptor, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("encryption key must not be empty")
	}
	sum := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	var keys []*fernet.Key
	for _, raw := range append([]string{secret}, legacyKeys...) {
		if fk := parseFernetKey(raw); fk != nil {
			keys = append(keys, fk)
		}
	}
	return &Encryptor{aead: aead, fernetKeys: keys}, nil
}

func parseFernetKey(raw string) *fernet.Key {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	key, err := fernet.DecodeKey(trimmed)
	if err != nil {
		return nil
	}
	return key
}

func (e *Encryptor) Encrypt(plain string) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := e.aead.Seal(nonce, nonce, []byte(plain), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens text produced by Encrypt or by a legacy Fernet writer.
func (e *Encryptor) Decrypt(enc string) (string, error) {
	if rest, ok := strings.CutPrefix(enc, sealedPrefix); ok {
		raw, err := base64.StdEncoding.DecodeString(rest)
		if err != nil || len(raw) < e.aead.NonceSize() {
			return "", ErrUndecryptable
		}
		n := e.aead.NonceSize()
		plain, err := e.aead.Open(nil, raw[:n], raw[n:], nil)
		if err != nil {
			return "", ErrUndecryptable
		}
		return string(plain), nil
	}

	if len(e.fernetKeys) > 0 {
		if plain := fernet.VerifyAndDecrypt([]byte(enc), 0, e.fernetKeys); plain != nil {
			return string(plain), nil
		}
	}
	return "", ErrUndecryptable
}
