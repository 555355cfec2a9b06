package integration

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"

	"github.com/secureyeoman/secureyeoman/pkg/fault"
)

// Cipher encrypts integration config blobs at rest with AES-256-GCM.
// The key is derived from the configured encryption secret so operators
// can supply a passphrase of any length.
type Cipher struct {
	key [32]byte
}

func NewCipher(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, fault.New(fault.KindInvalidInput, "integration: encryption secret is empty")
	}
	return &Cipher{key: sha256.Sum256([]byte(secret))}, nil
}

// EncryptConfig serializes and seals a config map. Nonce is prepended to
// the ciphertext, the whole blob base64-encoded.
func (c *Cipher) EncryptConfig(config map[string]string) (string, error) {
	if len(config) == 0 {
		return "", nil
	}
	plaintext, err := json.Marshal(config)
	if err != nil {
		return "", fault.Wrap(fault.KindInternal, "integration: marshal config", err)
	}

	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return "", fault.Wrap(fault.KindInternal, "integration: cipher init", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fault.Wrap(fault.KindInternal, "integration: gcm init", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fault.Wrap(fault.KindInternal, "integration: nonce", err)
	}
	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptConfig reverses EncryptConfig.
func (c *Cipher) DecryptConfig(blob string) (map[string]string, error) {
	if blob == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, "integration: decode config blob", err)
	}

	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, "integration: cipher init", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, "integration: gcm init", err)
	}
	if len(data) < gcm.NonceSize() {
		return nil, fault.New(fault.KindInternal, "integration: config blob too short")
	}

	nonce, sealed := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, "integration: decrypt config", err)
	}

	var config map[string]string
	if err := json.Unmarshal(plaintext, &config); err != nil {
		return nil, fault.Wrap(fault.KindInternal, "integration: unmarshal config", err)
	}
	return config, nil
}
