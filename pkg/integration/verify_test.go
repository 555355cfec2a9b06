package integration

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func signHex(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func signBase64(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestVerifyHMACHex(t *testing.T) {
	body := []byte(`{"action":"created"}`)

	assert.True(t, VerifyHMACHex("s3cret", body, signHex("s3cret", body)))
	assert.False(t, VerifyHMACHex("s3cret", body, signHex("wrong", body)))
	assert.False(t, VerifyHMACHex("s3cret", []byte("tampered"), signHex("s3cret", body)))
	assert.False(t, VerifyHMACHex("s3cret", body, "sha256=nothex"))
	assert.False(t, VerifyHMACHex("s3cret", body, ""))
}

func TestVerifyHMACBase64(t *testing.T) {
	body := []byte(`{"events":[]}`)

	assert.True(t, VerifyHMACBase64("channel-secret", body, signBase64("channel-secret", body)))
	assert.False(t, VerifyHMACBase64("channel-secret", body, signBase64("other", body)))
	assert.False(t, VerifyHMACBase64("channel-secret", body, "%%%"))
}

func TestVerifySharedToken(t *testing.T) {
	assert.True(t, VerifySharedToken("tok", "tok"))
	assert.False(t, VerifySharedToken("tok", "nope"))
	assert.False(t, VerifySharedToken("", ""))
	assert.False(t, VerifySharedToken("tok", ""))
}

func TestCipherRoundTrip(t *testing.T) {
	c, err := NewCipher("any-length-passphrase")
	assert.NoError(t, err)

	config := map[string]string{"token": "abc", "replyUrl": "https://example.test/hook"}
	blob, err := c.EncryptConfig(config)
	assert.NoError(t, err)
	assert.NotContains(t, blob, "abc")

	got, err := c.DecryptConfig(blob)
	assert.NoError(t, err)
	assert.Equal(t, config, got)

	// Empty config stays empty.
	blob, err = c.EncryptConfig(nil)
	assert.NoError(t, err)
	assert.Empty(t, blob)

	// Wrong key fails closed.
	other, err := NewCipher("different-passphrase")
	assert.NoError(t, err)
	_, err = other.DecryptConfig(blob)
	assert.NoError(t, err, "empty blob decrypts to nil")
	blob, _ = c.EncryptConfig(config)
	_, err = other.DecryptConfig(blob)
	assert.Error(t, err)
}

func TestRedactedMasksSensitiveConfig(t *testing.T) {
	integ := &Integration{
		ID: "i1", Platform: "github",
		Config: map[string]string{
			"webhookSecret": "super-secret",
			"replyUrl":      "https://example.test/hook",
		},
	}
	red := integ.Redacted()
	assert.Equal(t, "********", red.Config["webhookSecret"])
	assert.Equal(t, "https://example.test/hook", red.Config["replyUrl"])
	// Original untouched.
	assert.Equal(t, "super-secret", integ.Config["webhookSecret"])
}
