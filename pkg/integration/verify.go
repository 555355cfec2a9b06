package integration

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// VerifyHMACHex checks a hex-encoded HMAC-SHA256 signature with an
// optional "sha256=" prefix, the GitHub X-Hub-Signature-256 scheme.
func VerifyHMACHex(secret string, body []byte, signature string) bool {
	signature = strings.TrimPrefix(signature, "sha256=")
	expected, err := hex.DecodeString(signature)
	if err != nil || len(expected) != sha256.Size {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}

// VerifyHMACBase64 checks a base64-encoded HMAC-SHA256 signature, the
// Line X-Line-Signature scheme.
func VerifyHMACBase64(secret string, body []byte, signature string) bool {
	expected, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}

// VerifySharedToken checks a plain shared-secret header, the GitLab
// X-Gitlab-Token scheme. Constant time despite there being no digest.
func VerifySharedToken(secret, token string) bool {
	if secret == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(token)) == 1
}
