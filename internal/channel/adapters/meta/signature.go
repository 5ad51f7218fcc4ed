// Package meta holds webhook verification shared by Meta platforms
// (Messenger, WhatsApp Cloud API). Both sign deliveries the same way and use
// the same GET subscription handshake.
package meta

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"strings"
)

// SignatureHeader carries the HMAC-SHA256 digest of the raw request body.
const SignatureHeader = "X-Hub-Signature-256"

const signaturePrefix = "sha256="

// VerifySignature checks the X-Hub-Signature-256 header against an HMAC-SHA256
// of the raw body keyed by the app secret. The body must be the unparsed bytes
// as received; comparison is constant-time.
func VerifySignature(rawBody []byte, headers http.Header, appSecret string) bool {
	if appSecret == "" {
		return false
	}
	header := strings.TrimSpace(headers.Get(SignatureHeader))
	if !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	provided := strings.TrimPrefix(header, signaturePrefix)

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(rawBody)
	computed := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(computed), []byte(provided))
}

// Handshake answers the GET subscription handshake: the challenge is echoed
// only when hub.mode is "subscribe" and hub.verify_token matches the
// configured value. It holds no state.
func Handshake(params url.Values, verifyToken string) (string, bool) {
	mode := params.Get("hub.mode")
	token := params.Get("hub.verify_token")
	challenge := params.Get("hub.challenge")
	if mode != "subscribe" || verifyToken == "" || token != verifyToken {
		return "", false
	}
	return challenge, true
}

// Sign computes the signature header value for a body; used by tests and by
// outbound webhook simulation tooling.
func Sign(rawBody []byte, appSecret string) string {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(rawBody)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}
