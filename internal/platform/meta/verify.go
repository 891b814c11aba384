package meta

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// SignatureHeader carries the HMAC of the request body.
const SignatureHeader = "X-Hub-Signature-256"

// Signature errors.
var (
	ErrMissingSignature = errors.New("meta: missing " + SignatureHeader)
	ErrBadSignature     = errors.New("meta: signature mismatch")
)

// Challenge answers the webhook subscription handshake. It returns the
// challenge to echo and true when mode is subscribe and the token matches.
func Challenge(mode, token, challenge, verifyToken string) (string, bool) {
	if verifyToken == "" || mode != "subscribe" || token != verifyToken || challenge == "" {
		return "", false
	}
	return challenge, true
}

// VerifySignature checks header against the app secret's HMAC-SHA256 of body.
func VerifySignature(appSecret, header string, body []byte) error {
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrMissingSignature
	}
	hexSig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return ErrBadSignature
	}
	provided, err := hex.DecodeString(hexSig)
	if err != nil {
		return ErrBadSignature
	}

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}

// Sign returns the header value for body, as Meta would compute it.
func Sign(appSecret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
