package spoynt

import (
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"errors"
)

var ErrInvalidSignature = errors.New("invalid signature")

// Sign computes base64(SHA1(secret || body || secret)).
func Sign(secret string, body []byte) string {
	h := sha1.New()
	h.Write([]byte(secret))
	h.Write(body)
	h.Write([]byte(secret))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// Verifier checks callback signatures against the secret of the server's own mode.
// The mode never comes from the callback payload.
type Verifier struct {
	liveSecret string
	testSecret string
	testMode   bool
	enforce    bool
}

func NewVerifier(liveSecret, testSecret string, testMode, enforce bool) *Verifier {
	return &Verifier{
		liveSecret: liveSecret,
		testSecret: testSecret,
		testMode:   testMode,
		enforce:    enforce,
	}
}

// TestMode reports which gateway mode this server accepts.
func (v *Verifier) TestMode() bool { return v.testMode }

// Enforced reports whether signatures are checked at all.
func (v *Verifier) Enforced() bool { return v.enforce }

// Verify checks signature against the raw body exactly as received.
func (v *Verifier) Verify(body []byte, signature string) error {
	if !v.enforce {
		return nil
	}
	secret := v.liveSecret
	if v.testMode {
		secret = v.testSecret
	}
	if signature == "" || secret == "" {
		return ErrInvalidSignature
	}
	expected := Sign(secret, body)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		return ErrInvalidSignature
	}
	return nil
}
