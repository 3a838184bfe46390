package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"staybook/internal/app/policies"
	domainpayments "staybook/internal/domain/payments"
)

var errSignatureMismatch = errors.New("signature mismatch")

// HMACVerifier checks hex-encoded HMAC-SHA256 signatures of the raw body,
// one shared secret per provider. A "sha256=" prefix is accepted.
type HMACVerifier struct {
	secrets map[string][]byte
}

func NewHMACVerifier(secrets map[string]string) *HMACVerifier {
	v := &HMACVerifier{secrets: make(map[string][]byte, len(secrets))}
	for provider, secret := range secrets {
		v.secrets[strings.ToLower(strings.TrimSpace(provider))] = []byte(secret)
	}
	return v
}

func (v *HMACVerifier) Verify(provider string, body []byte, signature string) error {
	secret, ok := v.secrets[strings.ToLower(strings.TrimSpace(provider))]
	if !ok {
		return fmt.Errorf("%w: %q", domainpayments.ErrUnknownProvider, provider)
	}
	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), "sha256="))
	if err != nil || len(got) == 0 {
		return errSignatureMismatch
	}
	if !hmac.Equal(got, Sign(secret, body)) {
		return errSignatureMismatch
	}
	return nil
}

// Sign computes the raw HMAC-SHA256 of body.
func Sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}

// SignHex is the header value a provider would send for body.
func SignHex(secret string, body []byte) string {
	return hex.EncodeToString(Sign([]byte(secret), body))
}

var _ policies.SignatureVerifier = (*HMACVerifier)(nil)
