package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/go-faster/errors"
)

// ErrSignatureMismatch is returned when the provided payment signature does
// not match the recomputed HMAC. The order's payment is then marked Failed.
var ErrSignatureMismatch = errors.New("payment signature mismatch")

// Verifier checks provider payment signatures against a server-held secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier with the webhook/signature secret.
func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret}
}

// Verify recomputes the HMAC-SHA256 over "gatewayOrderID|gatewayPaymentID"
// and compares it to the provided hex signature in constant time.
func (v *Verifier) Verify(gatewayOrderID, gatewayPaymentID, signature string) error {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(gatewayOrderID + "|" + gatewayPaymentID))
	expected := hex.EncodeToString(mac.Sum(nil))

	// hmac.Equal is constant-time.
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrSignatureMismatch
	}
	return nil
}

// Sign computes the signature Verify expects. Exported for tests and the
// local development gateway stub.
func (v *Verifier) Sign(gatewayOrderID, gatewayPaymentID string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(gatewayOrderID + "|" + gatewayPaymentID))
	return hex.EncodeToString(mac.Sum(nil))
}
