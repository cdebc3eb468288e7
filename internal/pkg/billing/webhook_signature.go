package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// VerifySignature checks an HMAC-SHA256 hex signature over the exact raw
// request body. It never fails loudly: any malformed input yields false.
func VerifySignature(rawBody []byte, receivedSignature, secret string) bool {
	if receivedSignature == "" || secret == "" || len(rawBody) == 0 {
		return false
	}
	expected := Sign(rawBody, secret)
	return hmac.Equal([]byte(expected), []byte(receivedSignature))
}

// VerifyPaymentSignature checks the signature returned by checkout after a
// subscription's authorisation payment: HMAC over "paymentID|subscriptionID".
func VerifyPaymentSignature(paymentID, subscriptionID, receivedSignature, secret string) bool {
	if paymentID == "" || subscriptionID == "" {
		return false
	}
	return VerifySignature([]byte(paymentID+"|"+subscriptionID), receivedSignature, secret)
}

// Sign returns the lowercase hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
