package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign returns the hex HMAC-SHA256 of message under secret.
func Sign(secret string, message []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// PaymentSignature is the signature the checkout hands the buyer for orderID/paymentID.
func PaymentSignature(secret, orderID, paymentID string) string {
	return Sign(secret, []byte(orderID+"|"+paymentID))
}

// VerifySignature checks a client-submitted checkout signature. Malformed input yields false.
func (c *Client) VerifySignature(orderID, paymentID, signature string) bool {
	if orderID == "" || paymentID == "" || signature == "" {
		return false
	}
	return verify(c.cfg.KeySecret, []byte(orderID+"|"+paymentID), signature)
}

// VerifyWebhookSignature checks the signature header over the raw, unparsed request body.
func (c *Client) VerifyWebhookSignature(rawPayload []byte, signatureHeader string) bool {
	if len(rawPayload) == 0 || signatureHeader == "" {
		return false
	}
	return verify(c.cfg.WebhookSecret, rawPayload, signatureHeader)
}

func verify(secret string, message []byte, signature string) bool {
	if secret == "" {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return hmac.Equal(got, mac.Sum(nil))
}
