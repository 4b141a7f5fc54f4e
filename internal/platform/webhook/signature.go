// Package webhook authenticates inbound webhook deliveries and signs outbound
// ones with HMAC-SHA256.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	SecretHeader    = "X-Webhook-Secret"
	SignatureHeader = "X-Webhook-Signature"

	InvalidSecretMessage = "Invalid webhook secret"
)

// SignPayload returns the hex HMAC-SHA256 of payload keyed by secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature accepts the signature with or without the "sha256=" prefix.
func VerifySignature(payload []byte, secret, signature string) bool {
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(strings.TrimPrefix(signature, "sha256=")))
}

// SecretMatches compares a presented shared secret in constant time. An empty
// configured secret matches nothing.
func SecretMatches(configured, presented string) bool {
	if configured == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(presented)) == 1
}

// SecretMiddleware rejects requests whose X-Webhook-Secret header does not
// match secret with 401 before the handler runs. onReject, when set, is
// called for each rejected request.
func SecretMiddleware(secret string, onReject func(c echo.Context)) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !SecretMatches(secret, c.Request().Header.Get(SecretHeader)) {
				if onReject != nil {
					onReject(c)
				}
				return echo.NewHTTPError(http.StatusUnauthorized, InvalidSecretMessage)
			}
			return next(c)
		}
	}
}
