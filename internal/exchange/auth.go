// Package exchange implements the venue capability contract against the
// Upbit and Binance REST APIs, plus a simulated venue for dry runs.
package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Credentials holds one venue's API key pair.
type Credentials struct {
	AccessKey string
	SecretKey string
}

// upbitToken builds the JWT bearer token Upbit expects: HS256 over a payload
// of access_key, a fresh nonce, and, when the request carries parameters,
// the SHA512 hash of the encoded query string.
func upbitToken(creds Credentials, query string) (string, error) {
	return upbitTokenWithNonce(creds, query, uuid.New().String())
}

func upbitTokenWithNonce(creds Credentials, query, nonce string) (string, error) {
	payload := map[string]string{
		"access_key": creds.AccessKey,
		"nonce":      nonce,
	}
	if query != "" {
		sum := sha512.Sum512([]byte(query))
		payload["query_hash"] = hex.EncodeToString(sum[:])
		payload["query_hash_alg"] = "SHA512"
	}

	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	claims, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("exchange: marshal jwt claims: %w", err)
	}
	signingInput := header + "." + base64.RawURLEncoding.EncodeToString(claims)

	mac := hmac.New(sha256.New, []byte(creds.SecretKey))
	mac.Write([]byte(signingInput))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	return signingInput + "." + sig, nil
}

// binanceSign returns the hex HMAC-SHA256 signature Binance expects over the
// full encoded query string.
func binanceSign(secret, query string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}
