package flow

import (
	"crypto/sha256"
	"encoding/base64"
)

// codeChallenge derives the S256 PKCE challenge for verifier.
func codeChallenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}
