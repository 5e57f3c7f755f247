package oauth

import (
	"crypto/subtle"

	"golang.org/x/oauth2"
)

// PKCE challenge methods (RFC 7636 Section 4.2).
const (
	MethodS256  = "S256"
	MethodPlain = "plain"
)

// RFC 7636 Section 4.1 bounds for code_verifier, also applied to
// code_challenge.
const (
	minPKCELength = 43
	maxPKCELength = 128
)

// validPKCEString reports whether v is 43 to 128 characters from the
// unreserved set [A-Z] [a-z] [0-9] "-" "." "_" "~".
func validPKCEString(v string) bool {
	if len(v) < minPKCELength || len(v) > maxPKCELength {
		return false
	}

	for i := 0; i < len(v); i++ {
		c := v[i]

		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '-', c == '.', c == '_', c == '~':
		default:
			return false
		}
	}

	return true
}

// verifyPKCE checks verifier against the stored challenge using method.
func verifyPKCE(method, verifier, challenge string) bool {
	if !validPKCEString(verifier) {
		return false
	}

	var computed string

	switch method {
	case MethodS256:
		computed = oauth2.S256ChallengeFromVerifier(verifier)
	case MethodPlain:
		computed = verifier
	default:
		return false
	}

	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
