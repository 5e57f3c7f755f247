package tokens

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// MinHMACSecretLength is the shortest shared secret accepted for HS256.
const MinHMACSecretLength = 32

// Keys holds the material used to sign and verify access tokens. It is
// either an RSA key pair (RS256) or a shared secret (HS256).
type Keys struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	public    *rsa.PublicKey
	kid       string
}

// LoadKeys picks the signing material from its configured sources. An
// RSA PEM value wins over a PEM file, which wins over an HMAC secret.
func LoadKeys(pemValue, pemPath, secret string) (*Keys, error) {
	if pemValue == "" && pemPath != "" {
		data, err := os.ReadFile(pemPath)
		if err != nil {
			return nil, fmt.Errorf("reading signing key %s: %w", pemPath, err)
		}
		pemValue = string(data)
	}

	if pemValue != "" {
		return NewRSAKeys(pemValue)
	}

	if secret != "" {
		return NewHMACKeys([]byte(secret))
	}

	return nil, errors.New("no signing key configured")
}

// NewRSAKeys parses a PKCS#1 or PKCS#8 RSA private key. Escaped newlines
// are accepted so the key can live in a single-line env var.
func NewRSAKeys(pemValue string) (*Keys, error) {
	pemValue = strings.ReplaceAll(pemValue, `\n`, "\n")

	block, _ := pem.Decode([]byte(pemValue))
	if block == nil {
		return nil, errors.New("invalid private key PEM")
	}

	var key *rsa.PrivateKey
	if parsed, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		key = parsed
	} else if parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("private key is not RSA")
		}
		key = rsaKey
	} else {
		return nil, errors.New("unable to parse RSA private key")
	}

	kid, err := computeKID(&key.PublicKey)
	if err != nil {
		return nil, err
	}

	return &Keys{
		method:    jwt.SigningMethodRS256,
		signKey:   key,
		verifyKey: &key.PublicKey,
		public:    &key.PublicKey,
		kid:       kid,
	}, nil
}

// NewHMACKeys uses secret for HS256. HMAC keys are never published.
func NewHMACKeys(secret []byte) (*Keys, error) {
	if len(secret) < MinHMACSecretLength {
		return nil, fmt.Errorf("hmac secret must be at least %d bytes", MinHMACSecretLength)
	}

	k := make([]byte, len(secret))
	copy(k, secret)

	sum := sha256.Sum256(k)

	return &Keys{
		method:    jwt.SigningMethodHS256,
		signKey:   k,
		verifyKey: k,
		kid:       "hs-" + base64.RawURLEncoding.EncodeToString(sum[:8]),
	}, nil
}

// Algorithm returns the JWS alg name, RS256 or HS256.
func (k *Keys) Algorithm() string {
	return k.method.Alg()
}

// KID returns the key id placed in token headers.
func (k *Keys) KID() string {
	return k.kid
}

func (k *Keys) sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(k.method, claims)
	token.Header["kid"] = k.kid

	return token.SignedString(k.signKey)
}

func (k *Keys) keyFunc(*jwt.Token) (any, error) {
	return k.verifyKey, nil
}

// JWK is a single RSA public key in JSON Web Key form (RFC 7517).
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSet is the document served at the jwks_uri.
type JWKSet struct {
	Keys []JWK `json:"keys"`
}

// JWKS returns the public verification keys. The set is empty for HMAC
// keys since a shared secret cannot be published.
func (k *Keys) JWKS() JWKSet {
	if k.public == nil {
		return JWKSet{Keys: []JWK{}}
	}

	return JWKSet{Keys: []JWK{{
		Kty: "RSA",
		Use: "sig",
		Kid: k.kid,
		Alg: k.method.Alg(),
		N:   base64.RawURLEncoding.EncodeToString(k.public.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(k.public.E)).Bytes()),
	}}}
}

func computeKID(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshaling public key: %w", err)
	}

	sum := sha256.Sum256(der)

	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}
