// Package devices verifies client-presented device tokens and derives
// the stable fingerprint that identifies a client installation.
package devices

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"

	cipherchat_errors "cipherchat/pkg/errors"
)

// Verifier validates a signed device token and returns the stable
// fingerprint of the signing device. The trust manager depends on this
// interface and never reimplements signature checks itself.
type Verifier interface {
	Verify(deviceToken string) (fingerprint string, err error)
}

// Ed25519Verifier checks the three-part token
// {material}.{publicKey}.{signature}, each part base64url-encoded.
// The signature must cover the material; the fingerprint is a
// content-addressed hash of the public key, so it stays stable across
// requests from the same installation.
type Ed25519Verifier struct{}

func NewVerifier() *Ed25519Verifier {
	return &Ed25519Verifier{}
}

func (v *Ed25519Verifier) Verify(deviceToken string) (string, error) {
	parts := strings.Split(deviceToken, ".")
	if len(parts) != 3 {
		return "", cipherchat_errors.ErrInvalidInput
	}

	material, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", cipherchat_errors.ErrInvalidInput
	}
	publicKey, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil || len(publicKey) != ed25519.PublicKeySize {
		return "", cipherchat_errors.ErrInvalidInput
	}
	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return "", cipherchat_errors.ErrInvalidInput
	}

	if !ed25519.Verify(ed25519.PublicKey(publicKey), material, signature) {
		return "", cipherchat_errors.ErrUnauthorized
	}

	return Fingerprint(publicKey), nil
}

// Fingerprint returns the stable device fingerprint for a public key.
func Fingerprint(publicKey []byte) string {
	sum := sha256.Sum256(publicKey)
	return hex.EncodeToString(sum[:])
}

// EncodeToken assembles a device token from its raw parts. Clients do
// this on their side; the server only needs it in tests and tooling.
func EncodeToken(material, publicKey, signature []byte) string {
	return strings.Join([]string{
		base64.RawURLEncoding.EncodeToString(material),
		base64.RawURLEncoding.EncodeToString(publicKey),
		base64.RawURLEncoding.EncodeToString(signature),
	}, ".")
}
