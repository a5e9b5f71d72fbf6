package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const (
	// pkceVerifierBytes is the number of random bytes for the PKCE code
	// verifier: 64 bytes of entropy, base64url-encoded without padding,
	// per §4.1.
	pkceVerifierBytes = 64

	// stateBytes is the number of random bytes for the OAuth state
	// parameter: 128 bits, per §4.1.
	stateBytes = 16
)

// GeneratePKCE generates a new PKCE code verifier and S256 challenge pair,
// ready for use in an authorization request.
func GeneratePKCE() (*PKCEChallenge, error) {
	verifier, challenge, err := GeneratePKCERaw()
	if err != nil {
		return nil, err
	}
	return &PKCEChallenge{
		CodeVerifier:        Secret(verifier),
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
	}, nil
}

// GeneratePKCERaw generates a PKCE code verifier and its S256 challenge as
// raw strings, for callers that don't need the full PKCEChallenge struct.
func GeneratePKCERaw() (verifier, challenge string, err error) {
	verifierBytes := make([]byte, pkceVerifierBytes)
	if _, err := rand.Read(verifierBytes); err != nil {
		return "", "", fmt.Errorf("generate PKCE verifier: %w", err)
	}
	verifier = base64.RawURLEncoding.EncodeToString(verifierBytes)

	hash := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(hash[:])

	return verifier, challenge, nil
}

// GenerateState generates a cryptographically random, 128-bit opaque state
// value used for CSRF protection and to correlate an authorization-server
// callback back to its originating pending record.
func GenerateState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
