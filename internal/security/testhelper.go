package security

import "time"

// NewTestTokenProvider returns a TokenProvider signing with a fresh ES256 key, issuer
// "test-issuer" and audience "test-audience". For tests in other packages.
func NewTestTokenProvider() (*TokenProvider, error) {
	signer, pub, err := GenerateEphemeralKey()
	if err != nil {
		return nil, err
	}
	return NewTokenProvider(signer, pub, "test-issuer", "test-audience", 15*time.Minute, 7*24*time.Hour), nil
}
