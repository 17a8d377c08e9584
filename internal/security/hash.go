package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HashToken returns the hex SHA-256 of a token so refresh tokens are stored without the raw value.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// TokenHashEqual compares the hash of providedToken with storedHash in constant time.
func TokenHashEqual(providedToken, storedHash string) bool {
	providedHash := HashToken(providedToken)
	return subtle.ConstantTimeCompare([]byte(providedHash), []byte(storedHash)) == 1
}

// DeriveKey expands secret into a 32-byte subkey bound to purpose (HKDF-SHA256),
// so one configured secret can feed several independent uses.
func DeriveKey(secret []byte, purpose string) ([]byte, error) {
	out := make([]byte, 32)
	r := hkdf.New(sha256.New, secret, nil, []byte(purpose))
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}
