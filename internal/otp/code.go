package otp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
)

const (
	MinCodeLength = 4
	MaxCodeLength = 10
	saltBytes     = 16
)

// GenerateCode returns a numeric code of the given length, uniform over [0, 10^length)
// and zero padded. Uses crypto/rand.
func GenerateCode(length int) (string, error) {
	if length < MinCodeLength || length > MaxCodeLength {
		return "", fmt.Errorf("otp: code length %d out of range [%d,%d]", length, MinCodeLength, MaxCodeLength)
	}
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*s", length, n.String()), nil
}

// NewSalt returns a random hex salt for one challenge.
func NewSalt() (string, error) {
	b := make([]byte, saltBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Hasher computes keyed code hashes. The pepper stays in process memory, so a leaked
// challenge row alone does not allow brute forcing the short numeric space offline.
type Hasher struct {
	pepper []byte
}

// NewHasher returns a Hasher keyed with pepper.
func NewHasher(pepper []byte) *Hasher {
	return &Hasher{pepper: pepper}
}

// Hash returns hex HMAC-SHA256(pepper, salt || 0 || phone || 0 || code).
func (h *Hasher) Hash(salt, phone, code string) string {
	m := hmac.New(sha256.New, h.pepper)
	m.Write([]byte(salt))
	m.Write([]byte{0})
	m.Write([]byte(phone))
	m.Write([]byte{0})
	m.Write([]byte(code))
	return hex.EncodeToString(m.Sum(nil))
}

// Equal hashes code and compares it with storedHash in constant time.
func (h *Hasher) Equal(salt, phone, code, storedHash string) bool {
	if code == "" || storedHash == "" {
		return false
	}
	provided := h.Hash(salt, phone, code)
	return subtle.ConstantTimeCompare([]byte(provided), []byte(storedHash)) == 1
}
