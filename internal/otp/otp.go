// Package otp issues and checks the numeric pickup passcodes handed to customers.
//
// Codes are never stored in plaintext. Only an HMAC-SHA256 digest keyed by a server-held
// pepper is persisted, so a leaked digest cannot be brute-forced offline without the pepper.
package otp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
)

const (
	// Length is the number of digits in a code
	Length = 6

	// DefaultWindow is how long a code stays valid after issue
	DefaultWindow = 60 * time.Minute

	minCode = 100000
	maxCode = 999999
)

// Generate returns a uniformly random code in [100000, 999999]
func Generate() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(maxCode-minCode+1))
	if err != nil {
		return "", fmt.Errorf("failed to read random source: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+minCode), nil
}

// Hasher computes and checks peppered digests
type Hasher struct {
	pepper []byte
}

// NewHasher creates a hasher keyed by pepper
func NewHasher(pepper string) *Hasher {
	return &Hasher{pepper: []byte(pepper)}
}

// Hash returns the hex HMAC-SHA256 digest of code
func (h *Hasher) Hash(code string) string {
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write([]byte(code))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the digest of code and compares it to digest in constant time.
// A digest of the wrong length never matches.
func (h *Hasher) Verify(code, digest string) bool {
	expected := h.Hash(code)
	if len(expected) != len(digest) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(digest)) == 1
}

// ExpiryFromNow returns the absolute expiry of a code issued at now
func ExpiryFromNow(now time.Time, window time.Duration) time.Time {
	if window <= 0 {
		window = DefaultWindow
	}
	return now.Add(window)
}

// Last4 returns the trailing four digits shown to the customer
func Last4(code string) string {
	if len(code) <= 4 {
		return code
	}
	return code[len(code)-4:]
}

// ValidFormat reports whether s is exactly Length ASCII digits
func ValidFormat(s string) bool {
	if len(s) != Length {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
