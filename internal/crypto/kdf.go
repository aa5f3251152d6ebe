// Package crypto implements the vault's key-derivation and
// authenticated-encryption primitives: scrypt for the data-encryption key,
// PBKDF2-SHA512 for passcode verification, AES-GCM-256 for ciphertext.
package crypto

import (
	"crypto/rand"
	"crypto/sha512"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/scrypt"
)

// Params pins the scrypt and PBKDF2 tunables read from configuration.
type Params struct {
	ScryptN     int
	ScryptR     int
	ScryptP     int
	PBKDF2Iters int
}

const (
	saltSize = 32
	keySize  = 32 // AES-256
)

// NewSalt returns a fresh random salt of the size used throughout the vault.
func NewSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// DeriveKey derives the 32-byte AES key from the passcode and salt using
// scrypt, per the tuned parameters.
func DeriveKey(passcode string, salt []byte, p Params) ([]byte, error) {
	n, r, pp := scryptParams(p)
	key, err := scrypt.Key([]byte(passcode), salt, n, r, pp, keySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// VerificationHash computes the PBKDF2-SHA512 digest stored alongside the
// salt, used to check a candidate passcode without deriving the AES key.
func VerificationHash(passcode string, salt []byte, p Params) []byte {
	iters := p.PBKDF2Iters
	if iters <= 0 {
		iters = 100_000
	}
	return pbkdf2.Key([]byte(passcode), salt, iters, sha512.Size, sha512.New)
}

func scryptParams(p Params) (n, r, pp int) {
	n, r, pp = p.ScryptN, p.ScryptR, p.ScryptP
	if n <= 0 {
		n = 16384
	}
	if r <= 0 {
		r = 8
	}
	if pp <= 0 {
		pp = 1
	}
	return n, r, pp
}
