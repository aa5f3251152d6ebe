package vault

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/agenshield/agenshield/internal/crypto"
)

// EnvelopePrefix marks a ciphertext as this vault's current format,
// mirroring the versioned-prefix convention the credential tooling in the
// pack uses for its own secret values (encrypted:si:v2:...).
const EnvelopePrefix = "agenshield:secret:v1:"

// seal produces a versioned envelope: prefix + RawURLEncoding(nonce||ciphertext).
func seal(key, plaintext []byte) ([]byte, error) {
	sealed, err := crypto.Encrypt(key, plaintext)
	if err != nil {
		return nil, err
	}
	return []byte(EnvelopePrefix + base64.RawURLEncoding.EncodeToString(sealed)), nil
}

// open reverses seal, verifying the envelope prefix first.
func open(key, envelope []byte) ([]byte, error) {
	s := string(envelope)
	if !strings.HasPrefix(s, EnvelopePrefix) {
		return nil, fmt.Errorf("vault: unrecognized secret envelope format")
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(s, EnvelopePrefix))
	if err != nil {
		return nil, fmt.Errorf("vault: malformed envelope encoding: %w", err)
	}
	return crypto.Decrypt(key, raw)
}

// IsEnvelope reports whether a stored value carries this vault's envelope
// prefix, for diagnostics and migration tooling.
func IsEnvelope(value []byte) bool {
	return strings.HasPrefix(string(value), EnvelopePrefix)
}
