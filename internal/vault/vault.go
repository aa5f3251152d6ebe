// Package vault implements the passcode-gated secret store (spec §4.8):
// locked/unlocked lifecycle, AES-GCM-256 secret encryption keyed from a
// scrypt-derived key, PBKDF2-SHA512 passcode verification, and atomic
// re-keying on change_passcode.
package vault

import (
	"context"
	"errors"
	"sync"

	"github.com/agenshield/agenshield/internal/crypto"
	"github.com/agenshield/agenshield/internal/model"
	"github.com/agenshield/agenshield/internal/scope"
	"github.com/agenshield/agenshield/internal/storage"
)

// ErrLocked is returned by every operation but HasPasscode/IsUnlocked/Lock
// when no key is resident in memory.
var ErrLocked = errors.New("vault: locked")

// ErrWrongPasscode is returned by Unlock and ChangePasscode on a
// verification-hash mismatch. Comparison is constant-time.
var ErrWrongPasscode = errors.New("vault: incorrect passcode")

// ErrNoPasscodeSet is returned by Unlock before set_passcode has ever run.
var ErrNoPasscodeSet = errors.New("vault: no passcode has been set")

// Vault mediates access to the secret store. Exactly one key buffer is
// resident in memory between Unlock and Lock.
type Vault struct {
	secrets *storage.SecretStore
	kdf     *storage.VaultStore
	params  crypto.Params

	mu  sync.RWMutex
	key []byte // nil when locked
}

func New(secrets *storage.SecretStore, kdf *storage.VaultStore, params crypto.Params) *Vault {
	return &Vault{secrets: secrets, kdf: kdf, params: params}
}

// HasPasscode reports whether set_passcode has ever succeeded.
func (v *Vault) HasPasscode(ctx context.Context) (bool, error) {
	_, ok, err := v.kdf.LoadKDF(ctx)
	return ok, err
}

// IsUnlocked reports whether a key is currently resident.
func (v *Vault) IsUnlocked() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.key != nil
}

// SetPasscode transitions locked -> unlocked for the first time, deriving
// a fresh salt and key and persisting the salt + verification hash.
func (v *Vault) SetPasscode(ctx context.Context, passcode string) error {
	if has, err := v.HasPasscode(ctx); err != nil {
		return err
	} else if has {
		return errors.New("vault: passcode already set, use change_passcode")
	}
	salt, err := crypto.NewSalt()
	if err != nil {
		return err
	}
	key, err := crypto.DeriveKey(passcode, salt, v.params)
	if err != nil {
		return err
	}
	hash := crypto.VerificationHash(passcode, salt, v.params)
	if err := v.kdf.SaveKDF(ctx, storage.KDFRecord{Salt: salt, VerificationHash: hash}); err != nil {
		crypto.Zero(key)
		return err
	}
	v.mu.Lock()
	v.key = key
	v.mu.Unlock()
	return nil
}

// Unlock re-derives the key from the stored salt and admits vault reads.
// Mismatches fail in constant time relative to a correct passcode.
func (v *Vault) Unlock(ctx context.Context, passcode string) error {
	rec, ok, err := v.kdf.LoadKDF(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoPasscodeSet
	}
	candidateHash := crypto.VerificationHash(passcode, rec.Salt, v.params)
	if !crypto.ConstantTimeEqual(candidateHash, rec.VerificationHash) {
		return ErrWrongPasscode
	}
	key, err := crypto.DeriveKey(passcode, rec.Salt, v.params)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.key = key
	v.mu.Unlock()
	return nil
}

// Lock zeros and releases the resident key.
func (v *Vault) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.key != nil {
		crypto.Zero(v.key)
		v.key = nil
	}
}

// ChangePasscode verifies old, re-derives a new key from a fresh salt,
// re-encrypts every stored secret in one transaction, and only then swaps
// the resident key. If anything fails before the swap, old ciphertexts and
// the old key remain intact.
func (v *Vault) ChangePasscode(ctx context.Context, oldPasscode, newPasscode string) error {
	rec, ok, err := v.kdf.LoadKDF(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoPasscodeSet
	}
	oldCandidateHash := crypto.VerificationHash(oldPasscode, rec.Salt, v.params)
	if !crypto.ConstantTimeEqual(oldCandidateHash, rec.VerificationHash) {
		return ErrWrongPasscode
	}
	v.mu.RLock()
	oldKey := v.key
	v.mu.RUnlock()
	if oldKey == nil {
		return ErrLocked
	}

	newSalt, err := crypto.NewSalt()
	if err != nil {
		return err
	}
	newKey, err := crypto.DeriveKey(newPasscode, newSalt, v.params)
	if err != nil {
		return err
	}
	newHash := crypto.VerificationHash(newPasscode, newSalt, v.params)

	all, err := v.secrets.ListAll(ctx)
	if err != nil {
		crypto.Zero(newKey)
		return err
	}

	tx, err := v.secrets.DB().BeginTx(ctx, nil)
	if err != nil {
		crypto.Zero(newKey)
		return err
	}
	for _, sec := range all {
		plaintext, err := open(oldKey, sec.Ciphertext)
		if err != nil {
			_ = tx.Rollback()
			crypto.Zero(newKey)
			return err
		}
		resealed, err := seal(newKey, plaintext)
		if err != nil {
			_ = tx.Rollback()
			crypto.Zero(newKey)
			return err
		}
		if err := storage.ReplaceCiphertext(ctx, tx, sec.ID, resealed); err != nil {
			_ = tx.Rollback()
			crypto.Zero(newKey)
			return err
		}
	}
	if err := storage.SaveKDFTx(ctx, tx, storage.KDFRecord{Salt: newSalt, VerificationHash: newHash}); err != nil {
		_ = tx.Rollback()
		crypto.Zero(newKey)
		return err
	}
	if err := tx.Commit(); err != nil {
		crypto.Zero(newKey)
		return err
	}

	v.mu.Lock()
	crypto.Zero(v.key)
	v.key = newKey
	v.mu.Unlock()
	return nil
}

// Put encrypts and stores a secret under the given name and scope.
func (v *Vault) Put(ctx context.Context, tr scope.Triple, name string, secretScope model.SecretScope, placement string, linkedPolicies []string, plaintext []byte) error {
	v.mu.RLock()
	key := v.key
	v.mu.RUnlock()
	if key == nil {
		return ErrLocked
	}
	ciphertext, err := seal(key, plaintext)
	if err != nil {
		return err
	}
	return v.secrets.Put(ctx, model.Secret{
		Name:           name,
		Ciphertext:     ciphertext,
		Scope:          secretScope,
		Placement:      placement,
		LinkedPolicies: linkedPolicies,
		ScopeTarget:    tr.Target,
		ScopeUser:      tr.User,
	})
}

// GetByName resolves the most-specific secret matching name for the given
// scope and decrypts it. A policed secret with zero linked policies
// degrades to standalone at read time: it is still retrievable here, with
// policy enforcement left to the caller (the http_request handler, which
// checks LinkedPolicies against the matched allow rule before injecting).
func (v *Vault) GetByName(ctx context.Context, tr scope.Triple, name string) ([]byte, model.Secret, error) {
	v.mu.RLock()
	key := v.key
	v.mu.RUnlock()
	if key == nil {
		return nil, model.Secret{}, ErrLocked
	}
	sec, ok, err := v.secrets.ResolveByName(ctx, tr, name)
	if err != nil {
		return nil, model.Secret{}, err
	}
	if !ok {
		return nil, model.Secret{}, errors.New("vault: no secret named " + name + " in scope")
	}
	plaintext, err := open(key, sec.Ciphertext)
	if err != nil {
		return nil, model.Secret{}, err
	}
	return plaintext, sec, nil
}

// Delete removes a secret by id. Requires the vault to be unlocked, since
// it is a mutating vault operation per spec §4.8's "all vault operations
// outside of hasPasscode/isUnlocked/lock fail locked".
func (v *Vault) Delete(ctx context.Context, id string) error {
	if !v.IsUnlocked() {
		return ErrLocked
	}
	return v.secrets.Delete(ctx, id)
}

// List returns every secret's metadata (never plaintext) for operator
// display.
func (v *Vault) List(ctx context.Context) ([]model.Secret, error) {
	if !v.IsUnlocked() {
		return nil, ErrLocked
	}
	return v.secrets.ListAll(ctx)
}
