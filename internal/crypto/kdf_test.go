package crypto

import "testing"

func testParams() Params {
	// Minimal-but-valid scrypt cost so tests run fast.
	return Params{ScryptN: 16, ScryptR: 8, ScryptP: 1, PBKDF2Iters: 100}
}

func TestDeriveKeyDeterministic(t *testing.T) {
	salt, err := NewSalt()
	if err != nil {
		t.Fatal(err)
	}
	k1, err := DeriveKey("hunter2", salt, testParams())
	if err != nil {
		t.Fatal(err)
	}
	k2, err := DeriveKey("hunter2", salt, testParams())
	if err != nil {
		t.Fatal(err)
	}
	if string(k1) != string(k2) {
		t.Fatal("same passcode+salt produced different keys")
	}
	k3, err := DeriveKey("wrong", salt, testParams())
	if err != nil {
		t.Fatal(err)
	}
	if string(k1) == string(k3) {
		t.Fatal("different passcodes produced the same key")
	}
}

func TestVerificationHashMismatch(t *testing.T) {
	salt, _ := NewSalt()
	good := VerificationHash("hunter2", salt, testParams())
	bad := VerificationHash("wrong", salt, testParams())
	if ConstantTimeEqual(good, bad) {
		t.Fatal("different passcodes hashed equal")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	salt, _ := NewSalt()
	key, err := DeriveKey("hunter2", salt, testParams())
	if err != nil {
		t.Fatal(err)
	}
	plaintext := []byte("sk-test-secret-value")
	sealed, err := Encrypt(key, plaintext)
	if err != nil {
		t.Fatal(err)
	}
	opened, err := Decrypt(key, sealed)
	if err != nil {
		t.Fatal(err)
	}
	if string(opened) != string(plaintext) {
		t.Fatalf("got %q, want %q", opened, plaintext)
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	salt, _ := NewSalt()
	key, _ := DeriveKey("hunter2", salt, testParams())
	other, _ := DeriveKey("other", salt, testParams())
	sealed, err := Encrypt(key, []byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decrypt(other, sealed); err == nil {
		t.Fatal("expected decrypt failure with wrong key")
	}
}
