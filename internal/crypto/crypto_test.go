package crypto

import (
	"bytes"
	"testing"
)

func TestDeriveKeyIsDeterministic(t *testing.T) {
	a := DeriveKey("passphrase", "salt")
	b := DeriveKey("passphrase", "salt")
	if !bytes.Equal(a, b) {
		t.Fatal("same inputs produced different keys")
	}
	if len(a) != 32 {
		t.Fatalf("key length = %d", len(a))
	}
	if bytes.Equal(a, DeriveKey("passphrase", "other-salt")) {
		t.Fatal("different salts produced the same key")
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	a, err := New(DeriveKey("passphrase", "salt"))
	if err != nil {
		t.Fatalf("new aead: %v", err)
	}

	sealed, err := a.Seal("hunter2")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if sealed == "hunter2" {
		t.Fatal("ciphertext equals plaintext")
	}

	got, err := a.Open(sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if got != "hunter2" {
		t.Fatalf("open = %q", got)
	}

	// Nonces are random, so sealing twice never repeats.
	again, err := a.Seal("hunter2")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if again == sealed {
		t.Fatal("two seals produced identical ciphertext")
	}
}

func TestOpenRejectsTamperAndWrongKey(t *testing.T) {
	a, err := New(DeriveKey("passphrase", "salt"))
	if err != nil {
		t.Fatalf("new aead: %v", err)
	}
	sealed, err := a.Seal("hunter2")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	if _, err := a.Open(sealed[:len(sealed)-2]); err == nil {
		t.Fatal("expected error for truncated ciphertext")
	}
	if _, err := a.Open("!!not-base64!!"); err == nil {
		t.Fatal("expected error for junk input")
	}

	other, err := New(DeriveKey("different", "salt"))
	if err != nil {
		t.Fatalf("new aead: %v", err)
	}
	if _, err := other.Open(sealed); err == nil {
		t.Fatal("expected error for wrong key")
	}
}
