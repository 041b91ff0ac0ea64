package sealbox

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestSealOpenRoundtrip(t *testing.T) {
	payload := []byte("blood panel 2026-02-11: all values nominal")

	envelope, key, err := Seal(payload)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if len(key) != 32 {
		t.Fatalf("expected 32 byte key, got %d", len(key))
	}
	if bytes.Contains(envelope, payload) {
		t.Fatalf("envelope leaks plaintext")
	}

	var env Envelope
	if err := json.Unmarshal(envelope, &env); err != nil {
		t.Fatalf("envelope is not valid JSON: %v", err)
	}
	if env.Version != 1 || env.Nonce == "" || env.Ciphertext == "" || env.Tag == "" {
		t.Fatalf("envelope missing fields: %+v", env)
	}

	plain, err := Open(envelope, key)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(plain, payload) {
		t.Fatalf("roundtrip mismatch: %q", plain)
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	envelope, key, err := Seal([]byte("discharge summary"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	var env Envelope
	if err := json.Unmarshal(envelope, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	// Flip one hex digit of the ciphertext.
	raw := []byte(env.Ciphertext)
	if raw[0] == 'a' {
		raw[0] = 'b'
	} else {
		raw[0] = 'a'
	}
	env.Ciphertext = string(raw)
	tampered, _ := json.Marshal(env)

	if _, err := Open(tampered, key); err == nil {
		t.Fatalf("expected authentication failure for tampered envelope")
	}
}

func TestOpenRejectsWrongKey(t *testing.T) {
	envelope, _, err := Seal([]byte("lab report"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	wrongKey := make([]byte, 32)
	if _, err := Open(envelope, wrongKey); err == nil {
		t.Fatalf("expected failure with wrong key")
	}
}

func TestSealUsesFreshKeyPerCall(t *testing.T) {
	_, key1, err := Seal([]byte("x"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	_, key2, err := Seal([]byte("x"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if bytes.Equal(key1, key2) {
		t.Fatalf("keys must be freshly generated per call")
	}
}
