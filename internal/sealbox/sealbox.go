// Package sealbox seals record payloads with a fresh AES-256-GCM key
// per call. The envelope never contains the key: custody of the key is
// the uploader's, returned to them exactly once.
package sealbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	keyLength   = 32
	nonceLength = 12
	tagLength   = 16
)

// Envelope is the serialized form stored in the content store. Fields
// are hex-encoded to stay readable next to the rest of the record
// tooling.
type Envelope struct {
	Version    int    `json:"v"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
	Tag        string `json:"tag"`
}

// Seal encrypts payload under a newly generated key and returns the
// envelope JSON plus the key. Callers must hand the key to its owner;
// it is not recoverable afterwards.
func Seal(payload []byte) (envelope []byte, key []byte, err error) {
	key = make([]byte, keyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, nil, fmt.Errorf("generate key: %w", err)
	}
	nonce := make([]byte, nonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}

	sealed := gcm.Seal(nil, nonce, payload, nil)
	ciphertext := sealed[:len(sealed)-tagLength]
	tag := sealed[len(sealed)-tagLength:]

	envelope, err = json.Marshal(Envelope{
		Version:    1,
		Nonce:      hex.EncodeToString(nonce),
		Ciphertext: hex.EncodeToString(ciphertext),
		Tag:        hex.EncodeToString(tag),
	})
	if err != nil {
		return nil, nil, err
	}
	return envelope, key, nil
}

// Open decrypts an envelope produced by Seal with the caller-held key.
func Open(envelope, key []byte) ([]byte, error) {
	var env Envelope
	if err := json.Unmarshal(envelope, &env); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}
	if env.Version != 1 {
		return nil, fmt.Errorf("unsupported envelope version %d", env.Version)
	}

	nonce, err := hex.DecodeString(env.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	ciphertext, err := hex.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	tag, err := hex.DecodeString(env.Tag)
	if err != nil {
		return nil, fmt.Errorf("decode tag: %w", err)
	}
	if len(nonce) != nonceLength {
		return nil, errors.New("envelope nonce has wrong length")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	plain, err := gcm.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return nil, errors.New("envelope authentication failed")
	}
	return plain, nil
}
