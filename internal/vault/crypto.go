package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

// Crypto errors. ErrDecrypt deliberately carries no detail about whether
// the key, the ciphertext, or the tag was at fault.
var (
	ErrDecrypt           = errors.New("decryption failed")
	ErrMalformedEnvelope = errors.New("malformed credential envelope")
)

// scrypt parameters: memory-hard enough that brute-forcing a weak master
// key is expensive, cheap enough that startup stays interactive.
const (
	scryptN       = 1 << 15
	scryptR       = 8
	scryptP       = 1
	derivedKeyLen = 32 // AES-256
	saltLen       = 16
)

// Envelope is one secret bundle at rest. The GCM authentication tag is
// carried inside Ciphertext (Seal appends it), so tampering with any byte
// of Ciphertext or decrypting under a different master key fails the same
// way.
type Envelope struct {
	Ciphertext []byte `json:"ciphertext"`
	Nonce      []byte `json:"nonce"`
	Salt       []byte `json:"salt"`
}

// deriveKey stretches the master key with scrypt and the envelope salt.
func deriveKey(masterKey, salt []byte) ([]byte, error) {
	key, err := scrypt.Key(masterKey, salt, scryptN, scryptR, scryptP, derivedKeyLen)
	if err != nil {
		return nil, fmt.Errorf("deriving envelope key: %w", err)
	}
	return key, nil
}

// seal encrypts plaintext into a fresh envelope under masterKey, with a
// new random salt and nonce.
func seal(masterKey, plaintext []byte) (*Envelope, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}

	key, err := deriveKey(masterKey, salt)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	return &Envelope{
		Ciphertext: gcm.Seal(nil, nonce, plaintext, nil),
		Nonce:      nonce,
		Salt:       salt,
	}, nil
}

// open decrypts an envelope under masterKey, re-deriving the key from the
// stored salt and verifying the authentication tag. Fails closed.
func open(masterKey []byte, env *Envelope) ([]byte, error) {
	if env == nil || len(env.Salt) != saltLen || len(env.Nonce) == 0 || len(env.Ciphertext) == 0 {
		return nil, ErrMalformedEnvelope
	}

	key, err := deriveKey(masterKey, env.Salt)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	if len(env.Nonce) != gcm.NonceSize() {
		return nil, ErrMalformedEnvelope
	}

	plaintext, err := gcm.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		// Tag mismatch, truncated ciphertext, wrong key: all identical.
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// marshalEnvelope and unmarshalEnvelope are the on-disk JSON codec for
// envelopes.
func marshalEnvelope(env *Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func unmarshalEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return &env, nil
}
