package serializer

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Keystore errors.
var (
	ErrNoRecipients    = errors.New("no envelope recipients")
	ErrNoMatchingKey   = errors.New("no matching key for envelope")
	ErrCiphertextShort = errors.New("ciphertext too short")
	ErrInvalidKeySize  = errors.New("invalid key size")
)

// Keystore owns key material and performs the envelope primitive.
//
// Both calls may be slow (real cryptography, or a hop across a process
// boundary) and carry no timeout; callers needing bounded latency wrap them.
type Keystore interface {
	// EncryptWithEnvelope seals data under a fresh data key and wraps that
	// key for the network key (if non-nil) and every profile key.
	EncryptWithEnvelope(data []byte, networkPublicKey []byte, profilePublicKeys [][]byte) ([]byte, error)

	// DecryptEnvelope opens an envelope with whatever key material the
	// keystore holds.
	DecryptEnvelope(envelope []byte) ([]byte, error)
}

// envelopeRecipients flattens the network key and profile keys into one list.
func envelopeRecipients(networkPublicKey []byte, profilePublicKeys [][]byte) [][]byte {
	recipients := make([][]byte, 0, len(profilePublicKeys)+1)
	if len(networkPublicKey) > 0 {
		recipients = append(recipients, networkPublicKey)
	}
	for _, key := range profilePublicKeys {
		if len(key) > 0 {
			recipients = append(recipients, key)
		}
	}
	return recipients
}

const (
	keyringVersion   byte = 1
	keyringSecretLen      = 32
	keyringWrapInfo       = "serializer.keyring.wrap"
)

// KeyringKeystore is a symmetric keystore. Each "public key" is a key id
// naming a 32-byte secret held in the keyring. A random data key seals the
// payload and is wrapped once per recipient id with a key derived from that
// recipient's secret.
//
// Envelope format:
//
//	[1 version][2 count]{[1 idLen][id][2 wrappedLen][wrapped]}*count[payload]
//
// Wrapped keys and the payload are XChaCha20-Poly1305 nonce||ciphertext.
// Safe for concurrent use.
type KeyringKeystore struct {
	mu   sync.RWMutex
	keys map[string][]byte
}

// NewKeyringKeystore returns an empty keyring.
func NewKeyringKeystore() *KeyringKeystore {
	return &KeyringKeystore{keys: make(map[string][]byte)}
}

// GenerateKeyringSecret returns a random 32-byte keyring secret.
func GenerateKeyringSecret() ([]byte, error) {
	secret := make([]byte, keyringSecretLen)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return nil, err
	}
	return secret, nil
}

// AddKey stores secret under id, replacing any existing secret.
func (k *KeyringKeystore) AddKey(id, secret []byte) error {
	if len(secret) != keyringSecretLen {
		return fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidKeySize, keyringSecretLen, len(secret))
	}
	if len(id) == 0 || len(id) > 255 {
		return fmt.Errorf("%w: key id must be 1-255 bytes, got %d", ErrInvalidKeySize, len(id))
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[string(id)] = append([]byte(nil), secret...)
	return nil
}

// RemoveKey drops the secret stored under id.
func (k *KeyringKeystore) RemoveKey(id []byte) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.keys, string(id))
}

// HasKey reports whether the keyring holds a secret for id.
func (k *KeyringKeystore) HasKey(id []byte) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	_, ok := k.keys[string(id)]
	return ok
}

func (k *KeyringKeystore) EncryptWithEnvelope(data []byte, networkPublicKey []byte, profilePublicKeys [][]byte) ([]byte, error) {
	recipients := envelopeRecipients(networkPublicKey, profilePublicKeys)
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}
	if len(recipients) > 0xFFFF {
		return nil, errors.New("too many envelope recipients")
	}

	dataKey := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(rand.Reader, dataKey); err != nil {
		return nil, err
	}

	k.mu.RLock()
	defer k.mu.RUnlock()

	out := []byte{keyringVersion}
	out = binary.BigEndian.AppendUint16(out, uint16(len(recipients))) // #nosec G115 -- bounds checked above
	for _, id := range recipients {
		secret, ok := k.keys[string(id)]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrNoMatchingKey, id)
		}
		wrapped, err := sealXChaCha(deriveWrapKey(secret, id), dataKey, id)
		if err != nil {
			return nil, err
		}
		if len(wrapped) > 0xFFFF {
			return nil, errors.New("wrapped key exceeds maximum length")
		}
		out = append(out, byte(len(id)))
		out = append(out, id...)
		out = binary.BigEndian.AppendUint16(out, uint16(len(wrapped))) // #nosec G115 -- bounds checked above
		out = append(out, wrapped...)
	}

	payload, err := sealXChaCha(dataKey, data, nil)
	if err != nil {
		return nil, err
	}
	return append(out, payload...), nil
}

func (k *KeyringKeystore) DecryptEnvelope(envelope []byte) ([]byte, error) {
	if len(envelope) < 3 {
		return nil, ErrCiphertextShort
	}
	if envelope[0] != keyringVersion {
		return nil, fmt.Errorf("unsupported keyring envelope version %d", envelope[0])
	}
	count := int(binary.BigEndian.Uint16(envelope[1:3]))
	pos := 3

	k.mu.RLock()
	defer k.mu.RUnlock()

	var dataKey []byte
	for i := 0; i < count; i++ {
		if pos >= len(envelope) {
			return nil, ErrCiphertextShort
		}
		idLen := int(envelope[pos])
		pos++
		if pos+idLen+2 > len(envelope) {
			return nil, ErrCiphertextShort
		}
		id := envelope[pos : pos+idLen]
		pos += idLen
		wrappedLen := int(binary.BigEndian.Uint16(envelope[pos : pos+2]))
		pos += 2
		if pos+wrappedLen > len(envelope) {
			return nil, ErrCiphertextShort
		}
		wrapped := envelope[pos : pos+wrappedLen]
		pos += wrappedLen

		if dataKey != nil {
			continue
		}
		secret, ok := k.keys[string(id)]
		if !ok {
			continue
		}
		key, err := openXChaCha(deriveWrapKey(secret, id), wrapped, id)
		if err != nil {
			continue
		}
		dataKey = key
	}

	if dataKey == nil {
		return nil, ErrNoMatchingKey
	}
	return openXChaCha(dataKey, envelope[pos:], nil)
}

// deriveWrapKey binds the wrapping key to the recipient id.
func deriveWrapKey(secret, id []byte) []byte {
	info := append([]byte(keyringWrapInfo), id...)
	reader := hkdf.New(sha256.New, secret, nil, info)
	key := make([]byte, chacha20poly1305.KeySize)
	// hkdf only fails past 255*HashSize bytes of output.
	_, _ = io.ReadFull(reader, key)
	return key
}

func sealXChaCha(key, plaintext, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, ad), nil
}

func openXChaCha(key, ciphertext, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, ErrCiphertextShort
	}
	nonce, body := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, body, ad)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}
