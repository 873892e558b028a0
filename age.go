package serializer

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"filippo.io/age"
)

// AgeKeystore implements Keystore with age X25519 envelopes. Public keys
// are age recipient strings ("age1...") as bytes; the keystore decrypts with
// every identity it holds. Safe for concurrent use.
type AgeKeystore struct {
	mu         sync.RWMutex
	identities []age.Identity
}

// NewAgeKeystore returns a keystore holding the given identities.
func NewAgeKeystore(identities ...*age.X25519Identity) *AgeKeystore {
	k := &AgeKeystore{}
	for _, id := range identities {
		k.identities = append(k.identities, id)
	}
	return k
}

// GenerateAgeKey generates an X25519 identity and returns it together with
// its public key in wire form.
func GenerateAgeKey() (*age.X25519Identity, []byte, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, nil, fmt.Errorf("generating age identity: %w", err)
	}
	return identity, []byte(identity.Recipient().String()), nil
}

// AddIdentity adds decryption key material.
func (k *AgeKeystore) AddIdentity(identity *age.X25519Identity) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.identities = append(k.identities, identity)
}

func (k *AgeKeystore) EncryptWithEnvelope(data []byte, networkPublicKey []byte, profilePublicKeys [][]byte) ([]byte, error) {
	keys := envelopeRecipients(networkPublicKey, profilePublicKeys)
	if len(keys) == 0 {
		return nil, ErrNoRecipients
	}

	recipients := make([]age.Recipient, 0, len(keys))
	for _, key := range keys {
		recipient, err := age.ParseX25519Recipient(string(key))
		if err != nil {
			return nil, fmt.Errorf("parsing recipient key %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	var buf bytes.Buffer
	writer, err := age.Encrypt(&buf, recipients...)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(data); err != nil {
		return nil, fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}
	return buf.Bytes(), nil
}

func (k *AgeKeystore) DecryptEnvelope(envelope []byte) ([]byte, error) {
	k.mu.RLock()
	identities := append([]age.Identity(nil), k.identities...)
	k.mu.RUnlock()

	if len(identities) == 0 {
		return nil, ErrNoMatchingKey
	}

	reader, err := age.Decrypt(bytes.NewReader(envelope), identities...)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted plaintext: %w", err)
	}
	return plaintext, nil
}
