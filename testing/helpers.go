// Package testing provides test utilities for serializer.
package testing

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"filippo.io/age"
	"github.com/runar-labs/serializer"
)

// Wire names used by the fixture types.
const (
	ProfileWireName = "test.Profile"
	AccountWireName = "test.Account"
	PlainWireName   = "test.Plain"
)

// Profile has one plaintext field and one field per built-in label.
type Profile struct {
	ID     string `json:"id"`
	Name   string `json:"name" label:"system"`
	Email  string `json:"email" label:"system"`
	Secret string `json:"secret" label:"user"`
}

// Account carries a label that is absent from DefaultConfig.
type Account struct {
	ID      string `json:"id"`
	Balance int64  `json:"balance" label:"ledger"`
}

// Plain is a registered struct with no labels.
type Plain struct {
	ID    string   `json:"id"`
	Count int      `json:"count"`
	Tags  []string `json:"tags"`
}

// Registry returns a registry with every fixture type registered.
func Registry(tb testing.TB) *serializer.Registry {
	tb.Helper()
	reg := serializer.NewRegistry()
	if err := serializer.Register[Profile](reg, ProfileWireName); err != nil {
		tb.Fatalf("Register[Profile]() error: %v", err)
	}
	if err := serializer.Register[Account](reg, AccountWireName); err != nil {
		tb.Fatalf("Register[Account]() error: %v", err)
	}
	if err := serializer.Register[Plain](reg, PlainWireName); err != nil {
		tb.Fatalf("Register[Plain]() error: %v", err)
	}
	return reg
}

// Keys is a network identity and a profile identity with their public
// keys in wire form.
type Keys struct {
	Network       *age.X25519Identity
	NetworkPublic []byte
	Profile       *age.X25519Identity
	ProfilePublic []byte
}

// AgeKeys generates a fresh network and profile identity.
func AgeKeys(tb testing.TB) Keys {
	tb.Helper()
	network, networkPub, err := serializer.GenerateAgeKey()
	if err != nil {
		tb.Fatalf("GenerateAgeKey() error: %v", err)
	}
	profile, profilePub, err := serializer.GenerateAgeKey()
	if err != nil {
		tb.Fatalf("GenerateAgeKey() error: %v", err)
	}
	return Keys{
		Network:       network,
		NetworkPublic: networkPub,
		Profile:       profile,
		ProfilePublic: profilePub,
	}
}

// Full returns a keystore holding both identities.
func (k Keys) Full() *serializer.AgeKeystore {
	return serializer.NewAgeKeystore(k.Network, k.Profile)
}

// NetworkOnly returns a keystore holding only the network identity.
func (k Keys) NetworkOnly() *serializer.AgeKeystore {
	return serializer.NewAgeKeystore(k.Network)
}

// ProfileOnly returns a keystore holding only the profile identity.
func (k Keys) ProfileOnly() *serializer.AgeKeystore {
	return serializer.NewAgeKeystore(k.Profile)
}

// ProfileKeys returns the profile public keys as a resolver expects them.
func (k Keys) ProfileKeys() [][]byte {
	return [][]byte{k.ProfilePublic}
}

// DefaultConfig maps "system" to the network key and "user" to the
// current user's profile keys.
func (k Keys) DefaultConfig() *serializer.LabelResolverConfig {
	return &serializer.LabelResolverConfig{
		Labels: map[string]serializer.LabelKeySpec{
			serializer.LabelSystem: {NetworkPublicKey: k.NetworkPublic},
			serializer.LabelUser:   {UserKeySpec: serializer.UserKeySpecCurrentUser},
		},
	}
}

// Context returns a SerializationContext for keystore ks using
// DefaultConfig.
func (k Keys) Context(ks serializer.Keystore) *serializer.SerializationContext {
	return &serializer.SerializationContext{
		Keystore:          ks,
		Resolver:          serializer.NewContextLabelResolver(k.DefaultConfig(), k.ProfileKeys()),
		NetworkPublicKey:  k.NetworkPublic,
		ProfilePublicKeys: k.ProfileKeys(),
	}
}

// Keyring returns a KeyringKeystore holding a fresh secret for every id.
func Keyring(tb testing.TB, ids ...string) *serializer.KeyringKeystore {
	tb.Helper()
	ks := serializer.NewKeyringKeystore()
	for _, id := range ids {
		secret, err := serializer.GenerateKeyringSecret()
		if err != nil {
			tb.Fatalf("GenerateKeyringSecret() error: %v", err)
		}
		if err := ks.AddKey([]byte(id), secret); err != nil {
			tb.Fatalf("AddKey(%q) error: %v", id, err)
		}
	}
	return ks
}

// ErrInjected is returned by FailingKeystore.
var ErrInjected = errors.New("injected keystore failure")

// CountingKeystore wraps a Keystore and counts calls. Set FailDecrypt to
// make DecryptEnvelope fail without reaching the inner keystore.
type CountingKeystore struct {
	Inner serializer.Keystore

	encrypts    atomic.Int64
	decrypts    atomic.Int64
	mu          sync.Mutex
	failDecrypt bool
}

// NewCountingKeystore wraps inner.
func NewCountingKeystore(inner serializer.Keystore) *CountingKeystore {
	return &CountingKeystore{Inner: inner}
}

func (c *CountingKeystore) EncryptWithEnvelope(data []byte, networkPublicKey []byte, profilePublicKeys [][]byte) ([]byte, error) {
	c.encrypts.Add(1)
	return c.Inner.EncryptWithEnvelope(data, networkPublicKey, profilePublicKeys)
}

func (c *CountingKeystore) DecryptEnvelope(envelope []byte) ([]byte, error) {
	c.decrypts.Add(1)
	c.mu.Lock()
	fail := c.failDecrypt
	c.mu.Unlock()
	if fail {
		return nil, ErrInjected
	}
	return c.Inner.DecryptEnvelope(envelope)
}

// SetFailDecrypt toggles injected decrypt failures.
func (c *CountingKeystore) SetFailDecrypt(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failDecrypt = fail
}

// Encrypts returns the number of EncryptWithEnvelope calls.
func (c *CountingKeystore) Encrypts() int64 { return c.encrypts.Load() }

// Decrypts returns the number of DecryptEnvelope calls.
func (c *CountingKeystore) Decrypts() int64 { return c.decrypts.Load() }

// FailingKeystore fails every call with ErrInjected.
type FailingKeystore struct{}

func (FailingKeystore) EncryptWithEnvelope([]byte, []byte, [][]byte) ([]byte, error) {
	return nil, ErrInjected
}

func (FailingKeystore) DecryptEnvelope([]byte) ([]byte, error) {
	return nil, ErrInjected
}
