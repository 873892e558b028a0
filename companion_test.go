package serializer

import (
	"context"
	"errors"
	"testing"

	"github.com/runar-labs/serializer/msgpack"
)

type companionUser struct {
	ID     string `json:"id"`
	Name   string `json:"name" label:"system"`
	Email  string `json:"email" label:"system"`
	Secret string `json:"secret" label:"user"`
	Age    int    `json:"age"`
}

type companionAudit struct {
	ID    string `json:"id"`
	Trail string `json:"trail" label:"audit"`
}

type brokenKeystore struct{}

func (brokenKeystore) EncryptWithEnvelope([]byte, []byte, [][]byte) ([]byte, error) {
	return nil, errors.New("token removed")
}

func (brokenKeystore) DecryptEnvelope([]byte) ([]byte, error) {
	return nil, errors.New("token removed")
}

// labelFixture wires a keyring where "net" is the network key and "alice"
// is the caller's profile key.
type labelFixture struct {
	full     *KeyringKeystore
	resolver *LabelResolver
	plan     *LabelPlan
}

func newLabelFixture(t *testing.T) labelFixture {
	t.Helper()
	full := NewKeyringKeystore()
	for _, id := range []string{"net", "alice"} {
		secret, err := GenerateKeyringSecret()
		if err != nil {
			t.Fatalf("GenerateKeyringSecret() error: %v", err)
		}
		if err := full.AddKey([]byte(id), secret); err != nil {
			t.Fatalf("AddKey() error: %v", err)
		}
	}
	cfg := &LabelResolverConfig{Labels: map[string]LabelKeySpec{
		LabelSystem: {NetworkPublicKey: []byte("net")},
		LabelUser:   {UserKeySpec: UserKeySpecCurrentUser},
	}}
	plan, err := buildLabelPlan[companionUser]("app.User")
	if err != nil {
		t.Fatalf("buildLabelPlan() error: %v", err)
	}
	return labelFixture{
		full:     full,
		resolver: NewContextLabelResolver(cfg, [][]byte{[]byte("alice")}),
		plan:     plan,
	}
}

// withOnly returns a keyring holding only the named secrets of full.
func (f labelFixture) withOnly(ids ...string) *KeyringKeystore {
	ks := NewKeyringKeystore()
	f.full.mu.RLock()
	defer f.full.mu.RUnlock()
	for _, id := range ids {
		ks.keys[id] = f.full.keys[id]
	}
	return ks
}

var companionSample = companionUser{ID: "u1", Name: "Ada", Email: "ada@example.com", Secret: "s3cret", Age: 36}

func TestEncryptLabels(t *testing.T) {
	f := newLabelFixture(t)
	codec := msgpack.New()

	c, err := EncryptLabels(context.Background(), f.plan, companionSample, f.full, f.resolver, codec)
	if err != nil {
		t.Fatalf("EncryptLabels() error: %v", err)
	}

	if len(c.Groups) != 2 || c.Groups[0].Label != LabelSystem || c.Groups[1].Label != LabelUser {
		t.Fatalf("Groups = %+v, want system then user", c.Groups)
	}
	if c.Plain["id"] != "u1" || c.Plain["age"] != 36 {
		t.Errorf("Plain = %v", c.Plain)
	}
	for _, key := range []string{"name", "email", "secret"} {
		if _, ok := c.Plain[key]; ok {
			t.Errorf("labeled field %q leaked into plain fields", key)
		}
	}
	if _, ok := c.Group(LabelUser); !ok {
		t.Error("Group(user) not found")
	}
	if _, ok := c.Group("missing"); ok {
		t.Error("Group(missing) should not be found")
	}
}

func TestEncryptLabels_PointerValue(t *testing.T) {
	f := newLabelFixture(t)
	sample := companionSample
	if _, err := EncryptLabels(context.Background(), f.plan, &sample, f.full, f.resolver, msgpack.New()); err != nil {
		t.Fatalf("EncryptLabels(pointer) error: %v", err)
	}
}

func TestEncryptLabels_Errors(t *testing.T) {
	f := newLabelFixture(t)
	codec := msgpack.New()
	ctx := context.Background()

	if _, err := EncryptLabels(ctx, f.plan, companionSample, nil, f.resolver, codec); !errors.Is(err, ErrKeystoreRequired) {
		t.Errorf("nil keystore error = %v, want ErrKeystoreRequired", err)
	}
	if _, err := EncryptLabels(ctx, f.plan, companionSample, f.full, nil, codec); !errors.Is(err, ErrLabelNotResolvable) {
		t.Errorf("nil resolver error = %v, want ErrLabelNotResolvable", err)
	}
	if _, err := EncryptLabels(ctx, f.plan, companionSample, brokenKeystore{}, f.resolver, codec); !errors.Is(err, ErrKeystoreFailure) {
		t.Errorf("broken keystore error = %v, want ErrKeystoreFailure", err)
	}
	if _, err := EncryptLabels(ctx, f.plan, companionAudit{}, f.full, f.resolver, codec); !errors.Is(err, ErrUnsupportedValue) {
		t.Errorf("wrong type error = %v, want ErrUnsupportedValue", err)
	}

	audit, err := buildLabelPlan[companionAudit]("app.Audit")
	if err != nil {
		t.Fatalf("buildLabelPlan() error: %v", err)
	}
	_, err = EncryptLabels(ctx, audit, companionAudit{ID: "a", Trail: "t"}, f.full, f.resolver, codec)
	if !errors.Is(err, ErrLabelNotResolvable) {
		t.Errorf("unknown label error = %v, want ErrLabelNotResolvable", err)
	}
	var le *LabelError
	if errors.As(err, &le) && le.Label != "audit" {
		t.Errorf("LabelError.Label = %q, want audit", le.Label)
	}
}

func TestCompanion_WireRoundTrip(t *testing.T) {
	f := newLabelFixture(t)
	codec := msgpack.New()

	c, err := EncryptLabels(context.Background(), f.plan, companionSample, f.full, f.resolver, codec)
	if err != nil {
		t.Fatalf("EncryptLabels() error: %v", err)
	}
	data, err := MarshalCompanion(codec, c)
	if err != nil {
		t.Fatalf("MarshalCompanion() error: %v", err)
	}

	var flat map[string]any
	if err := codec.Unmarshal(data, &flat); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	for _, key := range []string{"id", "age", "system_encrypted", "user_encrypted"} {
		if _, ok := flat[key]; !ok {
			t.Errorf("wire map missing key %q", key)
		}
	}

	back, err := UnmarshalCompanion(codec, "app.User", data)
	if err != nil {
		t.Fatalf("UnmarshalCompanion() error: %v", err)
	}
	if len(back.Groups) != 2 {
		t.Fatalf("Groups = %d, want 2", len(back.Groups))
	}
	g, _ := back.Group(LabelSystem)
	orig, _ := c.Group(LabelSystem)
	if string(g.EnvelopeCipher) != string(orig.EnvelopeCipher) {
		t.Error("system envelope changed across the wire")
	}
	if _, ok := back.Plain["system_encrypted"]; ok {
		t.Error("group key should not remain in plain fields")
	}
}

func TestUnmarshalCompanion_NonGroupSuffix(t *testing.T) {
	codec := msgpack.New()
	data, err := codec.Marshal(map[string]any{"id": "1", "note_encrypted": "not a group"})
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	c, err := UnmarshalCompanion(codec, "x", data)
	if err != nil {
		t.Fatalf("UnmarshalCompanion() error: %v", err)
	}
	if len(c.Groups) != 0 || c.Plain["note_encrypted"] != "not a group" {
		t.Errorf("UnmarshalCompanion() = %+v", c)
	}
}

func TestDecryptLabels_AccessControl(t *testing.T) {
	f := newLabelFixture(t)
	codec := msgpack.New()
	ctx := context.Background()

	c, err := EncryptLabels(ctx, f.plan, companionSample, f.full, f.resolver, codec)
	if err != nil {
		t.Fatalf("EncryptLabels() error: %v", err)
	}

	tests := []struct {
		name string
		ks   Keystore
		want companionUser
	}{
		{
			name: "all keys",
			ks:   f.full,
			want: companionSample,
		},
		{
			name: "network only",
			ks:   f.withOnly("net"),
			want: companionUser{ID: "u1", Name: "Ada", Email: "ada@example.com", Age: 36},
		},
		{
			name: "profile only",
			ks:   f.withOnly("alice"),
			want: companionUser{ID: "u1", Secret: "s3cret", Age: 36},
		},
		{
			name: "no keys",
			ks:   NewKeyringKeystore(),
			want: companionUser{ID: "u1", Age: 36},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := DecryptLabels(ctx, f.plan, c, tt.ks, codec)
			if err != nil {
				t.Fatalf("DecryptLabels() error: %v", err)
			}
			got, ok := out.(companionUser)
			if !ok {
				t.Fatalf("DecryptLabels() returned %T", out)
			}
			if got != tt.want {
				t.Errorf("DecryptLabels() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDecryptLabels_CorruptGroupIsolated(t *testing.T) {
	f := newLabelFixture(t)
	codec := msgpack.New()
	ctx := context.Background()

	c, err := EncryptLabels(ctx, f.plan, companionSample, f.full, f.resolver, codec)
	if err != nil {
		t.Fatalf("EncryptLabels() error: %v", err)
	}
	for i := range c.Groups {
		if c.Groups[i].Label == LabelUser {
			cipher := c.Groups[i].EnvelopeCipher
			cipher[len(cipher)-1] ^= 0xff
		}
	}

	out, err := DecryptLabels(ctx, f.plan, c, f.full, codec)
	if err != nil {
		t.Fatalf("DecryptLabels() error: %v", err)
	}
	got := out.(companionUser)
	want := companionUser{ID: "u1", Name: "Ada", Email: "ada@example.com", Age: 36}
	if got != want {
		t.Errorf("DecryptLabels() = %+v, want %+v", got, want)
	}
}

func TestDecryptLabels_UndeclaredGroupIgnored(t *testing.T) {
	f := newLabelFixture(t)
	codec := msgpack.New()
	c := &Companion{
		TypeName: "app.User",
		Plain:    map[string]any{"id": "u1"},
		Groups:   []EncryptedLabelGroup{{Label: "other", EnvelopeCipher: []byte{1, 2, 3}}},
	}
	out, err := DecryptLabels(context.Background(), f.plan, c, f.full, codec)
	if err != nil {
		t.Fatalf("DecryptLabels() error: %v", err)
	}
	if got := out.(companionUser); got.ID != "u1" {
		t.Errorf("ID = %q, want u1", got.ID)
	}
}

func TestDecryptLabels_NilKeystore(t *testing.T) {
	f := newLabelFixture(t)
	_, err := DecryptLabels(context.Background(), f.plan, &Companion{}, nil, msgpack.New())
	if !errors.Is(err, ErrKeystoreRequired) {
		t.Errorf("DecryptLabels() error = %v, want ErrKeystoreRequired", err)
	}
}

func TestEncryptLabels_GroupPlaintextSorted(t *testing.T) {
	f := newLabelFixture(t)
	codec := msgpack.New()

	c, err := EncryptLabels(context.Background(), f.plan, companionSample, f.full, f.resolver, codec)
	if err != nil {
		t.Fatalf("EncryptLabels() error: %v", err)
	}
	got, err := f.full.DecryptEnvelope(c.Groups[0].EnvelopeCipher)
	if err != nil {
		t.Fatalf("DecryptEnvelope() error: %v", err)
	}

	// "name" is declared before "email"; the encoding puts "email" first.
	want := []byte{0x82, 0xa5, 'e', 'm', 'a', 'i', 'l'}
	if len(got) < len(want) || string(got[:len(want)]) != string(want) {
		t.Errorf("system group plaintext = % x, want prefix % x", got, want)
	}

	var fields map[string]string
	if err := codec.Unmarshal(got, &fields); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if fields["name"] != "Ada" || fields["email"] != "ada@example.com" {
		t.Errorf("system group = %v", fields)
	}
}
