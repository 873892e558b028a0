package serializer

import (
	"context"
	"testing"
	"time"

	"github.com/runar-labs/serializer/msgpack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogger_DefaultNop(t *testing.T) {
	SetLogger(nil)
	if Logger() == nil {
		t.Fatal("Logger() should never return nil")
	}
}

func TestLogger_EvictionLogged(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(nil) })

	cache := NewResolverCache(1, time.Minute)
	ctx := context.Background()
	cache.GetOrCreate(ctx, nil, [][]byte{[]byte("a")})
	cache.GetOrCreate(ctx, nil, [][]byte{[]byte("b")})

	entries := logs.FilterMessage("resolver cache eviction").All()
	if len(entries) != 1 {
		t.Fatalf("eviction log entries = %d, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["evicted"]; got != int64(1) {
		t.Errorf("evicted = %v, want 1", got)
	}
}

func TestLogger_LabelWithheldLogged(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(nil) })

	f := newLabelFixture(t)
	c := &Companion{
		TypeName: "app.User",
		Groups:   []EncryptedLabelGroup{{Label: LabelUser, EnvelopeCipher: []byte{1, 2, 3}}},
	}
	if _, err := DecryptLabels(context.Background(), f.plan, c, f.full, msgpack.New()); err != nil {
		t.Fatalf("DecryptLabels() error: %v", err)
	}
	if n := logs.FilterMessage("label group withheld").Len(); n != 1 {
		t.Errorf("withheld log entries = %d, want 1", n)
	}
}

func TestLogger_UnsealedEncodeWarned(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(nil) })

	s := New()
	sc := &SerializationContext{Keystore: newTestKeyring(t, "net")}
	data, err := s.Marshal(context.Background(), []string{"a", "b"}, sc)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	if data[1] != 0 {
		t.Error("encrypted flag set without recipients")
	}

	entries := logs.FilterMessage("outer envelope skipped: context has no recipients").All()
	if len(entries) != 1 {
		t.Fatalf("warning entries = %d, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["type"]; got != "list<string>" {
		t.Errorf("type = %v, want list<string>", got)
	}

	if _, err := s.Marshal(context.Background(), []string{"a"}, nil); err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	if _, err := s.Marshal(context.Background(), 7, sc); err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	if n := logs.Len(); n != 1 {
		t.Errorf("log entries = %d, want 1: plaintext contexts and primitives are not warned", n)
	}
}
