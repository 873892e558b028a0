package serializer

import (
	"context"
	"fmt"
	"reflect"
	"sync"
)

// EncryptorFunc produces the encoded companion for a registered value.
type EncryptorFunc func(ctx context.Context, value any, ks Keystore, resolver *LabelResolver, codec Codec) ([]byte, error)

// DecryptorFunc rebuilds a registered value from an encoded companion.
type DecryptorFunc func(ctx context.Context, data []byte, ks Keystore, codec Codec) (any, error)

// Registry maps Go types to wire names and holds per-type label plans and
// encrypt/decrypt functions. Populate it at startup; lookups are safe for
// concurrent use.
type Registry struct {
	mu         sync.RWMutex
	wireNames  map[reflect.Type]string
	types      map[string]reflect.Type
	plans      map[string]*LabelPlan
	encryptors map[string]EncryptorFunc
	decryptors map[string]DecryptorFunc
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		wireNames:  make(map[reflect.Type]string),
		types:      make(map[string]reflect.Type),
		plans:      make(map[string]*LabelPlan),
		encryptors: make(map[string]EncryptorFunc),
		decryptors: make(map[string]DecryptorFunc),
	}
}

// Register records T under wireName. For struct types the fields are
// scanned for label declarations; if any are found, an encryptor and a
// decryptor are installed for the wire name.
func Register[T any](r *Registry, wireName string) error {
	if err := validateWireName(wireName); err != nil {
		return err
	}
	rt := reflect.TypeFor[T]()

	var plan *LabelPlan
	if rt.Kind() == reflect.Struct {
		p, err := buildLabelPlan[T](wireName)
		if err != nil {
			return err
		}
		plan = p
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.types[wireName]; ok && existing != rt {
		return fmt.Errorf("wire name %q already registered for %s", wireName, existing)
	}
	if existing, ok := r.wireNames[rt]; ok && existing != wireName {
		return fmt.Errorf("type %s already registered as %q", rt, existing)
	}

	r.wireNames[rt] = wireName
	r.types[wireName] = rt
	if plan == nil {
		return nil
	}
	r.plans[wireName] = plan
	if plan.HasLabels() {
		r.encryptors[wireName] = companionEncryptor(plan)
		r.decryptors[wireName] = companionDecryptor(plan)
	}
	return nil
}

// RegisterDecryptor installs a custom decryptor for a wire name, replacing
// any generated one. Use it for wire names produced by other implementations.
func (r *Registry) RegisterDecryptor(wireName string, fn DecryptorFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decryptors[wireName] = fn
}

// RegisterEncryptor installs a custom encryptor for a wire name.
func (r *Registry) RegisterEncryptor(wireName string, fn EncryptorFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.encryptors[wireName] = fn
}

// LookupWireName returns the wire name registered for rt. Pointer types
// resolve through to their element type.
func (r *Registry) LookupWireName(rt reflect.Type) (string, bool) {
	for rt != nil && rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.wireNames[rt]
	return name, ok
}

// LookupType returns the Go type registered under wireName.
func (r *Registry) LookupType(wireName string) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.types[wireName]
	return rt, ok
}

// LookupPlan returns the label plan registered under wireName.
func (r *Registry) LookupPlan(wireName string) (*LabelPlan, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plans[wireName]
	return p, ok
}

// LookupEncryptor returns the encryptor registered under wireName.
func (r *Registry) LookupEncryptor(wireName string) (EncryptorFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.encryptors[wireName]
	return fn, ok
}

// LookupDecryptor returns the decryptor registered under wireName.
func (r *Registry) LookupDecryptor(wireName string) (DecryptorFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.decryptors[wireName]
	return fn, ok
}

func validateWireName(name string) error {
	if name == "" {
		return newTypeError(ErrMissingWireName, "", "", fmt.Errorf("empty wire name"))
	}
	if len(name) > maxWireNameLen {
		return newTypeError(ErrWireNameTooLong, name[:32]+"...", "", nil)
	}
	return nil
}

func companionEncryptor(plan *LabelPlan) EncryptorFunc {
	return func(ctx context.Context, value any, ks Keystore, resolver *LabelResolver, codec Codec) ([]byte, error) {
		c, err := EncryptLabels(ctx, plan, value, ks, resolver, codec)
		if err != nil {
			return nil, err
		}
		return MarshalCompanion(codec, c)
	}
}

func companionDecryptor(plan *LabelPlan) DecryptorFunc {
	return func(ctx context.Context, data []byte, ks Keystore, codec Codec) (any, error) {
		if ks == nil {
			return nil, newLabelError(ErrKeystoreRequired, plan.TypeName, "", nil)
		}
		c, err := UnmarshalCompanion(codec, plan.TypeName, data)
		if err != nil {
			return nil, err
		}
		return DecryptLabels(ctx, plan, c, ks, codec)
	}
}
