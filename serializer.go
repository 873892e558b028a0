package serializer

import (
	"context"
	"reflect"
	"sort"
	"time"

	"github.com/runar-labs/serializer/msgpack"
	"go.uber.org/zap"
)

// SerializationContext carries the key material for one encode or decode.
// A nil context, or one without a keystore, produces and accepts plaintext.
type SerializationContext struct {
	Keystore          Keystore
	Resolver          *LabelResolver
	NetworkPublicKey  []byte
	ProfilePublicKeys [][]byte
}

// canEncryptLabels reports whether label-grouped encryption is possible.
func (sc *SerializationContext) canEncryptLabels() bool {
	return sc != nil && sc.Keystore != nil && sc.Resolver != nil
}

// canSeal reports whether the outer envelope can be applied.
func (sc *SerializationContext) canSeal() bool {
	return sc != nil && sc.Keystore != nil && len(envelopeRecipients(sc.NetworkPublicKey, sc.ProfilePublicKeys)) > 0
}

func (sc *SerializationContext) keystore() Keystore {
	if sc == nil {
		return nil
	}
	return sc.Keystore
}

// Option configures a Serializer.
type Option func(*Serializer)

// WithCodec sets the canonical body codec. The default is MessagePack.
func WithCodec(c Codec) Option {
	return func(s *Serializer) {
		s.codec = c
	}
}

// WithRegistry sets the type registry.
func WithRegistry(r *Registry) Option {
	return func(s *Serializer) {
		s.registry = r
	}
}

// WithResolverCache sets the cache ContextFor draws resolvers from.
func WithResolverCache(c *ResolverCache) Option {
	return func(s *Serializer) {
		s.cache = c
	}
}

// Serializer turns values into self-describing frames and back.
// It is safe for concurrent use once constructed.
type Serializer struct {
	codec    Codec
	registry *Registry
	cache    *ResolverCache
}

// New creates a Serializer. Without options it uses MessagePack bodies, an
// empty registry and a default resolver cache.
func New(opts ...Option) *Serializer {
	s := &Serializer{}
	for _, opt := range opts {
		opt(s)
	}
	if s.codec == nil {
		s.codec = msgpack.New()
	}
	if s.registry == nil {
		s.registry = NewRegistry()
	}
	if s.cache == nil {
		s.cache = DefaultResolverCache()
	}
	return s
}

// Registry returns the serializer's type registry.
func (s *Serializer) Registry() *Registry { return s.registry }

// Codec returns the canonical body codec.
func (s *Serializer) Codec() Codec { return s.codec }

// ContextFor builds a SerializationContext whose resolver comes from the
// resolver cache.
func (s *Serializer) ContextFor(ctx context.Context, ks Keystore, config *LabelResolverConfig, profileKeys [][]byte, networkPublicKey []byte) *SerializationContext {
	return &SerializationContext{
		Keystore:          ks,
		Resolver:          s.cache.GetOrCreate(ctx, config, profileKeys),
		NetworkPublicKey:  networkPublicKey,
		ProfilePublicKeys: profileKeys,
	}
}

// Marshal wraps v with NewValue and encodes it.
func (s *Serializer) Marshal(ctx context.Context, v any, sc *SerializationContext) ([]byte, error) {
	val, err := NewValue(v)
	if err != nil {
		return nil, err
	}
	return s.Encode(ctx, val, sc)
}

// Encode writes v as a frame. Labeled structs, and containers made entirely
// of labeled structs, are label-encrypted when sc has a keystore and a
// resolver. Structs, lists, maps and JSON are then sealed in one outer
// envelope for the context's recipients. A context with a keystore but no
// network or profile keys writes the body unsealed and logs a warning.
func (s *Serializer) Encode(ctx context.Context, v *Value, sc *SerializationContext) ([]byte, error) {
	start := time.Now()

	if v.IsNull() {
		data, _ := EncodeFrame(Frame{Category: CategoryNull})
		emitEncodeComplete(ctx, CategoryNull, "", len(data), false, time.Since(start), nil)
		return data, nil
	}

	category := v.Category()
	typeName, body, err := s.encodeBody(ctx, v, sc)
	if err != nil {
		emitEncodeComplete(ctx, category, typeName, 0, false, time.Since(start), err)
		return nil, err
	}

	encrypted := false
	if category.Encryptable() && sc.keystore() != nil && !sc.canSeal() {
		Logger().Warn("outer envelope skipped: context has no recipients",
			zap.String("type", typeName),
			zap.Stringer("category", category))
	}
	if category.Encryptable() && sc.canSeal() {
		sealed, err := sc.Keystore.EncryptWithEnvelope(body, sc.NetworkPublicKey, sc.ProfilePublicKeys)
		if err != nil {
			err = newKeystoreError("encrypt", err)
			emitEncodeComplete(ctx, category, typeName, 0, false, time.Since(start), err)
			return nil, err
		}
		body = sealed
		encrypted = true
	}

	data, err := EncodeFrame(Frame{
		Category:  category,
		Encrypted: encrypted,
		TypeName:  typeName,
		Body:      body,
	})
	emitEncodeComplete(ctx, category, typeName, len(data), encrypted, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// encodeBody returns the wire name and the (not yet sealed) body.
func (s *Serializer) encodeBody(ctx context.Context, v *Value, sc *SerializationContext) (string, []byte, error) {
	val, err := v.Interface()
	if err != nil {
		return v.TypeName(), nil, err
	}

	typeName := v.TypeName()
	if typeName == "" {
		typeName, err = s.registry.wireName(v.Category(), val)
		if err != nil {
			return "", nil, err
		}
	}

	if sc.canEncryptLabels() {
		switch v.Category() {
		case CategoryStruct:
			if enc, ok := s.registry.LookupEncryptor(typeName); ok {
				body, err := enc(ctx, val, sc.Keystore, sc.Resolver, s.codec)
				return typeName, body, err
			}
		case CategoryList, CategoryMap:
			body, ok, err := s.encodeElements(ctx, val, sc)
			if err != nil || ok {
				return typeName, body, err
			}
		}
	}

	body, err := s.codec.Marshal(val)
	if err != nil {
		return typeName, nil, newCodecError(ErrMarshal, err)
	}
	return typeName, body, nil
}

// encodeElements label-encrypts every element of a list or map. ok is false
// when any element lacks an encryptor, in which case nothing is encrypted
// and the container is encoded as plain data.
func (s *Serializer) encodeElements(ctx context.Context, val any, sc *SerializationContext) ([]byte, bool, error) {
	rv := indirect(reflect.ValueOf(val))
	if !rv.IsValid() {
		return nil, false, nil
	}

	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		n := rv.Len()
		if n == 0 {
			return nil, false, nil
		}
		encs := make([]EncryptorFunc, n)
		items := make([]any, n)
		for i := 0; i < n; i++ {
			enc, item, ok := s.elementEncryptor(rv.Index(i))
			if !ok {
				return nil, false, nil
			}
			encs[i], items[i] = enc, item
		}
		blobs := make([][]byte, n)
		for i := range items {
			blob, err := encs[i](ctx, items[i], sc.Keystore, sc.Resolver, s.codec)
			if err != nil {
				return nil, true, err
			}
			blobs[i] = blob
		}
		body, err := s.codec.Marshal(blobs)
		if err != nil {
			return nil, true, newCodecError(ErrMarshal, err)
		}
		return body, true, nil

	case reflect.Map:
		keys := rv.MapKeys()
		if len(keys) == 0 {
			return nil, false, nil
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
		encs := make([]EncryptorFunc, len(keys))
		items := make([]any, len(keys))
		for i, key := range keys {
			enc, item, ok := s.elementEncryptor(rv.MapIndex(key))
			if !ok {
				return nil, false, nil
			}
			encs[i], items[i] = enc, item
		}
		blobs := make(map[string]any, len(keys))
		for i, key := range keys {
			blob, err := encs[i](ctx, items[i], sc.Keystore, sc.Resolver, s.codec)
			if err != nil {
				return nil, true, err
			}
			blobs[key.String()] = blob
		}
		body, err := s.codec.Marshal(blobs)
		if err != nil {
			return nil, true, newCodecError(ErrMarshal, err)
		}
		return body, true, nil
	}
	return nil, false, nil
}

// elementEncryptor finds the label encryptor for a container element.
func (s *Serializer) elementEncryptor(rv reflect.Value) (EncryptorFunc, any, bool) {
	elem := indirect(rv)
	if !elem.IsValid() || elem.Kind() != reflect.Struct {
		return nil, nil, false
	}
	name, ok := s.registry.LookupWireName(elem.Type())
	if !ok {
		return nil, nil, false
	}
	enc, ok := s.registry.LookupEncryptor(name)
	if !ok {
		return nil, nil, false
	}
	return enc, elem.Interface(), true
}

// Decode parses a frame. Encrypted structs, lists, maps and JSON become
// lazy values when sc has a keystore; the envelope is opened on first
// access and data is retained until then, so callers must not modify it.
// Everything else is decoded now. An encrypted frame without a keystore
// decodes to a value whose access fails with ErrKeystoreRequired.
func (s *Serializer) Decode(ctx context.Context, data []byte, sc *SerializationContext) (*Value, error) {
	start := time.Now()

	frame, err := DecodeFrame(data)
	if err != nil {
		emitDecodeComplete(ctx, 0, "", len(data), false, time.Since(start), err)
		return nil, err
	}
	if frame.Category == CategoryNull {
		emitDecodeComplete(ctx, CategoryNull, "", len(data), false, time.Since(start), nil)
		return Null(), nil
	}

	v := &Value{
		category:  frame.Category,
		typeName:  frame.TypeName,
		encrypted: frame.Encrypted,
		registry:  s.registry,
		codec:     s.codec,
		keystore:  sc.keystore(),
	}

	switch {
	case frame.Encrypted && v.keystore == nil:
		v.sealed = true
	case frame.Encrypted && frame.Category.Encryptable():
		v.lazy = &lazyBody{
			buf:      data,
			start:    frame.BodyOffset,
			end:      len(data),
			keystore: v.keystore,
		}
	case frame.Encrypted:
		v.lazy = &lazyBody{
			buf:      data,
			start:    frame.BodyOffset,
			end:      len(data),
			keystore: v.keystore,
		}
		err = s.decodeNow(ctx, v)
	default:
		v.body = append([]byte(nil), frame.Body...)
		v.hasBody = true
		err = s.decodeNow(ctx, v)
	}

	emitDecodeComplete(ctx, frame.Category, frame.TypeName, len(data), frame.Encrypted, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Serializer) decodeNow(ctx context.Context, v *Value) error {
	if _, err := v.resolve(ctx, v.defaultTarget()); err != nil {
		Logger().Debug("eager decode failed",
			zap.String("type", v.typeName),
			zap.Stringer("category", v.category),
			zap.Error(err),
		)
		return err
	}
	return nil
}
