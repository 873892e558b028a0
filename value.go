package serializer

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/runar-labs/serializer/msgpack"
)

var anyType = reflect.TypeFor[any]()

// Value is a tagged value: a category and wire name plus either a decoded
// Go value (eager) or a reference into an encrypted buffer (lazy).
//
// A lazy value opens its envelope on first access and memoizes the
// plaintext, so the keystore is called at most once even when several
// goroutines access it concurrently. Read values with As or Interface.
type Value struct {
	category  Category
	typeName  string
	encrypted bool

	mu       sync.Mutex
	value    any
	hasValue bool
	body     []byte // canonical plaintext body
	hasBody  bool
	lazy     *lazyBody
	sealed   bool // encrypted body with no keystore to open it
	keystore Keystore
	registry *Registry
	codec    Codec
}

// lazyBody is the captured state of an unopened envelope.
type lazyBody struct {
	buf        []byte
	start, end int
	keystore   Keystore
}

// Null returns the null value.
func Null() *Value {
	return &Value{category: CategoryNull, hasValue: true}
}

// NewValue wraps a Go value, inferring its category from its shape:
// scalars are primitive, []byte is bytes, slices and arrays are lists,
// string-keyed maps are maps and structs are structs. nil is null.
func NewValue(v any) (*Value, error) {
	category, err := categoryOf(v)
	if err != nil {
		return nil, err
	}
	if category == CategoryNull {
		return Null(), nil
	}
	return &Value{category: category, value: v, hasValue: true}, nil
}

// JSON wraps v as a JSON-category value.
func JSON(v any) *Value {
	if v == nil {
		return Null()
	}
	return &Value{category: CategoryJSON, value: v, hasValue: true}
}

// Bytes wraps raw bytes.
func Bytes(b []byte) *Value {
	return &Value{category: CategoryBytes, value: b, hasValue: true}
}

// Category returns the value's category.
func (v *Value) Category() Category { return v.category }

// TypeName returns the wire name. Empty for constructed values until encoded.
func (v *Value) TypeName() string { return v.typeName }

// IsNull reports whether v is the null value.
func (v *Value) IsNull() bool { return v == nil || v.category == CategoryNull }

// Encrypted reports whether the frame this value was decoded from carried
// an outer envelope.
func (v *Value) Encrypted() bool { return v.encrypted }

// IsLazy reports whether the envelope is still unopened.
func (v *Value) IsLazy() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lazy != nil
}

// As returns the value decoded as T.
func As[T any](v *Value) (T, error) {
	return AsContext[T](context.Background(), v)
}

// AsContext is As with a context for event emission.
func AsContext[T any](ctx context.Context, v *Value) (T, error) {
	var zero T
	if v.IsNull() {
		return zero, nil
	}
	out, err := v.resolve(ctx, reflect.TypeFor[T]())
	if err != nil {
		return zero, err
	}
	if out == nil {
		return zero, nil
	}
	typed, ok := out.(T)
	if !ok {
		return zero, newTypeError(ErrNoDecryptorForType, v.typeName, reflect.TypeFor[T]().String(),
			fmt.Errorf("decoded %T", out))
	}
	return typed, nil
}

// Interface returns the value decoded into its natural Go form: the Go
// type named by the wire name for primitives, the registered Go type for
// structs, []E or map[string]E for containers whose element type is known,
// and generic values otherwise. As[any] returns the same form.
func (v *Value) Interface() (any, error) {
	if v.IsNull() {
		return nil, nil
	}
	v.mu.Lock()
	if v.hasValue {
		out := v.value
		v.mu.Unlock()
		return out, nil
	}
	v.mu.Unlock()
	return v.resolve(context.Background(), v.defaultTarget())
}

func (v *Value) resolve(ctx context.Context, target reflect.Type) (any, error) {
	if target == anyType {
		target = v.defaultTarget()
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.hasValue {
		if out, ok := convertTo(v.value, target); ok {
			return out, nil
		}
	}

	body, err := v.plainBodyLocked(ctx)
	if err != nil {
		return nil, err
	}
	out, err := v.decodeLocked(ctx, body, target)
	if err != nil {
		return nil, err
	}
	if !v.hasValue {
		v.value = out
		v.hasValue = true
	}
	return out, nil
}

// plainBodyLocked returns the canonical plaintext body, opening the lazy
// envelope on first use. A failed open is not memoized.
func (v *Value) plainBodyLocked(ctx context.Context) ([]byte, error) {
	if v.hasBody {
		return v.body, nil
	}
	if v.lazy != nil {
		start := time.Now()
		envelope := v.lazy.buf[v.lazy.start:v.lazy.end]
		plaintext, err := v.lazy.keystore.DecryptEnvelope(envelope)
		if err != nil {
			err = newKeystoreError("decrypt", err)
			emitValueResolved(ctx, v.typeName, len(envelope), time.Since(start), err)
			return nil, err
		}
		emitValueResolved(ctx, v.typeName, len(envelope), time.Since(start), nil)
		v.keystore = v.lazy.keystore
		v.lazy = nil
		v.body, v.hasBody = plaintext, true
		return plaintext, nil
	}
	if v.sealed {
		return nil, newTypeError(ErrKeystoreRequired, v.typeName, "", fmt.Errorf("value is encrypted"))
	}
	if v.hasValue {
		data, err := v.codecOrDefault().Marshal(v.value)
		if err != nil {
			return nil, newCodecError(ErrMarshal, err)
		}
		v.body, v.hasBody = data, true
		return data, nil
	}
	return nil, newTypeError(ErrNoDecryptorForType, v.typeName, "", fmt.Errorf("no body"))
}

// decodeLocked turns a plaintext body into a value of type target.
func (v *Value) decodeLocked(ctx context.Context, body []byte, target reflect.Type) (any, error) {
	codec := v.codecOrDefault()
	reg := v.registry
	ks := v.keystore

	// Labeled structs decode through their decryptor when key material is
	// available; decoding the companion directly would drop every label.
	if reg != nil && ks != nil {
		if plan, ok := reg.LookupPlan(v.typeName); ok && plan.HasLabels() && matchesType(target, plan.goType) {
			if dec, ok := reg.LookupDecryptor(v.typeName); ok {
				out, err := dec(ctx, body, ks, codec)
				if err != nil {
					return nil, err
				}
				if conv, ok := convertTo(out, target); ok {
					return conv, nil
				}
			}
		}
	}

	ptr := reflect.New(target)
	canonErr := codec.Unmarshal(body, ptr.Interface())
	if canonErr == nil {
		return ptr.Elem().Interface(), nil
	}

	if reg != nil && ks != nil {
		if dec, ok := reg.LookupDecryptor(v.typeName); ok {
			if out, err := dec(ctx, body, ks, codec); err == nil {
				if conv, ok := convertTo(out, target); ok {
					return conv, nil
				}
			}
		}
		if out, handled, err := v.decodeElementsLocked(ctx, body, target); handled {
			return out, err
		}
	}

	return nil, newTypeError(ErrNoDecryptorForType, v.typeName, target.String(),
		newCodecError(ErrUnmarshal, canonErr))
}

// decodeElementsLocked decodes a container whose elements were encrypted
// one by one. handled is false when the body is not such a container.
func (v *Value) decodeElementsLocked(ctx context.Context, body []byte, target reflect.Type) (any, bool, error) {
	elemName, isMap, ok := elementTypeName(v.typeName)
	if !ok {
		return nil, false, nil
	}
	dec, ok := v.registry.LookupDecryptor(elemName)
	if !ok {
		return nil, false, nil
	}
	elemType := anyType
	if rt, ok := v.registry.LookupType(elemName); ok {
		elemType = rt
	}
	codec := v.codecOrDefault()

	if isMap {
		containerType := target
		if target.Kind() == reflect.Interface {
			containerType = reflect.MapOf(reflect.TypeFor[string](), elemType)
		}
		if containerType.Kind() != reflect.Map || containerType.Key().Kind() != reflect.String {
			return nil, false, nil
		}
		var blobs map[string][]byte
		if err := codec.Unmarshal(body, &blobs); err != nil {
			return nil, false, nil
		}
		out := reflect.MakeMapWithSize(containerType, len(blobs))
		for key, blob := range blobs {
			item, err := dec(ctx, blob, v.keystore, codec)
			if err != nil {
				return nil, true, err
			}
			conv, ok := convertTo(item, containerType.Elem())
			if !ok {
				return nil, true, newTypeError(ErrNoDecryptorForType, elemName, containerType.Elem().String(), nil)
			}
			out.SetMapIndex(reflect.ValueOf(key).Convert(containerType.Key()), valueOf(conv, containerType.Elem()))
		}
		return out.Interface(), true, nil
	}

	containerType := target
	if target.Kind() == reflect.Interface {
		containerType = reflect.SliceOf(elemType)
	}
	if containerType.Kind() != reflect.Slice {
		return nil, false, nil
	}
	var blobs [][]byte
	if err := codec.Unmarshal(body, &blobs); err != nil {
		return nil, false, nil
	}
	out := reflect.MakeSlice(containerType, len(blobs), len(blobs))
	for i, blob := range blobs {
		item, err := dec(ctx, blob, v.keystore, codec)
		if err != nil {
			return nil, true, err
		}
		conv, ok := convertTo(item, containerType.Elem())
		if !ok {
			return nil, true, newTypeError(ErrNoDecryptorForType, elemName, containerType.Elem().String(), nil)
		}
		out.Index(i).Set(valueOf(conv, containerType.Elem()))
	}
	return out.Interface(), true, nil
}

// defaultTarget picks the Go type Interface decodes into.
func (v *Value) defaultTarget() reflect.Type {
	if v.category == CategoryBytes {
		return reflect.TypeFor[[]byte]()
	}
	if rt, ok := goTypeForWireName(v.registry, v.typeName); ok {
		return rt
	}
	return anyType
}

func (v *Value) codecOrDefault() Codec {
	if v.codec != nil {
		return v.codec
	}
	return msgpack.New()
}

// convertTo adapts a decoded value to target, following one level of
// pointer in either direction.
func convertTo(value any, target reflect.Type) (any, bool) {
	if value == nil {
		return reflect.Zero(target).Interface(), target.Kind() == reflect.Interface || target.Kind() == reflect.Pointer
	}
	rv := reflect.ValueOf(value)
	if rv.Type().AssignableTo(target) {
		return value, true
	}
	if rv.Kind() == reflect.Pointer && !rv.IsNil() && rv.Elem().Type().AssignableTo(target) {
		return rv.Elem().Interface(), true
	}
	if target.Kind() == reflect.Pointer && rv.Type().AssignableTo(target.Elem()) {
		p := reflect.New(target.Elem())
		p.Elem().Set(rv)
		return p.Interface(), true
	}
	return nil, false
}

// valueOf returns a reflect.Value of type t holding v; v may be nil for
// interface and pointer types.
func valueOf(v any, t reflect.Type) reflect.Value {
	if v == nil {
		return reflect.Zero(t)
	}
	return reflect.ValueOf(v)
}

func matchesType(target, goType reflect.Type) bool {
	return target == goType || (target.Kind() == reflect.Pointer && target.Elem() == goType)
}
