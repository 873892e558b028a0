package serializer

import (
	"errors"
	"reflect"
	"strings"
)

// Wire names shared by every implementation.
const (
	WireNameAny   = "any"
	WireNameBytes = "bytes"
	WireNameJSON  = "json"
)

const (
	listPrefix = "list<"
	mapPrefix  = "map<string,"
)

var errMapKey = errors.New("map keys must be strings")

// primitiveWireName returns the fixed wire name for a scalar kind.
func primitiveWireName(k reflect.Kind) (string, bool) {
	switch k {
	case reflect.Bool:
		return "bool", true
	case reflect.Int8:
		return "i8", true
	case reflect.Int16:
		return "i16", true
	case reflect.Int32:
		return "i32", true
	case reflect.Int, reflect.Int64:
		return "i64", true
	case reflect.Uint8:
		return "u8", true
	case reflect.Uint16:
		return "u16", true
	case reflect.Uint32:
		return "u32", true
	case reflect.Uint, reflect.Uint64:
		return "u64", true
	case reflect.Float32:
		return "f32", true
	case reflect.Float64:
		return "f64", true
	case reflect.String:
		return "string", true
	default:
		return "", false
	}
}

var primitiveGoTypes = map[string]reflect.Type{
	"bool":   reflect.TypeFor[bool](),
	"i8":     reflect.TypeFor[int8](),
	"i16":    reflect.TypeFor[int16](),
	"i32":    reflect.TypeFor[int32](),
	"i64":    reflect.TypeFor[int64](),
	"u8":     reflect.TypeFor[uint8](),
	"u16":    reflect.TypeFor[uint16](),
	"u32":    reflect.TypeFor[uint32](),
	"u64":    reflect.TypeFor[uint64](),
	"f32":    reflect.TypeFor[float32](),
	"f64":    reflect.TypeFor[float64](),
	"string": reflect.TypeFor[string](),
}

// goTypeForWireName maps a wire name to a Go type: primitives to their
// fixed-width types, registered names to their struct, and list<E> and
// map<string,E> to []E and map[string]E when E is itself known.
func goTypeForWireName(r *Registry, name string) (reflect.Type, bool) {
	if rt, ok := primitiveGoTypes[name]; ok {
		return rt, true
	}
	if name == WireNameBytes {
		return reflect.TypeFor[[]byte](), true
	}
	if elem, isMap, ok := elementTypeName(name); ok {
		et, ok := goTypeForWireName(r, elem)
		if !ok {
			return nil, false
		}
		if isMap {
			return reflect.MapOf(reflect.TypeFor[string](), et), true
		}
		return reflect.SliceOf(et), true
	}
	if r == nil {
		return nil, false
	}
	return r.LookupType(name)
}

// indirect strips pointers and interfaces. The result is invalid for nil.
func indirect(rv reflect.Value) reflect.Value {
	for rv.IsValid() && (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return reflect.Value{}
		}
		rv = rv.Elem()
	}
	return rv
}

// isBytes reports whether rv is a byte slice (including named byte slices).
func isBytes(rv reflect.Value) bool {
	return rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8
}

// categoryOf infers the category of a Go value from its shape.
func categoryOf(v any) (Category, error) {
	rv := indirect(reflect.ValueOf(v))
	if !rv.IsValid() {
		return CategoryNull, nil
	}
	if isBytes(rv) {
		return CategoryBytes, nil
	}
	if _, ok := primitiveWireName(rv.Kind()); ok {
		return CategoryPrimitive, nil
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return CategoryList, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return 0, newTypeError(ErrUnsupportedValue, "", rv.Type().String(), errMapKey)
		}
		return CategoryMap, nil
	case reflect.Struct:
		return CategoryStruct, nil
	default:
		return 0, newTypeError(ErrUnsupportedValue, "", rv.Type().String(), nil)
	}
}

// wireName derives the wire type name for a value of the given category.
func (r *Registry) wireName(category Category, v any) (string, error) {
	rv := indirect(reflect.ValueOf(v))
	switch category {
	case CategoryNull:
		return "", nil
	case CategoryBytes:
		return WireNameBytes, nil
	case CategoryJSON:
		if rv.IsValid() {
			if name, ok := r.LookupWireName(rv.Type()); ok {
				return name, nil
			}
		}
		return WireNameJSON, nil
	case CategoryStruct:
		name, ok := r.LookupWireName(rv.Type())
		if !ok {
			return "", newTypeError(ErrMissingWireName, "", rv.Type().String(), nil)
		}
		return name, nil
	default:
		return r.valueWireName(rv), nil
	}
}

// valueWireName names a (possibly nested) value. Unregistered structs and
// unsupported shapes become "any".
func (r *Registry) valueWireName(rv reflect.Value) string {
	rv = indirect(rv)
	if !rv.IsValid() {
		return WireNameAny
	}
	if isBytes(rv) {
		return WireNameBytes
	}
	if name, ok := primitiveWireName(rv.Kind()); ok {
		return name
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return listPrefix + r.elementWireName(rv.Len(), rv.Index) + ">"
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return WireNameAny
		}
		keys := rv.MapKeys()
		return mapPrefix + r.elementWireName(len(keys), func(i int) reflect.Value {
			return rv.MapIndex(keys[i])
		}) + ">"
	case reflect.Struct:
		if name, ok := r.LookupWireName(rv.Type()); ok {
			return name
		}
	}
	return WireNameAny
}

// elementWireName returns the shared element name, or "any" when the
// container is empty or heterogeneous.
func (r *Registry) elementWireName(n int, at func(int) reflect.Value) string {
	if n == 0 {
		return WireNameAny
	}
	shared := r.valueWireName(at(0))
	for i := 1; i < n; i++ {
		if r.valueWireName(at(i)) != shared {
			return WireNameAny
		}
	}
	return shared
}

// elementTypeName extracts E from "list<E>" or "map<string,E>".
func elementTypeName(wireName string) (name string, isMap bool, ok bool) {
	if !strings.HasSuffix(wireName, ">") {
		return "", false, false
	}
	if inner, found := strings.CutPrefix(wireName, listPrefix); found {
		return strings.TrimSuffix(inner, ">"), false, true
	}
	if inner, found := strings.CutPrefix(wireName, mapPrefix); found {
		return strings.TrimSuffix(inner, ">"), true, true
	}
	return "", false, false
}
