package serializer

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"go.uber.org/zap"
)

// EncryptedLabelGroup is one label's fields sealed in a single envelope.
type EncryptedLabelGroup struct {
	Label          string `json:"label"`
	EnvelopeCipher []byte `json:"envelope_cipher"`
}

// Companion is the encrypted form of a labeled value: unlabeled fields in
// clear plus one envelope per label. On the wire it is a single flat map
//
//	{<plain key>: value, ..., "<label>_encrypted": {label, envelope_cipher}, ...}
type Companion struct {
	TypeName string
	Plain    map[string]any
	Groups   []EncryptedLabelGroup
}

// Group returns the group for label, if present.
func (c *Companion) Group(label string) (EncryptedLabelGroup, bool) {
	for _, g := range c.Groups {
		if g.Label == label {
			return g, true
		}
	}
	return EncryptedLabelGroup{}, false
}

// MarshalCompanion encodes a companion as its flat wire map.
func MarshalCompanion(codec Codec, c *Companion) ([]byte, error) {
	flat := make(map[string]any, len(c.Plain)+len(c.Groups))
	for key, value := range c.Plain {
		flat[key] = value
	}
	for _, g := range c.Groups {
		flat[CompanionKey(g.Label)] = g
	}
	data, err := codec.Marshal(flat)
	if err != nil {
		return nil, newCodecError(ErrMarshal, err)
	}
	return data, nil
}

// UnmarshalCompanion splits a flat wire map back into plain fields and
// label groups. Keys ending in "_encrypted" that hold a well-formed group
// become groups; everything else is plain.
func UnmarshalCompanion(codec Codec, typeName string, data []byte) (*Companion, error) {
	var flat map[string]any
	if err := codec.Unmarshal(data, &flat); err != nil {
		return nil, newCodecError(ErrUnmarshal, err)
	}

	c := &Companion{TypeName: typeName, Plain: make(map[string]any, len(flat))}
	for key, value := range flat {
		label, isGroup := strings.CutSuffix(key, encryptedSuffix)
		if isGroup {
			if g, ok := asLabelGroup(codec, value); ok && g.Label == label {
				c.Groups = append(c.Groups, g)
				continue
			}
		}
		c.Plain[key] = value
	}
	return c, nil
}

// asLabelGroup converts a generically decoded map into a group.
func asLabelGroup(codec Codec, value any) (EncryptedLabelGroup, bool) {
	if _, ok := value.(map[string]any); !ok {
		return EncryptedLabelGroup{}, false
	}
	data, err := codec.Marshal(value)
	if err != nil {
		return EncryptedLabelGroup{}, false
	}
	var g EncryptedLabelGroup
	if err := codec.Unmarshal(data, &g); err != nil || g.Label == "" {
		return EncryptedLabelGroup{}, false
	}
	return g, true
}

// EncryptLabels groups value's labeled fields by label and seals each group
// through the keystore. Labels are processed in plan order; unlabeled fields
// are copied into the companion as-is.
//
// A group's plaintext is the codec's encoding of a field-key to value map.
// Canonical codecs write those keys sorted, so the plaintext does not depend
// on the order fields are declared in.
func EncryptLabels(ctx context.Context, plan *LabelPlan, value any, ks Keystore, resolver *LabelResolver, codec Codec) (*Companion, error) {
	if ks == nil {
		return nil, newLabelError(ErrKeystoreRequired, plan.TypeName, "", nil)
	}
	if resolver == nil {
		return nil, newLabelError(ErrLabelNotResolvable, plan.TypeName, "", fmt.Errorf("no resolver"))
	}

	rv, err := structValue(value, plan.goType)
	if err != nil {
		return nil, newTypeError(ErrUnsupportedValue, plan.TypeName, fmt.Sprintf("%T", value), err)
	}

	c := &Companion{TypeName: plan.TypeName, Plain: make(map[string]any, len(plan.plain))}
	for _, f := range plan.plain {
		c.Plain[f.key] = rv.FieldByIndex(f.index).Interface()
	}

	for _, label := range plan.labels {
		group := make(map[string]any)
		for _, f := range plan.fields {
			if f.Label == label {
				group[f.Key] = rv.FieldByIndex(f.index).Interface()
			}
		}
		encoded, err := codec.Marshal(group)
		if err != nil {
			return nil, newCodecError(ErrMarshal, err)
		}

		info, ok := resolver.ResolveLabelInfo(label)
		if !ok {
			return nil, newLabelError(ErrLabelNotResolvable, plan.TypeName, label, nil)
		}
		sealed, err := ks.EncryptWithEnvelope(encoded, info.NetworkPublicKey, info.ProfilePublicKeys)
		if err != nil {
			return nil, newLabelError(ErrKeystoreFailure, plan.TypeName, label, newKeystoreError("encrypt", err))
		}
		c.Groups = append(c.Groups, EncryptedLabelGroup{Label: label, EnvelopeCipher: sealed})
	}
	return c, nil
}

// DecryptLabels rebuilds a plain value of the plan's type from a companion.
//
// Plain fields are always copied. Each label group is opened independently;
// a group that cannot be decrypted or decoded leaves its fields at their zero
// values and does not fail the call. Only a nil keystore is an error.
// The result is a value of the plan's Go type (not a pointer).
func DecryptLabels(ctx context.Context, plan *LabelPlan, c *Companion, ks Keystore, codec Codec) (any, error) {
	if ks == nil {
		return nil, newLabelError(ErrKeystoreRequired, plan.TypeName, "", nil)
	}

	result := reflect.New(plan.goType)
	if len(c.Plain) > 0 {
		data, err := codec.Marshal(c.Plain)
		if err != nil {
			return nil, newCodecError(ErrMarshal, err)
		}
		if err := codec.Unmarshal(data, result.Interface()); err != nil {
			return nil, newCodecError(ErrUnmarshal, err)
		}
	}

	for _, g := range c.Groups {
		if err := openLabelGroup(plan, g, ks, codec, result.Elem()); err != nil {
			Logger().Debug("label group withheld",
				zap.String("type", plan.TypeName),
				zap.String("label", g.Label),
				zap.Error(err))
			emitLabelDenied(ctx, plan.TypeName, g.Label, err)
		}
	}
	return result.Elem().Interface(), nil
}

// openLabelGroup decrypts one group into a scratch value and copies only
// that label's fields onto dst, so a failure part-way leaves dst untouched.
func openLabelGroup(plan *LabelPlan, g EncryptedLabelGroup, ks Keystore, codec Codec, dst reflect.Value) error {
	fields := plan.FieldsFor(g.Label)
	if len(fields) == 0 {
		return fmt.Errorf("label %q not declared on %s", g.Label, plan.TypeName)
	}

	plaintext, err := ks.DecryptEnvelope(g.EnvelopeCipher)
	if err != nil {
		return newKeystoreError("decrypt", err)
	}
	scratch := reflect.New(plan.goType)
	if err := codec.Unmarshal(plaintext, scratch.Interface()); err != nil {
		return newCodecError(ErrUnmarshal, err)
	}
	for _, f := range fields {
		dst.FieldByIndex(f.index).Set(scratch.Elem().FieldByIndex(f.index))
	}
	return nil
}

// structValue dereferences value to a struct of type want.
func structValue(value any, want reflect.Type) (reflect.Value, error) {
	rv := reflect.ValueOf(value)
	if !rv.IsValid() {
		return reflect.Value{}, fmt.Errorf("nil value")
	}
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return reflect.Value{}, fmt.Errorf("nil value")
		}
		rv = rv.Elem()
	}
	if rv.Type() != want {
		return reflect.Value{}, fmt.Errorf("got %s, want %s", rv.Type(), want)
	}
	return rv, nil
}
