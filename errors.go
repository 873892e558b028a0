package serializer

import (
	"errors"
	"fmt"
)

// Sentinel errors for programmatic error handling.
// Use errors.Is() to check for these error types.
var (
	// ErrEmptyInput indicates a zero-length buffer was passed to Decode.
	ErrEmptyInput = errors.New("empty input")

	// ErrInvalidCategoryByte indicates the leading frame byte is not a known category.
	ErrInvalidCategoryByte = errors.New("invalid category byte")

	// ErrInvalidEncryptedFlag indicates the encrypted-flag byte is neither 0 nor 1.
	ErrInvalidEncryptedFlag = errors.New("invalid encrypted flag")

	// ErrInvalidTypeNameLength indicates the type-name length exceeds the buffer.
	ErrInvalidTypeNameLength = errors.New("invalid type name length")

	// ErrWireNameTooLong indicates a wire name longer than 255 bytes.
	ErrWireNameTooLong = errors.New("wire name too long")

	// ErrMissingWireName indicates a struct type with no registered wire name.
	ErrMissingWireName = errors.New("missing wire name")

	// ErrLabelNotResolvable indicates a label absent from the resolver configuration.
	ErrLabelNotResolvable = errors.New("label not resolvable")

	// ErrKeystoreRequired indicates a decrypt was attempted without a keystore.
	ErrKeystoreRequired = errors.New("keystore required")

	// ErrNoDecryptorForType indicates a lazy value could not be decoded by any means.
	ErrNoDecryptorForType = errors.New("no decryptor for type")

	// ErrKeystoreFailure indicates the keystore boundary itself failed.
	ErrKeystoreFailure = errors.New("keystore failure")

	// ErrUnsupportedValue indicates a Go value with no category mapping.
	ErrUnsupportedValue = errors.New("unsupported value")

	// ErrInvalidLabel indicates a malformed label declaration.
	ErrInvalidLabel = errors.New("invalid label")

	// ErrUnmarshal indicates the codec failed to unmarshal input data.
	ErrUnmarshal = errors.New("unmarshal failed")

	// ErrMarshal indicates the codec failed to marshal output data.
	ErrMarshal = errors.New("marshal failed")

	// ErrInvalidConfig indicates a label configuration that cannot be loaded.
	ErrInvalidConfig = errors.New("invalid config")
)

// FrameError reports a malformed wire frame.
type FrameError struct {
	Err    error // Underlying sentinel error
	Offset int   // Byte offset where parsing stopped
	Detail string
}

func (e *FrameError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s at offset %d: %s", e.Err.Error(), e.Offset, e.Detail)
	}
	return fmt.Sprintf("%s at offset %d", e.Err.Error(), e.Offset)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// LabelError represents a failure while encrypting a label group or
// registering a label declaration.
type LabelError struct {
	Err      error  // Underlying sentinel error
	TypeName string // Wire name of the value being processed
	Label    string // Label that failed
	Field    string // Field name, for declaration errors
	Cause    error
}

func (e *LabelError) Error() string {
	msg := e.Err.Error()
	if e.Label != "" {
		msg = fmt.Sprintf("%s %q", msg, e.Label)
	}
	if e.TypeName != "" {
		msg = fmt.Sprintf("%s (type %s)", msg, e.TypeName)
	}
	if e.Field != "" {
		msg = fmt.Sprintf("%s (field %s)", msg, e.Field)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *LabelError) Unwrap() error {
	return e.Err
}

// KeystoreError wraps a failure returned by the keystore boundary.
// It matches ErrKeystoreFailure and the original cause.
type KeystoreError struct {
	Op    string // "encrypt" or "decrypt"
	Cause error
}

func (e *KeystoreError) Error() string {
	return fmt.Sprintf("%s: %s envelope: %v", ErrKeystoreFailure.Error(), e.Op, e.Cause)
}

func (e *KeystoreError) Unwrap() []error {
	return []error{ErrKeystoreFailure, e.Cause}
}

// CodecError represents a marshal/unmarshal error.
type CodecError struct {
	Err   error // Underlying sentinel error (ErrMarshal, ErrUnmarshal)
	Cause error // Original error from the codec
}

func (e *CodecError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Err.Error(), e.Cause)
	}
	return e.Err.Error()
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

// TypeError reports a type-level failure: missing wire name, unsupported
// value shape, or no way to decode a wire name into the requested type.
type TypeError struct {
	Err      error
	TypeName string
	GoType   string
	Cause    error
}

func (e *TypeError) Error() string {
	msg := e.Err.Error()
	if e.TypeName != "" {
		msg = fmt.Sprintf("%s %q", msg, e.TypeName)
	}
	if e.GoType != "" {
		msg = fmt.Sprintf("%s (Go type %s)", msg, e.GoType)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *TypeError) Unwrap() error {
	return e.Err
}

func newFrameError(sentinel error, offset int, detail string) error {
	return &FrameError{Err: sentinel, Offset: offset, Detail: detail}
}

func newLabelError(sentinel error, typeName, label string, cause error) error {
	return &LabelError{Err: sentinel, TypeName: typeName, Label: label, Cause: cause}
}

func newKeystoreError(op string, cause error) error {
	return &KeystoreError{Op: op, Cause: cause}
}

func newCodecError(sentinel error, cause error) error {
	return &CodecError{Err: sentinel, Cause: cause}
}

func newTypeError(sentinel error, typeName, goType string, cause error) error {
	return &TypeError{Err: sentinel, TypeName: typeName, GoType: goType, Cause: cause}
}
