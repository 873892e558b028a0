package serializer

import (
	"fmt"
	"unicode/utf8"
)

// maxWireNameLen is the largest type name a one-byte length can describe.
const maxWireNameLen = 255

// headerLen is category + encrypted flag + name length.
const headerLen = 3

// Frame is a parsed wire frame:
//
//	[category][encrypted-flag][name-len N][N bytes name][body...]
//
// A Null frame is the single byte [0].
type Frame struct {
	Category   Category
	Encrypted  bool
	TypeName   string
	BodyOffset int    // offset of Body within the decoded buffer
	Body       []byte // aliases the decoded buffer
}

// EncodeFrame writes f in wire form. Body is copied after the header.
func EncodeFrame(f Frame) ([]byte, error) {
	if !f.Category.Valid() {
		return nil, newFrameError(ErrInvalidCategoryByte, 0, f.Category.String())
	}
	if f.Category == CategoryNull {
		return []byte{byte(CategoryNull)}, nil
	}
	if len(f.TypeName) > maxWireNameLen {
		return nil, newTypeError(ErrWireNameTooLong, f.TypeName[:32]+"...", "",
			fmt.Errorf("%d bytes, limit %d", len(f.TypeName), maxWireNameLen))
	}

	out := make([]byte, 0, headerLen+len(f.TypeName)+len(f.Body))
	out = append(out, byte(f.Category), boolByte(f.Encrypted), byte(len(f.TypeName)))
	out = append(out, f.TypeName...)
	out = append(out, f.Body...)
	return out, nil
}

// DecodeFrame parses a wire frame. The returned Body aliases data.
func DecodeFrame(data []byte) (Frame, error) {
	if len(data) == 0 {
		return Frame{}, ErrEmptyInput
	}

	category := Category(data[0])
	if !category.Valid() {
		return Frame{}, newFrameError(ErrInvalidCategoryByte, 0, fmt.Sprintf("got %d", data[0]))
	}
	if category == CategoryNull {
		return Frame{Category: CategoryNull, BodyOffset: 1}, nil
	}

	if len(data) < headerLen {
		return Frame{}, newFrameError(ErrInvalidTypeNameLength, len(data), "truncated header")
	}

	var encrypted bool
	switch data[1] {
	case 0:
	case 1:
		encrypted = true
	default:
		return Frame{}, newFrameError(ErrInvalidEncryptedFlag, 1, fmt.Sprintf("got %d", data[1]))
	}

	nameLen := int(data[2])
	if headerLen+nameLen > len(data) {
		return Frame{}, newFrameError(ErrInvalidTypeNameLength, 2,
			fmt.Sprintf("length %d exceeds %d remaining bytes", nameLen, len(data)-headerLen))
	}
	name := data[headerLen : headerLen+nameLen]
	if !utf8.Valid(name) {
		return Frame{}, newFrameError(ErrInvalidTypeNameLength, headerLen, "type name is not valid UTF-8")
	}

	offset := headerLen + nameLen
	return Frame{
		Category:   category,
		Encrypted:  encrypted,
		TypeName:   string(name),
		BodyOffset: offset,
		Body:       data[offset:],
	}, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
