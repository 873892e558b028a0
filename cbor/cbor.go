// Package cbor provides the CBOR body codec.
//
// Encoding follows Core Deterministic Encoding (RFC 8949 §4.2): sorted map
// keys, smallest integer encoding, no indefinite-length items. Decoding into
// an untyped target produces map[string]any for maps.
package cbor

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("cbor: encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Frames only carry string-keyed maps; untyped targets must come
		// back as map[string]any to line up with the msgpack codec.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("cbor: decoder initialization failed: " + err.Error())
	}
}

// Codec encodes values as deterministic CBOR.
type Codec struct{}

// New returns a CBOR codec.
func New() *Codec {
	return &Codec{}
}

// ContentType returns the MIME type for CBOR.
func (c *Codec) ContentType() string {
	return "application/cbor"
}

// Marshal encodes v as CBOR.
func (c *Codec) Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func (c *Codec) Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
