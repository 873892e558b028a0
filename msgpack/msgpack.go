// Package msgpack provides the MessagePack body codec.
//
// Output is canonical: map keys are sorted and integers use their most
// compact form, so the same logical value always produces the same bytes.
// Struct fields are named by their `json` tag, matching the cbor codec.
// Only string-keyed maps are sorted; maps with other key types keep Go's
// iteration order.
package msgpack

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// structTag is shared with the cbor codec so both agree on field keys.
const structTag = "json"

// Codec encodes values as canonical MessagePack.
type Codec struct{}

// New returns a MessagePack codec.
func New() *Codec {
	return &Codec{}
}

// ContentType returns the MIME type for MessagePack.
func (c *Codec) ContentType() string {
	return "application/msgpack"
}

// Marshal encodes v as MessagePack.
//
// The library sorts only map[string]string, map[string]bool and
// map[string]any, so v is encoded once, read back into its generic form
// (where every string-keyed map is a map[string]any) and encoded again.
func (c *Codec) Marshal(v any) ([]byte, error) {
	raw, err := encode(v)
	if err != nil {
		return nil, err
	}
	generic, err := decodeGeneric(raw)
	if err != nil {
		return nil, err
	}
	return encode(generic)
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	enc.SetCustomStructTag(structTag)
	enc.UseCompactInts(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeGeneric reads data into interfaces, maps and slices only.
func decodeGeneric(data []byte) (any, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetMapDecoder(decodeMap)
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// decodeMap returns map[string]any when every key is a string.
func decodeMap(d *msgpack.Decoder) (any, error) {
	m, err := d.DecodeUntypedMap()
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		key, ok := k.(string)
		if !ok {
			return m, nil
		}
		out[key] = v
	}
	return out, nil
}

// Unmarshal decodes MessagePack data into v.
func (c *Codec) Unmarshal(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag(structTag)
	return dec.Decode(v)
}
