package serializer

// Codec encodes canonical frame bodies. Implementations must be
// deterministic: equal values produce equal bytes.
type Codec interface {
	// ContentType returns the MIME type for this codec (e.g., "application/msgpack").
	ContentType() string

	// Marshal encodes v into bytes.
	Marshal(v any) ([]byte, error)

	// Unmarshal decodes data into v.
	Unmarshal(data []byte, v any) error
}
