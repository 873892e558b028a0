// Package serializer encodes values into self-describing binary frames with
// optional label-scoped field encryption.
//
// # Frames
//
// Every encoded value is a frame:
//
//	[category][encrypted flag][name length][type name][body]
//
// The category is one of Null, Primitive, List, Map, Struct, Bytes or JSON.
// The type name is the value's wire name ("i64", "list<string>", a
// registered struct name). The body is the canonical encoding of the value,
// MessagePack by default (see the msgpack and cbor subpackages). Null is the
// single byte 0.
//
// # Labels
//
// Struct fields are grouped by label:
//
//	type Profile struct {
//	    ID     string `json:"id"`
//	    Name   string `json:"name" label:"system"`
//	    Secret string `json:"secret" label:"user"`
//	}
//
//	reg := serializer.NewRegistry()
//	serializer.Register[Profile](reg, "example.Profile")
//
// When a SerializationContext carries a keystore and a resolver, each label's
// fields are encoded together and sealed for the keys the resolver maps the
// label to. Unlabeled fields stay in clear. A reader who cannot open a label
// gets that label's fields at their zero values.
//
// # Envelopes
//
// Structs, lists, maps and JSON are additionally sealed in one outer
// envelope for the context's network and profile keys. Decoding such a
// frame with a keystore yields a lazy Value; the envelope is opened once,
// on first access through As or Interface.
//
//	s := serializer.New(serializer.WithRegistry(reg))
//	sc := s.ContextFor(ctx, ks, labels, profileKeys, networkKey)
//
//	data, _ := s.Marshal(ctx, Profile{ID: "p1", Name: "Ada", Secret: "s"}, sc)
//	v, _ := s.Decode(ctx, data, sc)
//	p, _ := serializer.As[Profile](v)
//
// # Keystores
//
// The Keystore interface is the only place key material is touched.
// AgeKeystore seals envelopes with age X25519 recipients; KeyringKeystore
// wraps a per-envelope data key for symmetric key ids.
package serializer
