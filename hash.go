package serializer

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"slices"

	"github.com/zeebo/blake3"
)

// cacheKeyDomain is the BLAKE3 key for resolver cache digests. The bytes
// are the ASCII domain name zero-padded to 32 bytes.
var cacheKeyDomain = [32]byte{
	's', 'e', 'r', 'i', 'a', 'l', 'i', 'z', 'e', 'r', '.', 'r', 'e', 's', 'o', 'l',
	'v', 'e', 'r', '.', 'c', 'a', 'c', 'h', 'e', 0, 0, 0, 0, 0, 0, 0,
}

// compareProfileKeys orders keys by length, then lexicographically.
func compareProfileKeys(a, b []byte) int {
	if len(a) != len(b) {
		return len(a) - len(b)
	}
	return bytes.Compare(a, b)
}

// ProfileKeysDigest returns a deterministic digest of a profile-key set.
// Key order does not affect the result. Each key is length-prefixed so
// that different splits of the same bytes never collide.
func ProfileKeysDigest(profileKeys [][]byte) string {
	sorted := slices.Clone(profileKeys)
	slices.SortFunc(sorted, compareProfileKeys)

	hasher, err := blake3.NewKeyed(cacheKeyDomain[:])
	if err != nil {
		// NewKeyed only fails on a key that is not 32 bytes.
		panic("serializer: invalid cache key domain: " + err.Error())
	}

	var prefix [8]byte
	binary.BigEndian.PutUint64(prefix[:], uint64(len(sorted)))
	_, _ = hasher.Write(prefix[:])
	for _, key := range sorted {
		binary.BigEndian.PutUint64(prefix[:], uint64(len(key)))
		_, _ = hasher.Write(prefix[:])
		_, _ = hasher.Write(key)
	}
	return hex.EncodeToString(hasher.Sum(nil))
}
