package cache

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// keyDomain separates cache-key hashes from any other BLAKE3 use. Changing
// it invalidates every existing cache entry.
var keyDomain = [32]byte{
	'b', 'u', 'c', 'k', 'l', 'e', '.', 'c', 'a', 'c', 'h', 'e', '.',
	'k', 'e', 'y', '.', 'v', '1', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Key identifies one (tool, version, target) materialization.
type Key struct {
	Tool    string
	Version string
	Target  string
	Hash    string
}

// NewKey derives the key deterministically from its inputs. Fields are
// length-prefixed so that no two input tuples share an encoding.
func NewKey(tool, version, target string) Key {
	hasher, err := blake3.NewKeyed(keyDomain[:])
	if err != nil {
		// NewKeyed only fails for keys that are not 32 bytes.
		panic("cache: blake3 keyed hasher: " + err.Error())
	}

	var length [8]byte
	for _, field := range []string{tool, version, target} {
		binary.BigEndian.PutUint64(length[:], uint64(len(field)))
		hasher.Write(length[:])
		hasher.Write([]byte(field))
	}

	sum := hasher.Sum(nil)
	return Key{
		Tool:    tool,
		Version: version,
		Target:  target,
		Hash:    hex.EncodeToString(sum[:16]),
	}
}

// String returns the hash.
func (k Key) String() string {
	return k.Hash
}
