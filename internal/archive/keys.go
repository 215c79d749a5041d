package archive

import (
	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-tinylfu"

	"github.com/ossyrian/psbtool/internal/psb"
)

// keyCacheSize bounds the number of derived keystreams kept per archive.
const keyCacheSize = 256

// keyCache memoizes psb.DeriveKey. Extraction, in-place patching and repacking
// all derive the key of the same resource name.
type keyCache struct {
	override *psb.Key
	lfu      *tinylfu.T[string, psb.Key]
}

func newKeyCache(override *psb.Key) *keyCache {
	return &keyCache{
		override: override,
		lfu:      tinylfu.New[string, psb.Key](keyCacheSize, keyCacheSize*10, xxhash.Sum64String),
	}
}

// key returns the keystream for a resource name, or the override when set.
func (c *keyCache) key(name string) psb.Key {
	if c.override != nil {
		return *c.override
	}
	if k, ok := c.lfu.Get(name); ok {
		return k
	}
	k := psb.DeriveKey(name)
	c.lfu.Add(name, k)
	return k
}
