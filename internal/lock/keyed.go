package lock

import (
	"hash/fnv"
	"sync"
)

// KeyedMutex serializes callers per key inside one process using a fixed
// set of shards. Two keys may share a shard; that only costs throughput.
type KeyedMutex struct {
	shards []sync.Mutex
}

func NewKeyedMutex(shards int) *KeyedMutex {
	if shards < 1 {
		shards = 1
	}
	return &KeyedMutex{shards: make([]sync.Mutex, shards)}
}

// Lock blocks until key's shard is free and returns the matching unlock.
func (k *KeyedMutex) Lock(key string) func() {
	h := fnv.New32a()
	h.Write([]byte(key))
	m := &k.shards[h.Sum32()%uint32(len(k.shards))]
	m.Lock()
	return m.Unlock
}
