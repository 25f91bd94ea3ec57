package core

import (
	"container/list"
	"sync"
)

// RecentKeys is a bounded LRU set of processed message keys. Inbound
// consumers use it to drop redeliveries of messages they already applied.
type RecentKeys struct {
	mu       sync.Mutex
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64
}

func NewRecentKeys(capacity int) *RecentKeys {
	if capacity <= 0 {
		capacity = 1
	}
	return &RecentKeys{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// Contains reports whether key was seen and promotes it.
func (k *RecentKeys) Contains(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	elem, ok := k.cache[key]
	if ok {
		k.lruList.MoveToFront(elem)
	}
	return ok
}

// Add records key, evicting the least recently used entry when full.
func (k *RecentKeys) Add(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if elem, ok := k.cache[key]; ok {
		k.lruList.MoveToFront(elem)
		return
	}
	k.cache[key] = k.lruList.PushFront(key)
	if k.lruList.Len() > k.capacity {
		oldest := k.lruList.Back()
		k.lruList.Remove(oldest)
		delete(k.cache, oldest.Value.(string))
		k.evictions++
	}
}

func (k *RecentKeys) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.lruList.Len()
}

func (k *RecentKeys) Evictions() int64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.evictions
}
