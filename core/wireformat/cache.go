// Copyright 2018 Comcast Cable Communications Management, LLC
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package wireformat

import "container/list"

// marshalCache is the integer-indexed LRU table of recently transmitted
// data structures (destinations, producer ids). It is only consulted
// when both peers have negotiated CacheEnabled; disabled by default
// until negotiation completes.
type marshalCache struct {
	size    int
	entries map[int]*list.Element
	order   *list.List // front = most recently used
	nextIdx int
	// reverse maps a value's string form to the index it was cached
	// under, so the writer can emit "reference by index" instead of the
	// full value on a repeat.
	reverse map[string]int
}

type cacheEntry struct {
	index int
	key   string
}

func newMarshalCache(size int) *marshalCache {
	return &marshalCache{
		size:    size,
		entries: make(map[int]*list.Element),
		order:   list.New(),
		reverse: make(map[string]int),
	}
}

// lookup returns the cached index for key, if present, promoting it to
// most-recently-used.
func (c *marshalCache) lookup(key string) (int, bool) {
	idx, ok := c.reverse[key]
	if !ok {
		return 0, false
	}
	if el, ok := c.entries[idx]; ok {
		c.order.MoveToFront(el)
	}
	return idx, true
}

// add assigns a new cache index to key, evicting the least-recently-used
// entry if the cache is at capacity, and returns the assigned index.
func (c *marshalCache) add(key string) int {
	if c.size <= 0 {
		return -1
	}
	idx := c.nextIdx
	if len(c.entries) >= c.size {
		back := c.order.Back()
		if back != nil {
			evicted := back.Value.(*cacheEntry)
			delete(c.entries, evicted.index)
			delete(c.reverse, evicted.key)
			c.order.Remove(back)
			// The new key takes over the evicted slot, so no live entry
			// ever shares an index with it.
			idx = evicted.index
		}
	} else {
		c.nextIdx++
	}
	entry := &cacheEntry{index: idx, key: key}
	el := c.order.PushFront(entry)
	c.entries[idx] = el
	c.reverse[key] = idx
	return idx
}

// resolve returns the key previously cached under idx, on the decode
// side's mirror table.
func (c *marshalCache) resolve(idx int) (string, bool) {
	el, ok := c.entries[idx]
	if !ok {
		return "", false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).key, true
}

// store installs key under an explicit index on the decode side, where
// the index was assigned by the encoder rather than chosen locally.
func (c *marshalCache) store(idx int, key string) {
	if c.size <= 0 {
		return
	}
	if el, ok := c.entries[idx]; ok {
		evicted := el.Value.(*cacheEntry)
		delete(c.reverse, evicted.key)
		el.Value = &cacheEntry{index: idx, key: key}
		c.order.MoveToFront(el)
		c.reverse[key] = idx
		return
	}
	entry := &cacheEntry{index: idx, key: key}
	el := c.order.PushFront(entry)
	c.entries[idx] = el
	c.reverse[key] = idx
}
