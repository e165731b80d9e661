package cache

import (
	"container/list"
	"sync"
)

// StateCache remembers the terminal state of tasks already seen finished.
// Terminal states never change, so entries never need invalidation.
type StateCache interface {
	Get(taskID string) (string, bool)
	Put(taskID, state string)
}

// LRU is a thread-safe in-process StateCache bounded to capacity entries
type LRU struct {
	capacity int
	entries  map[string]*list.Element
	order    *list.List
	mu       sync.Mutex
}

type lruEntry struct {
	taskID string
	state  string
}

// NewLRU creates an LRU cache; capacity below 1 is treated as 1
func NewLRU(capacity int) *LRU {
	if capacity < 1 {
		capacity = 1
	}
	return &LRU{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get returns the cached state and marks the entry most recently used
func (c *LRU) Get(taskID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[taskID]; ok {
		c.order.MoveToFront(elem)
		return elem.Value.(*lruEntry).state, true
	}
	return "", false
}

// Put stores state for taskID, evicting the least recently used entry when full
func (c *LRU) Put(taskID, state string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[taskID]; ok {
		c.order.MoveToFront(elem)
		elem.Value.(*lruEntry).state = state
		return
	}

	if c.order.Len() >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*lruEntry).taskID)
		}
	}

	c.entries[taskID] = c.order.PushFront(&lruEntry{taskID: taskID, state: state})
}

// Len returns the number of cached tasks
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
