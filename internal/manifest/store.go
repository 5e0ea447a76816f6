package manifest

import (
	"hls-player/internal/media"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Store is the storage abstraction behind Cache. Implementations need not be
// safe for concurrent use; Cache serializes every call.
type Store interface {
	// Get returns the catalogue for id and marks it most recently used.
	Get(id media.SourceID) (*media.Catalogue, bool)
	// Add inserts or replaces the catalogue for id, marking it most recently
	// used. It reports whether an older entry was evicted to make room.
	Add(id media.SourceID, cat *media.Catalogue) (evicted bool)
	// Remove drops id, reporting whether it was present.
	Remove(id media.SourceID) bool
	// Keys lists ids from least to most recently used.
	Keys() []media.SourceID
	Len() int
	Purge()
}

// LRUStore is a strict least-recently-used Store of bounded capacity.
type LRUStore struct {
	lru *simplelru.LRU[media.SourceID, *media.Catalogue]
}

// NewLRUStore returns a store holding at most capacity entries. onEvict, if
// non-nil, is called with each entry pushed out by capacity.
func NewLRUStore(capacity int, onEvict func(id media.SourceID)) (*LRUStore, error) {
	var cb simplelru.EvictCallback[media.SourceID, *media.Catalogue]
	if onEvict != nil {
		cb = func(id media.SourceID, _ *media.Catalogue) { onEvict(id) }
	}
	lru, err := simplelru.NewLRU[media.SourceID, *media.Catalogue](capacity, cb)
	if err != nil {
		return nil, err
	}
	return &LRUStore{lru: lru}, nil
}

// Get implements Store.Get.
func (s *LRUStore) Get(id media.SourceID) (*media.Catalogue, bool) {
	return s.lru.Get(id)
}

// Add implements Store.Add.
func (s *LRUStore) Add(id media.SourceID, cat *media.Catalogue) bool {
	return s.lru.Add(id, cat)
}

// Remove implements Store.Remove.
func (s *LRUStore) Remove(id media.SourceID) bool {
	return s.lru.Remove(id)
}

// Keys implements Store.Keys.
func (s *LRUStore) Keys() []media.SourceID {
	return s.lru.Keys()
}

// Len implements Store.Len.
func (s *LRUStore) Len() int {
	return s.lru.Len()
}

// Purge implements Store.Purge.
func (s *LRUStore) Purge() {
	s.lru.Purge()
}
