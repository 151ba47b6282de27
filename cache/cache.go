// Package cache wraps a ristretto cache of decoded committed records, so
// repeated reads outside a transaction skip the buffer pool entirely.
//
// Grounded on the teacher's own go.mod: github.com/dgraph-io/ristretto/v2
// is declared there but never imported anywhere in the teacher tree. This
// package gives it the concrete use SPEC_FULL.md's component G calls for.
package cache

import (
	"github.com/dgraph-io/ristretto/v2"
	"github.com/sirupsen/logrus"
)

// RecordCache is a read-through cache keyed by record id. It never
// changes read-visibility semantics on its own: callers bypass it
// entirely whenever a record is locked by the current transaction.
type RecordCache struct {
	cache *ristretto.Cache[int64, []byte]
	log   *logrus.Entry
}

// New builds a record cache sized for maxRecords entries.
func New(maxRecords int64, log *logrus.Logger) (*RecordCache, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	c, err := ristretto.NewCache(&ristretto.Config[int64, []byte]{
		NumCounters: maxRecords * 10,
		MaxCost:     maxRecords,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	return &RecordCache{
		cache: c,
		log:   log.WithField("component", "cache"),
	}, nil
}

// Get returns the cached decoded payload for recordID, if present.
func (c *RecordCache) Get(recordID int64) ([]byte, bool) {
	return c.cache.Get(recordID)
}

// Set populates the cache with recordID's decoded payload.
func (c *RecordCache) Set(recordID int64, payload []byte) {
	c.cache.Set(recordID, payload, 1)
}

// Invalidate drops recordID from the cache, used on update and on
// rollback of a page the current transaction touched.
func (c *RecordCache) Invalidate(recordID int64) {
	c.cache.Del(recordID)
}

// Clear drops every cached entry, used on crash and full recovery where
// any previously cached value might now be stale.
func (c *RecordCache) Clear() {
	c.cache.Clear()
}

// Close releases the cache's background goroutines.
func (c *RecordCache) Close() {
	c.cache.Close()
}
