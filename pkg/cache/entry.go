package cache

import (
	"encoding/json"
	"fmt"
	"time"
)

// Entry is the persisted form of a cached value. Timestamp and TTL are in
// milliseconds so the stored document is independent of Go duration encoding.
type Entry struct {
	Key       string          `json:"key"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	TTL       int64           `json:"ttl"`

	// seq orders entries written within the same millisecond. It is not
	// persisted.
	seq uint64
}

func newEntry(key string, data json.RawMessage, now time.Time, ttl time.Duration) Entry {
	return Entry{
		Key:       key,
		Data:      data,
		Timestamp: now.UnixMilli(),
		TTL:       ttl.Milliseconds(),
	}
}

// Valid reports whether the entry is still live at now.
func (e Entry) Valid(now time.Time) bool {
	return now.UnixMilli()-e.Timestamp < e.TTL
}

// Error describes a swallowed storage or serialization failure.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("cache: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Entries     int  `json:"entries"`
	MaxEntries  int  `json:"max_entries"`
	Hits        int  `json:"hits"`
	Misses      int  `json:"misses"`
	Evictions   int  `json:"evictions"`
	Expirations int  `json:"expirations"`
	Enabled     bool `json:"enabled"`
}
