package netevent

import (
	"strconv"
	"sync/atomic"
)

// IDSource hands out request IDs for one interception source. IDs are the
// source prefix followed by a per-source counter ("proxy-1", "proxy-2"), so
// sources with different prefixes never collide.
type IDSource struct {
	prefix  string
	counter atomic.Uint64
}

// NewIDSource creates an IDSource with the given prefix.
func NewIDSource(prefix string) *IDSource {
	return &IDSource{prefix: prefix}
}

// Next returns the next ID. Safe for concurrent use.
func (s *IDSource) Next() string {
	return s.prefix + "-" + strconv.FormatUint(s.counter.Add(1), 10)
}

// Prefix returns the source prefix.
func (s *IDSource) Prefix() string {
	return s.prefix
}
