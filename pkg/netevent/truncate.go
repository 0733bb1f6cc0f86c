package netevent

import (
	"encoding/json"
	"unicode/utf8"
)

const (
	// DefaultClientCeiling is the truncation ceiling for bodies captured by
	// an in-process client transport (100KB).
	DefaultClientCeiling = 100 * 1024

	// DefaultProxyCeiling is the truncation ceiling for bodies captured by
	// the forward proxy (1MB).
	DefaultProxyCeiling = 1024 * 1024

	// DefaultTruncationChars is the number of characters kept when a body
	// is truncated.
	DefaultTruncationChars = 1000

	// DefaultMaxDecodedBytes caps decompressed body size.
	DefaultMaxDecodedBytes = 32 * 1024 * 1024

	// TruncationMarker is appended to every truncated body.
	TruncationMarker = "\n... [truncated]"
)

// Policy controls how bodies are shortened before they are buffered.
type Policy struct {
	// Ceiling is the serialized byte size above which a body is truncated.
	Ceiling int

	// Chars is the number of characters kept on truncation.
	Chars int

	// MaxDecodedBytes bounds decompression output.
	MaxDecodedBytes int64
}

// DefaultPolicy returns the policy used for client-side capture.
func DefaultPolicy() Policy {
	return Policy{
		Ceiling:         DefaultClientCeiling,
		Chars:           DefaultTruncationChars,
		MaxDecodedBytes: DefaultMaxDecodedBytes,
	}
}

// ProxyPolicy returns the policy used by the forward proxy.
func ProxyPolicy() Policy {
	p := DefaultPolicy()
	p.Ceiling = DefaultProxyCeiling
	return p
}

func (p Policy) withDefaults() Policy {
	if p.Ceiling <= 0 {
		p.Ceiling = DefaultClientCeiling
	}
	if p.Chars <= 0 {
		p.Chars = DefaultTruncationChars
	}
	if p.MaxDecodedBytes <= 0 {
		p.MaxDecodedBytes = DefaultMaxDecodedBytes
	}
	return p
}

// SerializedSize returns the UTF-8 byte length of s.
func SerializedSize(s string) int {
	return len(s)
}

// ValueSize returns the length of the JSON encoding of v, or 0 if v cannot
// be encoded.
func ValueSize(v any) int {
	data, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return len(data)
}

// Truncate shortens text when its serialized size exceeds ceiling, keeping
// the first chars characters and appending TruncationMarker.
func Truncate(text string, ceiling, chars int) (string, bool) {
	if SerializedSize(text) <= ceiling {
		return text, false
	}
	return prefixRunes(text, chars) + TruncationMarker, true
}

// prefixRunes returns the first n runes of s.
func prefixRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// Apply runs the truncation policy on text and returns the stored payload.
func (p Policy) Apply(text string) *BodyPayload {
	p = p.withDefaults()
	if !utf8.ValidString(text) {
		text = toValidUTF8(text)
	}
	stored, truncated := Truncate(text, p.Ceiling, p.Chars)
	return &BodyPayload{
		Text:      stored,
		Truncated: truncated,
		Size:      SerializedSize(stored),
	}
}
