package netevent

import "fmt"

// BodyPayload is a decoded body ready for buffering.
type BodyPayload struct {
	Text      string
	Truncated bool
	// Size is the serialized size of Text, not of the original body.
	Size int
}

// DecodeBody prepares a raw response body for buffering. It returns
// (nil, nil) when the content type is not text-like, and an error when the
// content encoding cannot be undone.
func DecodeBody(raw []byte, contentType, contentEncoding string, policy Policy) (*BodyPayload, error) {
	if !ShouldDecodeAsText(contentType) {
		return nil, nil
	}
	policy = policy.withDefaults()

	data, err := Decompress(raw, contentEncoding, policy.MaxDecodedBytes)
	if err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	return policy.Apply(ToUTF8(data, contentType)), nil
}
