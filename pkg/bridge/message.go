package bridge

import (
	"errors"
	"slices"
)

// Control message types.
const (
	TypeAck        = "ack"
	TypeRetransmit = "retransmit"
)

// Message is the wire envelope. Domain events carry Method and Params;
// control messages carry Type; replies to observer requests carry
// CorrelationID and either Result or Error.
type Message struct {
	ID            int64  `json:"id"`
	Type          string `json:"type,omitempty"`
	Method        string `json:"method,omitempty"`
	Params        Raw    `json:"params,omitempty"`
	CorrelationID int64  `json:"correlationId,omitempty"`
	Result        Raw    `json:"result,omitempty"`
	Error         string `json:"error,omitempty"`
}

// IsControl reports whether m is an ack or retransmit message.
func (m *Message) IsControl() bool {
	return m.Type == TypeAck || m.Type == TypeRetransmit
}

// Raw holds a value already encoded by the bridge codec. It is embedded in
// the envelope verbatim by both the JSON and CBOR codecs.
type Raw []byte

var cborNull = []byte{0xf6}

// MarshalJSON implements json.Marshaler.
func (r Raw) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Raw) UnmarshalJSON(data []byte) error {
	if r == nil {
		return errors.New("bridge.Raw: UnmarshalJSON on nil pointer")
	}
	*r = slices.Clone(data)
	return nil
}

// MarshalCBOR implements cbor.Marshaler.
func (r Raw) MarshalCBOR() ([]byte, error) {
	if len(r) == 0 {
		return cborNull, nil
	}
	return r, nil
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (r *Raw) UnmarshalCBOR(data []byte) error {
	if r == nil {
		return errors.New("bridge.Raw: UnmarshalCBOR on nil pointer")
	}
	*r = slices.Clone(data)
	return nil
}
