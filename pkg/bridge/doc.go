// Package bridge delivers messages to an observer over a transport that may
// drop or reorder messages and may be torn down and reconnected at any time.
//
// # Protocol
//
// Every outgoing message gets a sequence ID, starting at 1 and never reused.
// Sent messages stay queued until the observer acknowledges them:
//
//	{"id": 7, "type": "ack"}         confirms every message with id <= 7
//	{"id": 7, "type": "retransmit"}  resends every queued message with id > 7
//
// Acknowledgments are cumulative and idempotent. There are no per-message
// timers: recovery is driven by the observer, which asks for retransmission
// when it sees a gap or after it reconnects. Sending is O(1) and recovery is
// O(k) in the queue depth.
//
// Messages without a type are requests from the observer. They are
// dispatched to handlers registered with Handle, keyed by method, and the
// observer's id is echoed back as correlationId on the reply.
//
// # Queue depth
//
// By default the queue is unbounded: a peer that never reconnects makes it
// grow without limit. WithMaxUnacked caps it and picks what happens on
// overflow.
//
// # Observer side
//
// Receiver implements the other half of the protocol: in-order delivery,
// duplicate suppression, gap detection and periodic acknowledgment.
package bridge
