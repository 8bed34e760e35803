package enginetypes

import "time"

// BridgeEvent is one payload the host↔engine bridge delivers, framed
// as a single JSON line on stdout behind a fixed sentinel prefix.
//
// Event names themselves are defined in internal/events (the bit-exact
// set from spec.md §6); this type only carries the envelope.
type BridgeEvent struct {
	Name      string      `json:"name"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}
