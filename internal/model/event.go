package model

import "encoding/json"

// RunEvent is one frame of the live run event stream.
// The stream is observational: it never replaces status polling.
type RunEvent struct {
	Seq     int64           `json:"seq"`
	Type    string          `json:"type"`
	State   RunState        `json:"state,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
