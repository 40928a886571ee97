// Package hub fans out status events to websocket clients using a
// channel-based broadcast loop.
package hub

import "encoding/json"

// Event is the JSON envelope sent to clients.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Encode marshals the event.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}
