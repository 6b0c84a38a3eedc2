package domain

import "encoding/json"

// Event is the normalized payload a platform adapter delivers to the dispatch
// engine. It is not persisted as-is; the raw form is captured on each
// CommandExecution audit row.
//
// Type is either "message" (chat text, possibly a prefixed command) or a
// platform event type such as "follow", "raid", or "member_join".
type Event struct {
	Platform  string          `json:"platform"`
	ServerID  string          `json:"server_id"`
	ChannelID string          `json:"channel_id"`
	UserID    string          `json:"user_id"`
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventTypeMessage is the Type value for ordinary chat messages.
const EventTypeMessage = "message"

// IsMessage reports whether the event carries chat text.
func (e Event) IsMessage() bool { return e.Type == EventTypeMessage }

// Raw returns the event serialized for the audit trail. Serialization of a
// well-formed Event cannot fail; an empty document is returned otherwise.
func (e Event) Raw() string {
	b, err := json.Marshal(e)
	if err != nil {
		return "{}"
	}
	return string(b)
}
