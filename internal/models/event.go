package models

// Push channel event types.
const (
	EventConnectionStatus = "connection_status"
	EventNewMessage       = "new_message"
	EventMessagesList     = "messages_list"

	// RequestGetMessages is sent by a subscriber to pull a store snapshot.
	RequestGetMessages = "get_messages"
)

// Event is the envelope for every server to subscriber frame.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ConnectionStatus is sent once to a subscriber when it connects.
type ConnectionStatus struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
}

// SubscriberRequest is a subscriber to server frame.
type SubscriberRequest struct {
	Type string `json:"type"`
}
