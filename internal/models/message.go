package models

// Message is an ingested payload. Messages are immutable once created.
type Message struct {
	ID        int64   `json:"id"`
	Text      string  `json:"text"`
	Timestamp float64 `json:"timestamp"`
}

// IngestRequest is the body accepted by the ingestion endpoint.
// Pointer fields distinguish absent values from zero values.
type IngestRequest struct {
	Text      *string  `json:"text"`
	Timestamp *float64 `json:"timestamp,omitempty"`
}

// IngestResponse acknowledges a stored message.
type IngestResponse struct {
	Status    string `json:"status"`
	MessageID int64  `json:"message_id"`
}

// ListResponse is returned by the query endpoint and the messages_list push event.
type ListResponse struct {
	Status   string    `json:"status"`
	Count    int       `json:"count"`
	Messages []Message `json:"messages"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusSuccess is the status value of successful responses.
const StatusSuccess = "success"
