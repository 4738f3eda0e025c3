// Package store holds ingested messages in memory.
package store

import (
	"sort"
	"sync"

	"speech-relay-service/internal/models"
)

// Memory is an append-only, in-memory message store. Insertion order is id
// order: id assignment and append happen under the same lock.
type Memory struct {
	mu       sync.RWMutex
	messages []models.Message
	lastID   int64
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{}
}

// Append assigns the next id to a new message and stores it.
func (m *Memory) Append(text string, timestamp float64) models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastID++
	msg := models.Message{
		ID:        m.lastID,
		Text:      text,
		Timestamp: timestamp,
	}
	m.messages = append(m.messages, msg)
	return msg
}

// List returns a copy of all messages, newest timestamp first. Equal
// timestamps keep insertion (id ascending) order.
func (m *Memory) List() []models.Message {
	m.mu.RLock()
	out := make([]models.Message, len(m.messages))
	copy(out, m.messages)
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp > out[j].Timestamp
	})
	return out
}

// Len returns the number of stored messages.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages)
}
