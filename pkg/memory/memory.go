// Package memory keeps a bounded transcript of what a policy has seen and
// done in one environment instance.
package memory

import "sync"

type Memory struct {
	memoryStream []string
	capacity     int
	mu           sync.RWMutex
}

func NewMemory(capacity int) *Memory {
	if capacity < 1 {
		capacity = 1
	}
	return &Memory{
		memoryStream: make([]string, 0, capacity),
		capacity:     capacity,
	}
}

// GetAllMessages returns a copy of all entries, oldest first
func (m *Memory) GetAllMessages() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	messages := make([]string, len(m.memoryStream))
	copy(messages, m.memoryStream)
	return messages
}

// Last returns a copy of the newest n entries, oldest first.
func (m *Memory) Last(n int) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if n > len(m.memoryStream) {
		n = len(m.memoryStream)
	}
	if n <= 0 {
		return nil
	}
	messages := make([]string, n)
	copy(messages, m.memoryStream[len(m.memoryStream)-n:])
	return messages
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.memoryStream)
}

// Store appends an entry, evicting the oldest once capacity is exceeded.
func (m *Memory) Store(data string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.memoryStream = append(m.memoryStream, data)
	if len(m.memoryStream) > m.capacity {
		m.memoryStream = m.memoryStream[1:]
	}
	return nil
}

// Clear drops every entry. Policies call it at episode boundaries.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memoryStream = make([]string, 0, m.capacity)
}
