package voice

import (
	"context"
	"sync"
)

// MockCapture is a capture source that only counts calls. Tests feed events
// straight into the listening session.
type MockCapture struct {
	mu       sync.Mutex
	starts   int
	stops    int
	StartErr error
}

func NewMockCapture() *MockCapture { return &MockCapture{} }

func (m *MockCapture) Start(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts++
	return m.StartErr
}

func (m *MockCapture) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	return nil
}

func (m *MockCapture) Calls() (starts, stops int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts, m.stops
}

// MockSpeaker records spoken text and finishes immediately, or returns Err.
type MockSpeaker struct {
	mu     sync.Mutex
	spoken []string
	Err    error
}

func NewMockSpeaker() *MockSpeaker { return &MockSpeaker{} }

func (m *MockSpeaker) Speak(_ context.Context, _ string, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spoken = append(m.spoken, text)
	return m.Err
}

func (m *MockSpeaker) Spoken() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.spoken...)
}
