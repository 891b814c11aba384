package delivery

import (
	"context"
	"sync"
)

// Sent is one recorded SendText call.
type Sent struct {
	RecipientID string
	Text        string
	Credential  string
}

// Typing is one recorded SendTyping call.
type Typing struct {
	RecipientID string
	On          bool
}

// MockGateway implements Gateway and ProfileNamer for testing. It records
// every call and can be primed to fail.
type MockGateway struct {
	mu      sync.Mutex
	sent    []Sent
	typing  []Typing
	textErr error
	failAt  int // 1-based SendText call that fails; 0 means textErr applies to all
	calls   int
	names   map[string]string
}

// NewMockGateway creates an empty MockGateway.
func NewMockGateway() *MockGateway {
	return &MockGateway{names: make(map[string]string)}
}

// SendText records the message. An empty credential fails like the real
// gateways do.
func (m *MockGateway) SendText(ctx context.Context, recipientID, text, credential string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if credential == "" {
		return ErrMissingCredential
	}
	if m.textErr != nil && (m.failAt == 0 || m.failAt == m.calls) {
		return m.textErr
	}
	m.sent = append(m.sent, Sent{RecipientID: recipientID, Text: text, Credential: credential})
	return nil
}

// SendTyping records the indicator change.
func (m *MockGateway) SendTyping(ctx context.Context, recipientID, credential string, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if credential == "" {
		return ErrMissingCredential
	}
	m.typing = append(m.typing, Typing{RecipientID: recipientID, On: on})
	return nil
}

// ProfileName returns a name set with SetProfileName.
func (m *MockGateway) ProfileName(ctx context.Context, userID, credential string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.names[userID], nil
}

// --- Test helpers ---

// FailText makes SendText return err. When at is positive only that call
// fails.
func (m *MockGateway) FailText(err error, at int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.textErr = err
	m.failAt = at
}

// SetProfileName primes ProfileName.
func (m *MockGateway) SetProfileName(userID, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names[userID] = name
}

// AllSent returns a copy of the delivered messages.
func (m *MockGateway) AllSent() []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sent, len(m.sent))
	copy(out, m.sent)
	return out
}

// SentTexts returns just the delivered texts in order.
func (m *MockGateway) SentTexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	for i, s := range m.sent {
		out[i] = s.Text
	}
	return out
}

// AllTyping returns a copy of the typing calls.
func (m *MockGateway) AllTyping() []Typing {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Typing, len(m.typing))
	copy(out, m.typing)
	return out
}
