package completion

import (
	"context"
	"fmt"
	"sync"
)

// Mock is a scripted Client for tests. Responses are returned in order,
// one per Complete call; configured errors take precedence.
type Mock struct {
	mu        sync.Mutex
	responses []string
	errs      map[int]error
	calls     []Request
}

// NewMock creates a mock client that returns the given responses in order.
func NewMock(responses ...string) *Mock {
	return &Mock{
		responses: responses,
		errs:      make(map[int]error),
	}
}

// FailAt makes the n-th Complete call (zero-based) return err.
func (m *Mock) FailAt(n int, err error) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[n] = err
	return m
}

// Complete returns the next scripted response.
func (m *Mock) Complete(_ context.Context, req Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	call := len(m.calls)
	m.calls = append(m.calls, req)

	if err, ok := m.errs[call]; ok {
		return "", err
	}
	if call >= len(m.responses) {
		return "", fmt.Errorf("mock: unexpected call %d", call)
	}
	return m.responses[call], nil
}

// Calls returns the requests received so far.
func (m *Mock) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}

var _ Client = (*Mock)(nil)
