package mocks

import "sync"

// EnqueuerMock records every id handed to it.
type EnqueuerMock struct {
	EnqueueFunc func(id string) error

	mu  sync.Mutex
	IDs []string
}

func (m *EnqueuerMock) Enqueue(id string) error {
	if m.EnqueueFunc != nil {
		if err := m.EnqueueFunc(id); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.IDs = append(m.IDs, id)
	m.mu.Unlock()
	return nil
}

func (m *EnqueuerMock) Enqueued() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.IDs...)
}
