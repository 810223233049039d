package mocks

import (
	"context"
	"sync"

	"rustsentry/internal/codestore"
)

// CodeStoreMock is a map-backed codestore.Store. Func fields override single methods.
type CodeStoreMock struct {
	PutCodeFunc func(ctx context.Context, sessionID, code string) error

	mu        sync.Mutex
	code      map[string]string
	artifacts map[string]map[string][]byte
}

func (m *CodeStoreMock) init() {
	if m.code == nil {
		m.code = make(map[string]string)
		m.artifacts = make(map[string]map[string][]byte)
	}
}

func (m *CodeStoreMock) PutCode(ctx context.Context, sessionID, code string) error {
	if m.PutCodeFunc != nil {
		return m.PutCodeFunc(ctx, sessionID, code)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	m.code[sessionID] = code
	return nil
}

func (m *CodeStoreMock) GetCode(_ context.Context, sessionID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	code, ok := m.code[sessionID]
	if !ok {
		return "", codestore.ErrNotFound
	}
	return code, nil
}

func (m *CodeStoreMock) PutArtifact(_ context.Context, sessionID string, block int, stage string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	if m.artifacts[sessionID] == nil {
		m.artifacts[sessionID] = make(map[string][]byte)
	}
	m.artifacts[sessionID][codestore.ArtifactName(block, stage)] = append([]byte(nil), data...)
	return nil
}

func (m *CodeStoreMock) ListArtifacts(_ context.Context, sessionID string) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	out := make(map[string][]byte, len(m.artifacts[sessionID]))
	for k, v := range m.artifacts[sessionID] {
		out[k] = v
	}
	return out, nil
}

func (m *CodeStoreMock) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	delete(m.code, sessionID)
	delete(m.artifacts, sessionID)
	return nil
}
