package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/turtacn/portal-gateway/internal/domain/models"
)

type MockSessionPersister struct {
	mock.Mock
}

func (m *MockSessionPersister) Save(ctx context.Context, key string, record *models.PersistedSession) error {
	args := m.Called(ctx, key, record)
	return args.Error(0)
}

func (m *MockSessionPersister) Load(ctx context.Context, key string) (*models.PersistedSession, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PersistedSession), args.Error(1)
}

func (m *MockSessionPersister) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

// MemoryPersister is an in-memory SessionPersister for tests that need real round trips.
type MemoryPersister struct {
	mu      sync.Mutex
	Records map[string]*models.PersistedSession
}

func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{Records: make(map[string]*models.PersistedSession)}
}

func (p *MemoryPersister) Save(_ context.Context, key string, record *models.PersistedSession) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Records[key] = record
	return nil
}

func (p *MemoryPersister) Load(_ context.Context, key string) (*models.PersistedSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Records[key], nil
}

func (p *MemoryPersister) Delete(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.Records, key)
	return nil
}

func (p *MemoryPersister) Get(key string) *models.PersistedSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Records[key]
}
