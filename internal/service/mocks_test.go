package service

import (
	"context"
	"sync"
	"time"

	"smsrelay/internal/models"
	"smsrelay/pkg/source"

	"github.com/stretchr/testify/mock"
)

type mockSource struct {
	mock.Mock
	name string
}

func newMockSource(name string) *mockSource {
	return &mockSource{name: name}
}

func (m *mockSource) Name() string {
	return m.name
}

func (m *mockSource) TestConnection(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockSource) ListMessages(ctx context.Context, destination string, since time.Time) ([]source.RawMessage, error) {
	args := m.Called(ctx, destination, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]source.RawMessage), args.Error(1)
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) InsertMessage(ctx context.Context, msg *models.Message) (bool, error) {
	args := m.Called(ctx, msg)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) InsertCode(ctx context.Context, smsID, code string) (int64, error) {
	args := m.Called(ctx, smsID, code)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) GetLastMessage(ctx context.Context, phone string) (*models.Message, error) {
	args := m.Called(ctx, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *mockStore) GetLastUnusedCode(ctx context.Context, phone string) (*models.Code, error) {
	args := m.Called(ctx, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Code), args.Error(1)
}

func (m *mockStore) GetLastUnusedCodeFrom(ctx context.Context, phone, from string) (*models.Code, error) {
	args := m.Called(ctx, phone, from)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Code), args.Error(1)
}

type mockPruner struct {
	mock.Mock
}

func (m *mockPruner) PruneOlderThan(ctx context.Context, days int) (int64, error) {
	args := m.Called(ctx, days)
	return args.Get(0).(int64), args.Error(1)
}

// memorySeenCache is an in-process SeenCache for poller tests.
type memorySeenCache struct {
	mu   sync.Mutex
	ids  map[string]bool
	fail error
}

func newMemorySeenCache() *memorySeenCache {
	return &memorySeenCache{ids: make(map[string]bool)}
}

func (c *memorySeenCache) Seen(_ context.Context, providerID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return false, c.fail
	}
	return c.ids[providerID], nil
}

func (c *memorySeenCache) MarkSeen(_ context.Context, providerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.ids[providerID] = true
	return nil
}
