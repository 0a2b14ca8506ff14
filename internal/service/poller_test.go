package service

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"smsrelay/internal/cache"
	apperrors "smsrelay/internal/errors"
	"smsrelay/internal/metrics"
	"smsrelay/internal/models"
	"smsrelay/pkg/source"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testPhone = "+15550001111"

var testNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestPoller(src *mockSource, store *mockStore, seen *memorySeenCache) (*Poller, *metrics.Registry) {
	registry := metrics.NewRegistry()
	var seenCache cache.SeenCache
	if seen != nil {
		seenCache = seen
	}

	p := NewPoller(src, store, seenCache, registry, PollerConfig{
		PhoneNumber:  testPhone,
		Interval:     time.Hour,
		FetchTimeout: time.Second,
	}, quietLogger())
	p.now = func() time.Time { return testNow }

	var mu sync.Mutex
	next := 0
	p.newID = func() string {
		mu.Lock()
		defer mu.Unlock()
		next++
		return fmt.Sprintf("id-%d", next)
	}
	return p, registry
}

func sentAt(minutesAgo int) *time.Time {
	t := testNow.Add(-time.Duration(minutesAgo) * time.Minute)
	return &t
}

func TestPoller_ConnectProcessesOldestFirst(t *testing.T) {
	src := newMockSource(models.ProviderTwilio)
	store := &mockStore{}
	p, registry := newTestPoller(src, store, nil)

	src.On("TestConnection", mock.Anything).Return(nil)
	src.On("ListMessages", mock.Anything, testPhone, testNow.Add(-5*time.Minute)).Return([]source.RawMessage{
		{ProviderID: "SM2", From: "+15559990000", Body: "Your code is 222222", SentAt: sentAt(1)},
		{ProviderID: "SM1", From: "+15559990000", Body: "Your code is 111111", SentAt: sentAt(2)},
	}, nil).Once()

	var order []string
	store.On("InsertMessage", mock.Anything, mock.AnythingOfType("*models.Message")).
		Run(func(args mock.Arguments) {
			order = append(order, args.Get(1).(*models.Message).MessageSID)
		}).
		Return(true, nil)
	store.On("InsertCode", mock.Anything, "id-1", "111111").Return(int64(1), nil).Once()
	store.On("InsertCode", mock.Anything, "id-2", "222222").Return(int64(2), nil).Once()

	require.NoError(t, p.Connect(context.Background()))
	defer p.Disconnect()

	assert.Equal(t, []string{"SM1", "SM2"}, order)
	store.AssertExpectations(t)
	src.AssertExpectations(t)

	status := p.Status()
	assert.True(t, status.Connected)
	assert.True(t, status.Polling)
	assert.Equal(t, "polling", status.State)
	require.NotNil(t, status.LastChecked)
	assert.Equal(t, testNow, *status.LastChecked)
	assert.Equal(t, testPhone, status.PhoneNumber)
	assert.Equal(t, models.ProviderTwilio, status.Provider)

	assert.Equal(t, float64(2), registry.CounterValue(metrics.MessagesNewTotal, nil))
	assert.Equal(t, float64(2), registry.CounterValue(metrics.CodesExtracted, nil))
	assert.Equal(t, float64(1), registry.CounterValue(metrics.FetchTotal, map[string]string{"provider": "twilio"}))
}

func TestPoller_ConnectFailure(t *testing.T) {
	src := newMockSource(models.ProviderPlivo)
	store := &mockStore{}
	p, _ := newTestPoller(src, store, nil)

	src.On("TestConnection", mock.Anything).Return(&source.Error{Provider: "plivo", StatusCode: 401})

	err := p.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeAuthentication, apperrors.GetCode(err))

	status := p.Status()
	assert.False(t, status.Connected)
	assert.Equal(t, "disconnected", status.State)
	src.AssertNotCalled(t, "ListMessages", mock.Anything, mock.Anything, mock.Anything)
}

func TestPoller_DisconnectDuringConnectionCheck(t *testing.T) {
	src := newMockSource(models.ProviderTwilio)
	p, _ := newTestPoller(src, &mockStore{}, nil)

	src.On("TestConnection", mock.Anything).
		Run(func(mock.Arguments) { p.Disconnect() }).
		Return(nil).Once()

	err := p.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidState, apperrors.GetCode(err))

	status := p.Status()
	assert.Equal(t, "disconnected", status.State)
	assert.False(t, status.Polling)
	src.AssertNotCalled(t, "ListMessages", mock.Anything, mock.Anything, mock.Anything)

	p.mu.RLock()
	assert.Nil(t, p.done)
	assert.Nil(t, p.cancel)
	p.mu.RUnlock()
}

func TestPoller_ConnectWhilePolling(t *testing.T) {
	src := newMockSource(models.ProviderTwilio)
	p, _ := newTestPoller(src, &mockStore{}, nil)

	src.On("TestConnection", mock.Anything).Return(nil).Once()
	src.On("ListMessages", mock.Anything, testPhone, mock.Anything).Return([]source.RawMessage{}, nil)

	require.NoError(t, p.Connect(context.Background()))
	defer p.Disconnect()

	err := p.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidState, apperrors.GetCode(err))
	src.AssertNumberOfCalls(t, "TestConnection", 1)
}

func TestPoller_AuthFailureStopsPolling(t *testing.T) {
	src := newMockSource(models.ProviderTwilio)
	p, registry := newTestPoller(src, &mockStore{}, nil)

	src.On("TestConnection", mock.Anything).Return(nil)
	src.On("ListMessages", mock.Anything, testPhone, mock.Anything).
		Return(nil, &source.Error{Provider: "twilio", StatusCode: 401, Code: 20003}).Once()

	require.NoError(t, p.Connect(context.Background()))

	status := p.Status()
	assert.False(t, status.Connected)
	assert.False(t, status.Polling)
	assert.Equal(t, "stopped", status.State)
	assert.Equal(t, float64(1), registry.CounterValue(metrics.FetchErrorsTotal,
		map[string]string{"provider": "twilio", "class": "auth"}))

	// further ticks do nothing until an operator reconnects
	p.Tick(context.Background())
	src.AssertNumberOfCalls(t, "ListMessages", 1)

	src.On("ListMessages", mock.Anything, testPhone, mock.Anything).Return([]source.RawMessage{}, nil)
	require.NoError(t, p.Connect(context.Background()))
	defer p.Disconnect()
	assert.Equal(t, "polling", p.Status().State)
}

func TestPoller_RateLimitKeepsPolling(t *testing.T) {
	src := newMockSource(models.ProviderTwilio)
	p, registry := newTestPoller(src, &mockStore{}, nil)

	src.On("TestConnection", mock.Anything).Return(nil)
	src.On("ListMessages", mock.Anything, testPhone, mock.Anything).
		Return(nil, &source.Error{Provider: "twilio", StatusCode: 429}).Once()
	src.On("ListMessages", mock.Anything, testPhone, mock.Anything).
		Return(nil, fmt.Errorf("connection reset by peer")).Once()

	require.NoError(t, p.Connect(context.Background()))
	defer p.Disconnect()
	p.Tick(context.Background())

	status := p.Status()
	assert.True(t, status.Connected)
	assert.Equal(t, "polling", status.State)
	assert.Nil(t, status.LastChecked)
	assert.Equal(t, float64(1), registry.CounterValue(metrics.FetchErrorsTotal,
		map[string]string{"provider": "twilio", "class": "rate_limit"}))
	assert.Equal(t, float64(1), registry.CounterValue(metrics.FetchErrorsTotal,
		map[string]string{"provider": "twilio", "class": "transient"}))
}

func TestPoller_DuplicateSkipsExtraction(t *testing.T) {
	src := newMockSource(models.ProviderTwilio)
	store := &mockStore{}
	p, registry := newTestPoller(src, store, nil)

	src.On("TestConnection", mock.Anything).Return(nil)
	src.On("ListMessages", mock.Anything, testPhone, mock.Anything).Return([]source.RawMessage{
		{ProviderID: "SM1", From: "+15559990000", Body: "code 123456"},
	}, nil)
	store.On("InsertMessage", mock.Anything, mock.Anything).Return(false, nil)

	require.NoError(t, p.Connect(context.Background()))
	defer p.Disconnect()

	store.AssertNotCalled(t, "InsertCode", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, float64(1), registry.CounterValue(metrics.MessagesDuplicate, nil))
	assert.Equal(t, float64(0), registry.CounterValue(metrics.MessagesNewTotal, nil))
}

func TestPoller_NoCodeInBody(t *testing.T) {
	src := newMockSource(models.ProviderTwilio)
	store := &mockStore{}
	p, _ := newTestPoller(src, store, nil)

	src.On("TestConnection", mock.Anything).Return(nil)
	src.On("ListMessages", mock.Anything, testPhone, mock.Anything).Return([]source.RawMessage{
		{ProviderID: "SM1", From: "+15559990000", Body: "Hello there"},
	}, nil)
	store.On("InsertMessage", mock.Anything, mock.Anything).Return(true, nil)

	require.NoError(t, p.Connect(context.Background()))
	defer p.Disconnect()

	store.AssertNotCalled(t, "InsertCode", mock.Anything, mock.Anything, mock.Anything)
}

func TestPoller_StoreErrorContinuesWithNextMessage(t *testing.T) {
	src := newMockSource(models.ProviderTwilio)
	store := &mockStore{}
	p, _ := newTestPoller(src, store, nil)

	src.On("TestConnection", mock.Anything).Return(nil)
	src.On("ListMessages", mock.Anything, testPhone, mock.Anything).Return([]source.RawMessage{
		{ProviderID: "SM2", Body: "code 222222"},
		{ProviderID: "SM1", Body: "code 111111"},
	}, nil)
	store.On("InsertMessage", mock.Anything, mock.MatchedBy(func(m *models.Message) bool {
		return m.MessageSID == "SM1"
	})).Return(false, assert.AnError)
	store.On("InsertMessage", mock.Anything, mock.MatchedBy(func(m *models.Message) bool {
		return m.MessageSID == "SM2"
	})).Return(true, nil)
	store.On("InsertCode", mock.Anything, mock.Anything, "222222").Return(int64(1), nil)

	require.NoError(t, p.Connect(context.Background()))
	defer p.Disconnect()

	store.AssertExpectations(t)
}

func TestPoller_SeenCache(t *testing.T) {
	t.Run("known id skips the database", func(t *testing.T) {
		src := newMockSource(models.ProviderTwilio)
		store := &mockStore{}
		seen := newMemorySeenCache()
		seen.ids["SM1"] = true
		p, registry := newTestPoller(src, store, seen)

		src.On("TestConnection", mock.Anything).Return(nil)
		src.On("ListMessages", mock.Anything, testPhone, mock.Anything).Return([]source.RawMessage{
			{ProviderID: "SM1", Body: "code 123456"},
		}, nil)

		require.NoError(t, p.Connect(context.Background()))
		defer p.Disconnect()

		store.AssertNotCalled(t, "InsertMessage", mock.Anything, mock.Anything)
		assert.Equal(t, float64(1), registry.CounterValue(metrics.MessagesDuplicate, nil))
	})

	t.Run("stored ids are marked", func(t *testing.T) {
		src := newMockSource(models.ProviderTwilio)
		store := &mockStore{}
		seen := newMemorySeenCache()
		p, _ := newTestPoller(src, store, seen)

		src.On("TestConnection", mock.Anything).Return(nil)
		src.On("ListMessages", mock.Anything, testPhone, mock.Anything).Return([]source.RawMessage{
			{ProviderID: "SM1", Body: "no code"},
		}, nil)
		store.On("InsertMessage", mock.Anything, mock.Anything).Return(true, nil)

		require.NoError(t, p.Connect(context.Background()))
		defer p.Disconnect()

		assert.True(t, seen.ids["SM1"])
	})

	t.Run("cache failure falls back to the database", func(t *testing.T) {
		src := newMockSource(models.ProviderTwilio)
		store := &mockStore{}
		seen := newMemorySeenCache()
		seen.fail = assert.AnError
		p, _ := newTestPoller(src, store, seen)

		src.On("TestConnection", mock.Anything).Return(nil)
		src.On("ListMessages", mock.Anything, testPhone, mock.Anything).Return([]source.RawMessage{
			{ProviderID: "SM1", Body: "code 123456"},
		}, nil)
		store.On("InsertMessage", mock.Anything, mock.Anything).Return(true, nil)
		store.On("InsertCode", mock.Anything, mock.Anything, "123456").Return(int64(1), nil)

		require.NoError(t, p.Connect(context.Background()))
		defer p.Disconnect()

		store.AssertExpectations(t)
	})
}

func TestPoller_TickWhenNotPolling(t *testing.T) {
	src := newMockSource(models.ProviderTwilio)
	p, _ := newTestPoller(src, &mockStore{}, nil)

	p.Tick(context.Background())

	src.AssertNotCalled(t, "ListMessages", mock.Anything, mock.Anything, mock.Anything)
}

func TestPoller_OverlappingTickIsSkipped(t *testing.T) {
	src := newMockSource(models.ProviderTwilio)
	p, registry := newTestPoller(src, &mockStore{}, nil)

	p.tickMu.Lock()
	p.Tick(context.Background())
	p.tickMu.Unlock()

	assert.Equal(t, float64(1), registry.CounterValue(metrics.TicksSkippedTotal, nil))
	src.AssertNotCalled(t, "ListMessages", mock.Anything, mock.Anything, mock.Anything)
}

func TestPoller_LoopTicksUntilDisconnect(t *testing.T) {
	src := newMockSource(models.ProviderGateway)
	p, _ := newTestPoller(src, &mockStore{}, nil)
	p.config.Interval = 10 * time.Millisecond

	var calls atomic.Int32
	src.On("TestConnection", mock.Anything).Return(nil)
	src.On("ListMessages", mock.Anything, testPhone, mock.Anything).
		Run(func(mock.Arguments) { calls.Add(1) }).
		Return([]source.RawMessage{}, nil)

	require.NoError(t, p.Connect(context.Background()))

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	p.Disconnect()
	p.Disconnect()
	after := calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, calls.Load())
	assert.Equal(t, "disconnected", p.Status().State)
}

func TestPoller_Normalize(t *testing.T) {
	p, _ := newTestPoller(newMockSource(models.ProviderTwilio), &mockStore{}, nil)

	t.Run("fills missing fields", func(t *testing.T) {
		msg, err := p.normalize(source.RawMessage{})
		require.NoError(t, err)
		assert.NotEmpty(t, msg.MessageSID)
		assert.NotEqual(t, msg.ID, msg.MessageSID)
		assert.Equal(t, models.UnknownSender, msg.FromNumber)
		assert.Equal(t, "", msg.BodyText)
		assert.Equal(t, testNow, msg.DateSent)
		assert.Equal(t, testPhone, msg.PhoneNumber)
	})

	t.Run("keeps carrier fields", func(t *testing.T) {
		sent := time.Date(2026, 3, 14, 4, 0, 0, 0, time.FixedZone("EST", -5*3600))
		msg, err := p.normalize(source.RawMessage{
			ProviderID: " SM123 ",
			From:       "+15559990000",
			Body:       "code 4821",
			SentAt:     &sent,
		})
		require.NoError(t, err)
		assert.Equal(t, "SM123", msg.MessageSID)
		assert.Equal(t, "+15559990000", msg.FromNumber)
		assert.Equal(t, "code 4821", msg.BodyText)
		assert.Equal(t, sent.UTC(), msg.DateSent)
	})

	t.Run("repairs invalid utf-8", func(t *testing.T) {
		msg, err := p.normalize(source.RawMessage{ProviderID: "SM1", Body: "bad \xff\x00byte"})
		require.NoError(t, err)
		assert.Equal(t, "bad \uFFFDbyte", msg.BodyText)
	})

	t.Run("rejects malformed provider ids", func(t *testing.T) {
		_, err := p.normalize(source.RawMessage{ProviderID: "SM\n1"})
		assert.Error(t, err)
	})
}

func TestPoller_MalformedMessageIsSkipped(t *testing.T) {
	src := newMockSource(models.ProviderTwilio)
	store := &mockStore{}
	p, registry := newTestPoller(src, store, nil)

	src.On("TestConnection", mock.Anything).Return(nil)
	src.On("ListMessages", mock.Anything, testPhone, mock.Anything).Return([]source.RawMessage{
		{ProviderID: "SM\x001", Body: "code 123456"},
	}, nil)

	require.NoError(t, p.Connect(context.Background()))
	defer p.Disconnect()

	store.AssertNotCalled(t, "InsertMessage", mock.Anything, mock.Anything)
	assert.Equal(t, float64(1), registry.CounterValue(metrics.MessagesSkipped, nil))
}

func TestDefaultLookback(t *testing.T) {
	assert.Equal(t, 5*time.Minute, DefaultLookback(models.ProviderTwilio))
	assert.Equal(t, 5*time.Minute, DefaultLookback(models.ProviderPlivo))
	assert.Equal(t, 24*time.Hour, DefaultLookback(models.ProviderGateway))
}

func TestNewPoller_Defaults(t *testing.T) {
	p := NewPoller(newMockSource(models.ProviderGateway), &mockStore{}, nil, nil, PollerConfig{PhoneNumber: testPhone}, quietLogger())

	assert.Equal(t, 30*time.Second, p.config.Interval)
	assert.Equal(t, 10*time.Second, p.config.FetchTimeout)
	assert.Equal(t, 24*time.Hour, p.config.Lookback)
	assert.Equal(t, "disconnected", p.Status().State)
	assert.Equal(t, models.ProviderGateway, p.Status().Provider)
}

func TestTruncate_KeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 16))
	assert.Equal(t, "ab...", truncate("abcdef", 2))

	out := truncate("код-подтверждения", 4)
	assert.Equal(t, "код-...", out)
	assert.True(t, utf8.ValidString(out))
}
