package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"smsrelay/internal/cache"
	"smsrelay/internal/constants"
	"smsrelay/internal/errors"
	"smsrelay/internal/metrics"
	"smsrelay/internal/models"
	"smsrelay/internal/otp"
	"smsrelay/internal/tracing"
	"smsrelay/pkg/source"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const maxProviderIDLength = 128

// PollerConfig controls one poller instance
type PollerConfig struct {
	PhoneNumber  string
	Interval     time.Duration
	Lookback     time.Duration
	FetchTimeout time.Duration
}

// DefaultLookback is how far back each fetch looks when not configured.
// Gateways report less reliable timestamps, so they get a wider window.
func DefaultLookback(provider string) time.Duration {
	if provider == models.ProviderGateway {
		return time.Duration(constants.DefaultGatewayLookbackSec) * time.Second
	}
	return time.Duration(constants.DefaultCarrierLookbackSec) * time.Second
}

// Poller fetches inbound SMS from a source on a fixed period, stores new
// messages and extracts codes from them.
type Poller struct {
	source  source.Source
	store   Store
	seen    cache.SeenCache
	metrics *metrics.Registry
	config  PollerConfig
	logger  *logrus.Logger
	errLog  *errors.Logger
	now     func() time.Time
	newID   func() string

	mu          sync.RWMutex
	state       models.PollerState
	active      source.Source
	lastChecked time.Time
	cancel      context.CancelFunc
	done        chan struct{}

	// tickMu keeps ticks from overlapping
	tickMu sync.Mutex
}

// NewPoller creates a poller in the Disconnected state. A nil seen cache
// disables the pre-filter.
func NewPoller(src source.Source, store Store, seen cache.SeenCache, registry *metrics.Registry, config PollerConfig, logger *logrus.Logger) *Poller {
	if seen == nil {
		seen = cache.NoopSeenCache{}
	}
	if registry == nil {
		registry = metrics.NewRegistry()
	}
	if config.Interval <= 0 {
		config.Interval = time.Duration(constants.DefaultPollIntervalSec) * time.Second
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = time.Duration(constants.DefaultPollTimeoutSec) * time.Second
	}
	if config.Lookback <= 0 {
		config.Lookback = DefaultLookback(src.Name())
	}

	p := &Poller{
		source:  src,
		store:   store,
		seen:    seen,
		metrics: registry,
		config:  config,
		logger:  logger,
		errLog:  errors.NewLogger(logger),
		now:     time.Now,
		newID:   uuid.NewString,
		state:   models.StateDisconnected,
	}
	p.recordState(models.StateDisconnected)
	return p
}

// Connect verifies the source, runs one tick and starts the polling loop.
// A failed connection check leaves the poller Disconnected and is not retried.
func (p *Poller) Connect(ctx context.Context) error {
	p.mu.Lock()
	if p.state == models.StatePolling || p.state == models.StateConnecting {
		state := p.state
		p.mu.Unlock()
		return errors.NewStateError("connect", state.String())
	}
	p.state = models.StateConnecting
	p.mu.Unlock()
	p.recordState(models.StateConnecting)

	// a loop stopped by an auth failure may still be winding down
	p.stopLoop()

	p.logger.WithFields(logrus.Fields{
		LogFieldProvider: p.source.Name(),
		LogFieldPhone:    loggedPhone(ctx, p.config.PhoneNumber),
	}).Info("Connecting to SMS provider")

	testCtx, cancel := context.WithTimeout(ctx, p.config.FetchTimeout)
	err := p.source.TestConnection(testCtx)
	cancel()
	if err != nil {
		p.setState(models.StateDisconnected)
		appErr := errors.NewSourceError(p.source.Name(), err)
		p.errLog.LogError(appErr, "Failed to connect to SMS provider")
		return appErr
	}

	p.mu.Lock()
	if p.state != models.StateConnecting {
		// Disconnect landed during the connection check
		state := p.state
		p.mu.Unlock()
		return errors.NewStateError("start polling", state.String())
	}
	loopCtx, loopCancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.state = models.StatePolling
	p.active = p.source
	p.cancel = loopCancel
	p.done = done
	p.mu.Unlock()
	p.recordState(models.StatePolling)

	p.logger.WithFields(logrus.Fields{
		LogFieldProvider: p.source.Name(),
		"interval_sec":   p.config.Interval.Seconds(),
		"lookback_sec":   p.config.Lookback.Seconds(),
	}).Info("SMS poller started")

	p.Tick(loopCtx)

	go p.loop(loopCtx, done)
	return nil
}

// Disconnect stops the loop and returns to Disconnected. Safe to call repeatedly.
func (p *Poller) Disconnect() {
	p.stopLoop()

	p.mu.Lock()
	wasActive := p.state != models.StateDisconnected
	p.state = models.StateDisconnected
	p.active = nil
	p.mu.Unlock()
	p.recordState(models.StateDisconnected)

	if wasActive {
		p.logger.Info("SMS poller disconnected")
	}
}

// stopLoop cancels the loop and waits for it to finish its current tick.
func (p *Poller) stopLoop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// loop re-arms its timer only after a tick returns, so ticks never overlap.
func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(p.config.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			p.Tick(ctx)
			timer.Reset(p.config.Interval)
		}
	}
}

// Tick fetches and processes one batch. It is a no-op unless polling, and
// is skipped when another tick is still running.
func (p *Poller) Tick(ctx context.Context) {
	if !p.tickMu.TryLock() {
		p.metrics.IncrementCounter(metrics.TicksSkippedTotal, nil, "Ticks skipped because one was in flight")
		p.logger.Debug("Skipping tick: previous tick still running")
		return
	}
	defer p.tickMu.Unlock()

	p.mu.RLock()
	state, src := p.state, p.active
	p.mu.RUnlock()

	if state != models.StatePolling || src == nil {
		p.logger.WithField(LogFieldState, state.String()).Warn("Skipping tick: poller is not polling")
		return
	}

	start := time.Now()
	labels := map[string]string{"provider": src.Name()}

	// work survives Disconnect; only the fetch timeout bounds it
	work := context.WithoutCancel(ctx)
	work, span := tracing.StartSpan(work, "poller.tick", attribute.String("provider", src.Name()))
	defer span.End()
	defer func() {
		p.metrics.RecordTimer(metrics.TickDuration, time.Since(start), labels, "Poll tick duration")
	}()

	fetchCtx, cancel := context.WithTimeout(work, p.config.FetchTimeout)
	defer cancel()

	since := p.now().Add(-p.config.Lookback)
	p.metrics.IncrementCounter(metrics.FetchTotal, labels, "Carrier fetches")

	raw, err := src.ListMessages(fetchCtx, p.config.PhoneNumber, since)
	if err != nil {
		p.handleFetchError(work, src.Name(), err)
		return
	}

	tracing.AddSpanAttributes(work, attribute.Int("messages", len(raw)))
	if len(raw) == 0 {
		p.logger.Debug("No new SMS messages found")
		return
	}

	p.mu.Lock()
	p.lastChecked = p.now().UTC()
	p.mu.Unlock()

	// carriers return newest first
	for i := len(raw) - 1; i >= 0; i-- {
		p.process(work, raw[i])
	}
}

func (p *Poller) handleFetchError(ctx context.Context, provider string, err error) {
	class := source.Classify(err)
	appErr := errors.NewSourceError(provider, err)

	p.metrics.IncrementCounter(metrics.FetchErrorsTotal, map[string]string{
		"provider": provider,
		"class":    class.String(),
	}, "Carrier fetch failures")
	tracing.RecordError(ctx, err, attribute.String("error.class", class.String()))

	switch class {
	case source.ClassAuth:
		p.errLog.LogError(appErr, "SMS provider rejected credentials, stopping poller")
		p.stopAfterAuthFailure()
	case source.ClassRateLimit:
		p.errLog.LogWarn(appErr, "SMS provider rate limit hit, will retry next tick")
	default:
		p.errLog.LogRetryableError(appErr, "Failed to fetch SMS messages")
	}
}

// stopAfterAuthFailure moves to Stopped. The loop goroutine exits on its own;
// Connect or Disconnect wait for it.
func (p *Poller) stopAfterAuthFailure() {
	p.mu.Lock()
	p.state = models.StateStopped
	p.active = nil
	cancel := p.cancel
	p.mu.Unlock()
	p.recordState(models.StateStopped)

	if cancel != nil {
		cancel()
	}
}

func (p *Poller) process(ctx context.Context, raw source.RawMessage) {
	msg, err := p.normalize(raw)
	if err != nil {
		p.metrics.IncrementCounter(metrics.MessagesSkipped, nil, "Messages skipped during normalization")
		p.logger.WithError(err).Warn("Skipping malformed SMS")
		return
	}

	seen, err := p.seen.Seen(ctx, msg.MessageSID)
	if err != nil {
		p.logger.WithError(err).Warn("Seen cache unavailable, falling back to database")
	} else if seen {
		p.metrics.IncrementCounter(metrics.MessagesDuplicate, nil, "Messages already stored")
		return
	}

	inserted, err := p.store.InsertMessage(ctx, msg)
	if err != nil {
		p.errLog.LogError(errors.NewDatabaseError("insert message", err), "Failed to store SMS",
			logrus.Fields{LogFieldMessageID: msg.ID})
		return
	}

	if err := p.seen.MarkSeen(ctx, msg.MessageSID); err != nil {
		p.logger.WithError(err).Warn("Failed to update seen cache")
	}

	if !inserted {
		p.metrics.IncrementCounter(metrics.MessagesDuplicate, nil, "Messages already stored")
		return
	}

	p.metrics.IncrementCounter(metrics.MessagesNewTotal, nil, "New messages stored")
	p.logger.WithFields(messageFields(ctx, msg.FromNumber, msg.MessageSID, msg.BodyText, "")).
		WithField(LogFieldMessageID, msg.ID).
		Info("Stored new SMS")

	code, ok := otp.Extract(msg.BodyText)
	if !ok {
		return
	}

	codeID, err := p.store.InsertCode(ctx, msg.ID, code)
	if err != nil {
		p.errLog.LogError(errors.NewDatabaseError("insert code", err), "Failed to store code",
			logrus.Fields{LogFieldMessageID: msg.ID})
		return
	}

	p.metrics.IncrementCounter(metrics.CodesExtracted, nil, "Codes extracted")
	p.logger.WithFields(logrus.Fields{
		LogFieldMessageID: msg.ID,
		LogFieldCodeID:    codeID,
		LogFieldCode:      loggedCode(ctx, code),
	}).Info("Extracted verification code")
}

// normalize fills carrier gaps: missing ids get a UUID, a missing sender
// becomes "unknown" and a missing sent time becomes now.
func (p *Poller) normalize(raw source.RawMessage) (*models.Message, error) {
	providerID := strings.TrimSpace(raw.ProviderID)
	if providerID == "" {
		providerID = p.newID()
	}
	if len(providerID) > maxProviderIDLength || strings.ContainsAny(providerID, "\x00\r\n\t") {
		return nil, fmt.Errorf("invalid provider id %q", truncate(providerID, 16))
	}

	from := strings.TrimSpace(raw.From)
	if from == "" {
		from = models.UnknownSender
	}
	if strings.ContainsRune(from, 0) {
		return nil, fmt.Errorf("invalid sender for provider id %s", providerID)
	}

	body := strings.ToValidUTF8(strings.ReplaceAll(raw.Body, "\x00", ""), "\uFFFD")

	sent := p.now().UTC()
	if raw.SentAt != nil && !raw.SentAt.IsZero() {
		sent = raw.SentAt.UTC()
	}

	return &models.Message{
		ID:          p.newID(),
		PhoneNumber: p.config.PhoneNumber,
		FromNumber:  from,
		BodyText:    body,
		DateSent:    sent,
		MessageSID:  providerID,
	}, nil
}

// Status reports live scheduler fields.
func (p *Poller) Status() models.Status {
	p.mu.RLock()
	defer p.mu.RUnlock()

	status := models.Status{
		Connected:   p.state == models.StatePolling,
		PhoneNumber: p.config.PhoneNumber,
		Polling:     p.state == models.StatePolling,
		State:       p.state.String(),
		Provider:    p.source.Name(),
	}
	if !p.lastChecked.IsZero() {
		lastChecked := p.lastChecked
		status.LastChecked = &lastChecked
	}
	return status
}

// PhoneNumber is the monitored destination number.
func (p *Poller) PhoneNumber() string {
	return p.config.PhoneNumber
}

func (p *Poller) setState(state models.PollerState) {
	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
	p.recordState(state)
}

func (p *Poller) recordState(state models.PollerState) {
	p.metrics.SetGauge(metrics.PollerState, float64(state), nil, "Poller state (0 disconnected, 1 connecting, 2 polling, 3 stopped)")
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
