package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"smsrelay/internal/cache"
	"smsrelay/internal/database"
	"smsrelay/internal/metrics"
	"smsrelay/internal/service"
	"smsrelay/pkg/twilio"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

const (
	testAccountSID = "ACintegration"
	testAuthToken  = "secret"
	testPhone      = "+15550001111"
)

// TestEnvironment wires a fake Twilio API, a temporary database and a
// poller the way the service does at startup.
type TestEnvironment struct {
	t        *testing.T
	db       *database.Database
	carrier  *httptest.Server
	registry *metrics.Registry
	poller   *service.Poller
	logger   *logrus.Logger
	logs     *test.Hook
	cleanup  []func()

	mu           sync.Mutex
	inbox        []CarrierMessage
	requests     int
	failWith     int
	failMessages int
}

// NewTestEnvironment creates the environment and registers its cleanup with t.
func NewTestEnvironment(t *testing.T, seen cache.SeenCache) *TestEnvironment {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	env := &TestEnvironment{
		t:        t,
		registry: metrics.NewRegistry(),
		logger:   logger,
		logs:     hook,
	}

	env.setupDatabase()
	env.setupCarrier()

	src := twilio.NewClientWithLogger(twilio.Config{
		BaseURL:    env.carrier.URL,
		AccountSID: testAccountSID,
		AuthToken:  testAuthToken,
	}, env.carrier.Client(), logger)

	env.poller = service.NewPoller(src, env.db, seen, env.registry, service.PollerConfig{
		PhoneNumber:  testPhone,
		Interval:     time.Hour,
		Lookback:     time.Hour,
		FetchTimeout: 5 * time.Second,
	}, logger)
	env.addCleanup(env.poller.Disconnect)

	t.Cleanup(env.Cleanup)
	return env
}

func (env *TestEnvironment) setupDatabase() {
	path := filepath.Join(env.t.TempDir(), "smsrelay.db")
	db, err := database.New(path)
	require.NoError(env.t, err)
	env.db = db
	env.addCleanup(func() { _ = db.Close() })
}

func (env *TestEnvironment) setupCarrier() {
	mux := http.NewServeMux()
	mux.HandleFunc("/2010-04-01/Accounts/"+testAccountSID+".json", func(w http.ResponseWriter, r *http.Request) {
		if !env.authorized(r) {
			env.writeAuthError(w)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"sid": testAccountSID, "status": "active"})
	})
	mux.HandleFunc("/2010-04-01/Accounts/"+testAccountSID+"/Messages.json", func(w http.ResponseWriter, r *http.Request) {
		env.mu.Lock()
		env.requests++
		failWith := env.failWith
		if env.failMessages > 0 {
			env.failMessages--
		} else {
			failWith = 0
		}
		inbox := append([]CarrierMessage(nil), env.inbox...)
		env.mu.Unlock()

		if !env.authorized(r) || failWith == http.StatusUnauthorized {
			env.writeAuthError(w)
			return
		}
		if failWith != 0 {
			w.WriteHeader(failWith)
			_, _ = fmt.Fprintf(w, `{"code":20429,"message":"Too Many Requests","status":%d}`, failWith)
			return
		}
		if to := r.URL.Query().Get("To"); to != testPhone {
			env.t.Errorf("unexpected To filter %q", to)
		}

		// newest first, like the real API
		page := struct {
			Messages []map[string]string `json:"messages"`
		}{Messages: []map[string]string{}}
		for i := len(inbox) - 1; i >= 0; i-- {
			page.Messages = append(page.Messages, inbox[i].twilioJSON())
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(page)
	})

	env.carrier = httptest.NewServer(mux)
	env.addCleanup(env.carrier.Close)
}

func (env *TestEnvironment) authorized(r *http.Request) bool {
	user, pass, ok := r.BasicAuth()
	return ok && user == testAccountSID && pass == testAuthToken
}

func (env *TestEnvironment) writeAuthError(w http.ResponseWriter) {
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"code":20003,"message":"Authenticate","status":401}`))
}

// Deliver appends messages to the fake carrier inbox.
func (env *TestEnvironment) Deliver(msgs ...CarrierMessage) {
	env.mu.Lock()
	defer env.mu.Unlock()
	env.inbox = append(env.inbox, msgs...)
}

// FailNext makes the next n message listings return status.
func (env *TestEnvironment) FailNext(n, status int) {
	env.mu.Lock()
	defer env.mu.Unlock()
	env.failMessages = n
	env.failWith = status
}

// CarrierRequests returns how many message listings the carrier served.
func (env *TestEnvironment) CarrierRequests() int {
	env.mu.Lock()
	defer env.mu.Unlock()
	return env.requests
}

func (env *TestEnvironment) Connect(ctx context.Context) {
	require.NoError(env.t, env.poller.Connect(ctx))
}

func (env *TestEnvironment) addCleanup(fn func()) {
	env.cleanup = append(env.cleanup, fn)
}

// Cleanup releases resources in reverse order of creation.
func (env *TestEnvironment) Cleanup() {
	for i := len(env.cleanup) - 1; i >= 0; i-- {
		env.cleanup[i]()
	}
	env.cleanup = nil
}
