package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/betterorg/betterorg/pkg/auth"
	"github.com/betterorg/betterorg/pkg/billing"
	"github.com/betterorg/betterorg/pkg/config"
	"github.com/betterorg/betterorg/pkg/gate"
	"github.com/betterorg/betterorg/pkg/middleware"
	"github.com/betterorg/betterorg/pkg/observability"
	"github.com/betterorg/betterorg/pkg/orgs"
	"github.com/betterorg/betterorg/pkg/storage"
)

const testWebhookSecret = "whsec_test"

// captureSender records sent codes instead of delivering them
type captureSender struct {
	mu    sync.Mutex
	codes map[string]string
	fail  bool
}

func (s *captureSender) Send(ctx context.Context, email, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return fmt.Errorf("smtp unreachable")
	}
	if s.codes == nil {
		s.codes = make(map[string]string)
	}
	s.codes[email] = code
	return nil
}

func (s *captureSender) code(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[email]
}

// testEnv is a fully wired server on sqlite, miniredis and a fake
// payment provider
type testEnv struct {
	server *Server
	db     *sql.DB
	redis  *miniredis.Miniredis
	users  *auth.UserStore
	orgs   *orgs.PostgresService
	subs   *billing.SubscriptionStore
	sender *captureSender

	sessionStore *auth.SessionStore

	stripeDown bool
	mu         sync.Mutex
}

func (e *testEnv) setStripeDown(down bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stripeDown = down
}

func (e *testEnv) stripeIsDown() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stripeDown
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	require.NoError(t, storage.Migrate(context.Background(), db, logger))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	env := &testEnv{db: db, redis: mr, sender: &captureSender{}}

	stripeSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if env.stripeIsDown() {
			http.Error(w, "upstream error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/checkout/sessions":
			json.NewEncoder(w).Encode(map[string]string{"url": "https://checkout.test/cs_123"})
		case "/v1/billing_portal/sessions":
			json.NewEncoder(w).Encode(map[string]string{"url": "https://portal.test/bps_123"})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(stripeSrv.Close)

	metrics := observability.NewMetrics(prometheus.NewRegistry())

	env.users = auth.NewUserStore(db)
	env.orgs = orgs.NewPostgresService(db)
	env.subs = billing.NewSubscriptionStore(db)

	sessions := auth.NewSessionStore(rdb, 30*24*time.Hour)
	otp := auth.NewOTPService(rdb, env.sender, 10*time.Minute, 5)
	limiter := middleware.NewRateLimiter(rdb, "otp_send", 3, time.Hour)

	provider := billing.NewStripeProvider(billing.StripeConfig{
		APIKey:  "sk_test",
		APIBase: stripeSrv.URL,
		BaseURL: "https://app.betterorg.test",
	}, env.subs, env.orgs.AuthorizeBillingReference, logger, metrics)

	webhooks := billing.NewWebhookProcessor(env.subs, testWebhookSecret, logger, metrics)

	g, err := gate.NewGate(sessions, env.orgs, provider, 16, logger, metrics)
	require.NoError(t, err)

	cfg := &config.Config{
		Auth: config.AuthConfig{
			SessionTTL:    30 * 24 * time.Hour,
			SessionCookie: "betterorg_session",
		},
	}

	env.server = NewServer(Dependencies{
		Config:     cfg,
		Gate:       g,
		Orgs:       env.orgs,
		Users:      env.users,
		Sessions:   sessions,
		OTP:        otp,
		OTPLimiter: limiter,
		Webhooks:   webhooks,
		Logger:     logger,
		Metrics:    metrics,
	})

	env.sessionStore = sessions
	return env
}

// signIn creates a user and live session, returning the user and the
// session cookie to attach to requests
func (e *testEnv) signIn(t *testing.T, email string) (*auth.User, *http.Cookie) {
	t.Helper()
	user, err := e.users.GetOrCreateByEmail(context.Background(), email)
	require.NoError(t, err)
	token, _, err := e.sessionStore.Create(context.Background(), user)
	require.NoError(t, err)
	return user, &http.Cookie{Name: "betterorg_session", Value: token}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dest))
}

func newWebhookRequest(t *testing.T, env *testEnv, payload []byte, sig string) (*http.Request, *httptest.ResponseRecorder) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/billing/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", sig)
	return req, httptest.NewRecorder()
}

// signPayload produces a valid provider webhook signature header
func signPayload(payload []byte, secret string, at time.Time) string {
	ts := fmt.Sprintf("%d", at.Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func subscriptionEventPayload(eventType, subID, orgID, plan, status string) []byte {
	payload, _ := json.Marshal(map[string]interface{}{
		"id":   "evt_1",
		"type": eventType,
		"data": map[string]interface{}{
			"object": map[string]interface{}{
				"id":                   subID,
				"customer":             "cus_1",
				"status":               status,
				"current_period_start": time.Now().Add(-time.Hour).Unix(),
				"current_period_end":   time.Now().Add(30 * 24 * time.Hour).Unix(),
				"metadata": map[string]string{
					"reference_id": orgID,
					"plan":         plan,
				},
			},
		},
	})
	return payload
}
