package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ruteri/treasury-vault/interfaces"
	"github.com/ruteri/treasury-vault/journal"
	"github.com/ruteri/treasury-vault/lockdown"
	"github.com/ruteri/treasury-vault/treasury"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAdminToken = "s3cret-token"

type stubReporter struct {
	health   *treasury.Health
	usage    []treasury.AccountUsage
	jackpots treasury.JackpotStats
	err      error
}

func (s *stubReporter) HealthCheck(context.Context) (*treasury.Health, error) {
	return s.health, s.err
}

func (s *stubReporter) UsageSummary(context.Context) ([]treasury.AccountUsage, error) {
	return s.usage, s.err
}

func (s *stubReporter) JackpotStats() treasury.JackpotStats {
	return s.jackpots
}

func newTestHandler(t *testing.T, reporter TreasuryReporter) (*Handler, *lockdown.Switch, *journal.MemorySink, *lockdown.MemorySentinel) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	mockClock := clock.NewMock()
	mockClock.Set(time.Date(2025, 6, 14, 12, 0, 0, 0, time.UTC))

	sink := journal.NewMemorySink()
	j, err := journal.New(context.Background(), sink, log, journal.WithClock(mockClock))
	require.NoError(t, err)

	sentinel := lockdown.NewMemorySentinel()
	sw := lockdown.NewSwitch(sentinel, j, mockClock, log, nil)
	return NewHandler(reporter, sw, testAdminToken, log), sw, sink, sentinel
}

func newTestServer(t *testing.T, h *Handler, admin *AdminHandler) *Server {
	t.Helper()
	srv, err := New(&HTTPServerConfig{
		Log: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, h, admin)
	require.NoError(t, err)
	return srv
}

func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func TestHandleHealth(t *testing.T) {
	health := &treasury.Health{
		Status:   treasury.StatusAttentionRequired,
		Warnings: []string{"ops daily limit 85.0% used"},
		Usage: []treasury.AccountUsage{
			{AccountID: "ops", Date: "2025-06-14", Limit: 1000, Committed: 850, Remaining: 150, PercentUsed: 85},
		},
	}

	tests := []struct {
		name       string
		reporter   *stubReporter
		wantStatus int
		wantBody   string
	}{
		{
			name:       "healthy report",
			reporter:   &stubReporter{health: health},
			wantStatus: http.StatusOK,
			wantBody:   `"status":"ATTENTION_REQUIRED"`,
		},
		{
			name:       "reporter failure",
			reporter:   &stubReporter{err: errors.New("ledger unreachable")},
			wantStatus: http.StatusInternalServerError,
			wantBody:   "health check failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, _, _ := newTestHandler(t, tt.reporter)
			srv := newTestServer(t, h, nil)

			rr := serve(srv, httptest.NewRequest(http.MethodGet, "/api/treasury/health", nil))
			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Contains(t, rr.Body.String(), tt.wantBody)
			assert.NotContains(t, rr.Body.String(), "ledger unreachable")
		})
	}
}

func TestHandleUsage(t *testing.T) {
	reporter := &stubReporter{usage: []treasury.AccountUsage{
		{AccountID: "ops", Date: "2025-06-14", Limit: 1000, Committed: 600, Reserved: 100, Remaining: 300, PercentUsed: 70},
	}}
	h, _, _, _ := newTestHandler(t, reporter)
	srv := newTestServer(t, h, nil)

	rr := serve(srv, httptest.NewRequest(http.MethodGet, "/api/treasury/usage", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Accounts []treasury.AccountUsage `json:"accounts"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Accounts, 1)
	assert.Equal(t, int64(300), resp.Accounts[0].Remaining)
}

func TestHandleJackpots(t *testing.T) {
	reporter := &stubReporter{jackpots: treasury.JackpotStats{
		TotalJackpots: 2,
		TotalAmount:   700,
		ByTier:        map[treasury.JackpotTier]treasury.JackpotTally{treasury.TierMajor: {Count: 2, Amount: 700}},
		ByMachine:     map[string]treasury.JackpotTally{"machine-7": {Count: 2, Amount: 700}},
	}}
	h, _, _, _ := newTestHandler(t, reporter)
	srv := newTestServer(t, h, nil)

	rr := serve(srv, httptest.NewRequest(http.MethodGet, "/api/treasury/jackpots", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp treasury.JackpotStats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, int64(700), resp.TotalAmount)
	assert.Equal(t, treasury.JackpotTally{Count: 2, Amount: 700}, resp.ByTier[treasury.TierMajor])
	assert.Equal(t, int64(2), resp.ByMachine["machine-7"].Count)
}

func TestHandleLockdown(t *testing.T) {
	tests := []struct {
		name       string
		auth       string
		actor      string
		body       string
		wantStatus int
		wantLocked bool
		wantActor  string
	}{
		{
			name:       "activates with token",
			auth:       "Bearer " + testAdminToken,
			actor:      "alice",
			body:       `{"reason":"suspicious withdrawals"}`,
			wantStatus: http.StatusOK,
			wantLocked: true,
			wantActor:  "alice",
		},
		{
			name:       "default actor",
			auth:       "Bearer " + testAdminToken,
			body:       `{"reason":"drill"}`,
			wantStatus: http.StatusOK,
			wantLocked: true,
			wantActor:  "ops-api",
		},
		{
			name:       "missing token",
			body:       `{"reason":"drill"}`,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong token",
			auth:       "Bearer nope",
			body:       `{"reason":"drill"}`,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "missing reason",
			auth:       "Bearer " + testAdminToken,
			body:       `{"reason":"  "}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed body",
			auth:       "Bearer " + testAdminToken,
			body:       `{"reason":`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, sw, _, _ := newTestHandler(t, &stubReporter{})
			srv := newTestServer(t, h, nil)

			req := httptest.NewRequest(http.MethodPost, "/api/treasury/lockdown", strings.NewReader(tt.body))
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			if tt.actor != "" {
				req.Header.Set(ActorHeader, tt.actor)
			}

			rr := serve(srv, req)
			assert.Equal(t, tt.wantStatus, rr.Code)

			state, err := sw.State(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.wantLocked, state.Locked)
			if tt.wantLocked {
				assert.Equal(t, tt.wantActor, state.Actor)

				var got interfaces.LockdownState
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
				assert.True(t, got.Locked)
			}
		})
	}
}

func TestHandleLockdown_DisabledWithoutToken(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, sw, _, _ := newTestHandler(t, &stubReporter{})
	h := NewHandler(&stubReporter{}, sw, "", log)
	srv := newTestServer(t, h, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/treasury/lockdown", strings.NewReader(`{"reason":"x"}`))
	req.Header.Set("Authorization", "Bearer ")
	rr := serve(srv, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestHandleLockdownStatus(t *testing.T) {
	h, sw, sink, sentinel := newTestHandler(t, &stubReporter{})
	srv := newTestServer(t, h, nil)

	rr := serve(srv, httptest.NewRequest(http.MethodGet, "/api/treasury/lockdown", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"locked":false}`, rr.Body.String())

	require.NoError(t, sw.Activate(context.Background(), "incident", "bob"))
	rr = serve(srv, httptest.NewRequest(http.MethodGet, "/api/treasury/lockdown", nil))
	var state interfaces.LockdownState
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &state))
	assert.True(t, state.Locked)
	assert.Equal(t, "incident", state.Reason)
	assert.Equal(t, "bob", state.Actor)
	events, err := sink.Events(context.Background(), interfaces.AuditFilter{})
	require.NoError(t, err)
	assert.NotEmpty(t, events)

	// An unreadable sentinel is reported as locked.
	sentinel.SetLoadError(errors.New("disk gone"))
	rr = serve(srv, httptest.NewRequest(http.MethodGet, "/api/treasury/lockdown", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &state))
	assert.True(t, state.Locked)
}

func TestServer_SealedUntilHandlerInstalled(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	rr := serve(srv, httptest.NewRequest(http.MethodGet, "/api/treasury/usage", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	rr = serve(srv, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	h, _, _, _ := newTestHandler(t, &stubReporter{})
	srv.SetHandler(h)

	rr = serve(srv, httptest.NewRequest(http.MethodGet, "/api/treasury/usage", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	rr = serve(srv, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestServer_DrainUndrain(t *testing.T) {
	h, _, _, _ := newTestHandler(t, &stubReporter{})
	srv := newTestServer(t, h, nil)

	rr := serve(srv, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = serve(srv, httptest.NewRequest(http.MethodGet, "/drain", nil))
	assert.Contains(t, rr.Body.String(), "draining")
	rr = serve(srv, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = serve(srv, httptest.NewRequest(http.MethodGet, "/undrain", nil))
	assert.Contains(t, rr.Body.String(), "ready")
	rr = serve(srv, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}
