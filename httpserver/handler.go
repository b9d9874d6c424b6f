package httpserver

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ruteri/treasury-vault/interfaces"
	"github.com/ruteri/treasury-vault/lockdown"
	"github.com/ruteri/treasury-vault/treasury"
)

const (
	// ActorHeader names the operator on whose behalf a request is made.
	ActorHeader = "X-Treasury-Actor"

	// maxBodySize is the maximum allowed request body size (1MB).
	maxBodySize = 1024 * 1024
)

// RequestError provides structured error information for HTTP responses.
type RequestError struct {
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	return e.Err.Error()
}

// TreasuryReporter is the read side of the transfer authority.
type TreasuryReporter interface {
	HealthCheck(ctx context.Context) (*treasury.Health, error)
	UsageSummary(ctx context.Context) ([]treasury.AccountUsage, error)
	JackpotStats() treasury.JackpotStats
}

// LockdownControl activates and reports the lockdown switch.
type LockdownControl interface {
	State(ctx context.Context) (interfaces.LockdownState, error)
	Activate(ctx context.Context, reason, actor string) error
}

// Handler serves the treasury operations API.
type Handler struct {
	treasury   TreasuryReporter
	lockdown   LockdownControl
	adminToken string
	log        *slog.Logger
}

// NewHandler creates the ops handler. An empty adminToken disables lockdown activation over HTTP.
func NewHandler(treasury TreasuryReporter, lockdown LockdownControl, adminToken string, log *slog.Logger) *Handler {
	return &Handler{
		treasury:   treasury,
		lockdown:   lockdown,
		adminToken: adminToken,
		log:        log,
	}
}

// HandleHealth reports vault integrity, lockdown and usage warnings.
//
// URL format: GET /api/treasury/health
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	health, err := h.treasury.HealthCheck(r.Context())
	if err != nil {
		h.log.Error("Health check failed", "err", err)
		writeError(w, &RequestError{StatusCode: http.StatusInternalServerError, Err: errors.New("health check failed")})
		return
	}
	writeJSON(w, http.StatusOK, health)
}

// HandleUsage reports today's usage of every configured account.
//
// URL format: GET /api/treasury/usage
func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := h.treasury.UsageSummary(r.Context())
	if err != nil {
		h.log.Error("Usage summary failed", "err", err)
		writeError(w, &RequestError{StatusCode: http.StatusInternalServerError, Err: errors.New("usage summary failed")})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": usage})
}

// HandleJackpots reports the jackpots released since the server started, by tier and machine.
//
// URL format: GET /api/treasury/jackpots
func (h *Handler) HandleJackpots(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.treasury.JackpotStats())
}

// HandleLockdownStatus reports the lockdown state.
//
// URL format: GET /api/treasury/lockdown
func (h *Handler) HandleLockdownStatus(w http.ResponseWriter, r *http.Request) {
	state, err := h.lockdown.State(r.Context())
	if err != nil {
		h.log.Error("Failed to read lockdown state", "err", err)
		// An unreadable sentinel counts as locked.
		state.Locked = true
	}
	writeJSON(w, http.StatusOK, state)
}

type lockdownRequest struct {
	Reason string `json:"reason"`
}

// HandleLockdown activates the lockdown switch. There is deliberately no HTTP route to clear it.
//
// URL format: POST /api/treasury/lockdown
// Required headers:
//   - Authorization: Bearer <admin token>
//
// Request body: {"reason": "..."}
func (h *Handler) HandleLockdown(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		h.log.Warn("Unauthorized lockdown request", slog.String("remote", r.RemoteAddr))
		writeError(w, &RequestError{StatusCode: http.StatusUnauthorized, Err: errors.New("unauthorized")})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, &RequestError{StatusCode: http.StatusBadRequest, Err: errors.New("failed to read request body")})
		return
	}
	var req lockdownRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, &RequestError{StatusCode: http.StatusBadRequest, Err: errors.New("invalid request body")})
		return
	}

	actor := strings.TrimSpace(r.Header.Get(ActorHeader))
	if actor == "" {
		actor = "ops-api"
	}

	if err := h.lockdown.Activate(r.Context(), req.Reason, actor); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, lockdown.ErrReasonRequired) {
			status = http.StatusBadRequest
		}
		h.log.Error("Lockdown activation failed", slog.String("actor", actor), "err", err)
		writeError(w, &RequestError{StatusCode: status, Err: err})
		return
	}

	state, err := h.lockdown.State(r.Context())
	if err != nil {
		state = interfaces.LockdownState{Locked: true, Reason: req.Reason, Actor: actor}
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.adminToken == "" {
		return false
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err *RequestError) {
	writeJSON(w, err.StatusCode, map[string]string{"error": err.Error()})
}
