package treasury

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/ruteri/treasury-vault/interfaces"
	"github.com/ruteri/treasury-vault/metrics"
	"github.com/ruteri/treasury-vault/vault"
)

const (
	// DefaultSubmitTimeout bounds the broadcaster call when no timeout is configured.
	DefaultSubmitTimeout = 30 * time.Second

	// DefaultProbeTimeout bounds the outcome probe after a failed submission.
	DefaultProbeTimeout = 10 * time.Second

	// DetailManualReconciliation marks a failure whose funds may have moved.
	DetailManualReconciliation = "manual_reconciliation"
)

// CredentialStore hands out decrypted key material. vault.Store satisfies it.
type CredentialStore interface {
	Get(ctx context.Context, account interfaces.AccountID, reason string) (*vault.Credential, error)
	VerifyIntegrity(ctx context.Context, accounts []interfaces.AccountID) (vault.IntegrityReport, error)
}

// Policies is the policy view the authority needs. policy.Registry satisfies it.
type Policies interface {
	interfaces.PolicySource
	DailyLimit(account interfaces.AccountID) int64
	Accounts() []interfaces.AccountID
}

// ApprovalVerifier checks approval proofs. approval.Approver satisfies it.
type ApprovalVerifier interface {
	Verify(account interfaces.AccountID, op interfaces.Operation, date, proof string) bool
}

// Config holds the collaborators of an Authority.
type Config struct {
	Vault       CredentialStore
	Policies    Policies
	Ledger      interfaces.UsageLedger
	Approver    ApprovalVerifier
	Broadcaster interfaces.Broadcaster
	Lock        interfaces.LockChecker
	Journal     interfaces.Journal

	Clock    clock.Clock
	Location *time.Location

	SubmitTimeout  time.Duration
	ProbeTimeout   time.Duration
	JackpotAccount interfaces.AccountID

	Log     *slog.Logger
	Metrics *metrics.Metrics
}

// Authority is the only path through which funds leave a treasury account.
type Authority struct {
	vault       CredentialStore
	policies    Policies
	ledger      interfaces.UsageLedger
	approver    ApprovalVerifier
	broadcaster interfaces.Broadcaster
	lock        interfaces.LockChecker
	journal     interfaces.Journal

	clock          clock.Clock
	location       *time.Location
	submitTimeout  time.Duration
	probeTimeout   time.Duration
	jackpotAccount interfaces.AccountID

	log     *slog.Logger
	metrics *metrics.Metrics

	jackpotMu sync.Mutex
	jackpots  JackpotStats
}

// NewAuthority creates a transfer authority. A nil Approver rejects every account that requires approval.
func NewAuthority(cfg Config) (*Authority, error) {
	if cfg.Vault == nil || cfg.Policies == nil || cfg.Ledger == nil || cfg.Broadcaster == nil ||
		cfg.Lock == nil || cfg.Journal == nil || cfg.Log == nil {
		return nil, errors.New("treasury: vault, policies, ledger, broadcaster, lock, journal and log are required")
	}

	a := &Authority{
		vault:          cfg.Vault,
		policies:       cfg.Policies,
		ledger:         cfg.Ledger,
		approver:       cfg.Approver,
		broadcaster:    cfg.Broadcaster,
		lock:           cfg.Lock,
		journal:        cfg.Journal,
		clock:          cfg.Clock,
		location:       cfg.Location,
		submitTimeout:  cfg.SubmitTimeout,
		probeTimeout:   cfg.ProbeTimeout,
		jackpotAccount: cfg.JackpotAccount,
		log:            cfg.Log,
		metrics:        cfg.Metrics,
		jackpots:       newJackpotStats(),
	}
	if a.clock == nil {
		a.clock = clock.New()
	}
	if a.location == nil {
		a.location = time.UTC
	}
	if a.submitTimeout <= 0 {
		a.submitTimeout = DefaultSubmitTimeout
	}
	if a.probeTimeout <= 0 {
		a.probeTimeout = DefaultProbeTimeout
	}
	if a.jackpotAccount == "" {
		a.jackpotAccount = JackpotAccount
	}
	return a, nil
}

// Today returns the date key transfers are currently bucketed under.
func (a *Authority) Today() string {
	return interfaces.DateKey(a.clock.Now(), a.location)
}

// execution carries the state of one Execute call to its terminal audit event.
type execution struct {
	req     interfaces.TransferRequest
	started time.Time
	detail  string
	ref     string
	level   interfaces.SecurityLevel
}

// Execute runs a transfer through lockdown, validation, policy, approval, reservation,
// credential retrieval and broadcast, stopping at the first failure.
// Every call ends in exactly one TRANSFER, BURN or TRANSFER_FAILED event carrying the request id.
// A *interfaces.BroadcasterError with an unknown outcome means funds may have moved and the
// reservation was kept; callers must reconcile before retrying.
func (a *Authority) Execute(ctx context.Context, req interfaces.TransferRequest) (*interfaces.TransferReceipt, error) {
	return a.execute(ctx, req, nil)
}

// execute is Execute with an extra validation step run after the request's own validation.
func (a *Authority) execute(ctx context.Context, req interfaces.TransferRequest, check func() error) (receipt *interfaces.TransferReceipt, err error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	req.Operation = interfaces.Operation(strings.ToLower(strings.TrimSpace(string(req.Operation))))
	if req.Actor != "" {
		ctx = interfaces.ContextWithActor(ctx, req.Actor)
	}

	exec := &execution{req: req, started: a.clock.Now()}
	defer func() {
		a.finish(ctx, exec, err)
	}()

	if err := a.checkLock(ctx); err != nil {
		return nil, err
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}
	if check != nil {
		if err := check(); err != nil {
			return nil, err
		}
	}

	if !a.policies.IsPermitted(req.Source, req.Operation) {
		return nil, fmt.Errorf("%w: %s on %s", interfaces.ErrOperationNotPermitted, req.Operation, req.Source)
	}

	date := a.Today()
	if err := a.checkApproval(req, date); err != nil {
		return nil, err
	}

	reservation, err := a.ledger.TryReserve(ctx, req.Source, req.Amount, date)
	if err != nil {
		a.metrics.ObserveReservation(req.Source.String(), reservationResult(err))
		return nil, err
	}
	a.metrics.ObserveReservation(req.Source.String(), "reserved")

	cred, err := a.vault.Get(ctx, req.Source, req.Reason)
	if err != nil {
		a.release(ctx, reservation)
		return nil, err
	}
	defer cred.Wipe()
	exec.level = cred.SecurityLevel

	ref, err := a.submit(ctx, req, cred.Secret)
	if err != nil {
		return nil, a.settleFailure(ctx, exec, reservation, err)
	}

	if err := a.ledger.Commit(ctx, reservation.Token); err != nil {
		// The transfer went through; the held reservation still counts against the limit.
		a.log.Error("Failed to commit reservation",
			slog.String("requestId", req.RequestID),
			slog.String("account", req.Source.String()),
			"err", err)
	}

	exec.ref = ref
	return &interfaces.TransferReceipt{
		RequestID:         req.RequestID,
		AccountID:         req.Source,
		Operation:         req.Operation,
		Amount:            req.Amount,
		Destination:       req.Destination,
		ExternalReference: ref,
		SecurityLevel:     cred.SecurityLevel,
		Timestamp:         a.clock.Now().UTC(),
	}, nil
}

func (a *Authority) checkLock(ctx context.Context) error {
	locked, err := a.lock.IsLocked(ctx)
	if err != nil {
		return err
	}
	if locked {
		return interfaces.ErrVaultLocked
	}
	return nil
}

// checkApproval rejects a supplied proof that does not verify even when the account needs none.
func (a *Authority) checkApproval(req interfaces.TransferRequest, date string) error {
	proof := strings.TrimSpace(req.ApprovalProof)
	if proof != "" {
		if a.approver == nil || !a.approver.Verify(req.Source, req.Operation, date, proof) {
			return fmt.Errorf("%w: %s on %s", interfaces.ErrInvalidApproval, req.Operation, req.Source)
		}
		return nil
	}

	pol, ok := a.policies.Policy(req.Source)
	if !ok || pol.RequiresApproval {
		return fmt.Errorf("%w: %s on %s", interfaces.ErrApprovalRequired, req.Operation, req.Source)
	}
	return nil
}

// submit hands the secret to the broadcaster under the submit timeout.
func (a *Authority) submit(ctx context.Context, req interfaces.TransferRequest, secret []byte) (string, error) {
	submitCtx, cancel := context.WithTimeout(ctx, a.submitTimeout)
	defer cancel()

	return a.broadcaster.Submit(submitCtx, interfaces.SubmitRequest{
		RequestID:   req.RequestID,
		Account:     req.Source,
		Secret:      secret,
		Destination: req.Destination,
		Amount:      req.Amount,
		Operation:   req.Operation,
	})
}

// settleFailure decides what a failed submission did to the funds. Only a positively failed
// submission releases the reservation.
func (a *Authority) settleFailure(ctx context.Context, exec *execution, reservation interfaces.Reservation, submitErr error) error {
	outcome, committed := a.classify(ctx, exec.req.RequestID, submitErr)

	if outcome == interfaces.BroadcastFailed {
		a.release(ctx, reservation)
		return interfaces.NewBroadcasterError(interfaces.BroadcastFailed, submitErr)
	}

	exec.detail = DetailManualReconciliation
	if committed {
		if err := a.ledger.Commit(ctx, reservation.Token); err != nil {
			a.log.Error("Failed to commit reservation of probed transfer",
				slog.String("requestId", exec.req.RequestID),
				"err", err)
		}
		exec.detail = DetailManualReconciliation + ": committed without reference"
	}

	a.log.Error("Transfer outcome unknown, manual reconciliation required",
		slog.String("requestId", exec.req.RequestID),
		slog.String("account", exec.req.Source.String()),
		slog.Int64("amount", exec.req.Amount),
		slog.String("reservation", reservation.Token),
		"err", submitErr)
	return interfaces.NewBroadcasterError(interfaces.BroadcastUnknown, submitErr)
}

// classify maps a submission error to an outcome. Errors the broadcaster marks as failed and
// synchronous rejections are known failures; timeouts and unknown outcomes are probed.
func (a *Authority) classify(ctx context.Context, requestID string, submitErr error) (outcome interfaces.BroadcastOutcome, committed bool) {
	var be *interfaces.BroadcasterError
	switch {
	case errors.As(submitErr, &be):
		if be.Outcome == interfaces.BroadcastFailed {
			return interfaces.BroadcastFailed, false
		}
	case errors.Is(submitErr, context.DeadlineExceeded), errors.Is(submitErr, context.Canceled):
	default:
		return interfaces.BroadcastFailed, false
	}

	prober, ok := a.broadcaster.(interfaces.OutcomeProber)
	if !ok {
		return interfaces.BroadcastUnknown, false
	}

	probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.probeTimeout)
	defer cancel()

	committed, known, err := prober.Probe(probeCtx, requestID)
	if err != nil {
		a.log.Warn("Outcome probe failed", slog.String("requestId", requestID), "err", err)
		return interfaces.BroadcastUnknown, false
	}
	if known && !committed {
		return interfaces.BroadcastFailed, false
	}
	return interfaces.BroadcastUnknown, known && committed
}

func (a *Authority) release(ctx context.Context, reservation interfaces.Reservation) {
	if err := a.ledger.Release(context.WithoutCancel(ctx), reservation.Token); err != nil {
		a.log.Error("Failed to release reservation",
			slog.String("account", reservation.AccountID.String()),
			slog.String("reservation", reservation.Token),
			"err", err)
	}
}

// finish emits the terminal audit event and records metrics.
func (a *Authority) finish(ctx context.Context, exec *execution, err error) {
	req := exec.req
	event := interfaces.AuditEvent{
		AccountID:         req.Source,
		Action:            successAction(req.Operation),
		Outcome:           interfaces.OutcomeSuccess,
		Reason:            req.Reason,
		RequestID:         req.RequestID,
		Operation:         req.Operation,
		Amount:            req.Amount,
		Destination:       req.Destination,
		ExternalReference: exec.ref,
	}
	result := "success"
	if err != nil {
		event.Action = interfaces.ActionTransferFailed
		event.Outcome = interfaces.OutcomeFailed
		event.ErrorDetail = err.Error()
		if exec.detail != "" {
			event.ErrorDetail = exec.detail + ": " + err.Error()
		}
		result = failureResult(err)
	}
	a.journal.Append(ctx, event)

	a.metrics.ObserveTransfer(req.Source.String(), req.Operation.String(), result, a.clock.Since(exec.started))

	if err != nil {
		a.log.Warn("Transfer rejected",
			slog.String("requestId", req.RequestID),
			slog.String("account", req.Source.String()),
			slog.String("operation", req.Operation.String()),
			slog.Int64("amount", req.Amount),
			"err", err)
		return
	}
	a.log.Info("Transfer executed",
		slog.String("requestId", req.RequestID),
		slog.String("account", req.Source.String()),
		slog.String("operation", req.Operation.String()),
		slog.Int64("amount", req.Amount),
		slog.String("securityLevel", string(exec.level)),
		slog.String("reference", exec.ref))
}

func successAction(op interfaces.Operation) interfaces.AuditAction {
	if op == interfaces.OpBurn {
		return interfaces.ActionBurn
	}
	return interfaces.ActionTransfer
}

func reservationResult(err error) string {
	if errors.Is(err, interfaces.ErrDailyLimitExceeded) {
		return "limit_exceeded"
	}
	return "error"
}

func failureResult(err error) string {
	switch {
	case interfaces.IsOutcomeUnknown(err):
		return "unknown"
	case errors.Is(err, interfaces.ErrVaultLocked):
		return "locked"
	case errors.Is(err, interfaces.ErrDailyLimitExceeded):
		return "limit_exceeded"
	case errors.Is(err, interfaces.ErrOperationNotPermitted),
		errors.Is(err, interfaces.ErrApprovalRequired),
		errors.Is(err, interfaces.ErrInvalidApproval):
		return "denied"
	default:
		return "failed"
	}
}
