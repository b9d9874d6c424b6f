package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/ruteri/treasury-vault/interfaces"
	"github.com/ruteri/treasury-vault/metrics"
)

const (
	defaultAttempts      = 3
	defaultRetryInterval = 20 * time.Millisecond
)

// Journal assigns log ids to audit events and writes them to a sink.
// Writes are serialised so ids reach the sink in increasing order.
type Journal struct {
	sink    interfaces.AuditSink
	clock   clock.Clock
	log     *slog.Logger
	metrics *metrics.Metrics
	actor   string

	attempts      uint64
	retryInterval time.Duration

	mu     sync.Mutex
	lastID uint64
}

// Option customises a Journal.
type Option func(*Journal)

// WithClock sets the time source for event timestamps.
func WithClock(c clock.Clock) Option {
	return func(j *Journal) { j.clock = c }
}

// WithMetrics records failed writes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(j *Journal) { j.metrics = m }
}

// WithActor sets the actor recorded when an event carries none.
func WithActor(actor string) Option {
	return func(j *Journal) { j.actor = actor }
}

// WithRetry sets the number of write attempts and the initial backoff interval.
func WithRetry(attempts int, interval time.Duration) Option {
	return func(j *Journal) {
		if attempts > 0 {
			j.attempts = uint64(attempts)
		}
		j.retryInterval = interval
	}
}

// New creates a journal on top of sink. Log ids continue from the sink's last id.
func New(ctx context.Context, sink interfaces.AuditSink, log *slog.Logger, opts ...Option) (*Journal, error) {
	j := &Journal{
		sink:          sink,
		clock:         clock.New(),
		log:           log,
		actor:         "system",
		attempts:      defaultAttempts,
		retryInterval: defaultRetryInterval,
	}
	for _, opt := range opts {
		opt(j)
	}

	lastID, err := sink.LastID(ctx)
	if err != nil {
		return nil, err
	}
	j.lastID = lastID
	return j, nil
}

// Append records an event. It never fails: a write that still fails after the bounded
// retries is logged at warning level and counted, and the caller proceeds.
func (j *Journal) Append(ctx context.Context, event interfaces.AuditEvent) {
	// The event must be written even when the caller has given up.
	ctx = context.WithoutCancel(ctx)

	j.mu.Lock()
	defer j.mu.Unlock()

	j.lastID++
	event.LogID = j.lastID
	if event.Timestamp.IsZero() {
		event.Timestamp = j.clock.Now().UTC()
	}
	if event.Actor == "" {
		if actor, ok := interfaces.ActorFromContext(ctx); ok {
			event.Actor = actor
		} else {
			event.Actor = j.actor
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = j.retryInterval
	bo.MaxInterval = 10 * j.retryInterval
	bo.MaxElapsedTime = 0

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		return j.sink.Write(ctx, event)
	}, backoff.WithMaxRetries(bo, j.attempts-1))
	if err != nil {
		j.log.Warn("Failed to write audit event",
			slog.Uint64("logId", event.LogID),
			slog.String("account", event.AccountID.String()),
			slog.String("action", string(event.Action)),
			slog.String("requestId", event.RequestID),
			slog.Int("attempts", attempt),
			"err", err)
		j.metrics.IncJournalFailure()
		return
	}

	j.log.Debug("Audit event recorded",
		slog.Uint64("logId", event.LogID),
		slog.String("account", event.AccountID.String()),
		slog.String("action", string(event.Action)),
		slog.String("outcome", string(event.Outcome)))
}

// Events reads back events from the sink.
func (j *Journal) Events(ctx context.Context, filter interfaces.AuditFilter) ([]interfaces.AuditEvent, error) {
	return j.sink.Events(ctx, filter)
}

// LastID returns the id of the most recently appended event.
func (j *Journal) LastID() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastID
}
