package broadcaster

import (
	"context"
	"fmt"
	"sync"

	"github.com/ruteri/treasury-vault/interfaces"
)

// Submission is what Mock remembers of a request. The secret is not retained.
type Submission struct {
	RequestID   string
	Account     interfaces.AccountID
	Destination string
	Amount      int64
	Operation   interfaces.Operation
	SecretLen   int
}

// ProbeResult is the canned answer of Mock.Probe.
type ProbeResult struct {
	Committed bool
	Known     bool
	Err       error
}

// Mock is an in-process broadcaster. The zero value accepts every submission.
type Mock struct {
	mu sync.Mutex

	// Err is returned by Submit when set.
	Err error
	// Block makes Submit wait until its context is done.
	Block bool
	// ProbeResult is returned by Probe. A nil value reports an unknown outcome.
	ProbeResult *ProbeResult
	// OnSubmit is called with the request while the secret is still valid.
	OnSubmit func(req interfaces.SubmitRequest)

	submissions []Submission
}

// NewMock returns a Mock that accepts every submission.
func NewMock() *Mock {
	return &Mock{}
}

// Submit records the request and returns a sequential reference.
func (m *Mock) Submit(ctx context.Context, req interfaces.SubmitRequest) (string, error) {
	m.mu.Lock()
	hook, fail, block := m.OnSubmit, m.Err, m.Block
	m.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if fail != nil {
		return "", fail
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.submissions = append(m.submissions, Submission{
		RequestID:   req.RequestID,
		Account:     req.Account,
		Destination: req.Destination,
		Amount:      req.Amount,
		Operation:   req.Operation,
		SecretLen:   len(req.Secret),
	})
	return fmt.Sprintf("mock-%06d", len(m.submissions)), nil
}

// Probe implements interfaces.OutcomeProber.
func (m *Mock) Probe(ctx context.Context, requestID string) (bool, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ProbeResult == nil {
		return false, false, nil
	}
	return m.ProbeResult.Committed, m.ProbeResult.Known, m.ProbeResult.Err
}

// Submissions returns the accepted submissions in order.
func (m *Mock) Submissions() []Submission {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Submission(nil), m.submissions...)
}

// SetError changes the error returned by Submit.
func (m *Mock) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}
