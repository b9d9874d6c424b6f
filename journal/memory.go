package journal

import (
	"context"
	"sync"

	"github.com/ruteri/treasury-vault/interfaces"
)

// MemorySink keeps events in memory.
type MemorySink struct {
	mu     sync.Mutex
	events []interfaces.AuditEvent
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Write(ctx context.Context, event interfaces.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *MemorySink) LastID(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return 0, nil
	}
	return s.events[len(s.events)-1].LogID, nil
}

func (s *MemorySink) Events(ctx context.Context, filter interfaces.AuditFilter) ([]interfaces.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return filterEvents(s.events, filter), nil
}

func filterEvents(events []interfaces.AuditEvent, filter interfaces.AuditFilter) []interfaces.AuditEvent {
	var out []interfaces.AuditEvent
	for _, e := range events {
		if !filter.Matches(e) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out
}
