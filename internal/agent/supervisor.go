package agent

import (
	"context"
	stdErrors "errors"
	"sync"

	"Fluxo/internal/bus"
)

// Supervisor runs a set of agents concurrently on one bus.
type Supervisor struct {
	sub    bus.Subscriber
	agents []Agent
}

// NewSupervisor creates a supervisor.
func NewSupervisor(sub bus.Subscriber, agents ...Agent) *Supervisor {
	return &Supervisor{sub: sub, agents: agents}
}

// Run blocks until every listen loop has stopped. Context cancellation is not
// reported as an error.
func (s *Supervisor) Run(ctx context.Context) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, a := range s.agents {
		wg.Add(1)
		go func(a Agent) {
			defer wg.Done()
			if err := Listen(ctx, s.sub, a); err != nil && !stdErrors.Is(err, context.Canceled) && !stdErrors.Is(err, context.DeadlineExceeded) {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(a)
	}
	wg.Wait()
	return stdErrors.Join(errs...)
}
