package server

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/AirmashQ/airmash-ground-control/server"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// Termination reasons recorded on wingmen.terminated
const (
	reasonDone  = "done"
	reasonError = "error"
	reasonPanic = "panic"
)

// Supervisor runs fire-and-forget tasks. It tracks them for logging and
// metrics only; callers never wait on a single task.
type Supervisor struct {
	log *slog.Logger
	wg  sync.WaitGroup

	mu     sync.Mutex
	active map[uuid.UUID]string

	spawned    metric.Int64Counter
	terminated metric.Int64Counter
	panics     metric.Int64Counter
}

// NewSupervisor creates a supervisor and registers its instruments
func NewSupervisor(logger *slog.Logger) (*Supervisor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Supervisor{
		log:    logger,
		active: make(map[uuid.UUID]string),
	}

	m := meter()
	var err error
	s.spawned, err = m.Int64Counter(
		"wingmen.spawned",
		metric.WithDescription("Wingmen started"),
	)
	if err != nil {
		return nil, fmt.Errorf("create spawned counter: %w", err)
	}
	s.terminated, err = m.Int64Counter(
		"wingmen.terminated",
		metric.WithDescription("Wingmen that have stopped, by reason"),
	)
	if err != nil {
		return nil, fmt.Errorf("create terminated counter: %w", err)
	}
	s.panics, err = m.Int64Counter(
		"wingmen.panics",
		metric.WithDescription("Wingmen that stopped with a panic"),
	)
	if err != nil {
		return nil, fmt.Errorf("create panic counter: %w", err)
	}

	gauge, err := m.Int64ObservableGauge(
		"wingmen.active",
		metric.WithDescription("Wingmen currently running"),
	)
	if err != nil {
		return nil, fmt.Errorf("create active gauge: %w", err)
	}
	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(gauge, int64(s.Active()))
			return nil
		},
		gauge,
	)
	if err != nil {
		return nil, fmt.Errorf("register active callback: %w", err)
	}

	return s, nil
}

// Go runs fn in its own goroutine and returns the id it was given. A panic
// in fn is recovered and logged; it never reaches the caller.
func (s *Supervisor) Go(name string, fn func(id uuid.UUID) error) uuid.UUID {
	id := uuid.New()

	s.mu.Lock()
	s.active[id] = name
	s.mu.Unlock()
	s.wg.Add(1)
	s.spawned.Add(context.Background(), 1)

	go func() {
		reason := reasonDone
		defer func() {
			if r := recover(); r != nil {
				reason = reasonPanic
				s.panics.Add(context.Background(), 1)
				s.log.Error("Task panicked", "task", name, "unit", id, "panic", r, "stack", string(debug.Stack()))
			}

			s.mu.Lock()
			delete(s.active, id)
			s.mu.Unlock()
			s.terminated.Add(context.Background(), 1,
				metric.WithAttributes(attribute.String("reason", reason)))
			s.wg.Done()
		}()

		if err := fn(id); err != nil {
			reason = reasonError
			s.log.Warn("Task stopped with error", "task", name, "unit", id, "error", err)
			return
		}
		s.log.Debug("Task finished", "task", name, "unit", id)
	}()

	return id
}

// Active returns the number of running tasks
func (s *Supervisor) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Drain waits for every task to finish or ctx to end. Only used at shutdown.
func (s *Supervisor) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain: %d tasks still running: %w", s.Active(), ctx.Err())
	}
}
