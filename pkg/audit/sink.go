package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/guardline/abusegate/pkg/config"
	"github.com/guardline/abusegate/pkg/domain/events"
	"github.com/guardline/abusegate/pkg/metrics"
)

// Observer is invoked synchronously for every appended event. The
// reputation detectors register here so that threshold checks run as a
// side effect of event logging rather than in a separate poll loop.
type Observer func(ctx context.Context, event *events.SecurityEvent)

type SinkOpts struct {
	TimeProvider func() time.Time
	UuidProvider func() uuid.UUID
}

// Sink fans every security event out to the bounded recent-events buffer,
// the registered observers and, asynchronously, the durable log. Append
// never blocks the request hot path: when the write queue is full the
// oldest pending write is dropped and counted.
type Sink struct {
	logger       *logrus.Logger
	repo         events.Repository
	recent       *ring
	queue        chan *events.SecurityEvent
	observers    []Observer
	observerMu   sync.RWMutex
	timeProvider func() time.Time
	uuidProvider func() uuid.UUID
	done         chan struct{}
}

func NewSink(logger *logrus.Logger, repo events.Repository, cfg config.AuditConfig, opts *SinkOpts) *Sink {
	timeProvider := time.Now
	uuidProvider := uuid.New
	if opts != nil && opts.TimeProvider != nil {
		timeProvider = opts.TimeProvider
	}
	if opts != nil && opts.UuidProvider != nil {
		uuidProvider = opts.UuidProvider
	}
	return &Sink{
		logger:       logger,
		repo:         repo,
		recent:       newRing(cfg.RecentBufferSize),
		queue:        make(chan *events.SecurityEvent, cfg.QueueSize),
		timeProvider: timeProvider,
		uuidProvider: uuidProvider,
		done:         make(chan struct{}),
	}
}

// Subscribe registers an observer for every future append.
func (s *Sink) Subscribe(observer Observer) {
	s.observerMu.Lock()
	defer s.observerMu.Unlock()
	s.observers = append(s.observers, observer)
}

// Append records the event and returns its assigned ID.
func (s *Sink) Append(ctx context.Context, event *events.SecurityEvent) uuid.UUID {
	if event.ID == uuid.Nil {
		event.ID = s.uuidProvider()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.timeProvider()
	}

	s.recent.add(*event)

	s.observerMu.RLock()
	observers := s.observers
	s.observerMu.RUnlock()
	for _, observer := range observers {
		observer(ctx, event)
	}

	select {
	case s.queue <- event:
	default:
		metrics.AuditDroppedTotal.Inc()
		s.logger.WithField("event_type", event.EventType).Warn("audit queue full, event dropped from durable log")
	}
	return event.ID
}

// Query reads from the durable log.
func (s *Sink) Query(ctx context.Context, filter events.Filter, limit int) ([]events.SecurityEvent, error) {
	return s.repo.Query(ctx, filter, limit)
}

// Recent returns up to n of the latest events, newest first.
func (s *Sink) Recent(n int) []events.SecurityEvent {
	return s.recent.snapshot(n)
}

// Run drains the write queue into the durable log until ctx is canceled,
// then flushes whatever is still pending.
func (s *Sink) Run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case event := <-s.queue:
			s.persist(event)
		case <-ctx.Done():
			for {
				select {
				case event := <-s.queue:
					s.persist(event)
				default:
					return
				}
			}
		}
	}
}

// Wait blocks until Run has returned.
func (s *Sink) Wait() {
	<-s.done
}

func (s *Sink) persist(event *events.SecurityEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.repo.Save(ctx, event); err != nil {
		s.logger.WithError(err).WithField("event_type", event.EventType).Error("failed to persist security event")
	}
}
