// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

// Package pdp is the policy decision point. It composes the identity store,
// session manager, role graph and policy engine behind one API and decides
// whether a user may perform an action on a resource.
//
// A single RWMutex guards all entity state. Components emit events into a
// buffer while the lock is held; the buffer is published to the Bus after
// the lock is released, so listeners may call back into the Service.
package pdp

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"

	"github.com/aegis-pdp/aegis/internal/access/audit"
	"github.com/aegis-pdp/aegis/internal/access/policy"
	"github.com/aegis-pdp/aegis/internal/access/rbac"
	"github.com/aegis-pdp/aegis/internal/auth"
	"github.com/aegis-pdp/aegis/internal/config"
	"github.com/aegis-pdp/aegis/internal/event"
	"github.com/aegis-pdp/aegis/internal/schedule"
	"github.com/aegis-pdp/aegis/pkg/errutil"
)

var tracer = otel.Tracer("aegis/pdp")

// MFAIssuer is the issuer name shown in authenticator apps.
const MFAIssuer = "Aegis"

// Service is the policy decision point. It is safe for concurrent use.
type Service struct {
	mu  sync.RWMutex
	cfg config.Config

	users    *auth.Users
	sessions *auth.Sessions
	graph    *rbac.Graph
	engine   *policy.Engine
	audit    *audit.Logger

	bus     *event.Bus
	pending *event.Buffer
	pubMu   sync.Mutex

	sched      schedule.Scheduler
	sweepJob   schedule.JobID
	sweepArmed bool

	ownsScheduler bool
	ownsAudit     bool

	stats   accessCounters
	stopped atomic.Bool

	clock   func() time.Time
	logger  *slog.Logger
	metrics *Metrics
}

type accessCounters struct {
	total   atomic.Uint64
	granted atomic.Uint64
	denied  atomic.Uint64
}

type options struct {
	clock     func() time.Time
	logger    *slog.Logger
	bus       *event.Bus
	scheduler schedule.Scheduler
	hasher    auth.PasswordHasher
	mfa       auth.MFAVerifier
	audit     *audit.Logger
	metrics   *Metrics
}

// Option configures a Service.
type Option func(*options)

// WithClock sets the time source for every component.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// WithLogger sets the logger for every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithBus publishes events to bus instead of a private one.
func WithBus(bus *event.Bus) Option {
	return func(o *options) { o.bus = bus }
}

// WithScheduler runs the session sweep on s. The caller keeps ownership and
// stops it. Without this option the service runs its own cron scheduler.
func WithScheduler(s schedule.Scheduler) Option {
	return func(o *options) { o.scheduler = s }
}

// WithHasher replaces the default argon2id password hasher.
func WithHasher(h auth.PasswordHasher) Option {
	return func(o *options) { o.hasher = h }
}

// WithMFA replaces the default TOTP verifier.
func WithMFA(m auth.MFAVerifier) Option {
	return func(o *options) { o.mfa = m }
}

// WithAuditLogger records decisions into l. The caller keeps ownership and
// closes it. Without this option the service keeps an in-memory history of
// audit.DefaultCapacity records.
func WithAuditLogger(l *audit.Logger) Option {
	return func(o *options) { o.audit = l }
}

// WithMetrics sets the metric collectors.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// New builds a Service over st, loading any existing state, and schedules
// the session sweep.
func New(ctx context.Context, cfg config.Config, st Stores, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{
		clock:  time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.bus == nil {
		o.bus = event.NewBus(o.logger)
	}
	if o.hasher == nil {
		o.hasher = auth.NewArgon2idHasher()
	}
	if o.mfa == nil {
		o.mfa = auth.NewTOTP(MFAIssuer)
	}
	if o.metrics == nil {
		o.metrics = NewMetrics(nil)
	}

	s := &Service{
		cfg:     cfg,
		bus:     o.bus,
		pending: event.NewBuffer(o.clock),
		sched:   o.scheduler,
		audit:   o.audit,
		clock:   o.clock,
		logger:  o.logger,
		metrics: o.metrics,
	}
	if s.sched == nil {
		s.sched = schedule.NewCron(o.logger)
		s.ownsScheduler = true
	}
	if s.audit == nil {
		s.audit = audit.NewLogger(audit.NewRing(audit.DefaultCapacity),
			audit.WithMetrics(o.metrics.audit),
			audit.WithLogger(o.logger))
		s.ownsAudit = true
	}

	var err error
	s.users, err = auth.NewUsers(ctx, st.Users, o.hasher, o.mfa, s.pending, cfg,
		auth.WithUsersClock(o.clock), auth.WithUsersLogger(o.logger))
	if err != nil {
		return nil, s.abort(err)
	}
	s.sessions, err = auth.NewSessions(st.Sessions, st.Refresh, s.pending, cfg.SessionTimeout,
		auth.WithSessionClock(o.clock), auth.WithSessionLogger(o.logger))
	if err != nil {
		return nil, s.abort(err)
	}
	s.graph, err = rbac.NewGraph(ctx, st.Roles, st.Permissions, s.pending,
		rbac.WithClock(o.clock), rbac.WithLogger(o.logger))
	if err != nil {
		return nil, s.abort(err)
	}
	s.engine, err = policy.NewEngine(ctx, st.Policies, s.graph.Matcher(), s.pending,
		policy.WithClock(o.clock), policy.WithLogger(o.logger), policy.WithMetrics(o.metrics.policy))
	if err != nil {
		return nil, s.abort(err)
	}

	if err := s.armSweep(cfg.SweepInterval); err != nil {
		return nil, s.abort(err)
	}
	return s, nil
}

// abort releases what New created before failing.
func (s *Service) abort(err error) error {
	if s.ownsScheduler {
		s.sched.Stop()
	}
	if s.ownsAudit {
		_ = s.audit.Close()
	}
	return err
}

// Bus returns the event bus. Subscribe to observe the service.
func (s *Service) Bus() *event.Bus {
	return s.bus
}

// Stop cancels the session sweep, releases owned resources and emits
// accessControlStopped. Later calls do nothing.
func (s *Service) Stop(ctx context.Context) error {
	if !s.stopped.CompareAndSwap(false, true) {
		return nil
	}
	_, span := tracer.Start(ctx, "pdp.Stop")
	defer span.End()

	s.mu.Lock()
	if s.sweepArmed {
		s.sched.Cancel(s.sweepJob)
		s.sweepArmed = false
	}
	s.mu.Unlock()

	if s.ownsScheduler {
		s.sched.Stop()
	}
	var err error
	if s.ownsAudit {
		err = s.audit.Close()
	}

	s.pending.Emit(event.KindAccessControlStopped, event.AccessControlStopped{})
	s.flush()
	s.logger.Info("access control stopped")
	return err
}

// armSweep schedules the session sweep every interval, replacing any
// previous schedule. Callers hold the write lock or own s exclusively.
func (s *Service) armSweep(interval time.Duration) error {
	if s.sweepArmed {
		s.sched.Cancel(s.sweepJob)
		s.sweepArmed = false
	}
	id, err := s.sched.Every(interval, s.sweep)
	if err != nil {
		return oops.Code("PDP_SCHEDULE_FAILED").With("interval", interval.String()).Wrap(err)
	}
	s.sweepJob, s.sweepArmed = id, true
	return nil
}

// sweep is the scheduled job. Failures are logged; the next run retries.
func (s *Service) sweep() {
	ctx, span := tracer.Start(context.Background(), "pdp.SweepSessions")
	defer span.End()

	n, err := s.SweepSessions(ctx)
	if err != nil {
		errutil.LogError(ctx, s.logger, "session sweep failed", err)
		return
	}
	s.metrics.sweptSessions.Add(float64(n))
}

// SweepSessions expires overdue sessions now and returns how many expired.
// It is what the scheduled sweep runs.
func (s *Service) SweepSessions(ctx context.Context) (int, error) {
	s.mu.Lock()
	n, err := s.sessions.Sweep(ctx)
	s.mu.Unlock()
	s.flush()
	return n, err
}

// flush publishes buffered events in emission order. Only one goroutine
// publishes at a time; a listener that calls back into the service leaves
// its events for the publishing goroutine, which keeps draining until the
// buffer is empty.
func (s *Service) flush() {
	for {
		if !s.pubMu.TryLock() {
			return
		}
		for evs := s.pending.Drain(); len(evs) > 0; evs = s.pending.Drain() {
			for _, e := range evs {
				s.bus.Publish(e)
			}
		}
		s.pubMu.Unlock()
		if s.pending.Len() == 0 {
			return
		}
	}
}
