// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package policy

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/samber/oops"

	"github.com/aegis-pdp/aegis/internal/access/condition"
	"github.com/aegis-pdp/aegis/internal/access/rbac"
	"github.com/aegis-pdp/aegis/internal/event"
	"github.com/aegis-pdp/aegis/internal/ids"
	"github.com/aegis-pdp/aegis/internal/store"
	"github.com/aegis-pdp/aegis/pkg/errutil"
)

// CodePolicyNameTaken is returned when a policy name is already in use.
const CodePolicyNameTaken = "POLICY_NAME_TAKEN"

// ReasonNoPolicy is reported when no policy fired.
const ReasonNoPolicy = "Access granted"

// Snapshot is an immutable, pre-sorted view of the active policies. It is
// safe for concurrent reads without locking.
type Snapshot struct {
	Policies  []Policy
	CreatedAt time.Time
}

// Engine stores policies and evaluates requests against a snapshot of the
// active ones. Mutations are not safe for concurrent use; Evaluate and
// Snapshot may run concurrently with a single mutator.
type Engine struct {
	store   store.Store[Policy]
	matcher *rbac.Matcher
	events  event.Emitter
	metrics *Metrics
	clock   func() time.Time
	logger  *slog.Logger

	policies map[string]Policy
	snapshot atomic.Pointer[Snapshot]
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source used for timestamps.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics sets the metrics sink. Without it, metrics are collected but
// never registered.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine loads the stored policies and builds the first snapshot.
func NewEngine(ctx context.Context, st store.Store[Policy], matcher *rbac.Matcher, events event.Emitter, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, oops.Errorf("policy store is required")
	}
	if matcher == nil {
		return nil, oops.Errorf("pattern matcher is required")
	}
	if events == nil {
		return nil, oops.Errorf("event emitter is required")
	}
	e := &Engine{
		store:    st,
		matcher:  matcher,
		events:   events,
		clock:    time.Now,
		logger:   slog.Default(),
		policies: make(map[string]Policy),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(nil)
	}

	if err := st.Iterate(ctx, func(id string, p Policy) error {
		e.policies[id] = p
		return nil
	}); err != nil {
		return nil, oops.Code("POLICY_LOAD_FAILED").Wrap(err)
	}
	e.rebuild()
	return e, nil
}

// CreatePolicy validates and stores a new active policy, then swaps in a new
// snapshot.
func (e *Engine) CreatePolicy(ctx context.Context, in NewPolicy) (Policy, error) {
	name := strings.TrimSpace(in.Name)
	if err := validatePolicy(e.matcher, name, in.Rules); err != nil {
		return Policy{}, err
	}
	if _, ok := e.PolicyByName(name); ok {
		return Policy{}, errutil.Conflict(CodePolicyNameTaken).With("name", name).Errorf("policy name already exists")
	}

	now := e.clock()
	p := Policy{
		ID:          ids.New(),
		Name:        name,
		Description: in.Description,
		Rules:       in.Rules,
		Priority:    in.Priority,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}.Clone()
	if err := e.put(ctx, p); err != nil {
		return Policy{}, err
	}
	e.rebuild()

	e.logger.Info("policy created", "policy_id", p.ID, "name", p.Name, "priority", p.Priority)
	e.events.Emit(event.KindPolicyCreated, event.PolicyCreated{
		PolicyID: p.ID,
		Name:     p.Name,
		Priority: p.Priority,
	})
	return p.Clone(), nil
}

// SetPolicyActive activates or deactivates a policy.
func (e *Engine) SetPolicyActive(ctx context.Context, id string, active bool) (Policy, error) {
	p, ok := e.policies[id]
	if !ok {
		return Policy{}, policyNotFound(id)
	}
	if p.Active == active {
		return p.Clone(), nil
	}
	p = p.Clone()
	p.Active = active
	p.UpdatedAt = e.clock()
	if err := e.put(ctx, p); err != nil {
		return Policy{}, err
	}
	e.rebuild()
	e.logger.Info("policy activation changed", "policy_id", id, "active", active)
	return p.Clone(), nil
}

// CheckRestore reports whether Restore would accept policies: IDs, names and
// rules pass the create checks, and no two policies in the engine plus the
// restored set share a name, case-insensitively. Restored policies replace
// stored ones with the same ID.
func (e *Engine) CheckRestore(policies []Policy) error {
	all := make(map[string]Policy, len(e.policies)+len(policies))
	for id, p := range e.policies {
		all[id] = p
	}
	for _, p := range policies {
		if err := ids.Validate(p.ID); err != nil {
			return errutil.Validation(CodeInvalidPolicy).With("policy_id", p.ID).Wrap(err)
		}
		if err := validatePolicy(e.matcher, strings.TrimSpace(p.Name), p.Rules); err != nil {
			return oops.With("policy_id", p.ID).Wrap(err)
		}
		all[p.ID] = p
	}

	keys := make([]string, 0, len(all))
	for id := range all {
		keys = append(keys, id)
	}
	slices.Sort(keys)
	seen := make(map[string]string, len(all))
	for _, id := range keys {
		name := strings.ToLower(strings.TrimSpace(all[id].Name))
		if other, ok := seen[name]; ok {
			return errutil.Conflict(CodePolicyNameTaken).
				With("name", all[id].Name).
				With("policy_id", id).
				With("conflicting_policy_id", other).
				Errorf("policy name already exists")
		}
		seen[name] = id
	}
	return nil
}

// Restore stores policies as given, keeping their IDs and timestamps.
// Nothing is written unless CheckRestore accepts the whole set.
func (e *Engine) Restore(ctx context.Context, policies []Policy) error {
	if err := e.CheckRestore(policies); err != nil {
		return err
	}
	for _, p := range policies {
		if err := e.put(ctx, p.Clone()); err != nil {
			return err
		}
	}
	e.rebuild()
	return nil
}

// Policy returns the policy with id.
func (e *Engine) Policy(id string) (Policy, bool) {
	p, ok := e.policies[id]
	return p.Clone(), ok
}

// PolicyByName looks a policy up by name, case-insensitively.
func (e *Engine) PolicyByName(name string) (Policy, bool) {
	for _, p := range e.policies {
		if strings.EqualFold(p.Name, name) {
			return p.Clone(), true
		}
	}
	return Policy{}, false
}

// Policies returns every policy, active or not, ordered by ID.
func (e *Engine) Policies() []Policy {
	out := make([]Policy, 0, len(e.policies))
	for _, p := range e.policies {
		out = append(out, p.Clone())
	}
	slices.SortFunc(out, func(a, b Policy) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Snapshot returns the current evaluation snapshot. Callers must not modify it.
func (e *Engine) Snapshot() *Snapshot {
	return e.snapshot.Load()
}

// Evaluate decides (resource, action) against the active policies. Policies
// are tried in snapshot order; within a policy, rules are tried in order and
// only rules matching resource and action are considered. The first rule
// whose conditions hold decides. When none fires the request is granted.
func (e *Engine) Evaluate(resource, action string, req condition.Request) Decision {
	start := time.Now()
	snap := e.snapshot.Load()

	for _, p := range snap.Policies {
		for _, r := range p.Rules {
			if !e.matcher.Match(r.Resource, resource) || !e.matcher.Match(r.Action, action) {
				continue
			}
			if !condition.All(r.Conditions, req) {
				continue
			}
			if r.Effect == EffectDeny {
				e.metrics.record(time.Since(start), outcomeDeny)
				return Deny("Access denied by policy: "+p.Name, p.ID)
			}
			e.metrics.record(time.Since(start), outcomeAllow)
			return Grant("Access granted by policy: "+p.Name, p.ID)
		}
	}
	e.metrics.record(time.Since(start), outcomeDefaultAllow)
	return Grant(ReasonNoPolicy, "")
}

// rebuild swaps in a snapshot of the active policies ordered by descending
// priority, ties broken by ID so earlier policies come first.
func (e *Engine) rebuild() {
	active := make([]Policy, 0, len(e.policies))
	for _, p := range e.policies {
		if p.Active {
			active = append(active, p.Clone())
		}
	}
	slices.SortFunc(active, func(a, b Policy) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	e.snapshot.Store(&Snapshot{Policies: active, CreatedAt: e.clock()})
	e.metrics.activePolicies.Set(float64(len(active)))
}

func (e *Engine) put(ctx context.Context, p Policy) error {
	if err := e.store.Put(ctx, p.ID, p); err != nil {
		return oops.Code("POLICY_PERSIST_FAILED").With("policy_id", p.ID).Wrap(err)
	}
	e.policies[p.ID] = p
	return nil
}

func policyNotFound(id string) error {
	return errutil.NotFound(CodePolicyNotFound).With("policy_id", id).Errorf("policy not found")
}
