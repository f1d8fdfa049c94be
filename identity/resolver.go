package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hospiverse/clinic-engine/generic"
	"github.com/hospiverse/clinic-engine/metrics"
	"github.com/hospiverse/clinic-engine/pkg/logging"
)

// DefaultResolveTimeout bounds the session fetch.
const DefaultResolveTimeout = 2 * time.Second

// Outcome classifies a resolution.
type Outcome string

const (
	OutcomeResolved  Outcome = "resolved"
	OutcomeDegraded  Outcome = "degraded"
	OutcomeNoSession Outcome = "unauthenticated"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeError     Outcome = "error"
	OutcomeCancelled Outcome = "cancelled"
)

// Result is the outcome of one resolution. Identity is nil unless the
// caller is authenticated.
type Result struct {
	Identity *Identity
	Outcome  Outcome
	Err      error
}

func (r Result) Authenticated() bool { return r.Identity != nil }

type Options struct {
	Timeout time.Duration
	Logger  *logging.Logger
	Metrics *metrics.Metrics
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return DefaultResolveTimeout
	}
	return o.Timeout
}

// =============================================================================
// ONE-SHOT RESOLUTION
// =============================================================================

// Resolve races the session fetch against the timeout and, for a session
// with a user, loads its profile.
//
//	timeout or fetch error  -> sign out + local.Clear(), Unauthenticated
//	no session              -> Unauthenticated
//	profile missing/error   -> degraded Identity with role staff
//	profile found           -> Identity
func Resolve(ctx context.Context, auth Auth, local LocalState, profiles ProfileSource, opts Options) Result {
	log := logging.OrDefault(opts.Logger)

	session, err := fetchSession(ctx, auth, opts.timeout())
	var res Result
	switch {
	case err != nil && ctx.Err() != nil && !errors.Is(err, generic.ErrTimeout):
		// caller went away; the session itself is not at fault
		res = Result{Outcome: OutcomeCancelled, Err: err}
	case err != nil:
		res = Result{Outcome: OutcomeError, Err: err}
		if errors.Is(err, generic.ErrTimeout) {
			res.Outcome = OutcomeTimeout
		}
		log.WithError(err).WithField("outcome", res.Outcome).Warn("Wiping invalid session")
		wipe(auth, local, opts.timeout(), log)
	case session == nil || session.UserID == "":
		res = Result{Outcome: OutcomeNoSession}
	default:
		res = resolveProfile(ctx, session, profiles, log)
	}

	opts.Metrics.ObserveResolution(string(res.Outcome))
	return res
}

// fetchSession runs GetSession in its own goroutine so a collaborator that
// ignores ctx still cannot hold the caller past the deadline.
func fetchSession(ctx context.Context, auth Auth, timeout time.Duration) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type fetched struct {
		session *Session
		err     error
	}
	ch := make(chan fetched, 1)
	go func() {
		s, err := auth.GetSession(ctx)
		ch <- fetched{session: s, err: err}
	}()

	select {
	case f := <-ch:
		return f.session, f.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", generic.ErrTimeout, timeout)
		}
		return nil, ctx.Err()
	}
}

func resolveProfile(ctx context.Context, session *Session, profiles ProfileSource, log *logging.Logger) Result {
	if profiles == nil {
		return Result{Identity: degraded(session), Outcome: OutcomeDegraded}
	}
	ident, err := profiles.Profile(ctx, session.UserID)
	if err != nil || ident == nil {
		log.WithUserID(session.UserID).WithError(err).Warn("Profile unavailable, continuing as staff")
		return Result{Identity: degraded(session), Outcome: OutcomeDegraded, Err: err}
	}
	if ident.Email == "" {
		ident.Email = session.Email
	}
	return Result{Identity: ident, Outcome: OutcomeResolved}
}

// wipe invalidates the external session and clears local state. It uses its
// own context so an expired request context cannot skip the sign-out.
func wipe(auth Auth, local LocalState, timeout time.Duration, log *logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := auth.SignOut(ctx); err != nil {
		log.WithError(err).Warn("Sign-out during wipe failed")
	}
	if local != nil {
		local.Clear()
	}
}

// =============================================================================
// RESOLVER - Long-lived session state with change notifications
// =============================================================================

// State is a snapshot of the resolver.
type State struct {
	Identity      *Identity
	Authenticated bool
	Loading       bool
}

// Resolver owns the process-wide session state for one auth context.
// It is created once, started, and closed on teardown.
type Resolver struct {
	auth     Auth
	local    LocalState
	profiles ProfileSource
	opts     Options
	log      *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       State
	closed      bool
	unsubscribe func()
	wg          sync.WaitGroup

	ready     chan struct{}
	readyOnce sync.Once
}

func NewResolver(auth Auth, local LocalState, profiles ProfileSource, opts Options) *Resolver {
	ctx, cancel := context.WithCancel(context.Background())
	return &Resolver{
		auth:     auth,
		local:    local,
		profiles: profiles,
		opts:     opts,
		log:      logging.OrDefault(opts.Logger),
		ctx:      ctx,
		cancel:   cancel,
		state:    State{Loading: true},
		ready:    make(chan struct{}),
	}
}

// Start subscribes to auth changes and runs the initial resolution.
func (r *Resolver) Start(ctx context.Context) Result {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Result{Outcome: OutcomeCancelled, Err: errors.New("resolver closed")}
	}
	r.unsubscribe = r.auth.OnAuthStateChange(r.onChange)
	r.mu.Unlock()

	res := Resolve(ctx, r.auth, r.local, r.profiles, r.opts)
	r.apply(res)
	return res
}

// onChange re-resolves asynchronously; whichever resolution finishes last
// determines the state.
func (r *Resolver) onChange(change AuthChange) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		if change.Session == nil || change.Session.UserID == "" {
			r.apply(Result{Outcome: OutcomeNoSession})
			return
		}
		res := resolveProfile(r.ctx, change.Session, r.profiles, r.log)
		r.opts.Metrics.ObserveResolution(string(res.Outcome))
		r.apply(res)
	}()
}

func (r *Resolver) apply(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.state = State{Identity: res.Identity, Authenticated: res.Identity != nil}
	r.readyOnce.Do(func() { close(r.ready) })
}

// State returns a copy of the current state.
func (r *Resolver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.state
	if s.Identity != nil {
		ident := *s.Identity
		s.Identity = &ident
	}
	return s
}

// Ready is closed once the first resolution has settled (or on Close).
func (r *Resolver) Ready() <-chan struct{} { return r.ready }

// Logout clears identity and local state, then signs out.
func (r *Resolver) Logout(ctx context.Context) error {
	r.apply(Result{Outcome: OutcomeNoSession})
	if r.local != nil {
		r.local.Clear()
	}
	if err := r.auth.SignOut(ctx); err != nil {
		r.log.WithError(err).Warn("Logout sign-out failed")
		return err
	}
	return nil
}

// Close releases the subscription and waits for in-flight resolutions.
// Results arriving after Close are dropped.
func (r *Resolver) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	unsubscribe := r.unsubscribe
	r.unsubscribe = nil
	r.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	r.cancel()
	r.wg.Wait()
	r.readyOnce.Do(func() { close(r.ready) })
}
