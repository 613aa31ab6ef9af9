package router

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrStaleContinuation is returned when a continuation is invoked after its
// dispatch finished. It always indicates a leaked callback.
var ErrStaleContinuation = errors.New("continuation invoked after dispatch completed")

// NextFunc continues the chain. Fallbacks are appended as terminal steps and
// run only if every remaining middleware continues.
type NextFunc func(ctx context.Context, fallback ...Middleware) error

// Middleware handles a session, calling next to pass it on. Not calling
// next ends the chain for this message.
type Middleware func(ctx context.Context, s *Session, next NextFunc) error

// MiddlewareError is a failure caught at a continuation boundary. Trail
// lists the middlewares entered up to and including the failing one.
type MiddlewareError struct {
	Trail []string
	Err   error
}

func (e *MiddlewareError) Error() string {
	return fmt.Sprintf("middleware %s: %v", strings.Join(e.Trail, " > "), e.Err)
}

func (e *MiddlewareError) Unwrap() error { return e.Err }

type registration struct {
	id      uint64
	name    string
	sel     Selector
	mw      Middleware
	prepend bool
}

// UseOption configures a middleware registration.
type UseOption func(*registration)

// WithName labels the middleware in error trails and traces.
func WithName(name string) UseOption { return func(r *registration) { r.name = name } }

// WithSelector scopes the middleware to matching sessions.
func WithSelector(sel Selector) UseOption { return func(r *registration) { r.sel = sel } }

// Prepend places the middleware before earlier registrations. The command
// trigger always stays first.
func Prepend() UseOption { return func(r *registration) { r.prepend = true } }

// Use registers a middleware and returns a function that unregisters it.
// In-flight dispatches keep the snapshot they started with.
func (r *Router) Use(mw Middleware, opts ...UseOption) (remove func()) {
	reg := &registration{id: hookSeq.Add(1), mw: mw}
	for _, o := range opts {
		o(reg)
	}
	if reg.name == "" {
		reg.name = fmt.Sprintf("middleware-%d", reg.id)
	}

	r.mwMu.Lock()
	if reg.prepend {
		r.middlewares = append([]*registration{reg}, r.middlewares...)
	} else {
		r.middlewares = append(slices.Clone(r.middlewares), reg)
	}
	r.mwMu.Unlock()

	return func() {
		r.mwMu.Lock()
		r.middlewares = slices.DeleteFunc(slices.Clone(r.middlewares), func(x *registration) bool { return x.id == reg.id })
		r.mwMu.Unlock()
	}
}

type step struct {
	name string
	mw   Middleware
}

// snapshot returns the trigger followed by every registration matching s.
func (r *Router) snapshot(s *Session) []step {
	r.mwMu.RLock()
	regs := r.middlewares
	r.mwMu.RUnlock()

	steps := make([]step, 0, len(regs)+1)
	steps = append(steps, step{name: "command", mw: r.commandTrigger})
	for _, reg := range regs {
		if reg.sel.Match(s) {
			steps = append(steps, step{name: reg.name, mw: reg.mw})
		}
	}
	return steps
}

// chain is the per-dispatch cursor over a middleware snapshot.
type chain struct {
	router  *Router
	token   uint64
	session *Session
	span    trace.Span

	mu     sync.Mutex
	steps  []step
	cursor int
	trail  []string
	failed *MiddlewareError
}

func (c *chain) next(ctx context.Context, fallback ...Middleware) error {
	if !c.router.isLive(c.token) {
		err := fmt.Errorf("%w (session %s)", ErrStaleContinuation, c.session.ID)
		c.mu.Lock()
		trail := slices.Clone(c.trail)
		c.mu.Unlock()
		c.router.log.Error("stale continuation", "session", c.session.ID, "trail", trail, "error", err)
		return err
	}

	c.mu.Lock()
	if c.failed != nil {
		c.mu.Unlock()
		return c.failed
	}
	base := len(c.steps)
	for i, fb := range fallback {
		c.steps = append(c.steps, step{name: fmt.Sprintf("fallback-%d", base+i), mw: fb})
	}
	if c.cursor >= len(c.steps) {
		c.mu.Unlock()
		return nil
	}
	st := c.steps[c.cursor]
	c.cursor++
	c.trail = append(c.trail, st.name)
	trail := slices.Clone(c.trail)
	c.mu.Unlock()

	c.span.AddEvent("middleware", trace.WithAttributes(attribute.String("name", st.name)))
	return c.invoke(ctx, st, trail)
}

// invoke runs one middleware, converting errors and panics into a
// MiddlewareError that halts the rest of the chain.
func (c *chain) invoke(ctx context.Context, st step, trail []string) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = c.fail(trail, fmt.Errorf("panic: %v", p))
		}
	}()

	err = st.mw(ctx, c.session, c.next)
	if err == nil {
		return nil
	}
	var me *MiddlewareError
	if errors.As(err, &me) || errors.Is(err, ErrStaleContinuation) {
		return err
	}
	return c.fail(trail, err)
}

func (c *chain) fail(trail []string, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed != nil {
		return c.failed
	}
	c.failed = &MiddlewareError{Trail: trail, Err: err}
	c.span.RecordError(err)
	c.span.SetStatus(codes.Error, err.Error())
	c.router.log.Error("middleware failed",
		"session", c.session.ID,
		"channel", c.session.Channel,
		"trail", trail,
		"error", err,
	)
	return c.failed
}

// dispatch runs the chain for s. Cleanup always runs exactly once: the
// token leaves the live set, after-middleware hooks fire and dirty rows
// are flushed.
func (r *Router) dispatch(ctx context.Context, s *Session) {
	token := r.tokens.Add(1)
	r.setLive(token, true)

	ctx, span := r.tracer.Start(ctx, "router.dispatch", trace.WithAttributes(
		attribute.String("session", s.ID.String()),
		attribute.String("channel", s.Channel),
		attribute.String("kind", string(s.Kind)),
	))
	defer span.End()

	c := &chain{router: r, token: token, session: s, span: span, steps: r.snapshot(s)}
	defer r.cleanup(ctx, c)

	_ = c.next(ctx)
}

func (r *Router) cleanup(ctx context.Context, c *chain) {
	r.setLive(c.token, false)
	for _, fn := range r.hooks.afterMiddleware.matching(c.session) {
		fn(c.session)
	}
	r.flush(context.WithoutCancel(ctx), c.session)
}

func (r *Router) setLive(token uint64, live bool) {
	r.liveMu.Lock()
	defer r.liveMu.Unlock()
	if live {
		r.live[token] = struct{}{}
	} else {
		delete(r.live, token)
	}
}

func (r *Router) isLive(token uint64) bool {
	r.liveMu.Lock()
	defer r.liveMu.Unlock()
	_, ok := r.live[token]
	return ok
}

// liveCount reports in-flight dispatches.
func (r *Router) liveCount() int {
	r.liveMu.Lock()
	defer r.liveMu.Unlock()
	return len(r.live)
}
