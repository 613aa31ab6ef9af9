// Package router is the message dispatcher: it strips address syntax,
// resolves commands, attaches user and group rows, runs the middleware chain
// and flushes row changes afterwards.
package router

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/botgate/internal/bus"
	"github.com/nextlevelbuilder/botgate/internal/command"
	"github.com/nextlevelbuilder/botgate/internal/config"
	"github.com/nextlevelbuilder/botgate/internal/store"
)

// Publisher accepts outbound replies.
type Publisher interface {
	PublishOutbound(msg bus.OutboundMessage)
}

// Router owns the dispatch state of one bot process. Configure it with
// options and register middlewares, hooks and commands before the first
// message arrives.
type Router struct {
	registry *command.Registry
	matcher  *Matcher
	identity *IdentityResolver
	db       store.Database
	out      Publisher
	log      *slog.Logger
	tracer   trace.Tracer
	denyFn   DenyFunc

	nicknames      []string
	prefixes       []string
	autoAssign     bool
	requireAddress bool
	serializeUsers bool

	mwMu        sync.RWMutex
	middlewares []*registration

	hooks hooks

	tokens atomic.Uint64
	liveMu sync.Mutex
	live   map[uint64]struct{}

	userLocks keyedMutex
}

// Option configures a Router.
type Option func(*Router)

// WithDatabase enables row attachment. Without it no rows are loaded and
// authority checks are skipped.
func WithDatabase(db store.Database) Option { return func(r *Router) { r.db = db } }

// WithPublisher sets where replies go.
func WithPublisher(p Publisher) Option { return func(r *Router) { r.out = p } }

func WithLogger(l *slog.Logger) Option { return func(r *Router) { r.log = l } }

func WithTracer(t trace.Tracer) Option { return func(r *Router) { r.tracer = t } }

// WithNicknames sets the names the bot answers to.
func WithNicknames(names ...string) Option { return func(r *Router) { r.nicknames = names } }

// WithPrefixes sets the command prefixes.
func WithPrefixes(prefixes ...string) Option { return func(r *Router) { r.prefixes = prefixes } }

// WithAutoAssign assigns unowned groups to the first bot that hears them.
func WithAutoAssign(on bool) Option { return func(r *Router) { r.autoAssign = on } }

// WithRequireAddressInGroup only parses group messages as commands when they
// carried a mention, nickname or prefix.
func WithRequireAddressInGroup(on bool) Option { return func(r *Router) { r.requireAddress = on } }

// WithSerializeUsers serializes attach-to-flush per user so concurrent
// messages from one user cannot lose usage or timer updates.
func WithSerializeUsers(on bool) Option { return func(r *Router) { r.serializeUsers = on } }

// WithDenyHandler is called when an authority check fails. The default is
// to drop the command silently.
func WithDenyHandler(fn DenyFunc) Option { return func(r *Router) { r.denyFn = fn } }

// FromConfig maps the router section of the config file to options.
func FromConfig(cfg config.RouterConfig) []Option {
	return []Option{
		WithNicknames(cfg.Nicknames...),
		WithPrefixes(cfg.Prefixes...),
		WithAutoAssign(cfg.AutoAssignEnabled()),
		WithRequireAddressInGroup(cfg.RequireAddressInGroupEnabled()),
	}
}

// New creates a Router over reg. A nil reg gets a fresh registry.
func New(reg *command.Registry, opts ...Option) *Router {
	if reg == nil {
		reg = command.NewRegistry()
	}
	r := &Router{
		registry:       reg,
		log:            slog.Default(),
		tracer:         otel.Tracer("github.com/nextlevelbuilder/botgate/internal/router"),
		autoAssign:     true,
		requireAddress: true,
		live:           make(map[uint64]struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	r.matcher = NewMatcher(r.nicknames, r.prefixes)
	r.identity = NewIdentityResolver(r.matcher.SetSelfIDs)
	return r
}

func (r *Router) Registry() *command.Registry { return r.registry }
func (r *Router) Matcher() *Matcher { return r.matcher }
func (r *Router) Identity() *IdentityResolver { return r.identity }
func (r *Router) Database() store.Database { return r.db }

// Command registers root commands on the router's registry.
func (r *Router) Command(cmds ...*command.Command) error {
	return r.registry.Register(cmds...)
}

// Handle dispatches one inbound message. Errors are returned only for
// storage failures while attaching rows; middleware failures are logged and
// contained.
func (r *Router) Handle(ctx context.Context, msg bus.InboundMessage) error {
	s := r.newSession(msg)
	r.parse(s)

	if r.db != nil {
		if r.serializeUsers {
			unlock := r.userLocks.lock(s.UserKey())
			defer unlock()
		}
		ok, err := r.attach(ctx, s)
		if err != nil || !ok {
			r.flush(context.WithoutCancel(ctx), s)
			return err
		}
	}

	r.dispatch(ctx, s)
	return nil
}

// parse strips address syntax and resolves a command invocation.
func (r *Router) parse(s *Session) {
	s.Parsed = r.matcher.Strip(strings.TrimSpace(s.Content), s.IsGroup())
	if s.IsGroup() && r.requireAddress && !s.Parsed.Addressed() {
		return
	}
	s.Argv, s.ArgvErr = r.registry.Parse(s.Parsed.Message, s.Parsed.Prefixed)
}

func (r *Router) send(_ context.Context, msg bus.OutboundMessage) error {
	if r.out == nil {
		r.log.Debug("reply dropped, no publisher", "channel", msg.Channel, "chat_id", msg.ChatID)
		return nil
	}
	r.out.PublishOutbound(msg)
	return nil
}

// keyedMutex hands out one mutex per key, dropping it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[store.Key]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key store.Key) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[store.Key]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
