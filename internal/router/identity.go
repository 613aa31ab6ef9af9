package router

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Bot is a transport that can report its own identity.
type Bot interface {
	Name() string
	LoginInfo(ctx context.Context) (string, error)
}

type resolution struct {
	done chan struct{}
	id   string
	err  error
}

// IdentityResolver memoizes each bot's self identifier. Concurrent callers
// share one lookup. Failed lookups stay cached until Forget is called.
type IdentityResolver struct {
	mu       sync.Mutex
	inflight map[string]*resolution
	byBot    map[string]string
	known    []string

	// notifyMu orders onChange calls so a later list is never overwritten by
	// an earlier one. Taken before mu.
	notifyMu sync.Mutex
	onChange func(ids []string)
}

// NewIdentityResolver calls onChange with the full identity list every time
// a new identifier becomes known. Calls are serialized and each list extends
// the previous one; onChange must not call back into the resolver.
func NewIdentityResolver(onChange func(ids []string)) *IdentityResolver {
	return &IdentityResolver{
		inflight: make(map[string]*resolution),
		byBot:    make(map[string]string),
		onChange: onChange,
	}
}

// Preset records an identity known ahead of time, as if resolved.
func (r *IdentityResolver) Preset(bot, id string) {
	res := &resolution{done: make(chan struct{}), id: id}
	close(res.done)
	r.mu.Lock()
	r.inflight[bot] = res
	r.mu.Unlock()
	r.learn(bot, id)
}

// Resolve returns the bot's identifier, performing at most one underlying
// lookup per bot until Forget. The lookup runs detached from ctx so one
// impatient caller cannot fail it for the others; ctx only bounds the wait.
func (r *IdentityResolver) Resolve(ctx context.Context, bot Bot) (string, error) {
	name := bot.Name()

	r.mu.Lock()
	res, ok := r.inflight[name]
	if !ok {
		res = &resolution{done: make(chan struct{})}
		r.inflight[name] = res
		go r.run(context.WithoutCancel(ctx), bot, res)
	}
	r.mu.Unlock()

	select {
	case <-res.done:
		return res.id, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *IdentityResolver) run(ctx context.Context, bot Bot, res *resolution) {
	id, err := bot.LoginInfo(ctx)
	if err == nil && id == "" {
		err = fmt.Errorf("empty self id")
	}
	if err != nil {
		res.err = fmt.Errorf("resolve identity of %s: %w", bot.Name(), err)
		slog.Warn("bot identity lookup failed", "bot", bot.Name(), "error", err)
	} else {
		res.id = id
		r.learn(bot.Name(), id)
		slog.Info("bot identity resolved", "bot", bot.Name(), "self_id", id)
	}
	close(res.done)
}

func (r *IdentityResolver) learn(bot, id string) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	r.byBot[bot] = id
	added := !slices.Contains(r.known, id)
	if added {
		r.known = append(r.known, id)
	}
	ids := slices.Clone(r.known)
	r.mu.Unlock()

	if added && r.onChange != nil {
		r.onChange(ids)
	}
}

// ResolveAll resolves every bot concurrently and returns the identifiers
// known afterwards. The first lookup error is returned alongside.
func (r *IdentityResolver) ResolveAll(ctx context.Context, bots ...Bot) ([]string, error) {
	g, gctx := errgroup.WithContext(ctx)
	for _, b := range bots {
		g.Go(func() error {
			_, err := r.Resolve(gctx, b)
			return err
		})
	}
	err := g.Wait()
	return r.Known(), err
}

// Forget drops the cached resolution for bot so the next Resolve retries.
// An identity already learned stays in the known list.
func (r *IdentityResolver) Forget(bot string) {
	r.mu.Lock()
	delete(r.inflight, bot)
	r.mu.Unlock()
}

// Lookup returns the resolved identifier of bot, or "".
func (r *IdentityResolver) Lookup(bot string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byBot[bot]
}

// Known lists every resolved identifier in discovery order.
func (r *IdentityResolver) Known() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.known)
}
