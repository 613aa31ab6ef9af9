package router

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/nextlevelbuilder/botgate/internal/bus"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func captureLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return slog.New(slog.NewTextHandler(buf, nil)), buf
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func privateMsg(text string) bus.InboundMessage {
	return bus.InboundMessage{
		Channel: "test", Platform: "test", SelfID: "bot",
		SenderID: "u1", ChatID: "u1", Content: text, PeerKind: bus.PeerDirect,
	}
}

// recorder appends step names; safe for concurrent dispatches.
type recorder struct {
	mu    sync.Mutex
	steps []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.steps = append(r.steps, s)
	r.mu.Unlock()
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.steps)
}

func record(rec *recorder, name string, callNext bool) Middleware {
	return func(ctx context.Context, s *Session, next NextFunc) error {
		rec.add(name)
		if callNext {
			return next(ctx)
		}
		return nil
	}
}

func TestDispatch_Order(t *testing.T) {
	r := New(nil, WithLogger(quietLogger()))
	rec := &recorder{}
	r.Use(record(rec, "a", true))
	r.Use(record(rec, "b", true))
	r.Use(record(rec, "first", true), Prepend())

	if err := r.Handle(context.Background(), privateMsg("hello")); err != nil {
		t.Fatal(err)
	}
	if got, want := rec.get(), []string{"first", "a", "b"}; !slices.Equal(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
	if n := r.liveCount(); n != 0 {
		t.Errorf("live tokens = %d after dispatch", n)
	}
}

func TestDispatch_ShortCircuit(t *testing.T) {
	r := New(nil, WithLogger(quietLogger()))
	rec := &recorder{}
	var after int
	r.OnAfterMiddleware(Selector{}, func(*Session) { after++ })
	r.Use(record(rec, "a", true))
	r.Use(record(rec, "stop", false))
	r.Use(record(rec, "never", true))

	_ = r.Handle(context.Background(), privateMsg("hello"))

	if got := rec.get(); slices.Contains(got, "never") {
		t.Errorf("middleware after short-circuit ran: %v", got)
	}
	if after != 1 {
		t.Errorf("after-middleware ran %d times, want 1", after)
	}
	if r.liveCount() != 0 {
		t.Error("token not removed")
	}
}

func TestDispatch_Fallback(t *testing.T) {
	r := New(nil, WithLogger(quietLogger()))
	rec := &recorder{}
	r.Use(func(ctx context.Context, s *Session, next NextFunc) error {
		return next(ctx, record(rec, "fallback", true))
	})
	r.Use(record(rec, "b", true))

	_ = r.Handle(context.Background(), privateMsg("hello"))
	if got, want := rec.get(), []string{"b", "fallback"}; !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	// A middleware that stops the chain also skips the fallback.
	rec2 := &recorder{}
	r2 := New(nil, WithLogger(quietLogger()))
	r2.Use(func(ctx context.Context, s *Session, next NextFunc) error {
		return next(ctx, record(rec2, "fallback", true))
	})
	r2.Use(record(rec2, "stop", false))
	_ = r2.Handle(context.Background(), privateMsg("hello"))
	if got := rec2.get(); slices.Contains(got, "fallback") {
		t.Errorf("fallback ran after short-circuit: %v", got)
	}
}

func TestDispatch_StaleContinuation(t *testing.T) {
	logger, logs := captureLogger()
	r := New(nil, WithLogger(logger))
	rec := &recorder{}

	captured := make(chan NextFunc, 1)
	r.Use(func(ctx context.Context, s *Session, next NextFunc) error {
		captured <- next
		return nil
	}, WithName("leaky"))
	r.Use(record(rec, "after", true))

	_ = r.Handle(context.Background(), privateMsg("hello"))

	next := <-captured
	err := next(context.Background())
	if !errors.Is(err, ErrStaleContinuation) {
		t.Fatalf("err = %v, want ErrStaleContinuation", err)
	}
	if got := rec.get(); len(got) != 0 {
		t.Errorf("stale continuation executed middleware: %v", got)
	}
	if !strings.Contains(logs.String(), "stale continuation") {
		t.Error("stale continuation was not logged")
	}
}

func TestDispatch_ErrorHaltsAndIsContained(t *testing.T) {
	logger, logs := captureLogger()
	r := New(nil, WithLogger(logger))
	rec := &recorder{}
	var cleanups int
	r.OnAfterMiddleware(Selector{}, func(*Session) { cleanups++ })

	boom := errors.New("boom")
	r.Use(record(rec, "outer", true), WithName("outer"))
	r.Use(func(ctx context.Context, s *Session, next NextFunc) error {
		rec.add("failing")
		if s.Content == "bad" {
			return boom
		}
		return next(ctx)
	}, WithName("failing"))
	r.Use(record(rec, "tail", true), WithName("tail"))

	if err := r.Handle(context.Background(), privateMsg("bad")); err != nil {
		t.Fatalf("middleware failure escaped Handle: %v", err)
	}
	if got, want := rec.get(), []string{"outer", "failing"}; !slices.Equal(got, want) {
		t.Errorf("steps = %v, want %v", got, want)
	}
	out := logs.String()
	if !strings.Contains(out, "middleware failed") || !strings.Contains(out, "boom") {
		t.Errorf("failure not logged: %s", out)
	}
	if !strings.Contains(out, "command outer failing") {
		t.Errorf("trail missing from log: %s", out)
	}
	if cleanups != 1 {
		t.Errorf("cleanup ran %d times", cleanups)
	}

	// The next message is unaffected.
	rec.steps = nil
	_ = r.Handle(context.Background(), privateMsg("good"))
	if got, want := rec.get(), []string{"outer", "failing", "tail"}; !slices.Equal(got, want) {
		t.Errorf("second message steps = %v, want %v", got, want)
	}
}

func TestDispatch_PanicRecovered(t *testing.T) {
	r := New(nil, WithLogger(quietLogger()))
	var trail []string
	r.Use(func(ctx context.Context, s *Session, next NextFunc) error {
		err := next(ctx)
		var me *MiddlewareError
		if errors.As(err, &me) {
			trail = me.Trail
		}
		return err
	}, WithName("observer"))
	r.Use(func(context.Context, *Session, NextFunc) error {
		panic("kaboom")
	}, WithName("panicker"))

	_ = r.Handle(context.Background(), privateMsg("hi"))
	if want := []string{"command", "observer", "panicker"}; !slices.Equal(trail, want) {
		t.Errorf("trail = %v, want %v", trail, want)
	}
}

func TestDispatch_SwallowedErrorStillHalts(t *testing.T) {
	r := New(nil, WithLogger(quietLogger()))
	rec := &recorder{}
	r.Use(func(ctx context.Context, s *Session, next NextFunc) error {
		_ = next(ctx)
		// Retrying after a failure must not run the rest of the chain.
		return next(ctx)
	})
	r.Use(func(context.Context, *Session, NextFunc) error { return errors.New("fail") })
	r.Use(record(rec, "tail", true))

	_ = r.Handle(context.Background(), privateMsg("hi"))
	if got := rec.get(); len(got) != 0 {
		t.Errorf("chain continued after failure: %v", got)
	}
}

func TestDispatch_SnapshotIsolation(t *testing.T) {
	r := New(nil, WithLogger(quietLogger()))
	rec := &recorder{}
	var remove func()
	r.Use(func(ctx context.Context, s *Session, next NextFunc) error {
		// Registering or removing during dispatch does not affect it.
		r.Use(record(rec, "late", true))
		remove()
		return next(ctx)
	})
	remove = r.Use(record(rec, "removed", true))

	_ = r.Handle(context.Background(), privateMsg("one"))
	if got, want := rec.get(), []string{"removed"}; !slices.Equal(got, want) {
		t.Errorf("first dispatch = %v, want %v", got, want)
	}
}

func TestDispatch_Selector(t *testing.T) {
	r := New(nil, WithLogger(quietLogger()))
	rec := &recorder{}
	r.Use(record(rec, "groups-only", true), WithSelector(Groups()))
	r.Use(record(rec, "all", true))

	_ = r.Handle(context.Background(), privateMsg("hi"))
	if got, want := rec.get(), []string{"all"}; !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestDispatch_Concurrent(t *testing.T) {
	r := New(nil, WithLogger(quietLogger()))
	var mu sync.Mutex
	seen := make(map[string]int)
	r.Use(func(ctx context.Context, s *Session, next NextFunc) error {
		mu.Lock()
		seen[s.Content]++
		mu.Unlock()
		return next(ctx)
	})

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg := privateMsg(strings.Repeat("x", i+1))
			_ = r.Handle(context.Background(), msg)
		}()
	}
	wg.Wait()

	if len(seen) != 50 {
		t.Errorf("dispatched %d distinct messages, want 50", len(seen))
	}
	if r.liveCount() != 0 {
		t.Errorf("live tokens = %d", r.liveCount())
	}
}

func TestDispatch_FallbackNames(t *testing.T) {
	r := New(nil, WithLogger(quietLogger()))
	var trail []string
	r.Use(func(ctx context.Context, s *Session, next NextFunc) error {
		err := next(ctx,
			func(ctx context.Context, s *Session, next NextFunc) error { return next(ctx) },
			func(context.Context, *Session, NextFunc) error { return errors.New("fallback failed") },
		)
		var me *MiddlewareError
		if errors.As(err, &me) {
			trail = me.Trail
		}
		return err
	}, WithName("outer"))

	_ = r.Handle(context.Background(), privateMsg("hi"))
	if want := []string{"command", "outer", "fallback-2", "fallback-3"}; !slices.Equal(trail, want) {
		t.Errorf("trail = %v, want %v", trail, want)
	}
}
