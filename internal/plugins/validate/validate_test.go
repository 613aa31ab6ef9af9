package validate

import (
	"bytes"
	"context"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/botgate/internal/bus"
	"github.com/nextlevelbuilder/botgate/internal/command"
	"github.com/nextlevelbuilder/botgate/internal/router"
	"github.com/nextlevelbuilder/botgate/internal/store"
	"github.com/nextlevelbuilder/botgate/internal/store/memory"
)

type outbox struct {
	mu   sync.Mutex
	msgs []string
}

func (o *outbox) PublishOutbound(msg bus.OutboundMessage) {
	o.mu.Lock()
	o.msgs = append(o.msgs, msg.Content)
	o.mu.Unlock()
}

func (o *outbox) take() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.msgs
	o.msgs = nil
	return out
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func setup(t *testing.T, cmd *command.Command) (*router.Router, *outbox, *clock, *memory.Store) {
	t.Helper()
	out := &outbox{}
	db := memory.New(store.Defaults{UserAuthority: 1})
	r := router.New(nil,
		router.WithDatabase(db),
		router.WithPublisher(out),
		router.WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))),
	)
	clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	Install(r, WithClock(clk.now), WithLocation(time.UTC))
	if err := r.Command(cmd); err != nil {
		t.Fatal(err)
	}
	return r, out, clk, db
}

func send(t *testing.T, r *router.Router, text string) {
	t.Helper()
	err := r.Handle(context.Background(), bus.InboundMessage{
		Channel: "test", Platform: "test", SelfID: "bot",
		SenderID: "u1", ChatID: "u1", Content: text, PeerKind: bus.PeerDirect,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func pong(ctx context.Context, inv *command.Invocation) error { return inv.Reply(ctx, "pong") }

func TestMaxUsage_DailyReset(t *testing.T) {
	r, out, clk, db := setup(t, &command.Command{Name: "roll", MaxUsage: 2, ShowWarning: true, Action: pong})

	for range 3 {
		send(t, r, "roll")
	}
	want := []string{"pong", "pong", "daily limit of 2 reached for roll"}
	if got := out.take(); !slices.Equal(got, want) {
		t.Errorf("replies = %q, want %q", got, want)
	}

	u, _ := db.LoadUser(context.Background(), store.Key{Platform: "test", ID: "u1"}, store.NewFieldSet(store.FieldUsage))
	if n := u.Usage("roll"); n != 2 {
		t.Errorf("persisted usage = %d, want 2", n)
	}

	clk.t = clk.t.Add(24 * time.Hour)
	send(t, r, "roll")
	if got := out.take(); !slices.Equal(got, []string{"pong"}) {
		t.Errorf("after midnight: %q", got)
	}
}

func TestMinInterval(t *testing.T) {
	r, out, clk, _ := setup(t, &command.Command{Name: "sign", MinInterval: time.Minute, ShowWarning: true, Action: pong})

	send(t, r, "sign")
	clk.t = clk.t.Add(30 * time.Second)
	send(t, r, "sign")
	clk.t = clk.t.Add(31 * time.Second)
	send(t, r, "sign")

	want := []string{"pong", "please wait 30s before using sign again", "pong"}
	if got := out.take(); !slices.Equal(got, want) {
		t.Errorf("replies = %q, want %q", got, want)
	}
}

func TestNoUsageOptionAndQuietLimit(t *testing.T) {
	cmd := &command.Command{Name: "draw", MaxUsage: 1, Action: pong}
	cmd.AddOption(command.Option{Name: "peek", NoUsage: true})
	r, out, _, _ := setup(t, cmd)

	send(t, r, "draw --peek")
	send(t, r, "draw --peek")
	send(t, r, "draw")
	send(t, r, "draw")

	// Without ShowWarning the blocked call is silent.
	if got := out.take(); !slices.Equal(got, []string{"pong", "pong", "pong"}) {
		t.Errorf("replies = %q", got)
	}
}

func TestSharedBucket(t *testing.T) {
	a := &command.Command{Name: "a", UsageName: "game", MaxUsage: 1, ShowWarning: true, Action: pong}
	r, out, _, _ := setup(t, a)
	if err := r.Command(&command.Command{Name: "b", UsageName: "game", MaxUsage: 1, ShowWarning: true, Action: pong}); err != nil {
		t.Fatal(err)
	}

	send(t, r, "a")
	send(t, r, "b")
	want := []string{"pong", "daily limit of 1 reached for b"}
	if got := out.take(); !slices.Equal(got, want) {
		t.Errorf("replies = %q, want %q", got, want)
	}
}
