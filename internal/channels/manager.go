package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/botgate/internal/bus"
)

// State is the connection state of a Manager.
type State int32

const (
	StateClosed State = iota
	StateOpening
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// ErrInvalidState is returned when Start or Stop is called from the wrong state.
var ErrInvalidState = errors.New("invalid manager state")

// LifecycleFunc is notified around connect and disconnect transitions.
type LifecycleFunc func(ctx context.Context, m *Manager) error

type lifecycleEvent int

const (
	eventBeforeConnect lifecycleEvent = iota
	eventConnect
	eventBeforeDisconnect
	eventDisconnect
)

func (e lifecycleEvent) String() string {
	return [...]string{"before-connect", "connect", "before-disconnect", "disconnect"}[e]
}

// Manager manages all registered channels, handling their lifecycle,
// fanning inbound messages out to the handler and routing outbound
// messages to the correct channel.
type Manager struct {
	channels map[string]Channel
	bus      *bus.MessageBus
	handler  bus.MessageHandler
	limiter  *InboundLimiter
	mu       sync.RWMutex

	state     atomic.Int32
	lifeMu    sync.Mutex // serializes Start/Stop
	listenMu  sync.Mutex
	listeners map[lifecycleEvent][]LifecycleFunc

	consumeTask  *asyncTask
	dispatchTask *asyncTask
	inflight     sync.WaitGroup
}

type asyncTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (t *asyncTask) stop() {
	t.cancel()
	<-t.done
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithInboundLimiter drops inbound messages from senders over their budget.
func WithInboundLimiter(l *InboundLimiter) ManagerOption {
	return func(m *Manager) { m.limiter = l }
}

// NewManager creates a channel manager that hands every inbound message to
// handler on its own goroutine. Channels are registered via RegisterChannel.
func NewManager(msgBus *bus.MessageBus, handler bus.MessageHandler, opts ...ManagerOption) *Manager {
	m := &Manager{
		channels:  make(map[string]Channel),
		bus:       msgBus,
		handler:   handler,
		listeners: make(map[lifecycleEvent][]LifecycleFunc),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State { return State(m.state.Load()) }

// OnBeforeConnect registers fn to run before channels start. An error from
// any before-connect listener aborts Start.
func (m *Manager) OnBeforeConnect(fn LifecycleFunc) { m.listen(eventBeforeConnect, fn) }

// OnConnect registers fn to run after channels have started.
func (m *Manager) OnConnect(fn LifecycleFunc) { m.listen(eventConnect, fn) }

// OnBeforeDisconnect registers fn to run before channels stop.
func (m *Manager) OnBeforeDisconnect(fn LifecycleFunc) { m.listen(eventBeforeDisconnect, fn) }

// OnDisconnect registers fn to run after channels have stopped.
func (m *Manager) OnDisconnect(fn LifecycleFunc) { m.listen(eventDisconnect, fn) }

func (m *Manager) listen(ev lifecycleEvent, fn LifecycleFunc) {
	m.listenMu.Lock()
	m.listeners[ev] = append(m.listeners[ev], fn)
	m.listenMu.Unlock()
}

// emit runs all listeners for ev concurrently and waits for every one.
func (m *Manager) emit(ctx context.Context, ev lifecycleEvent) error {
	m.listenMu.Lock()
	fns := append([]LifecycleFunc(nil), m.listeners[ev]...)
	m.listenMu.Unlock()

	var g errgroup.Group
	for _, fn := range fns {
		g.Go(func() error { return fn(ctx, m) })
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("%s listener: %w", ev, err)
	}
	return nil
}

// StartAll transitions closed → opening → open: before-connect listeners,
// then the inbound and outbound loops and every channel, then connect
// listeners. Channel start failures are logged and do not abort startup.
func (m *Manager) StartAll(ctx context.Context) error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()

	if !m.state.CompareAndSwap(int32(StateClosed), int32(StateOpening)) {
		return fmt.Errorf("start: %w: %s", ErrInvalidState, m.State())
	}
	if err := m.emit(ctx, eventBeforeConnect); err != nil {
		m.state.Store(int32(StateClosed))
		return err
	}

	m.dispatchTask = m.spawn(ctx, m.dispatchOutbound)
	m.consumeTask = m.spawn(ctx, m.consumeInbound)

	m.mu.RLock()
	if len(m.channels) == 0 {
		slog.Warn("no channels enabled")
	}
	for _, name := range m.namesLocked() {
		slog.Info("starting channel", "channel", name)
		if err := m.channels[name].Start(ctx); err != nil {
			slog.Error("failed to start channel", "channel", name, "error", err)
		}
	}
	m.mu.RUnlock()

	err := m.emit(ctx, eventConnect)
	if err != nil {
		slog.Warn("connect listener failed", "error", err)
	}
	m.state.Store(int32(StateOpen))
	slog.Info("all channels started")
	return err
}

// StopAll transitions open → closing → closed. Inbound consumption stops
// first and in-flight handlers are awaited before channels disconnect, so
// their replies still go out.
func (m *Manager) StopAll(ctx context.Context) error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()

	if !m.state.CompareAndSwap(int32(StateOpen), int32(StateClosing)) {
		return fmt.Errorf("stop: %w: %s", ErrInvalidState, m.State())
	}
	var errs []error
	if err := m.emit(ctx, eventBeforeDisconnect); err != nil {
		errs = append(errs, err)
	}

	m.consumeTask.stop()
	m.inflight.Wait()
	m.dispatchTask.stop()
	m.consumeTask, m.dispatchTask = nil, nil

	m.mu.RLock()
	for _, name := range m.namesLocked() {
		slog.Info("stopping channel", "channel", name)
		if err := m.channels[name].Stop(ctx); err != nil {
			slog.Error("error stopping channel", "channel", name, "error", err)
		}
	}
	m.mu.RUnlock()

	if err := m.emit(ctx, eventDisconnect); err != nil {
		errs = append(errs, err)
	}
	m.state.Store(int32(StateClosed))
	slog.Info("all channels stopped")
	return errors.Join(errs...)
}

func (m *Manager) spawn(ctx context.Context, loop func(context.Context)) *asyncTask {
	loopCtx, cancel := context.WithCancel(ctx)
	t := &asyncTask{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		loop(loopCtx)
	}()
	return t
}

// consumeInbound hands each inbound message to the handler on its own
// goroutine. Handlers run on a context that outlives the loop so StopAll can
// drain them.
func (m *Manager) consumeInbound(ctx context.Context) {
	handlerCtx := context.WithoutCancel(ctx)
	for {
		msg, ok := m.bus.ConsumeInbound(ctx)
		if !ok {
			return
		}
		if m.limiter != nil && !m.limiter.Allow(msg.Channel+":"+msg.SenderID) {
			slog.Debug("inbound rate limit exceeded", "channel", msg.Channel, "sender_id", msg.SenderID)
			continue
		}
		if m.handler == nil {
			continue
		}
		m.inflight.Add(1)
		go func() {
			defer m.inflight.Done()
			if err := m.handler(handlerCtx, msg); err != nil {
				slog.Warn("inbound message failed", "channel", msg.Channel, "sender_id", msg.SenderID, "error", err)
			}
		}()
	}
}

// dispatchOutbound consumes outbound messages from the bus and routes them
// to the appropriate channel.
func (m *Manager) dispatchOutbound(ctx context.Context) {
	slog.Info("outbound dispatcher started")
	for {
		msg, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			slog.Info("outbound dispatcher stopped")
			return
		}

		channel, exists := m.GetChannel(msg.Channel)
		if !exists {
			slog.Warn("unknown channel for outbound message", "channel", msg.Channel)
			continue
		}
		if err := channel.Send(ctx, msg); err != nil {
			slog.Error("error sending message to channel", "channel", msg.Channel, "error", err)
		}
	}
}

// GetChannel returns a channel by name.
func (m *Manager) GetChannel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	channel, ok := m.channels[name]
	return channel, ok
}

// Channels returns every registered channel, sorted by name.
func (m *Manager) Channels() []Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Channel, 0, len(m.channels))
	for _, name := range m.namesLocked() {
		out = append(out, m.channels[name])
	}
	return out
}

// GetStatus returns the running status of all channels.
func (m *Manager) GetStatus() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status := make(map[string]bool, len(m.channels))
	for name, channel := range m.channels {
		status[name] = channel.IsRunning()
	}
	return status
}

func (m *Manager) namesLocked() []string {
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterChannel adds a channel to the manager.
func (m *Manager) RegisterChannel(name string, channel Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[name] = channel
}
