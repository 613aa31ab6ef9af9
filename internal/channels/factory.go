package channels

import (
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/botgate/internal/bus"
	"github.com/nextlevelbuilder/botgate/internal/config"
)

// Factory builds a channel from one configured bot entry.
type Factory func(cfg config.BotConfig, msgBus *bus.MessageBus) (Channel, error)

// Factories maps bot types to their constructors.
type Factories map[string]Factory

// LoadAll builds and registers one channel per bot entry. An entry whose type
// has no factory yields ErrUnsupportedTransport and nothing is registered.
func (f Factories) LoadAll(m *Manager, bots []config.BotConfig, msgBus *bus.MessageBus) ([]Channel, error) {
	built := make([]Channel, 0, len(bots))
	for _, b := range bots {
		factory, ok := f[b.Type]
		if !ok {
			return nil, fmt.Errorf("bot %q: %w: %q", b.InstanceName(), ErrUnsupportedTransport, b.Type)
		}
		ch, err := factory(b, msgBus)
		if err != nil {
			return nil, fmt.Errorf("bot %q: %w", b.InstanceName(), err)
		}
		built = append(built, ch)
	}
	for _, ch := range built {
		m.RegisterChannel(ch.Name(), ch)
		slog.Info("channel instance loaded", "name", ch.Name(), "platform", ch.Platform())
	}
	return built, nil
}
