package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/botgate/internal/bus"
	"github.com/nextlevelbuilder/botgate/internal/channels"
	"github.com/nextlevelbuilder/botgate/internal/channels/discord"
	"github.com/nextlevelbuilder/botgate/internal/channels/onebot"
	"github.com/nextlevelbuilder/botgate/internal/channels/telegram"
	"github.com/nextlevelbuilder/botgate/internal/config"
	"github.com/nextlevelbuilder/botgate/internal/plugins/admin"
	"github.com/nextlevelbuilder/botgate/internal/plugins/help"
	"github.com/nextlevelbuilder/botgate/internal/plugins/validate"
	"github.com/nextlevelbuilder/botgate/internal/router"
	"github.com/nextlevelbuilder/botgate/internal/store"
	"github.com/nextlevelbuilder/botgate/internal/store/memory"
	"github.com/nextlevelbuilder/botgate/internal/store/pg"
	"github.com/nextlevelbuilder/botgate/internal/store/sqlite"
	"github.com/nextlevelbuilder/botgate/internal/tracing"
)

const shutdownTimeout = 15 * time.Second

var transports = channels.Factories{
	config.BotTypeTelegram: telegram.Factory,
	config.BotTypeDiscord:  discord.Factory,
	config.BotTypeOneBot:   onebot.Factory,
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect every configured bot and dispatch messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func setupLogging() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: logLevel}

	// Plain text on a terminal, JSON lines when piped into a collector.
	var handler slog.Handler
	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// openDatabase returns nil when no driver is configured.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig, defaults store.Defaults) (store.Database, error) {
	switch cfg.Driver {
	case "":
		return nil, nil
	case config.DriverMemory:
		return memory.New(defaults), nil
	case config.DriverSQLite:
		return sqlite.Open(ctx, cfg.Path, defaults)
	case config.DriverPostgres:
		return pg.Open(ctx, cfg.PostgresDSN, cfg.AutoMigrate, defaults)
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}

// buildRouter wires the router with the bundled plugins. Help and validate
// install first so they see every command admin registers.
func buildRouter(cfg *config.Config, db store.Database, out router.Publisher) (*router.Router, error) {
	opts := router.FromConfig(cfg.Router)
	if db != nil {
		opts = append(opts, router.WithDatabase(db))
	}
	if out != nil {
		opts = append(opts, router.WithPublisher(out))
	}
	r := router.New(nil, opts...)

	if err := help.Install(r); err != nil {
		return nil, fmt.Errorf("install help: %w", err)
	}
	validate.Install(r)
	if err := admin.Install(r); err != nil {
		return nil, fmt.Errorf("install admin: %w", err)
	}
	return r, nil
}

func runServe(ctx context.Context) error {
	setupLogging()

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return err
	}
	if len(cfg.Bots) == 0 {
		slog.Warn("no bots configured, nothing will connect")
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("tracing shutdown failed", "error", err)
		}
	}()

	db, err := openDatabase(ctx, cfg.Database, store.Defaults{UserAuthority: cfg.Router.DefaultAuthority})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if db != nil {
		slog.Info("storage enabled", "driver", cfg.Database.Driver)
		defer db.Close()
	} else {
		slog.Info("storage disabled, authority checks are skipped")
	}

	msgBus := bus.NewWithBuffer(cfg.Gateway.InboundBuffer)
	r, err := buildRouter(cfg, db, msgBus)
	if err != nil {
		return err
	}

	mgr := channels.NewManager(msgBus, r.Handle,
		channels.WithInboundLimiter(channels.NewInboundLimiter(cfg.Gateway.InboundRatePerMinute)))

	loaded, err := transports.LoadAll(mgr, cfg.Bots, msgBus)
	if err != nil {
		return fmt.Errorf("load bots: %w", err)
	}

	menu := telegram.MenuFromRegistry(r.Registry())
	for _, ch := range loaded {
		if tg, ok := ch.(*telegram.Channel); ok {
			tg.SetMenu(menu)
		}
	}
	mgr.OnConnect(func(ctx context.Context, m *channels.Manager) error {
		return resolveIdentities(ctx, r.Identity(), m.Channels())
	})

	if err := mgr.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	slog.Info("botgate running", "version", Version, "bots", mgr.GetStatus(), "identities", r.Identity().Known())

	<-ctx.Done()
	slog.Info("graceful shutdown initiated")

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := mgr.StopAll(stopCtx); err != nil {
		slog.Warn("channel shutdown reported errors", "error", err)
	}
	slog.Info("botgate stopped")
	return nil
}

// resolveIdentities seeds the resolver with identities channels already know
// (configured self_id or learned while starting) and looks up the rest. Lookup failures are logged; the bot
// still serves prefixed and nickname commands without its own mention.
func resolveIdentities(ctx context.Context, ident *router.IdentityResolver, chs []channels.Channel) error {
	var pending []router.Bot
	for _, ch := range chs {
		if known, ok := ch.(interface{ SelfID() string }); ok && known.SelfID() != "" {
			ident.Preset(ch.Name(), known.SelfID())
			continue
		}
		pending = append(pending, ch)
	}
	ids, err := ident.ResolveAll(ctx, pending...)
	if err != nil {
		slog.Warn("bot identity lookup failed", "error", err)
	}
	slog.Debug("bot identities known", "ids", ids)
	return nil
}
