package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Router: RouterConfig{
			DefaultAuthority: 1,
		},
		Database: DatabaseConfig{
			Path: "botgate.db",
		},
		Gateway: GatewayConfig{
			InboundBuffer: 256,
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "botgate",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: defaults plus env are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.Database.Path = ExpandHome(cfg.Database.Path)
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envList := func(key string, dst *FlexibleStringSlice) {
		if v := os.Getenv(key); v != "" {
			*dst = splitList(v)
		}
	}

	envList("BOTGATE_NICKNAMES", &c.Router.Nicknames)
	envList("BOTGATE_PREFIXES", &c.Router.Prefixes)
	if v := os.Getenv("BOTGATE_DEFAULT_AUTHORITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Router.DefaultAuthority = n
		}
	}

	// Auto-add bots if credentials are provided via env and the file did not configure them.
	if v := os.Getenv("BOTGATE_TELEGRAM_TOKEN"); v != "" {
		c.upsertBot(BotConfig{Type: BotTypeTelegram, Token: v})
	}
	if v := os.Getenv("BOTGATE_DISCORD_TOKEN"); v != "" {
		c.upsertBot(BotConfig{Type: BotTypeDiscord, Token: v})
	}
	if v := os.Getenv("BOTGATE_ONEBOT_ENDPOINT"); v != "" {
		c.upsertBot(BotConfig{Type: BotTypeOneBot, Endpoint: v, AccessToken: os.Getenv("BOTGATE_ONEBOT_ACCESS_TOKEN")})
	}

	// Database
	envStr("BOTGATE_DB_DRIVER", &c.Database.Driver)
	envStr("BOTGATE_DB_PATH", &c.Database.Path)
	envStr("BOTGATE_POSTGRES_DSN", &c.Database.PostgresDSN)
	if v := os.Getenv("BOTGATE_DB_AUTO_MIGRATE"); v != "" {
		c.Database.AutoMigrate = v == "true" || v == "1"
	}

	// Gateway
	if v := os.Getenv("BOTGATE_INBOUND_RATE_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Gateway.InboundRatePerMinute = n
		}
	}

	// Telemetry
	envStr("BOTGATE_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("BOTGATE_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("BOTGATE_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("BOTGATE_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("BOTGATE_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}

// upsertBot fills credentials into the first bot of the same type that lacks
// them, or appends a new entry when the file configured none of that type.
func (c *Config) upsertBot(b BotConfig) {
	for i := range c.Bots {
		existing := &c.Bots[i]
		if existing.Type != b.Type {
			continue
		}
		if existing.Token == "" {
			existing.Token = b.Token
		}
		if existing.Endpoint == "" {
			existing.Endpoint = b.Endpoint
		}
		if existing.AccessToken == "" {
			existing.AccessToken = b.AccessToken
		}
		return
	}
	c.Bots = append(c.Bots, b)
}

func splitList(v string) FlexibleStringSlice {
	parts := strings.Split(v, ",")
	out := make(FlexibleStringSlice, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
