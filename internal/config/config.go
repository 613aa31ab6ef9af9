package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrUnsupportedTransport is returned when a bot entry names a transport
// type this build does not know how to start.
var ErrUnsupportedTransport = errors.New("unsupported transport type")

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the botgate dispatcher.
type Config struct {
	Router    RouterConfig    `json:"router"`
	Bots      []BotConfig     `json:"bots,omitempty"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Gateway   GatewayConfig   `json:"gateway,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	mu        sync.RWMutex
}

// RouterConfig controls addressing syntax and attachment defaults.
type RouterConfig struct {
	Nicknames        FlexibleStringSlice `json:"nicknames,omitempty"`         // names the bot answers to ("bot, ping")
	Prefixes         FlexibleStringSlice `json:"prefixes,omitempty"`          // command prefixes ("/", "!")
	DefaultAuthority int                 `json:"default_authority,omitempty"` // authority given to newly created users (default 1)
	AutoAssign       *bool               `json:"auto_assign,omitempty"`       // assign unowned groups to the first bot that hears them (default true)

	// RequireAddressInGroup limits command parsing in groups to messages that
	// carried an @-mention, nickname or prefix (default true).
	RequireAddressInGroup *bool `json:"require_address_in_group,omitempty"`
}

// AutoAssignEnabled resolves the AutoAssign default.
func (r RouterConfig) AutoAssignEnabled() bool {
	return r.AutoAssign == nil || *r.AutoAssign
}

// RequireAddressInGroupEnabled resolves the RequireAddressInGroup default.
func (r RouterConfig) RequireAddressInGroupEnabled() bool {
	return r.RequireAddressInGroup == nil || *r.RequireAddressInGroup
}

// DatabaseConfig selects the row storage backend.
// PostgresDSN is NEVER read from config.json (secret), only from env BOTGATE_POSTGRES_DSN.
type DatabaseConfig struct {
	Driver      string `json:"driver,omitempty"`       // "" (no storage), "memory", "sqlite", "postgres"
	Path        string `json:"path,omitempty"`         // sqlite file path (default: botgate.db)
	PostgresDSN string `json:"-"`                      // from env BOTGATE_POSTGRES_DSN only
	AutoMigrate bool   `json:"auto_migrate,omitempty"` // run embedded migrations on serve (postgres)
}

// Enabled reports whether persistent storage is configured.
func (d DatabaseConfig) Enabled() bool { return d.Driver != "" }

// GatewayConfig tunes the inbound pipeline.
type GatewayConfig struct {
	InboundRatePerMinute int `json:"inbound_rate_per_minute,omitempty"` // per-sender flood guard (0 = disabled)
	InboundBuffer        int `json:"inbound_buffer,omitempty"`          // bus queue size (default 256)
}

// TelemetryConfig configures OpenTelemetry export for dispatch traces.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`      // enable OTLP export (default false)
	Endpoint    string            `json:"endpoint,omitempty"`     // OTLP endpoint (e.g. "localhost:4317", "https://otel.example.com:4318")
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // skip TLS verification (default false, set true for local dev)
	ServiceName string            `json:"service_name,omitempty"` // OTEL service name (default "botgate")
	Headers     map[string]string `json:"headers,omitempty"`      // extra headers (e.g. auth tokens for cloud backends)
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Router = src.Router
	c.Bots = src.Bots
	c.Database = src.Database
	c.Gateway = src.Gateway
	c.Telemetry = src.Telemetry
}

// Validate checks the parts of the config that must be right before startup.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Bots))
	for i, b := range c.Bots {
		if !IsKnownBotType(b.Type) {
			return fmt.Errorf("bots[%d] %q: %w: %q", i, b.Name, ErrUnsupportedTransport, b.Type)
		}
		name := b.InstanceName()
		if seen[name] {
			return fmt.Errorf("bots[%d]: duplicate bot name %q", i, name)
		}
		seen[name] = true
	}

	switch c.Database.Driver {
	case "", DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.Database.PostgresDSN == "" {
			return fmt.Errorf("database driver postgres requires BOTGATE_POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	return nil
}

// Database drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)
