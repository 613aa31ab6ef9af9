package config

// Bot transport types.
const (
	BotTypeTelegram = "telegram"
	BotTypeDiscord  = "discord"
	BotTypeOneBot   = "onebot"
)

// IsKnownBotType reports whether t names a transport this build can start.
func IsKnownBotType(t string) bool {
	switch t {
	case BotTypeTelegram, BotTypeDiscord, BotTypeOneBot:
		return true
	}
	return false
}

// BotConfig describes one bot account on one transport.
type BotConfig struct {
	Name        string              `json:"name,omitempty"`         // instance name (default: type)
	Type        string              `json:"type"`                   // "telegram", "discord", "onebot"
	Token       string              `json:"token,omitempty"`        // telegram / discord bot token
	Endpoint    string              `json:"endpoint,omitempty"`     // onebot forward websocket URL (ws://127.0.0.1:6700)
	AccessToken string              `json:"access_token,omitempty"` // onebot access token (sent as Bearer)
	SelfID      string              `json:"self_id,omitempty"`      // pre-known bot identity, skips the login lookup
	Proxy       string              `json:"proxy,omitempty"`        // telegram HTTP proxy URL
	AllowFrom   FlexibleStringSlice `json:"allow_from,omitempty"`   // sender allowlist (empty = everyone)
}

// InstanceName returns the channel name used on the bus for this bot.
func (b BotConfig) InstanceName() string {
	if b.Name != "" {
		return b.Name
	}
	return b.Type
}
