package notify

import (
	"time"
)

// KeyringPrefix marks a webhook value stored in the system keyring, as in
// "keyring:release".
const KeyringPrefix = "keyring:"

// DefaultKeyringService is the keyring service holding webhook URLs.
const DefaultKeyringService = "stackpilot-notify"

// Config configures the notification channels.
type Config struct {
	// Webhooks maps a notification kind to a Slack incoming webhook URL.
	// The "default" entry serves every kind without its own entry.
	Webhooks map[string]string `mapstructure:"webhooks"`

	Channel   string `mapstructure:"channel"`
	Username  string `mapstructure:"username"`
	IconEmoji string `mapstructure:"icon_emoji"`

	// Timeout bounds one webhook request.
	Timeout time.Duration `mapstructure:"timeout"`

	// KeyringService is searched for kinds without a configured webhook.
	// Empty disables the lookup.
	KeyringService string `mapstructure:"keyring_service"`
}

// DefaultConfig returns a configuration with no channels.
func DefaultConfig() Config {
	return Config{
		Webhooks:       map[string]string{},
		Username:       "stackpilot",
		Timeout:        10 * time.Second,
		KeyringService: DefaultKeyringService,
	}
}
