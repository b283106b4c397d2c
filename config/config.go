// Package config holds the puppet's runtime configuration
package config

// Type defines the backing connection of a client
type Type string

// All possible Type constants
const (
	TypeSlack = Type("slack")
	TypeMem   = Type("mem")
)

// Config is the main config struct for the application. Use New to
// instantiate a default config struct.
type Config struct {
	Token    string // Slack user access token (xoxp-/xoxs-)
	TeamName string // display label for the remote account/team
	Debug    bool
}

// New instantiates a default new config
func New(token string) *Config {
	return &Config{
		Token: token,
	}
}

// Type returns the connection type for the configured token
func (c *Config) Type() Type {
	if c.Token == "mem" {
		return TypeMem
	}
	return TypeSlack
}
