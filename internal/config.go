package internal

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the tunables of the conversation core.
type Config struct {
	TypingStaleAfter        time.Duration `envconfig:"TYPING_STALE_AFTER" default:"5s"`
	TypingRefreshInterval   time.Duration `envconfig:"TYPING_REFRESH_INTERVAL" default:"2s"`
	DeleteForEveryoneWindow time.Duration `envconfig:"DELETE_FOR_EVERYONE_WINDOW" default:"24h"`
	UnreadScanLimit         int           `envconfig:"UNREAD_SCAN_LIMIT" default:"100"`
	UnreadMaxAge            time.Duration `envconfig:"UNREAD_MAX_AGE" default:"168h"`
	UnreadCap               int           `envconfig:"UNREAD_CAP" default:"999"`
	ResubscribeMinInterval  time.Duration `envconfig:"RESUBSCRIBE_MIN_INTERVAL" default:"200ms"`
	ResubscribeMaxInterval  time.Duration `envconfig:"RESUBSCRIBE_MAX_INTERVAL" default:"30s"`
	CommandBufferSize       int           `envconfig:"COMMAND_BUFFER_SIZE" default:"64"`
	ViewLocation            string        `envconfig:"VIEW_LOCATION" default:"UTC"`
}

// LoadConfig reads the CHATCORE_ prefixed environment, falling back to defaults.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("chatcore", &cfg); err != nil {
		return Config{}, err
	}
	if _, err := cfg.Location(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultConfig is the configuration used when nothing is set in the environment.
func DefaultConfig() Config {
	return Config{
		TypingStaleAfter:        5 * time.Second,
		TypingRefreshInterval:   2 * time.Second,
		DeleteForEveryoneWindow: 24 * time.Hour,
		UnreadScanLimit:         100,
		UnreadMaxAge:            7 * 24 * time.Hour,
		UnreadCap:               999,
		ResubscribeMinInterval:  200 * time.Millisecond,
		ResubscribeMaxInterval:  30 * time.Second,
		CommandBufferSize:       64,
		ViewLocation:            "UTC",
	}
}

// Location is the time zone used to split the conversation view into days.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.ViewLocation)
	if err != nil {
		return nil, fmt.Errorf("VIEW_LOCATION %q: %w", c.ViewLocation, err)
	}
	return loc, nil
}
