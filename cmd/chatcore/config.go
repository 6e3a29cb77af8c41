package main

import "time"

// Config is the process level environment. Core tunables are read separately
// by internal.LoadConfig.
type Config struct {
	BadgerFilepath    string        `env:"BADGER_FILEPATH,required=true"`
	LogLevel          string        `env:"LOG_LEVEL,default=INFO"`
	AuthSecret        string        `env:"AUTH_SECRET,required=true"`
	AuthTokenDuration time.Duration `env:"AUTH_TOKEN_DURATION,default=24h"`
	RestartInterval   time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	DebugHost         string        `env:"DEBUG_HOST,default=localhost"`
	DebugPort         int           `env:"DEBUG_PORT"`
	Colours           bool          `env:"COLOURS,default=true"`
}
