package config

import (
	"errors"
)

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	// ErrInvalidConfig marks configurations the engine refuses to run with.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrLoadConfig marks failures reading or parsing configuration sources.
	ErrLoadConfig = errors.New("load config failed")
)
