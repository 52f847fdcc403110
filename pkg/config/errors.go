package config

import "errors"

var (
	// ErrParsingConfig is returned when environment variables cannot be parsed into the config struct.
	ErrParsingConfig = errors.New("failed to parse environment variables into config")
	// ErrInvalidConfig is returned when a parsed config fails its own validation.
	ErrInvalidConfig = errors.New("invalid configuration")
)
