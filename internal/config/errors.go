package config

import "errors"

var (
	// ErrServerNotFound is returned by File.Resolve when the servers mapping has no entry
	// for the requested name.
	ErrServerNotFound = errors.New("no configuration found for server")
)
