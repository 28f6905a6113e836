package storage

import "errors"

// ErrInvalidKey is returned for cache keys missing a kind, symbol or day
var ErrInvalidKey = errors.New("invalid cache key")

// ErrInvalidTrace is returned when a saved trace names a contract that cannot be rebuilt
var ErrInvalidTrace = errors.New("invalid trace")
