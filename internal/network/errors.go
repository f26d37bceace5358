package network

import "errors"

// ErrStopping indicates the coordinator is shutting down.
var ErrStopping = errors.New("network is stopping")
