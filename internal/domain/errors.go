package domain

import "errors"

// ErrNotFound reports a lookup for an entity that does not exist.
var ErrNotFound = errors.New("domain: not found")
