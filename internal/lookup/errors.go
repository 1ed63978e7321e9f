package lookup

import "errors"

// ErrInvalidRequest marks caller input the service refuses before touching
// the cache or the provider.
var ErrInvalidRequest = errors.New("invalid request")
