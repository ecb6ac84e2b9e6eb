package shared

import "errors"

// ErrMissingIdentity indicates the request carried no verified principal or tenant.
var ErrMissingIdentity = errors.New("missing verified identity")
