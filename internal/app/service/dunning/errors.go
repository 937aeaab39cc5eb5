package dunning

import "errors"

var (
	ErrProcessNotFound = errors.New("dunning process not found")
	// ErrProcessTerminal is returned when acting on a RECOVERED or CANCELLED process.
	ErrProcessTerminal = errors.New("dunning process is terminal")
	// ErrClaimConflict means a sweep worker holds the process lease.
	ErrClaimConflict = errors.New("dunning process is claimed by a sweep worker")
	// ErrInvalidScan wraps rejected filters and sort fields.
	ErrInvalidScan = errors.New("invalid scan request")
)
