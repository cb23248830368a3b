package fuzzy

import "errors"

// Sentinel kinds for partitioner errors. Invalid input is reported with
// model.ErrInvalidInput.
var (
	ErrNotConverged = errors.New("fuzzy: did not converge")
)
