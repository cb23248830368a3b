package model

import "errors"

// ErrInvalidInput marks malformed input: wrong shape, non-finite values,
// out-of-range parameters or an empty element list. Every core component
// wraps it with the offending row, column or parameter.
var ErrInvalidInput = errors.New("invalid input")
