package billing

import "errors"

var (
	ErrClosed             = errors.New("billing helper closed")
	ErrInvalidProductType = errors.New("invalid product type")
)
