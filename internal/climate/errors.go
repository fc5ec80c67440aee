package climate

import (
	"errors"
	"math"
)

// Error kinds returned across layer boundaries. Callers match with errors.Is.
var (
	ErrValidation  = errors.New("validation error")
	ErrAdapter     = errors.New("climate source error")
	ErrRegistry    = errors.New("location registry error")
	ErrPersistence = errors.New("persistence error")
	ErrNotFound    = errors.New("no climate data")
)

var nan = math.NaN()
