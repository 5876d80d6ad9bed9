package httpapi

import (
	"errors"

	"github.com/archtrace/raceway/internal/raceerr"
)

func isNotFound(err error) bool     { return errors.Is(err, raceerr.ErrNotFound) }
func isValidation(err error) bool   { return errors.Is(err, raceerr.ErrValidation) }
func isBackpressure(err error) bool { return errors.Is(err, raceerr.ErrBackpressure) }
func isGraphTooLarge(err error) bool {
	return errors.Is(err, raceerr.ErrGraphTooLarge)
}
