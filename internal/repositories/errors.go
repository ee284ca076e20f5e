package repositories

import (
	"fmt"

	"github.com/myrjola/amlnarrator/internal/errors"
)

var (
	// ErrPersistence marks failures of the backing store. Callers abort the current run when they see it.
	ErrPersistence = errors.NewSentinel("persistence error")
	ErrNotFound    = errors.NewSentinel("not found")
)

func persistenceError(err error) error {
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}
