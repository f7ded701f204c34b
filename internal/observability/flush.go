package observability

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Flush runs the given shutdown hooks in order and then syncs the logger.
// Errors from every hook are joined; a failing hook does not stop later ones.
func Flush(logger *zap.Logger, hooks ...func() error) error {
	var errs []error
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		if err := hook(); err != nil {
			errs = append(errs, err)
		}
	}
	if logger != nil {
		if err := logger.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("flush logs: %w", err))
		}
	}
	return errors.Join(errs...)
}
