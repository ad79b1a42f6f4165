// Copyright 2025 ModelRelay
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"errors"
	"fmt"
)

// MaxIterationsError signals that the model kept requesting tools past
// the iteration bound. The run's state is still returned so callers can
// inspect the audit trail.
type MaxIterationsError struct {
	Limit int
}

// Error implements the error interface.
func (e *MaxIterationsError) Error() string {
	return fmt.Sprintf("workflow exceeded maximum iterations (%d)", e.Limit)
}

// IsMaxIterations reports whether err is an iteration-bound error.
func IsMaxIterations(err error) bool {
	var me *MaxIterationsError
	return errors.As(err, &me)
}
