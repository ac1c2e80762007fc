package runner

import (
	"context"
	"errors"

	"github.com/danielpatrickdp/stau-selection/internal/columnar"
	"github.com/danielpatrickdp/stau-selection/internal/hist"
	"github.com/danielpatrickdp/stau-selection/internal/selection"
)

// #region policy
// RetryPolicy decides whether a failed chunk attempt is re-run from its input.
type RetryPolicy struct {
	MaxRetries int
}

// ShouldRetry reports whether another attempt follows attempt (1-based) that
// failed with err. Cancellation is final, and so is any error that re-reading
// the same input would reproduce.
func (p RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt > p.MaxRetries {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, hist.ErrIncompatible) {
		return false
	}
	if errors.Is(err, selection.ErrShapeMismatch) || errors.Is(err, columnar.ErrMissingColumn) || errors.Is(err, ErrPanic) {
		return false
	}
	return true
}

// #endregion policy
