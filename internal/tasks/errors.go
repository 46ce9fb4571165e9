package tasks

import (
	"errors"

	"github.com/earlywatch/sentinel/internal/detector"
	"github.com/earlywatch/sentinel/internal/store"
)

// ErrDetectorInactive marks a run request against a deactivated
// detector. Fatal: retrying cannot activate it.
var ErrDetectorInactive = errors.New("detector is not active")

// ErrNoExternalID marks a publish-side operation on a record that was
// never successfully published.
var ErrNoExternalID = errors.New("published alert has no external ID")

// isFatal reports whether retrying the task could possibly succeed.
// Configuration problems, unknown detectors, and inactive detectors are
// permanent; everything else is assumed transient.
func isFatal(err error) bool {
	var cfgErr *detector.ConfigError
	if errors.As(err, &cfgErr) {
		return true
	}
	return errors.Is(err, ErrDetectorInactive) ||
		errors.Is(err, ErrNoExternalID) ||
		errors.Is(err, detector.ErrUnknownVariant) ||
		errors.Is(err, store.ErrNotFound)
}
