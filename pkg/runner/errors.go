package runner

import (
	"github.com/pkg/errors"
)

var (
	// ErrUnknownRunnerType indicates that settings referenced a typename that
	// was never registered.
	ErrUnknownRunnerType = errors.New("unknown runner type")

	// ErrInvalidConfiguration indicates invalid or mutually exclusive runner
	// settings. It is raised at construction time, never during submission.
	ErrInvalidConfiguration = errors.New("invalid runner configuration")

	// ErrEngineUnavailable indicates that the Docker engine could not be
	// reached. It always surfaces before the start signal is resolved.
	ErrEngineUnavailable = errors.New("could not connect to the Docker engine")

	// ErrUniversalNotRunnable is returned by the universal runner, which is a
	// configuration stand-in only.
	ErrUniversalNotRunnable = errors.New("the universal runner cannot be used to submit job runs; it should be resolved to a concrete runner type by the agent or user")
)

// invalidConfiguration wraps ErrInvalidConfiguration so that callers can
// discriminate the error class with errors.Cause.
func invalidConfiguration(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidConfiguration, format, args...)
}
