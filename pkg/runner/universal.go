package runner

import (
	"encoding/json"
)

// TypeNameUniversal is the discriminator of the universal runner.
const TypeNameUniversal = "universal"

// UniversalRunner carries the configuration shared by every runner type. It
// is a stand-in used while a run has not been assigned concrete
// infrastructure yet and cannot be used to submit runs itself.
type UniversalRunner struct {
	// Env holds environment variables to provide to the job run.
	Env map[string]string `json:"env"`
}

// NewUniversalRunner validates and returns a universal runner.
func NewUniversalRunner(runner UniversalRunner) (*UniversalRunner, error) {
	return &runner, nil
}

// TypeName implements Runner.
func (r *UniversalRunner) TypeName() string {
	return TypeNameUniversal
}

// Submit implements Runner. It always fails: the universal runner only
// exists as a configuration placeholder.
func (r *UniversalRunner) Submit(run JobRun, started *StartSignal) (bool, error) {
	return false, ErrUniversalNotRunnable
}

func init() {
	Register(TypeNameUniversal, func(config json.RawMessage) (Runner, error) {
		var runner UniversalRunner
		if err := strictDecode(config, &runner); err != nil {
			return nil, invalidConfiguration("decoding %q runner settings failed: %v", TypeNameUniversal, err)
		}
		return NewUniversalRunner(runner)
	})
}
