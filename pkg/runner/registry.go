package runner

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// Settings is the persisted representation of a runner: the typename plus the
// variant configuration, which is exactly the runner's fields.
type Settings struct {
	Type   string          `json:"type"`
	Config json.RawMessage `json:"config,omitempty"`
}

// Factory constructs and validates a runner from its raw configuration.
type Factory func(config json.RawMessage) (Runner, error)

// runnerTypes is the typename dispatch table. It is populated by the Register
// calls in each variant's init function and must not be mutated afterwards;
// lookups may then run concurrently without locking.
var runnerTypes = map[string]Factory{}

// Register adds a runner type to the dispatch table. Registering the same
// typename twice is a programming error and panics.
func Register(typename string, factory Factory) {
	if _, ok := runnerTypes[typename]; ok {
		panic(fmt.Sprintf("runner type %q is already registered", typename))
	}
	runnerTypes[typename] = factory
}

// Lookup returns the factory registered for the given typename.
func Lookup(typename string) (Factory, error) {
	factory, ok := runnerTypes[typename]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownRunnerType, "%q", typename)
	}
	return factory, nil
}

// ToSettings serializes a runner into its settings representation. The
// typename is a method rather than a field on every variant, so marshaling
// the runner yields the configuration alone.
func ToSettings(r Runner) (Settings, error) {
	config, err := json.Marshal(r)
	if err != nil {
		return Settings{}, errors.Wrapf(err, "serializing %q runner configuration failed", r.TypeName())
	}
	return Settings{Type: r.TypeName(), Config: config}, nil
}

// FromSettings reconstructs a runner from its settings representation.
func FromSettings(settings Settings) (Runner, error) {
	factory, err := Lookup(settings.Type)
	if err != nil {
		return nil, err
	}
	return factory(settings.Config)
}

// strictDecode unmarshals a runner configuration, rejecting unknown fields so
// that typos in persisted settings surface instead of being dropped.
func strictDecode(config json.RawMessage, v interface{}) error {
	if len(config) == 0 {
		return nil
	}
	decoder := json.NewDecoder(bytes.NewReader(config))
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}
