package runner

import (
	"encoding/hex"
	"sync"

	"github.com/google/uuid"
)

// Runner is responsible for creating execution infrastructure for a job run
// and starting the run inside it.
//
// Submit creates the infrastructure, starts the run and resolves the given
// StartSignal exactly once when submission succeeded. It may keep monitoring
// the run afterwards; the returned flag reports whether the run finished
// cleanly and is meant for verification rather than control flow.
type Runner interface {
	// TypeName returns the discriminator under which the runner is registered.
	TypeName() string
	// Submit executes the given job run on the underlying infrastructure.
	Submit(run JobRun, started *StartSignal) (bool, error)
}

// JobRun identifies a single unit of work to execute. It is owned by the
// control plane; the runner only reads the identifier and the name.
type JobRun struct {
	ID   uuid.UUID
	Name string
}

// HexID renders the run identifier as the opaque hex token expected by the
// job entry point as its only positional argument.
func (r JobRun) HexID() string {
	return hex.EncodeToString(r.ID[:])
}

// StartSignal is a single-shot synchronization point resolved by Submit once
// infrastructure was created and the run began executing. The value carried
// on the channel identifies the infrastructure (pid or container id).
//
// The signal always happens-before Submit's completion result.
type StartSignal struct {
	once sync.Once
	ch   chan string
}

// NewStartSignal returns an unresolved StartSignal.
func NewStartSignal() *StartSignal {
	return &StartSignal{ch: make(chan string, 1)}
}

// Started resolves the signal with the infrastructure identifier.
// Calls after the first are ignored.
func (s *StartSignal) Started(infraID string) {
	s.once.Do(func() {
		s.ch <- infraID
		close(s.ch)
	})
}

// Done returns the channel carrying the infrastructure identifier.
func (s *StartSignal) Done() <-chan string {
	return s.ch
}
