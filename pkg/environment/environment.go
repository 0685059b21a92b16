package environment

import (
	"github.com/boristopalov/vecenv/pkg/buffer"
	"github.com/boristopalov/vecenv/pkg/space"
)

// VecEnv is one instance set: N environment instances advanced together.
//
// Reset is synchronous. Stepping is split in two: StepAsync hands over the
// batched actions and the destination buffers, StepWait completes the
// transition and writes observations, rewards, dones and infos into the
// buffers given to StepAsync. Exactly one StepWait must follow each
// StepAsync; calling them out of order is a programming error reported as a
// usage error, not something to retry.
//
// The environment holds a non-owning reference to the action and step
// buffers between StepAsync and StepWait and drops it afterwards.
type VecEnv interface {
	// ID uniquely identifies this instance set.
	ID() string
	// Name is the name of the library that made the instance set.
	Name() string
	// NumEnvs returns the batch size N.
	NumEnvs() int
	// Spaces returns a copy of the ordered space list for role. Repeated
	// calls return identical descriptors.
	Spaces(role space.Role) space.List
	// Reset reinitializes every instance and writes the initial observation,
	// a zero reward and done=false for each.
	Reset(step *buffer.Step) error
	// StepAsync records the actions (laid out like any other space list, one
	// region per action space and instance) and the destination buffers.
	StepAsync(acts buffer.Regions, step *buffer.Step) error
	// StepWait completes the step begun by StepAsync.
	StepWait() error
	// Render writes one frame per instance for a recognized mode. Unknown
	// modes are a successful no-op.
	Render(mode string, frames buffer.Regions) (bool, error)
	// Close releases everything the instance set owns. Calling any method
	// after Close is undefined.
	Close() error
}

// GetSpaces implements the size-then-fill pattern: with a nil dst it only
// returns the count, otherwise it copies up to len(dst) descriptors into dst.
func GetSpaces(env VecEnv, role space.Role, dst []space.Space) int {
	list := env.Spaces(role)
	if dst != nil {
		copy(dst, list)
	}
	return len(list)
}

// NewStep allocates aligned step buffers sized for env.
func NewStep(env VecEnv) *buffer.Step {
	return buffer.NewStep(env.Spaces(space.Observation), env.Spaces(space.Info), env.NumEnvs())
}

// NewActions allocates aligned action regions sized for env.
func NewActions(env VecEnv) buffer.Regions {
	return buffer.Alloc(env.Spaces(space.Action), env.NumEnvs())
}

// NewFrames allocates aligned render regions sized for env.
func NewFrames(env VecEnv) buffer.Regions {
	return buffer.Alloc(env.Spaces(space.Render), env.NumEnvs())
}

// spaceTable holds the four role lists an environment publishes.
type spaceTable [4]space.List

func (t *spaceTable) get(role space.Role) space.List {
	if role < 0 || int(role) >= len(t) {
		return nil
	}
	return t[role].Clone()
}

func (t *spaceTable) validate() error {
	for _, l := range t {
		if err := l.Validate(); err != nil {
			return err
		}
	}
	return nil
}
