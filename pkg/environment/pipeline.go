package environment

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/boristopalov/vecenv/pkg/buffer"
	"github.com/boristopalov/vecenv/pkg/enverr"
)

// PipelineState is the phase of an instance set's two-phase step.
type PipelineState int

const (
	Idle PipelineState = iota
	AwaitingActions
)

func (s PipelineState) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingActions:
		return "awaiting_actions"
	default:
		return "unknown"
	}
}

// Pipeline tracks the begin/await protocol for one instance set. Between
// Begin and Await it holds non-owning references to the caller's buffers;
// Await drops them before it returns.
//
// Out-of-order calls are programming errors. The check is a single phase
// comparison and the resulting usage error is never worth retrying.
type Pipeline struct {
	env   string
	state PipelineState
	acts  buffer.Regions
	step  *buffer.Step
}

// NewPipeline returns an idle pipeline whose errors are attributed to env.
func NewPipeline(env string) *Pipeline {
	return &Pipeline{env: env}
}

// State returns the current phase.
func (p *Pipeline) State() PipelineState {
	return p.state
}

// Begin records the actions and destination buffers for the next Await.
func (p *Pipeline) Begin(acts buffer.Regions, step *buffer.Step) error {
	if p.state != Idle {
		return enverr.PipelineState(p.env, "step begun twice without an intervening await")
	}
	p.acts = acts
	p.step = step
	p.state = AwaitingActions
	return nil
}

// Await hands the recorded buffers to fn and returns to Idle whatever fn
// returns.
func (p *Pipeline) Await(fn func(acts buffer.Regions, step *buffer.Step) error) error {
	if p.state != AwaitingActions {
		return enverr.PipelineState(p.env, "await called without a preceding begin")
	}
	acts, step := p.acts, p.step
	p.acts, p.step = nil, nil
	p.state = Idle
	return fn(acts, step)
}

// Pending returns the recorded buffers while a step is in flight.
func (p *Pipeline) Pending() (buffer.Regions, *buffer.Step) {
	return p.acts, p.step
}

// Abort drops any in-flight step.
func (p *Pipeline) Abort() {
	p.acts, p.step = nil, nil
	p.state = Idle
}

// ForEach calls fn for every instance index in [0, n). With workers <= 1 it
// runs inline in index order. Otherwise the range is split into contiguous
// chunks processed concurrently; no ordering between instances is implied.
// The first error cancels the remaining chunks and is returned.
func ForEach(ctx context.Context, n, workers int, fn func(i int) error) error {
	if workers <= 1 || n <= 1 {
		for i := 0; i < n; i++ {
			if err := fn(i); err != nil {
				return err
			}
		}
		return nil
	}
	if workers > n {
		workers = n
	}

	g, ctx := errgroup.WithContext(ctx)
	chunk := (n + workers - 1) / workers
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := fn(i); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}
