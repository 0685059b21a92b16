// Package agent provides the policies that choose batched actions for a
// rollout.
package agent

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/boristopalov/vecenv/pkg/buffer"
	"github.com/boristopalov/vecenv/pkg/environment"
	"github.com/boristopalov/vecenv/pkg/space"
)

// Policy writes one action per instance into acts, laid out like any other
// space list, given the most recent step.
type Policy interface {
	Act(ctx context.Context, obs *buffer.Step, acts buffer.Regions) error
}

// Observer is implemented by policies that want to see the outcome of every
// step, including rewards and episode ends.
type Observer interface {
	Observe(ctx context.Context, step *buffer.Step) error
}

// Spec is what a policy needs to know about the instance set it acts for.
type Spec struct {
	Env         string
	NumEnvs     int
	Observation space.List
	Action      space.List
}

// SpecOf reads the spec of a live instance set.
func SpecOf(env environment.VecEnv) Spec {
	return Spec{
		Env:         env.Name(),
		NumEnvs:     env.NumEnvs(),
		Observation: env.Spaces(space.Observation),
		Action:      env.Spaces(space.Action),
	}
}

func checkActs(spec Spec, acts buffer.Regions) error {
	return buffer.CheckRegions(spec.Env, "action", acts, spec.Action, spec.NumEnvs)
}

// RandomPolicy samples every action element uniformly within its bounds.
// Unbounded float elements are drawn from a standard normal.
type RandomPolicy struct {
	spec Spec
	rng  *rand.Rand
}

func NewRandomPolicy(spec Spec, seed uint64) *RandomPolicy {
	return &RandomPolicy{spec: spec, rng: rand.New(rand.NewPCG(seed, seed^0xda942042e4dd58b5))}
}

func (p *RandomPolicy) Act(ctx context.Context, _ *buffer.Step, acts buffer.Regions) error {
	if err := checkActs(p.spec, acts); err != nil {
		return err
	}
	n := p.spec.NumEnvs
	for s, sp := range p.spec.Action {
		low, high := sp.Bounds.Float64()
		for i := 0; i < n; i++ {
			region := acts.At(s, i, n)
			for j := 0; j < sp.Count(); j++ {
				if err := buffer.Put(region, sp.DType(), j, p.sample(sp.DType(), low, high)); err != nil {
					return fmt.Errorf("sampling %s: %w", sp.Name, err)
				}
			}
		}
	}
	return ctx.Err()
}

func (p *RandomPolicy) sample(dt space.DType, low, high float64) float64 {
	if !dt.IsFloat() {
		span := int64(high) - int64(low) + 1
		if span <= 0 {
			return low
		}
		return float64(int64(low) + p.rng.Int64N(span))
	}
	if math.IsInf(low, 0) || math.IsInf(high, 0) {
		return clamp(p.rng.NormFloat64(), low, high)
	}
	return low + p.rng.Float64()*(high-low)
}

// IndexPolicy has instance i choose low + i mod (high-low+1) for every
// element of every discrete action. It is the always-correct policy for the
// pattern environment.
type IndexPolicy struct {
	spec Spec
}

func NewIndexPolicy(spec Spec) *IndexPolicy {
	return &IndexPolicy{spec: spec}
}

func (p *IndexPolicy) Act(_ context.Context, _ *buffer.Step, acts buffer.Regions) error {
	if err := checkActs(p.spec, acts); err != nil {
		return err
	}
	n := p.spec.NumEnvs
	for s, sp := range p.spec.Action {
		low, high := sp.Bounds.Float64()
		span := int64(high) - int64(low) + 1
		if sp.DType().IsFloat() || span <= 0 {
			return fmt.Errorf("index policy needs a bounded integer action, %s is %s %s", sp.Name, sp.DType(), sp.Bounds)
		}
		for i := 0; i < n; i++ {
			v := float64(int64(low) + int64(i)%span)
			region := acts.At(s, i, n)
			for j := 0; j < sp.Count(); j++ {
				if err := buffer.Put(region, sp.DType(), j, v); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func clamp(v, low, high float64) float64 {
	return math.Max(low, math.Min(high, v))
}
