package environment

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boristopalov/vecenv/pkg/buffer"
	"github.com/boristopalov/vecenv/pkg/enverr"
	"github.com/boristopalov/vecenv/pkg/option"
)

func TestPipelineStates(t *testing.T) {
	p := NewPipeline("test")
	assert.Equal(t, Idle, p.State())

	acts := buffer.Regions{{1}}
	st := &buffer.Step{}
	require.NoError(t, p.Begin(acts, st))
	assert.Equal(t, AwaitingActions, p.State())

	gotActs, gotStep := p.Pending()
	assert.Equal(t, acts, gotActs)
	assert.Same(t, st, gotStep)

	var called bool
	require.NoError(t, p.Await(func(a buffer.Regions, s *buffer.Step) error {
		called = true
		assert.Equal(t, acts, a)
		assert.Same(t, st, s)
		return nil
	}))
	assert.True(t, called)
	assert.Equal(t, Idle, p.State())

	gotActs, gotStep = p.Pending()
	assert.Nil(t, gotActs)
	assert.Nil(t, gotStep)
}

func TestPipelineMisuse(t *testing.T) {
	p := NewPipeline("test")

	err := p.Await(func(buffer.Regions, *buffer.Step) error { return nil })
	require.Error(t, err)
	assert.True(t, errors.Is(err, enverr.ErrPipelineState))
	assert.True(t, enverr.IsUsage(err))

	require.NoError(t, p.Begin(nil, &buffer.Step{}))
	err = p.Begin(nil, &buffer.Step{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, enverr.ErrPipelineState))
}

func TestPipelineAwaitErrorReturnsToIdle(t *testing.T) {
	p := NewPipeline("test")
	require.NoError(t, p.Begin(nil, &buffer.Step{}))
	boom := errors.New("boom")
	err := p.Await(func(buffer.Regions, *buffer.Step) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, Idle, p.State())
}

func TestEnvStepWaitWithoutBegin(t *testing.T) {
	env := makeEnv(t, PatternName, 1)
	err := env.StepWait()
	require.Error(t, err)
	assert.True(t, errors.Is(err, enverr.ErrPipelineState))
}

func TestForEachVisitsEveryInstance(t *testing.T) {
	for _, workers := range []int{0, 1, 3, 8, 64} {
		const n = 37
		var visits [n]atomic.Int32
		err := ForEach(context.Background(), n, workers, func(i int) error {
			visits[i].Add(1)
			return nil
		})
		require.NoError(t, err)
		for i := range visits {
			assert.Equal(t, int32(1), visits[i].Load(), "workers=%d instance=%d", workers, i)
		}
	}
}

func TestForEachInlineIsOrdered(t *testing.T) {
	var order []int
	require.NoError(t, ForEach(context.Background(), 5, 1, func(i int) error {
		order = append(order, i)
		return nil
	}))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestForEachReturnsError(t *testing.T) {
	boom := errors.New("boom")
	for _, workers := range []int{1, 4} {
		err := ForEach(context.Background(), 10, workers, func(i int) error {
			if i == 7 {
				return boom
			}
			return nil
		})
		assert.ErrorIs(t, err, boom)
	}
}

func TestWorkersProduceSameOutput(t *testing.T) {
	run := func(workers int32) []float32 {
		env := makeEnv(t, PatternName, 40, option.Int32(OptionNumWorkers, workers))
		st := NewStep(env)
		acts := NewActions(env)
		require.NoError(t, env.Reset(st))
		for i := 0; i < 40; i++ {
			acts.At(0, i, 40)[0] = PatternTarget(i)
		}
		for s := 0; s < 5; s++ {
			require.NoError(t, env.StepAsync(acts, st))
			require.NoError(t, env.StepWait())
		}
		return append([]float32(nil), st.Rews...)
	}
	assert.Equal(t, run(1), run(6))
}
