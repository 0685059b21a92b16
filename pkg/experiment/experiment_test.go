package experiment

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boristopalov/vecenv/pkg/agent"
	"github.com/boristopalov/vecenv/pkg/buffer"
	"github.com/boristopalov/vecenv/pkg/environment"
	"github.com/boristopalov/vecenv/pkg/messaging"
	"github.com/boristopalov/vecenv/pkg/metrics"
	"github.com/boristopalov/vecenv/pkg/option"
	"github.com/boristopalov/vecenv/pkg/storage"
)

func makeEnv(t *testing.T, name string, n int, opts ...option.Value) environment.VecEnv {
	t.Helper()
	h, err := environment.Open(name)
	require.NoError(t, err)
	env, err := h.Make(n, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close() })
	return env
}

// scriptedPolicy delegates to an inner policy and runs hook before call k.
type scriptedPolicy struct {
	inner agent.Policy
	calls int
	at    int
	hook  func() error
}

func (p *scriptedPolicy) Act(ctx context.Context, obs *buffer.Step, acts buffer.Regions) error {
	p.calls++
	if p.calls == p.at {
		if err := p.hook(); err != nil {
			return err
		}
	}
	return p.inner.Act(ctx, obs, acts)
}

func TestRolloutPatternEpisodes(t *testing.T) {
	env := makeEnv(t, environment.PatternName, 4)
	store := storage.NewMemoryStore()
	require.NoError(t, store.Init(context.Background()))
	broker := messaging.NewBroker()
	events := make(chan messaging.Message, 32)
	require.NoError(t, broker.Subscribe("test", events))
	rec := metrics.NewRecorder(prometheus.NewRegistry(), nil)

	r, err := NewRollout(env, agent.NewIndexPolicy(agent.SpecOf(env)),
		WithRunID("run-pattern"),
		WithSteps(250),
		WithPolicyName("index"),
		WithStore(store),
		WithBroker(broker),
		WithRecorder(rec),
	)
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background()))

	status := r.GetStatus()
	assert.False(t, status.Running)
	assert.Equal(t, 250, status.Step)
	assert.Empty(t, status.Errors)
	assert.False(t, status.EndTime.Before(status.StartTime))

	// The set resets after step 100 and 200; instance i earns 5050*i per episode.
	summary := r.Summary()
	assert.Equal(t, "run-pattern", summary.RunID)
	assert.Equal(t, 250, summary.Steps)
	assert.Equal(t, 8, summary.Episodes)
	assert.InDelta(t, 7575, summary.MeanReturn, 1e-9)

	episodes := r.Episodes()
	require.Len(t, episodes, 8)
	for _, ep := range episodes {
		assert.Equal(t, 100, ep.Length)
		assert.InDelta(t, 5050*float64(ep.Instance), ep.Return, 1e-9)
		assert.Equal(t, 100*(ep.Index+1), ep.EndStep)
	}

	run, ok, err := store.GetRun(context.Background(), "run-pattern")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, run.Status)
	assert.Equal(t, "index", run.Policy)
	assert.Equal(t, 8, run.Episodes)
	stored, ok, err := store.GetEpisodes(context.Background(), "run-pattern")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, stored, 8)

	assert.Equal(t, float64(1000), testutil.ToFloat64(rec.StepsTotal.WithLabelValues(environment.PatternName)))
	assert.Equal(t, float64(8), testutil.ToFloat64(rec.EpisodesTotal.WithLabelValues(environment.PatternName)))

	var runEvents, episodeEvents int
	for len(events) > 0 {
		msg := <-events
		assert.Equal(t, env.ID(), msg.From)
		switch ev := msg.Content.(type) {
		case messaging.RunEvent:
			runEvents++
			assert.Equal(t, "run-pattern", ev.RunID)
		case messaging.EpisodeEvent:
			episodeEvents++
			assert.Equal(t, 100, ev.Length)
		}
	}
	assert.Equal(t, 2, runEvents)
	assert.Equal(t, 8, episodeEvents)
}

func TestRolloutGuessNumberAutoReset(t *testing.T) {
	env := makeEnv(t, environment.GuessNumberName, 3,
		option.Int32(environment.OptionNumBits, 4),
		option.Int64(environment.OptionSeed, 7),
	)
	r, err := NewRollout(env, agent.NewRandomPolicy(agent.SpecOf(env), 1), WithSteps(40))
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background()))

	summary := r.Summary()
	assert.Equal(t, 40, summary.Steps)
	// Every episode lasts at most num_bits steps.
	assert.GreaterOrEqual(t, summary.Episodes, 30)
	for _, ep := range r.Episodes() {
		assert.LessOrEqual(t, ep.Length, 4)
		assert.GreaterOrEqual(t, ep.Length, 1)
	}
}

func TestRolloutStop(t *testing.T) {
	env := makeEnv(t, environment.PatternName, 2)
	policy := &scriptedPolicy{inner: agent.NewIndexPolicy(agent.SpecOf(env)), at: 6}
	r, err := NewRollout(env, policy, WithSteps(50))
	require.NoError(t, err)
	policy.hook = r.Stop

	require.NoError(t, r.Run(context.Background()))
	status := r.GetStatus()
	assert.False(t, status.Running)
	assert.Equal(t, 6, status.Step)
	assert.Empty(t, status.Errors)

	assert.NoError(t, r.Stop(), "stop on an idle rollout is a no-op")
}

func TestRolloutPolicyFailure(t *testing.T) {
	env := makeEnv(t, environment.PatternName, 2)
	boom := errors.New("boom")
	policy := &scriptedPolicy{
		inner: agent.NewIndexPolicy(agent.SpecOf(env)),
		at:    3,
		hook:  func() error { return boom },
	}
	store := storage.NewMemoryStore()
	require.NoError(t, store.Init(context.Background()))
	rec := metrics.NewRecorder(prometheus.NewRegistry(), nil)

	r, err := NewRollout(env, policy, WithRunID("run-fail"), WithSteps(10), WithStore(store), WithRecorder(rec))
	require.NoError(t, err)
	err = r.Run(context.Background())
	require.ErrorIs(t, err, boom)

	status := r.GetStatus()
	assert.Equal(t, 2, status.Step)
	require.Len(t, status.Errors, 1)

	run, ok, err := store.GetRun(context.Background(), "run-fail")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Contains(t, run.Err, "boom")
	assert.Equal(t, float64(1), testutil.ToFloat64(rec.ErrorsTotal.WithLabelValues(environment.PatternName, "other")))
}

func TestRolloutContextCancelled(t *testing.T) {
	env := makeEnv(t, environment.PatternName, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, err := NewRollout(env, agent.NewIndexPolicy(agent.SpecOf(env)), WithSteps(5))
	require.NoError(t, err)
	err = r.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, r.GetStatus().Step)
}

func TestNewRolloutRejectsNegativeSteps(t *testing.T) {
	env := makeEnv(t, environment.PatternName, 1)
	_, err := NewRollout(env, agent.NewIndexPolicy(agent.SpecOf(env)), WithSteps(-1))
	assert.Error(t, err)
}

func TestRolloutEpisodesDuringRun(t *testing.T) {
	env := makeEnv(t, environment.GuessNumberName, 8,
		option.Int32(environment.OptionNumBits, 4),
		option.Int64(environment.OptionSeed, 3),
	)
	r, err := NewRollout(env, agent.NewRandomPolicy(agent.SpecOf(env), 5), WithSteps(400))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	seen := 0
	for running := true; running; {
		select {
		case err := <-done:
			require.NoError(t, err)
			running = false
		default:
			eps := r.Episodes()
			assert.GreaterOrEqual(t, len(eps), seen, "episodes only accumulate")
			seen = len(eps)
			_ = r.GetStatus()
		}
	}
	assert.Equal(t, r.Summary().Episodes, len(r.Episodes()))
}
