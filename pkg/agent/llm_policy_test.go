package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boristopalov/vecenv/pkg/buffer"
	"github.com/boristopalov/vecenv/pkg/environment"
	"github.com/boristopalov/vecenv/pkg/option"
)

// MockLLMClient replays canned responses and records every prompt.
type MockLLMClient struct {
	mu        sync.Mutex
	responses []string
	prompts   []string
	histories [][]string
	err       error
}

func (m *MockLLMClient) Complete(ctx context.Context, model, prompt, system string, history []string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.prompts = append(m.prompts, prompt)
	m.histories = append(m.histories, history)
	if len(m.responses) == 0 {
		return "ANSWER: 0", nil
	}
	r := m.responses[0]
	m.responses = m.responses[1:]
	return r, nil
}

func newEnv(t *testing.T, name string, n int, opts ...option.Value) environment.VecEnv {
	t.Helper()
	h, err := environment.Open(name)
	require.NoError(t, err)
	env, err := h.Make(n, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close() })
	return env
}

func TestParseActionResponse(t *testing.T) {
	tests := []struct {
		in   string
		want []float64
		err  bool
	}{
		{"I think 1.\nANSWER: 1", []float64{1}, false},
		{"ANSWER:0.5, -2,3", []float64{0.5, -2, 3}, false},
		{"answer is one", nil, true},
		{"ANSWER: 1, 2", nil, true},
		{"ANSWER: NaN", nil, true},
		{"ANSWER: Inf", nil, true},
		{"ANSWER: 1" + strings.Repeat("0", 400), nil, true},
	}
	for _, tt := range tests {
		want := len(tt.want)
		if tt.err {
			want = 1
		}
		got, err := parseActionResponse(tt.in, want)
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestLLMPolicyRequiresClient(t *testing.T) {
	env := newEnv(t, environment.PatternName, 1)
	_, err := NewLLMPolicy(SpecOf(env))
	assert.Error(t, err)
}

func TestLLMPolicyActsAndClamps(t *testing.T) {
	env := newEnv(t, environment.GuessNumberName, 2, option.Int32(environment.OptionNumBits, 4))
	client := &MockLLMClient{responses: []string{"ANSWER: 1", "ANSWER: 1"}}
	p, err := NewLLMPolicy(SpecOf(env), WithClient(client), WithConcurrency(1), WithPolicyID("test-policy"))
	require.NoError(t, err)
	assert.Equal(t, "test-policy", p.GetID())
	assert.Equal(t, "gpt-4o-mini", p.GetModel().Id)

	st := environment.NewStep(env)
	acts := environment.NewActions(env)
	require.NoError(t, env.Reset(st))
	require.NoError(t, p.Act(context.Background(), st, acts))
	assert.Equal(t, uint8(1), acts.At(0, 0, 2)[0])
	assert.Equal(t, uint8(1), acts.At(0, 1, 2)[0])

	client.responses = []string{"ANSWER: 7", "ANSWER: -3"}
	require.NoError(t, p.Act(context.Background(), st, acts))
	assert.Equal(t, uint8(1), acts.At(0, 0, 2)[0])
	assert.Equal(t, uint8(0), acts.At(0, 1, 2)[0])

	require.Len(t, client.prompts, 4)
	assert.Contains(t, client.prompts[0], "guess-number")
	assert.Contains(t, client.prompts[0], "observation [1]: 0")
}

func TestLLMPolicyRetriesOnce(t *testing.T) {
	env := newEnv(t, environment.PatternName, 1)
	client := &MockLLMClient{responses: []string{"I am not sure", "ANSWER: 0"}}
	p, err := NewLLMPolicy(SpecOf(env), WithClient(client))
	require.NoError(t, err)

	acts := environment.NewActions(env)
	require.NoError(t, p.Act(context.Background(), nil, acts))
	require.Len(t, client.prompts, 2)
	assert.True(t, strings.Contains(client.prompts[1], "I am not sure"))

	client.responses = []string{"still no", "nope"}
	err = p.Act(context.Background(), nil, acts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after retry")
}

func TestLLMPolicyPropagatesClientErrors(t *testing.T) {
	env := newEnv(t, environment.PatternName, 3)
	boom := errors.New("rate limited")
	p, err := NewLLMPolicy(SpecOf(env), WithClient(&MockLLMClient{err: boom}))
	require.NoError(t, err)
	err = p.Act(context.Background(), nil, environment.NewActions(env))
	assert.ErrorIs(t, err, boom)
}

func TestLLMPolicyMemory(t *testing.T) {
	env := newEnv(t, environment.PatternName, 1)
	client := &MockLLMClient{}
	p, err := NewLLMPolicy(SpecOf(env), WithClient(client), WithMemorySize(3))
	require.NoError(t, err)

	st := environment.NewStep(env)
	acts := environment.NewActions(env)
	require.NoError(t, env.Reset(st))
	for s := 0; s < 3; s++ {
		require.NoError(t, p.Act(context.Background(), st, acts))
		require.NoError(t, env.StepAsync(acts, st))
		require.NoError(t, env.StepWait())
		require.NoError(t, p.Observe(context.Background(), st))
	}
	assert.Equal(t, 3, p.Memory(0).Len())
	assert.Len(t, client.histories[2], 3)

	st.Dones[0] = true
	require.NoError(t, p.Observe(context.Background(), st))
	assert.Zero(t, p.Memory(0).Len())
}

func TestRandomPolicyStaysInBounds(t *testing.T) {
	env := newEnv(t, environment.PatternName, 8)
	p := NewRandomPolicy(SpecOf(env), 7)
	acts := environment.NewActions(env)
	for k := 0; k < 50; k++ {
		require.NoError(t, p.Act(context.Background(), nil, acts))
		for i := 0; i < 8; i++ {
			assert.LessOrEqual(t, acts.At(0, i, 8)[0], uint8(32))
		}
	}
}

func TestRandomPolicyIsSeeded(t *testing.T) {
	env := newEnv(t, environment.GuessNumberName, 16, option.Int32(environment.OptionNumBits, 8))
	draw := func() []byte {
		acts := environment.NewActions(env)
		require.NoError(t, NewRandomPolicy(SpecOf(env), 99).Act(context.Background(), nil, acts))
		var out []byte
		for _, r := range acts {
			out = append(out, r...)
		}
		return out
	}
	assert.Equal(t, draw(), draw())
}

func TestIndexPolicySolvesPattern(t *testing.T) {
	const n = 40
	env := newEnv(t, environment.PatternName, n)
	p := NewIndexPolicy(SpecOf(env))
	st := environment.NewStep(env)
	acts := environment.NewActions(env)

	require.NoError(t, env.Reset(st))
	require.NoError(t, p.Act(context.Background(), st, acts))
	for i := 0; i < n; i++ {
		assert.Equal(t, environment.PatternTarget(i), acts.At(0, i, n)[0])
	}

	require.NoError(t, env.StepAsync(acts, st))
	require.NoError(t, env.StepWait())
	for i := 0; i < n; i++ {
		assert.Equal(t, float32(i), st.Rews[i])
	}
}

func TestPoliciesRejectShortActions(t *testing.T) {
	env := newEnv(t, environment.PatternName, 4)
	err := NewIndexPolicy(SpecOf(env)).Act(context.Background(), nil, buffer.Regions{{0}})
	assert.Error(t, err)
	err = NewRandomPolicy(SpecOf(env), 1).Act(context.Background(), nil, buffer.Regions{{0}})
	assert.Error(t, err)
}
