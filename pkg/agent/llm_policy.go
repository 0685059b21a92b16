package agent

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/boristopalov/vecenv/pkg/buffer"
	"github.com/boristopalov/vecenv/pkg/environment"
	"github.com/boristopalov/vecenv/pkg/memory"
	"github.com/boristopalov/vecenv/pkg/providers"
	"github.com/boristopalov/vecenv/pkg/space"
)

const (
	SYSTEM_PROMPT = `You are controlling one instance of a reinforcement learning environment. Each turn you see the current observation, the reward you received for your previous action and whether the episode just ended. Your goal is to maximize the total reward collected over the episode. Reply with a short justification followed by your action.`

	ACTION_PROMPT_TEMPLATE = `Environment: %s (instance %d).
Observation:
%s
Previous reward: %g. Episode ended on the previous step: %t.

Choose the action. %s
Very briefly think step by step and then provide your answer. Your answer should follow the string "ANSWER" like so: ANSWER: <values separated by commas>`

	RETRY_PROMPT_TEMPLATE = `Your previous response did not include a valid answer. Here was your response:

%s

Reply with exactly one line of the form "ANSWER: <values separated by commas>" containing %d numbers.`

	// observation values shown to the model per space
	maxPromptValues = 16
)

var answerPattern = regexp.MustCompile(`ANSWER:\s*(-?\d*\.?\d+(?:\s*,\s*-?\d*\.?\d+)*)`)

type ModelInfo struct {
	Id     string         // e.g. "gpt-4o-mini"
	Config map[string]any // model-specific configuration
}

type PolicyParams struct {
	PolicyID    string
	Model       ModelInfo
	Client      providers.Completer
	MemorySize  int
	Concurrency int
	Logger      *zap.Logger
}

type PolicyOption func(*PolicyParams)

func WithPolicyID(id string) PolicyOption {
	return func(p *PolicyParams) {
		p.PolicyID = id
	}
}

func WithModel(model ModelInfo) PolicyOption {
	return func(p *PolicyParams) {
		p.Model = model
	}
}

func WithClient(c providers.Completer) PolicyOption {
	return func(p *PolicyParams) {
		p.Client = c
	}
}

// WithMemorySize bounds the per-instance transcript sent with every prompt.
func WithMemorySize(n int) PolicyOption {
	return func(p *PolicyParams) {
		p.MemorySize = n
	}
}

// WithConcurrency sets how many instances query the model at once.
func WithConcurrency(n int) PolicyOption {
	return func(p *PolicyParams) {
		p.Concurrency = n
	}
}

func WithLogger(l *zap.Logger) PolicyOption {
	return func(p *PolicyParams) {
		p.Logger = l
	}
}

func defaultPolicyParams() *PolicyParams {
	return &PolicyParams{
		PolicyID: "policy-" + uuid.New().String(),
		Model: ModelInfo{
			Id:     "gpt-4o-mini",
			Config: make(map[string]any),
		},
		MemorySize:  100,
		Concurrency: 4,
		Logger:      zap.NewNop(),
	}
}

// LLMPolicy asks a language model for every instance's action. Each instance
// keeps its own bounded transcript, cleared when its episode ends.
type LLMPolicy struct {
	id          string
	spec        Spec
	model       ModelInfo
	client      providers.Completer
	memories    []*memory.Memory
	lastRews    []float32
	lastDones   []bool
	concurrency int
	logger      *zap.Logger
}

// NewLLMPolicy creates a policy for spec. A Completer is required.
func NewLLMPolicy(spec Spec, opts ...PolicyOption) (*LLMPolicy, error) {
	params := defaultPolicyParams()
	for _, opt := range opts {
		opt(params)
	}
	if params.Client == nil {
		return nil, fmt.Errorf("llm policy %s: no completion client configured", params.PolicyID)
	}
	for _, sp := range spec.Action {
		if _, _, err := boundsOf(sp); err != nil {
			return nil, err
		}
	}

	p := &LLMPolicy{
		id:          params.PolicyID,
		spec:        spec,
		model:       params.Model,
		client:      params.Client,
		memories:    make([]*memory.Memory, spec.NumEnvs),
		lastRews:    make([]float32, spec.NumEnvs),
		lastDones:   make([]bool, spec.NumEnvs),
		concurrency: params.Concurrency,
		logger:      params.Logger,
	}
	for i := range p.memories {
		p.memories[i] = memory.NewMemory(params.MemorySize)
	}
	return p, nil
}

func (p *LLMPolicy) GetID() string {
	return p.id
}

func (p *LLMPolicy) GetModel() ModelInfo {
	return p.model
}

// Memory returns the transcript of instance i.
func (p *LLMPolicy) Memory(i int) *memory.Memory {
	return p.memories[i]
}

func (p *LLMPolicy) Act(ctx context.Context, obs *buffer.Step, acts buffer.Regions) error {
	if err := checkActs(p.spec, acts); err != nil {
		return err
	}
	return environment.ForEach(ctx, p.spec.NumEnvs, p.concurrency, func(i int) error {
		values, err := p.decide(ctx, i, obs)
		if err != nil {
			return fmt.Errorf("instance %d: %w", i, err)
		}
		return p.write(i, values, acts)
	})
}

// Observe records the outcome of the last action in each instance's
// transcript.
func (p *LLMPolicy) Observe(_ context.Context, step *buffer.Step) error {
	for i := 0; i < p.spec.NumEnvs; i++ {
		p.lastRews[i] = step.Rews[i]
		p.lastDones[i] = step.Dones[i]
		if step.Dones[i] {
			p.memories[i].Clear()
			continue
		}
		if err := p.memories[i].Store(fmt.Sprintf("Reward %g.", step.Rews[i])); err != nil {
			return err
		}
	}
	return nil
}

func (p *LLMPolicy) decide(ctx context.Context, i int, obs *buffer.Step) ([]float64, error) {
	prompt := fmt.Sprintf(ACTION_PROMPT_TEMPLATE,
		p.spec.Env,
		i,
		p.describeObservation(i, obs),
		p.lastRews[i],
		p.lastDones[i],
		p.describeActions(),
	)
	want := p.actionCount()

	response, err := p.client.Complete(ctx, p.model.Id, prompt, SYSTEM_PROMPT, p.memories[i].GetAllMessages())
	if err != nil {
		return nil, fmt.Errorf("failed to generate response: %w", err)
	}
	values, err := parseActionResponse(response, want)
	if err != nil {
		p.logger.Debug("retrying unparseable answer", zap.String("policy", p.id), zap.Int("instance", i), zap.Error(err))
		response, err = p.client.Complete(ctx, p.model.Id, fmt.Sprintf(RETRY_PROMPT_TEMPLATE, response, want), SYSTEM_PROMPT, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to generate response on retry: %w", err)
		}
		values, err = parseActionResponse(response, want)
		if err != nil {
			return nil, fmt.Errorf("no answer found in response even after retry: %w", err)
		}
	}

	p.logger.Debug("action chosen", zap.String("policy", p.id), zap.Int("instance", i), zap.Float64s("values", values))
	if err := p.memories[i].Store(fmt.Sprintf("You chose %s.", formatValues(values))); err != nil {
		return nil, err
	}
	return values, nil
}

func (p *LLMPolicy) write(i int, values []float64, acts buffer.Regions) error {
	n := p.spec.NumEnvs
	k := 0
	for s, sp := range p.spec.Action {
		low, high, _ := boundsOf(sp)
		region := acts.At(s, i, n)
		for j := 0; j < sp.Count(); j++ {
			if err := buffer.Put(region, sp.DType(), j, clamp(values[k], low, high)); err != nil {
				return err
			}
			k++
		}
	}
	return nil
}

func (p *LLMPolicy) actionCount() int {
	total := 0
	for _, sp := range p.spec.Action {
		total += sp.Count()
	}
	return total
}

func (p *LLMPolicy) describeObservation(i int, obs *buffer.Step) string {
	if obs == nil {
		return "(none)"
	}
	var sb strings.Builder
	for s, sp := range p.spec.Observation {
		values, err := buffer.ReadFloat64s(obs.Obs.At(s, i, p.spec.NumEnvs), sp.DType())
		if err != nil {
			continue
		}
		fmt.Fprintf(&sb, "- %s %v: %s", sp.Name, sp.Shape, formatValues(values[:min(len(values), maxPromptValues)]))
		if len(values) > maxPromptValues {
			fmt.Fprintf(&sb, ", ... (%d values)", len(values))
		}
		sb.WriteByte('\n')
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (p *LLMPolicy) describeActions() string {
	parts := make([]string, len(p.spec.Action))
	for s, sp := range p.spec.Action {
		low, high, _ := boundsOf(sp)
		parts[s] = fmt.Sprintf("%s takes %d %s values between %g and %g", sp.Name, sp.Count(), sp.DType(), low, high)
	}
	return strings.Join(parts, "; ") + "."
}

func boundsOf(sp space.Space) (float64, float64, error) {
	if sp.Bounds == nil {
		return 0, 0, fmt.Errorf("action space %s has no bounds", sp.Name)
	}
	low, high := sp.Bounds.Float64()
	return low, high, nil
}

// parseActionResponse extracts want comma-separated numbers following ANSWER:.
func parseActionResponse(response string, want int) ([]float64, error) {
	matches := answerPattern.FindStringSubmatch(response)
	if len(matches) < 2 {
		return nil, fmt.Errorf("could not find answer in response: %s", response)
	}

	fields := strings.Split(matches[1], ",")
	if len(fields) != want {
		return nil, fmt.Errorf("expected %d values in answer, got %d", want, len(fields))
	}
	values := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, fmt.Errorf("could not parse action value: %w", err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("action value %q is not finite", f)
		}
		values[i] = v
	}
	return values, nil
}

func formatValues(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ", ")
}
