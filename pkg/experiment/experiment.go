// Package experiment drives a policy against an instance set and accounts
// for the episodes it produces.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/boristopalov/vecenv/pkg/agent"
	"github.com/boristopalov/vecenv/pkg/buffer"
	"github.com/boristopalov/vecenv/pkg/core"
	"github.com/boristopalov/vecenv/pkg/environment"
	"github.com/boristopalov/vecenv/pkg/enverr"
	"github.com/boristopalov/vecenv/pkg/messaging"
	"github.com/boristopalov/vecenv/pkg/metrics"
	"github.com/boristopalov/vecenv/pkg/storage"
)

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusStopped   = "stopped"
	StatusFailed    = "failed"
)

var _ core.Experiment = (*Rollout)(nil)

type RolloutParams struct {
	RunID      string
	Steps      int
	PolicyName string
	Options    []string
	Recorder   *metrics.Recorder
	Broker     messaging.Broker
	Store      storage.Store
}

type RolloutOption func(*RolloutParams)

func WithRunID(id string) RolloutOption {
	return func(p *RolloutParams) {
		p.RunID = id
	}
}

func WithSteps(n int) RolloutOption {
	return func(p *RolloutParams) {
		p.Steps = n
	}
}

// WithPolicyName labels the run in storage.
func WithPolicyName(name string) RolloutOption {
	return func(p *RolloutParams) {
		p.PolicyName = name
	}
}

// WithOptions records the make-time options of the instance set.
func WithOptions(opts []string) RolloutOption {
	return func(p *RolloutParams) {
		p.Options = opts
	}
}

func WithRecorder(r *metrics.Recorder) RolloutOption {
	return func(p *RolloutParams) {
		p.Recorder = r
	}
}

func WithBroker(b messaging.Broker) RolloutOption {
	return func(p *RolloutParams) {
		p.Broker = b
	}
}

// WithStore persists the run and its episodes. The store must be initialized.
func WithStore(s storage.Store) RolloutOption {
	return func(p *RolloutParams) {
		p.Store = s
	}
}

// Rollout runs a policy for a fixed number of batched steps. When every
// instance reports done on the same step the instance set is reset.
type Rollout struct {
	id     string
	env    environment.VecEnv
	policy agent.Policy
	params RolloutParams

	// per-instance accounting of the episode in progress, owned by Run
	returns  []float64
	lengths  []int
	episodes []int

	mu       sync.RWMutex
	finished []storage.Episode
	status   core.ExperimentStatus
	summary  core.Summary
	cancel   context.CancelFunc
	stopped  bool
}

func NewRollout(env environment.VecEnv, policy agent.Policy, opts ...RolloutOption) (*Rollout, error) {
	params := RolloutParams{
		RunID:      uuid.New().String(),
		Steps:      100,
		PolicyName: fmt.Sprintf("%T", policy),
	}
	for _, opt := range opts {
		opt(&params)
	}
	if params.Steps < 0 {
		return nil, fmt.Errorf("rollout %s: steps must not be negative, got %d", params.RunID, params.Steps)
	}

	n := env.NumEnvs()
	return &Rollout{
		id:       params.RunID,
		env:      env,
		policy:   policy,
		params:   params,
		returns:  make([]float64, n),
		lengths:  make([]int, n),
		episodes: make([]int, n),
	}, nil
}

func (r *Rollout) ID() string {
	return r.id
}

func (r *Rollout) GetStatus() core.ExperimentStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	status := r.status
	status.Errors = append([]error(nil), r.status.Errors...)
	return status
}

// Summary returns the totals of the last Run.
func (r *Rollout) Summary() core.Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.summary
}

// Stop cancels a running rollout after the step in progress. It is a no-op
// when nothing is running.
func (r *Rollout) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.stopped = true
		r.cancel()
	}
	return nil
}

func (r *Rollout) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	r.mu.Lock()
	if r.status.Running {
		r.mu.Unlock()
		return fmt.Errorf("rollout %s is already running", r.id)
	}
	r.cancel = cancel
	r.stopped = false
	r.status = core.ExperimentStatus{Running: true, StartTime: start}
	r.summary = core.Summary{}
	r.finished = nil
	clear(r.returns)
	clear(r.lengths)
	clear(r.episodes)
	r.mu.Unlock()

	r.persistRun(ctx, StatusRunning, nil, start, time.Time{})
	r.publish(messaging.RunEvent{RunID: r.id, Env: r.env.Name(), Status: StatusRunning})
	Logger().Info("rollout started",
		zap.String("run", r.id),
		zap.String("env", r.env.Name()),
		zap.Int("num_envs", r.env.NumEnvs()),
		zap.Int("steps", r.params.Steps),
	)

	err := r.runLoop(ctx)

	end := time.Now()
	status := StatusCompleted
	r.mu.Lock()
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled) && r.stopped:
		status = StatusStopped
		err = nil
	default:
		status = StatusFailed
		r.status.Errors = append(r.status.Errors, err)
	}
	r.status.Running = false
	r.status.EndTime = end
	r.cancel = nil
	r.summary = r.summarize(end.Sub(start))
	summary := r.summary
	r.mu.Unlock()

	// persistence must outlive a cancelled run context
	saveCtx := context.WithoutCancel(ctx)
	if finished := r.Episodes(); r.params.Store != nil && len(finished) > 0 {
		if serr := r.params.Store.SaveEpisodes(saveCtx, r.id, finished); serr != nil {
			Logger().Warn("failed to save episodes", zap.String("run", r.id), zap.Error(serr))
		}
	}
	r.persistRun(saveCtx, status, err, start, end)

	ev := messaging.RunEvent{RunID: r.id, Env: r.env.Name(), Status: status}
	if err != nil {
		ev.Err = err.Error()
		r.observeError(err)
		Logger().Error("rollout failed", zap.String("run", r.id), zap.Error(err))
	}
	r.publish(ev)
	Logger().Info("rollout finished",
		zap.String("run", r.id),
		zap.String("status", status),
		zap.Int("steps", summary.Steps),
		zap.Int("episodes", summary.Episodes),
		zap.Float64("mean_return", summary.MeanReturn),
		zap.Duration("duration", summary.Duration),
	)
	return err
}

func (r *Rollout) runLoop(ctx context.Context) error {
	step := environment.NewStep(r.env)
	acts := environment.NewActions(r.env)
	observer, _ := r.policy.(agent.Observer)

	if err := r.env.Reset(step); err != nil {
		return fmt.Errorf("reset: %w", err)
	}

	for t := 1; t <= r.params.Steps; t++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := r.policy.Act(ctx, step, acts); err != nil {
			return fmt.Errorf("step %d: policy: %w", t, err)
		}
		began := time.Now()
		if err := r.env.StepAsync(acts, step); err != nil {
			return fmt.Errorf("step %d: %w", t, err)
		}
		if err := r.env.StepWait(); err != nil {
			return fmt.Errorf("step %d: %w", t, err)
		}
		if r.params.Recorder != nil {
			r.params.Recorder.ObserveStep(r.env.Name(), r.env.NumEnvs(), time.Since(began))
		}
		if observer != nil {
			if err := observer.Observe(ctx, step); err != nil {
				return fmt.Errorf("step %d: observe: %w", t, err)
			}
		}

		r.mu.Lock()
		r.status.Step = t
		r.mu.Unlock()

		if r.account(t, step) {
			if err := r.env.Reset(step); err != nil {
				return fmt.Errorf("step %d: reset: %w", t, err)
			}
		}
	}
	return nil
}

// account adds the step's rewards to the running episodes and closes the
// ones that ended. It reports whether every instance is done.
func (r *Rollout) account(t int, step *buffer.Step) bool {
	allDone := true
	for i := range r.returns {
		r.returns[i] += float64(step.Rews[i])
		r.lengths[i]++
		if !step.Dones[i] {
			allDone = false
			continue
		}

		ep := storage.Episode{
			RunID:    r.id,
			Instance: i,
			Index:    r.episodes[i],
			Return:   r.returns[i],
			Length:   r.lengths[i],
			EndStep:  t,
		}
		r.mu.Lock()
		r.finished = append(r.finished, ep)
		r.mu.Unlock()
		if r.params.Recorder != nil {
			r.params.Recorder.ObserveEpisode(r.env.Name(), ep.Return)
		}
		r.publish(messaging.EpisodeEvent{
			RunID:    r.id,
			Env:      r.env.Name(),
			Instance: i,
			Episode:  ep.Index,
			Return:   ep.Return,
			Length:   ep.Length,
			Step:     t,
		})
		Logger().Debug("episode finished",
			zap.String("run", r.id),
			zap.Int("instance", i),
			zap.Int("episode", ep.Index),
			zap.Float64("return", ep.Return),
			zap.Int("length", ep.Length),
		)

		r.episodes[i]++
		r.returns[i] = 0
		r.lengths[i] = 0
	}
	return allDone
}

// Episodes returns every episode finished so far.
func (r *Rollout) Episodes() []storage.Episode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]storage.Episode(nil), r.finished...)
}

func (r *Rollout) summarize(d time.Duration) core.Summary {
	s := core.Summary{
		RunID:    r.id,
		Env:      r.env.Name(),
		NumEnvs:  r.env.NumEnvs(),
		Steps:    r.status.Step,
		Episodes: len(r.finished),
		Duration: d,
	}
	if len(r.finished) > 0 {
		var total float64
		for _, ep := range r.finished {
			total += ep.Return
		}
		s.MeanReturn = total / float64(len(r.finished))
	}
	return s
}

func (r *Rollout) publish(content any) {
	if r.params.Broker == nil {
		return
	}
	msg := messaging.Message{
		From:      r.env.ID(),
		Content:   content,
		Timestamp: time.Now(),
	}
	if err := r.params.Broker.Publish(msg); err != nil {
		Logger().Warn("dropped rollout event", zap.String("run", r.id), zap.Error(err))
	}
}

func (r *Rollout) persistRun(ctx context.Context, status string, runErr error, start, end time.Time) {
	if r.params.Store == nil {
		return
	}
	r.mu.RLock()
	run := storage.Run{
		ID:         r.id,
		Env:        r.env.Name(),
		NumEnvs:    r.env.NumEnvs(),
		Policy:     r.params.PolicyName,
		Options:    r.params.Options,
		Steps:      r.status.Step,
		Episodes:   r.summary.Episodes,
		MeanReturn: r.summary.MeanReturn,
		Status:     status,
		StartedAt:  start,
		EndedAt:    end,
	}
	r.mu.RUnlock()
	if runErr != nil {
		run.Err = runErr.Error()
	}
	if err := r.params.Store.SaveRun(ctx, run); err != nil {
		Logger().Warn("failed to save run", zap.String("run", r.id), zap.Error(err))
	}
}

func (r *Rollout) observeError(err error) {
	if r.params.Recorder == nil {
		return
	}
	class := "other"
	var envErr *enverr.Error
	if errors.As(err, &envErr) {
		class = string(envErr.Class())
	}
	r.params.Recorder.ObserveError(r.env.Name(), class)
}
