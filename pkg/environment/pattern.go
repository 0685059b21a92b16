package environment

import (
	"context"
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/boristopalov/vecenv/pkg/buffer"
	"github.com/boristopalov/vecenv/pkg/enverr"
	"github.com/boristopalov/vecenv/pkg/option"
	"github.com/boristopalov/vecenv/pkg/space"
)

const (
	PatternName = "pattern"

	// PatternEpisodeLength is the step count at which every instance reports done.
	PatternEpisodeLength = 100

	// PatternActions is the number of distinct actions; instance i is
	// rewarded for choosing i mod PatternActions.
	PatternActions = 33

	OptionNumWorkers = "num_workers"
)

var patternSpaces = spaceTable{
	space.Observation: {
		{Name: "uint8_obs", Kind: space.Box, Shape: []int{1, 2, 3}, Bounds: space.NewRange[uint8](0, 128)},
		{Name: "int32_obs", Kind: space.Box, Shape: []int{4, 5, 6}, Bounds: space.NewRange[int32](-100, 100)},
		{Name: "float32_obs", Kind: space.Box, Shape: []int{7, 8, 9}, Bounds: space.NewRange[float32](-1000, 1000)},
	},
	space.Action: {
		{Name: "action", Kind: space.Discrete, Shape: []int{1}, Bounds: space.NewRange[uint8](0, PatternActions-1)},
	},
	space.Info: {
		{Name: "info", Kind: space.Discrete, Shape: []int{1}, Bounds: space.NewRange[int32](0, 10000)},
	},
	space.Render: {
		{Name: "rgb_array", Kind: space.Box, Shape: []int{8, 8, 3}, Bounds: space.NewRange[int32](0, 10000)},
	},
}

// PatternTarget is the action that counts as correct for instance i.
func PatternTarget(i int) uint8 {
	return uint8(i % PatternActions)
}

type patternLibrary struct{}

func init() {
	Register(patternLibrary{})
}

func (patternLibrary) Name() string { return PatternName }

func (patternLibrary) Load() {}

func (patternLibrary) Unload() {}

func (patternLibrary) Make(numEnvs int, opts option.Set) (VecEnv, error) {
	workers := 1
	err := option.NewParser(PatternName).
		Handle(OptionNumWorkers, numWorkersHandler(&workers)).
		Parse(opts)
	if err != nil {
		return nil, err
	}

	e := &patternEnv{
		id:      "pattern-" + uuid.New().String(),
		n:       numEnvs,
		workers: workers,
		correct: make([]bool, numEnvs),
		pipe:    NewPipeline(PatternName),
	}
	for i := range e.correct {
		e.correct[i] = true
	}
	return e, nil
}

func numWorkersHandler(dst *int) option.Handler {
	return func(v option.Value) error {
		w, err := v.Int32()
		if err != nil {
			return err
		}
		if w < 1 {
			return enverr.New(enverr.PhaseMake, enverr.KindOptionValue).Option(v.Name).
				Detail("must be at least 1, got %d", w).Build()
		}
		*dst = int(w)
		return nil
	}
}

// patternEnv writes an index-derived pattern into every observation so hosts
// can verify buffer addressing and alignment.
type patternEnv struct {
	id        string
	n         int
	workers   int
	stepCount int
	correct   []bool
	pipe      *Pipeline
}

func (e *patternEnv) ID() string   { return e.id }
func (e *patternEnv) Name() string { return PatternName }
func (e *patternEnv) NumEnvs() int { return e.n }

func (e *patternEnv) Spaces(role space.Role) space.List {
	return patternSpaces.get(role)
}

func (e *patternEnv) Reset(step *buffer.Step) error {
	if err := e.checkStep(step); err != nil {
		return err
	}
	e.stepCount = 0
	for i := range e.correct {
		e.correct[i] = true
	}
	return e.observe(step)
}

func (e *patternEnv) StepAsync(acts buffer.Regions, step *buffer.Step) error {
	if err := buffer.CheckRegions(PatternName, "action", acts, patternSpaces[space.Action], e.n); err != nil {
		return err
	}
	if err := e.checkStep(step); err != nil {
		return err
	}
	if err := e.pipe.Begin(acts, step); err != nil {
		return err
	}
	for i := 0; i < e.n; i++ {
		e.correct[i] = acts.At(0, i, e.n)[0] == PatternTarget(i)
	}
	e.stepCount++
	return nil
}

func (e *patternEnv) StepWait() error {
	return e.pipe.Await(func(_ buffer.Regions, step *buffer.Step) error {
		return e.observe(step)
	})
}

func (e *patternEnv) Render(mode string, frames buffer.Regions) (bool, error) {
	if mode != "rgb_array" {
		return true, nil
	}
	if err := buffer.CheckRegions(PatternName, "render", frames, patternSpaces[space.Render], e.n); err != nil {
		return false, err
	}
	frame := patternSpaces[space.Render][0]
	for i := 0; i < e.n; i++ {
		buffer.Fill(frames.At(0, i, e.n), frame.Count(), clampInt32(e.stepCount*i))
	}
	return true, nil
}

func (e *patternEnv) Close() error {
	e.pipe.Abort()
	return nil
}

func (e *patternEnv) checkStep(step *buffer.Step) error {
	return buffer.CheckShape(PatternName, step, patternSpaces[space.Observation], patternSpaces[space.Info], e.n)
}

func (e *patternEnv) observe(step *buffer.Step) error {
	obs := patternSpaces[space.Observation]
	if err := buffer.CheckAligned(PatternName, step, len(obs), len(patternSpaces[space.Info]), e.n); err != nil {
		return err
	}

	done := e.stepCount >= PatternEpisodeLength
	err := ForEach(context.Background(), e.n, e.workers, func(i int) error {
		u8 := buffer.Elems[uint8](step.Obs.At(0, i, e.n), obs[0].Count())
		for j := range u8 {
			u8[j] = uint8(j)
		}
		i32 := buffer.Elems[int32](step.Obs.At(1, i, e.n), obs[1].Count())
		for j := range i32 {
			i32[j] = int32(j)
		}
		f32 := buffer.Elems[float32](step.Obs.At(2, i, e.n), obs[2].Count())
		for j := range f32 {
			f32[j] = float32(j)
		}

		var rew float64
		if e.correct[i] {
			rew = float64(e.stepCount) * float64(i)
		}
		step.Rews[i] = float32(rew)
		step.Dones[i] = done
		buffer.View[int32](step.Infos.At(0, i, e.n))[0] = clampInt32(e.stepCount * i)
		return nil
	})
	if err != nil {
		return err
	}
	if e.stepCount == PatternEpisodeLength {
		Logger().Debug("pattern episode complete", zap.String("id", e.id), zap.Int("step_count", e.stepCount))
	}
	return nil
}

func clampInt32(v int) int32 {
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	if v < math.MinInt32 {
		return math.MinInt32
	}
	return int32(v)
}
