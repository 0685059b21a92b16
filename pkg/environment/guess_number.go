package environment

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/boristopalov/vecenv/pkg/buffer"
	"github.com/boristopalov/vecenv/pkg/enverr"
	"github.com/boristopalov/vecenv/pkg/option"
	"github.com/boristopalov/vecenv/pkg/space"
)

const (
	GuessNumberName = "guess-number"

	OptionNumBits = "num_bits"
	OptionN       = "n"
	OptionSeed    = "seed"

	// supplied numbers are decomposed from their 64-bit two's complement
	suppliedBits = 64
)

var guessNumberSpaces = spaceTable{
	space.Observation: {
		{Name: "observation", Kind: space.Box, Shape: []int{1}, Bounds: space.Unbounded[float32]()},
	},
	space.Action: {
		{Name: "action", Kind: space.Box, Shape: []int{1}, Bounds: space.NewRange[uint8](0, 1)},
	},
}

type guessPhase int

const (
	guessUnready guessPhase = iota
	guessPlaying
	guessDone
)

func (p guessPhase) String() string {
	switch p {
	case guessUnready:
		return "unready"
	case guessPlaying:
		return "playing"
	case guessDone:
		return "done"
	default:
		return "unknown"
	}
}

// guessInstance is one bit-guessing game.
//
//	Unready --reset--> Playing --advance(done)--> Done --autoReset--> Playing
//
// failed survives autoReset; only an explicit reset clears it.
type guessInstance struct {
	bits       []bool
	numBits    int
	randomBits bool
	stepIndex  int
	failed     bool
	phase      guessPhase
}

// reset starts a fresh game, redrawing random bits.
func (g *guessInstance) reset(rng *rand.Rand) {
	if g.randomBits {
		if len(g.bits) != g.numBits {
			g.bits = make([]bool, g.numBits)
		}
		for i := range g.bits {
			g.bits[i] = rng.IntN(2) == 1
		}
	}
	g.stepIndex = 0
	g.failed = false
	g.phase = guessPlaying
}

// check reports whether the instance may be stepped.
func (g *guessInstance) check(i int) error {
	if g.phase == guessUnready {
		return enverr.NotReset(GuessNumberName, i)
	}
	if g.stepIndex >= g.numBits {
		return enverr.New(enverr.PhaseStep, enverr.KindEpisodeOverrun).Env(GuessNumberName).Instance(i).
			Detail("step index %d past the end of %d bits", g.stepIndex, g.numBits).Build()
	}
	return nil
}

// advance scores one guess against the current bit.
func (g *guessInstance) advance(guess uint8) (float32, bool) {
	want := uint8(0)
	if g.bits[g.stepIndex] {
		want = 1
	}
	if guess != want || g.stepIndex == g.numBits-1 || g.failed {
		g.failed = true
		g.stepIndex++
		g.phase = guessDone
		return 0, true
	}
	g.stepIndex++
	return 1, false
}

// autoReset begins the next episode without redrawing bits.
func (g *guessInstance) autoReset() {
	g.stepIndex = 0
	g.phase = guessPlaying
}

func (g *guessInstance) observation() float32 {
	return float32(g.stepIndex)
}

// bitsOf decomposes n least significant bit first.
func bitsOf(n int64) []bool {
	u := uint64(n)
	bits := make([]bool, suppliedBits)
	for i := range bits {
		bits[i] = u&1 == 1
		u >>= 1
	}
	return bits
}

type guessNumberLibrary struct {
	mu   sync.Mutex
	seed *rand.Rand
}

func init() {
	Register(&guessNumberLibrary{})
}

func (l *guessNumberLibrary) Name() string { return GuessNumberName }

// Load seeds the process-wide source instance sets draw their seeds from.
func (l *guessNumberLibrary) Load() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := uint64(time.Now().UnixNano())
	l.seed = rand.New(rand.NewPCG(now, now>>1^0x9e3779b97f4a7c15))
}

func (l *guessNumberLibrary) Unload() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seed = nil
}

func (l *guessNumberLibrary) newRand() *rand.Rand {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seed == nil {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(l.seed.Uint64(), l.seed.Uint64()))
}

func (l *guessNumberLibrary) Make(numEnvs int, opts option.Set) (VecEnv, error) {
	var (
		numBits int
		ns      []int64
		seed    int64
		workers = 1
	)
	p := option.NewParser(GuessNumberName).
		Handle(OptionNumBits, func(v option.Value) error {
			b, err := v.Int32()
			if err != nil {
				return err
			}
			if b < 1 {
				return enverr.New(enverr.PhaseMake, enverr.KindOptionValue).Option(v.Name).
					Detail("must be positive, got %d", b).Build()
			}
			numBits = int(b)
			return nil
		}).
		Handle(OptionN, func(v option.Value) error {
			vals, err := v.Int64s(numEnvs)
			if err != nil {
				return err
			}
			ns = vals
			return nil
		}).
		Handle(OptionSeed, func(v option.Value) error {
			s, err := v.Int64()
			if err != nil {
				return err
			}
			seed = s
			return nil
		}).
		Handle(OptionNumWorkers, numWorkersHandler(&workers))
	if err := p.Parse(opts); err != nil {
		return nil, err
	}

	switch {
	case p.Seen(OptionNumBits) && p.Seen(OptionN):
		return nil, enverr.New(enverr.PhaseMake, enverr.KindConflictingOption).Env(GuessNumberName).Option(OptionN).
			Detail("must specify one of %s and %s", OptionNumBits, OptionN).Build()
	case !p.Seen(OptionNumBits) && !p.Seen(OptionN):
		return nil, enverr.New(enverr.PhaseMake, enverr.KindMissingOption).Env(GuessNumberName).
			Detail("neither %s nor %s were specified", OptionNumBits, OptionN).Build()
	}

	var rng *rand.Rand
	if p.Seen(OptionSeed) {
		rng = rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
	} else {
		rng = l.newRand()
	}

	e := &guessNumberEnv{
		id:        "guess-number-" + uuid.New().String(),
		n:         numEnvs,
		workers:   workers,
		rng:       rng,
		instances: make([]guessInstance, numEnvs),
		pipe:      NewPipeline(GuessNumberName),
	}
	for i := range e.instances {
		inst := &e.instances[i]
		if ns != nil {
			inst.numBits = suppliedBits
			inst.bits = bitsOf(ns[i])
		} else {
			inst.numBits = numBits
			inst.randomBits = true
		}
	}
	return e, nil
}

// guessNumberEnv runs N independent bit-guessing games.
type guessNumberEnv struct {
	id        string
	n         int
	workers   int
	rng       *rand.Rand
	instances []guessInstance
	pipe      *Pipeline
}

func (e *guessNumberEnv) ID() string   { return e.id }
func (e *guessNumberEnv) Name() string { return GuessNumberName }
func (e *guessNumberEnv) NumEnvs() int { return e.n }

func (e *guessNumberEnv) Spaces(role space.Role) space.List {
	return guessNumberSpaces.get(role)
}

func (e *guessNumberEnv) Reset(step *buffer.Step) error {
	if err := e.checkStep(step); err != nil {
		return err
	}
	for i := range e.instances {
		inst := &e.instances[i]
		inst.reset(e.rng)
		buffer.View[float32](step.Obs.At(0, i, e.n))[0] = inst.observation()
		step.Rews[i] = 0
		step.Dones[i] = false
	}
	return nil
}

func (e *guessNumberEnv) StepAsync(acts buffer.Regions, step *buffer.Step) error {
	if err := buffer.CheckRegions(GuessNumberName, "action", acts, guessNumberSpaces[space.Action], e.n); err != nil {
		return err
	}
	if err := e.checkStep(step); err != nil {
		return err
	}
	return e.pipe.Begin(acts, step)
}

func (e *guessNumberEnv) StepWait() error {
	return e.pipe.Await(func(acts buffer.Regions, step *buffer.Step) error {
		for i := range e.instances {
			if err := e.instances[i].check(i); err != nil {
				return err
			}
		}
		return ForEach(context.Background(), e.n, e.workers, func(i int) error {
			inst := &e.instances[i]
			rew, done := inst.advance(acts.At(0, i, e.n)[0])
			if done {
				inst.autoReset()
			}
			step.Rews[i] = rew
			step.Dones[i] = done
			buffer.View[float32](step.Obs.At(0, i, e.n))[0] = inst.observation()
			return nil
		})
	})
}

// Render has no render spaces to write; every mode succeeds.
func (e *guessNumberEnv) Render(string, buffer.Regions) (bool, error) {
	return true, nil
}

func (e *guessNumberEnv) Close() error {
	e.pipe.Abort()
	e.instances = nil
	Logger().Debug("guess-number closed", zap.String("id", e.id))
	return nil
}

func (e *guessNumberEnv) checkStep(step *buffer.Step) error {
	return buffer.CheckShape(GuessNumberName, step, guessNumberSpaces[space.Observation], nil, e.n)
}
