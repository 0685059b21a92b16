package environment

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/boristopalov/vecenv/pkg/enverr"
	"github.com/boristopalov/vecenv/pkg/option"
	"github.com/boristopalov/vecenv/pkg/space"
)

// Library is an environment implementation the host can load, make
// instance sets from, and unload.
type Library interface {
	Name() string
	// Load performs process-wide one-time initialization.
	Load()
	// Make creates an instance set of numEnvs instances. Unknown, conflicting
	// or missing options fail the whole call; nothing is half-constructed.
	Make(numEnvs int, opts option.Set) (VecEnv, error)
	// Unload performs process-wide teardown.
	Unload()
}

type libraryEntry struct {
	lib    Library
	mu     sync.Mutex
	loaded bool
}

// Registry maps library names to implementations and tracks live instance
// sets so hosts can verify that Close released them.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*libraryEntry
	live    atomic.Int64
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*libraryEntry)}
}

// Default is the process-wide registry the exemplar environments register into.
var Default = NewRegistry()

// Register adds lib to the default registry. It panics on a duplicate name,
// which can only happen at init time.
func Register(lib Library) {
	if err := Default.Register(lib); err != nil {
		panic(err)
	}
}

// Open loads the named library from the default registry.
func Open(name string) (*Handle, error) {
	return Default.Open(name)
}

// Register adds lib to r.
func (r *Registry) Register(lib Library) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[lib.Name()]; exists {
		return fmt.Errorf("environment %s is already registered", lib.Name())
	}
	r.entries[lib.Name()] = &libraryEntry{lib: lib}
	return nil
}

// Names returns the registered library names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the library registered under name.
func (r *Registry) Lookup(name string) (Library, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.lib, true
}

// Live returns the number of instance sets made and not yet closed.
func (r *Registry) Live() int {
	return int(r.live.Load())
}

func (r *Registry) entry(name string) (*libraryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return nil, enverr.New(enverr.PhaseLoad, enverr.KindUnknownEnv).Env(name).
			Detail("no environment named %s", name).Build()
	}
	return e, nil
}

// Open loads the named library once and returns a handle to it.
func (r *Registry) Open(name string) (*Handle, error) {
	e, err := r.entry(name)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		e.lib.Load()
		e.loaded = true
		Logger().Debug("environment loaded", zap.String("env", name))
	}
	return &Handle{reg: r, entry: e}, nil
}

// Unload tears the named library down. A later Open loads it again.
func (r *Registry) Unload(name string) error {
	e, err := r.entry(name)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded {
		e.lib.Unload()
		e.loaded = false
		Logger().Debug("environment unloaded", zap.String("env", name))
	}
	return nil
}

// Handle is a loaded library.
type Handle struct {
	reg   *Registry
	entry *libraryEntry
}

// Name returns the library name.
func (h *Handle) Name() string {
	return h.entry.lib.Name()
}

// Make creates an instance set and validates the spaces it publishes.
func (h *Handle) Make(numEnvs int, opts option.Set) (VecEnv, error) {
	name := h.Name()
	if numEnvs < 1 {
		return nil, enverr.New(enverr.PhaseMake, enverr.KindOptionValue).Env(name).
			Detail("batch size must be at least 1, got %d", numEnvs).Build()
	}

	env, err := h.entry.lib.Make(numEnvs, opts)
	if err != nil {
		return nil, err
	}
	if err := validateSpaces(env); err != nil {
		_ = env.Close()
		return nil, enverr.New(enverr.PhaseMake, enverr.KindInvalidSpace).Env(name).Cause(err).Build()
	}

	h.reg.live.Add(1)
	Logger().Debug("instance set made",
		zap.String("env", name),
		zap.String("id", env.ID()),
		zap.Int("num_envs", numEnvs),
		zap.Strings("options", opts.Names()),
	)
	return &tracked{VecEnv: env, reg: h.reg}, nil
}

func validateSpaces(env VecEnv) error {
	var t spaceTable
	for _, role := range space.Roles() {
		t[role] = env.Spaces(role)
	}
	return t.validate()
}

// tracked decrements the registry's live count when the instance set closes.
type tracked struct {
	VecEnv
	reg    *Registry
	closed atomic.Bool
}

func (t *tracked) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.reg.live.Add(-1)
	Logger().Debug("instance set closed", zap.String("env", t.Name()), zap.String("id", t.ID()))
	return t.VecEnv.Close()
}
