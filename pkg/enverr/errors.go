// Package enverr defines the structured errors returned across the vecenv
// contract. Configuration and usage errors are unrecoverable: the host decides
// whether to abort, but retrying the same call will not succeed.
package enverr

import (
	"errors"
	"fmt"
	"strings"
)

// Phase indicates which contract call produced the error
type Phase string

const (
	PhaseLoad   Phase = "load"
	PhaseMake   Phase = "make"
	PhaseReset  Phase = "reset"
	PhaseStep   Phase = "step"
	PhaseRender Phase = "render"
	PhaseLayout Phase = "layout"
)

// Kind categorizes the error
type Kind string

const (
	KindUnknownOption     Kind = "unknown_option"
	KindConflictingOption Kind = "conflicting_option"
	KindMissingOption     Kind = "missing_option"
	KindOptionType        Kind = "option_type"
	KindOptionCount       Kind = "option_count"
	KindOptionValue       Kind = "option_value"
	KindNotReset          Kind = "not_reset"
	KindEpisodeOverrun    Kind = "episode_overrun"
	KindPipelineState     Kind = "pipeline_state"
	KindMisaligned        Kind = "misaligned"
	KindBufferShape       Kind = "buffer_shape"
	KindInvalidSpace      Kind = "invalid_space"
	KindUnknownEnv        Kind = "unknown_env"
)

// Class groups kinds by how a host is expected to react to them.
type Class string

const (
	ClassConfig Class = "config"
	ClassUsage  Class = "usage"
	ClassLookup Class = "lookup"
)

// Error is the structured error type used throughout vecenv.
type Error struct {
	Cause    error
	Phase    Phase
	Kind     Kind
	Env      string
	Option   string
	Instance int // -1 when the error is not tied to one instance
	Detail   string
}

func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Env != "" {
		b.WriteString(" env=")
		b.WriteString(e.Env)
	}
	if e.Option != "" {
		b.WriteString(" option=")
		b.WriteString(e.Option)
	}
	if e.Instance >= 0 {
		fmt.Fprintf(&b, " instance=%d", e.Instance)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. A target with an empty
// phase matches on kind alone, which is how the sentinels below work.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase != "" && t.Phase != e.Phase {
		return false
	}
	return e.Kind == t.Kind
}

// Class returns the taxonomy class of the error kind.
func (e *Error) Class() Class {
	return classOf(e.Kind)
}

func classOf(k Kind) Class {
	switch k {
	case KindUnknownOption, KindConflictingOption, KindMissingOption,
		KindOptionType, KindOptionCount, KindOptionValue:
		return ClassConfig
	case KindUnknownEnv:
		return ClassLookup
	default:
		return ClassUsage
	}
}

// Sentinels for errors.Is matching on kind.
var (
	ErrUnknownOption     = &Error{Kind: KindUnknownOption, Instance: -1}
	ErrConflictingOption = &Error{Kind: KindConflictingOption, Instance: -1}
	ErrMissingOption     = &Error{Kind: KindMissingOption, Instance: -1}
	ErrOptionType        = &Error{Kind: KindOptionType, Instance: -1}
	ErrOptionCount       = &Error{Kind: KindOptionCount, Instance: -1}
	ErrOptionValue       = &Error{Kind: KindOptionValue, Instance: -1}
	ErrNotReset          = &Error{Kind: KindNotReset, Instance: -1}
	ErrEpisodeOverrun    = &Error{Kind: KindEpisodeOverrun, Instance: -1}
	ErrPipelineState     = &Error{Kind: KindPipelineState, Instance: -1}
	ErrMisaligned        = &Error{Kind: KindMisaligned, Instance: -1}
	ErrBufferShape       = &Error{Kind: KindBufferShape, Instance: -1}
	ErrInvalidSpace      = &Error{Kind: KindInvalidSpace, Instance: -1}
	ErrUnknownEnv        = &Error{Kind: KindUnknownEnv, Instance: -1}
)

// IsConfig reports whether err is a configuration error detected at make time.
func IsConfig(err error) bool {
	return hasClass(err, ClassConfig)
}

// IsUsage reports whether err is a usage error detected during reset/step/render.
func IsUsage(err error) bool {
	return hasClass(err, ClassUsage)
}

// IsFatal reports whether err belongs to a class the contract treats as
// unrecoverable. Lookup errors are not fatal: the host may try another name.
func IsFatal(err error) bool {
	return IsConfig(err) || IsUsage(err)
}

func hasClass(err error, c Class) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Class() == c
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New starts a builder for the given phase and kind.
func New(phase Phase, kind Kind) *Builder {
	return &Builder{err: Error{Phase: phase, Kind: kind, Instance: -1}}
}

func (b *Builder) Env(name string) *Builder {
	b.err.Env = name
	return b
}

func (b *Builder) Option(name string) *Builder {
	b.err.Option = name
	return b
}

func (b *Builder) Instance(i int) *Builder {
	b.err.Instance = i
	return b
}

func (b *Builder) Detail(format string, args ...any) *Builder {
	b.err.Detail = fmt.Sprintf(format, args...)
	return b
}

func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

func (b *Builder) Build() *Error {
	e := b.err
	return &e
}

// UnknownOption is the configuration error for an option name an
// environment does not recognize.
func UnknownOption(env, name string) *Error {
	return New(PhaseMake, KindUnknownOption).Env(env).Option(name).
		Detail("unrecognized option %s", name).Build()
}

// NotReset is the usage error for stepping an instance before any reset.
func NotReset(env string, instance int) *Error {
	return New(PhaseStep, KindNotReset).Env(env).Instance(instance).
		Detail("environment not reset before initial use").Build()
}

// PipelineState is the usage error for begin/await calls made out of order.
func PipelineState(env, detail string) *Error {
	return New(PhaseStep, KindPipelineState).Env(env).Detail("%s", detail).Build()
}
