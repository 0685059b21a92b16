// Package space describes the typed, shaped quantities exchanged between a
// host and a batched environment: observations, actions, infos and rendered
// frames.
package space

import (
	"fmt"
	"slices"
)

// MaxDims bounds the number of dimensions a space may declare.
const MaxDims = 16

// MaxNameLen bounds the length of a space name.
const MaxNameLen = 128

// Kind distinguishes continuous boxes from discrete ranges.
type Kind int

const (
	Box Kind = iota
	Discrete
)

func (k Kind) String() string {
	switch k {
	case Box:
		return "box"
	case Discrete:
		return "discrete"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Role names one of the four space lists an environment publishes.
type Role int

const (
	Observation Role = iota
	Action
	Info
	Render
)

// Roles returns every role in declaration order.
func Roles() []Role {
	return []Role{Observation, Action, Info, Render}
}

func (r Role) String() string {
	switch r {
	case Observation:
		return "observation"
	case Action:
		return "action"
	case Info:
		return "info"
	case Render:
		return "render"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// ParseRole is the inverse of Role.String.
func ParseRole(s string) (Role, error) {
	for _, r := range Roles() {
		if r.String() == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown space role %q", s)
}

// Space is a named tensor-like quantity. Its element type is carried by its
// bounds, so the two can never disagree.
type Space struct {
	Name   string
	Kind   Kind
	Shape  []int
	Bounds Bounds
}

// DType returns the element type of the space.
func (s Space) DType() DType {
	if s.Bounds == nil {
		return invalidDType
	}
	return s.Bounds.DType()
}

// Count returns the number of elements per instance.
func (s Space) Count() int {
	if len(s.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range s.Shape {
		n *= d
	}
	return n
}

// ByteSize returns the size of one instance's region in bytes.
func (s Space) ByteSize() int {
	return s.Count() * s.DType().Size()
}

// Clone returns a deep copy that shares no memory with s.
func (s Space) Clone() Space {
	s.Shape = slices.Clone(s.Shape)
	return s
}

// Equal reports whether two descriptors are identical in every attribute.
func (s Space) Equal(o Space) bool {
	if s.Name != o.Name || s.Kind != o.Kind || !slices.Equal(s.Shape, o.Shape) {
		return false
	}
	if s.Bounds == nil || o.Bounds == nil {
		return s.Bounds == nil && o.Bounds == nil
	}
	return s.Bounds.equal(o.Bounds)
}

func (s Space) String() string {
	return fmt.Sprintf("%s %s %s%v %s", s.Name, s.Kind, s.DType(), s.Shape, s.Bounds)
}

// Validate checks the descriptor invariants.
func (s Space) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("space name is required")
	}
	if len(s.Name) > MaxNameLen {
		return fmt.Errorf("space %s: name longer than %d bytes", s.Name, MaxNameLen)
	}
	if s.Kind != Box && s.Kind != Discrete {
		return fmt.Errorf("space %s: unknown kind %s", s.Name, s.Kind)
	}
	if len(s.Shape) == 0 || len(s.Shape) > MaxDims {
		return fmt.Errorf("space %s: shape must have 1..%d dimensions, got %d", s.Name, MaxDims, len(s.Shape))
	}
	for i, d := range s.Shape {
		if d <= 0 {
			return fmt.Errorf("space %s: dimension %d must be positive, got %d", s.Name, i, d)
		}
	}
	if s.Bounds == nil {
		return fmt.Errorf("space %s: bounds are required", s.Name)
	}
	if !s.Bounds.ordered() {
		return fmt.Errorf("space %s: low exceeds high in %s", s.Name, s.Bounds)
	}
	return nil
}

// List is the ordered set of spaces published for one role.
type List []Space

// Validate checks every space and that names are unique within the list.
func (l List) Validate() error {
	seen := make(map[string]struct{}, len(l))
	for _, s := range l {
		if err := s.Validate(); err != nil {
			return err
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("duplicate space name %s", s.Name)
		}
		seen[s.Name] = struct{}{}
	}
	return nil
}

// Clone deep-copies the list.
func (l List) Clone() List {
	if l == nil {
		return nil
	}
	out := make(List, len(l))
	for i, s := range l {
		out[i] = s.Clone()
	}
	return out
}

// Lookup returns the index of the named space, or -1.
func (l List) Lookup(name string) int {
	for i, s := range l {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// Equal reports whether both lists hold identical descriptors in the same order.
func (l List) Equal(o List) bool {
	return slices.EqualFunc(l, o, Space.Equal)
}
