// Package buffer implements the batched buffer layout shared by hosts and
// environments.
//
// For a space list S_0..S_{k-1} and batch size N, the region for space s and
// instance i lives at Index(s, i, N) = s*N + i and holds Count(S_s) elements
// in row-major order. Hosts own every region; environments only write into
// the regions they are handed.
//
// Alloc places the N regions of one space back to back in a single block
// whose base is aligned to Alignment bytes. Instance 0 is therefore always
// aligned, but later instances are aligned only when the space's byte size is
// itself a multiple of Alignment. This is a documented property of the layout,
// not something environments try to repair.
package buffer

import (
	"unsafe"

	"github.com/boristopalov/vecenv/pkg/enverr"
	"github.com/boristopalov/vecenv/pkg/space"
)

// Alignment is the byte boundary hosts must honor for region, reward and done
// base addresses.
const Alignment = 64

// Index returns the flat slot of space s for instance i in a batch of n.
func Index(s, i, n int) int {
	return s*n + i
}

// Len returns the number of regions needed for numSpaces spaces and n instances.
func Len(numSpaces, n int) int {
	return numSpaces * n
}

// Regions holds one byte region per (space, instance), addressed by Index.
type Regions [][]byte

// At returns the region for space s and instance i.
func (r Regions) At(s, i, n int) []byte {
	return r[Index(s, i, n)]
}

// Step is the set of host-owned buffers an environment writes a batch into.
type Step struct {
	Obs   Regions
	Rews  []float32
	Dones []bool
	Infos Regions
}

// NewStep allocates aligned step buffers for the given observation and info
// spaces.
func NewStep(obs, info space.List, n int) *Step {
	return &Step{
		Obs:   Alloc(obs, n),
		Rews:  View[float32](alignedBytes(n * 4)),
		Dones: unsafe.Slice((*bool)(unsafe.Pointer(unsafe.SliceData(alignedBytes(n)))), n),
		Infos: Alloc(info, n),
	}
}

// Alloc allocates one aligned block per space and slices it into n regions.
func Alloc(list space.List, n int) Regions {
	out := make(Regions, Len(len(list), n))
	for s, sp := range list {
		size := sp.ByteSize()
		block := alignedBytes(size * n)
		for i := 0; i < n; i++ {
			off := i * size
			out[Index(s, i, n)] = block[off : off+size : off+size]
		}
	}
	return out
}

// alignedBytes returns a zeroed slice of size bytes whose first element sits
// on an Alignment boundary.
func alignedBytes(size int) []byte {
	if size == 0 {
		return []byte{}
	}
	raw := make([]byte, size+Alignment-1)
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(raw)))
	off := int((Alignment - addr%Alignment) % Alignment)
	return raw[off : off+size : off+size]
}

// IsAligned reports whether p sits on an Alignment boundary.
func IsAligned(p unsafe.Pointer) bool {
	return uintptr(p)%Alignment == 0
}

// IsAlignedSlice reports whether the first element of s sits on an Alignment
// boundary.
func IsAlignedSlice[T any](s []T) bool {
	return IsAligned(unsafe.Pointer(unsafe.SliceData(s)))
}

// View reinterprets a region as a slice of T. The region length must be a
// multiple of the element size; any remainder is dropped.
func View[T space.Element](region []byte) []T {
	var zero T
	n := len(region) / int(unsafe.Sizeof(zero))
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(region))), n)
}

// Elems returns the first count elements of region as T. Regions may be
// longer than the space they carry; writes through Elems never touch the
// remainder.
func Elems[T space.Element](region []byte, count int) []T {
	v := View[T](region)
	if count < len(v) {
		v = v[:count:count]
	}
	return v
}

// CheckAligned verifies the alignment of instance 0 of every space and of the
// reward and done arrays. It reports misalignment; it never corrects it.
func CheckAligned(env string, st *Step, numObs, numInfo, n int) error {
	check := func(what string, p unsafe.Pointer) error {
		if IsAligned(p) {
			return nil
		}
		return enverr.New(enverr.PhaseLayout, enverr.KindMisaligned).Env(env).Instance(0).
			Detail("%s at %#x is not %d-byte aligned", what, uintptr(p), Alignment).Build()
	}
	for s := 0; s < numObs; s++ {
		if err := check("observation region", unsafe.Pointer(unsafe.SliceData(st.Obs[Index(s, 0, n)]))); err != nil {
			return err
		}
	}
	for s := 0; s < numInfo; s++ {
		if err := check("info region", unsafe.Pointer(unsafe.SliceData(st.Infos[Index(s, 0, n)]))); err != nil {
			return err
		}
	}
	if err := check("reward array", unsafe.Pointer(unsafe.SliceData(st.Rews))); err != nil {
		return err
	}
	return check("done array", unsafe.Pointer(unsafe.SliceData(st.Dones)))
}

// CheckShape verifies that a step carries enough correctly sized regions for
// the given spaces and batch size.
func CheckShape(env string, st *Step, obs, info space.List, n int) error {
	if st == nil {
		return enverr.New(enverr.PhaseLayout, enverr.KindBufferShape).Env(env).Detail("nil step buffers").Build()
	}
	if err := CheckRegions(env, "observation", st.Obs, obs, n); err != nil {
		return err
	}
	if err := CheckRegions(env, "info", st.Infos, info, n); err != nil {
		return err
	}
	if len(st.Rews) < n || len(st.Dones) < n {
		return enverr.New(enverr.PhaseLayout, enverr.KindBufferShape).Env(env).
			Detail("need %d reward/done slots, got %d/%d", n, len(st.Rews), len(st.Dones)).Build()
	}
	return nil
}

// CheckRegions verifies region count and per-region byte size.
func CheckRegions(env, what string, r Regions, list space.List, n int) error {
	if len(r) < Len(len(list), n) {
		return enverr.New(enverr.PhaseLayout, enverr.KindBufferShape).Env(env).
			Detail("need %d %s regions, got %d", Len(len(list), n), what, len(r)).Build()
	}
	for s, sp := range list {
		for i := 0; i < n; i++ {
			if got := len(r[Index(s, i, n)]); got < sp.ByteSize() {
				return enverr.New(enverr.PhaseLayout, enverr.KindBufferShape).Env(env).Instance(i).
					Detail("%s region %s holds %d bytes, need %d", what, sp.Name, got, sp.ByteSize()).Build()
			}
		}
	}
	return nil
}
