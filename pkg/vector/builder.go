package vector

import (
	"fmt"
)

// Builder maintains the current state of every declared pin and mints
// vectors from it. Drivers assign pin states through Set and snapshot them
// with Vector; a pin keeps its state between vectors until reassigned.
//
// The builder is mutable state owned by the generating pipeline and is not
// safe for concurrent use.
type Builder struct {
	pins       Pins
	byPhysical map[string]string // physical name -> logical name
	state      map[string]State
}

// NewBuilder creates a builder for the given pin declarations with every pin
// at its default state.
func NewBuilder(pins Pins) *Builder {
	b := &Builder{
		pins:       pins,
		byPhysical: make(map[string]string, len(pins)),
		state:      make(map[string]State, len(pins)),
	}
	for logical, decl := range pins {
		b.byPhysical[decl.Physical] = logical
	}
	b.Init()
	return b
}

// Init resets every pin to its declared default state.
func (b *Builder) Init() {
	for logical, decl := range b.pins {
		b.state[logical] = decl.Default
	}
}

// Pins returns the pin declarations the builder was created with.
func (b *Builder) Pins() Pins { return b.pins }

// Set assigns a state to a pin, addressed by logical or physical name.
func (b *Builder) Set(name string, s State) error {
	if !s.Valid() {
		return &InvalidStateError{State: s}
	}
	if _, ok := b.state[name]; ok {
		b.state[name] = s
		return nil
	}
	if logical, ok := b.byPhysical[name]; ok {
		b.state[logical] = s
		return nil
	}
	return &UnknownPinError{Name: name}
}

// Get returns the current state of a pin, addressed by logical or physical
// name.
func (b *Builder) Get(name string) (State, error) {
	if s, ok := b.state[name]; ok {
		return s, nil
	}
	if logical, ok := b.byPhysical[name]; ok {
		return b.state[logical], nil
	}
	return 0, &UnknownPinError{Name: name}
}

// Vector snapshots the current pin state into a normal vector. The snapshot
// is a deep copy: mutating the builder afterwards does not affect vectors
// already minted.
func (b *Builder) Vector(repeat uint, comment string) Normal {
	if repeat == 0 {
		repeat = 1
	}
	state := make(map[string]State, len(b.state))
	for pin, s := range b.state {
		state[pin] = s
	}
	return Normal{State: state, Repeat: repeat, Comment: comment}
}

// Vectors returns count copies of the current pin state as one vector each.
func (b *Builder) Vectors(count int) []Vector {
	out := make([]Vector, count)
	for i := range out {
		out[i] = b.Vector(1, "")
	}
	return out
}

// NewLoop wraps body into a loop vector. Matched loops inside loop bodies
// are undefined on the tester sequencer and rejected here.
func (b *Builder) NewLoop(body []Vector, repeat uint) (Loop, error) {
	if repeat < 1 {
		return Loop{}, fmt.Errorf("loop repeat must be at least 1: %w", ErrShape)
	}
	if containsMatchedLoop(body) {
		return Loop{}, fmt.Errorf("matched loop inside loop body: %w", ErrShape)
	}
	return Loop{Body: body, Repeat: repeat}, nil
}

// NewMatchedLoop wraps condition and idle vectors into a matched loop. Both
// sides must be a positive multiple of eight vectors long so the tester
// sequencer can reconstruct the timing.
func (b *Builder) NewMatchedLoop(condition, idle []Normal, retries uint) (MatchedLoop, error) {
	if retries < 1 {
		return MatchedLoop{}, fmt.Errorf("matched loop retries must be at least 1: %w", ErrShape)
	}
	if len(condition) == 0 || len(condition)%8 != 0 {
		return MatchedLoop{}, fmt.Errorf("matched loop condition length %d is not a positive multiple of 8: %w", len(condition), ErrShape)
	}
	if len(idle) == 0 || len(idle)%8 != 0 {
		return MatchedLoop{}, fmt.Errorf("matched loop idle length %d is not a positive multiple of 8: %w", len(idle), ErrShape)
	}
	return MatchedLoop{Condition: condition, Idle: idle, Retries: retries}, nil
}

func containsMatchedLoop(vectors []Vector) bool {
	for _, v := range vectors {
		switch v := v.(type) {
		case MatchedLoop:
			return true
		case Loop:
			if containsMatchedLoop(v.Body) {
				return true
			}
		}
	}
	return false
}

// Pad appends the padding vector to vectors until the length is a multiple
// of eight. If the length already is a multiple, eight copies are appended;
// callers rely on at least one padding vector being present.
func Pad(vectors []Vector, padding Normal) []Vector {
	n := 8 - len(vectors)%8
	for i := 0; i < n; i++ {
		vectors = append(vectors, padding)
	}
	return vectors
}

// PadNormals is Pad for homogeneous normal vector sequences, as used for
// matched loop sides.
func PadNormals(vectors []Normal, padding Normal) []Normal {
	n := 8 - len(vectors)%8
	for i := 0; i < n; i++ {
		vectors = append(vectors, padding)
	}
	return vectors
}

// Compress folds runs of adjacent normal vectors with identical pin state
// and identical comment into a single vector by summing their repeat counts.
// Loop bodies are compressed recursively; matched loops are left untouched.
// Relative order is preserved.
func Compress(vectors []Vector) []Vector {
	out := make([]Vector, 0, len(vectors))
	var pending *Normal
	flush := func() {
		if pending != nil {
			out = append(out, *pending)
			pending = nil
		}
	}
	for _, v := range vectors {
		switch v := v.(type) {
		case Normal:
			if pending != nil && pending.StateEqual(v) && pending.Comment == v.Comment {
				pending.Repeat += v.Repeat
				continue
			}
			flush()
			cp := v
			pending = &cp
		case Loop:
			flush()
			out = append(out, Loop{Body: Compress(v.Body), Repeat: v.Repeat})
		default:
			flush()
			out = append(out, v)
		}
	}
	flush()
	return out
}

// Writer is the sink consuming typed vector streams. Concrete sinks are the
// AVC file writer and the simulation driver.
type Writer interface {
	WriteVectors(vectors []Vector, compress bool) error
	Close() error
}
