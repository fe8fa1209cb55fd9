// Package jtag drives the JTAG TAP controller state machine of a chain of
// TAPs and serializes IR/DR accesses into stimuli vectors.
//
// Data order contract: every public API accepts register values as binary
// strings in MSB-first human order. The conversion to LSB-first shift order
// happens exactly once, inside SetIR/SetDR; layers above must never reverse
// bits themselves.
package jtag

import (
	"fmt"
	"strings"

	"github.com/pulp-platform/dumpling/pkg/bits"
	"github.com/pulp-platform/dumpling/pkg/vector"
)

// The logical pin names the driver requires from the vector builder.
var jtagPins = []string{"tck", "tms", "tdi", "tdo", "trst"}

// Register describes one JTAG data register of a TAP: its IR selection
// pattern, DR length and an optional expected default value (e.g. IDCODE).
type Register struct {
	Name    string
	IRValue string // binary string, IR-length bits, MSB-first
	DRLen   int
	Default string // binary string or "" when the register has no known reset value
}

// Tap is one TAP controller in the chain. Every TAP implicitly contains the
// BYPASS register with an all-ones IR pattern and a single bypass bit.
type Tap struct {
	Name      string
	IRLen     int
	Registers []*Register
	Bypass    *Register
}

// NewTap creates a TAP with the given IR length and its BYPASS register.
func NewTap(name string, irLen int) *Tap {
	t := &Tap{Name: name, IRLen: irLen}
	t.Bypass = t.AddRegister("BYPASS", strings.Repeat("1", irLen), 1, "")
	return t
}

// AddRegister declares a register on the TAP and returns it.
func (t *Tap) AddRegister(name, irValue string, drLen int, defaultValue string) *Register {
	r := &Register{Name: name, IRValue: irValue, DRLen: drLen, Default: defaultValue}
	t.Registers = append(t.Registers, r)
	return r
}

// HasRegister reports whether reg belongs to this TAP.
func (t *Tap) HasRegister(reg *Register) bool {
	for _, r := range t.Registers {
		if r == reg {
			return true
		}
	}
	return false
}

// Driver owns the TAP chain and the vector builder it records pin wiggles
// into. Chain index 0 is the TAP closest to TDI, i.e. the one whose bits
// are shifted last.
type Driver struct {
	Builder *vector.Builder
	Chain   []*Tap
}

// NewDriver creates a driver over the given builder. The builder must
// declare the five JTAG pins (tck, tms, tdi, tdo, trst) as logical names.
func NewDriver(builder *vector.Builder) (*Driver, error) {
	for _, pin := range jtagPins {
		if _, err := builder.Get(pin); err != nil {
			return nil, fmt.Errorf("vector builder does not declare JTAG pin %q: %w", pin, err)
		}
	}
	return &Driver{Builder: builder}, nil
}

// AddTap appends a TAP to the chain. TAPs must be added in the order the
// TDI signal passes through them: the first-added TAP sits at index 0,
// closest to TDI, and receives its bits last during a shift.
func (d *Driver) AddTap(t *Tap) {
	d.Chain = append(d.Chain, t)
}

// TapIndex returns the chain position of a TAP, or -1 when it is not part
// of the chain.
func (d *Driver) TapIndex(t *Tap) int {
	for i, elem := range d.Chain {
		if elem == t {
			return i
		}
	}
	return -1
}

// set assigns a JTAG pin state. The pins were validated in NewDriver, so a
// failure here is a programming error.
func (d *Driver) set(pin string, s vector.State) {
	if err := d.Builder.Set(pin, s); err != nil {
		panic(err)
	}
}

// SetDefaults drives all JTAG pins to their idle states: TCK low, TRST
// deasserted, TMS low, TDI low, TDO not compared.
func (d *Driver) SetDefaults() {
	d.set("tck", vector.Low)
	d.set("trst", vector.High)
	d.set("tms", vector.Low)
	d.set("tdi", vector.Low)
	d.set("tdo", vector.DontCare)
}

// IdleVector returns a single vector with all JTAG pins idle.
func (d *Driver) IdleVector(repeat uint, comment string) vector.Normal {
	d.SetDefaults()
	return d.Builder.Vector(repeat, comment)
}

// IdleVectors returns count idle vectors of one cycle each.
func (d *Driver) IdleVectors(count int) []vector.Vector {
	out := make([]vector.Vector, count)
	for i := range out {
		out[i] = d.IdleVector(1, "")
	}
	return out
}

// IdleNormals is IdleVectors typed for matched loop construction.
func (d *Driver) IdleNormals(count int) []vector.Normal {
	out := make([]vector.Normal, count)
	for i := range out {
		out[i] = d.IdleVector(1, "")
	}
	return out
}

// Reset asserts TRST for ten cycles, then releases it and clocks TCK with
// TMS low for another ten cycles so every TAP settles in Run-Test/Idle.
func (d *Driver) Reset() []vector.Vector {
	var vectors []vector.Vector
	d.SetDefaults()
	d.set("trst", vector.Low)
	vectors = append(vectors, d.Builder.Vector(1, "JTAG Reset"))
	vectors = append(vectors, d.Builder.Vectors(9)...)
	d.set("trst", vector.High)
	d.set("tck", vector.High)
	d.set("tms", vector.Low)
	vectors = append(vectors, d.Builder.Vectors(10)...)
	return vectors
}

// GotoShiftDR traverses the TAP FSM from Run-Test/Idle to Shift-DR.
func (d *Driver) GotoShiftDR(comment string) []vector.Vector {
	var vectors []vector.Vector
	d.SetDefaults()
	// TMS and TDI always change one cycle before the clock edge that samples them.
	d.set("tms", vector.High)
	d.set("tck", vector.Low)
	vectors = append(vectors, d.Builder.Vector(1, comment))
	d.set("tck", vector.High)
	d.set("tms", vector.Low)
	vectors = append(vectors, d.Builder.Vector(1, ""))
	vectors = append(vectors, d.Builder.Vector(1, "Goto shift DR"))
	return vectors
}

// GotoShiftIR traverses the TAP FSM from Run-Test/Idle to Shift-IR.
func (d *Driver) GotoShiftIR(comment string) []vector.Vector {
	var vectors []vector.Vector
	d.SetDefaults()
	d.set("tms", vector.High)
	d.set("tck", vector.Low)
	vectors = append(vectors, d.Builder.Vector(1, comment))
	d.set("tck", vector.High)
	vectors = append(vectors, d.Builder.Vector(1, ""))
	d.set("tms", vector.Low)
	vectors = append(vectors, d.Builder.Vector(1, ""))
	vectors = append(vectors, d.Builder.Vector(1, "Goto shift IR"))
	return vectors
}

// Shift clocks len(chain) shift cycles. The chain string is in shift order:
// chain[0] is driven on TDI first. The expected string, when non-empty and
// not all don't-care, is compared bit by bit on TDO. On the last cycle TMS
// is pre-driven high to leave the shift state unless noexit is set; the exit
// path traverses Exit1 and Update back to Run-Test/Idle.
func (d *Driver) Shift(chain, expected, comment string, noexit bool) []vector.Vector {
	d.SetDefaults()
	d.set("tck", vector.High)
	d.set("tms", vector.Low)
	expected = strings.ToUpper(expected)
	compare := expected != "" && strings.ContainsFunc(expected, func(r rune) bool { return r != 'X' })
	var vectors []vector.Vector
	prefix := comment + "/Start shifting. "
	for i := 0; i < len(chain); i++ {
		d.set("tdi", vector.State(chain[i]))
		cycleComment := prefix + fmt.Sprintf("Shift bit %c", chain[i])
		if compare {
			d.set("tdo", vector.State(expected[i]))
			cycleComment += fmt.Sprintf(" expecting tdo %c", expected[i])
		}
		if i == len(chain)-1 && !noexit {
			d.set("tms", vector.High)
		}
		vectors = append(vectors, d.Builder.Vector(1, cycleComment))
		prefix = "" // Only annotate the first shift cycle.
	}
	if !noexit {
		vectors = append(vectors, d.Builder.Vector(1, "goto Update DR/IR"))
		d.set("tms", vector.Low)
		vectors = append(vectors, d.Builder.Vector(1, "goto run test idle"))
		vectors = append(vectors, d.Builder.Vector(1, "idle"))
	}
	return vectors
}

// SetIR shifts irValue (MSB-first) into the IR of tap while loading the
// BYPASS pattern into every other TAP of the chain.
func (d *Driver) SetIR(tap *Tap, irValue, comment string) []vector.Vector {
	comment += fmt.Sprintf("/Set IR of tap %s to [%s]", tap.Name, prettyBin(irValue))
	vectors := d.GotoShiftIR(comment)
	// Bits for the TAP farthest from TDI go first; the chain is walked from
	// the top so index 0 is shifted last.
	var chain strings.Builder
	for i := len(d.Chain) - 1; i >= 0; i-- {
		if d.Chain[i] == tap {
			chain.WriteString(reverse(irValue))
		} else {
			chain.WriteString(reverse(d.Chain[i].Bypass.IRValue))
		}
	}
	return append(vectors, d.Shift(chain.String(), "", comment, false)...)
}

// SetDR shifts drValue (MSB-first) into the DR of tap. All other TAPs are
// assumed to sit in BYPASS and contribute one zero bit each. When expected
// is non-empty the shifted-out DR bits are compared against it.
func (d *Driver) SetDR(tap *Tap, drValue, expected, comment string, noexit bool) []vector.Vector {
	comment += fmt.Sprintf("/Set DR of tap %s to [%s]", tap.Name, prettyBin(drValue))
	if expected != "" && strings.ContainsAny(expected, "01LH") {
		comment += fmt.Sprintf(" expecting to read %s", expected)
	}
	vectors := d.GotoShiftDR(comment)
	var chain, expectedChain strings.Builder
	for i := len(d.Chain) - 1; i >= 0; i-- {
		if d.Chain[i] == tap {
			chain.WriteString(reverse(drValue))
		} else {
			chain.WriteString("0")
		}
	}
	if expected != "" {
		for i := len(d.Chain) - 1; i >= 0; i-- {
			if d.Chain[i] == tap {
				expectedChain.WriteString(reverse(expected))
			} else {
				expectedChain.WriteString("X")
			}
		}
	}
	return append(vectors, d.Shift(chain.String(), expectedChain.String(), comment, noexit)...)
}

// ReadReg selects reg via the IR and shifts out its DR, comparing against
// the expected value (MSB-first, X for don't-care bits).
func (d *Driver) ReadReg(tap *Tap, reg *Register, expected, comment string) ([]vector.Vector, error) {
	if !tap.HasRegister(reg) {
		return nil, fmt.Errorf("register %s does not belong to tap %s", reg.Name, tap.Name)
	}
	vectors := d.SetIR(tap, reg.IRValue, comment)
	readComment := fmt.Sprintf("Read value from DR. Expected value: %s", expected)
	vectors = append(vectors, d.SetDR(tap, strings.Repeat("0", len(expected)), expected, readComment, false)...)
	return vectors, nil
}

// WriteReg selects reg via the IR and shifts value (MSB-first) into its DR.
func (d *Driver) WriteReg(tap *Tap, reg *Register, value, comment string) ([]vector.Vector, error) {
	if !tap.HasRegister(reg) {
		return nil, fmt.Errorf("register %s does not belong to tap %s", reg.Name, tap.Name)
	}
	vectors := d.SetIR(tap, reg.IRValue, comment)
	vectors = append(vectors, d.SetDR(tap, value, "", fmt.Sprintf("Write value %s to DR.", value), false)...)
	return vectors, nil
}

// PollReg reads reg repeatedly inside a matched loop until it returns the
// expected value, clocking idleCycles idle cycles between attempts. The
// trailing idle vectors keep an eight-vector gap before any following
// matched loop.
func (d *Driver) PollReg(tap *Tap, reg *Register, expected string, retries uint, idleCycles int, comment string) ([]vector.Vector, error) {
	conditionVectors, err := d.ReadReg(tap, reg, expected, comment)
	if err != nil {
		return nil, err
	}
	condition, err := normals(conditionVectors)
	if err != nil {
		return nil, err
	}
	condition = vector.PadNormals(condition, d.IdleVector(1, ""))
	idle := vector.PadNormals(d.IdleNormals(idleCycles), d.IdleVector(1, ""))
	loop, err := d.Builder.NewMatchedLoop(condition, idle, retries)
	if err != nil {
		return nil, err
	}
	vectors := []vector.Vector{loop}
	vectors = append(vectors, d.IdleVectors(8)...)
	return vectors, nil
}

// normals narrows a vector slice known to contain only plain vectors.
func normals(vectors []vector.Vector) ([]vector.Normal, error) {
	out := make([]vector.Normal, 0, len(vectors))
	for _, v := range vectors {
		n, ok := v.(vector.Normal)
		if !ok {
			return nil, fmt.Errorf("expected plain vectors only, got %T: %w", v, vector.ErrShape)
		}
		out = append(out, n)
	}
	return out, nil
}

func reverse(s string) string {
	b := []byte(s)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}

// prettyBin renders a binary value string compactly for comments, falling
// back to the raw string when it contains don't-care characters.
func prettyBin(s string) string {
	a, err := bits.FromBin(s)
	if err != nil {
		return s
	}
	return a.String()
}
