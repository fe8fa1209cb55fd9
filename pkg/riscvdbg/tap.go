package riscvdbg

import (
	"fmt"
	"strings"

	"github.com/pulp-platform/dumpling/pkg/bits"
	"github.com/pulp-platform/dumpling/pkg/jtag"
	"github.com/pulp-platform/dumpling/pkg/vector"
)

const zeros32 = "00000000000000000000000000000000"

// Tap is the debug transport module TAP of a RISC-V debug unit. It exposes
// the IDCODE, DTMCS and DMIACCESS JTAG registers; all higher level debug
// operations go through DMIACCESS shifts.
type Tap struct {
	*jtag.Tap
	driver *jtag.Driver

	RegIDCode    *jtag.Register
	RegDTMCS     *jtag.Register
	RegDMIAccess *jtag.Register
}

// New creates the debug TAP with its three registers. The idcode is the
// expected IDCODE default in hex or binary form.
func New(driver *jtag.Driver, idcode string) (*Tap, error) {
	idcodeBits, err := bits.Parse(idcode)
	if err != nil {
		return nil, fmt.Errorf("riscv debug tap idcode: %w", err)
	}
	t := &Tap{Tap: jtag.NewTap("RISC-V debug module", 5), driver: driver}
	t.RegIDCode = t.AddRegister("SoC IDCODE", "00001", 32, idcodeBits.Bin())
	t.RegDTMCS = t.AddRegister("SoC DTMCSR", "10000", 32, "")
	// DMIACCESS layout, LSB up: op(2) data(32) address(7).
	t.RegDMIAccess = t.AddRegister("SoC DMIACCESS", "10001", 41, "")
	return t, nil
}

// VerifyIDCode selects the IDCODE register (all other TAPs go to bypass)
// and compares it against the expected value.
func (t *Tap) VerifyIDCode() ([]vector.Vector, error) {
	return t.driver.ReadReg(t.Tap, t.RegIDCode, t.RegIDCode.Default, "Verifying IDCODE of RISC-V Debug Unit")
}

// InitDMI selects the DMIACCESS register in the TAP's IR.
func (t *Tap) InitDMI() []vector.Vector {
	return t.driver.SetIR(t.Tap, t.RegDMIAccess.IRValue, "Init DMIACCESS (set corresponding IR)")
}

// SetDMI emits a single DMIACCESS shift: address, 32 data bits (MSB-first)
// and the operation. The result of a READ or WRITE appears in the bits
// shifted out during the next DMIACCESS shift, so expected status and data
// refer to the previous operation.
func (t *Tap) SetDMI(op DMIOp, addr DMReg, data string, expectStatus DMIStatus, expectData, comment string) []vector.Vector {
	comment += fmt.Sprintf("/Start DMI access with OP %s to register %s.", string(op), addr.Name())
	if expectStatus != DMIStatusAny && expectData != "" {
		comment += fmt.Sprintf(" Expecting status %s and data 0b%s", string(expectStatus), expectData)
	}
	dr := addr.Bin() + data + string(op)
	expected := strings.Repeat("X", 7)
	if expectData != "" {
		expected += expectData
	} else {
		expected += strings.Repeat("X", 32)
	}
	if expectStatus != DMIStatusAny {
		expected += string(expectStatus)
	} else {
		expected += "XX"
	}
	return t.driver.SetDR(t.Tap, dr, expected, comment, false)
}

// DMIReset sets the dmireset flag in DTMCS to clear the sticky busy error
// flag, then selects DMIACCESS again.
func (t *Tap) DMIReset() ([]vector.Vector, error) {
	dr := bits.New(32)
	dr.SetBit(16, true)
	vectors, err := t.driver.WriteReg(t.Tap, t.RegDTMCS, dr.Bin(), "Reset DMI")
	if err != nil {
		return nil, err
	}
	return append(vectors, t.InitDMI()...), nil
}

// DMIHardReset sets the dmihardreset flag in DTMCS, discarding any
// outstanding DMI transaction.
func (t *Tap) DMIHardReset() []vector.Vector {
	dr := bits.New(32)
	dr.SetBit(17, true)
	return t.driver.SetDR(t.Tap, dr.Bin(), "", "Hardreset DMI", false)
}

// SetDMActive writes the dmactive flag of DMCONTROL. Writing zero resets
// the debug module.
func (t *Tap) SetDMActive(active bool) []vector.Vector {
	dm := bits.New(32)
	dm.SetBit(0, active)
	return t.SetDMI(DMIWrite, RegDMControl, dm.Bin(), DMIStatusAny, "", "Set DMACTIVE flag")
}

// clockDMI lets the debug module process the pending DMI request by
// clocking TCK with the TAP idling. Enough for typical PULP debug modules.
func (t *Tap) clockDMI(cycles uint) vector.Normal {
	t.driver.SetDefaults()
	if err := t.driver.Builder.Set("tck", vector.High); err != nil {
		panic(err)
	}
	return t.driver.Builder.Vector(cycles, "Clock tck for a few cycles to let dmi complete operation")
}

// ReadDebugReg reads a debug module register and verifies it inside a
// matched loop. The loop's idle body performs a DMI reset so a sticky busy
// error from a premature poll is cleared before the next attempt.
func (t *Tap) ReadDebugReg(addr DMReg, expected string, retries uint, comment string) ([]vector.Vector, error) {
	comment += fmt.Sprintf("/Verify debug reg %s to be 0b%s. Max retries = %d", addr.Name(), expected, retries)
	vectors := t.SetDMI(DMIRead, addr, zeros32, DMIStatusAny, "", comment)

	conditionVectors := t.SetDMI(DMINop, RegNone, zeros32, DMIStatusSuccess, expected, "")
	condition, err := toNormals(conditionVectors)
	if err != nil {
		return nil, err
	}
	condition = vector.PadNormals(condition, t.driver.IdleVector(1, ""))

	idleVectors, err := t.DMIReset()
	if err != nil {
		return nil, err
	}
	idle, err := toNormals(idleVectors)
	if err != nil {
		return nil, err
	}
	idle = vector.PadNormals(idle, t.driver.IdleVector(1, ""))

	loop, err := t.driver.Builder.NewMatchedLoop(condition, idle, retries)
	if err != nil {
		return nil, err
	}
	vectors = append(vectors, loop)
	// Keep an eight vector gap before any following matched loop.
	vectors = append(vectors, t.driver.IdleVectors(8)...)
	return vectors, nil
}

// ReadDebugRegNoLoop reads a debug module register without a matched loop:
// it clocks a fixed number of wait cycles and verifies the readback once.
func (t *Tap) ReadDebugRegNoLoop(addr DMReg, expected string, waitCycles uint, comment string) []vector.Vector {
	comment += fmt.Sprintf("/Verify debug reg %s to be 0b%s.", addr.Name(), expected)
	vectors := t.SetDMI(DMIRead, addr, zeros32, DMIStatusAny, "", comment)
	vectors = append(vectors, t.clockDMI(10))
	if waitCycles > 0 {
		vectors = append(vectors, t.driver.IdleVector(waitCycles, "Waiting for completion of DMI read OP."))
	}
	vectors = append(vectors, t.SetDMI(DMINop, RegNone, zeros32, DMIStatusSuccess, expected, "")...)
	return vectors
}

// WriteDebugReg writes a debug module register and verifies completion with
// a matched loop polling the DMI status. The loop's idle body resets the
// sticky busy error between attempts.
func (t *Tap) WriteDebugReg(addr DMReg, data string, retries uint, comment string) ([]vector.Vector, error) {
	comment += fmt.Sprintf("/Write %s to debug reg %s. Max retries = %d", prettyBin(data), addr.Name(), retries)
	vectors := t.SetDMI(DMIWrite, addr, data, DMIStatusAny, "", comment)
	vectors = append(vectors, t.clockDMI(5))

	conditionVectors := t.SetDMI(DMINop, RegNone, zeros32, DMIStatusSuccess, "", "")
	condition, err := toNormals(conditionVectors)
	if err != nil {
		return nil, err
	}
	condition = vector.PadNormals(condition, t.driver.IdleVector(1, ""))

	idleVectors, err := t.DMIReset()
	if err != nil {
		return nil, err
	}
	idle, err := toNormals(idleVectors)
	if err != nil {
		return nil, err
	}
	idle = vector.PadNormals(idle, t.driver.IdleVector(1, ""))

	loop, err := t.driver.Builder.NewMatchedLoop(condition, idle, retries)
	if err != nil {
		return nil, err
	}
	vectors = append(vectors, loop)
	vectors = append(vectors, t.driver.IdleVectors(8)...)
	return vectors, nil
}

// WriteDebugRegNoVerify writes a debug module register fire-and-forget: no
// status readback, only the idle cycles the module needs to absorb the
// request. The result can therefore never contain a matched loop.
func (t *Tap) WriteDebugRegNoVerify(addr DMReg, data, comment string) []vector.Vector {
	comment += fmt.Sprintf("/Write %s to debug reg %s.", prettyBin(data), addr.Name())
	vectors := t.SetDMI(DMIWrite, addr, data, DMIStatusAny, "", comment)
	vectors = append(vectors, t.clockDMI(5))
	return vectors
}

// expectedPattern renders a partially known register value as an MSB-first
// compare string: known bits as 0/1, everything else as X.
func expectedPattern(width int, known map[int]bool) string {
	b := make([]byte, width)
	for i := range b {
		b[i] = 'X'
	}
	for bit, v := range known {
		// MSB-first rendering: bit 0 is the last character.
		if v {
			b[width-1-bit] = '1'
		} else {
			b[width-1-bit] = '0'
		}
	}
	return string(b)
}

func toNormals(vectors []vector.Vector) ([]vector.Normal, error) {
	out := make([]vector.Normal, 0, len(vectors))
	for _, v := range vectors {
		n, ok := v.(vector.Normal)
		if !ok {
			return nil, fmt.Errorf("expected plain vectors, got %T: %w", v, vector.ErrShape)
		}
		out = append(out, n)
	}
	return out, nil
}

func prettyBin(s string) string {
	a, err := bits.FromBin(s)
	if err != nil {
		return s
	}
	return a.String()
}
