package riscvdbg

import (
	"errors"
	"fmt"

	"github.com/pulp-platform/dumpling/pkg/bits"
	"github.com/pulp-platform/dumpling/pkg/vector"
)

// ErrInvalidCommand is wrapped by malformed abstract command encodings.
var ErrInvalidCommand = errors.New("invalid abstract command")

// CmdType is the 8-bit abstract command type.
type CmdType uint8

const (
	CmdAccessReg   CmdType = 0
	CmdQuickAccess CmdType = 1
	CmdAccessMem   CmdType = 2
)

// AbstractCmd describes one abstract command of the debug module. Aarsize
// selects the access width: 2, 3 and 4 for 32, 64 and 128 bit.
type AbstractCmd struct {
	Type       CmdType
	Reg        CSR
	Write      bool
	Transfer   bool
	Postexec   bool
	Aarpostinc bool
	Aarsize    int
}

// Bits encodes the command into the 32-bit COMMAND register value:
// cmdtype in the top byte, then aarsize, a zero bit, aarpostinc, postexec,
// transfer, write, and the 16-bit regno at the bottom.
func (c AbstractCmd) Bits() (bits.Array, error) {
	switch c.Aarsize {
	case 2, 3, 4:
	default:
		return bits.Array{}, fmt.Errorf("aarsize %d not in {2,3,4}: %w", c.Aarsize, ErrInvalidCommand)
	}
	return bits.PackLSB(
		bits.Bits(c.Reg.Regno()),
		bits.Bool(c.Write),
		bits.Bool(c.Transfer),
		bits.Bool(c.Postexec),
		bits.Bool(c.Aarpostinc),
		bits.Uint(3, uint64(c.Aarsize)),
		bits.Lit("0b0"),
		bits.Uint(8, uint64(c.Type)),
	)
}

// WaitCommand polls ABSTRACTCS until the busy flag clears with no command
// error.
func (t *Tap) WaitCommand(retries uint, comment string) ([]vector.Vector, error) {
	comment += "/Wait for abstract command completion"
	// busy (bit 12) must drop and cmderr (bits 8..10) must stay clear.
	expected := expectedPattern(32, map[int]bool{12: false, 8: false, 9: false, 10: false})
	return t.ReadDebugReg(RegAbstractCS, expected, retries, comment)
}

// SetCommand issues an abstract command and waits for completion with a
// matched loop.
func (t *Tap) SetCommand(cmd AbstractCmd, retries uint, comment string) ([]vector.Vector, error) {
	encoded, err := cmd.Bits()
	if err != nil {
		return nil, err
	}
	comment += "/Issue abstract command register"
	vectors := t.WriteDebugRegNoVerify(RegCommand, encoded.Bin(), comment)
	wait, err := t.WaitCommand(retries, "")
	if err != nil {
		return nil, err
	}
	return append(vectors, wait...), nil
}

// SetCommandNoLoop issues an abstract command and idles a fixed number of
// cycles instead of polling for completion.
func (t *Tap) SetCommandNoLoop(cmd AbstractCmd, waitCycles uint, comment string) ([]vector.Vector, error) {
	encoded, err := cmd.Bits()
	if err != nil {
		return nil, err
	}
	comment += "/Issue abstract command register"
	vectors := t.WriteDebugRegNoVerify(RegCommand, encoded.Bin(), comment)
	vectors = append(vectors, t.driver.IdleVector(waitCycles, "Waiting for command completion"))
	return vectors, nil
}

// WriteRegAbstractCmd writes a core register through an abstract command:
// the value goes to DATA0, then an access-register command transfers it.
// Completion is verified with matched loops.
func (t *Tap) WriteRegAbstractCmd(reg CSR, data bits.Array, retries uint, comment string) ([]vector.Vector, error) {
	comment += fmt.Sprintf("/Write %s to register 0x%s", data, reg.Regno().Hex())
	vectors, err := t.WriteDebugReg(RegData0, data.Bin(), retries, comment)
	if err != nil {
		return nil, err
	}
	cmd := AbstractCmd{Type: CmdAccessReg, Reg: reg, Write: true, Transfer: true, Aarsize: 2}
	set, err := t.SetCommand(cmd, retries, "")
	if err != nil {
		return nil, err
	}
	return append(vectors, set...), nil
}

// WriteRegAbstractCmdNoLoop is WriteRegAbstractCmd with fixed waits.
func (t *Tap) WriteRegAbstractCmdNoLoop(reg CSR, data bits.Array, waitCycles uint, comment string) ([]vector.Vector, error) {
	comment += fmt.Sprintf("/Write %s to register 0x%s", data, reg.Regno().Hex())
	vectors := t.WriteDebugRegNoVerify(RegData0, data.Bin(), comment)
	cmd := AbstractCmd{Type: CmdAccessReg, Reg: reg, Write: true, Transfer: true, Aarsize: 2}
	set, err := t.SetCommandNoLoop(cmd, waitCycles, "")
	if err != nil {
		return nil, err
	}
	return append(vectors, set...), nil
}

// ReadRegAbstractCmd reads a core register through an abstract command and
// compares DATA0 against the expected value (MSB-first, X for don't care).
func (t *Tap) ReadRegAbstractCmd(reg CSR, expected string, retries uint, comment string) ([]vector.Vector, error) {
	comment += fmt.Sprintf("Verify register 0x%s equals %s", reg.Regno().Hex(), expected)
	cmd := AbstractCmd{Type: CmdAccessReg, Reg: reg, Write: false, Transfer: true, Aarsize: 2}
	vectors, err := t.SetCommand(cmd, retries, "")
	if err != nil {
		return nil, err
	}
	read, err := t.ReadDebugReg(RegData0, expected, retries, comment)
	if err != nil {
		return nil, err
	}
	return append(vectors, read...), nil
}

// ReadRegAbstractCmdNoLoop is ReadRegAbstractCmd with fixed waits.
func (t *Tap) ReadRegAbstractCmdNoLoop(reg CSR, expected string, waitCycles uint, comment string) ([]vector.Vector, error) {
	comment += fmt.Sprintf("Verify register 0x%s equals %s", reg.Regno().Hex(), expected)
	cmd := AbstractCmd{Type: CmdAccessReg, Reg: reg, Write: false, Transfer: true, Aarsize: 2}
	vectors, err := t.SetCommandNoLoop(cmd, waitCycles, "")
	if err != nil {
		return nil, err
	}
	vectors = append(vectors, t.ReadDebugRegNoLoop(RegData0, expected, waitCycles, comment)...)
	return vectors, nil
}
