package riscvdbg

import (
	"fmt"

	"github.com/pulp-platform/dumpling/pkg/bits"
	"github.com/pulp-platform/dumpling/pkg/vector"
)

// Hart selection ids are 20 bits wide, split into hartsello and hartselhi
// inside DMCONTROL.
const hartselWidth = 20

// dmcontrol builds a DMCONTROL value with the given hart selected and
// dmactive set. Writing dmactive low would reset the debug module.
func dmcontrol(hartsel bits.Array) (bits.Array, error) {
	if hartsel.Len() > hartselWidth {
		return bits.Array{}, fmt.Errorf("hart id wider than %d bits: %w", hartselWidth, bits.ErrOutOfRange)
	}
	padded := bits.New(hartselWidth)
	if err := padded.SetSlice(0, hartsel); err != nil {
		return bits.Array{}, err
	}
	dm := bits.New(32)
	lo, _ := padded.Slice(0, 10)
	hi, _ := padded.Slice(10, 20)
	dm.SetSlice(16, lo) // hartsello
	dm.SetSlice(6, hi)  // hartselhi
	dm.SetBit(0, true)  // dmactive
	return dm, nil
}

// HaltHart requests a halt of the selected hart, polls DMSTATUS until
// allhalted reads one, then clears the halt request.
func (t *Tap) HaltHart(hartsel bits.Array, retries uint, comment string) ([]vector.Vector, error) {
	comment += fmt.Sprintf("/Halting hart %s", hartsel)
	dm, err := dmcontrol(hartsel)
	if err != nil {
		return nil, err
	}
	dm.SetBit(31, true) // haltreq
	vectors, err := t.WriteDebugReg(RegDMControl, dm.Bin(), 1, comment)
	if err != nil {
		return nil, err
	}

	allhalted := expectedPattern(32, map[int]bool{9: true})
	poll, err := t.ReadDebugReg(RegDMStatus, allhalted, retries, "Poll until allhalted flag is set")
	if err != nil {
		return nil, err
	}
	vectors = append(vectors, poll...)

	dm.SetBit(31, false)
	vectors = append(vectors, t.WriteDebugRegNoVerify(RegDMControl, dm.Bin(), comment)...)
	return vectors, nil
}

// HaltHartNoLoop is HaltHart with a fixed wait instead of polling.
func (t *Tap) HaltHartNoLoop(hartsel bits.Array, waitCycles uint, comment string) ([]vector.Vector, error) {
	comment += fmt.Sprintf("/Halting hart %s", hartsel)
	dm, err := dmcontrol(hartsel)
	if err != nil {
		return nil, err
	}
	dm.SetBit(31, true) // haltreq
	vectors := t.WriteDebugRegNoVerify(RegDMControl, dm.Bin(), comment)
	vectors = append(vectors, t.driver.IdleVector(waitCycles, "Waiting for core to halt"))

	allhalted := expectedPattern(32, map[int]bool{9: true})
	vectors = append(vectors, t.ReadDebugRegNoLoop(RegDMStatus, allhalted, waitCycles, "Check if allhalted flag is set")...)

	dm.SetBit(31, false)
	vectors = append(vectors, t.WriteDebugRegNoVerify(RegDMControl, dm.Bin(), comment)...)
	return vectors, nil
}

// resumeExpect is the DMSTATUS pattern after a resume: allresumeack set and
// the upper status bits clear.
func resumeExpect() string {
	known := map[int]bool{17: true}
	for bit := 23; bit < 32; bit++ {
		known[bit] = false
	}
	return expectedPattern(32, known)
}

// ResumeHarts requests a resume of the selected hart, polls DMSTATUS until
// allresumeack reads one, then clears the resume request.
func (t *Tap) ResumeHarts(hartsel bits.Array, retries uint, comment string) ([]vector.Vector, error) {
	comment += fmt.Sprintf("/Resume hart %s", hartsel)
	dm, err := dmcontrol(hartsel)
	if err != nil {
		return nil, err
	}
	dm.SetBit(30, true) // resumereq
	vectors, err := t.WriteDebugReg(RegDMControl, dm.Bin(), 1, comment)
	if err != nil {
		return nil, err
	}

	poll, err := t.ReadDebugReg(RegDMStatus, resumeExpect(), retries, "Poll until allresumeack flag is set")
	if err != nil {
		return nil, err
	}
	vectors = append(vectors, poll...)

	dm.SetBit(30, false)
	vectors = append(vectors, t.WriteDebugRegNoVerify(RegDMControl, dm.Bin(), comment)...)
	return vectors, nil
}

// ResumeHartsNoLoop is ResumeHarts with a fixed wait instead of polling.
func (t *Tap) ResumeHartsNoLoop(hartsel bits.Array, waitCycles uint, comment string) ([]vector.Vector, error) {
	comment += fmt.Sprintf("/Resume hart %s", hartsel)
	dm, err := dmcontrol(hartsel)
	if err != nil {
		return nil, err
	}
	dm.SetBit(30, true) // resumereq
	vectors := t.WriteDebugRegNoVerify(RegDMControl, dm.Bin(), comment)
	vectors = append(vectors, t.driver.IdleVector(waitCycles,
		fmt.Sprintf("Waiting for %d cycles before checking if core resumed.", waitCycles)))

	vectors = append(vectors, t.ReadDebugRegNoLoop(RegDMStatus, resumeExpect(), waitCycles, "Check if allresumeack flag is set")...)

	dm.SetBit(30, false)
	vectors = append(vectors, t.WriteDebugRegNoVerify(RegDMControl, dm.Bin(), comment)...)
	return vectors, nil
}
