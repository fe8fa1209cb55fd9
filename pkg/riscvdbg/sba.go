package riscvdbg

import (
	"fmt"

	"github.com/pulp-platform/dumpling/pkg/bits"
	"github.com/pulp-platform/dumpling/pkg/elf"
	"github.com/pulp-platform/dumpling/pkg/vector"
)

// DefaultEOCAddr is the APB SOC control register PULP runtimes write their
// exit code to when leaving main.
const DefaultEOCAddr = "0x1a1040a0"

// The SBADDRESS and SBDATA register banks, index i covering value bits
// [32*i, 32*i+32).
var (
	sbAddressRegs = [4]DMReg{RegSBAddress0, RegSBAddress1, RegSBAddress2, RegSBAddress3}
	sbDataRegs    = [4]DMReg{RegSBData0, RegSBData1, RegSBData2, RegSBData3}
)

// sbAccessCode maps an access width in bits to the 3-bit sbaccess encoding.
func sbAccessCode(accessBits int) (uint64, error) {
	switch accessBits {
	case 8:
		return 0, nil
	case 16:
		return 1, nil
	case 32:
		return 2, nil
	case 64:
		return 3, nil
	case 128:
		return 4, nil
	}
	return 0, fmt.Errorf("sbaccess width %d not in {8,16,32,64,128}: %w", accessBits, bits.ErrOutOfRange)
}

// SBCSValue builds an SBCS register value with sbversion set.
func SBCSValue(readOnAddr, readOnData, autoIncrement bool, accessBits int) (bits.Array, error) {
	code, err := sbAccessCode(accessBits)
	if err != nil {
		return bits.Array{}, err
	}
	sbcs := bits.New(32)
	sbcs.SetUint(29, 3, 1) // sbversion
	sbcs.SetBit(20, readOnAddr)
	sbcs.SetUint(17, 3, code)
	sbcs.SetBit(16, autoIncrement)
	sbcs.SetBit(15, readOnData)
	return sbcs, nil
}

// SetSBCS programs the system bus access control register.
func (t *Tap) SetSBCS(readOnAddr, readOnData, autoIncrement bool, accessBits int, comment string) ([]vector.Vector, error) {
	sbcs, err := SBCSValue(readOnAddr, readOnData, autoIncrement, accessBits)
	if err != nil {
		return nil, err
	}
	return t.WriteDebugRegNoVerify(RegSBCS, sbcs.Bin(), comment), nil
}

// EnableSBReadOnAddr makes every SBADDRESS0 write trigger a 32-bit bus read.
func (t *Tap) EnableSBReadOnAddr() []vector.Vector {
	vectors, err := t.SetSBCS(true, false, false, 32, "Enable sbreadonaddr flag in SBCS reg for subsequent reads.")
	if err != nil {
		// The fixed arguments are valid; reaching this is a programming error.
		panic(err)
	}
	return vectors
}

// chunks32 splits a value into 32-bit chunks, low chunk first, zero
// extending the top chunk. At most four chunks fit the SB register banks.
func chunks32(a bits.Array) ([]bits.Array, error) {
	n := (a.Len() + 31) / 32
	if n == 0 {
		n = 1
	}
	if n > 4 {
		return nil, fmt.Errorf("%d-bit value exceeds the 128-bit system bus registers: %w", a.Len(), bits.ErrOutOfRange)
	}
	padded := bits.New(32 * n)
	if err := padded.SetSlice(0, a); err != nil {
		return nil, err
	}
	out := make([]bits.Array, n)
	for i := 0; i < n; i++ {
		c, err := padded.Slice(32*i, 32*i+32)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

// writeSBAddress writes the address chunks, highest chunk first, so the
// final SBADDRESS0 write is what triggers the transaction when sbreadonaddr
// is active.
func (t *Tap) writeSBAddress(addr bits.Array, verify bool, retries uint, comment string) ([]vector.Vector, error) {
	chunks, err := chunks32(addr)
	if err != nil {
		return nil, err
	}
	var vectors []vector.Vector
	for i := len(chunks) - 1; i >= 0; i-- {
		if verify {
			vs, err := t.WriteDebugReg(sbAddressRegs[i], chunks[i].Bin(), retries, comment)
			if err != nil {
				return nil, err
			}
			vectors = append(vectors, vs...)
		} else {
			vectors = append(vectors, t.WriteDebugRegNoVerify(sbAddressRegs[i], chunks[i].Bin(), comment)...)
		}
		comment = ""
	}
	return vectors, nil
}

// WriteMem writes a value over the system bus. When verify is set every
// debug register write is completion checked with a matched loop.
func (t *Tap) WriteMem(addr, data bits.Array, verify bool, retries uint, comment string) ([]vector.Vector, error) {
	comment += fmt.Sprintf("/Writing %s to memory @%s", data, addr)
	vectors, err := t.writeSBAddress(addr, verify, retries, comment)
	if err != nil {
		return nil, err
	}
	chunks, err := chunks32(data)
	if err != nil {
		return nil, err
	}
	// Data chunks highest first: the SBDATA0 write triggers the bus write.
	for i := len(chunks) - 1; i >= 0; i-- {
		if verify {
			vs, err := t.WriteDebugReg(sbDataRegs[i], chunks[i].Bin(), retries, comment)
			if err != nil {
				return nil, err
			}
			vectors = append(vectors, vs...)
		} else {
			vectors = append(vectors, t.WriteDebugRegNoVerify(sbDataRegs[i], chunks[i].Bin(), comment)...)
		}
	}
	return vectors, nil
}

// splitExpected cuts an MSB-first compare string into 32-bit chunks, low
// chunk last in the string.
func splitExpected(expected string) ([]string, error) {
	if len(expected) == 0 || len(expected)%32 != 0 || len(expected) > 128 {
		return nil, fmt.Errorf("expected value of %d bits is not a multiple of 32 up to 128", len(expected))
	}
	n := len(expected) / 32
	out := make([]string, n)
	for i := 0; i < n; i++ {
		// Chunk i holds bits [32i, 32i+32), i.e. counts from the string tail.
		out[i] = expected[len(expected)-32*(i+1) : len(expected)-32*i]
	}
	return out, nil
}

// ReadMem reads from the system bus and compares against expected
// (MSB-first, X for don't care), polling with matched loops. The SBCS
// sbreadonaddr flag must have been set beforehand.
func (t *Tap) ReadMem(addr bits.Array, expected string, retries uint, comment string) ([]vector.Vector, error) {
	comment += fmt.Sprintf("/Reading from systembus @%s expecting %s", addr, prettyBin(expected))
	vectors, err := t.writeSBAddress(addr, true, retries, comment)
	if err != nil {
		return nil, err
	}
	chunks, err := splitExpected(expected)
	if err != nil {
		return nil, err
	}
	for i := len(chunks) - 1; i >= 0; i-- {
		vs, err := t.ReadDebugReg(sbDataRegs[i], chunks[i], retries, "")
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, vs...)
	}
	return vectors, nil
}

// ReadMemNoLoop is ReadMem with fixed waits instead of matched loops.
func (t *Tap) ReadMemNoLoop(addr bits.Array, expected string, waitCycles uint, comment string) ([]vector.Vector, error) {
	comment += fmt.Sprintf("/Reading from systembus @%s expecting %s", addr, prettyBin(expected))
	vectors, err := t.writeSBAddress(addr, false, 1, comment)
	if err != nil {
		return nil, err
	}
	if waitCycles > 0 {
		vectors = append(vectors, t.driver.IdleVector(waitCycles, "Wait for a few cycles to let the bus transaction complete"))
	}
	chunks, err := splitExpected(expected)
	if err != nil {
		return nil, err
	}
	for i := len(chunks) - 1; i >= 0; i-- {
		vectors = append(vectors, t.ReadDebugRegNoLoop(sbDataRegs[i], chunks[i], waitCycles, "")...)
	}
	return vectors, nil
}

// LoadElf preloads an ELF byte map over the system bus with address
// autoincrement: the address register is only rewritten when a new
// contiguous run starts. After the last word a NOP shift checks the sticky
// status so any failed write in the stream surfaces.
func (t *Tap) LoadElf(mem *elf.Memory, waitCycles uint, comment string) ([]vector.Vector, error) {
	if mem.WordBytes() != 4 {
		return nil, fmt.Errorf("system bus preload needs a 4-byte word map, got %d-byte words", mem.WordBytes())
	}
	vectors, err := t.SetSBCS(false, false, true, 32, comment+"/Enable sbautoincrement for ELF preload")
	if err != nil {
		return nil, err
	}
	var prevAddr uint64
	inRun := false
	for _, addr := range mem.Addresses() {
		if !inRun || prevAddr+4 != addr {
			addrBits, err := bits.FromUint(addr, 32)
			if err != nil {
				return nil, err
			}
			addrVectors, err := t.writeSBAddress(addrBits, false, 1, fmt.Sprintf("Start contiguous run @%s", addrBits))
			if err != nil {
				return nil, err
			}
			vectors = append(vectors, addrVectors...)
			inRun = true
		}
		word, _ := mem.Word(addr)
		vectors = append(vectors, t.WriteDebugRegNoVerify(RegSBData0, word.Bin(), "")...)
		if waitCycles > 0 {
			vectors = append(vectors, t.driver.IdleVector(waitCycles, ""))
		}
		prevAddr = addr
	}
	// Observe the sticky busy error in case any of the writes was dropped.
	vectors = append(vectors, t.SetDMI(DMINop, RegNone, zeros32, DMIStatusSuccess, "", "Check sticky DMI status after preload")...)
	disable, err := t.SetSBCS(false, false, false, 32, "Disable sbautoincrement")
	if err != nil {
		return nil, err
	}
	return append(vectors, disable...), nil
}

// eocExpected is the end-of-computation word: bit 31 flags completion, the
// low 31 bits carry the return code.
func eocExpected(returnCode int) (bits.Array, error) {
	expected, err := bits.FromInt(int64(returnCode), 32)
	if err != nil {
		return bits.Array{}, err
	}
	expected.SetBit(31, true)
	return expected, nil
}

// CheckEndOfComputation reads the end-of-computation register once after a
// fixed wait and verifies the return code.
func (t *Tap) CheckEndOfComputation(returnCode int, waitCycles uint, eocAddr string) ([]vector.Vector, error) {
	addr, err := bits.Parse(eocAddr)
	if err != nil {
		return nil, err
	}
	expected, err := eocExpected(returnCode)
	if err != nil {
		return nil, err
	}
	vectors := t.EnableSBReadOnAddr()
	read, err := t.ReadMemNoLoop(addr, expected.Bin(), waitCycles,
		fmt.Sprintf("Check for end of computation with expected return code %d", returnCode))
	if err != nil {
		return nil, err
	}
	return append(vectors, read...), nil
}

// WaitForEndOfComputation polls the end-of-computation register inside a
// matched loop, idling a configurable number of cycles between attempts.
func (t *Tap) WaitForEndOfComputation(returnCode int, idleVectorCount int, retries uint, eocAddr string) ([]vector.Vector, error) {
	addr, err := bits.Parse(eocAddr)
	if err != nil {
		return nil, err
	}
	expected, err := eocExpected(returnCode)
	if err != nil {
		return nil, err
	}
	vectors := t.EnableSBReadOnAddr()
	conditionVectors, err := t.ReadMemNoLoop(addr, expected.Bin(), 0,
		fmt.Sprintf("Wait for end of computation with expected return code %d", returnCode))
	if err != nil {
		return nil, err
	}
	condition, err := toNormals(conditionVectors)
	if err != nil {
		return nil, err
	}
	condition = vector.PadNormals(condition, t.driver.IdleVector(1, ""))
	idle := vector.PadNormals(t.driver.IdleNormals(idleVectorCount), t.driver.IdleVector(1, ""))
	loop, err := t.driver.Builder.NewMatchedLoop(condition, idle, retries)
	if err != nil {
		return nil, err
	}
	vectors = append(vectors, loop)
	vectors = append(vectors, t.driver.IdleVectors(8)...)
	return vectors, nil
}
