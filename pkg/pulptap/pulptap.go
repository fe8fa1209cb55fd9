// Package pulptap implements the PULP advanced debug unit TAP: burst-mode
// AXI system bus access and the SoC configuration registers reachable over
// JTAG.
package pulptap

import (
	"fmt"

	"github.com/pulp-platform/dumpling/pkg/bits"
	"github.com/pulp-platform/dumpling/pkg/elf"
	"github.com/pulp-platform/dumpling/pkg/jtag"
	"github.com/pulp-platform/dumpling/pkg/vector"
)

// ModuleID selects the AXI4 debug module in the module select frame.
const ModuleID = "100000"

// MaxBurstWords caps a single burst. The advanced debug protocol allows up
// to 65535 words but longer bursts blow up the DR length on the tester.
const MaxBurstWords = 256

// Op is a 4-bit burst command of the advanced debug protocol.
type Op uint8

const (
	OpNop          Op = 0x0
	OpWrite8       Op = 0x1
	OpWrite16      Op = 0x2
	OpWrite32      Op = 0x3
	OpWrite64      Op = 0x4
	OpRead8        Op = 0x5
	OpRead16       Op = 0x6
	OpRead32       Op = 0x7
	OpRead64       Op = 0x8
	OpIntRegWrite  Op = 0x9
	OpIntRegSelect Op = 0xD
)

// Bits returns the 4-bit command encoding.
func (o Op) Bits() bits.Array {
	a, _ := bits.FromUint(uint64(o), 4)
	return a
}

// Tap drives the PULP JTAG debug module through a chain driver.
type Tap struct {
	*jtag.Tap
	driver *jtag.Driver

	RegIDCode      *jtag.Register
	RegAXIReg      *jtag.Register
	RegBBMuxReg    *jtag.Register
	RegConfReg     *jtag.Register
	RegTestModeReg *jtag.Register
	RegBistReg     *jtag.Register

	// Only present on the Vega flavor.
	RegClkByp *jtag.Register
	RegObserv *jtag.Register
}

// New creates the PULP debug TAP and its register set. The idcode is the
// expected default of the IDCODE register in MSB-first hex or binary form.
func New(driver *jtag.Driver, idcode string) (*Tap, error) {
	idcodeBits, err := bits.Parse(idcode)
	if err != nil {
		return nil, fmt.Errorf("pulp tap idcode: %w", err)
	}
	t := &Tap{Tap: jtag.NewTap("PULP JTAG module", 5), driver: driver}
	t.RegIDCode = t.AddRegister("IDCODE", "00010", 32, idcodeBits.Bin())
	// The AXI register's DR length depends on the burst setup.
	t.RegAXIReg = t.AddRegister("SoC AXIREG", "00100", 0, "")
	t.RegBBMuxReg = t.AddRegister("SoC BBMUXREG", "00101", 21, "")
	t.RegConfReg = t.AddRegister("SoC CONFREG", "00110", 9, "")
	t.RegTestModeReg = t.AddRegister("SoC TESTMODEREG", "01000", 4, "")
	t.RegBistReg = t.AddRegister("SoC BISTREG", "01001", 20, "")
	return t, nil
}

// Init selects the AXI register in the TAP's IR so burst frames can follow.
func (t *Tap) Init() []vector.Vector {
	return t.driver.SetIR(t.Tap, t.RegAXIReg.IRValue, "Init Pulp Tap")
}

// VerifyIDCode reads back the IDCODE register and compares it against the
// expected value.
func (t *Tap) VerifyIDCode() ([]vector.Vector, error) {
	return t.driver.ReadReg(t.Tap, t.RegIDCode, t.RegIDCode.Default, "Verifying IDCODE of PULP JTAG module")
}

// ModuleSelect emits the module select frame for the AXI4 debug module.
func (t *Tap) ModuleSelect(comment string) []vector.Vector {
	return t.driver.SetDR(t.Tap, ModuleID, "", comment, false)
}

// SetupBurst emits the 53-bit burst setup frame: command in bits 48..52,
// start address in bits 16..48 and the word count in bits 0..16.
func (t *Tap) SetupBurst(cmd Op, startAddr bits.Array, nwords int, comment string) ([]vector.Vector, error) {
	if nwords < 1 || nwords > MaxBurstWords {
		return nil, fmt.Errorf("burst of %d words exceeds the %d word limit", nwords, MaxBurstWords)
	}
	if startAddr.Len() != 32 {
		return nil, fmt.Errorf("burst start address must be 32 bits, got %d", startAddr.Len())
	}
	comment += fmt.Sprintf("/Setup AXI4 adv dbg burst @%s for %d words", startAddr, nwords)
	dr := bits.New(53)
	if err := dr.SetSlice(48, cmd.Bits()); err != nil {
		return nil, err
	}
	if err := dr.SetSlice(16, startAddr); err != nil {
		return nil, err
	}
	if err := dr.SetUint(0, 16, uint64(nwords)); err != nil {
		return nil, err
	}
	return t.driver.SetDR(t.Tap, dr.Bin(), "", comment, false), nil
}

// WriteBurst emits the burst payload frame: a start bit, the data words in
// LSB-first order, a dummy all-ones CRC (the match bit of write transfers is
// not checked) and a trailing zero.
func (t *Tap) WriteBurst(data []bits.Array, comment string) []vector.Vector {
	comment += fmt.Sprintf("/Write burst data for %d words", len(data))
	// Compose the DR in shift order, then reverse once: SetDR expects
	// MSB-first input.
	burst := "1"
	for _, word := range data {
		burst += reverse(word.Bin())
	}
	burst += repeatChar('1', 32)
	burst += "0"
	return t.driver.SetDR(t.Tap, reverse(burst), "", comment, false)
}

// ReadBurst emits the burst readout with a matched loop polling for the
// status bit before the data words are shifted out and compared.
func (t *Tap) ReadBurst(expected []bits.Array, retries uint, comment string) ([]vector.Vector, error) {
	comment += fmt.Sprintf("/Read burst data for %d words", len(expected))
	vectors := t.driver.GotoShiftDR(comment)
	vectors = append(vectors, t.bypassPrefix()...)

	burst := t.expectedBurst(expected)
	// Poll the DR until a status bit of 1 is shifted out.
	conditionVectors := t.driver.Shift("0", "1", "Shift until status bit is 1", true)
	condition, err := toNormals(conditionVectors)
	if err != nil {
		return nil, err
	}
	condition = vector.PadNormals(condition, t.driver.IdleVector(1, ""))
	idle := t.driver.IdleNormals(8)
	loop, err := t.driver.Builder.NewMatchedLoop(condition, idle, retries)
	if err != nil {
		return nil, err
	}
	vectors = append(vectors, loop)
	vectors = append(vectors, t.driver.IdleVectors(8)...)

	// Shift out the data. Leaving shift-DR before the bypass bits of the
	// taps following this one is fine.
	vectors = append(vectors, t.driver.Shift(repeatChar('0', len(burst)), burst, "", false)...)
	return vectors, nil
}

// ReadBurstNoLoop is the matched-loop-free burst readout: it shifts
// waitCycles zero bits and expects the status bit to appear on the last one.
// How many cycles the status bit needs depends on the silicon, so the count
// stays caller configurable.
func (t *Tap) ReadBurstNoLoop(expected []bits.Array, waitCycles int, comment string) []vector.Vector {
	if waitCycles < 1 {
		waitCycles = 2
	}
	comment += fmt.Sprintf("/Read burst data for %d words", len(expected))
	vectors := t.driver.GotoShiftDR(comment)
	vectors = append(vectors, t.bypassPrefix()...)

	status := repeatChar('0', waitCycles-1) + "1"
	vectors = append(vectors, t.driver.Shift(repeatChar('0', waitCycles), status, "Shift until status bit is 1", true)...)

	burst := t.expectedBurst(expected)
	vectors = append(vectors, t.driver.Shift(repeatChar('0', len(burst)), burst, "", false)...)
	return vectors
}

// bypassPrefix shifts one don't-care bit for every chain TAP between this
// one and TDO. Their bypass registers sit in the readout path and delay the
// shifted-out data by one bit each.
func (t *Tap) bypassPrefix() []vector.Vector {
	var vectors []vector.Vector
	for i := t.driver.TapIndex(t.Tap) + 1; i < len(t.driver.Chain); i++ {
		vectors = append(vectors, t.driver.Shift("0", "X", "", true)...)
	}
	return vectors
}

// expectedBurst renders the expected readout in shift order: the data words
// LSB-first followed by 32 ignored CRC bits.
func (t *Tap) expectedBurst(expected []bits.Array) string {
	burst := ""
	for _, word := range expected {
		burst += reverse(word.Bin())
	}
	return burst + repeatChar('X', 32)
}

// Write32 writes a burst of 32-bit words starting at startAddr.
func (t *Tap) Write32(startAddr bits.Array, data []bits.Array, comment string) ([]vector.Vector, error) {
	if err := checkWords(data); err != nil {
		return nil, err
	}
	comment += fmt.Sprintf("/Write32 burst @%s for %d words", startAddr, len(data))
	vectors := t.ModuleSelect("")
	setup, err := t.SetupBurst(OpWrite32, startAddr, len(data), comment)
	if err != nil {
		return nil, err
	}
	vectors = append(vectors, setup...)
	vectors = append(vectors, t.WriteBurst(data, "")...)
	return vectors, nil
}

// Read32 reads a burst of 32-bit words and compares them against expected,
// polling for burst readiness with a matched loop.
func (t *Tap) Read32(startAddr bits.Array, expected []bits.Array, retries uint, comment string) ([]vector.Vector, error) {
	if err := checkWords(expected); err != nil {
		return nil, err
	}
	comment += fmt.Sprintf("/Read32 burst @%s for %d words", startAddr, len(expected))
	vectors := t.ModuleSelect("")
	setup, err := t.SetupBurst(OpRead32, startAddr, len(expected), comment)
	if err != nil {
		return nil, err
	}
	vectors = append(vectors, setup...)
	burst, err := t.ReadBurst(expected, retries, "")
	if err != nil {
		return nil, err
	}
	return append(vectors, burst...), nil
}

// Read32NoLoop is Read32 with a fixed status-bit wait instead of a matched
// loop.
func (t *Tap) Read32NoLoop(startAddr bits.Array, expected []bits.Array, waitCycles int, comment string) ([]vector.Vector, error) {
	if err := checkWords(expected); err != nil {
		return nil, err
	}
	comment += fmt.Sprintf("/Read32 burst @%s for %d words", startAddr, len(expected))
	vectors := t.ModuleSelect("")
	setup, err := t.SetupBurst(OpRead32, startAddr, len(expected), comment)
	if err != nil {
		return nil, err
	}
	vectors = append(vectors, setup...)
	vectors = append(vectors, t.ReadBurstNoLoop(expected, waitCycles, "")...)
	return vectors, nil
}

// LoadL2 preloads the byte map of an ELF binary into L2 memory, splitting
// it into maximal contiguous bursts of at most MaxBurstWords words. A new
// burst starts whenever the addresses leave lockstep or the burst is full.
func (t *Tap) LoadL2(mem *elf.Memory, comment string) ([]vector.Vector, error) {
	return t.forEachBurst(mem, func(start bits.Array, words []bits.Array) ([]vector.Vector, error) {
		return t.Write32(start, words, comment)
	})
}

// VerifyL2 reads back the byte map of an ELF binary and compares it,
// using matched loops for burst readiness.
func (t *Tap) VerifyL2(mem *elf.Memory, retries uint, comment string) ([]vector.Vector, error) {
	return t.forEachBurst(mem, func(start bits.Array, words []bits.Array) ([]vector.Vector, error) {
		return t.Read32(start, words, retries, comment)
	})
}

// VerifyL2NoLoop reads back the byte map of an ELF binary with fixed
// status-bit waits.
func (t *Tap) VerifyL2NoLoop(mem *elf.Memory, waitCycles int, comment string) ([]vector.Vector, error) {
	return t.forEachBurst(mem, func(start bits.Array, words []bits.Array) ([]vector.Vector, error) {
		return t.Read32NoLoop(start, words, waitCycles, comment)
	})
}

func (t *Tap) forEachBurst(mem *elf.Memory, emit func(bits.Array, []bits.Array) ([]vector.Vector, error)) ([]vector.Vector, error) {
	if mem.WordBytes() != 4 {
		return nil, fmt.Errorf("burst access needs a 4-byte word map, got %d-byte words", mem.WordBytes())
	}
	var vectors []vector.Vector
	var burst []bits.Array
	var startAddr, prevAddr uint64
	flush := func() error {
		if len(burst) == 0 {
			return nil
		}
		start, err := bits.FromUint(startAddr, 32)
		if err != nil {
			return err
		}
		vs, err := emit(start, burst)
		if err != nil {
			return err
		}
		vectors = append(vectors, vs...)
		burst = nil
		return nil
	}
	for _, addr := range mem.Addresses() {
		if len(burst) > 0 && (prevAddr+4 != addr || len(burst) >= MaxBurstWords) {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		if len(burst) == 0 {
			startAddr = addr
		}
		word, _ := mem.Word(addr)
		burst = append(burst, word)
		prevAddr = addr
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// SetConfigReg programs the SoC JTAG configuration register. The FLL clock
// selection bit sits above the 8-bit register value.
func (t *Tap) SetConfigReg(value bits.Array, selFllClk bool, comment string) ([]vector.Vector, error) {
	if value.Len() != 8 {
		return nil, fmt.Errorf("config reg value must be 8 bits, got %d", value.Len())
	}
	comment += fmt.Sprintf("/Set JTAG Config reg to 0x%s, internal FLL %s", value.Hex(), enabledStr(selFllClk))
	return t.driver.WriteReg(t.Tap, t.RegConfReg, boolBit(selFllClk)+value.Bin(), comment)
}

// VerifyConfigReg reads the SoC JTAG configuration register back.
func (t *Tap) VerifyConfigReg(value bits.Array, selFllClk bool, comment string) ([]vector.Vector, error) {
	if value.Len() != 8 {
		return nil, fmt.Errorf("config reg value must be 8 bits, got %d", value.Len())
	}
	comment += fmt.Sprintf("/Verify JTAG Config reg is 0x%s and FLL is %s", value.Hex(), enabledStr(selFllClk))
	return t.driver.ReadReg(t.Tap, t.RegConfReg, boolBit(selFllClk)+value.Bin(), comment)
}

func checkWords(words []bits.Array) error {
	for i, w := range words {
		if w.Len() != 32 {
			return fmt.Errorf("burst word %d is %d bits, need 32", i, w.Len())
		}
	}
	return nil
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

func boolBit(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func enabledStr(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

func reverse(s string) string {
	b := []byte(s)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}

func repeatChar(c byte, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = c
	}
	return string(b)
}

// WriteConfRegRaw writes a raw MSB-first value to the SoC CONFREG. Chip
// variants with extended config registers compose the value themselves.
func (t *Tap) WriteConfRegRaw(value, comment string) ([]vector.Vector, error) {
	return t.driver.WriteReg(t.Tap, t.RegConfReg, value, comment)
}

// ReadConfRegRaw reads the SoC CONFREG back and compares it against a raw
// MSB-first expected value.
func (t *Tap) ReadConfRegRaw(expected, comment string) ([]vector.Vector, error) {
	return t.driver.ReadReg(t.Tap, t.RegConfReg, expected, comment)
}
