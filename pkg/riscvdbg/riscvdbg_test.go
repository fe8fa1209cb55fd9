package riscvdbg

import (
	"strings"
	"testing"

	"github.com/pulp-platform/dumpling/pkg/bits"
	"github.com/pulp-platform/dumpling/pkg/elf"
	"github.com/pulp-platform/dumpling/pkg/jtag"
	"github.com/pulp-platform/dumpling/pkg/vector"
	"github.com/stretchr/testify/require"
)

var testPins = vector.Pins{
	"chip_reset": {Physical: "reset_n", Default: vector.High, Dir: vector.Input},
	"trst":       {Physical: "jtag_trst", Default: vector.High, Dir: vector.Input},
	"tms":        {Physical: "jtag_tms", Default: vector.Low, Dir: vector.Input},
	"tck":        {Physical: "jtag_tck", Default: vector.Low, Dir: vector.Input},
	"tdi":        {Physical: "jtag_tdi", Default: vector.Low, Dir: vector.Input},
	"tdo":        {Physical: "jtag_tdo", Default: vector.DontCare, Dir: vector.Output},
}

func newTestTap(t *testing.T) (*Tap, *jtag.Driver) {
	t.Helper()
	driver, err := jtag.NewDriver(vector.NewBuilder(testPins))
	require.NoError(t, err)
	tap, err := New(driver, "0x249511C3")
	require.NoError(t, err)
	driver.AddTap(tap.Tap)
	return tap, driver
}

func pinTrace(vectors []vector.Vector, pin string) string {
	var sb strings.Builder
	for _, v := range vectors {
		if n, ok := v.(vector.Normal); ok {
			for i := uint(0); i < n.Repeat; i++ {
				sb.WriteByte(byte(n.State[pin]))
			}
		}
	}
	return sb.String()
}

func countMatchedLoops(vectors []vector.Vector) int {
	n := 0
	for _, v := range vectors {
		if _, ok := v.(vector.MatchedLoop); ok {
			n++
		}
	}
	return n
}

func TestRegisters(t *testing.T) {
	tap, _ := newTestTap(t)
	require.Equal(t, 41, tap.RegDMIAccess.DRLen)
	require.Equal(t, 32, tap.RegDTMCS.DRLen)
	require.Equal(t, bits.MustParse("0x249511C3").Bin(), tap.RegIDCode.Default)
}

func TestDMRegBin(t *testing.T) {
	require.Equal(t, "0010000", RegDMControl.Bin())
	require.Equal(t, "0010001", RegDMStatus.Bin())
	require.Equal(t, "0111001", RegSBAddress0.Bin())
	require.Equal(t, "0111100", RegSBData0.Bin())
	require.Len(t, RegHaltSum0.Bin(), 7)
}

func TestSetDMIShiftLength(t *testing.T) {
	tap, _ := newTestTap(t)
	vectors := tap.SetDMI(DMIWrite, RegDMControl, zeros32, DMIStatusAny, "", "")
	// 3 vectors enter shift-DR, 3 leave; the DMIACCESS register is 41 bits.
	tdi := pinTrace(vectors[3:len(vectors)-3], "tdi")
	require.Len(t, tdi, 41)
}

func TestSetDMIComposition(t *testing.T) {
	tap, _ := newTestTap(t)
	data := bits.MustParse("0x83e00001")
	vectors := tap.SetDMI(DMIWrite, RegDMControl, data.Bin(), DMIStatusAny, "", "")
	tdi := pinTrace(vectors[3:len(vectors)-3], "tdi")
	// The DR shifts LSB first: op, then data, then the address.
	wantMSBFirst := RegDMControl.Bin() + data.Bin() + string(DMIWrite)
	var rev strings.Builder
	for i := len(wantMSBFirst) - 1; i >= 0; i-- {
		rev.WriteByte(wantMSBFirst[i])
	}
	require.Equal(t, rev.String(), tdi)
}

func TestAbstractCmdEncoding(t *testing.T) {
	cmd := AbstractCmd{Type: CmdAccessReg, Reg: CSRDPC, Write: false, Transfer: true, Aarsize: 2}
	encoded, err := cmd.Bits()
	require.NoError(t, err)
	require.Equal(t, 32, encoded.Len())
	// regno=0x7b1, transfer bit 17, aarsize 2 at bits 20..22.
	require.EqualValues(t, 0x7b1|1<<17|2<<20, encoded.Uint())

	write := AbstractCmd{Type: CmdAccessReg, Reg: CSRDPC, Write: true, Transfer: true, Aarsize: 2}
	encoded, err = write.Bits()
	require.NoError(t, err)
	require.EqualValues(t, 0x7b1|1<<16|1<<17|2<<20, encoded.Uint())
}

func TestAbstractCmdRejectsBadAarsize(t *testing.T) {
	for _, aarsize := range []int{0, 1, 5, 7} {
		cmd := AbstractCmd{Type: CmdAccessReg, Reg: CSRDPC, Aarsize: aarsize}
		_, err := cmd.Bits()
		require.ErrorIs(t, err, ErrInvalidCommand, "aarsize %d", aarsize)
	}
}

func TestDMControlHartsel(t *testing.T) {
	hartsel := bits.MustParse("0x003e0")
	dm, err := dmcontrol(hartsel)
	require.NoError(t, err)
	// dmactive and hartsello; hart 0x3e0 fits the low ten bits.
	require.EqualValues(t, 1|uint64(0x3e0)<<16, dm.Uint())

	wide := bits.New(21)
	_, err = dmcontrol(wide)
	require.ErrorIs(t, err, bits.ErrOutOfRange)
}

func TestDMControlHartselSplit(t *testing.T) {
	// A hart id above ten bits spills into hartselhi at bit 6.
	hartsel, err := bits.FromUint(0x801, 20)
	require.NoError(t, err)
	dm, err := dmcontrol(hartsel)
	require.NoError(t, err)
	require.EqualValues(t, 1|uint64(0x001)<<16|uint64(0x2)<<6, dm.Uint())
}

func TestExpectedPattern(t *testing.T) {
	got := expectedPattern(32, map[int]bool{9: true})
	require.Len(t, got, 32)
	require.Equal(t, byte('1'), got[31-9])
	require.Equal(t, 31, strings.Count(got, "X"))

	got = expectedPattern(8, map[int]bool{0: false, 7: true})
	require.Equal(t, "1XXXXXX0", got)
}

func TestHaltHartShape(t *testing.T) {
	tap, _ := newTestTap(t)
	hartsel := bits.MustParse("0x003e0")

	vectors, err := tap.HaltHart(hartsel, 5, "")
	require.NoError(t, err)
	// One loop verifies the DMCONTROL write, one polls DMSTATUS.
	require.Equal(t, 2, countMatchedLoops(vectors))

	noLoop, err := tap.HaltHartNoLoop(hartsel, 10, "")
	require.NoError(t, err)
	require.Zero(t, countMatchedLoops(noLoop))
}

func TestResumeHartsShape(t *testing.T) {
	tap, _ := newTestTap(t)
	hartsel := bits.MustParse("0x003e0")

	vectors, err := tap.ResumeHarts(hartsel, 5, "")
	require.NoError(t, err)
	require.Equal(t, 2, countMatchedLoops(vectors))

	noLoop, err := tap.ResumeHartsNoLoop(hartsel, 10, "")
	require.NoError(t, err)
	require.Zero(t, countMatchedLoops(noLoop))
}

func TestReadDebugRegMatchedLoopShape(t *testing.T) {
	tap, _ := newTestTap(t)
	vectors, err := tap.ReadDebugReg(RegDMStatus, expectedPattern(32, map[int]bool{9: true}), 5, "")
	require.NoError(t, err)

	var ml vector.MatchedLoop
	found := false
	trailing := 0
	for _, v := range vectors {
		if m, ok := v.(vector.MatchedLoop); ok {
			ml = m
			found = true
			trailing = 0
			continue
		}
		if found {
			trailing++
		}
	}
	require.True(t, found)
	require.EqualValues(t, 5, ml.Retries)
	require.Zero(t, len(ml.Condition)%8)
	require.Zero(t, len(ml.Idle)%8)
	require.GreaterOrEqual(t, trailing, 8, "matched loop needs at least 8 trailing plain vectors")
}

func TestWriteDebugRegSiblings(t *testing.T) {
	tap, _ := newTestTap(t)

	checked, err := tap.WriteDebugReg(RegDMControl, zeros32, 1, "")
	require.NoError(t, err)
	require.Equal(t, 1, countMatchedLoops(checked))

	fireAndForget := tap.WriteDebugRegNoVerify(RegDMControl, zeros32, "")
	require.Zero(t, countMatchedLoops(fireAndForget))
}

func TestSBCSValue(t *testing.T) {
	sbcs, err := SBCSValue(true, false, false, 32)
	require.NoError(t, err)
	require.EqualValues(t, 1<<29|1<<20|2<<17, sbcs.Uint())

	sbcs, err = SBCSValue(false, true, true, 64)
	require.NoError(t, err)
	require.EqualValues(t, 1<<29|3<<17|1<<16|1<<15, sbcs.Uint())

	_, err = SBCSValue(false, false, false, 48)
	require.ErrorIs(t, err, bits.ErrOutOfRange)
}

func TestEOCExpectedValue(t *testing.T) {
	v, err := eocExpected(0)
	require.NoError(t, err)
	require.EqualValues(t, 0x80000000, v.Uint())

	v, err = eocExpected(3)
	require.NoError(t, err)
	require.EqualValues(t, 0x80000003, v.Uint())
}

func TestCheckEndOfComputationNoLoops(t *testing.T) {
	tap, _ := newTestTap(t)
	vectors, err := tap.CheckEndOfComputation(0, 10, DefaultEOCAddr)
	require.NoError(t, err)
	require.NotEmpty(t, vectors)
	require.Zero(t, countMatchedLoops(vectors))
}

func TestWaitForEndOfComputationShape(t *testing.T) {
	tap, _ := newTestTap(t)
	vectors, err := tap.WaitForEndOfComputation(0, 100, 10, DefaultEOCAddr)
	require.NoError(t, err)
	require.Equal(t, 1, countMatchedLoops(vectors))
}

func TestChunks32(t *testing.T) {
	a := bits.MustParse("0x1c008080")
	chunks, err := chunks32(a)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.EqualValues(t, 0x1c008080, chunks[0].Uint())

	wide, err := bits.FromUint(0x1234567890, 64)
	require.NoError(t, err)
	chunks, err = chunks32(wide)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	require.EqualValues(t, 0x34567890, chunks[0].Uint())
	require.EqualValues(t, 0x12, chunks[1].Uint())

	tooWide := bits.New(160)
	_, err = chunks32(tooWide)
	require.ErrorIs(t, err, bits.ErrOutOfRange)
}

func commentCount(vectors []vector.Vector, substr string) int {
	n := 0
	for _, v := range vectors {
		if norm, ok := v.(vector.Normal); ok && strings.Contains(norm.Comment, substr) {
			n++
		}
	}
	return n
}

func TestLoadElfRuns(t *testing.T) {
	tap, _ := newTestTap(t)
	mem, err := elf.NewMemory(4)
	require.NoError(t, err)
	for _, addr := range []uint64{0x1c008080, 0x1c008084, 0x1c008100} {
		mem.AddBytes(addr, []byte{1, 2, 3, 4})
	}
	vectors, err := tap.LoadElf(mem, 0, "")
	require.NoError(t, err)
	// Two contiguous runs: the address register is rewritten once per run.
	// Each write annotates the FSM entry vector and the first shift cycle.
	require.Equal(t, 2*2, commentCount(vectors, "Start contiguous run"))
	require.Zero(t, countMatchedLoops(vectors))
}

func TestLoadElfRejectsWrongWordWidth(t *testing.T) {
	tap, _ := newTestTap(t)
	mem, err := elf.NewMemory(8)
	require.NoError(t, err)
	_, err = tap.LoadElf(mem, 0, "")
	require.Error(t, err)
}
