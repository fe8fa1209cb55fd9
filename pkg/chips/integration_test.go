package chips

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/pulp-platform/dumpling/pkg/bits"
	"github.com/pulp-platform/dumpling/pkg/hp93000"
	"github.com/pulp-platform/dumpling/pkg/jtag"
	"github.com/pulp-platform/dumpling/pkg/pulptap"
	"github.com/pulp-platform/dumpling/pkg/riscvdbg"
	"github.com/pulp-platform/dumpling/pkg/vector"
)

// buildSiracusaChain assembles the Siracusa TAP chain outside the CLI
// plumbing: the RISC-V debug TAP closest to TDI, the PULP TAP behind it.
func buildSiracusaChain(t *testing.T) (*vector.Builder, *jtag.Driver, *riscvdbg.Tap, *pulptap.Tap) {
	t.Helper()
	builder := vector.NewBuilder(siracusaPins)
	driver, err := jtag.NewDriver(builder)
	if err != nil {
		t.Fatal(err)
	}
	riscv, err := riscvdbg.New(driver, "0x249511C3")
	if err != nil {
		t.Fatal(err)
	}
	pulp, err := pulptap.New(driver, "0x10102001")
	if err != nil {
		t.Fatal(err)
	}
	driver.AddTap(riscv.Tap)
	driver.AddTap(pulp.Tap)
	return builder, driver, riscv, pulp
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

func reverseStr(s string) string {
	b := []byte(s)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}

func shiftCycleCount(vectors []vector.Vector, entry, exit int) int {
	n := 0
	for _, v := range vectors[entry : len(vectors)-exit] {
		if norm, ok := v.(vector.Normal); ok {
			n += int(norm.Repeat)
		}
	}
	return n
}

func TestHaltReadPCResumeRoundTrip(t *testing.T) {
	_, _, riscv, _ := buildSiracusaChain(t)
	hartsel := bits.MustParse("0x003e0")
	expectedPC := bits.MustParse("0x1c008080")

	// With two 5-bit TAPs the IR shift stream of the DMIACCESS selection is
	// ten cycles long.
	initVectors := riscv.InitDMI()
	if got := shiftCycleCount(initVectors, 4, 3); got != 10 {
		t.Errorf("IR shift of %d cycles, want 10", got)
	}

	vectors := initVectors
	vectors = append(vectors, riscv.SetDMActive(true)...)
	halt, err := riscv.HaltHartNoLoop(hartsel, 10, "")
	if err != nil {
		t.Fatal(err)
	}
	vectors = append(vectors, halt...)
	read, err := riscv.ReadRegAbstractCmdNoLoop(riscvdbg.CSRDPC, expectedPC.Bin(), 10, "Reading DPC")
	if err != nil {
		t.Fatal(err)
	}
	vectors = append(vectors, read...)
	resume, err := riscv.ResumeHartsNoLoop(hartsel, 10, "")
	if err != nil {
		t.Fatal(err)
	}
	vectors = append(vectors, resume...)

	// The whole flow avoids matched loops, so it must round-trip through
	// the AVC file vector by vector.
	path := filepath.Join(t.TempDir(), "halt.avc")
	w, err := hp93000.NewVectorWriter(path, siracusaPins, hp93000.WithPort("jtag_and_reset_port"))
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteVectors(vectors, false); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := hp93000.NewVectorReader(path, siracusaPins)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	parsed, err := r.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(parsed) != len(vectors) {
		t.Fatalf("round trip changed vector count: %d -> %d", len(vectors), len(parsed))
	}
	for i := range vectors {
		want := vectors[i].(vector.Normal)
		got := parsed[i].(vector.Normal)
		if !got.StateEqual(want) || got.Repeat != want.Repeat || got.Comment != want.Comment {
			t.Fatalf("vector %d differs after round trip", i)
		}
	}

	// The generation left no matched loop anywhere in the stream.
	for _, v := range vectors {
		if _, ok := v.(vector.MatchedLoop); ok {
			t.Fatal("no-loop flow emitted a matched loop")
		}
	}
}

func TestWriteMemSequence(t *testing.T) {
	_, _, _, pulp := buildSiracusaChain(t)
	addr := bits.MustParse("0x1c008080")
	value := bits.MustParse("0xdeadbeef")

	vectors := pulp.Init()
	write, err := pulp.Write32(addr, []bits.Array{value}, "Write to start address")
	if err != nil {
		t.Fatal(err)
	}
	vectors = append(vectors, write...)
	verify, err := pulp.Read32NoLoop(addr, []bits.Array{value}, 2, "")
	if err != nil {
		t.Fatal(err)
	}
	vectors = append(vectors, verify...)

	// On the two-tap chain the module select frame spans 3+7+3 vectors (the
	// 6-bit module id plus one bypass bit) and the burst setup 3+54+3. The
	// Siracusa PULP TAP sits closest to TDO, so the readout that follows
	// begins with the status poll right after the shift-DR entry: no dummy
	// bypass bits.
	read := verify[13+60:]
	if got := pinTrace(read[3:5], "tdo"); got != "01" {
		t.Errorf("status poll tdo trace %q, want \"01\"", got)
	}
	wantData := reverseStr(value.Bin()) + strings.Repeat("X", 32)
	if got := pinTrace(read[5:5+64], "tdo"); got != wantData {
		t.Errorf("data readout tdo trace %q, want %q", got, wantData)
	}
	if got := pinTrace(read[3:5+64], "tdi"); got != strings.Repeat("0", 66) {
		t.Errorf("readout must shift zeros on tdi, got %q", got)
	}

	path := filepath.Join(t.TempDir(), "writemem.avc")
	w, err := hp93000.NewVectorWriter(path, siracusaPins)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteVectors(vectors, true); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := hp93000.NewVectorReader(path, siracusaPins)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	parsed, err := r.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(parsed) == 0 {
		t.Fatal("no vectors written")
	}
}
