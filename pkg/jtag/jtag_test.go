package jtag

import (
	"strings"
	"testing"

	"github.com/pulp-platform/dumpling/pkg/vector"
)

var testPins = vector.Pins{
	"chip_reset": {Physical: "pad_reset_n", Default: vector.High, Dir: vector.Input},
	"trst":       {Physical: "pad_jtag_trst", Default: vector.High, Dir: vector.Input},
	"tms":        {Physical: "pad_jtag_tms", Default: vector.Low, Dir: vector.Input},
	"tck":        {Physical: "pad_jtag_tck", Default: vector.Low, Dir: vector.Input},
	"tdi":        {Physical: "pad_jtag_tdi", Default: vector.Low, Dir: vector.Input},
	"tdo":        {Physical: "pad_jtag_tdo", Default: vector.DontCare, Dir: vector.Output},
}

func newTestDriver(t *testing.T) *Driver {
	t.Helper()
	d, err := NewDriver(vector.NewBuilder(testPins))
	if err != nil {
		t.Fatal(err)
	}
	return d
}

// pinTrace extracts the state of one pin over a vector sequence.
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

func TestNewDriverRequiresJtagPins(t *testing.T) {
	pins := vector.Pins{"tck": {Physical: "tck", Default: vector.Low, Dir: vector.Input}}
	if _, err := NewDriver(vector.NewBuilder(pins)); err == nil {
		t.Fatal("driver accepted a builder without the JTAG pins")
	}
}

func TestReset(t *testing.T) {
	d := newTestDriver(t)
	vectors := d.Reset()
	if len(vectors) != 20 {
		t.Fatalf("reset is %d vectors, want 20", len(vectors))
	}
	trst := pinTrace(vectors, "trst")
	if trst != strings.Repeat("0", 10)+strings.Repeat("1", 10) {
		t.Errorf("trst trace %s", trst)
	}
	tck := pinTrace(vectors[10:], "tck")
	if tck != strings.Repeat("1", 10) {
		t.Errorf("tck not clocked after reset release: %s", tck)
	}
}

func TestIdleVectors(t *testing.T) {
	d := newTestDriver(t)
	vectors := d.IdleVectors(5)
	if len(vectors) != 5 {
		t.Fatalf("got %d vectors", len(vectors))
	}
	for _, v := range vectors {
		n := v.(vector.Normal)
		if n.State["tck"] != vector.Low || n.State["tms"] != vector.Low {
			t.Errorf("idle vector drives tck=%c tms=%c", n.State["tck"], n.State["tms"])
		}
		// Idle keeps non-JTAG pins at their current state.
		if n.State["chip_reset"] != vector.High {
			t.Errorf("idle vector touched chip_reset")
		}
	}
}

// shiftTDI extracts the TDI stream of the shift section of a SetIR/SetDR
// result: the vectors after the FSM entry and before the exit sequence.
func shiftTDI(t *testing.T, vectors []vector.Vector, entry, exit int) string {
	t.Helper()
	if len(vectors) <= entry+exit {
		t.Fatalf("only %d vectors", len(vectors))
	}
	return pinTrace(vectors[entry:len(vectors)-exit], "tdi")
}

func TestSetIRBitOrder(t *testing.T) {
	// Chain: t0 closest to TDI, t2 closest to TDO.
	d := newTestDriver(t)
	t0 := NewTap("t0", 3)
	t1 := NewTap("t1", 5)
	t2 := NewTap("t2", 4)
	d.AddTap(t0)
	d.AddTap(t1)
	d.AddTap(t2)

	irValue := "10001"
	vectors := d.SetIR(t1, irValue, "")
	// 4 vectors enter shift-IR, 3 leave it.
	got := shiftTDI(t, vectors, 4, 3)
	// Farthest TAP first, every value bit-reversed, targeted TAP carries
	// its IR value, all others their all-ones bypass pattern.
	want := "1111" + "10001" + "111"
	if got != want {
		t.Errorf("shift stream %s, want %s", got, want)
	}
	if len(got) != 3+5+4 {
		t.Errorf("stream length %d", len(got))
	}
}

func TestSetIRBypassNeutrality(t *testing.T) {
	d := newTestDriver(t)
	t0 := NewTap("t0", 5)
	t1 := NewTap("t1", 5)
	d.AddTap(t0)
	d.AddTap(t1)

	vectors := d.SetIR(t0, "01010", "")
	got := shiftTDI(t, vectors, 4, 3)
	// t1 (farther from TDI) must receive all ones, i.e. stay in BYPASS.
	if got[:5] != "11111" {
		t.Errorf("non-addressed tap IR stream %s, want all ones", got[:5])
	}
	if got[5:] != "01010" {
		t.Errorf("addressed tap IR stream %s", got[5:])
	}
}

func TestSetDRBypassBits(t *testing.T) {
	d := newTestDriver(t)
	t0 := NewTap("t0", 5)
	t1 := NewTap("t1", 5)
	d.AddTap(t0)
	d.AddTap(t1)

	// Non-target TAPs contribute exactly one zero bypass bit each.
	vectors := d.SetDR(t0, "1100", "", "", false)
	got := shiftTDI(t, vectors, 3, 3)
	if got != "0"+"0011" {
		t.Errorf("DR stream %s, want 00011", got)
	}
}

func TestShiftExitDrivesTMS(t *testing.T) {
	d := newTestDriver(t)
	vectors := d.Shift("101", "", "", false)
	// 3 shift cycles plus update, run-test-idle and idle.
	if len(vectors) != 6 {
		t.Fatalf("got %d vectors, want 6", len(vectors))
	}
	tms := pinTrace(vectors[:3], "tms")
	if tms != "001" {
		t.Errorf("tms during shift: %s, want 001", tms)
	}
}

func TestShiftNoExitKeepsTMSLow(t *testing.T) {
	d := newTestDriver(t)
	vectors := d.Shift("101", "", "", true)
	if len(vectors) != 3 {
		t.Fatalf("got %d vectors, want 3", len(vectors))
	}
	if tms := pinTrace(vectors, "tms"); tms != "000" {
		t.Errorf("tms during noexit shift: %s", tms)
	}
}

func TestShiftComparesTDO(t *testing.T) {
	d := newTestDriver(t)
	vectors := d.Shift("000", "X1X", "", true)
	tdo := pinTrace(vectors, "tdo")
	if tdo != "X1X" {
		t.Errorf("tdo trace %s, want X1X", tdo)
	}
	// An all-don't-care expectation leaves TDO uncompared.
	vectors = d.Shift("000", "XXX", "", true)
	if tdo := pinTrace(vectors, "tdo"); tdo != "XXX" {
		t.Errorf("tdo trace %s, want XXX", tdo)
	}
}

func TestReadRegRejectsForeignRegister(t *testing.T) {
	d := newTestDriver(t)
	t0 := NewTap("t0", 5)
	t1 := NewTap("t1", 5)
	d.AddTap(t0)
	d.AddTap(t1)
	foreign := t1.AddRegister("FOREIGN", "00001", 8, "")
	if _, err := d.ReadReg(t0, foreign, "00000000", ""); err == nil {
		t.Error("register of another tap accepted")
	}
	if _, err := d.WriteReg(t0, foreign, "00000000", ""); err == nil {
		t.Error("register of another tap accepted")
	}
}

func TestPollRegShape(t *testing.T) {
	d := newTestDriver(t)
	t0 := NewTap("t0", 5)
	d.AddTap(t0)
	reg := t0.AddRegister("STATUS", "00011", 4, "")

	vectors, err := d.PollReg(t0, reg, "1XXX", 5, 4, "")
	if err != nil {
		t.Fatal(err)
	}
	ml, ok := vectors[0].(vector.MatchedLoop)
	if !ok {
		t.Fatalf("first vector is %T, want MatchedLoop", vectors[0])
	}
	if len(ml.Condition)%8 != 0 || len(ml.Condition) == 0 {
		t.Errorf("condition length %d not a positive multiple of 8", len(ml.Condition))
	}
	if len(ml.Idle)%8 != 0 || len(ml.Idle) == 0 {
		t.Errorf("idle length %d not a positive multiple of 8", len(ml.Idle))
	}
	if ml.Retries != 5 {
		t.Errorf("retries %d", ml.Retries)
	}
	// At least eight trailing plain vectors guard the next matched loop.
	if len(vectors)-1 < 8 {
		t.Fatalf("only %d trailing vectors", len(vectors)-1)
	}
	for _, v := range vectors[1:] {
		if _, ok := v.(vector.Normal); !ok {
			t.Fatalf("trailing vector is %T", v)
		}
	}
}

func TestBypassRegister(t *testing.T) {
	tap := NewTap("x", 4)
	if tap.Bypass.IRValue != "1111" {
		t.Errorf("bypass IR %s", tap.Bypass.IRValue)
	}
	if tap.Bypass.DRLen != 1 {
		t.Errorf("bypass DR length %d", tap.Bypass.DRLen)
	}
	if !tap.HasRegister(tap.Bypass) {
		t.Error("bypass register not part of the tap")
	}
}
