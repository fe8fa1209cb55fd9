package chips

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pulp-platform/dumpling/pkg/bits"
	"github.com/pulp-platform/dumpling/pkg/vector"
)

func TestParseAddrValues(t *testing.T) {
	data, err := parseAddrValues([]string{
		"0x1c008080=0xdeadbeef#Write to start address",
		"0x1c008084=0x12345678",
		"0x80=0x1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 3 {
		t.Fatalf("got %d mappings", len(data))
	}
	if data[0].Addr.Uint() != 0x1c008080 || data[0].Value.Uint() != 0xdeadbeef {
		t.Errorf("mapping 0: %x=%x", data[0].Addr.Uint(), data[0].Value.Uint())
	}
	if data[0].Comment != "Write to start address" {
		t.Errorf("comment %q", data[0].Comment)
	}
	if data[1].Comment != "" {
		t.Errorf("missing comment parsed as %q", data[1].Comment)
	}
	// Short literals zero extend to 32 bits.
	if data[2].Addr.Len() != 32 || data[2].Addr.Uint() != 0x80 {
		t.Errorf("mapping 2 addr: %d bits, 0x%x", data[2].Addr.Len(), data[2].Addr.Uint())
	}
}

func TestParseAddrValuesRejectsGarbage(t *testing.T) {
	for _, bad := range []string{
		"1c008080=0xdeadbeef",
		"0x1c008080",
		"0x1c008080=deadbeef",
		"0x1c0080801=0x0", // 9 digits
		"",
	} {
		if _, err := parseAddrValues([]string{bad}); err == nil {
			t.Errorf("argument %q accepted", bad)
		}
	}
}

const testChipDef = `
name: testchip
core-id: "0x003e0"
eoc-addr: "0x1a1040a0"
pins:
  chip_reset: {physical: pad_reset_n, default: "1", direction: input}
  trst:       {physical: pad_jtag_trst, default: "1", direction: input}
  tms:        {physical: pad_jtag_tms, default: "0", direction: input}
  tck:        {physical: pad_jtag_tck, default: "0", direction: input}
  tdi:        {physical: pad_jtag_tdi, default: "0", direction: input}
  tdo:        {physical: pad_jtag_tdo, default: "X", direction: output}
taps:
  riscv-debug: {idcode: "0x249511C3"}
  pulp:        {idcode: "0x10102001"}
`

func writeChipDef(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chip.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadChipDef(t *testing.T) {
	def, err := LoadChipDef(writeChipDef(t, testChipDef))
	if err != nil {
		t.Fatal(err)
	}
	if def.Name != "testchip" {
		t.Errorf("name %q", def.Name)
	}
	pins, err := def.PinDecls()
	if err != nil {
		t.Fatal(err)
	}
	if len(pins) != 6 {
		t.Fatalf("got %d pins", len(pins))
	}
	if pins["tdo"].Dir != vector.Output || pins["tdo"].Default != vector.DontCare {
		t.Errorf("tdo declaration %+v", pins["tdo"])
	}
	if pins["tck"].Physical != "pad_jtag_tck" {
		t.Errorf("tck physical %q", pins["tck"].Physical)
	}
}

func TestLoadChipDefRejectsBadInput(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing name", "pins:\n  tck: {physical: tck, default: \"0\"}\n"},
		{"no pins", "name: x\n"},
		{"unknown tap", "name: x\npins:\n  tck: {physical: tck, default: \"0\"}\ntaps:\n  weird: {idcode: \"0x1\"}\n"},
		{"tap without idcode", "name: x\npins:\n  tck: {physical: tck, default: \"0\"}\ntaps:\n  pulp: {}\n"},
		{"not yaml", "::::"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadChipDef(writeChipDef(t, tt.content)); err == nil {
				t.Error("accepted")
			}
		})
	}
}

func TestPinDeclsRejectsBadStates(t *testing.T) {
	def := &ChipDef{
		Name: "x",
		Pins: map[string]PinDef{"tck": {Physical: "tck", Default: "7"}},
	}
	if _, err := def.PinDecls(); err == nil {
		t.Error("illegal default state accepted")
	}
	def.Pins = map[string]PinDef{"tck": {Physical: "tck", Default: "0", Direction: "sideways"}}
	if _, err := def.PinDecls(); err == nil {
		t.Error("illegal direction accepted")
	}
}

func TestNewTargetFromDef(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.avc")
	target, err := NewTargetFromDef(writeChipDef(t, testChipDef), out, "port", "wtb", "dvc_1")
	if err != nil {
		t.Fatal(err)
	}
	defer target.Close()
	if target.RISCV == nil || target.Pulp == nil {
		t.Fatal("taps not constructed")
	}
	// RISC-V debug TAP sits closest to TDI.
	if target.Driver.TapIndex(target.RISCV.Tap) != 0 {
		t.Errorf("riscv tap at index %d", target.Driver.TapIndex(target.RISCV.Tap))
	}
	vectors, err := target.RISCV.VerifyIDCode()
	if err != nil {
		t.Fatal(err)
	}
	if err := target.Writer.WriteVectors(vectors, false); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "out.wtb")); err != nil {
		t.Errorf("wtb companion missing: %v", err)
	}
}

func TestRosettaSocConfigPolarity(t *testing.T) {
	value := bits.New(8)
	base := RosettaSocConfig{RegValue: value, HDMemUseEdram: true}

	base.EdramBitInverted = true
	inverted := base.Bin()
	base.EdramBitInverted = false
	straight := base.Bin()

	if len(inverted) != 13 || len(straight) != 13 {
		t.Fatalf("config widths %d/%d, want 13", len(inverted), len(straight))
	}
	if inverted[0] == straight[0] {
		t.Error("polarity flag must flip the HD memory backend bit")
	}
	if inverted[1:] != straight[1:] {
		t.Error("polarity flag must only affect the top bit")
	}
}

func TestRosettaSocConfigLayout(t *testing.T) {
	cfg := RosettaSocConfig{
		RegValue:       bits.MustParse("0xa5"),
		SocFllBypassEn: true,
		BladeDisable:   true,
	}
	got := cfg.Bin()
	// MSB first: hd bit, edram disable, blade disable, per fll, soc fll,
	// then the 8-bit register value.
	want := "0" + "0" + "1" + "0" + "1" + "10100101"
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}
