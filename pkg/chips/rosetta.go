package chips

import (
	"github.com/pulp-platform/dumpling/pkg/bits"
	"github.com/pulp-platform/dumpling/pkg/pulptap"
	"github.com/pulp-platform/dumpling/pkg/vector"
	"github.com/spf13/cobra"
)

// rosettaPins is the pad list of the Rosetta chip.
var rosettaPins = vector.Pins{
	"chip_reset": {Physical: "pad_reset_n", Default: vector.High, Dir: vector.Input},
	"trst":       {Physical: "pad_jtag_trst", Default: vector.High, Dir: vector.Input},
	"tms":        {Physical: "pad_jtag_tms", Default: vector.Low, Dir: vector.Input},
	"tck":        {Physical: "pad_jtag_tck", Default: vector.Low, Dir: vector.Input},
	"tdi":        {Physical: "pad_jtag_tdi", Default: vector.Low, Dir: vector.Input},
	"tdo":        {Physical: "pad_jtag_tdo", Default: vector.DontCare, Dir: vector.Output},
}

// RosettaSocConfig is the extended 13-bit SoC CONFREG of Rosetta: five mode
// flags on top of the 8-bit boot register value.
//
// The polarity of the HD memory backend bit flipped between chip revisions,
// so it is explicit here instead of being baked into the frame composer:
// with EdramBitInverted set, selecting the eDRAM backend writes a 0.
type RosettaSocConfig struct {
	RegValue         bits.Array // 8 bit
	SocFllBypassEn   bool
	PerFllBypassEn   bool
	BladeDisable     bool
	EdramDisable     bool
	HDMemUseEdram    bool
	EdramBitInverted bool
}

// Bin renders the 13-bit CONFREG value MSB-first.
func (c RosettaSocConfig) Bin() string {
	hdBit := c.HDMemUseEdram
	if c.EdramBitInverted {
		hdBit = !hdBit
	}
	value := boolBit(hdBit) +
		boolBit(c.EdramDisable) +
		boolBit(c.BladeDisable) +
		boolBit(c.PerFllBypassEn) +
		boolBit(c.SocFllBypassEn) +
		c.RegValue.Bin()
	return value
}

func boolBit(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// NewRosettaCmd returns the command group for the Rosetta chip. Rosetta
// carries a single PULP TAP with an extended CONFREG next to the RISC-V
// debug TAP.
func NewRosettaCmd() *cobra.Command {
	cmd, target := NewCommand(TargetConfig{
		Name:        "rosetta",
		Short:       "Generate stimuli for the Rosetta chip",
		Pins:        rosettaPins,
		CoreID:      "0x003e0",
		RISCVIDCode: "0x249511C3",
		PulpIDCode:  "0x10102001",
		DefaultPort: "jtag_and_reset_port",
		DefaultWtb:  "multiport_ext_clk_wvtbl",
	})
	// Rosetta's CONFREG carries five extra mode bits.
	cmd.PersistentPreRunE = wrapPreRun(cmd.PersistentPreRunE, func() error {
		target.Pulp.RegConfReg.DRLen = 13
		return nil
	})
	cmd.AddCommand(
		writeSocConfigCmd(target),
		verifySocConfigCmd(target),
	)
	return cmd
}

func wrapPreRun(inner func(*cobra.Command, []string) error, after func() error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := inner(cmd, args); err != nil {
			return err
		}
		return after()
	}
}

type socConfigFlags struct {
	blade         bool
	edram         bool
	hdMemBackend  string
	bypassSocFll  bool
	bypassPerFll  bool
	invertedEdram bool
	regValue      string
}

func (f *socConfigFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.blade, "blade", true, "enable the BLADE SRAM macros")
	cmd.Flags().BoolVar(&f.edram, "edram", true, "enable the eDRAM macros")
	cmd.Flags().StringVar(&f.hdMemBackend, "hd-mem-backend", "scm", "memory backend for the HD-computing unit (edram or scm)")
	cmd.Flags().BoolVar(&f.bypassSocFll, "bypass-soc-fll", false, "bypass the FLL for the SoC clock and use the external SoC clock instead")
	cmd.Flags().BoolVar(&f.bypassPerFll, "bypass-per-fll", false, "bypass the FLL for the peripheral clock and use the external clock instead")
	cmd.Flags().BoolVar(&f.invertedEdram, "inverted-edram-bit", true, "chip revision uses the inverted polarity of the HD memory backend bit")
	cmd.Flags().StringVar(&f.regValue, "reg-value", "0x00", "the 8-bit boot register value")
}

func (f *socConfigFlags) config() (RosettaSocConfig, error) {
	value, err := bits.Parse(f.regValue)
	if err != nil {
		return RosettaSocConfig{}, err
	}
	padded := bits.New(8)
	if err := padded.SetSlice(0, value); err != nil {
		return RosettaSocConfig{}, err
	}
	return RosettaSocConfig{
		RegValue:         padded,
		SocFllBypassEn:   f.bypassSocFll,
		PerFllBypassEn:   f.bypassPerFll,
		BladeDisable:     !f.blade,
		EdramDisable:     !f.edram,
		HDMemUseEdram:    f.hdMemBackend == "edram",
		EdramBitInverted: f.invertedEdram,
	}, nil
}

func writeSocConfigCmd(t *Target) *cobra.Command {
	var flags socConfigFlags
	cmd := &cobra.Command{
		Use:   "write-soc-config",
		Short: "Program the SoC JTAG config register with the memory macro and clock bypass settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := t.requirePulp(); err != nil {
				return err
			}
			cfg, err := flags.config()
			if err != nil {
				return err
			}
			vectors, err := writeConfReg(t.Pulp, cfg.Bin(), "Program config reg.")
			if err != nil {
				return err
			}
			return t.write(vectors, false)
		},
	}
	flags.register(cmd)
	return cmd
}

func verifySocConfigCmd(t *Target) *cobra.Command {
	var flags socConfigFlags
	cmd := &cobra.Command{
		Use:   "verify-soc-config",
		Short: "Read the SoC JTAG config register back and compare it with the expected settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := t.requirePulp(); err != nil {
				return err
			}
			cfg, err := flags.config()
			if err != nil {
				return err
			}
			vectors, err := readConfReg(t.Pulp, cfg.Bin(), "Verify config reg.")
			if err != nil {
				return err
			}
			return t.write(vectors, false)
		},
	}
	flags.register(cmd)
	return cmd
}

func writeConfReg(tap *pulptap.Tap, value, comment string) ([]vector.Vector, error) {
	return tap.WriteConfRegRaw(value, comment)
}

func readConfReg(tap *pulptap.Tap, expected, comment string) ([]vector.Vector, error) {
	return tap.ReadConfRegRaw(expected, comment)
}
