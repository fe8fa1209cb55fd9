package chips

import (
	"fmt"
	"math"
	"sort"

	"github.com/pulp-platform/dumpling/pkg/bits"
	"github.com/pulp-platform/dumpling/pkg/vector"
	"github.com/spf13/cobra"
)

// siracusaPins is the pad list of the Siracusa test chip.
var siracusaPins = vector.Pins{
	"chip_reset": {Physical: "reset_n", Default: vector.High, Dir: vector.Input},
	"trst":       {Physical: "jtag_trst", Default: vector.High, Dir: vector.Input},
	"tms":        {Physical: "jtag_tms", Default: vector.Low, Dir: vector.Input},
	"tck":        {Physical: "jtag_tck", Default: vector.Low, Dir: vector.Input},
	"tdi":        {Physical: "jtag_tdi", Default: vector.Low, Dir: vector.Input},
	"tdo":        {Physical: "jtag_tdo", Default: vector.DontCare, Dir: vector.Output},
}

// gpioFuncModes maps a GPIO pad mux function name to its register value.
// Mode 0 connects the pad to the internal configuration register.
var gpioFuncModes = map[string]uint64{
	"register":          0,
	"port_gpio_gpio00":  1,
	"port_i2c0_scl":     2,
	"port_i2c0_sda":     3,
	"port_i3c0_puc":     4,
	"port_i3c0_scl":     5,
	"port_i3c0_sda":     6,
	"port_i3c1_puc":     7,
	"port_i3c1_scl":     8,
	"port_i3c1_sda":     9,
	"port_qspim0_csn0":  10,
	"port_qspim0_csn1":  11,
	"port_qspim0_csn2":  12,
	"port_qspim0_csn3":  13,
	"port_qspim0_sck":   14,
	"port_qspim0_sdio0": 15,
	"port_qspim0_sdio1": 16,
	"port_qspim0_sdio2": 17,
	"port_qspim0_sdio3": 18,
	"port_qspis0_csn":   19,
	"port_qspis0_sck":   20,
	"port_qspis0_sdio0": 21,
	"port_qspis0_sdio1": 22,
	"port_qspis0_sdio2": 23,
	"port_qspis0_sdio3": 24,
	"port_uart0_rx":     25,
	"port_uart0_tx":     26,
}

// NewSiracusaCmd returns the command group for the Siracusa chip: a RISC-V
// debug TAP chained in front of the PULP TAP, the fabric controller as hart
// 0x3e0.
func NewSiracusaCmd() *cobra.Command {
	cmd, target := NewCommand(TargetConfig{
		Name:        "siracusa",
		Short:       "Generate stimuli for the GF22 Siracusa chip",
		Pins:        siracusaPins,
		CoreID:      "0x003e0",
		RISCVIDCode: "0x249511C3",
		PulpIDCode:  "0x10102001",
		DefaultPort: "jtag_and_reset_port",
		DefaultWtb:  "multiport",
	})
	cmd.AddCommand(
		configureGPIOCmd(target),
		changeFreqCmd(target),
	)
	return cmd
}

// The per-pad mux configuration registers start here, one 32-bit register
// per pad.
const siracusaPadMuxBase = 0x1a140000

func configureGPIOCmd(t *Target) *cobra.Command {
	names := make([]string, 0, len(gpioFuncModes))
	for name := range gpioFuncModes {
		names = append(names, name)
	}
	sort.Strings(names)
	cmd := &cobra.Command{
		Use:   "configure-gpio <gpio_nr> <function>",
		Short: "Configure the provided GPIO to expose the desired function",
		Long: fmt.Sprintf(`Configure the provided GPIO to expose the desired function.

Available functions:
  %v`, names),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := t.requirePulp(); err != nil {
				return err
			}
			var gpioNr int
			if _, err := fmt.Sscanf(args[0], "%d", &gpioNr); err != nil || gpioNr < 0 || gpioNr > 42 {
				return fmt.Errorf("gpio number %q must be an integer in [0, 42]", args[0])
			}
			mode, ok := gpioFuncModes[args[1]]
			if !ok {
				return fmt.Errorf("unknown GPIO function %q", args[1])
			}
			configAddr, err := bits.FromUint(siracusaPadMuxBase+4*uint64(gpioNr), 32)
			if err != nil {
				return err
			}
			modeBits, err := bits.FromUint(mode, 32)
			if err != nil {
				return err
			}
			vectors := t.Pulp.Init()
			write, err := t.Pulp.Write32(configAddr, []bits.Array{modeBits},
				fmt.Sprintf("Configure GPIO%02d to %s", gpioNr, args[1]))
			if err != nil {
				return err
			}
			return t.write(append(vectors, write...), false)
		},
	}
	return cmd
}

// PLL register banks, one per clock domain.
var siracusaPLLs = map[string]uint64{
	"PLL1_SOC":     0x1a100000,
	"PLL2_CLUSTER": 0x1a100010,
	"PLL3_PER":     0x1a100020,
}

func changeFreqCmd(t *Target) *cobra.Command {
	var (
		enable              bool
		clkDiv              uint
		lock                bool
		lockCount           uint
		vcoDiv              bool
		failsafeEn          bool
		freqChangeMaskCount uint
		waitCycles          uint
	)
	cmd := &cobra.Command{
		Use:   "change-freq <PLL> <MULT>",
		Short: "Generate vectors to change the multiplication factor and various other settings of the internal PLLs",
		Long: `Generate vectors to change the multiplication factor (MULT) and various
other settings of the internal PLLs.

The PLL argument selects one of PLL1_SOC, PLL2_CLUSTER and PLL3_PER. The
output frequency is ref_freq*MULT/clk-div. Two registers are written; the
wait between the writes gives the PLL time to become stable again.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := t.requirePulp(); err != nil {
				return err
			}
			base, ok := siracusaPLLs[args[0]]
			if !ok {
				return fmt.Errorf("unknown PLL %q", args[0])
			}
			var mult uint64
			if _, err := fmt.Sscanf(args[1], "%d", &mult); err != nil || mult < 256 || mult > 16383 {
				return fmt.Errorf("MULT %q must be an integer in [256, 16383]", args[1])
			}
			switch lockCount {
			case 8, 16, 32, 64:
			default:
				return fmt.Errorf("lock count %d must be one of 8, 16, 32, 64", lockCount)
			}
			if clkDiv < 1 || clkDiv > 16 {
				return fmt.Errorf("clock divider %d must be in [1, 16]", clkDiv)
			}
			if freqChangeMaskCount > 255 {
				return fmt.Errorf("freq change mask count %d must be in [0, 255]", freqChangeMaskCount)
			}
			lockCountValue := uint64(math.Round(math.Log2(float64(lockCount)))) - 3
			config1, err := bits.PackLSB(
				bits.Bool(enable),
				bits.Lit("0b1"),
				bits.Lit("0b0"),
				bits.Lit("0b0"),
				bits.Uint(2, lockCountValue),
				bits.Bool(lock),
				bits.Lit("0b1"),
				bits.Lit("0x000000"),
			)
			if err != nil {
				return err
			}
			config2, err := bits.PackLSB(
				bits.Uint(14, mult),
				bits.Uint(4, uint64(clkDiv-1)),
				bits.Bool(vcoDiv),
				bits.Bool(failsafeEn),
				bits.Uint(8, uint64(freqChangeMaskCount)),
				bits.Lit("0x0"),
			)
			if err != nil {
				return err
			}
			cfg1Addr, _ := bits.FromUint(base+0x4, 32)
			cfg2Addr, _ := bits.FromUint(base+0x8, 32)

			vectors := t.Pulp.Init()
			write1, err := t.Pulp.Write32(cfg1Addr, []bits.Array{config1},
				fmt.Sprintf("Configure %s cfg1 to %s", args[0], config1))
			if err != nil {
				return err
			}
			vectors = append(vectors, write1...)
			vectors = append(vectors, t.Driver.IdleVector(waitCycles, ""))
			write2, err := t.Pulp.Write32(cfg2Addr, []bits.Array{config2},
				fmt.Sprintf("Configure %s cfg2 to %s", args[0], config2))
			if err != nil {
				return err
			}
			vectors = append(vectors, write2...)
			vectors = append(vectors, t.Driver.IdleVector(waitCycles, ""))
			return t.write(vectors, false)
		},
	}
	cmd.Flags().BoolVar(&enable, "enable", true, "enable the PLL altogether; when disabled the other options are still programmed")
	cmd.Flags().UintVar(&clkDiv, "clk-div", 1, "clock division factor of DCO clock to PLL output clock")
	cmd.Flags().BoolVarP(&lock, "lock", "l", true, "gate the output clock with the PLL lock signal")
	cmd.Flags().UintVar(&lockCount, "lock-count", 16, "the number of stable cycles until LOCK is asserted (8, 16, 32, 64)")
	cmd.Flags().BoolVar(&vcoDiv, "vco-div", true, "enable the fixed divide-by-2 VCO clock divider")
	cmd.Flags().BoolVar(&failsafeEn, "failsafe-en", true, "enable the failsafe feature within the PLL")
	cmd.Flags().UintVar(&freqChangeMaskCount, "freq-change-mask-count", 32, "the number of cycles to mask the output clock during frequency changes")
	cmd.Flags().UintVarP(&waitCycles, "wait-cycles", "w", 200, "the number of jtag cycles to wait between writing the PLL config registers")
	return cmd
}
