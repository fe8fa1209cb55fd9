package chips

import (
	"fmt"
	"sort"

	"github.com/pulp-platform/dumpling/pkg/vector"
	"github.com/spf13/cobra"
)

// vegaPins is the pad list of the Vega chip.
var vegaPins = vector.Pins{
	"chip_reset": {Physical: "pad_reset_n", Default: vector.High, Dir: vector.Input},
	"trst":       {Physical: "pad_jtag_trst", Default: vector.High, Dir: vector.Input},
	"tms":        {Physical: "pad_jtag_tms", Default: vector.Low, Dir: vector.Input},
	"tck":        {Physical: "pad_jtag_tck", Default: vector.Low, Dir: vector.Input},
	"tdi":        {Physical: "pad_jtag_tdi", Default: vector.Low, Dir: vector.Input},
	"tdo":        {Physical: "pad_jtag_tdo", Default: vector.DontCare, Dir: vector.Output},
}

// vegaObservableSignals maps the internal signals routable to the PWM3
// observability pad to their mux selector values.
var vegaObservableSignals = map[string]uint{
	"pmu_soc_trc_clk_o":            0,
	"pmu_soc_rst_ret_n_o":          1,
	"pmu_soc_rst_control_o":        2,
	"pmu_soc_rst_control_ack_i":    3,
	"pmu_soc_clken_o":              4,
	"pmu_soc_trc_ret_n_o":          5,
	"pmu_soc_trc_pok_ret_i":        6,
	"pmu_cluster_trc_ret_n_o":      7,
	"pmu_cluster_trc_pok_ret_i":    8,
	"pmu_csi2_trc_ext_n_o":         9,
	"pmu_csi2_trc_pok_ext_i":       10,
	"pmu_emram_core_trc_ext_n_o":   11,
	"pmu_emram_core_trc_pok_ext_i": 12,
	"pmu_smartwake_trc_ext_n_o":    13,
	"pmu_smartwake_trc_pok_ext_i":  14,
	"ref_clk_i":                    15,
	"por_n_i":                      16,
	"io_ls_avd_ok_o":               17,
	"io_ls_pok_i":                  18,
	"io_hs_avd_ok_o":               19,
	"io_hs_pok_i":                  20,
	"emram_io_avd_ok_o":            21,
	"emram_io_pok_i":               22,
	"safe_rar_rok_i":               23,
	"safe_rar_vsel_strobe_o":       24,
	"safe_rar_vsel_reg_o":          25,
	"logic_rar_rok_i":              26,
	"logic_rar_vsel_strobe_o":      27,
	"vref_06_en_o":                 28,
	"vref_12_en_o":                 29,
	"vref_06_ok_i":                 30,
	"vref_12_ok_i":                 31,
}

// NewVegaCmd returns the command group for the Vega chip. Vega's PULP TAP
// sits closest to TDI and carries the observability register.
func NewVegaCmd() *cobra.Command {
	cmd, target := NewCommand(TargetConfig{
		Name:             "vega",
		Short:            "Generate stimuli for the GF22 Vega chip",
		Pins:             vegaPins,
		CoreID:           "0x003e0",
		RISCVIDCode:      "0x249511C3",
		PulpIDCode:       "0x10102001",
		VegaPulpTap:      true,
		PulpClosestToTDI: true,
		DefaultPort:      "jtag_and_reset_port",
		DefaultWtb:       "multiport",
	})
	cmd.AddCommand(
		enableObservabilityCmd(target),
		disableObservabilityCmd(target),
	)
	return cmd
}

func enableObservabilityCmd(t *Target) *cobra.Command {
	var (
		drvStrength uint
		pullup      bool
		pulldown    bool
	)
	names := make([]string, 0, len(vegaObservableSignals))
	for name := range vegaObservableSignals {
		names = append(names, name)
	}
	sort.Strings(names)
	cmd := &cobra.Command{
		Use:   "enable-observability <signal>",
		Short: "Generate vectors to route an internal signal to the PWM3 observability pad",
		Long: fmt.Sprintf(`Generate vectors to route an internal signal to the PWM3 observability pad.

Use the disable-observability command to restore the pad's default mode of
operation. Available signals:
  %v`, names),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := t.requirePulp(); err != nil {
				return err
			}
			signal, ok := vegaObservableSignals[args[0]]
			if !ok {
				return fmt.Errorf("unknown observable signal %q", args[0])
			}
			vectors, err := t.Pulp.EnableObservability(signal, drvStrength, pullup, pulldown,
				fmt.Sprintf("Enable observability of %s", args[0]))
			if err != nil {
				return err
			}
			return t.write(vectors, false)
		},
	}
	cmd.Flags().UintVar(&drvStrength, "drv-strength", 0, "the driving strength of the observability pad (0-3)")
	cmd.Flags().BoolVar(&pullup, "pullup", false, "enable the pull-up resistor of the observability pad")
	cmd.Flags().BoolVar(&pulldown, "pulldown", false, "enable the pull-down resistor of the observability pad")
	return cmd
}

func disableObservabilityCmd(t *Target) *cobra.Command {
	return &cobra.Command{
		Use:   "disable-observability",
		Short: "Generate vectors to restore the default operation mode of the observability pad",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := t.requirePulp(); err != nil {
				return err
			}
			vectors, err := t.Pulp.DisableObservability()
			if err != nil {
				return err
			}
			return t.write(vectors, false)
		},
	}
}
