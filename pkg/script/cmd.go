package script

import (
	"github.com/pulp-platform/dumpling/pkg/chips"
	"github.com/spf13/cobra"
)

// NewScriptCmd returns the "script" command: run a Lua file against a chip
// described by a definition file and collect the vectors it writes.
func NewScriptCmd() *cobra.Command {
	var (
		defPath         string
		output          string
		portName        string
		wtbName         string
		deviceCycleName string
	)
	cmd := &cobra.Command{
		Use:   "script <file.lua>",
		Short: "Run a Lua script that generates custom stimuli sequences",
		Long: `Run a Lua script that generates custom stimuli sequences.

The script sees the chip's vector builder, JTAG driver and debug TAPs as
global Lua modules, e.g.:

  writer.write(jtag.reset())
  writer.write(riscv.init_dmi())
  writer.write(riscv.halt("0x003e0"))
  writer.write(pulp.write32("0x1c008080", "0xdeadbeef"))`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := chips.NewTargetFromDef(defPath, output, portName, wtbName, deviceCycleName)
			if err != nil {
				return err
			}
			defer target.Close()
			runner := NewRunner(target)
			defer runner.Close()
			return runner.RunFile(args[0])
		},
	}
	cmd.Flags().StringVar(&defPath, "chip-def", "chip.yaml", "path to the chip definition file")
	cmd.Flags().StringVarP(&output, "output", "o", "vectors.avc", "output stimuli file")
	cmd.Flags().StringVarP(&portName, "port-name", "p", "jtag_and_reset_port", "port name for the PORT statement")
	cmd.Flags().StringVarP(&wtbName, "wtb-name", "w", "Standard ATI", "wave table name")
	cmd.Flags().StringVarP(&deviceCycleName, "device_cycle_name", "d", "dvc_1", "device cycle name annotated on every vector")
	return cmd
}
