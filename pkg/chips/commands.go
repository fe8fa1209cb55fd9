package chips

import (
	"fmt"

	"github.com/pulp-platform/dumpling/pkg/bits"
	"github.com/pulp-platform/dumpling/pkg/riscvdbg"
	"github.com/pulp-platform/dumpling/pkg/vector"
	"github.com/spf13/cobra"
)

func executeElfCmd(t *Target) *cobra.Command {
	var (
		elfPath       string
		returnCode    int
		eocWaitCycles uint
		verify        bool
		compress      bool
		noReset       bool
	)
	cmd := &cobra.Command{
		Use:   "execute-elf",
		Short: "Generate vectors to load and execute the given elf binary",
		Long: `Generate vectors to load and execute the given elf binary.

The command parses the binary supplied with the '--elf' parameter and writes
the generated stimuli to the output file. The vectors take care of resetting
the chip, halting the core, preloading the binary with optional verification
and resuming the core. If an expected return code is supplied with
'--return-code', either a matched loop poll or a single check after
'--eoc-wait-cycles' idle cycles for end of computation is appended.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := t.requireRISCV(); err != nil {
				return err
			}
			if !noReset {
				if err := t.writeResetSequence(compress); err != nil {
					return err
				}
			}
			vectors := t.Driver.IdleVectors(10)
			if err := t.Builder.Set("chip_reset", vector.High); err != nil {
				return err
			}
			vectors = append(vectors, t.Builder.Vector(1, "Release hard reset"))
			if err := t.write(vectors, compress); err != nil {
				return err
			}

			// Halt the fabric controller.
			vectors = t.RISCV.InitDMI()
			vectors = append(vectors, t.RISCV.SetDMActive(true)...)
			halt, err := t.RISCV.HaltHartNoLoop(t.CoreID, 100, "")
			if err != nil {
				return err
			}
			vectors = append(vectors, halt...)
			if err := t.write(vectors, compress); err != nil {
				return err
			}

			mem, entry, err := parseElf(elfPath)
			if err != nil {
				return err
			}
			entryBits, err := bits.FromUint(entry, 32)
			if err != nil {
				return err
			}
			// Write and verify the boot address in dpc.
			vectors, err = t.RISCV.WriteRegAbstractCmdNoLoop(riscvdbg.CSRDPC, entryBits, 10, "Writing boot address to DPC")
			if err != nil {
				return err
			}
			if err := t.write(vectors, compress); err != nil {
				return err
			}
			vectors, err = t.RISCV.ReadRegAbstractCmdNoLoop(riscvdbg.CSRDPC, entryBits.Bin(), 10, "Reading DPC")
			if err != nil {
				return err
			}
			if err := t.write(vectors, compress); err != nil {
				return err
			}

			// Preload the memory, over the PULP TAP burst interface when the
			// chip has one and over the system bus otherwise.
			if t.Pulp != nil {
				vectors = t.Pulp.Init()
				load, err := t.Pulp.LoadL2(mem, "")
				if err != nil {
					return err
				}
				vectors = append(vectors, load...)
				if err := t.write(vectors, compress); err != nil {
					return err
				}
				if verify {
					vectors, err = t.Pulp.VerifyL2NoLoop(mem, 10, "Verify the content of L2 to match the binary.")
					if err != nil {
						return err
					}
					if err := t.write(vectors, compress); err != nil {
						return err
					}
				}
			} else {
				vectors, err = t.RISCV.LoadElf(mem, 0, "")
				if err != nil {
					return err
				}
				if err := t.write(vectors, compress); err != nil {
					return err
				}
			}

			// Resume the core.
			vectors = t.RISCV.InitDMI()
			resume, err := t.RISCV.ResumeHartsNoLoop(t.CoreID, 100, "")
			if err != nil {
				return err
			}
			vectors = append(vectors, resume...)
			if err := t.write(vectors, compress); err != nil {
				return err
			}

			if cmd.Flags().Changed("return-code") {
				if eocWaitCycles == 0 {
					vectors, err = t.RISCV.WaitForEndOfComputation(returnCode, 100, 10, t.EOCAddr)
				} else {
					vectors = []vector.Vector{t.Driver.IdleVector(eocWaitCycles,
						"Waiting for computation to finish before checking EOC register.")}
					var check []vector.Vector
					check, err = t.RISCV.CheckEndOfComputation(returnCode, 5000, t.EOCAddr)
					vectors = append(vectors, check...)
				}
				if err != nil {
					return err
				}
				if err := t.write(vectors, compress); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&elfPath, "elf", "e", "", "the path to the elf binary to preload")
	cmd.MarkFlagRequired("elf")
	cmd.Flags().IntVarP(&returnCode, "return-code", "r", 0, "expected return code checked during end of computation detection")
	cmd.Flags().UintVar(&eocWaitCycles, "eoc-wait-cycles", 0, "if non zero, wait this many cycles before a single EOC check instead of a matched loop")
	cmd.Flags().BoolVar(&verify, "verify", true, "verify the content written to memory over the PULP TAP; the system bus preload is not verified")
	cmd.Flags().BoolVarP(&compress, "compress", "c", false, "merge subsequent identical vectors into a single vector with increased repeat value")
	cmd.Flags().BoolVar(&noReset, "no-reset", false, "don't reset the chip before executing the binary")
	return cmd
}

// writeResetSequence asserts the chip reset, resets the JTAG interface and
// idles for a few cycles.
func (t *Target) writeResetSequence(compress bool) error {
	if err := t.Builder.Set("chip_reset", vector.Low); err != nil {
		return err
	}
	resetVector := t.Builder.Vector(1, "Assert reset")
	loop, err := t.Builder.NewLoop([]vector.Vector{resetVector}, 10)
	if err != nil {
		return err
	}
	if err := t.write([]vector.Vector{loop}, compress); err != nil {
		return err
	}
	vectors := t.Driver.Reset()
	vectors = append(vectors, t.Driver.IdleVectors(10)...)
	return t.write(vectors, compress)
}

func writeMemCmd(t *Target) *cobra.Command {
	var (
		verify   bool
		loop     bool
		compress bool
	)
	cmd := &cobra.Command{
		Use:   "write-mem [0xADDR=0xVAL[#comment]]...",
		Short: "Perform write transactions to the system bus",
		Long: `Perform write transactions to the system bus.

Each argument must be of the form 'address=value[#comment]' where address
and value are 32-bit hex literals and comment is attached to the generated
vectors. With '--verify' the written data is read back and compared.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := parseAddrValues(args)
			if err != nil {
				return err
			}
			if t.Pulp != nil {
				return t.writeMemPulp(data, verify, loop, compress)
			}
			if err := t.requireRISCV(); err != nil {
				return err
			}
			return t.writeMemSBA(data, verify, compress)
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", true, "read the written data back for verification")
	cmd.Flags().BoolVar(&loop, "loop", false, "verify with matched loops instead of fixed waits")
	cmd.Flags().BoolVarP(&compress, "compress", "c", false, "merge subsequent identical vectors into a single vector with increased repeat value")
	return cmd
}

func (t *Target) writeMemPulp(data []addrValue, verify, loop, compress bool) error {
	vectors := t.Pulp.Init()
	for _, d := range data {
		vs, err := t.Pulp.Write32(d.Addr, []bits.Array{d.Value}, d.Comment)
		if err != nil {
			return err
		}
		vectors = append(vectors, vs...)
		if err := t.write(vectors, compress); err != nil {
			return err
		}
		vectors = nil
	}
	if !verify {
		return nil
	}
	for _, d := range data {
		var vs []vector.Vector
		var err error
		if loop {
			vs, err = t.Pulp.Read32(d.Addr, []bits.Array{d.Value}, 1, d.Comment)
		} else {
			vs, err = t.Pulp.Read32NoLoop(d.Addr, []bits.Array{d.Value}, 2, d.Comment)
		}
		if err != nil {
			return err
		}
		if err := t.write(vs, compress); err != nil {
			return err
		}
	}
	return nil
}

func (t *Target) writeMemSBA(data []addrValue, verify, compress bool) error {
	vectors := t.RISCV.InitDMI()
	for _, d := range data {
		vs, err := t.RISCV.WriteMem(d.Addr, d.Value, false, 1, d.Comment)
		if err != nil {
			return err
		}
		vectors = append(vectors, vs...)
	}
	if verify {
		vectors = append(vectors, t.RISCV.EnableSBReadOnAddr()...)
		for _, d := range data {
			vs, err := t.RISCV.ReadMemNoLoop(d.Addr, d.Value.Bin(), 10, d.Comment)
			if err != nil {
				return err
			}
			vectors = append(vectors, vs...)
		}
	}
	return t.write(vectors, compress)
}

func verifyMemCmd(t *Target) *cobra.Command {
	var (
		loop       bool
		compress   bool
		usePulpTap bool
		waitCycles uint
	)
	cmd := &cobra.Command{
		Use:   "verify-mem [0xADDR=0xVAL[#comment]]...",
		Short: "Perform read transactions on the system bus and compare the values with expected ones",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := parseAddrValues(args)
			if err != nil {
				return err
			}
			var vectors []vector.Vector
			if usePulpTap {
				if err := t.requirePulp(); err != nil {
					return err
				}
				vectors = t.Pulp.Init()
			} else {
				if err := t.requireRISCV(); err != nil {
					return err
				}
				vectors = t.RISCV.InitDMI()
				vectors = append(vectors, t.RISCV.EnableSBReadOnAddr()...)
			}
			for _, d := range data {
				var vs []vector.Vector
				switch {
				case usePulpTap && loop:
					vs, err = t.Pulp.Read32(d.Addr, []bits.Array{d.Value}, 1, d.Comment)
				case usePulpTap:
					vs, err = t.Pulp.Read32NoLoop(d.Addr, []bits.Array{d.Value}, int(waitCycles), d.Comment)
				case loop:
					vs, err = t.RISCV.ReadMem(d.Addr, d.Value.Bin(), 1, d.Comment)
				default:
					vs, err = t.RISCV.ReadMemNoLoop(d.Addr, d.Value.Bin(), waitCycles, d.Comment)
				}
				if err != nil {
					return err
				}
				vectors = append(vectors, vs...)
			}
			return t.write(vectors, compress)
		},
	}
	cmd.Flags().BoolVar(&loop, "loop", false, "verify with matched loops instead of fixed waits")
	cmd.Flags().BoolVarP(&compress, "compress", "c", false, "merge subsequent identical vectors into a single vector with increased repeat value")
	cmd.Flags().BoolVar(&usePulpTap, "use-pulp-tap", false, "use the PULP TAP for readout instead of the RISC-V debug module")
	cmd.Flags().UintVar(&waitCycles, "wait-cycles", 10, "the number of cycles to wait for the read operation to complete")
	return cmd
}

func resumeCoreCmd(t *Target) *cobra.Command {
	var waitCycles uint
	cmd := &cobra.Command{
		Use:   "resume-core",
		Short: "Generate vectors to resume the core",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := t.requireRISCV(); err != nil {
				return err
			}
			vectors := t.RISCV.InitDMI()
			resume, err := t.RISCV.ResumeHartsNoLoop(t.CoreID, waitCycles, "Resuming core")
			if err != nil {
				return err
			}
			return t.write(append(vectors, resume...), false)
		},
	}
	cmd.Flags().UintVarP(&waitCycles, "wait-cycles", "w", 10, "the number of cycles to wait before verifying that the core was actually resumed")
	return cmd
}

func resetChipCmd(t *Target) *cobra.Command {
	var resetCycles uint
	cmd := &cobra.Command{
		Use:   "reset-chip",
		Short: "Generate vectors to reset the chip and the jtag interface",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := t.Builder.Set("chip_reset", vector.Low); err != nil {
				return err
			}
			vectors := []vector.Vector{t.Builder.Vector(resetCycles, "Assert chip reset")}
			if err := t.Builder.Set("chip_reset", vector.High); err != nil {
				return err
			}
			vectors = append(vectors, t.Driver.Reset()...)
			vectors = append(vectors, t.Driver.IdleVectors(10)...)
			if t.RISCV != nil {
				vectors = append(vectors, t.RISCV.InitDMI()...)
				vectors = append(vectors, t.RISCV.SetDMActive(true)...)
				vectors = append(vectors, t.Driver.IdleVectors(10)...)
			}
			return t.write(vectors, false)
		},
	}
	cmd.Flags().UintVarP(&resetCycles, "reset-cycles", "r", 10, "the number of cycles to assert the chip reset line")
	return cmd
}

func haltCoreVerifyPCCmd(t *Target) *cobra.Command {
	var (
		pc          string
		resume      bool
		assertReset bool
		waitCycles  uint
	)
	cmd := &cobra.Command{
		Use:   "halt-core-verify-pc",
		Short: "Halt the core, optionally reading the program counter and resuming the core",
		Long: `Halt the core, optionally reading the program counter and resuming the core.

The '--assert-reset' flag keeps the reset line asserted for the whole halt
procedure, which allows halting the core before it starts executing random
data right after reset.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := t.requireRISCV(); err != nil {
				return err
			}
			if assertReset {
				if err := t.Builder.Set("chip_reset", vector.Low); err != nil {
					return err
				}
			}
			vectors := t.RISCV.InitDMI()
			halt, err := t.RISCV.HaltHartNoLoop(t.CoreID, waitCycles, "")
			if err != nil {
				return err
			}
			vectors = append(vectors, halt...)
			if pc != "" {
				expected, err := extend32(pc)
				if err != nil {
					return err
				}
				read, err := t.RISCV.ReadRegAbstractCmdNoLoop(riscvdbg.CSRDPC, expected.Bin(), waitCycles, "Reading DPC")
				if err != nil {
					return err
				}
				vectors = append(vectors, read...)
				if resume {
					res, err := t.RISCV.ResumeHartsNoLoop(t.CoreID, waitCycles, "Resuming the core")
					if err != nil {
						return err
					}
					vectors = append(vectors, res...)
				}
			}
			return t.write(vectors, false)
		},
	}
	cmd.Flags().StringVar(&pc, "pc", "", "read the program counter and compare it with the expected value provided")
	cmd.Flags().BoolVar(&resume, "resume", false, "resume the core after reading the program counter")
	cmd.Flags().BoolVar(&assertReset, "assert-reset", false, "assert the chip reset line for the whole duration of the generated vectors")
	cmd.Flags().UintVarP(&waitCycles, "wait-cycles", "w", 10, "the number of cycles to wait before verifying that the core was actually halted")
	return cmd
}

func checkEOCCmd(t *Target) *cobra.Command {
	var (
		returnCode int
		waitCycles uint
	)
	cmd := &cobra.Command{
		Use:   "check-eoc",
		Short: "Generate vectors to check for the end of computation",
		Long: `Generate vectors to check for the end of computation.

Programs compiled with the pulp-sdk or pulp-runtime write their exit code to
a special end-of-computation register when they leave main. Bit 31 of the
register flags completion, the lower bits carry the return code.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := t.requireRISCV(); err != nil {
				return err
			}
			vectors := t.RISCV.InitDMI()
			check, err := t.RISCV.CheckEndOfComputation(returnCode, waitCycles, t.EOCAddr)
			if err != nil {
				return err
			}
			return t.write(append(vectors, check...), false)
		},
	}
	cmd.Flags().IntVarP(&returnCode, "return-code", "r", 0, "the expected return code")
	cmd.Flags().UintVarP(&waitCycles, "wait-cycles", "w", 10, "the number of cycles to wait for the eoc register read operation to complete")
	return cmd
}

func verifyIDCodeCmd(t *Target) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-idcode",
		Short: "Generate vectors to verify the IDCODE of the debug TAP",
		Long: `Generate vectors to verify the IDCODE of the debug TAP.

Puts all taps except the debug unit into bypass mode and verifies the value
of the debug unit's IDCODE register. After the readout the TAP remains
selected.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var vectors []vector.Vector
			var err error
			switch {
			case t.RISCV != nil:
				vectors, err = t.RISCV.VerifyIDCode()
			case t.Pulp != nil:
				vectors, err = t.Pulp.VerifyIDCode()
			default:
				return fmt.Errorf("chip %s has no TAP with an IDCODE register", t.Name)
			}
			if err != nil {
				return err
			}
			return t.write(vectors, false)
		},
	}
}
