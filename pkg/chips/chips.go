// Package chips wires the debug protocol engines to concrete chip targets
// and exposes them as CLI command groups. Each chip declares its pin list,
// its TAP chain and its target specific configuration commands.
package chips

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pulp-platform/dumpling/pkg/bits"
	"github.com/pulp-platform/dumpling/pkg/elf"
	"github.com/pulp-platform/dumpling/pkg/hp93000"
	"github.com/pulp-platform/dumpling/pkg/jtag"
	"github.com/pulp-platform/dumpling/pkg/pulptap"
	"github.com/pulp-platform/dumpling/pkg/riscvdbg"
	"github.com/pulp-platform/dumpling/pkg/vector"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Target bundles the generation state of one chip: the pin set, the TAP
// chain and the output writer. A fresh builder is constructed per command
// invocation so every stimuli file starts from the default pin states.
type Target struct {
	Name    string
	Pins    vector.Pins
	CoreID  bits.Array
	EOCAddr string

	Builder *vector.Builder
	Driver  *jtag.Driver
	RISCV   *riscvdbg.Tap
	Pulp    *pulptap.Tap
	Writer  *hp93000.VectorWriter

	output          string
	portName        string
	wtbName         string
	deviceCycleName string

	log *logrus.Entry
}

// TargetConfig describes how to assemble a chip target.
type TargetConfig struct {
	Name        string
	Short       string
	Pins        vector.Pins
	CoreID      string // hart id, hex
	RISCVIDCode string // "" to omit the RISC-V debug TAP
	PulpIDCode  string // "" to omit the PULP TAP
	// VegaPulpTap selects the 4-bit-IR PULP TAP flavor with the clock
	// bypass and observability registers.
	VegaPulpTap bool
	// PulpClosestToTDI inverts the chain order. By default the RISC-V
	// debug TAP sits closest to TDI.
	PulpClosestToTDI bool
	DefaultPort      string
	DefaultWtb       string
	EOCAddr          string
}

// NewCommand builds the cobra command group for a target, with the common
// subcommand set attached. Chip specific subcommands are added by the
// caller.
func NewCommand(cfg TargetConfig) (*cobra.Command, *Target) {
	t := &Target{
		Name:    cfg.Name,
		Pins:    cfg.Pins,
		EOCAddr: cfg.EOCAddr,
		log:     logrus.WithField("chip", cfg.Name),
	}
	if t.EOCAddr == "" {
		t.EOCAddr = riscvdbg.DefaultEOCAddr
	}
	cmd := &cobra.Command{
		Use:   cfg.Name,
		Short: cfg.Short,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return t.setup(cfg)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if t.Writer != nil {
				return t.Writer.Close()
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&t.output, "output", "o", "vectors.avc", "output stimuli file")
	cmd.PersistentFlags().StringVarP(&t.portName, "port-name", "p", cfg.DefaultPort, "port name for the PORT statement and the timing format file")
	// No -w shorthand here: the per-command wait-cycles flags carry it.
	cmd.PersistentFlags().StringVar(&t.wtbName, "wtb-name", cfg.DefaultWtb, "wave table name")
	cmd.PersistentFlags().StringVarP(&t.deviceCycleName, "device_cycle_name", "d", "dvc_1", "device cycle name annotated on every vector")

	cmd.AddCommand(
		executeElfCmd(t),
		writeMemCmd(t),
		verifyMemCmd(t),
		resumeCoreCmd(t),
		resetChipCmd(t),
		haltCoreVerifyPCCmd(t),
		checkEOCCmd(t),
		verifyIDCodeCmd(t),
	)
	return cmd, t
}

// setup constructs the builder, driver, TAP chain and output writer for one
// command invocation.
func (t *Target) setup(cfg TargetConfig) error {
	t.Builder = vector.NewBuilder(t.Pins)
	driver, err := jtag.NewDriver(t.Builder)
	if err != nil {
		return err
	}
	t.Driver = driver
	if cfg.CoreID != "" {
		t.CoreID, err = bits.Parse(cfg.CoreID)
		if err != nil {
			return fmt.Errorf("core id of %s: %w", cfg.Name, err)
		}
	}
	if cfg.RISCVIDCode != "" {
		t.RISCV, err = riscvdbg.New(driver, cfg.RISCVIDCode)
		if err != nil {
			return err
		}
	}
	if cfg.PulpIDCode != "" {
		if cfg.VegaPulpTap {
			t.Pulp, err = pulptap.NewVega(driver, cfg.PulpIDCode)
		} else {
			t.Pulp, err = pulptap.New(driver, cfg.PulpIDCode)
		}
		if err != nil {
			return err
		}
	}
	// The tap added first sits closest to TDI.
	if cfg.PulpClosestToTDI {
		if t.Pulp != nil {
			driver.AddTap(t.Pulp.Tap)
		}
		if t.RISCV != nil {
			driver.AddTap(t.RISCV.Tap)
		}
	} else {
		if t.RISCV != nil {
			driver.AddTap(t.RISCV.Tap)
		}
		if t.Pulp != nil {
			driver.AddTap(t.Pulp.Tap)
		}
	}
	t.Writer, err = hp93000.NewVectorWriter(t.output, t.Pins,
		hp93000.WithPort(t.portName),
		hp93000.WithWtbName(t.wtbName),
		hp93000.WithDeviceCycleName(t.deviceCycleName))
	if err != nil {
		return err
	}
	t.log.Infof("Writing stimuli to %s", t.output)
	return nil
}

// addrValue is one parsed 0xADDR=0xVAL[#comment] argument.
type addrValue struct {
	Addr    bits.Array
	Value   bits.Array
	Comment string
}

var addrValueRe = regexp.MustCompile(`^(?P<address>0x[0-9a-fA-F]{1,8})=(?P<value>0x[0-9a-fA-F]{1,8})(?:#(?P<comment>.*))?$`)

// parseAddrValues parses the address=value argument list shared by the
// memory commands. Addresses and values are zero extended to 32 bits.
func parseAddrValues(args []string) ([]addrValue, error) {
	out := make([]addrValue, 0, len(args))
	for _, arg := range args {
		m := addrValueRe.FindStringSubmatch(arg)
		if m == nil {
			return nil, fmt.Errorf("illegal argument %q: must be of the form 0x<32-bit address>=0x<value>[#comment]", arg)
		}
		addr, err := extend32(m[1])
		if err != nil {
			return nil, err
		}
		value, err := extend32(m[2])
		if err != nil {
			return nil, err
		}
		out = append(out, addrValue{Addr: addr, Value: value, Comment: m[3]})
	}
	return out, nil
}

func extend32(hexLit string) (bits.Array, error) {
	parsed, err := bits.FromHex(strings.TrimPrefix(hexLit, "0x"))
	if err != nil {
		return bits.Array{}, err
	}
	full := bits.New(32)
	if err := full.SetSlice(0, parsed); err != nil {
		return bits.Array{}, err
	}
	return full, nil
}

func (t *Target) write(vectors []vector.Vector, compress bool) error {
	return t.Writer.WriteVectors(vectors, compress)
}

// requireRISCV guards subcommands that need the RISC-V debug TAP.
func (t *Target) requireRISCV() error {
	if t.RISCV == nil {
		return fmt.Errorf("chip %s has no RISC-V debug TAP", t.Name)
	}
	return nil
}

// requirePulp guards subcommands that need the PULP TAP.
func (t *Target) requirePulp() error {
	if t.Pulp == nil {
		return fmt.Errorf("chip %s has no PULP TAP", t.Name)
	}
	return nil
}

// parseElf reads the binary into a 32-bit word byte map and returns the
// entry point alongside.
func parseElf(path string) (*elf.Memory, uint64, error) {
	parser := elf.NewParser()
	parser.AddBinary(path)
	mem, err := parser.Parse(4)
	if err != nil {
		return nil, 0, err
	}
	entry, err := parser.Entry()
	if err != nil {
		return nil, 0, err
	}
	return mem, entry, nil
}
