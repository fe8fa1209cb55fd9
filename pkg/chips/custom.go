package chips

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/pulp-platform/dumpling/pkg/riscvdbg"
	"github.com/pulp-platform/dumpling/pkg/vector"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// ChipDef is the YAML description of a custom chip target, for silicon
// that has no built-in command group yet.
//
//	name: mychip
//	core-id: "0x003e0"
//	eoc-addr: "0x1a1040a0"
//	pins:
//	  chip_reset: {physical: pad_reset_n, default: "1", direction: input}
//	  tdo:        {physical: pad_jtag_tdo, default: "X", direction: output}
//	taps:
//	  riscv-debug: {idcode: "0x249511C3"}
//	  pulp:        {idcode: "0x10102001"}
type ChipDef struct {
	Name    string            `yaml:"name"`
	CoreID  string            `yaml:"core-id"`
	EOCAddr string            `yaml:"eoc-addr"`
	Pins    map[string]PinDef `yaml:"pins"`
	Taps    map[string]TapDef `yaml:"taps"`
}

// PinDef is one pin entry of a chip definition file.
type PinDef struct {
	Physical  string `yaml:"physical"`
	Default   string `yaml:"default"`
	Direction string `yaml:"direction"`
}

// TapDef configures one TAP of a chip definition file.
type TapDef struct {
	IDCode string `yaml:"idcode"`
}

// LoadChipDef reads and validates a chip definition file.
func LoadChipDef(path string) (*ChipDef, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chip definition %s: %w", path, err)
	}
	var def ChipDef
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("parse chip definition %s: %w", path, err)
	}
	if def.Name == "" {
		return nil, fmt.Errorf("chip definition %s: missing name", path)
	}
	if len(def.Pins) == 0 {
		return nil, fmt.Errorf("chip definition %s: no pins declared", path)
	}
	for name, tap := range def.Taps {
		switch name {
		case "riscv-debug", "pulp":
		default:
			return nil, fmt.Errorf("chip definition %s: unknown tap type %q", path, name)
		}
		if tap.IDCode == "" {
			return nil, fmt.Errorf("chip definition %s: tap %s has no idcode", path, name)
		}
	}
	return &def, nil
}

// PinDecls converts the pin entries into builder declarations.
func (d *ChipDef) PinDecls() (vector.Pins, error) {
	pins := make(vector.Pins, len(d.Pins))
	for logical, def := range d.Pins {
		if len(def.Default) != 1 || !vector.State(def.Default[0]).Valid() {
			return nil, fmt.Errorf("pin %s: illegal default state %q", logical, def.Default)
		}
		dir := vector.Input
		switch def.Direction {
		case "", "input":
		case "output":
			dir = vector.Output
		default:
			return nil, fmt.Errorf("pin %s: illegal direction %q", logical, def.Direction)
		}
		pins[logical] = vector.PinDecl{
			Physical: def.Physical,
			Default:  vector.State(def.Default[0]),
			Dir:      dir,
		}
	}
	return pins, nil
}

// NewTargetFromDef assembles a ready-to-use target from a chip definition
// file, outside the cobra command plumbing. The scripting front end uses
// this to hand a fully wired chip to Lua code.
func NewTargetFromDef(defPath, output, portName, wtbName, deviceCycleName string) (*Target, error) {
	def, err := LoadChipDef(defPath)
	if err != nil {
		return nil, err
	}
	pins, err := def.PinDecls()
	if err != nil {
		return nil, err
	}
	t := &Target{
		Name:            def.Name,
		Pins:            pins,
		EOCAddr:         def.EOCAddr,
		output:          output,
		portName:        portName,
		wtbName:         wtbName,
		deviceCycleName: deviceCycleName,
		log:             logrus.WithField("chip", def.Name),
	}
	if t.EOCAddr == "" {
		t.EOCAddr = riscvdbg.DefaultEOCAddr
	}
	cfg := TargetConfig{
		Name:        def.Name,
		Pins:        pins,
		CoreID:      def.CoreID,
		RISCVIDCode: def.Taps["riscv-debug"].IDCode,
		PulpIDCode:  def.Taps["pulp"].IDCode,
	}
	if err := t.setup(cfg); err != nil {
		return nil, err
	}
	return t, nil
}

// Close releases the target's output writer.
func (t *Target) Close() error {
	if t.Writer != nil {
		return t.Writer.Close()
	}
	return nil
}

// NewCustomCmd returns the "custom" command group. The chip is described by
// a YAML definition file instead of a built-in target; all generic
// subcommands work against it.
func NewCustomCmd() *cobra.Command {
	var defPath string
	cmd := &cobra.Command{
		Use:   "custom",
		Short: "Generate stimuli for a chip described by a YAML definition file",
	}
	cmd.PersistentFlags().StringVar(&defPath, "chip-def", "chip.yaml", "path to the chip definition file")

	// The definition file is only known at run time, so the target config
	// is resolved in the pre-run hook.
	placeholder, target := NewCommand(TargetConfig{
		Name:        "chip",
		DefaultPort: "jtag_and_reset_port",
		DefaultWtb:  "Standard ATI",
	})
	cmd.PersistentPreRunE = func(c *cobra.Command, args []string) error {
		def, err := LoadChipDef(defPath)
		if err != nil {
			return err
		}
		pins, err := def.PinDecls()
		if err != nil {
			return err
		}
		target.Name = def.Name
		target.Pins = pins
		if def.EOCAddr != "" {
			target.EOCAddr = def.EOCAddr
		}
		cfg := TargetConfig{
			Name:        def.Name,
			Pins:        pins,
			CoreID:      def.CoreID,
			RISCVIDCode: def.Taps["riscv-debug"].IDCode,
			PulpIDCode:  def.Taps["pulp"].IDCode,
		}
		return target.setup(cfg)
	}
	cmd.PersistentPostRunE = func(c *cobra.Command, args []string) error {
		if target.Writer != nil {
			return target.Writer.Close()
		}
		return nil
	}
	for _, sub := range placeholder.Commands() {
		cmd.AddCommand(sub)
	}
	cmd.PersistentFlags().AddFlagSet(placeholder.PersistentFlags())
	return cmd
}
