package pulptap

import (
	"fmt"

	"github.com/pulp-platform/dumpling/pkg/bits"
	"github.com/pulp-platform/dumpling/pkg/jtag"
	"github.com/pulp-platform/dumpling/pkg/vector"
)

// NewVega creates the Vega flavor of the PULP debug TAP: a 4-bit IR and the
// additional clock bypass and signal observability registers.
func NewVega(driver *jtag.Driver, idcode string) (*Tap, error) {
	idcodeBits, err := bits.Parse(idcode)
	if err != nil {
		return nil, fmt.Errorf("pulp tap idcode: %w", err)
	}
	t := &Tap{Tap: jtag.NewTap("PULP JTAG module", 4), driver: driver}
	t.RegIDCode = t.AddRegister("IDCODE", "0010", 32, idcodeBits.Bin())
	t.RegAXIReg = t.AddRegister("SoC AXIREG", "0100", 96, "")
	t.RegConfReg = t.AddRegister("SoC CONFREG", "0110", 8, "")
	t.RegClkByp = t.AddRegister("SoC CLK BYP", "0111", 5, "")
	t.RegObserv = t.AddRegister("SoC OBSERV", "1000", 32, "")
	return t, nil
}

// EnableObservability programs the observability register to route one of
// the internal signals to the observability pad.
func (t *Tap) EnableObservability(signal uint, drvStrength uint, pullupEnable, pulldownEnable bool, comment string) ([]vector.Vector, error) {
	if t.RegObserv == nil {
		return nil, fmt.Errorf("tap %s has no observability register", t.Name)
	}
	if signal > 31 {
		return nil, fmt.Errorf("observable signal id %d exceeds 31: %w", signal, bits.ErrOutOfRange)
	}
	if drvStrength > 3 {
		return nil, fmt.Errorf("drive strength %d exceeds 3: %w", drvStrength, bits.ErrOutOfRange)
	}
	dr, err := bits.PackLSB(
		bits.Uint(5, uint64(signal)),
		bits.Uint(2, uint64(drvStrength)),
		bits.Bool(pullupEnable),
		bits.Bool(pulldownEnable),
		bits.Lit("0b1"),
	)
	if err != nil {
		return nil, err
	}
	return t.driver.WriteReg(t.Tap, t.RegObserv, dr.Bin(), comment)
}

// DisableObservability restores the observability pad's default mode.
func (t *Tap) DisableObservability() ([]vector.Vector, error) {
	if t.RegObserv == nil {
		return nil, fmt.Errorf("tap %s has no observability register", t.Name)
	}
	zero := bits.New(32)
	return t.driver.WriteReg(t.Tap, t.RegObserv, zero.Bin(), "Disabling observability feature")
}
