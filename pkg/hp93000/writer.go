// Package hp93000 reads and writes the ASCII vector format (AVC) of the
// HP93000 ASIC tester, together with the companion wave-table (.wtb) and
// timing-format (.tmf) files.
package hp93000

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pulp-platform/dumpling/pkg/vector"
)

const tmfTemplate = `PINS %s
DDC %s
0 0
1 1
X 2
L 3
H 4
Z 5`

// VectorWriter appends typed vectors to an AVC stimuli file. The PORT and
// FORMAT header and the companion .wtb/.tmf files are committed when the
// writer is created, so partial output remains well formed up to the last
// completed WriteVectors call.
type VectorWriter struct {
	path            string
	pins            vector.Pins
	pinOrder        []string
	port            string
	deviceCycleName string
	wtbName         string
	file            *os.File
}

// WriterOption configures a VectorWriter.
type WriterOption func(*VectorWriter)

// WithPort sets the port name emitted in the PORT statement and referenced
// by the timing format file.
func WithPort(port string) WriterOption {
	return func(w *VectorWriter) { w.port = port }
}

// WithDeviceCycleName overrides the device cycle name annotated on every
// vector (default "dvc_1").
func WithDeviceCycleName(name string) WriterOption {
	return func(w *VectorWriter) { w.deviceCycleName = name }
}

// WithWtbName overrides the wave table name written to the .wtb file
// (default "Standard ATI").
func WithWtbName(name string) WriterOption {
	return func(w *VectorWriter) { w.wtbName = name }
}

// NewVectorWriter creates the stimuli file at path, writes the header and
// generates the companion files next to it with the same stem.
func NewVectorWriter(path string, pins vector.Pins, opts ...WriterOption) (*VectorWriter, error) {
	w := &VectorWriter{
		path:            path,
		pins:            pins,
		pinOrder:        pins.SortedNames(),
		deviceCycleName: "dvc_1",
		wtbName:         "Standard ATI",
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := w.writeCompanionFiles(); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create stimuli file %s: %w", path, err)
	}
	w.file = f
	if err := w.writeHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func (w *VectorWriter) writeCompanionFiles() error {
	stem := strings.TrimSuffix(w.path, filepath.Ext(w.path))
	if err := os.WriteFile(stem+".wtb", []byte(w.wtbName), 0o644); err != nil {
		return fmt.Errorf("write wave table file: %w", err)
	}
	tmf := fmt.Sprintf(tmfTemplate, w.port, w.deviceCycleName)
	if err := os.WriteFile(stem+".tmf", []byte(tmf), 0o644); err != nil {
		return fmt.Errorf("write timing format file: %w", err)
	}
	return nil
}

func (w *VectorWriter) writeHeader() error {
	if w.port != "" {
		if _, err := fmt.Fprintf(w.file, "PORT %s ;\n", w.port); err != nil {
			return fmt.Errorf("write header of %s: %w", w.path, err)
		}
	}
	physical := make([]string, len(w.pinOrder))
	for i, logical := range w.pinOrder {
		physical[i] = w.pins[logical].Physical
	}
	if _, err := fmt.Fprintf(w.file, "FORMAT %s ;\n", strings.Join(physical, " ")); err != nil {
		return fmt.Errorf("write header of %s: %w", w.path, err)
	}
	return nil
}

// WriteVectors appends vectors to the stimuli file, optionally compressing
// runs of identical vectors first.
func (w *VectorWriter) WriteVectors(vectors []vector.Vector, compress bool) error {
	if compress {
		vectors = vector.Compress(vectors)
	}
	for _, v := range vectors {
		if err := w.writeVector(v); err != nil {
			return err
		}
	}
	return nil
}

func (w *VectorWriter) writeVector(v vector.Vector) error {
	switch v := v.(type) {
	case vector.Normal:
		return w.writeNormal(v)
	case vector.MatchedLoop:
		if _, err := fmt.Fprintf(w.file, "SQPG MACT %d ;\n", v.Retries); err != nil {
			return w.ioErr(err)
		}
		for _, c := range v.Condition {
			if err := w.writeNormal(c); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w.file, "SQPG MRPT %d ;\n", len(v.Idle)); err != nil {
			return w.ioErr(err)
		}
		for _, c := range v.Idle {
			if err := w.writeNormal(c); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w.file, "SQPG PADDING ;"); err != nil {
			return w.ioErr(err)
		}
		return nil
	case vector.Loop:
		if _, err := fmt.Fprintf(w.file, "SQPG LBGN %d ;\n", v.Repeat); err != nil {
			return w.ioErr(err)
		}
		for _, b := range v.Body {
			if err := w.writeVector(b); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w.file, "SQPG LEND ;"); err != nil {
			return w.ioErr(err)
		}
		return nil
	default:
		return fmt.Errorf("vector of unknown kind %T", v)
	}
}

func (w *VectorWriter) writeNormal(v vector.Normal) error {
	var sb strings.Builder
	for _, logical := range w.pinOrder {
		sb.WriteByte(byte(v.State[logical]))
	}
	line := fmt.Sprintf("R%d %s %s ", v.Repeat, w.deviceCycleName, sb.String())
	if v.Comment != "" {
		line += "[%] " + v.Comment + " "
	}
	if _, err := fmt.Fprintln(w.file, line+";"); err != nil {
		return w.ioErr(err)
	}
	return nil
}

func (w *VectorWriter) ioErr(err error) error {
	return fmt.Errorf("write %s: %w", w.path, err)
}

// Path returns the stimuli file path.
func (w *VectorWriter) Path() string { return w.path }

// Close flushes and closes the stimuli file.
func (w *VectorWriter) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
