package hp93000

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/pulp-platform/dumpling/pkg/vector"
)

// ParseError reports an AVC line that does not match the grammar or a
// sequencer statement that arrives in an illegal state.
type ParseError struct {
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("avc parse error on line %d: %s", e.Line, e.Reason)
}

// The AVC statement grammar. One statement per line.
var (
	reEmpty      = regexp.MustCompile(`^\s*$`)
	reFormat     = regexp.MustCompile(`^FORMAT\s+(.+?)\s*;$`)
	rePort       = regexp.MustCompile(`^PORT\s+(\S+)\s*;$`)
	reNormal     = regexp.MustCompile(`^R(\d+)\s+(\S+)\s+([01XZLH]+)\s*(?:\[%\]\s*(.*?)\s*)?;$`)
	reMatchBegin = regexp.MustCompile(`^SQPG\s+MACT\s+(\d+)\s*;$`)
	reMatchIdle  = regexp.MustCompile(`^SQPG\s+MRPT\s+(\d+)\s*;$`)
	reMatchEnd   = regexp.MustCompile(`^SQPG\s+PADDING\s*;$`)
	reLoopBegin  = regexp.MustCompile(`^SQPG\s+LBGN\s+(\d+)\s*;$`)
	reLoopEnd    = regexp.MustCompile(`^SQPG\s+LEND\s*;$`)
)

type frameKind int

const (
	frameLoop frameKind = iota
	frameMatchCondition
	frameMatchIdle
)

// frame is one entry of the reader's reconstruction stack. A LBGN statement
// pushes a loop frame, MACT pushes a condition-collecting frame which MRPT
// transitions to idle-collecting, and LEND/PADDING pop.
type frame struct {
	kind      frameKind
	repeat    uint
	body      []vector.Vector
	condition []vector.Normal
	idle      []vector.Normal
}

// VectorReader parses an AVC stimuli file back into typed vectors. Parsing
// is streaming: memory use is bounded by the deepest sequencer construct,
// not by the file size.
type VectorReader struct {
	path    string
	pins    vector.Pins
	file    *os.File
	scanner *bufio.Scanner
	lineNo  int
	order   []string
	stack   []*frame
}

// NewVectorReader opens an AVC file for streaming. The pin declarations
// must match the ones the file was written with; the FORMAT statement is
// checked against them.
func NewVectorReader(path string, pins vector.Pins) (*VectorReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open stimuli file %s: %w", path, err)
	}
	r := &VectorReader{
		path:    path,
		pins:    pins,
		file:    f,
		scanner: bufio.NewScanner(f),
		order:   pins.SortedNames(),
	}
	r.scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return r, nil
}

// Close closes the underlying file.
func (r *VectorReader) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// Next returns the next top-level vector from the stream. It returns io.EOF
// after the last vector.
func (r *VectorReader) Next() (vector.Vector, error) {
	for r.scanner.Scan() {
		r.lineNo++
		line := strings.TrimRight(r.scanner.Text(), " \t\r")
		done, v, err := r.consume(line)
		if err != nil {
			return nil, err
		}
		if done {
			return v, nil
		}
	}
	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", r.path, err)
	}
	if len(r.stack) > 0 {
		return nil, &ParseError{Line: r.lineNo, Reason: "unterminated sequencer construct at end of file"}
	}
	return nil, io.EOF
}

// ReadAll drains the stream into a slice. Intended for tests and small
// files; production consumers should iterate with Next.
func (r *VectorReader) ReadAll() ([]vector.Vector, error) {
	var out []vector.Vector
	for {
		v, err := r.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
}

// consume handles one statement. It reports whether a complete top-level
// vector became available.
func (r *VectorReader) consume(line string) (bool, vector.Vector, error) {
	switch {
	case reEmpty.MatchString(line):
		return false, nil, nil
	case rePort.MatchString(line):
		return false, nil, nil
	case reFormat.MatchString(line):
		m := reFormat.FindStringSubmatch(line)
		return false, nil, r.checkFormat(m[1])
	case reNormal.MatchString(line):
		m := reNormal.FindStringSubmatch(line)
		v, err := r.parseNormal(m)
		if err != nil {
			return false, nil, err
		}
		return r.emit(v)
	case reMatchBegin.MatchString(line):
		if len(r.stack) > 0 {
			return false, nil, &ParseError{Line: r.lineNo, Reason: "MACT inside another sequencer construct"}
		}
		m := reMatchBegin.FindStringSubmatch(line)
		retries, _ := strconv.ParseUint(m[1], 10, 32)
		r.stack = append(r.stack, &frame{kind: frameMatchCondition, repeat: uint(retries)})
		return false, nil, nil
	case reMatchIdle.MatchString(line):
		top := r.top()
		if top == nil || top.kind != frameMatchCondition {
			return false, nil, &ParseError{Line: r.lineNo, Reason: "MRPT without preceding MACT"}
		}
		top.kind = frameMatchIdle
		return false, nil, nil
	case reMatchEnd.MatchString(line):
		top := r.top()
		if top == nil || top.kind != frameMatchIdle {
			return false, nil, &ParseError{Line: r.lineNo, Reason: "PADDING without preceding MRPT"}
		}
		r.stack = r.stack[:len(r.stack)-1]
		ml := vector.MatchedLoop{Condition: top.condition, Idle: top.idle, Retries: top.repeat}
		return r.emit(ml)
	case reLoopBegin.MatchString(line):
		m := reLoopBegin.FindStringSubmatch(line)
		repeat, _ := strconv.ParseUint(m[1], 10, 32)
		r.stack = append(r.stack, &frame{kind: frameLoop, repeat: uint(repeat)})
		return false, nil, nil
	case reLoopEnd.MatchString(line):
		top := r.top()
		if top == nil || top.kind != frameLoop {
			return false, nil, &ParseError{Line: r.lineNo, Reason: "LEND without preceding LBGN"}
		}
		r.stack = r.stack[:len(r.stack)-1]
		return r.emit(vector.Loop{Body: top.body, Repeat: top.repeat})
	default:
		return false, nil, &ParseError{Line: r.lineNo, Reason: fmt.Sprintf("unrecognized statement %q", line)}
	}
}

func (r *VectorReader) top() *frame {
	if len(r.stack) == 0 {
		return nil
	}
	return r.stack[len(r.stack)-1]
}

// emit routes a completed vector to the enclosing construct, or hands it to
// the caller when the stack is empty.
func (r *VectorReader) emit(v vector.Vector) (bool, vector.Vector, error) {
	top := r.top()
	if top == nil {
		return true, v, nil
	}
	switch top.kind {
	case frameLoop:
		top.body = append(top.body, v)
	case frameMatchCondition, frameMatchIdle:
		n, ok := v.(vector.Normal)
		if !ok {
			return false, nil, &ParseError{Line: r.lineNo, Reason: "matched loop may only contain plain vectors"}
		}
		if top.kind == frameMatchCondition {
			top.condition = append(top.condition, n)
		} else {
			top.idle = append(top.idle, n)
		}
	}
	return false, nil, nil
}

func (r *VectorReader) parseNormal(m []string) (vector.Normal, error) {
	repeat, err := strconv.ParseUint(m[1], 10, 32)
	if err != nil || repeat == 0 {
		return vector.Normal{}, &ParseError{Line: r.lineNo, Reason: fmt.Sprintf("invalid repeat count %q", m[1])}
	}
	chars := m[3]
	if len(chars) != len(r.order) {
		return vector.Normal{}, &ParseError{
			Line:   r.lineNo,
			Reason: fmt.Sprintf("vector has %d pin states, %d pins declared", len(chars), len(r.order)),
		}
	}
	state := make(map[string]vector.State, len(r.order))
	for i, logical := range r.order {
		state[logical] = vector.State(chars[i])
	}
	return vector.Normal{State: state, Repeat: uint(repeat), Comment: m[4]}, nil
}

func (r *VectorReader) checkFormat(pinList string) error {
	fields := strings.Fields(pinList)
	if len(fields) != len(r.order) {
		return &ParseError{
			Line:   r.lineNo,
			Reason: fmt.Sprintf("FORMAT declares %d pins, %d expected", len(fields), len(r.order)),
		}
	}
	for i, logical := range r.order {
		if fields[i] != r.pins[logical].Physical {
			return &ParseError{
				Line:   r.lineNo,
				Reason: fmt.Sprintf("FORMAT pin %d is %q, expected %q", i, fields[i], r.pins[logical].Physical),
			}
		}
	}
	return nil
}
