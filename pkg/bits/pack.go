package bits

import "fmt"

// Field is one element of a packed construction. Fields are produced by
// Uint, Bool, Lit and Bits.
type Field struct {
	arr Array
	err error
}

// Uint is an unsigned integer field of the given width.
func Uint(width int, v uint64) Field {
	a, err := FromUint(v, width)
	return Field{arr: a, err: err}
}

// Bool is a single-bit field.
func Bool(v bool) Field {
	a := New(1)
	a.b[0] = v
	return Field{arr: a}
}

// Lit is a literal field written as "0b…" or "0x…".
func Lit(s string) Field {
	a, err := Parse(s)
	return Field{arr: a, err: err}
}

// Bits embeds an existing array as a field.
func Bits(a Array) Field {
	return Field{arr: a.Clone()}
}

// PackLSB concatenates fields starting at bit 0: the first field occupies
// the least significant bits. This is the order the JTAG and debug module
// register layouts are written in throughout this codebase.
func PackLSB(fields ...Field) (Array, error) {
	out := New(0)
	for i, f := range fields {
		if f.err != nil {
			return Array{}, fmt.Errorf("pack field %d: %w", i, f.err)
		}
		out = out.Concat(f.arr)
	}
	return out, nil
}

// PackMSB concatenates fields starting at the top: the first field occupies
// the most significant bits.
func PackMSB(fields ...Field) (Array, error) {
	out := New(0)
	for i := len(fields) - 1; i >= 0; i-- {
		if fields[i].err != nil {
			return Array{}, fmt.Errorf("pack field %d: %w", i, fields[i].err)
		}
		out = out.Concat(fields[i].arr)
	}
	return out, nil
}
