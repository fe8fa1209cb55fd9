// Package elf extracts the loadable contents of ELF binaries as an
// address-to-word byte map suitable for memory preloading.
package elf

import (
	debugelf "debug/elf"
	"fmt"
	"io"
	"sort"

	"github.com/pulp-platform/dumpling/pkg/bits"
	"github.com/sirupsen/logrus"
)

// Error wraps failures while reading or interpreting an ELF binary.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("elf %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Memory is an ordered address-to-word mapping of a given word width.
// Addresses are aligned to the word width; addresses never written stay
// absent. Words are stored little endian.
type Memory struct {
	wordBytes int
	words     map[uint64][]byte
}

// NewMemory creates an empty byte map with the given word width in bytes.
// Legal widths are 1, 2, 4, 8 and 16.
func NewMemory(wordBytes int) (*Memory, error) {
	switch wordBytes {
	case 1, 2, 4, 8, 16:
	default:
		return nil, fmt.Errorf("illegal word width %d bytes", wordBytes)
	}
	return &Memory{wordBytes: wordBytes, words: make(map[uint64][]byte)}, nil
}

// WordBytes returns the word width in bytes.
func (m *Memory) WordBytes() int { return m.wordBytes }

// AddBytes merges data at the given base address into the map. Partial
// words are read-modify-written so overlapping segments compose.
func (m *Memory) AddBytes(base uint64, data []byte) {
	for len(data) > 0 {
		aligned := base &^ uint64(m.wordBytes-1)
		shift := int(base - aligned)
		n := m.wordBytes - shift
		if n > len(data) {
			n = len(data)
		}
		word, ok := m.words[aligned]
		if !ok {
			word = make([]byte, m.wordBytes)
			m.words[aligned] = word
		}
		copy(word[shift:shift+n], data[:n])
		base += uint64(n)
		data = data[n:]
	}
}

// Addresses returns all word addresses in ascending order.
func (m *Memory) Addresses() []uint64 {
	addrs := make([]uint64, 0, len(m.words))
	for a := range m.words {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}

// Word returns the word at an aligned address as a bit array.
func (m *Memory) Word(addr uint64) (bits.Array, bool) {
	word, ok := m.words[addr]
	if !ok {
		return bits.Array{}, false
	}
	return bits.FromBytes(word), true
}

// Len returns the number of words in the map.
func (m *Memory) Len() int { return len(m.words) }

// Parser accumulates ELF binaries and merges their loadable segments into a
// single byte map.
type Parser struct {
	binaries []string
	log      *logrus.Entry
}

// NewParser returns an empty parser.
func NewParser() *Parser {
	return &Parser{log: logrus.WithField("component", "elf")}
}

// AddBinary schedules a binary for parsing. All added binaries are merged
// when Parse is called.
func (p *Parser) AddBinary(path string) {
	p.log.Infof("Added binary: %s", path)
	p.binaries = append(p.binaries, path)
}

// Entry returns the entry point of the first added binary.
func (p *Parser) Entry() (uint64, error) {
	if len(p.binaries) == 0 {
		return 0, fmt.Errorf("no binaries added")
	}
	f, err := debugelf.Open(p.binaries[0])
	if err != nil {
		return 0, &Error{Path: p.binaries[0], Err: err}
	}
	defer f.Close()
	return f.Entry, nil
}

// Parse reads every added binary and returns the merged byte map. Only
// PT_LOAD segments contribute: each supplies its file contents at the
// segment's physical address plus zero fill for the [filesz, memsz) tail.
func (p *Parser) Parse(wordBytes int) (*Memory, error) {
	mem, err := NewMemory(wordBytes)
	if err != nil {
		return nil, err
	}
	for _, path := range p.binaries {
		if err := p.parseOne(path, mem); err != nil {
			return nil, err
		}
	}
	return mem, nil
}

func (p *Parser) parseOne(path string, mem *Memory) error {
	f, err := debugelf.Open(path)
	if err != nil {
		return &Error{Path: path, Err: err}
	}
	defer f.Close()
	for _, prog := range f.Progs {
		if prog.Type != debugelf.PT_LOAD {
			continue
		}
		data := make([]byte, prog.Filesz)
		if _, err := io.ReadFull(prog.Open(), data); err != nil {
			return &Error{Path: path, Err: fmt.Errorf("read segment @0x%x: %w", prog.Paddr, err)}
		}
		p.log.Infof("Handling segment (base: 0x%x, size: 0x%x)", prog.Paddr, prog.Filesz)
		mem.AddBytes(prog.Paddr, data)
		if prog.Filesz < prog.Memsz {
			zeroBase := prog.Paddr + prog.Filesz
			zeroLen := prog.Memsz - prog.Filesz
			p.log.Infof("Init segment tail to 0 (base: 0x%x, size: 0x%x)", zeroBase, zeroLen)
			mem.AddBytes(zeroBase, make([]byte, zeroLen))
		}
	}
	return nil
}
