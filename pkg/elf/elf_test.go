package elf

import (
	"testing"
)

func TestNewMemoryRejectsIllegalWidths(t *testing.T) {
	for _, w := range []int{0, 3, 5, 32} {
		if _, err := NewMemory(w); err == nil {
			t.Errorf("word width %d accepted", w)
		}
	}
	for _, w := range []int{1, 2, 4, 8, 16} {
		if _, err := NewMemory(w); err != nil {
			t.Errorf("word width %d rejected: %v", w, err)
		}
	}
}

func TestAddBytesAligned(t *testing.T) {
	mem, err := NewMemory(4)
	if err != nil {
		t.Fatal(err)
	}
	mem.AddBytes(0x1c008080, []byte{0xef, 0xbe, 0xad, 0xde})
	word, ok := mem.Word(0x1c008080)
	if !ok {
		t.Fatal("word missing")
	}
	if word.Uint() != 0xdeadbeef {
		t.Errorf("got 0x%x, want 0xdeadbeef", word.Uint())
	}
}

func TestAddBytesUnalignedMerges(t *testing.T) {
	mem, _ := NewMemory(4)
	// A single byte lands inside an aligned word.
	mem.AddBytes(0x1001, []byte{0xaa})
	word, ok := mem.Word(0x1000)
	if !ok {
		t.Fatal("word missing")
	}
	if word.Uint() != 0x0000aa00 {
		t.Errorf("got 0x%08x, want 0x0000aa00", word.Uint())
	}
	// A second write into the same word merges.
	mem.AddBytes(0x1003, []byte{0xbb})
	word, _ = mem.Word(0x1000)
	if word.Uint() != 0xbb00aa00 {
		t.Errorf("got 0x%08x, want 0xbb00aa00", word.Uint())
	}
}

func TestAddBytesSpansWords(t *testing.T) {
	mem, _ := NewMemory(4)
	mem.AddBytes(0x1002, []byte{0x11, 0x22, 0x33, 0x44})
	lo, _ := mem.Word(0x1000)
	hi, _ := mem.Word(0x1004)
	if lo.Uint() != 0x22110000 {
		t.Errorf("low word 0x%08x, want 0x22110000", lo.Uint())
	}
	if hi.Uint() != 0x00004433 {
		t.Errorf("high word 0x%08x, want 0x00004433", hi.Uint())
	}
}

func TestAddressesSortedAndAligned(t *testing.T) {
	mem, _ := NewMemory(4)
	mem.AddBytes(0x2000, []byte{1})
	mem.AddBytes(0x1001, []byte{2})
	mem.AddBytes(0x3003, []byte{3})
	addrs := mem.Addresses()
	if len(addrs) != 3 {
		t.Fatalf("got %d addresses", len(addrs))
	}
	prev := uint64(0)
	for _, a := range addrs {
		if a%4 != 0 {
			t.Errorf("address 0x%x not word aligned", a)
		}
		if a < prev {
			t.Error("addresses not sorted")
		}
		prev = a
	}
}

func TestGapsStayAbsent(t *testing.T) {
	mem, _ := NewMemory(4)
	mem.AddBytes(0x1000, []byte{1, 2, 3, 4})
	mem.AddBytes(0x2000, []byte{5, 6, 7, 8})
	if mem.Len() != 2 {
		t.Errorf("got %d words, want 2", mem.Len())
	}
	if _, ok := mem.Word(0x1800); ok {
		t.Error("gap address materialized")
	}
}

func TestWiderWords(t *testing.T) {
	mem, _ := NewMemory(8)
	mem.AddBytes(0x1000, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	word, ok := mem.Word(0x1000)
	if !ok {
		t.Fatal("word missing")
	}
	if word.Len() != 64 {
		t.Errorf("word width %d bits, want 64", word.Len())
	}
	if word.Uint() != 0x0807060504030201 {
		t.Errorf("got 0x%x", word.Uint())
	}
}
