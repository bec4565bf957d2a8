// Package objwriter is a minimal stand-in for the external object-file
// container the back end hands bytes and relocations to. A real
// ELF/Mach-O/PE writer is explicitly out of scope (spec.md §1); this
// package instead documents and round-trips a flat container - a
// deduplicated symbol table, a relocation table, then the raw code blob -
// good enough to drive cmd/emberc's --emit-obj flag and prove the
// (bytes, []Link) handoff from pkg/encode/amd64 survives a write/read
// cycle intact.
//
// Design grounded on the teacher's pkg/linker, generalized from "shell out
// to the system linker/assembler" (this repo's Non-goals explicitly rule
// out a real linker) into "write the one piece linker.Emit cared about -
// code plus its relocations - to a self-contained file", using
// encoding/binary the way a from-scratch object format needs: no
// ecosystem library targets this exact ad hoc container, since it isn't a
// real standard (see DESIGN.md).
package objwriter

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	amd64enc "github.com/emberlang/emberc/pkg/encode/amd64"
)

// magic identifies an .eobj container and its format version.
var magic = [4]byte{'E', 'O', 'B', '1'}

// noSymbol marks a relocation's From field as absent in the symbol table.
const noSymbol = ^uint32(0)

// Write serializes code and links into w as an .eobj container:
//
//	magic        [4]byte
//	numSymbols   uint32
//	symbols      numSymbols * (uint32 length, length bytes)
//	numRelocs    uint32
//	relocations  numRelocs * relocRecord
//	codeLen      uint32
//	code         codeLen bytes
//
// Each relocRecord is (kind uint8, special uint8, at uint32, addend int64,
// symbolIndex uint32, fromIndex uint32), where symbolIndex/fromIndex index
// into the symbol table (fromIndex is noSymbol when From is empty).
func Write(w io.Writer, code []byte, links []amd64enc.Link) error {
	syms := newSymbolTable(links)

	if _, err := w.Write(magic[:]); err != nil {
		return fmt.Errorf("objwriter: writing magic: %w", err)
	}
	if err := writeSymbolTable(w, syms); err != nil {
		return err
	}
	if err := writeRelocTable(w, syms, links); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(code))); err != nil {
		return fmt.Errorf("objwriter: writing code length: %w", err)
	}
	if _, err := w.Write(code); err != nil {
		return fmt.Errorf("objwriter: writing code: %w", err)
	}
	return nil
}

// Read parses an .eobj container written by Write, returning the code blob
// and its relocations in the same order they were written.
func Read(r io.Reader) ([]byte, []amd64enc.Link, error) {
	var got [4]byte
	if _, err := io.ReadFull(r, got[:]); err != nil {
		return nil, nil, fmt.Errorf("objwriter: reading magic: %w", err)
	}
	if got != magic {
		return nil, nil, fmt.Errorf("objwriter: bad magic %v", got)
	}

	syms, err := readSymbolTable(r)
	if err != nil {
		return nil, nil, err
	}
	links, err := readRelocTable(r, syms)
	if err != nil {
		return nil, nil, err
	}

	var codeLen uint32
	if err := binary.Read(r, binary.BigEndian, &codeLen); err != nil {
		return nil, nil, fmt.Errorf("objwriter: reading code length: %w", err)
	}
	code := make([]byte, codeLen)
	if _, err := io.ReadFull(r, code); err != nil {
		return nil, nil, fmt.Errorf("objwriter: reading code: %w", err)
	}
	return code, links, nil
}

// symbolTable deduplicates every Symbol/From string across links into one
// ordered, indexable list.
type symbolTable struct {
	names []string
	index map[string]uint32
}

func newSymbolTable(links []amd64enc.Link) *symbolTable {
	t := &symbolTable{index: make(map[string]uint32)}
	for _, l := range links {
		t.intern(l.Symbol)
		if l.From != "" {
			t.intern(l.From)
		}
	}
	return t
}

func (t *symbolTable) intern(name string) uint32 {
	if idx, ok := t.index[name]; ok {
		return idx
	}
	idx := uint32(len(t.names))
	t.names = append(t.names, name)
	t.index[name] = idx
	return idx
}

func writeSymbolTable(w io.Writer, t *symbolTable) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(t.names))); err != nil {
		return fmt.Errorf("objwriter: writing symbol count: %w", err)
	}
	for _, name := range t.names {
		if err := binary.Write(w, binary.BigEndian, uint32(len(name))); err != nil {
			return fmt.Errorf("objwriter: writing symbol length: %w", err)
		}
		if _, err := io.WriteString(w, name); err != nil {
			return fmt.Errorf("objwriter: writing symbol %q: %w", name, err)
		}
	}
	return nil
}

func readSymbolTable(r io.Reader) ([]string, error) {
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("objwriter: reading symbol count: %w", err)
	}
	names := make([]string, count)
	for i := range names {
		var length uint32
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			return nil, fmt.Errorf("objwriter: reading symbol %d length: %w", i, err)
		}
		buf := make([]byte, length)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("objwriter: reading symbol %d: %w", i, err)
		}
		names[i] = string(buf)
	}
	return names, nil
}

func writeRelocTable(w io.Writer, t *symbolTable, links []amd64enc.Link) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(links))); err != nil {
		return fmt.Errorf("objwriter: writing relocation count: %w", err)
	}
	for _, l := range links {
		fromIdx := noSymbol
		if l.From != "" {
			fromIdx = t.index[l.From]
		}
		fields := []any{
			uint8(l.Kind),
			boolToByte(l.Special),
			uint32(l.At),
			l.Addend,
			t.index[l.Symbol],
			fromIdx,
		}
		for _, f := range fields {
			if err := binary.Write(w, binary.BigEndian, f); err != nil {
				return fmt.Errorf("objwriter: writing relocation: %w", err)
			}
		}
	}
	return nil
}

func readRelocTable(r io.Reader, syms []string) ([]amd64enc.Link, error) {
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("objwriter: reading relocation count: %w", err)
	}
	links := make([]amd64enc.Link, count)
	for i := range links {
		var kind, special uint8
		var at uint32
		var addend int64
		var symIdx, fromIdx uint32

		for _, f := range []any{&kind, &special, &at, &addend, &symIdx, &fromIdx} {
			if err := binary.Read(r, binary.BigEndian, f); err != nil {
				return nil, fmt.Errorf("objwriter: reading relocation %d: %w", i, err)
			}
		}
		if int(symIdx) >= len(syms) {
			return nil, fmt.Errorf("objwriter: relocation %d: symbol index %d out of range", i, symIdx)
		}
		l := amd64enc.Link{
			Kind:    amd64enc.LinkKind(kind),
			Symbol:  syms[symIdx],
			At:      int(at),
			Addend:  addend,
			Special: special != 0,
		}
		if fromIdx != noSymbol {
			if int(fromIdx) >= len(syms) {
				return nil, fmt.Errorf("objwriter: relocation %d: from index %d out of range", i, fromIdx)
			}
			l.From = syms[fromIdx]
		}
		links[i] = l
	}
	return links, nil
}

func boolToByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// Marshal writes code and links into a fresh in-memory buffer.
func Marshal(code []byte, links []amd64enc.Link) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, code, links); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal is the Marshal counterpart, reading a container from an
// in-memory byte slice.
func Unmarshal(data []byte) ([]byte, []amd64enc.Link, error) {
	return Read(bytes.NewReader(data))
}
