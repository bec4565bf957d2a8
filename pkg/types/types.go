// Package types implements scalar type metadata and tagged integer values.
//
// Design: a closed set of machine-representable scalars, each carrying its
// own bit width. Kept deliberately small - no floats, no vectors, no
// aggregates (see DESIGN.md for why).
package types

import "fmt"

// Tag identifies a scalar type without carrying a value.
type Tag int

const (
	U16 Tag = iota
	U32
	U64
	I16
	I32
	I64
	Ptr
	Void
)

// BitSize returns the width of the type in bits.
func (t Tag) BitSize() int {
	switch t {
	case U16, I16:
		return 16
	case U32, I32:
		return 32
	case U64, I64, Ptr:
		return 64
	case Void:
		return 0
	default:
		panic(fmt.Sprintf("types: unknown tag %d", t))
	}
}

// ByteSize returns the width of the type in bytes.
func (t Tag) ByteSize() int {
	return t.BitSize() / 8
}

// Signed reports whether the type is a signed integer type.
func (t Tag) Signed() bool {
	switch t {
	case I16, I32, I64:
		return true
	default:
		return false
	}
}

func (t Tag) String() string {
	switch t {
	case U16:
		return "u16"
	case U32:
		return "u32"
	case U64:
		return "u64"
	case I16:
		return "i16"
	case I32:
		return "i32"
	case I64:
		return "i64"
	case Ptr:
		return "ptr"
	case Void:
		return "void"
	default:
		return fmt.Sprintf("Tag(%d)", int(t))
	}
}

// ParseTag parses a type keyword from the textual IR grammar.
func ParseTag(s string) (Tag, bool) {
	switch s {
	case "u16":
		return U16, true
	case "u32":
		return U32, true
	case "u64":
		return U64, true
	case "i16":
		return I16, true
	case "i32":
		return I32, true
	case "i64":
		return I64, true
	case "ptr":
		return Ptr, true
	case "void":
		return Void, true
	default:
		return 0, false
	}
}

// TypedInt is a type tag paired with a 64-bit payload, narrowed to the
// tag's width on construction.
type TypedInt struct {
	Tag Tag
	bits uint64
}

// Val returns the payload reinterpreted as unsigned 64-bit.
func (v TypedInt) Val() uint64 {
	return v.bits
}

// Signed returns the payload reinterpreted as a signed 64-bit integer,
// sign-extended from the tag's width.
func (v TypedInt) Signed() int64 {
	switch v.Tag {
	case I16:
		return int64(int16(v.bits))
	case I32:
		return int64(int32(v.bits))
	case I64, Ptr:
		return int64(v.bits)
	default:
		return int64(v.bits)
	}
}

// FromInt constructs a TypedInt, wrapping i to the tag's width.
func FromInt(tag Tag, i int64) TypedInt {
	var bits uint64
	switch tag {
	case U16, I16:
		bits = uint64(uint16(i))
	case U32, I32:
		bits = uint64(uint32(i))
	case U64, I64, Ptr:
		bits = uint64(i)
	case Void:
		bits = 0
	}
	return TypedInt{Tag: tag, bits: bits}
}

func (v TypedInt) String() string {
	if v.Tag == Void {
		return "void"
	}
	if v.Tag.Signed() {
		return fmt.Sprintf("%s %d", v.Tag, v.Signed())
	}
	return fmt.Sprintf("%s %d", v.Tag, v.bits)
}
