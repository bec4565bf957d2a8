// Package regfile implements a per-architecture physical register catalog
// with sub-register aliasing and width-segmented free lists.
//
// Design: grounded on the original source's BackendInfos
// (Target/registry.rs) - a VecDeque-per-width free list where releasing a
// 64-bit register also pushes its 32/16/8-bit aliases back onto their own
// free lists, so a later 32-bit allocation can reuse the same physical
// register a freed 64-bit value occupied. Go's slice-backed queue plays
// the role of VecDeque.
package regfile

import "github.com/emberlang/emberc/pkg/types"

// PhysReg is a physical register's family identity, independent of width
// (e.g. the rax/eax/ax/al family is one PhysReg).
type PhysReg int

// Aliases holds the four width-specific names for one physical register.
type Aliases struct {
	R64, R32, R16, R8 string
}

// Catalog is an architecture's register file: the alias table plus
// width-segmented free lists of registers still available for allocation.
type Catalog struct {
	aliases map[PhysReg]Aliases
	order   []PhysReg // allocation preference order

	free64 []PhysReg
	free32 []PhysReg
	free16 []PhysReg
	free8  []PhysReg
}

// NewCatalog builds a catalog from an alias table and an allocation order,
// with every register initially free at every width.
func NewCatalog(aliases map[PhysReg]Aliases, order []PhysReg) *Catalog {
	c := &Catalog{aliases: aliases, order: append([]PhysReg(nil), order...)}
	c.Reset()
	return c
}

// Reset returns every register in the catalog to the free lists, in
// allocation-preference order. Called between build_* invocations so a
// backend can be reused without leaking allocations (spec.md §5).
func (c *Catalog) Reset() {
	c.free64 = append([]PhysReg(nil), c.order...)
	c.free32 = append([]PhysReg(nil), c.order...)
	c.free16 = append([]PhysReg(nil), c.order...)
	c.free8 = append([]PhysReg(nil), c.order...)
}

func pop(q *[]PhysReg) (PhysReg, bool) {
	if len(*q) == 0 {
		return 0, false
	}
	r := (*q)[0]
	*q = (*q)[1:]
	return r, true
}

func dropFrom(q []PhysReg, r PhysReg) []PhysReg {
	out := make([]PhysReg, 0, len(q))
	for _, x := range q {
		if x != r {
			out = append(out, x)
		}
	}
	return out
}

// AllocWidth acquires a free register able to hold a value of bit width
// (16, 32, or 64), removing it from every width's free list - an alias
// view of an in-use register is never handed out at a different width.
func (c *Catalog) AllocWidth(bits int) (PhysReg, bool) {
	var r PhysReg
	var ok bool
	switch bits {
	case 64:
		r, ok = pop(&c.free64)
	case 32:
		r, ok = pop(&c.free32)
	case 16:
		r, ok = pop(&c.free16)
	case 8:
		r, ok = pop(&c.free8)
	default:
		return 0, false
	}
	if !ok {
		return 0, false
	}
	c.free64 = dropFrom(c.free64, r)
	c.free32 = dropFrom(c.free32, r)
	c.free16 = dropFrom(c.free16, r)
	c.free8 = dropFrom(c.free8, r)
	return r, true
}

// Alloc acquires a free register sized for tag.
func (c *Catalog) Alloc(tag types.Tag) (PhysReg, bool) {
	return c.AllocWidth(tag.BitSize())
}

// Free returns r to every width's free list, reinserted at the front so
// recently-freed registers are preferred (matches the original source's
// push_front on release, favoring cache-hot reuse over round-robin).
func (c *Catalog) Free(r PhysReg) {
	c.free64 = prepend(c.free64, r)
	c.free32 = prepend(c.free32, r)
	c.free16 = prepend(c.free16, r)
	c.free8 = prepend(c.free8, r)
}

func prepend(q []PhysReg, r PhysReg) []PhysReg {
	out := make([]PhysReg, 0, len(q)+1)
	out = append(out, r)
	out = append(out, q...)
	return out
}

// Name returns r's name at the given bit width.
func (c *Catalog) Name(r PhysReg, bits int) string {
	a := c.aliases[r]
	switch bits {
	case 64:
		return a.R64
	case 32:
		return a.R32
	case 16:
		return a.R16
	case 8:
		return a.R8
	default:
		return a.R64
	}
}

// Reserve removes r from all free lists without requiring a later Alloc
// call to discover it missing - used to carve out fixed-purpose registers
// (e.g. rax/rdx for Div) from the general pool before allocation begins.
func (c *Catalog) Reserve(r PhysReg) {
	c.free64 = dropFrom(c.free64, r)
	c.free32 = dropFrom(c.free32, r)
	c.free16 = dropFrom(c.free16, r)
	c.free8 = dropFrom(c.free8, r)
}
