package regfile

// amd64 general-purpose register identities. rsp/rbp are excluded from the
// allocator's pool - they're the frame pointer and stack pointer, never
// general allocation targets, matching how the teacher's amd64.ArgRegs/
// CalleeSaved tables never list them either.
const (
	RAX PhysReg = iota
	RBX
	RCX
	RDX
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
	RSP // stack pointer; excluded from the allocation pool, addressed directly by call/stack-frame lowering
	RBP // frame pointer; excluded from the allocation pool, used as the spill-slot base
)

var amd64Aliases = map[PhysReg]Aliases{
	RAX: {"rax", "eax", "ax", "al"},
	RSP: {"rsp", "esp", "sp", "spl"},
	RBP: {"rbp", "ebp", "bp", "bpl"},
	RBX: {"rbx", "ebx", "bx", "bl"},
	RCX: {"rcx", "ecx", "cx", "cl"},
	RDX: {"rdx", "edx", "dx", "dl"},
	RSI: {"rsi", "esi", "si", "sil"},
	RDI: {"rdi", "edi", "di", "dil"},
	R8:  {"r8", "r8d", "r8w", "r8b"},
	R9:  {"r9", "r9d", "r9w", "r9b"},
	R10: {"r10", "r10d", "r10w", "r10b"},
	R11: {"r11", "r11d", "r11w", "r11b"},
	R12: {"r12", "r12d", "r12w", "r12b"},
	R13: {"r13", "r13d", "r13w", "r13b"},
	R14: {"r14", "r14d", "r14w", "r14b"},
	R15: {"r15", "r15d", "r15w", "r15b"},
}

// amd64Order is the general-purpose allocation preference order: caller-
// saved scratch registers first (cheapest to use, no save/restore needed
// unless live across a call), then callee-saved. rax/rdx are listed last
// since pkg/compile reserves them for Div's fixed dividend layout before
// general allocation runs.
var amd64Order = []PhysReg{
	R10, R11, RCX, RSI, RDI, R8, R9,
	RBX, R12, R13, R14, R15,
	RAX, RDX,
}

// NewAMD64Catalog returns a fresh amd64 general-purpose register catalog.
func NewAMD64Catalog() *Catalog {
	return NewCatalog(amd64Aliases, amd64Order)
}
