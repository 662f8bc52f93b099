// Package proc contains the process objects handed to the scheduler.
package proc

import (
	"zos/kernel"
	"zos/kernel/bitfield"
	"zos/kernel/cpu"
	"zos/kernel/kfmt"
	"zos/kernel/mem/vmm"
)

var (
	errNoAddressSpace = &kernel.Error{Module: "proc", Message: "process needs an address space with a lower half"}
	errMisalignedSP   = &kernel.Error{Module: "proc", Message: "stack pointer must be 16-byte aligned"}

	log = kfmt.Logger{Module: "proc"}
)

// InitialSPSR is the saved program status a new process starts with: EL1
// using SP_EL0, with FIQs, SErrors and debug exceptions masked.
var InitialSPSR = bitfield.MakeValue(
	cpu.SPSR.M.Of(cpu.EL1t),
	cpu.SPSR.F.Of(true),
	cpu.SPSR.A.Of(true),
	cpu.SPSR.D.Of(true),
)

// Context is the register state restored when a process is scheduled.
type Context struct {
	X    [31]uint64
	SPSR uint64
	ELR  uintptr
	SP   uintptr

	// TranslationTable is the root table of the lower half of the
	// process address space.
	TranslationTable uintptr
	ASID             uint16
}

// TTBR0 returns the TTBR0_EL1 value that installs the context's address
// space.
func (c *Context) TTBR0() uint64 {
	return cpu.MakeTTBR(c.TranslationTable, c.ASID)
}

// Process couples an address space with the register state used to run
// code inside it.
type Process struct {
	name    string
	space   *vmm.AddressSpace
	context Context
}

// New creates a process that starts executing at entry with the stack
// pointer set to sp. The process takes ownership of space.
func New(name string, space *vmm.AddressSpace, entry, sp uintptr) (*Process, *kernel.Error) {
	if space == nil || space.LowerBase() == 0 {
		return nil, errNoAddressSpace
	}

	if sp&0xf != 0 {
		return nil, errMisalignedSP
	}

	p := &Process{name: name, space: space}
	p.context.SPSR = InitialSPSR
	p.context.ELR = entry
	p.context.SP = sp
	p.context.TranslationTable = space.LowerBase()
	p.context.ASID = space.ASID()

	log.Debugf("%s: SP: 0x%x\n", name, uint64(sp))
	log.Debugf("%s: SPSR: 0x%x\n", name, p.context.SPSR)
	log.Debugf("%s: ELR: 0x%x\n", name, uint64(entry))
	return p, nil
}

// Name returns the process name.
func (p *Process) Name() string { return p.name }

// Context returns the saved register state of the process.
func (p *Process) Context() *Context { return &p.context }

// AddressSpace returns the address space the process runs in.
func (p *Process) AddressSpace() *vmm.AddressSpace { return p.space }

// Release tears down the process address space. It fails if the space is
// still active.
func (p *Process) Release() *kernel.Error {
	freed, err := p.space.Destroy()
	if err != nil {
		return err
	}

	log.Debugf("%s: released %d tables\n", p.name, freed)
	return nil
}
