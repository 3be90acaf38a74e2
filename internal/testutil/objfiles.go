package testutil

import (
	"encoding/binary"
	"os"
	"testing"
)

// Synthetic object files for classifier tests. The layouts are fixed so
// tests can assert exact metadata; only soname, build id and addresses
// vary. Both builders produce images that the stdlib debug/elf and
// debug/pe parsers accept.

const (
	// ELFSize is the on-disk size of a synthetic ELF file.
	ELFSize = 0x1200
	// ELFExecOffset is the file offset of its executable segment.
	ELFExecOffset = 0x1000
	// ELFImageSize is the PT_LOAD address span of the image.
	ELFImageSize = 0x1200
)

// ELFOptions controls the synthetic ELF image.
type ELFOptions struct {
	// Soname is embedded as DT_SONAME when non-empty.
	Soname string
	// BuildID is embedded as an NT_GNU_BUILD_ID note when non-empty.
	BuildID []byte
	// Base is the virtual address of the first loadable segment. Zero
	// produces a position-independent object, non-zero a fixed-placement
	// executable with that load bias.
	Base uint64
}

// WriteELF writes a minimal ELF64 shared object or executable to path.
func WriteELF(tb testing.TB, path string, opts ELFOptions) {
	tb.Helper()
	if len(opts.Soname) > 60 {
		tb.Fatalf("soname %q exceeds the synthetic dynstr slot", opts.Soname)
	}
	if len(opts.BuildID) > 48 {
		tb.Fatalf("build id of %d bytes exceeds the synthetic note slot", len(opts.BuildID))
	}

	buf := make([]byte, ELFSize)
	le := binary.LittleEndian

	etype := uint16(3) // ET_DYN
	if opts.Base != 0 {
		etype = 2 // ET_EXEC
	}

	// ELF header.
	copy(buf[0:], []byte{0x7f, 'E', 'L', 'F', 2, 1, 1})
	le.PutUint16(buf[0x10:], etype)
	le.PutUint16(buf[0x12:], 62) // EM_X86_64
	le.PutUint32(buf[0x14:], 1)
	le.PutUint64(buf[0x18:], opts.Base+ELFExecOffset) // e_entry
	le.PutUint64(buf[0x20:], 0x40)                    // e_phoff
	le.PutUint64(buf[0x28:], 0x200)                   // e_shoff
	le.PutUint16(buf[0x34:], 64)                      // e_ehsize
	le.PutUint16(buf[0x36:], 56)                      // e_phentsize
	le.PutUint16(buf[0x38:], 2)                       // e_phnum
	le.PutUint16(buf[0x3a:], 64)                      // e_shentsize
	le.PutUint16(buf[0x3c:], 5)                       // e_shnum
	le.PutUint16(buf[0x3e:], 4)                       // e_shstrndx

	// Program headers: a read-only header segment and the text segment.
	phdr(buf[0x40:], le, 4, 0, opts.Base, 0x400)                          // PF_R
	phdr(buf[0x78:], le, 5, ELFExecOffset, opts.Base+ELFExecOffset, 0x200) // PF_R|PF_X

	// Note at 0x100: a GNU build id, or a placeholder note the build id
	// scan ignores when no id is wanted.
	desc := opts.BuildID
	name := "GNU\x00"
	if len(desc) == 0 {
		desc = make([]byte, 20)
		name = "PAD\x00"
	}
	le.PutUint32(buf[0x100:], 4)
	le.PutUint32(buf[0x104:], uint32(len(desc)))
	le.PutUint32(buf[0x108:], 3) // NT_GNU_BUILD_ID
	copy(buf[0x10c:], name)
	copy(buf[0x110:], desc)
	noteSize := uint64(0x10 + (len(desc)+3)&^3)

	// Dynamic string table at 0x140 and dynamic section at 0x180.
	dynstrSize := uint64(1)
	if opts.Soname != "" {
		copy(buf[0x141:], opts.Soname)
		dynstrSize = uint64(1 + len(opts.Soname) + 1)
		le.PutUint64(buf[0x180:], 14) // DT_SONAME
		le.PutUint64(buf[0x188:], 1)  // offset in .dynstr
	}

	// Section name string table at 0x1a0.
	shstrtab := "\x00.note.gnu.build-id\x00.dynstr\x00.dynamic\x00.shstrtab\x00"
	copy(buf[0x1a0:], shstrtab)

	// Section headers at 0x200. Index 0 stays zeroed.
	shdr(buf[0x240:], le, 1, 7, 2, opts.Base+0x100, 0x100, noteSize, 0, 4, 0)       // .note.gnu.build-id
	shdr(buf[0x280:], le, 20, 3, 2, opts.Base+0x140, 0x140, dynstrSize, 0, 1, 0)    // .dynstr
	shdr(buf[0x2c0:], le, 28, 6, 3, opts.Base+0x180, 0x180, 32, 2, 8, 16)           // .dynamic
	shdr(buf[0x300:], le, 37, 3, 0, 0, 0x1a0, uint64(len(shstrtab)), 0, 1, 0)       // .shstrtab

	if err := os.WriteFile(path, buf, 0o644); err != nil {
		tb.Fatalf("writing synthetic ELF: %v", err)
	}
}

// phdr writes one PT_LOAD program header.
func phdr(b []byte, le binary.ByteOrder, flags uint32, off, vaddr, size uint64) {
	le.PutUint32(b[0:], 1) // PT_LOAD
	le.PutUint32(b[4:], flags)
	le.PutUint64(b[8:], off)
	le.PutUint64(b[16:], vaddr)
	le.PutUint64(b[24:], vaddr)
	le.PutUint64(b[32:], size)
	le.PutUint64(b[40:], size)
	le.PutUint64(b[48:], 0x1000)
}

// shdr writes one section header.
func shdr(b []byte, le binary.ByteOrder, name, typ uint32, flags, addr, off, size uint64, link uint32, align, entsize uint64) {
	le.PutUint32(b[0:], name)
	le.PutUint32(b[4:], typ)
	le.PutUint64(b[8:], flags)
	le.PutUint64(b[16:], addr)
	le.PutUint64(b[24:], off)
	le.PutUint64(b[32:], size)
	le.PutUint32(b[40:], link)
	le.PutUint32(b[44:], 0)
	le.PutUint64(b[48:], align)
	le.PutUint64(b[56:], entsize)
}

// PEOptions controls the synthetic PE/COFF image.
type PEOptions struct {
	// ImageBase is the declared base address the loader would apply.
	ImageBase uint64
	// SizeOfImage is the declared in-memory span of the image.
	SizeOfImage uint32
	// ExecOffset is the file offset of the executable section's raw data.
	// Zero defaults to 0x1000.
	ExecOffset uint32
}

// WritePE writes a minimal PE32+ DLL to path. The file is
// opts.ExecOffset+0x400 bytes long with an executable .text section and a
// .data section.
func WritePE(tb testing.TB, path string, opts PEOptions) {
	tb.Helper()
	execOff := opts.ExecOffset
	if execOff == 0 {
		execOff = 0x1000
	}
	if execOff < 0x200 {
		tb.Fatalf("exec offset %#x overlaps the synthetic PE headers", execOff)
	}

	buf := make([]byte, int(execOff)+0x400)
	le := binary.LittleEndian

	// DOS header: magic and the PE header pointer.
	copy(buf[0:], "MZ")
	le.PutUint32(buf[0x3c:], 0x40)

	// PE signature and COFF file header.
	copy(buf[0x40:], "PE\x00\x00")
	le.PutUint16(buf[0x44:], 0x8664) // IMAGE_FILE_MACHINE_AMD64
	le.PutUint16(buf[0x46:], 2)      // NumberOfSections
	le.PutUint16(buf[0x54:], 240)    // SizeOfOptionalHeader
	le.PutUint16(buf[0x56:], 0x2022) // EXECUTABLE_IMAGE | LARGE_ADDRESS_AWARE | DLL

	// Optional header (PE32+).
	oh := buf[0x58:]
	le.PutUint16(oh[0:], 0x20b) // PE32+ magic
	oh[2], oh[3] = 14, 0        // linker version
	le.PutUint32(oh[4:], 0x200) // SizeOfCode
	le.PutUint32(oh[8:], 0x200) // SizeOfInitializedData
	le.PutUint32(oh[16:], 0x1000) // AddressOfEntryPoint
	le.PutUint32(oh[20:], 0x1000) // BaseOfCode
	le.PutUint64(oh[24:], opts.ImageBase)
	le.PutUint32(oh[32:], 0x1000) // SectionAlignment
	le.PutUint32(oh[36:], 0x200)  // FileAlignment
	le.PutUint16(oh[40:], 6)      // MajorOperatingSystemVersion
	le.PutUint16(oh[48:], 6)      // MajorSubsystemVersion
	le.PutUint32(oh[56:], opts.SizeOfImage)
	le.PutUint32(oh[60:], 0x400)     // SizeOfHeaders
	le.PutUint16(oh[68:], 3)         // IMAGE_SUBSYSTEM_WINDOWS_CUI
	le.PutUint16(oh[70:], 0x160)     // DllCharacteristics
	le.PutUint64(oh[72:], 0x100000)  // SizeOfStackReserve
	le.PutUint64(oh[80:], 0x1000)    // SizeOfStackCommit
	le.PutUint64(oh[88:], 0x100000)  // SizeOfHeapReserve
	le.PutUint64(oh[96:], 0x1000)    // SizeOfHeapCommit
	le.PutUint32(oh[108:], 16)       // NumberOfRvaAndSizes; directories stay zero

	// Section headers.
	sec := buf[0x148:]
	writePESection(sec[0:], le, ".text", 0x1000, execOff, 0x60000020) // CODE|EXECUTE|READ
	writePESection(sec[40:], le, ".data", 0x2000, execOff+0x200, 0xc0000040)

	if err := os.WriteFile(path, buf, 0o644); err != nil {
		tb.Fatalf("writing synthetic PE: %v", err)
	}
}

// writePESection writes one PE section header.
func writePESection(b []byte, le binary.ByteOrder, name string, va, raw uint32, characteristics uint32) {
	copy(b[0:8], name)
	le.PutUint32(b[8:], 0x200) // VirtualSize
	le.PutUint32(b[12:], va)
	le.PutUint32(b[16:], 0x200) // SizeOfRawData
	le.PutUint32(b[20:], raw)
	le.PutUint32(b[36:], characteristics)
}
