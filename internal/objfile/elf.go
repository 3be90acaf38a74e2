package objfile

import (
	"debug/elf"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
)

// ntGnuBuildID is the note type of the GNU build id (NT_GNU_BUILD_ID).
const ntGnuBuildID = 3

// classifyELF extracts metadata from an ELF file that has already been
// magic-sniffed. Missing build id or soname is not an error; a file the
// ELF parser rejects is reported as unrecognized.
func classifyELF(f *os.File, path string, fileSize uint64) (*Info, error) {
	ef, err := elf.NewFile(f)
	if err != nil {
		return nil, fmt.Errorf("module %q: %w", path, ErrUnrecognizedFormat)
	}

	soname := elfSoname(ef)
	bias, execOff := elfLoadGeometry(ef)

	return &Info{
		Format:            FormatELF,
		Name:              moduleName(path, soname),
		Path:              path,
		FileSize:          fileSize,
		BuildID:           elfBuildID(ef),
		Soname:            soname,
		LoadBias:          bias,
		ExecSegmentOffset: execOff,
		ImageSize:         elfImageSize(ef),
	}, nil
}

// elfSoname returns the DT_SONAME entry, or "" when the file declares none.
func elfSoname(ef *elf.File) string {
	sonames, err := ef.DynString(elf.DT_SONAME)
	if err != nil || len(sonames) == 0 {
		return ""
	}
	return sonames[0]
}

// elfLoadGeometry returns the load bias and the file offset of the
// executable segment, both taken from the PT_LOAD carrying PF_X. The bias
// is the difference between the segment's mapped address and its file
// offset: zero for position-independent objects, the declared base for
// fixed-placement executables.
func elfLoadGeometry(ef *elf.File) (bias, execOff uint64) {
	for _, p := range ef.Progs {
		if p.Type != elf.PT_LOAD || p.Flags&elf.PF_X == 0 {
			continue
		}
		if p.Vaddr >= p.Off {
			bias = p.Vaddr - p.Off
		}
		return bias, p.Off
	}
	return 0, 0
}

// elfImageSize derives the total address span of the image from its
// loadable segments.
func elfImageSize(ef *elf.File) uint64 {
	var low, high uint64
	first := true
	for _, p := range ef.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if first || p.Vaddr < low {
			low = p.Vaddr
		}
		if end := p.Vaddr + p.Memsz; first || end > high {
			high = end
		}
		first = false
	}
	if first {
		return 0
	}
	return high - low
}

// elfBuildID scans the note sections for the GNU build id and returns it
// hex-encoded, or "" when absent. Segments are scanned as a fallback for
// files with a stripped section table.
func elfBuildID(ef *elf.File) string {
	for _, s := range ef.Sections {
		if s.Type != elf.SHT_NOTE {
			continue
		}
		data, err := s.Data()
		if err != nil {
			continue
		}
		if id := findBuildIDNote(data, ef.ByteOrder); id != "" {
			return id
		}
	}
	for _, p := range ef.Progs {
		if p.Type != elf.PT_NOTE {
			continue
		}
		data := make([]byte, p.Filesz)
		if _, err := p.ReadAt(data, 0); err != nil {
			continue
		}
		if id := findBuildIDNote(data, ef.ByteOrder); id != "" {
			return id
		}
	}
	return ""
}

// findBuildIDNote walks a chain of ELF notes looking for the GNU build id.
// Note entries are namesz/descsz/type headers followed by the 4-byte-aligned
// name and descriptor.
func findBuildIDNote(data []byte, bo binary.ByteOrder) string {
	for len(data) >= 12 {
		namesz := bo.Uint32(data[0:4])
		descsz := bo.Uint32(data[4:8])
		typ := bo.Uint32(data[8:12])
		data = data[12:]

		nameLen := align4(uint64(namesz))
		if nameLen > uint64(len(data)) {
			return ""
		}
		name := data[:namesz]
		data = data[nameLen:]

		descLen := align4(uint64(descsz))
		if descLen > uint64(len(data)) {
			return ""
		}
		desc := data[:descsz]
		data = data[descLen:]

		if typ == ntGnuBuildID && string(name) == "GNU\x00" {
			return hex.EncodeToString(desc)
		}
	}
	return ""
}

func align4(n uint64) uint64 {
	return (n + 3) &^ 3
}
