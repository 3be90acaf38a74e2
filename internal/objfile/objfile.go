// Package objfile classifies the binaries backing memory mappings and
// extracts the identity metadata the profiler needs to symbolize samples:
// build id, load bias, executable segment offset and declared image size.
//
// Only the two formats a Linux target can actually execute are supported:
// native ELF images and PE/COFF images loaded through Wine-like loaders.
package objfile

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/xxh3"
)

// devDir is the device directory prefix. Paths under it are character or
// block devices and must never be opened for content inspection.
const devDir = "/dev/"

var (
	// ErrNotRegularFile indicates the path denotes a character or block device.
	ErrNotRegularFile = errors.New("file is a character or block device")

	// ErrUnrecognizedFormat indicates the file matches no supported object format.
	ErrUnrecognizedFormat = errors.New("file was not recognized as a valid object file")
)

// Format identifies the container format of a classified object file.
type Format int

const (
	// FormatUnknown is the zero value; Classify never returns it.
	FormatUnknown Format = iota
	// FormatELF is a native ELF executable or shared object.
	FormatELF
	// FormatCOFF is a PE/COFF image (DLL or EXE).
	FormatCOFF
)

func (f Format) String() string {
	switch f {
	case FormatELF:
		return "elf"
	case FormatCOFF:
		return "coff"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler so module records serialize
// the format as a stable tag instead of an integer.
func (f Format) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// Info is the structural metadata extracted from one object file.
type Info struct {
	// Format is the detected container format.
	Format Format
	// Name is the soname when the file declares one, else the file name.
	Name string
	// Path is the path the file was classified under.
	Path string
	// FileSize is the on-disk size in bytes.
	FileSize uint64
	// BuildID is the hex-encoded build id note. Empty when the file carries
	// none; PE/COFF files never carry one.
	BuildID string
	// Soname is the declared ELF soname, empty otherwise.
	Soname string
	// LoadBias is the base address the loader applies when placing the image.
	LoadBias uint64
	// ExecSegmentOffset is the file offset of the executable segment.
	ExecSegmentOffset uint64
	// ImageSize is the declared in-memory span of the image: SizeOfImage for
	// PE/COFF, the PT_LOAD address span for ELF.
	ImageSize uint64
}

// Classify determines whether path is an ELF or PE/COFF object file and
// extracts its metadata. It fails with ErrNotRegularFile for device paths,
// a wrapped os.ErrNotExist for missing files and ErrUnrecognizedFormat for
// anything that is not an object file.
func Classify(path string) (*Info, error) {
	if strings.HasPrefix(path, devDir) {
		return nil, fmt.Errorf("module %q: %w", path, ErrNotRegularFile)
	}

	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("module file %q: %w", path, os.ErrNotExist)
		}
		return nil, fmt.Errorf("stat module file %q: %w", path, err)
	}
	if st.Mode()&os.ModeDevice != 0 {
		return nil, fmt.Errorf("module %q: %w", path, ErrNotRegularFile)
	}

	//nolint:gosec // G304: Path comes from the target's memory map.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open module file %q: %w", path, err)
	}
	defer f.Close() // nolint:errcheck

	var magic [4]byte
	if _, err := io.ReadFull(io.NewSectionReader(f, 0, 4), magic[:]); err != nil {
		return nil, fmt.Errorf("module %q: %w", path, ErrUnrecognizedFormat)
	}

	switch {
	case magic[0] == 0x7f && magic[1] == 'E' && magic[2] == 'L' && magic[3] == 'F':
		return classifyELF(f, path, uint64(st.Size()))
	case magic[0] == 'M' && magic[1] == 'Z':
		return classifyCOFF(f, path, uint64(st.Size()))
	default:
		return nil, fmt.Errorf("module %q: %w", path, ErrUnrecognizedFormat)
	}
}

// Fingerprint computes a stable content digest of the file. The profiler
// uses it as a fallback identity for modules that carry no build id.
func Fingerprint(path string) (string, error) {
	//nolint:gosec // G304: Path comes from the target's memory map.
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %q for fingerprinting: %w", path, err)
	}
	defer f.Close() // nolint:errcheck

	h := xxh3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("fingerprint %q: %w", path, err)
	}
	sum := h.Sum128().Bytes()
	return hex.EncodeToString(sum[:]), nil
}

// moduleName derives the module name: soname when declared, file name otherwise.
func moduleName(path, soname string) string {
	if soname != "" {
		return soname
	}
	return filepath.Base(path)
}
