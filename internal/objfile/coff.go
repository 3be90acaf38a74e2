package objfile

import (
	"debug/pe"
	"fmt"
	"os"
)

// classifyCOFF extracts metadata from a PE/COFF image that has already been
// magic-sniffed. PE files have no build id equivalent, so BuildID is always
// empty; the load bias is the declared image base.
func classifyCOFF(f *os.File, path string, fileSize uint64) (*Info, error) {
	pf, err := pe.NewFile(f)
	if err != nil {
		return nil, fmt.Errorf("module %q: %w", path, ErrUnrecognizedFormat)
	}

	var imageBase, imageSize uint64
	switch oh := pf.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		imageBase = uint64(oh.ImageBase)
		imageSize = uint64(oh.SizeOfImage)
	case *pe.OptionalHeader64:
		imageBase = oh.ImageBase
		imageSize = uint64(oh.SizeOfImage)
	default:
		// A COFF object without an optional header is not a loadable image.
		return nil, fmt.Errorf("module %q: %w", path, ErrUnrecognizedFormat)
	}

	return &Info{
		Format:            FormatCOFF,
		Name:              moduleName(path, ""),
		Path:              path,
		FileSize:          fileSize,
		BuildID:           "",
		LoadBias:          imageBase,
		ExecSegmentOffset: coffExecOffset(pf),
		ImageSize:         imageSize,
	}, nil
}

// coffExecOffset returns the file offset of the first section carrying the
// execute characteristic, or 0 when the image has none.
func coffExecOffset(pf *pe.File) uint64 {
	for _, s := range pf.Sections {
		if s.Characteristics&pe.IMAGE_SCN_MEM_EXECUTE != 0 {
			return uint64(s.Offset)
		}
	}
	return 0
}
