package procmaps

import (
	"fmt"

	"github.com/tracefold/procscan/internal/objfile"
	"github.com/tracefold/procscan/internal/sys/proc"
)

// Module is one loaded binary image: the identity of its backing object
// file combined with the executable address span it occupies in the target
// process. Start/End form a half-open virtual address range.
type Module struct {
	Name              string         `json:"name"`
	Path              string         `json:"file_path"`
	FileSize          uint64         `json:"file_size"`
	BuildID           string         `json:"build_id"`
	Soname            string         `json:"soname,omitempty"`
	LoadBias          uint64         `json:"load_bias"`
	ExecSegmentOffset uint64         `json:"exec_segment_offset"`
	Format            objfile.Format `json:"object_file_type"`
	Start             uint64         `json:"address_start"`
	End               uint64         `json:"address_end"`
}

// newModule combines classifier output with a reconciled address span.
func newModule(info *objfile.Info, start, end uint64) Module {
	return Module{
		Name:              info.Name,
		Path:              info.Path,
		FileSize:          info.FileSize,
		BuildID:           info.BuildID,
		Soname:            info.Soname,
		LoadBias:          info.LoadBias,
		ExecSegmentOffset: info.ExecSegmentOffset,
		Format:            info.Format,
		Start:             start,
		End:               end,
	}
}

// NewModule classifies the object file at path and builds a module record
// for the given address range.
func NewModule(path string, start, end uint64) (Module, error) {
	info, err := objfile.Classify(path)
	if err != nil {
		return Module{}, err
	}
	return newModule(info, start, end), nil
}

// Modules parses raw maps text and reconciles it into module records. This
// is the text entry point, exercised directly by tests and by callers that
// obtained the map through other means.
func Modules(mapsText string) ([]Module, error) {
	mappings, err := ParseMaps(mapsText)
	if err != nil {
		return nil, err
	}
	return Reconcile(mappings, objfile.Classify), nil
}

// ReadModules reads /proc/<pid>/maps and reconciles it into module records.
// Failure to obtain the map is fatal to the pass and reported as an error;
// it is never treated as an empty module list.
func ReadModules(pid int) ([]Module, error) {
	mapsText, err := proc.ReadMaps(pid)
	if err != nil {
		return nil, fmt.Errorf("memory map for pid %d unavailable: %w", pid, err)
	}
	return Modules(mapsText)
}
