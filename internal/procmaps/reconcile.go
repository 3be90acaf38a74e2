package procmaps

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/tracefold/procscan/internal/objfile"
)

// ClassifyFunc resolves a backing file path to its object file metadata.
// Implementations must treat unsupported or unreadable files as errors;
// the reconciler contains such failures to the affected module group.
type ClassifyFunc func(path string) (*objfile.Info, error)

// WithLogging wraps a classify function so that per-module classification
// failures are logged. The reconciler itself skips failed candidates
// silently; this is how callers observe what was skipped.
func WithLogging(classify ClassifyFunc, logger zerolog.Logger) ClassifyFunc {
	return func(path string) (*objfile.Info, error) {
		info, err := classify(path)
		if err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("Skipping unidentifiable module candidate")
			return nil, err
		}
		logger.Debug().
			Str("path", path).
			Str("name", info.Name).
			Str("format", info.Format.String()).
			Msg("Classified module candidate")
		return info, nil
	}
}

// Reconcile folds an ordered sequence of raw mappings into one module
// record per identifiable binary image, sorted by start address.
//
// Mappings are grouped into consecutive runs sharing a backing path;
// anonymous mappings and pseudo-regions never break a run, so a module
// whose data pages interleave with heap allocations still forms one group.
// A path that reappears after a different file closes its run yields an
// independent record, which is how legitimately re-mapped images surface.
//
// Per group, the module span is the range from the first to the last
// executable mapping, with non-executable gaps absorbed. For PE/COFF
// images whose code is mapped anonymously (the Wine loading pattern), the
// span is instead recovered from the anonymous executable mappings that
// follow the file-backed header mapping; see consume for the exact policy.
//
// Classification failures are contained: the affected group is skipped and
// every other module is still reported. Each distinct path is classified
// at most once per call; the cache lives and dies with the call, so
// concurrent reconciliations of different processes never share state.
func Reconcile(mappings []Mapping, classify ClassifyFunc) []Module {
	if classify == nil {
		classify = objfile.Classify
	}
	r := &reconciler{classify: classify, cache: make(map[string]*objfile.Info)}
	for _, m := range mappings {
		r.consume(m)
	}
	r.flush()
	sort.SliceStable(r.modules, func(i, j int) bool { return r.modules[i].Start < r.modules[j].Start })
	return r.modules
}

// candidate is a module group being accumulated. The headers base address
// is the start of the group's first mapping when that mapping covers file
// offset 0; it anchors the offset arithmetic of the anonymous-executable
// heuristic.
type candidate struct {
	path      string
	info      *objfile.Info
	base      uint64
	baseSet   bool
	execStart uint64
	execEnd   uint64
	hasExec   bool
	anonDone  bool
}

// extend grows the executable span to cover m.
func (c *candidate) extend(m Mapping) {
	if !c.hasExec {
		c.execStart = m.Start
		c.hasExec = true
	}
	c.execEnd = m.End
}

type reconciler struct {
	classify ClassifyFunc
	cache    map[string]*objfile.Info
	modules  []Module
	cur      *candidate
}

// consume feeds one mapping to the fold. File-backed mappings open or
// extend the group for their path; executable ones grow the module span.
// An anonymous executable mapping is attributed to the open group only
// when the group is a PE/COFF image whose headers were file-mapped at
// offset 0 and the mapping still falls inside the declared image size.
// The first anonymous mapping that would exceed the image size ends the
// attribution: whatever lies beyond belongs to an unrelated allocation.
func (r *reconciler) consume(m Mapping) {
	if !m.Anonymous() {
		if r.cur == nil || r.cur.path != m.Path {
			r.flush()
			r.cur = &candidate{path: m.Path}
			if m.Offset == 0 {
				r.cur.base = m.Start
				r.cur.baseSet = true
			}
		}
		if !m.Executable() {
			return
		}
		if info := r.lookup(m.Path); info != nil {
			r.cur.info = info
			r.cur.extend(m)
		}
		return
	}

	if !m.Executable() || r.cur == nil || !r.cur.baseSet || r.cur.anonDone {
		return
	}
	info := r.lookup(r.cur.path)
	if info == nil || info.Format != objfile.FormatCOFF {
		return
	}
	if info.ImageSize == 0 || m.End-r.cur.base > info.ImageSize {
		r.cur.anonDone = true
		return
	}
	r.cur.info = info
	r.cur.extend(m)
}

// flush closes the open group and emits a record if it gathered an
// executable span. Groups that never produced one, including groups whose
// file failed classification, emit nothing.
func (r *reconciler) flush() {
	c := r.cur
	r.cur = nil
	if c == nil || !c.hasExec || c.info == nil {
		return
	}
	r.modules = append(r.modules, newModule(c.info, c.execStart, c.execEnd))
}

// lookup classifies a path at most once per reconciliation pass, caching
// failures as nil so a bad file is probed a single time.
func (r *reconciler) lookup(path string) *objfile.Info {
	if info, ok := r.cache[path]; ok {
		return info
	}
	info, err := r.classify(path)
	if err != nil {
		info = nil
	}
	r.cache[path] = info
	return info
}
