// Package procmaps parses the textual memory map of a Linux process and
// reconciles the raw mappings into one record per loaded binary image.
//
// The engine is a pure fold over one map snapshot: parse the lines, group
// them by backing file, classify each candidate file once, and emit the
// executable address span of every identifiable module. It performs no
// retries and holds no state across invocations.
package procmaps

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

// devDir mappings are character or block devices and are dropped before
// reconciliation so they are never opened as candidate modules.
const devDir = "/dev/"

// deletedSuffix marks mappings whose backing file was unlinked after being
// mapped. The suffix is not part of the path.
const deletedSuffix = " (deleted)"

// Perm is the permission and visibility bits of one mapping.
type Perm uint8

const (
	// PermRead marks a readable mapping.
	PermRead Perm = 1 << iota
	// PermWrite marks a writable mapping.
	PermWrite
	// PermExec marks an executable mapping.
	PermExec
	// PermPrivate marks a copy-on-write mapping.
	PermPrivate
)

// Mapping is one raw record from /proc/<pid>/maps: a half-open address
// range, its permissions, the offset into the backing file and the backing
// path. Path is empty for anonymous mappings and for bracket pseudo-regions
// such as [stack].
type Mapping struct {
	Start  uint64
	End    uint64
	Perms  Perm
	Offset uint64
	Path   string
}

// Executable reports whether the mapping carries the execute permission.
func (m Mapping) Executable() bool { return m.Perms&PermExec != 0 }

// Anonymous reports whether the mapping has no backing file.
func (m Mapping) Anonymous() bool { return m.Path == "" }

// ParseMaps parses the contents of a maps file into raw mapping records.
// Empty input yields an empty result. Mappings backed by device files are
// dropped, and lines that do not parse as mappings are skipped: the map
// format is kernel-controlled but individual lines are not guaranteed
// stable across versions, so a single odd line must not abort the scan.
func ParseMaps(data string) ([]Mapping, error) {
	var mappings []Mapping
	sc := bufio.NewScanner(strings.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if m, ok := parseMapLine(sc.Text()); ok {
			mappings = append(mappings, m)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan memory map: %w", err)
	}
	return mappings, nil
}

// parseMapLine parses a single maps line, e.g.
//
//	7f6874290000-7f6874297000 r-xp 00000000 fe:01 661214    /usr/lib/libtest-1.0.so
//
// The first five fields are single-space separated; the path is the
// remainder of the line, so paths with embedded spaces survive. The second
// return value is false when the line should not become a mapping.
func parseMapLine(line string) (Mapping, bool) {
	fields := strings.SplitN(line, " ", 6)
	if len(fields) < 5 {
		return Mapping{}, false
	}

	addrs := strings.SplitN(fields[0], "-", 2)
	if len(addrs) != 2 {
		return Mapping{}, false
	}
	start, err := strconv.ParseUint(addrs[0], 16, 64)
	if err != nil {
		return Mapping{}, false
	}
	end, err := strconv.ParseUint(addrs[1], 16, 64)
	if err != nil || start >= end {
		return Mapping{}, false
	}

	perms, ok := parsePerms(fields[1])
	if !ok {
		return Mapping{}, false
	}

	offset, err := strconv.ParseUint(fields[2], 16, 64)
	if err != nil {
		return Mapping{}, false
	}

	// fields[3] is the device and fields[4] the inode; their values are not
	// needed, but a line without an inode field is not a mapping.
	if _, err := strconv.ParseUint(fields[4], 10, 64); err != nil {
		return Mapping{}, false
	}

	path := ""
	if len(fields) == 6 {
		path = strings.TrimSpace(fields[5])
		path = strings.TrimSuffix(path, deletedSuffix)
	}
	switch {
	case strings.HasPrefix(path, devDir):
		// Never consider device mappings as modules.
		return Mapping{}, false
	case strings.HasPrefix(path, "["):
		// Pseudo-regions ([stack], [heap], [vdso], ...) carry no backing
		// file; treat them like anonymous mappings.
		path = ""
	}

	return Mapping{Start: start, End: end, Perms: perms, Offset: offset, Path: path}, true
}

// parsePerms parses the rwxp permission column.
func parsePerms(s string) (Perm, bool) {
	if len(s) < 4 {
		return 0, false
	}
	var p Perm
	if s[0] == 'r' {
		p |= PermRead
	}
	if s[1] == 'w' {
		p |= PermWrite
	}
	if s[2] == 'x' {
		p |= PermExec
	}
	if s[3] == 'p' {
		p |= PermPrivate
	}
	return p, true
}
