// Package privilege reports whether the scanner is allowed to inspect a
// target process. Reading /proc/<pid>/maps of another user's process
// requires root (or CAP_SYS_PTRACE); detecting that up front turns an
// opaque permission error into an actionable message.
package privilege

import (
	"fmt"
	"os"
	"syscall"
)

// IsRoot checks if the current process is running with root privileges
// (euid == 0).
func IsRoot() bool {
	return os.Geteuid() == 0
}

// OwnsProcess reports whether the target process belongs to the current
// effective user. The owner of /proc/<pid> is the owner of the process.
func OwnsProcess(pid int) (bool, error) {
	info, err := os.Stat(fmt.Sprintf("/proc/%d", pid))
	if err != nil {
		return false, fmt.Errorf("failed to stat process %d: %w", pid, err)
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return false, fmt.Errorf("no ownership information for process %d", pid)
	}
	return int(st.Uid) == os.Geteuid(), nil
}

// CanInspect reports whether the scanner can read the memory map of the
// given process: either it runs as root or the process is its own.
func CanInspect(pid int) bool {
	if IsRoot() {
		return true
	}
	owns, err := OwnsProcess(pid)
	return err == nil && owns
}
