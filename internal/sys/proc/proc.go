// Package proc provides procfs access for the module scanner: reading a
// process's memory map and locating target processes by pid or by
// listening port.
package proc

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// ReadMaps returns the raw contents of /proc/<pid>/maps. The error is the
// caller's signal that the map source is unavailable (process exited,
// permission denied); an unreadable map is never reported as empty.
func ReadMaps(pid int) (string, error) {
	//nolint:gosec // G304: Path is built from a numeric pid under /proc.
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return "", fmt.Errorf("failed to read memory map of pid %d: %w", pid, err)
	}
	return string(data), nil
}

// Exists reports whether a process with the given pid is currently running.
func Exists(pid int) bool {
	ok, err := process.PidExists(int32(pid))
	return err == nil && ok
}

// BinaryPath returns the path to the executable for the given PID.
func BinaryPath(pid int) (string, error) {
	return os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
}

// ListPids returns all running process IDs from /proc, sorted ascending.
func ListPids() ([]int, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, fmt.Errorf("failed to read /proc: %w", err)
	}

	var pids []int
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		// Parse PID from directory name.
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue // Not a numeric directory.
		}

		if pid > 0 {
			pids = append(pids, pid)
		}
	}
	sort.Ints(pids)

	return pids, nil
}

// FindPidByPort finds the PID of the process listening on the given TCP
// port, so a scan target can be named by port instead of pid.
func FindPidByPort(port int) (int, error) {
	// Check both IPv4 and IPv6
	inode, err := findSocketInode(port, "/proc/net/tcp")
	if err != nil || inode == "" {
		inode, err = findSocketInode(port, "/proc/net/tcp6")
	}

	if err != nil {
		return 0, err
	}
	if inode == "" {
		return 0, nil // Not found
	}

	return findPidByInode(inode)
}

// findSocketInode parses /proc/net/tcp(6) to find the inode for a listening port.
func findSocketInode(port int, procPath string) (string, error) {
	//nolint:gosec // G304: Path is from /proc filesystem for system information.
	f, err := os.Open(procPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	defer f.Close() // nolint:errcheck

	scanner := bufio.NewScanner(f)
	// Skip header
	if scanner.Scan() {
		_ = scanner.Text()
	}

	targetHexPort := fmt.Sprintf("%04X", port)

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 10 {
			continue
		}

		// Field 1: local_address (IP:Port)
		localAddr := fields[1]
		parts := strings.Split(localAddr, ":")
		if len(parts) != 2 {
			continue
		}

		hexPort := parts[1]
		if hexPort != targetHexPort {
			continue
		}

		// Field 3: st (state). 0A is LISTEN.
		state := fields[3]
		if state != "0A" {
			continue
		}

		// Field 9: inode
		return fields[9], nil
	}

	return "", nil
}

// findPidByInode scans /proc/[pid]/fd/ to find the process owning the socket inode.
func findPidByInode(inode string) (int, error) {
	socketLink := "socket:[" + inode + "]"

	pids, err := ListPids()
	if err != nil {
		return 0, err
	}

	for _, pid := range pids {
		fdDir := filepath.Join("/proc", strconv.Itoa(pid), "fd")
		fds, err := os.ReadDir(fdDir)
		if err != nil {
			continue // Can't read fd dir (permission denied, etc.)
		}

		for _, fd := range fds {
			info, err := fd.Info()
			if err != nil {
				continue
			}
			if info.Mode()&fs.ModeSymlink == 0 {
				continue
			}

			linkPath, err := os.Readlink(filepath.Join(fdDir, fd.Name()))
			if err != nil {
				continue
			}

			if linkPath == socketLink {
				return pid, nil
			}
		}
	}

	return 0, nil
}
