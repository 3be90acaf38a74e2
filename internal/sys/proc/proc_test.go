package proc

import (
	"net"
	"os"
	"runtime"
	"strings"
	"testing"
)

func requireProc(t *testing.T) {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("requires /proc")
	}
}

func TestReadMapsSelf(t *testing.T) {
	requireProc(t)

	data, err := ReadMaps(os.Getpid())
	if err != nil {
		t.Fatalf("ReadMaps(self) failed: %v", err)
	}
	if data == "" {
		t.Fatal("ReadMaps(self) returned empty map")
	}
	if !strings.Contains(data, "r-xp") {
		t.Error("expected at least one executable mapping in own map")
	}
}

func TestReadMapsInvalidPid(t *testing.T) {
	requireProc(t)

	_, err := ReadMaps(-1)
	if err == nil {
		t.Fatal("expected error for invalid pid")
	}
	if !strings.Contains(err.Error(), "-1") {
		t.Errorf("error should mention the pid, got: %v", err)
	}
}

func TestExists(t *testing.T) {
	requireProc(t)

	if !Exists(os.Getpid()) {
		t.Error("own pid should exist")
	}
	if Exists(-1) {
		t.Error("pid -1 should not exist")
	}
}

func TestBinaryPath(t *testing.T) {
	requireProc(t)

	path, err := BinaryPath(os.Getpid())
	if err != nil {
		t.Fatalf("BinaryPath(self) failed: %v", err)
	}

	self, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable failed: %v", err)
	}
	if path != self {
		t.Errorf("BinaryPath = %q, want %q", path, self)
	}
}

func TestListPids(t *testing.T) {
	requireProc(t)

	pids, err := ListPids()
	if err != nil {
		t.Fatalf("ListPids failed: %v", err)
	}
	if len(pids) == 0 {
		t.Fatal("expected at least one pid")
	}

	found := false
	prev := 0
	for _, pid := range pids {
		if pid <= prev {
			t.Fatalf("pids not sorted ascending: %d after %d", pid, prev)
		}
		prev = pid
		if pid == os.Getpid() {
			found = true
		}
	}
	if !found {
		t.Error("own pid missing from ListPids")
	}
}

func TestFindPidByPort(t *testing.T) {
	requireProc(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen: %v", err)
	}
	defer ln.Close() // nolint:errcheck

	port := ln.Addr().(*net.TCPAddr).Port

	pid, err := FindPidByPort(port)
	if err != nil {
		t.Fatalf("FindPidByPort failed: %v", err)
	}
	// Reading other processes' fd dirs needs privileges; only verify the
	// result when the lookup resolved to a process at all.
	if pid != 0 && pid != os.Getpid() {
		t.Errorf("FindPidByPort = %d, want %d", pid, os.Getpid())
	}
}

func TestFindPidByPortNotListening(t *testing.T) {
	requireProc(t)

	// Grab a free port and close it again so nothing is listening there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	pid, err := FindPidByPort(port)
	if err != nil {
		t.Fatalf("FindPidByPort failed: %v", err)
	}
	if pid != 0 {
		t.Errorf("expected no pid for closed port, got %d", pid)
	}
}
