package procmaps

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracefold/procscan/internal/objfile"
	"github.com/tracefold/procscan/internal/testutil"
)

var moduleBuildID = []byte{
	0xd1, 0x66, 0x91, 0x5d, 0xb6, 0x2e, 0x70, 0x04, 0x9c, 0x5c,
	0xf4, 0x2e, 0x6c, 0x51, 0x05, 0x82, 0x5b, 0x57, 0x10, 0x4a,
}

func TestNewModule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hello_world_elf")
	testutil.WriteELF(t, path, testutil.ELFOptions{BuildID: moduleBuildID})

	module, err := NewModule(path, 23, 8004)
	require.NoError(t, err)

	assert.Equal(t, "hello_world_elf", module.Name)
	assert.Equal(t, path, module.Path)
	assert.Equal(t, uint64(testutil.ELFSize), module.FileSize)
	assert.Equal(t, hex.EncodeToString(moduleBuildID), module.BuildID)
	assert.Equal(t, objfile.FormatELF, module.Format)
	assert.Equal(t, uint64(23), module.Start)
	assert.Equal(t, uint64(8004), module.End)
}

func TestNewModuleDeviceFile(t *testing.T) {
	_, err := NewModule("/dev/zero", 0, 0x1000)
	assert.ErrorIs(t, err, objfile.ErrNotRegularFile)
}

func TestNewModuleDoesNotExist(t *testing.T) {
	_, err := NewModule("/not/a/valid/file/path", 0, 0x1000)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNewModuleNotAnObjectFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("just text\n"), 0o644))

	_, err := NewModule(path, 0, 0x1000)
	assert.ErrorIs(t, err, objfile.ErrUnrecognizedFormat)
}

func TestModulesSharedObject(t *testing.T) {
	path := filepath.Join(t.TempDir(), "libtest-1.0.so")
	testutil.WriteELF(t, path, testutil.ELFOptions{
		Soname:  "libtest.so",
		BuildID: moduleBuildID,
	})

	data := "7f6874290000-7f6874291000 r--p 00000000 fe:01 42    " + path + "\n" +
		"7f6874291000-7f6874292000 r-xp 00001000 fe:01 42    " + path + "\n"

	modules, err := Modules(data)
	require.NoError(t, err)
	require.Len(t, modules, 1)

	m := modules[0]
	assert.Equal(t, "libtest.so", m.Name)
	assert.Equal(t, path, m.Path)
	assert.Equal(t, uint64(testutil.ELFSize), m.FileSize)
	assert.Equal(t, hex.EncodeToString(moduleBuildID), m.BuildID)
	assert.Equal(t, "libtest.so", m.Soname)
	assert.Equal(t, uint64(0), m.LoadBias)
	assert.Equal(t, uint64(testutil.ELFExecOffset), m.ExecSegmentOffset)
	assert.Equal(t, objfile.FormatELF, m.Format)
	assert.Equal(t, uint64(0x7f6874291000), m.Start)
	assert.Equal(t, uint64(0x7f6874292000), m.End)
}

func TestModulesPathWithSpaces(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "dir with spaces")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, "lib with spaces.so")
	testutil.WriteELF(t, path, testutil.ELFOptions{})

	data := "101000-102000 r-xp 00001000 fe:01 42    " + path + "\n"

	modules, err := Modules(data)
	require.NoError(t, err)
	require.Len(t, modules, 1)
	assert.Equal(t, path, modules[0].Path)
	assert.Equal(t, "lib with spaces.so", modules[0].Name)
}

func TestModulesAnonymousPeText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "libtest.dll")
	testutil.WritePE(t, path, testutil.PEOptions{
		ImageBase:   0x62640000,
		SizeOfImage: 0x20000,
	})

	data := "100000-101000 r--p 00000000 fe:01 42    " + path + "\n" +
		"101000-103000 r-xp 00000000 00:00 0 \n"

	modules, err := Modules(data)
	require.NoError(t, err)
	require.Len(t, modules, 1)

	m := modules[0]
	assert.Equal(t, "libtest.dll", m.Name)
	assert.Equal(t, objfile.FormatCOFF, m.Format)
	assert.Equal(t, uint64(0x62640000), m.LoadBias)
	assert.Equal(t, uint64(0x101000), m.Start)
	assert.Equal(t, uint64(0x103000), m.End)
}

func TestReadModulesSelf(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("requires /proc")
	}

	modules, err := ReadModules(os.Getpid())
	require.NoError(t, err)
	require.NotEmpty(t, modules)

	self, err := os.Executable()
	require.NoError(t, err)

	found := false
	for _, m := range modules {
		assert.Less(t, m.Start, m.End)
		assert.NotEmpty(t, m.Name)
		if m.Path == self {
			found = true
			assert.Equal(t, objfile.FormatELF, m.Format)
		}
	}
	assert.True(t, found, "expected the test binary itself among the modules")
}

func TestReadModulesInvalidPid(t *testing.T) {
	_, err := ReadModules(-1)
	assert.Error(t, err)
}
