package profile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"
)

func writeProfile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "vm.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDecodeDefaults(t *testing.T) {
	p, err := Decode(strings.NewReader(`{}`))
	require.NoError(t, err)

	if diff := cmp.Diff(Default(), p); diff != "" {
		t.Errorf("Decode({}) mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeOverrides(t *testing.T) {
	p, err := Decode(strings.NewReader(`{"cpus": 4, "memory": 4096, "network": true}`))
	require.NoError(t, err)

	assert.Equal(t, 4, p.CPUs)
	assert.Equal(t, 4096, p.MemoryMB)
	assert.True(t, p.NetworkEnabled)
	// Untouched fields keep their defaults.
	assert.Equal(t, DefaultKernel, p.KernelPath)
	assert.Equal(t, DefaultInitrd, p.InitrdPath)
	assert.Equal(t, []string{DefaultDisk}, p.DiskPaths)
	assert.Equal(t, DefaultCmdline, p.Cmdline)
	assert.False(t, p.UEFIEnabled)
	assert.Empty(t, p.SharedDirectories)
}

func TestDecodeExplicitEmptyValues(t *testing.T) {
	p, err := Decode(strings.NewReader(`{"initrd": "", "storage": [], "cmdline": ""}`))
	require.NoError(t, err)

	assert.Equal(t, "", p.InitrdPath)
	assert.Empty(t, p.DiskPaths)
	assert.Equal(t, "", p.Cmdline)
}

func TestDecodeKeysMatchExactly(t *testing.T) {
	p, err := Decode(strings.NewReader(`{"CPUS": 8, "Memory": 1024, "Network": true, "comment": "ignored"}`))
	require.NoError(t, err)

	if diff := cmp.Diff(Default(), p); diff != "" {
		t.Errorf("differently-cased keys changed the profile (-want +got):\n%s", diff)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"empty", "", ErrNotObject},
		{"array", `[1, 2]`, ErrNotObject},
		{"null", `null`, ErrNotObject},
		{"truncated", `{"cpus": 2`, nil},
		{"wrong type", `{"cpus": "two"}`, nil},
		{"string storage", `{"storage": "root.img"}`, nil},
		{"trailing object", `{} {}`, ErrTrailingData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Decode(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Nil(t, p)

			var de *DecodeError
			require.True(t, errors.As(err, &de), "want *DecodeError, got %T", err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	input := `{
		"cpus": 6,
		"memory": 8192,
		"kernel": "boot/vmlinuz-6.1",
		"initrd": "",
		"storage": ["a.img", "/abs/b.img"],
		"cmdline": "console=hvc0 root=/dev/vda2 quiet",
		"network": true,
		"uefi": false,
		"shared": ["/Users/me/src"]
	}`

	p, err := Decode(strings.NewReader(input))
	require.NoError(t, err)

	encoded, err := json.Marshal(p)
	require.NoError(t, err)

	again, err := Decode(strings.NewReader(string(encoded)))
	require.NoError(t, err)

	if diff := cmp.Diff(p, again); diff != "" {
		t.Errorf("round trip mismatch (-first +second):\n%s", diff)
	}
	assert.Equal(t, "boot/vmlinuz-6.1", again.KernelPath)
	assert.Equal(t, []string{"a.img", "/abs/b.img"}, again.DiskPaths)
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := writeProfile(t, dir, `{
		"kernel": "boot/vmlinuz",
		"storage": ["root.img", "/data/extra.img"],
		"shared": ["src", "/abs/share"]
	}`)

	p, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, dir, p.Dir)
	assert.Equal(t, filepath.Join(dir, "boot/vmlinuz"), p.KernelPath)
	assert.Equal(t, filepath.Join(dir, DefaultInitrd), p.InitrdPath)
	assert.Equal(t, []string{filepath.Join(dir, "root.img"), "/data/extra.img"}, p.DiskPaths)
	assert.Equal(t, []string{filepath.Join(dir, "src"), "/abs/share"}, p.SharedDirectories)
}

func TestLoadIndependentOfWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	path := writeProfile(t, dir, `{}`)

	p, err := Load(path)
	require.NoError(t, err)

	t.Chdir(t.TempDir())
	q, err := Load(path)
	require.NoError(t, err)

	if diff := cmp.Diff(p, q); diff != "" {
		t.Errorf("Load depends on working directory (-first +second):\n%s", diff)
	}
}

func TestLoadKeepsEmptyInitrd(t *testing.T) {
	path := writeProfile(t, t.TempDir(), `{"initrd": ""}`)

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "", p.InitrdPath)
}

func TestLoadMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")

	_, err := Load(path)
	require.Error(t, err)

	var de *DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, path, de.Path)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadInvalidJSONRecordsPath(t *testing.T) {
	path := writeProfile(t, t.TempDir(), `not json`)

	_, err := Load(path)
	var de *DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, path, de.Path)
	assert.Contains(t, err.Error(), path)
}

func TestResolve(t *testing.T) {
	p := &Profile{Dir: "/vms/alpine"}

	assert.Equal(t, "/vms/alpine/efistore", p.Resolve("efistore"))
	assert.Equal(t, "/tmp/efistore", p.Resolve("/tmp/efistore"))
	assert.Equal(t, "", p.Resolve(""))

	unanchored := &Profile{}
	assert.Equal(t, "efistore", unanchored.Resolve("efistore"))
}
