// Package profile loads the JSON files that describe a single virtual machine.
package profile

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"gitlab.com/tozd/go/errors"
)

// Default values applied to fields absent from a profile file.
const (
	DefaultCPUs     = 2
	DefaultMemoryMB = 2048
	DefaultKernel   = "vmlinuz"
	DefaultInitrd   = "initrd.img"
	DefaultDisk     = "root.img"
	DefaultCmdline  = "console=hvc0 root=/dev/vda rw"
)

// Profile is one VM's launch description.
type Profile struct {
	// CPUs is the number of virtual CPUs.
	CPUs int `json:"cpus" jsonschema:"minimum=1,default=2"`

	// MemoryMB is the guest memory in megabytes.
	MemoryMB int `json:"memory" jsonschema:"minimum=1,default=2048"`

	// KernelPath is the Linux kernel image. Ignored when UEFIEnabled is set.
	KernelPath string `json:"kernel" jsonschema:"default=vmlinuz"`

	// InitrdPath is the initial ramdisk. Empty means no initrd.
	InitrdPath string `json:"initrd" jsonschema:"default=initrd.img"`

	// DiskPaths are raw disk images attached in order. The first is /dev/vda.
	DiskPaths []string `json:"storage" jsonschema:"default=root.img"`

	// Cmdline is the kernel command line. Ignored when UEFIEnabled is set.
	Cmdline string `json:"cmdline" jsonschema:"default=console=hvc0 root=/dev/vda rw"`

	NetworkEnabled bool `json:"network" jsonschema:"default=false"`
	UEFIEnabled    bool `json:"uefi" jsonschema:"default=false"`

	// SharedDirectories are host directories exposed through virtio-fs.
	SharedDirectories []string `json:"shared"`

	// Dir is the directory of the profile file. Relative paths were
	// resolved against it by Load.
	Dir string `json:"-"`
}

// Default returns a profile with every field at its default.
func Default() *Profile {
	return &Profile{
		CPUs:              DefaultCPUs,
		MemoryMB:          DefaultMemoryMB,
		KernelPath:        DefaultKernel,
		InitrdPath:        DefaultInitrd,
		DiskPaths:         []string{DefaultDisk},
		Cmdline:           DefaultCmdline,
		SharedDirectories: []string{},
	}
}

// Decode reads a profile document from r and applies defaults to absent
// fields. Paths are returned exactly as written.
func Decode(r io.Reader) (*Profile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return decode(data)
}

func decode(data []byte) (*Profile, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, &DecodeError{Err: ErrNotObject}
	}

	var fields map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	if err := dec.Decode(&fields); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if dec.More() {
		return nil, &DecodeError{Err: ErrTrailingData}
	}

	// Keys match exactly; encoding/json alone would also accept "CPUS".
	// Unknown keys are ignored.
	p := Default()
	for _, f := range p.fields() {
		raw, ok := fields[f.key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, f.dst); err != nil {
			return nil, &DecodeError{Err: errors.Errorf("field %q: %w", f.key, err)}
		}
	}

	// An explicit null leaves a nil slice behind; treat it as empty.
	if p.SharedDirectories == nil {
		p.SharedDirectories = []string{}
	}
	return p, nil
}

type field struct {
	key string
	dst any
}

func (p *Profile) fields() []field {
	return []field{
		{"cpus", &p.CPUs},
		{"memory", &p.MemoryMB},
		{"kernel", &p.KernelPath},
		{"initrd", &p.InitrdPath},
		{"storage", &p.DiskPaths},
		{"cmdline", &p.Cmdline},
		{"network", &p.NetworkEnabled},
		{"uefi", &p.UEFIEnabled},
		{"shared", &p.SharedDirectories},
	}
}

// Load reads the profile at path. Relative paths inside the profile are
// resolved against the profile's directory, so the result holds only
// absolute paths and does not depend on the working directory.
func Load(path string) (*Profile, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, &DecodeError{Path: abs, Err: err}
	}

	p, err := decode(data)
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			de.Path = abs
		}
		return nil, err
	}

	p.resolve(filepath.Dir(abs))
	return p, nil
}

// resolve anchors relative paths at dir.
func (p *Profile) resolve(dir string) {
	p.Dir = dir
	p.KernelPath = p.Resolve(p.KernelPath)
	if p.InitrdPath != "" {
		p.InitrdPath = p.Resolve(p.InitrdPath)
	}
	for i, disk := range p.DiskPaths {
		p.DiskPaths[i] = p.Resolve(disk)
	}
	for i, shared := range p.SharedDirectories {
		p.SharedDirectories[i] = p.Resolve(shared)
	}
}

// Resolve returns path made absolute relative to the profile's directory.
// Absolute paths and the empty string are returned unchanged.
func (p *Profile) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || p.Dir == "" {
		return path
	}
	return filepath.Join(p.Dir, path)
}
