package vdisk

import (
	"fmt"

	"github.com/weberc2/vdisk/pkg/device"
	"github.com/weberc2/vdisk/pkg/device/crypt"
	"github.com/weberc2/vdisk/pkg/dir"
	"github.com/weberc2/vdisk/pkg/fs"

	. "github.com/weberc2/vdisk/pkg/types"
)

// Handle is a mounted filesystem. Acquire one with Format*/Mount* and pair
// it with Close: Close flushes the bitmaps and the backing device, and for
// the encrypted backend it also seals the whole-disk MAC.
type Handle struct {
	fsys *fs.FileSystem
}

func (handle *Handle) Root() *dir.Directory { return dir.Root(handle.fsys) }
func (handle *Handle) Stats() fs.Stats      { return fs.GetStats(handle.fsys) }
func (handle *Handle) Flush() error         { return fs.Flush(handle.fsys) }
func (handle *Handle) Close() error         { return fs.Close(handle.fsys) }

// Format writes a fresh filesystem onto an arbitrary device.
func Format(dev device.Device, config *Config) (*Handle, error) {
	fsys, err := fs.Format(dev, config)
	if err != nil {
		return nil, err
	}
	return &Handle{fsys: fsys}, nil
}

// Mount attaches to a previously-formatted device.
func Mount(dev device.Device) (*Handle, error) {
	fsys, err := fs.Mount(dev)
	if err != nil {
		return nil, err
	}
	return &Handle{fsys: fsys}, nil
}

// FormatInMemory formats a throwaway filesystem backed by in-memory block
// buffers.
func FormatInMemory(config *Config) (*Handle, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("formatting in-memory filesystem: %w", err)
	}
	layout := fs.NewLayout(config)
	dev := device.NewMem(config.BlockSize, layout.TotalBlocks(config))
	return Format(dev, config)
}

// FormatInFile formats a filesystem stored in a host file at path, which
// must not already exist.
func FormatInFile(path string, config *Config) (*Handle, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("formatting `%s`: %w", path, err)
	}
	layout := fs.NewLayout(config)
	dev, err := device.CreateFile(
		path,
		config.BlockSize,
		layout.TotalBlocks(config),
		0,
	)
	if err != nil {
		return nil, fmt.Errorf("formatting `%s`: %w", path, err)
	}
	return Format(dev, config)
}

// MountInFile mounts a filesystem previously formatted with FormatInFile.
// The geometry is bootstrapped from the superblock before the device is
// sized and locked.
func MountInFile(path string) (*Handle, error) {
	b := make([]byte, fs.SuperblockSize)
	if err := device.PeekFile(path, 0, b); err != nil {
		return nil, fmt.Errorf("mounting `%s`: %w", path, err)
	}
	var super fs.Superblock
	if err := fs.DecodeSuperblock(&super, b); err != nil {
		return nil, fmt.Errorf("mounting `%s`: %w", path, err)
	}

	layout := fs.NewLayout(&super.Config)
	dev, err := device.OpenFile(
		path,
		super.Config.BlockSize,
		layout.TotalBlocks(&super.Config),
		0,
	)
	if err != nil {
		return nil, fmt.Errorf("mounting `%s`: %w", path, err)
	}
	return Mount(dev)
}

// FormatInFileEncrypted formats an encrypted filesystem at path bound to
// password.
func FormatInFileEncrypted(
	path string,
	config *Config,
	password string,
) (*Handle, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("formatting encrypted `%s`: %w", path, err)
	}
	layout := fs.NewLayout(config)
	inner, err := device.CreateFile(
		path,
		config.BlockSize,
		layout.TotalBlocks(config),
		crypt.HeaderSize,
	)
	if err != nil {
		return nil, fmt.Errorf("formatting encrypted `%s`: %w", path, err)
	}
	dev, err := crypt.Create(inner, []byte(password))
	if err != nil {
		inner.Close()
		return nil, fmt.Errorf("formatting encrypted `%s`: %w", path, err)
	}
	return Format(dev, config)
}

// MountInFileEncrypted mounts an encrypted filesystem. The password
// binding is checked first (wrong password fails AuthErr without reading
// data blocks); then the superblock is decrypted for geometry, and finally
// the whole-disk MAC is verified before any operation is served.
func MountInFileEncrypted(path string, password string) (*Handle, error) {
	header := make([]byte, crypt.HeaderSize)
	if err := device.PeekFile(path, 0, header); err != nil {
		return nil, fmt.Errorf("mounting encrypted `%s`: %w", path, err)
	}
	ciphertext := make([]byte, fs.SuperblockSize)
	if err := device.PeekFile(path, crypt.HeaderSize, ciphertext); err != nil {
		return nil, fmt.Errorf("mounting encrypted `%s`: %w", path, err)
	}
	plaintext, err := crypt.DecryptPrefix(header, []byte(password), ciphertext)
	if err != nil {
		return nil, fmt.Errorf("mounting encrypted `%s`: %w", path, err)
	}
	var super fs.Superblock
	if err := fs.DecodeSuperblock(&super, plaintext); err != nil {
		return nil, fmt.Errorf("mounting encrypted `%s`: %w", path, err)
	}

	layout := fs.NewLayout(&super.Config)
	inner, err := device.OpenFile(
		path,
		super.Config.BlockSize,
		layout.TotalBlocks(&super.Config),
		crypt.HeaderSize,
	)
	if err != nil {
		return nil, fmt.Errorf("mounting encrypted `%s`: %w", path, err)
	}
	dev, err := crypt.Open(inner, []byte(password))
	if err != nil {
		inner.Close()
		return nil, fmt.Errorf("mounting encrypted `%s`: %w", path, err)
	}
	return Mount(dev)
}
