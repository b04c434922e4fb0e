package vdisk

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weberc2/vdisk/pkg/dir"

	. "github.com/weberc2/vdisk/pkg/types"
)

func readWholeFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func writeGarbage(path string) error {
	return os.WriteFile(path, bytes.Repeat([]byte{0x5A}, 4096), 0o644)
}

func flipBit(path string, offset int64) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	b := make([]byte, 1)
	if _, err := f.ReadAt(b, offset); err != nil {
		return err
	}
	b[0] ^= 0x01
	_, err = f.WriteAt(b, offset)
	return err
}

var testConfig = Config{
	BlockSize: 4096,
	InodeSize: 128,
	NumBlocks: 1024,
	NumInodes: 1024,
}

var smallConfig = Config{
	BlockSize: 512,
	InodeSize: 128,
	NumBlocks: 256,
	NumInodes: 64,
}

func TestFormatInMemory(t *testing.T) {
	handle, err := FormatInMemory(&testConfig)
	require.NoError(t, err)
	defer handle.Close()

	root := handle.Root()
	_, err = root.Mkdir("a")
	require.NoError(t, err)

	ino, err := root.Lookup("a")
	require.NoError(t, err)
	assert.Equal(t, Ino(2), ino)

	names, err := root.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, names)
}

func TestFormatInMemoryRejectsBadConfig(t *testing.T) {
	bad := testConfig
	bad.BlockSize = 100 // not a power of two
	_, err := FormatInMemory(&bad)
	assert.ErrorIs(t, err, FormatErr)

	bad = testConfig
	bad.InodeSize = 64 // cannot hold the inode record
	_, err = FormatInMemory(&bad)
	assert.ErrorIs(t, err, FormatErr)
}

func TestFileBackendRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")

	handle, err := FormatInFile(path, &testConfig)
	require.NoError(t, err)

	root := handle.Root()
	sub, err := root.Mkdir("a")
	require.NoError(t, err)

	before := handle.Stats().UsedBlocks
	file, err := sub.OpenFile("f", dir.Create|dir.Write)
	require.NoError(t, err)
	payload := bytes.Repeat([]byte{0xAB}, 10000)
	_, err = file.Write(payload)
	require.NoError(t, err)
	require.NoError(t, file.Close())

	// ceil(10000/4096) data blocks plus one block for a's entry table
	assert.Equal(t, before+3+1, handle.Stats().UsedBlocks)
	require.NoError(t, handle.Close())

	// a fresh mount reads back the state produced before close
	handle, err = MountInFile(path)
	require.NoError(t, err)
	defer handle.Close()

	sub, err = handle.Root().Walk("a")
	require.NoError(t, err)
	file, err = sub.OpenFile("f", dir.Read)
	require.NoError(t, err)
	assert.Equal(t, Byte(10000), file.Size())

	found := make([]byte, len(payload))
	for read := 0; read < len(found); {
		n, err := file.Read(found[read:])
		require.NoError(t, err)
		read += n
	}
	assert.Equal(t, payload, found)
	_, err = file.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
	require.NoError(t, file.Close())
}

func TestSingleIndirectAccounting(t *testing.T) {
	handle, err := FormatInMemory(&testConfig)
	require.NoError(t, err)
	defer handle.Close()
	root := handle.Root()

	// eleven files of exactly twelve direct blocks each
	payload := bytes.Repeat([]byte{1}, 12*int(testConfig.BlockSize))
	for i := 0; i < 11; i++ {
		name := string(rune('a' + i))
		file, err := root.OpenFile(name, dir.Create|dir.Write)
		require.NoError(t, err)
		_, err = file.Write(payload)
		require.NoError(t, err)
		require.NoError(t, file.Close())
	}
	before := handle.Stats().UsedBlocks

	// a thirteen-block file spills one pointer into a fresh singly
	// indirect block
	file, err := root.OpenFile("spill", dir.Create|dir.Write)
	require.NoError(t, err)
	_, err = file.Write(bytes.Repeat([]byte{2}, 13*int(testConfig.BlockSize)))
	require.NoError(t, err)
	require.NoError(t, file.Close())

	assert.Equal(t, before+13+1, handle.Stats().UsedBlocks)
}

func TestAlreadyMounted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	handle, err := FormatInFile(path, &smallConfig)
	require.NoError(t, err)
	defer handle.Close()

	_, err = MountInFile(path)
	assert.ErrorIs(t, err, AlreadyMountedErr)
}

func TestMountMissingFile(t *testing.T) {
	_, err := MountInFile(filepath.Join(t.TempDir(), "nope.img"))
	assert.ErrorIs(t, err, NotFoundErr)
}

func TestMountGarbageFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.img")
	require.NoError(t, writeGarbage(path))
	_, err := MountInFile(path)
	assert.ErrorIs(t, err, FormatErr)
}

func TestEncryptedRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.enc")

	handle, err := FormatInFileEncrypted(path, &smallConfig, "hunter2")
	require.NoError(t, err)
	root := handle.Root()
	file, err := root.OpenFile("secret", dir.Create|dir.Write)
	require.NoError(t, err)
	payload := []byte("attack at dawn")
	_, err = file.Write(payload)
	require.NoError(t, err)
	require.NoError(t, file.Close())
	require.NoError(t, handle.Close())

	// the plaintext never touches the host file
	raw, err := readWholeFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "attack at dawn")
	assert.NotContains(t, string(raw), "secret")

	handle, err = MountInFileEncrypted(path, "hunter2")
	require.NoError(t, err)
	file, err = handle.Root().OpenFile("secret", dir.Read)
	require.NoError(t, err)
	found := make([]byte, len(payload))
	n, err := file.Read(found)
	require.NoError(t, err)
	assert.Equal(t, payload, found[:n])
	require.NoError(t, file.Close())
	require.NoError(t, handle.Close())
}

func TestEncryptedWrongPassword(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.enc")
	handle, err := FormatInFileEncrypted(path, &smallConfig, "hunter2")
	require.NoError(t, err)
	require.NoError(t, handle.Close())

	_, err = MountInFileEncrypted(path, "letmein")
	assert.ErrorIs(t, err, AuthErr)
}

func TestEncryptedTamperFailsIntegrity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.enc")
	handle, err := FormatInFileEncrypted(path, &smallConfig, "hunter2")
	require.NoError(t, err)
	file, err := handle.Root().OpenFile("f", dir.Create|dir.Write)
	require.NoError(t, err)
	_, err = file.Write(bytes.Repeat([]byte{0xEE}, 2000))
	require.NoError(t, err)
	require.NoError(t, file.Close())
	require.NoError(t, handle.Close())

	// flip a single ciphertext bit somewhere in the data region
	require.NoError(t, flipBit(path, 10*1024))

	_, err = MountInFileEncrypted(path, "hunter2")
	assert.ErrorIs(t, err, IntegrityErr)
}

// clearEnv unsets keys for the duration of the test (t.Setenv registers
// the restore; Unsetenv makes the key truly absent rather than empty).
func clearEnv(t *testing.T, keys ...string) {
	for _, key := range keys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadConfig(t *testing.T) {
	clearEnv(t, "VDISK_CONFIG_FILE", "VDISK_INODE_SIZE", "VDISK_NUM_INODES")
	t.Setenv("VDISK_BLOCK_SIZE", "1024")
	t.Setenv("VDISK_NUM_BLOCKS", "2048")

	config, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, Byte(1024), config.BlockSize)
	assert.Equal(t, Block(2048), config.NumBlocks)
	// untouched knobs keep their defaults
	assert.Equal(t, DefaultConfig().InodeSize, config.InodeSize)
	assert.Equal(t, DefaultConfig().NumInodes, config.NumInodes)
}

func TestLoadConfigFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"blockSize: 8192\nnumBlocks: 512\n",
	), 0o644))
	clearEnv(t, "VDISK_BLOCK_SIZE", "VDISK_INODE_SIZE", "VDISK_NUM_INODES")
	t.Setenv("VDISK_CONFIG_FILE", path)
	t.Setenv("VDISK_NUM_BLOCKS", "1024") // env overrides the profile

	config, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, Byte(8192), config.BlockSize)
	assert.Equal(t, Block(1024), config.NumBlocks)
}
