package device

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/weberc2/vdisk/pkg/types"
)

const testBlockSize Byte = 64

func testDevices(t *testing.T) map[string]HeaderDevice {
	file, err := CreateFile(
		filepath.Join(t.TempDir(), "disk.img"),
		testBlockSize,
		8,
		16,
	)
	require.NoError(t, err)
	t.Cleanup(func() { file.Close() })
	return map[string]HeaderDevice{
		"mem":  NewMemWithHeader(testBlockSize, 8, 16),
		"file": file,
	}
}

func TestDeviceRoundTrip(t *testing.T) {
	for name, dev := range testDevices(t) {
		t.Run(name, func(t *testing.T) {
			want := bytes.Repeat([]byte{0xAB}, int(testBlockSize))
			require.NoError(t, dev.WriteBlock(3, want))

			found := make([]byte, testBlockSize)
			require.NoError(t, dev.ReadBlock(3, found))
			assert.Equal(t, want, found)

			// untouched blocks read back zeroed
			require.NoError(t, dev.ReadBlock(2, found))
			assert.Equal(t, make([]byte, testBlockSize), found)
		})
	}
}

func TestDeviceErrors(t *testing.T) {
	for name, dev := range testDevices(t) {
		t.Run(name, func(t *testing.T) {
			buf := make([]byte, testBlockSize)
			assert.ErrorIs(t, dev.ReadBlock(8, buf), OutOfRangeErr)
			assert.ErrorIs(t, dev.WriteBlock(100, buf), OutOfRangeErr)
			assert.ErrorIs(t, dev.ReadBlock(0, buf[:10]), BadSizeErr)
			assert.ErrorIs(t, dev.WriteBlock(0, buf[:10]), BadSizeErr)
		})
	}
}

func TestDeviceHeader(t *testing.T) {
	for name, dev := range testDevices(t) {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, Byte(16), dev.HeaderSize())
			want := bytes.Repeat([]byte{0xCD}, 16)
			require.NoError(t, dev.WriteHeader(want))

			found := make([]byte, 16)
			require.NoError(t, dev.ReadHeader(found))
			assert.Equal(t, want, found)

			// the header region must not alias block 0
			block := make([]byte, testBlockSize)
			require.NoError(t, dev.ReadBlock(0, block))
			assert.Equal(t, make([]byte, testBlockSize), block)
		})
	}
}

func TestFilePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")

	file, err := CreateFile(path, testBlockSize, 8, 0)
	require.NoError(t, err)
	want := bytes.Repeat([]byte{0x5A}, int(testBlockSize))
	require.NoError(t, file.WriteBlock(5, want))
	require.NoError(t, file.Flush())
	require.NoError(t, file.Close())

	file, err = OpenFile(path, testBlockSize, 8, 0)
	require.NoError(t, err)
	defer file.Close()
	found := make([]byte, testBlockSize)
	require.NoError(t, file.ReadBlock(5, found))
	assert.Equal(t, want, found)
}

func TestFileCreateExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	file, err := CreateFile(path, testBlockSize, 8, 0)
	require.NoError(t, err)
	defer file.Close()

	_, err = CreateFile(path, testBlockSize, 8, 0)
	assert.ErrorIs(t, err, ExistsErr)
}

func TestFileAlreadyMounted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	file, err := CreateFile(path, testBlockSize, 8, 0)
	require.NoError(t, err)
	defer file.Close()

	_, err = OpenFile(path, testBlockSize, 8, 0)
	assert.ErrorIs(t, err, AlreadyMountedErr)

	// the lock dies with the device
	require.NoError(t, file.Close())
	reopened, err := OpenFile(path, testBlockSize, 8, 0)
	require.NoError(t, err)
	require.NoError(t, reopened.Close())
}

func TestOpenFileMissing(t *testing.T) {
	_, err := OpenFile(
		filepath.Join(t.TempDir(), "nope.img"),
		testBlockSize,
		8,
		0,
	)
	assert.ErrorIs(t, err, NotFoundErr)
}

func TestOpenFileTooSmall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	file, err := CreateFile(path, testBlockSize, 8, 0)
	require.NoError(t, err)
	require.NoError(t, file.Close())

	_, err = OpenFile(path, testBlockSize, 100, 0)
	assert.ErrorIs(t, err, FormatErr)
}
