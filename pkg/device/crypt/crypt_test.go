package crypt

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weberc2/vdisk/pkg/device"

	. "github.com/weberc2/vdisk/pkg/types"
)

const testBlockSize Byte = 64

func testCrypt(t *testing.T) (*Crypt, string) {
	path := filepath.Join(t.TempDir(), "disk.img")
	inner, err := device.CreateFile(path, testBlockSize, 8, HeaderSize)
	require.NoError(t, err)
	crypt, err := Create(inner, []byte("hunter2"))
	require.NoError(t, err)
	return crypt, path
}

func TestCryptRoundTrip(t *testing.T) {
	crypt, _ := testCrypt(t)
	defer crypt.Close()

	want := bytes.Repeat([]byte{0xAB}, int(testBlockSize))
	require.NoError(t, crypt.WriteBlock(3, want))

	found := make([]byte, testBlockSize)
	require.NoError(t, crypt.ReadBlock(3, found))
	assert.Equal(t, want, found)
}

func TestCryptCiphertextDiffersFromPlaintext(t *testing.T) {
	crypt, path := testCrypt(t)
	defer crypt.Close()

	want := bytes.Repeat([]byte{0xAB}, int(testBlockSize))
	require.NoError(t, crypt.WriteBlock(0, want))
	require.NoError(t, crypt.WriteBlock(1, want))

	ct0 := make([]byte, testBlockSize)
	require.NoError(t, device.PeekFile(path, HeaderSize, ct0))
	assert.NotEqual(t, want, ct0, "plaintext on disk")

	// identical plaintexts under per-block nonces give distinct ciphertexts
	ct1 := make([]byte, testBlockSize)
	require.NoError(t, device.PeekFile(path, HeaderSize+testBlockSize, ct1))
	assert.NotEqual(t, ct0, ct1)
}

func TestCryptReopen(t *testing.T) {
	crypt, path := testCrypt(t)
	want := bytes.Repeat([]byte{0x5A}, int(testBlockSize))
	require.NoError(t, crypt.WriteBlock(5, want))
	require.NoError(t, crypt.Close())

	inner, err := device.OpenFile(path, testBlockSize, 8, HeaderSize)
	require.NoError(t, err)
	reopened, err := Open(inner, []byte("hunter2"))
	require.NoError(t, err)
	defer reopened.Close()

	found := make([]byte, testBlockSize)
	require.NoError(t, reopened.ReadBlock(5, found))
	assert.Equal(t, want, found)
}

func TestCryptWrongPassword(t *testing.T) {
	crypt, path := testCrypt(t)
	require.NoError(t, crypt.Close())

	inner, err := device.OpenFile(path, testBlockSize, 8, HeaderSize)
	require.NoError(t, err)
	defer inner.Close()
	_, err = Open(inner, []byte("letmein"))
	assert.ErrorIs(t, err, AuthErr)
}

func TestCryptTamperFailsIntegrity(t *testing.T) {
	crypt, path := testCrypt(t)
	require.NoError(t, crypt.WriteBlock(2, make([]byte, testBlockSize)))
	require.NoError(t, crypt.Close())

	// flip one ciphertext bit
	raw, err := device.OpenFile(path, testBlockSize, 8, HeaderSize)
	require.NoError(t, err)
	block := make([]byte, testBlockSize)
	require.NoError(t, raw.ReadBlock(2, block))
	block[17] ^= 0x01
	require.NoError(t, raw.WriteBlock(2, block))
	require.NoError(t, raw.Close())

	inner, err := device.OpenFile(path, testBlockSize, 8, HeaderSize)
	require.NoError(t, err)
	defer inner.Close()
	_, err = Open(inner, []byte("hunter2"))
	assert.ErrorIs(t, err, IntegrityErr)
}

func TestCryptSkippedCloseFailsIntegrity(t *testing.T) {
	crypt, path := testCrypt(t)
	require.NoError(t, crypt.WriteBlock(1, make([]byte, testBlockSize)))
	// drop the handle without Close: the header MAC is stale
	require.NoError(t, crypt.inner.Close())

	inner, err := device.OpenFile(path, testBlockSize, 8, HeaderSize)
	require.NoError(t, err)
	defer inner.Close()
	_, err = Open(inner, []byte("hunter2"))
	assert.ErrorIs(t, err, IntegrityErr)
}

func TestCryptPoisoning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	inner, err := device.CreateFile(path, testBlockSize, 8, HeaderSize)
	require.NoError(t, err)
	crypt, err := Create(inner, []byte("hunter2"))
	require.NoError(t, err)

	// corrupt a ciphertext behind the wrapper's back
	block := make([]byte, testBlockSize)
	require.NoError(t, inner.ReadBlock(4, block))
	block[0] ^= 0xFF
	require.NoError(t, inner.WriteBlock(4, block))

	buf := make([]byte, testBlockSize)
	require.ErrorIs(t, crypt.ReadBlock(4, buf), IntegrityErr)

	// every subsequent operation fails the same way
	assert.ErrorIs(t, crypt.ReadBlock(0, buf), IntegrityErr)
	assert.ErrorIs(t, crypt.WriteBlock(0, buf), IntegrityErr)
	assert.ErrorIs(t, crypt.Flush(), IntegrityErr)
}

func TestDecryptPrefix(t *testing.T) {
	crypt, path := testCrypt(t)
	want := bytes.Repeat([]byte{0x77}, int(testBlockSize))
	require.NoError(t, crypt.WriteBlock(0, want))
	require.NoError(t, crypt.Close())

	header := make([]byte, HeaderSize)
	require.NoError(t, device.PeekFile(path, 0, header))
	ciphertext := make([]byte, 16)
	require.NoError(t, device.PeekFile(path, HeaderSize, ciphertext))

	plaintext, err := DecryptPrefix(header, []byte("hunter2"), ciphertext)
	require.NoError(t, err)
	assert.Equal(t, want[:16], plaintext)

	_, err = DecryptPrefix(header, []byte("wrong"), ciphertext)
	assert.ErrorIs(t, err, AuthErr)
}
