package crypt

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/weberc2/vdisk/pkg/device"
	"github.com/weberc2/vdisk/pkg/util"

	. "github.com/weberc2/vdisk/pkg/types"
)

var _ device.Device = (*Crypt)(nil)

// Crypt is a streaming-AEAD wrapper over a header-carrying block device.
// Block n is ChaCha20-encrypted under the file key with nonce
// base_nonce XOR LE64(n); per-block HMAC tags are maintained in memory and
// checked on every read, and a whole-disk HMAC over the ciphertexts is
// written on Close and verified on Open.
//
// The first integrity failure poisons the device: every subsequent
// operation fails with the same error.
type Crypt struct {
	inner     device.HeaderDevice
	fileKey   []byte
	macKey    []byte
	baseNonce [nonceSize]byte
	header    []byte
	tags      [][tagSize]byte
	poisoned  error
}

// Create formats inner as a fresh encrypted device bound to password. The
// inner device must reserve HeaderSize bytes of header space.
func Create(inner device.HeaderDevice, password []byte) (*Crypt, error) {
	if inner.HeaderSize() != HeaderSize {
		return nil, fmt.Errorf(
			"creating encrypted device: inner header is `%d` bytes; "+
				"wanted `%d`: %w",
			inner.HeaderSize(),
			HeaderSize,
			BadSizeErr,
		)
	}

	fileKey := make([]byte, keySize)
	salt := make([]byte, headerSaltEnd-headerSaltStart)
	var baseNonce [nonceSize]byte
	for _, p := range [][]byte{fileKey, salt, baseNonce[:]} {
		if _, err := io.ReadFull(rand.Reader, p); err != nil {
			return nil, fmt.Errorf(
				"creating encrypted device: gathering entropy: %v: %w",
				err,
				IOErr,
			)
		}
	}

	params := DefaultKdfParams
	header, err := buildHeader(password, fileKey, salt, &baseNonce, &params)
	if err != nil {
		return nil, fmt.Errorf("creating encrypted device: %w", err)
	}
	if err := inner.WriteHeader(header); err != nil {
		return nil, fmt.Errorf("creating encrypted device: %w", err)
	}

	crypt, err := newCrypt(inner, fileKey, salt, baseNonce, header)
	if err != nil {
		return nil, fmt.Errorf("creating encrypted device: %w", err)
	}
	if _, err := crypt.scan(); err != nil {
		return nil, fmt.Errorf("creating encrypted device: %w", err)
	}
	util.DPrintf(1, "crypt: created over %d blocks", inner.NumBlocks())
	return crypt, nil
}

// Open unlocks an existing encrypted device. A wrong password fails with
// AuthErr before any data block is read; a ciphertext that doesn't match
// the stored whole-disk MAC fails with IntegrityErr.
func Open(inner device.HeaderDevice, password []byte) (*Crypt, error) {
	if inner.HeaderSize() != HeaderSize {
		return nil, fmt.Errorf(
			"opening encrypted device: inner header is `%d` bytes; "+
				"wanted `%d`: %w",
			inner.HeaderSize(),
			HeaderSize,
			BadSizeErr,
		)
	}

	header := make([]byte, HeaderSize)
	if err := inner.ReadHeader(header); err != nil {
		return nil, fmt.Errorf("opening encrypted device: %w", err)
	}
	fileKey, baseNonce, err := parseHeader(header, password)
	if err != nil {
		return nil, fmt.Errorf("opening encrypted device: %w", err)
	}

	crypt, err := newCrypt(
		inner,
		fileKey,
		header[headerSaltStart:headerSaltEnd],
		baseNonce,
		header,
	)
	if err != nil {
		return nil, fmt.Errorf("opening encrypted device: %w", err)
	}

	mac, err := crypt.scan()
	if err != nil {
		return nil, fmt.Errorf("opening encrypted device: %w", err)
	}
	if !hmac.Equal(mac, header[headerMacStart:headerMacEnd]) {
		return nil, fmt.Errorf(
			"opening encrypted device: whole-disk mac mismatch: %w",
			IntegrityErr,
		)
	}
	util.DPrintf(1, "crypt: opened %d blocks", inner.NumBlocks())
	return crypt, nil
}

func newCrypt(
	inner device.HeaderDevice,
	fileKey []byte,
	salt []byte,
	baseNonce [nonceSize]byte,
	header []byte,
) (*Crypt, error) {
	macKey, err := subkey(fileKey, salt, "vdisk disk mac")
	if err != nil {
		return nil, err
	}
	return &Crypt{
		inner:     inner,
		fileKey:   fileKey,
		macKey:    macKey,
		baseNonce: baseNonce,
		header:    header,
		tags:      make([][tagSize]byte, inner.NumBlocks()),
	}, nil
}

// scan streams every ciphertext block in ascending order, refreshing the
// per-block tag cache, and returns the whole-disk MAC.
func (crypt *Crypt) scan() ([]byte, error) {
	whole := hmac.New(sha256.New, crypt.macKey)
	ct := make([]byte, crypt.inner.BlockSize())
	for n := Block(0); n < crypt.inner.NumBlocks(); n++ {
		if err := crypt.inner.ReadBlock(n, ct); err != nil {
			return nil, fmt.Errorf("scanning ciphertexts: %w", err)
		}
		whole.Write(ct)
		crypt.tags[n] = crypt.blockTag(n, ct)
	}
	return whole.Sum(nil), nil
}

func (crypt *Crypt) blockTag(n Block, ciphertext []byte) [tagSize]byte {
	mac := hmac.New(sha256.New, crypt.macKey)
	var le [8]byte
	binary.LittleEndian.PutUint64(le[:], uint64(n))
	mac.Write(le[:])
	mac.Write(ciphertext)
	var tag [tagSize]byte
	copy(tag[:], mac.Sum(nil))
	return tag
}

func (crypt *Crypt) poison(err error) error {
	if crypt.poisoned == nil {
		crypt.poisoned = err
	}
	return err
}

func (crypt *Crypt) ReadBlock(n Block, p []byte) error {
	if crypt.poisoned != nil {
		return crypt.poisoned
	}
	ct := make([]byte, crypt.inner.BlockSize())
	if err := crypt.inner.ReadBlock(n, ct); err != nil {
		return fmt.Errorf("reading encrypted block `%d`: %w", n, err)
	}
	tag := crypt.blockTag(n, ct)
	if !hmac.Equal(tag[:], crypt.tags[n][:]) {
		return crypt.poison(fmt.Errorf(
			"reading encrypted block `%d`: tag mismatch: %w",
			n,
			IntegrityErr,
		))
	}
	nonce := blockNonce(&crypt.baseNonce, n)
	if err := keystreamXOR(crypt.fileKey, nonce[:], p, ct); err != nil {
		return fmt.Errorf("reading encrypted block `%d`: %w", n, err)
	}
	return nil
}

func (crypt *Crypt) WriteBlock(n Block, p []byte) error {
	if crypt.poisoned != nil {
		return crypt.poisoned
	}
	if Byte(len(p)) != crypt.inner.BlockSize() {
		return fmt.Errorf(
			"writing encrypted block `%d`: buffer is `%d` bytes; block "+
				"size is `%d`: %w",
			n,
			len(p),
			crypt.inner.BlockSize(),
			BadSizeErr,
		)
	}
	ct := make([]byte, len(p))
	nonce := blockNonce(&crypt.baseNonce, n)
	if err := keystreamXOR(crypt.fileKey, nonce[:], ct, p); err != nil {
		return fmt.Errorf("writing encrypted block `%d`: %w", n, err)
	}
	if err := crypt.inner.WriteBlock(n, ct); err != nil {
		return fmt.Errorf("writing encrypted block `%d`: %w", n, err)
	}
	crypt.tags[n] = crypt.blockTag(n, ct)
	return nil
}

func (crypt *Crypt) Flush() error {
	if crypt.poisoned != nil {
		return crypt.poisoned
	}
	return crypt.inner.Flush()
}

// Close seals the device: it recomputes the whole-disk MAC over the final
// ciphertexts, rewrites the header in one write, and closes the inner
// device. Skipping Close leaves a stale MAC, which the next Open reports
// as IntegrityErr; a clean close is required for durability.
func (crypt *Crypt) Close() error {
	if crypt.poisoned != nil {
		crypt.inner.Close()
		return crypt.poisoned
	}
	mac, err := crypt.scan()
	if err != nil {
		crypt.inner.Close()
		return fmt.Errorf("closing encrypted device: %w", err)
	}
	copy(crypt.header[headerMacStart:headerMacEnd], mac)
	if err := crypt.inner.WriteHeader(crypt.header); err != nil {
		crypt.inner.Close()
		return fmt.Errorf("closing encrypted device: %w", err)
	}
	if err := crypt.inner.Flush(); err != nil {
		crypt.inner.Close()
		return fmt.Errorf("closing encrypted device: %w", err)
	}
	util.DPrintf(1, "crypt: sealed %d blocks", crypt.inner.NumBlocks())
	return crypt.inner.Close()
}

func (crypt *Crypt) NumBlocks() Block { return crypt.inner.NumBlocks() }
func (crypt *Crypt) BlockSize() Byte  { return crypt.inner.BlockSize() }
