package crypt

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"

	. "github.com/weberc2/vdisk/pkg/types"
)

// The encrypted backend prepends a fixed header to the block space:
//
//	magic:8 | version:u16 | kdf_id:u16 | kdf_params:32 |
//	salt:16 | base_nonce:12 | wrapped_key:48 | whole_disk_mac:32
//
// wrapped_key is the 32-byte file key XOR'd with ChaCha20 keystream under
// the password-derived key, followed by a 16-byte HMAC tag binding the
// password to everything before it. whole_disk_mac is HMAC-SHA-256 over
// the per-block ciphertexts in ascending order; it is rewritten on Close
// and checked on open before any block is served.

const (
	Magic   = "VDISKCR\x00"
	Version = 1

	KdfArgon2id uint16 = 1

	headerMagicStart     = 0
	headerMagicEnd       = headerMagicStart + 8
	headerVersionStart   = headerMagicEnd
	headerVersionEnd     = headerVersionStart + 2
	headerKdfIDStart     = headerVersionEnd
	headerKdfIDEnd       = headerKdfIDStart + 2
	headerKdfParamsStart = headerKdfIDEnd
	headerKdfParamsEnd   = headerKdfParamsStart + 32
	headerSaltStart      = headerKdfParamsEnd
	headerSaltEnd        = headerSaltStart + 16
	headerNonceStart     = headerSaltEnd
	headerNonceEnd       = headerNonceStart + 12
	headerWrappedStart   = headerNonceEnd
	headerWrappedKeyEnd  = headerWrappedStart + 32
	headerWrappedEnd     = headerWrappedStart + 48
	headerMacStart       = headerWrappedEnd
	headerMacEnd         = headerMacStart + 32

	// HeaderSize is the full on-file header footprint.
	HeaderSize Byte = headerMacEnd

	keySize   = 32
	nonceSize = 12
	tagSize   = 32
)

// kdfParams carries the argon2id cost parameters; they ride in the header
// so they can be hardened later without a format version bump.
type kdfParams struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
}

// DefaultKdfParams follows the argon2id interactive-use recommendation.
var DefaultKdfParams = kdfParams{Time: 1, Memory: 64 * 1024, Threads: 4}

func (params *kdfParams) encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], params.Time)
	binary.LittleEndian.PutUint32(b[4:8], params.Memory)
	b[8] = params.Threads
}

func (params *kdfParams) decode(b []byte) error {
	params.Time = binary.LittleEndian.Uint32(b[0:4])
	params.Memory = binary.LittleEndian.Uint32(b[4:8])
	params.Threads = b[8]
	if params.Time == 0 || params.Memory == 0 || params.Threads == 0 {
		return fmt.Errorf("decoding kdf params: %w", FormatErr)
	}
	return nil
}

func deriveKek(password []byte, salt []byte, params *kdfParams) []byte {
	return argon2.IDKey(
		password,
		salt,
		params.Time,
		params.Memory,
		params.Threads,
		keySize,
	)
}

func subkey(secret, salt []byte, info string) ([]byte, error) {
	key := make([]byte, keySize)
	r := hkdf.New(sha256.New, secret, salt, []byte(info))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving `%s` subkey: %v: %w", info, err, IOErr)
	}
	return key, nil
}

// blockNonce combines the base nonce with the block number injectively:
// the low 8 nonce bytes are XOR'd with LE64(n).
func blockNonce(base *[nonceSize]byte, n Block) [nonceSize]byte {
	nonce := *base
	var le [8]byte
	binary.LittleEndian.PutUint64(le[:], uint64(n))
	for i := range le {
		nonce[i] ^= le[i]
	}
	return nonce
}

func keystreamXOR(key []byte, nonce []byte, dst, src []byte) error {
	cipher, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		return fmt.Errorf("initializing block cipher: %v: %w", err, IOErr)
	}
	cipher.XORKeyStream(dst, src)
	return nil
}

// parseHeader validates the header framing and the password binding. On
// success it returns the unwrapped file key. A bad magic or version is a
// format problem; a failed wrapped-key tag is AuthErr, reported before any
// data block is touched.
func parseHeader(
	header []byte,
	password []byte,
) (fileKey []byte, baseNonce [nonceSize]byte, err error) {
	if Byte(len(header)) != HeaderSize {
		return nil, baseNonce, fmt.Errorf(
			"parsing encrypted header: `%d` bytes; wanted `%d`: %w",
			len(header),
			HeaderSize,
			FormatErr,
		)
	}
	if string(header[headerMagicStart:headerMagicEnd]) != Magic {
		return nil, baseNonce, fmt.Errorf(
			"parsing encrypted header: bad magic: %w",
			FormatErr,
		)
	}
	if v := binary.LittleEndian.Uint16(
		header[headerVersionStart:headerVersionEnd],
	); v != Version {
		return nil, baseNonce, fmt.Errorf(
			"parsing encrypted header: version `%d`; supported `%d`: %w",
			v,
			Version,
			VersionErr,
		)
	}
	if id := binary.LittleEndian.Uint16(
		header[headerKdfIDStart:headerKdfIDEnd],
	); id != KdfArgon2id {
		return nil, baseNonce, fmt.Errorf(
			"parsing encrypted header: unknown kdf id `%d`: %w",
			id,
			FormatErr,
		)
	}

	var params kdfParams
	if err := params.decode(
		header[headerKdfParamsStart:headerKdfParamsEnd],
	); err != nil {
		return nil, baseNonce, err
	}

	salt := header[headerSaltStart:headerSaltEnd]
	copy(baseNonce[:], header[headerNonceStart:headerNonceEnd])

	kek := deriveKek(password, salt, &params)
	authKey, err := subkey(kek, salt, "vdisk key wrap")
	if err != nil {
		return nil, baseNonce, err
	}

	mac := hmac.New(sha256.New, authKey)
	mac.Write(header[:headerWrappedKeyEnd])
	if !hmac.Equal(
		mac.Sum(nil)[:headerWrappedEnd-headerWrappedKeyEnd],
		header[headerWrappedKeyEnd:headerWrappedEnd],
	) {
		return nil, baseNonce, fmt.Errorf(
			"verifying encrypted header key wrap: %w",
			AuthErr,
		)
	}

	fileKey = make([]byte, keySize)
	if err := keystreamXOR(
		kek,
		baseNonce[:],
		fileKey,
		header[headerWrappedStart:headerWrappedKeyEnd],
	); err != nil {
		return nil, baseNonce, err
	}
	return fileKey, baseNonce, nil
}

// buildHeader assembles a header binding password to fileKey. The
// whole-disk MAC field is zeroed; Close fills it in.
func buildHeader(
	password []byte,
	fileKey []byte,
	salt []byte,
	baseNonce *[nonceSize]byte,
	params *kdfParams,
) ([]byte, error) {
	header := make([]byte, HeaderSize)
	copy(header[headerMagicStart:headerMagicEnd], Magic)
	binary.LittleEndian.PutUint16(
		header[headerVersionStart:headerVersionEnd],
		Version,
	)
	binary.LittleEndian.PutUint16(
		header[headerKdfIDStart:headerKdfIDEnd],
		KdfArgon2id,
	)
	params.encode(header[headerKdfParamsStart:headerKdfParamsEnd])
	copy(header[headerSaltStart:headerSaltEnd], salt)
	copy(header[headerNonceStart:headerNonceEnd], baseNonce[:])

	kek := deriveKek(password, salt, params)
	if err := keystreamXOR(
		kek,
		baseNonce[:],
		header[headerWrappedStart:headerWrappedKeyEnd],
		fileKey,
	); err != nil {
		return nil, err
	}

	authKey, err := subkey(kek, salt, "vdisk key wrap")
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, authKey)
	mac.Write(header[:headerWrappedKeyEnd])
	copy(
		header[headerWrappedKeyEnd:headerWrappedEnd],
		mac.Sum(nil)[:headerWrappedEnd-headerWrappedKeyEnd],
	)
	return header, nil
}

// DecryptPrefix verifies the password binding in header and decrypts the
// leading bytes of block 0's ciphertext. Mount uses it to read the
// superblock geometry before the full device exists.
func DecryptPrefix(header, password, ciphertext []byte) ([]byte, error) {
	fileKey, baseNonce, err := parseHeader(header, password)
	if err != nil {
		return nil, fmt.Errorf("decrypting superblock prefix: %w", err)
	}
	plaintext := make([]byte, len(ciphertext))
	nonce := blockNonce(&baseNonce, 0)
	if err := keystreamXOR(
		fileKey,
		nonce[:],
		plaintext,
		ciphertext,
	); err != nil {
		return nil, fmt.Errorf("decrypting superblock prefix: %w", err)
	}
	return plaintext, nil
}
