package peoplechain

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/cespare/xxhash/v2"
	"golang.org/x/crypto/blake2b"
)

// AccountID is a 32-byte Substrate account public key.
type AccountID [32]byte

var ss58Prefix = []byte("SS58PRE")

// DecodeSS58 decodes an SS58 address of any network prefix.
func DecodeSS58(address string) (AccountID, uint16, error) {
	raw := base58.Decode(address)
	if len(raw) == 0 {
		return AccountID{}, 0, errors.New("invalid ss58 address: not base58")
	}

	var (
		prefix    uint16
		prefixLen int
	)
	switch {
	case raw[0] < 64:
		prefix, prefixLen = uint16(raw[0]), 1
	case raw[0] < 128:
		if len(raw) < 2 {
			return AccountID{}, 0, errors.New("invalid ss58 address: truncated prefix")
		}
		lower := (raw[0] << 2) | (raw[1] >> 6)
		upper := raw[1] & 0x3f
		prefix, prefixLen = uint16(lower)|uint16(upper)<<8, 2
	default:
		return AccountID{}, 0, fmt.Errorf("invalid ss58 address: reserved prefix byte %d", raw[0])
	}

	if len(raw) != prefixLen+32+2 {
		return AccountID{}, 0, fmt.Errorf("invalid ss58 address: unexpected length %d", len(raw))
	}

	body := raw[:prefixLen+32]
	sum := blake2b.Sum512(append(append([]byte(nil), ss58Prefix...), body...))
	if !bytes.Equal(sum[:2], raw[prefixLen+32:]) {
		return AccountID{}, 0, errors.New("invalid ss58 address: checksum mismatch")
	}

	var id AccountID
	copy(id[:], raw[prefixLen:prefixLen+32])
	return id, prefix, nil
}

// twox128 is the 128-bit xxhash used for pallet and storage item prefixes.
func twox128(data []byte) []byte {
	out := make([]byte, 16)
	for i := 0; i < 2; i++ {
		h := xxhash.NewWithSeed(uint64(i))
		_, _ = h.Write(data)
		binary.LittleEndian.PutUint64(out[i*8:], h.Sum64())
	}
	return out
}

// twox64Concat hashes data with 64-bit xxhash and appends data.
func twox64Concat(data []byte) []byte {
	out := make([]byte, 8, 8+len(data))
	binary.LittleEndian.PutUint64(out, xxhash.Sum64(data))
	return append(out, data...)
}

// blake2128Concat hashes data with 128-bit blake2b and appends data.
func blake2128Concat(data []byte) ([]byte, error) {
	h, err := blake2b.New(16, nil)
	if err != nil {
		return nil, err
	}
	_, _ = h.Write(data)
	return append(h.Sum(nil), data...), nil
}

// StorageKey builds the key of pallet.item for a map entry keyed by hashedKey.
func StorageKey(pallet, item string, hashedKey []byte) []byte {
	key := make([]byte, 0, 32+len(hashedKey))
	key = append(key, twox128([]byte(pallet))...)
	key = append(key, twox128([]byte(item))...)
	return append(key, hashedKey...)
}

// PersonhoodKey is the People.Personhood entry of id.
func PersonhoodKey(id AccountID) []byte {
	hashed, err := blake2128Concat(id[:])
	if err != nil {
		panic(err)
	}
	return StorageKey("People", "Personhood", hashed)
}

// IdentityKey is the Identity.IdentityOf entry of id.
func IdentityKey(id AccountID) []byte {
	return StorageKey("Identity", "IdentityOf", twox64Concat(id[:]))
}
