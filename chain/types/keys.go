package types

import (
	"bytes"
	"encoding/hex"
	"strings"

	"golang.org/x/xerrors"
)

// HashLength is the length of file keys, provider and bucket ids, and forest roots.
const HashLength = 32

// Hash is a 32-byte value rendered as 0x-prefixed hex text.
type Hash [HashLength]byte

// FileKey is the content-derived identity of a stored file.
type FileKey Hash

// ProviderID identifies a main or backup storage provider.
type ProviderID Hash

// BucketID identifies a bucket.
type BucketID Hash

// ForestRoot is the commitment root of a provider or bucket forest.
type ForestRoot Hash

// BlockNumber is a block height.
type BlockNumber uint64

// BlockRef pins a block by height and hash.
type BlockRef struct {
	Number BlockNumber
	Hash   Hash
}

func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

func (h Hash) Bytes() []byte {
	return h[:]
}

func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash parses 0x-prefixed (or bare) hex into a Hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return h, xerrors.Errorf("decoding hash %q: %w", s, err)
	}
	if len(b) != HashLength {
		return h, xerrors.Errorf("hash %q has %d bytes, expected %d", s, len(b), HashLength)
	}
	copy(h[:], b)
	return h, nil
}

// HashFromBytes copies a 32-byte slice into a Hash.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashLength {
		return h, xerrors.Errorf("expected %d bytes, got %d", HashLength, len(b))
	}
	copy(h[:], b)
	return h, nil
}

func (k FileKey) String() string                { return Hash(k).String() }
func (k FileKey) Bytes() []byte                 { return k[:] }
func (k FileKey) MarshalText() ([]byte, error)  { return Hash(k).MarshalText() }
func (k *FileKey) UnmarshalText(b []byte) error { return (*Hash)(k).UnmarshalText(b) }

// Less orders file keys bytewise.
func (k FileKey) Less(o FileKey) bool { return bytes.Compare(k[:], o[:]) < 0 }

func (p ProviderID) String() string                { return Hash(p).String() }
func (p ProviderID) Bytes() []byte                 { return p[:] }
func (p ProviderID) MarshalText() ([]byte, error)  { return Hash(p).MarshalText() }
func (p *ProviderID) UnmarshalText(b []byte) error { return (*Hash)(p).UnmarshalText(b) }

func (b BucketID) String() string                  { return Hash(b).String() }
func (b BucketID) Bytes() []byte                   { return b[:] }
func (b BucketID) MarshalText() ([]byte, error)    { return Hash(b).MarshalText() }
func (b *BucketID) UnmarshalText(bs []byte) error  { return (*Hash)(b).UnmarshalText(bs) }
func (r ForestRoot) String() string                { return Hash(r).String() }
func (r ForestRoot) MarshalText() ([]byte, error)  { return Hash(r).MarshalText() }
func (r *ForestRoot) UnmarshalText(b []byte) error { return (*Hash)(r).UnmarshalText(b) }
