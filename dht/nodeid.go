package dht

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/bits"

	"golang.org/x/crypto/blake2b"
)

const (
	// IDLength is the size of a node identifier in bytes.
	IDLength = 20
	// IDBits is the size of a node identifier in bits, and the number of
	// buckets in a routing table.
	IDBits = IDLength * 8
)

// ErrInvalidIDLength is returned when an identifier is not exactly IDLength bytes.
var ErrInvalidIDLength = errors.New("node id must be 20 bytes")

// NodeID is a 160-bit node identifier. Two nodes are the same peer exactly
// when their NodeIDs are equal, so NodeID is comparable and usable as a map key.
type NodeID [IDLength]byte

// NodeIDFromBytes copies b into a NodeID.
func NodeIDFromBytes(b []byte) (NodeID, error) {
	var id NodeID
	if len(b) != IDLength {
		return id, fmt.Errorf("%w: got %d", ErrInvalidIDLength, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// NodeIDFromHex parses a 40 character hexadecimal identifier.
func NodeIDFromHex(s string) (NodeID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return NodeID{}, fmt.Errorf("invalid node id %q: %w", s, err)
	}
	return NodeIDFromBytes(b)
}

// NodeIDFromPublicKey derives an identifier from a 32-byte public key
// using BLAKE2b truncated to 160 bits.
func NodeIDFromPublicKey(publicKey [32]byte) NodeID {
	h, err := blake2b.New(IDLength, nil)
	if err != nil {
		// only fails for sizes outside 1..64 or oversized keys
		panic(err)
	}
	h.Write(publicKey[:])

	var id NodeID
	copy(id[:], h.Sum(nil))
	return id
}

// String returns the hexadecimal form of the identifier.
func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns the first 8 hex characters, for log output.
func (id NodeID) Short() string {
	return hex.EncodeToString(id[:4])
}

// Bytes returns a copy of the identifier as a slice.
func (id NodeID) Bytes() []byte {
	b := make([]byte, IDLength)
	copy(b, id[:])
	return b
}

// MarshalText implements encoding.TextMarshaler.
func (id NodeID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *NodeID) UnmarshalText(text []byte) error {
	parsed, err := NodeIDFromHex(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Distance is the XOR of two identifiers, read as a big-endian unsigned integer.
type Distance [IDLength]byte

// XOR returns the distance between a and b.
func XOR(a, b NodeID) Distance {
	var d Distance
	for i := 0; i < IDLength; i++ {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// Cmp compares two distances as unsigned integers and returns -1, 0 or +1.
func (d Distance) Cmp(other Distance) int {
	for i := 0; i < IDLength; i++ {
		switch {
		case d[i] < other[i]:
			return -1
		case d[i] > other[i]:
			return 1
		}
	}
	return 0
}

// Less reports whether d is strictly smaller than other.
func (d Distance) Less(other Distance) bool {
	return d.Cmp(other) < 0
}

// IsZero reports whether the distance is zero.
func (d Distance) IsZero() bool {
	return d == Distance{}
}

// BitLen returns the number of bits needed to represent d; 0 for a zero distance.
func (d Distance) BitLen() int {
	for i := 0; i < IDLength; i++ {
		if d[i] != 0 {
			return (IDLength-i)*8 - bits.LeadingZeros8(d[i])
		}
	}
	return 0
}

// BucketIndex returns the bucket responsible for remote as seen from local:
// the position of the highest set bit of their distance, so bucket i covers
// distances in [2^i, 2^(i+1)). A zero distance maps to bucket 0.
func BucketIndex(local, remote NodeID) int {
	n := XOR(local, remote).BitLen() - 1
	if n < 0 {
		return 0
	}
	return n
}
