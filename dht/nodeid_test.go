package dht

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeIDFromBytes(t *testing.T) {
	_, err := NodeIDFromBytes(make([]byte, 19))
	assert.ErrorIs(t, err, ErrInvalidIDLength)

	_, err = NodeIDFromBytes(make([]byte, 21))
	assert.ErrorIs(t, err, ErrInvalidIDLength)

	raw := make([]byte, IDLength)
	raw[0] = 0xAB
	id, err := NodeIDFromBytes(raw)
	require.NoError(t, err)
	assert.Equal(t, byte(0xAB), id[0])

	// The ID owns its bytes.
	raw[0] = 0
	assert.Equal(t, byte(0xAB), id[0])
}

func TestNodeIDHexRoundTrip(t *testing.T) {
	id := createTestID(0x5A)
	parsed, err := NodeIDFromHex(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
	assert.Len(t, id.String(), 40)
	assert.Equal(t, "5a5a5a5a", id.Short())

	_, err = NodeIDFromHex("zz")
	assert.Error(t, err)
	_, err = NodeIDFromHex("abcd")
	assert.ErrorIs(t, err, ErrInvalidIDLength)

	var text NodeID
	require.NoError(t, text.UnmarshalText([]byte(id.String())))
	assert.Equal(t, id, text)
}

func TestNodeIDFromPublicKey(t *testing.T) {
	var k1, k2 [32]byte
	k2[0] = 1

	a := NodeIDFromPublicKey(k1)
	b := NodeIDFromPublicKey(k1)
	c := NodeIDFromPublicKey(k2)

	assert.Equal(t, a, b, "derivation is deterministic")
	assert.NotEqual(t, a, c)
}

func TestXORDistance(t *testing.T) {
	a := createTestID(0x0F)
	b := createTestID(0xF0)

	assert.True(t, XOR(a, a).IsZero(), "distance to self is zero")
	assert.Equal(t, XOR(a, b), XOR(b, a), "distance is symmetric")
	assert.Equal(t, Distance(createTestID(0xFF)), XOR(a, b))

	var one, two NodeID
	one[IDLength-1] = 1
	two[IDLength-1] = 2
	assert.Equal(t, -1, XOR(one, NodeID{}).Cmp(XOR(two, NodeID{})))
	assert.Equal(t, 1, XOR(two, NodeID{}).Cmp(XOR(one, NodeID{})))
	assert.Equal(t, 0, XOR(one, NodeID{}).Cmp(XOR(one, NodeID{})))
}

func TestDistanceBitLen(t *testing.T) {
	tests := []struct {
		name string
		bit  int
		want int
	}{
		{"lowest bit", 0, 1},
		{"bit 7", 7, 8},
		{"bit 8", 8, 9},
		{"bit 10", 10, 11},
		{"highest bit", 159, 160},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d NodeID
			setBit(&d, tt.bit)
			assert.Equal(t, tt.want, Distance(d).BitLen())
		})
	}
	assert.Equal(t, 0, Distance{}.BitLen())
}

func TestBucketIndex(t *testing.T) {
	var local NodeID

	var high NodeID
	high[0] = 0x80
	assert.Equal(t, 159, BucketIndex(local, high), "0x80.. lands in the last bucket")

	var low NodeID
	low[IDLength-1] = 0x01
	assert.Equal(t, 0, BucketIndex(local, low), "distance 1 lands in bucket 0")

	assert.Equal(t, 0, BucketIndex(local, local), "zero distance clamps to bucket 0")

	for _, bucket := range []int{1, 10, 63, 64, 100, 158} {
		id := idInBucket(local, bucket, 1)
		assert.Equal(t, bucket, BucketIndex(local, id))
	}

	// Index depends on distance, not on the absolute value of the IDs.
	self := createTestID(0x33)
	assert.Equal(t, 42, BucketIndex(self, idInBucket(self, 42, 7)))
}
