package detbit

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBitRoundTrip(t *testing.T) {
	nOrb := 12
	r := rand.New(rand.NewSource(1))
	for trial := 0; trial < 50; trial++ {
		det := New(nOrb)
		k := 1 + r.Intn(2*nOrb-1)
		chosen := r.Perm(2 * nOrb)[:k]
		for _, i := range chosen {
			SetBit(det, i)
		}
		occ := EnumerateSetBits(det)
		require.Len(t, occ, k)
		rebuilt := New(nOrb)
		for _, o := range occ {
			SetBit(rebuilt, int(o))
		}
		assert.True(t, Equal(det, rebuilt))
		for i := 1; i < len(occ); i++ {
			assert.Less(t, occ[i-1], occ[i])
		}
	}
}

func TestParitySelfInverse(t *testing.T) {
	nOrb := 8
	det := HFDeterminant(nOrb, 4)
	orig := det.Clone()

	orbs := [4]uint8{0, uint8(nOrb), 2, uint8(nOrb + 2)}
	sign1 := DoubDetParity(det, orbs)
	reverse := [4]uint8{orbs[2], orbs[3], orbs[0], orbs[1]}
	sign2 := DoubDetParity(det, reverse)

	assert.True(t, Equal(det, orig))
	assert.Equal(t, 1, sign1*sign2)
	assert.Contains(t, []int{1, -1}, sign1)
}

func TestSingParitySelfInverse(t *testing.T) {
	nOrb := 6
	det := HFDeterminant(nOrb, 4)
	orig := det.Clone()

	sign1 := SingDetParity(det, [2]uint8{1, 4})
	sign2 := SingDetParity(det, [2]uint8{4, 1})

	assert.True(t, Equal(det, orig))
	assert.Equal(t, 1, sign1*sign2)
}

func TestFindExcitation(t *testing.T) {
	nOrb := 6
	from := HFDeterminant(nOrb, 4)
	to := from.Clone()
	SingDetParity(to, [2]uint8{1, 4})

	orbs, ok := FindExcitation(from, to)
	require.True(t, ok)
	require.Len(t, orbs, 2)
	assert.ElementsMatch(t, []uint8{1, 4}, orbs)
}

func TestFindExcitationTooFar(t *testing.T) {
	nOrb := 6
	from := HFDeterminant(nOrb, 6)
	to := HFDeterminant(nOrb, 2)
	_, ok := FindExcitation(from, to)
	assert.False(t, ok)
}

func TestFlipSpins(t *testing.T) {
	nOrb := 5
	det := New(nOrb)
	SetBit(det, 1)
	SetBit(det, nOrb+3)
	flipped := FlipSpins(det, nOrb)
	assert.True(t, ReadBit(flipped, nOrb+1))
	assert.True(t, ReadBit(flipped, 3))
	assert.Equal(t, 2, Count(flipped))
}

func TestPopcountBetween(t *testing.T) {
	nOrb := 8
	det := New(nOrb)
	SetBit(det, 1)
	SetBit(det, 3)
	SetBit(det, 5)
	SetBit(det, 9)
	assert.Equal(t, 1, PopcountBetween(det, 0, 4))
	assert.Equal(t, 1, PopcountBetween(det, 4, 0))
	assert.Equal(t, 2, PopcountBetween(det, 0, 6))
	assert.Equal(t, 3, PopcountBetween(det, 0, 10))
}
