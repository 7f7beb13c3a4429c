package excite

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dairdre/gofries/internal/detbit"
)

func allOnesSymm(nOrb int) []uint8 {
	return make([]uint8, nOrb)
}

func TestSymmetryClosureDoubles(t *testing.T) {
	nOrb, nElec := 4, 4
	symm := []uint8{0, 1, 0, 1}
	det := detbit.HFDeterminant(nOrb, nElec)
	occ := detbit.EnumerateSetBits(det)

	doubles := DoubExSymm(det, occ, symm, nOrb)
	assert.NotEmpty(t, doubles)
	for _, d := range doubles {
		gi := symm[spatialOf(int(d.IOcc), nOrb)]
		gj := symm[spatialOf(int(d.JOcc), nOrb)]
		ga := symm[spatialOf(int(d.AVirt), nOrb)]
		gb := symm[spatialOf(int(d.BVirt), nOrb)]
		assert.EqualValues(t, 0, gi^gj^ga^gb)
	}
}

func TestSymmetryClosureSingles(t *testing.T) {
	nOrb, nElec := 4, 4
	symm := []uint8{0, 1, 0, 1}
	det := detbit.HFDeterminant(nOrb, nElec)
	occ := detbit.EnumerateSetBits(det)

	singles := SingExSymm(det, occ, symm, nOrb)
	assert.NotEmpty(t, singles)
	for _, s := range singles {
		gi := symm[spatialOf(int(s.IOcc), nOrb)]
		ga := symm[spatialOf(int(s.AVirt), nOrb)]
		assert.Equal(t, gi, ga)
	}
}

// TestDoubleCountClosedForm checks scenario S3 from spec.md §8: with an
// all-ones h_core/eris (all symmetry-allowed, since symm is trivial), the
// closed-form double excitation count from the HF determinant matches.
func TestDoubleCountClosedForm(t *testing.T) {
	nOrb, nElec := 4, 4
	symm := allOnesSymm(nOrb)
	det := detbit.HFDeterminant(nOrb, nElec)
	occ := detbit.EnumerateSetBits(det)

	doubles := DoubExSymm(det, occ, symm, nOrb)

	nUnocc := nOrb - nElec/2
	expected := nElec*(nElec/2-1)*nUnocc*(nUnocc-1)/2 + (nElec/2)*(nElec/2)*nUnocc*nUnocc
	assert.Equal(t, expected, len(doubles))
}

func TestCountSingexMatchesEnumeration(t *testing.T) {
	nOrb, nElec := 4, 4
	symm := allOnesSymm(nOrb)
	det := detbit.HFDeterminant(nOrb, nElec)
	occ := detbit.EnumerateSetBits(det)

	assert.Equal(t, len(SingExSymm(det, occ, symm, nOrb)), CountSingex(det, occ, symm, nOrb))
}

func TestVirtFromIdxMatchesCount(t *testing.T) {
	nOrb, nElec := 6, 4
	symm := allOnesSymm(nOrb)
	det := detbit.HFDeterminant(nOrb, nElec)

	n := CountSingVirt(det, 0, symm, nOrb)
	var seen []uint8
	for k := 0; k < n; k++ {
		seen = append(seen, VirtFromIdx(det, 0, 0, symm, nOrb, k))
	}
	for i := 1; i < len(seen); i++ {
		assert.Less(t, seen[i-1], seen[i])
	}
	for _, v := range seen {
		assert.False(t, detbit.ReadBit(det, int(v)))
	}
}

func TestGenSymmLookup(t *testing.T) {
	symm := []uint8{0, 1, 0, 2}
	tbl := GenSymmLookup(symm, 4)
	assert.Equal(t, 2, tbl[0][0])
	assert.ElementsMatch(t, []int{0, 2}, tbl[0][1:])
	assert.Equal(t, 1, tbl[1][0])
	assert.Equal(t, 1, tbl[2][0])
	assert.Equal(t, 0, tbl[3][0])
}
