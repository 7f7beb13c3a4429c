// Package excite enumerates, counts, and indexes the symmetry-allowed
// single and double excitations out of a Slater determinant, following
// spec.md §4.2. It operates on active spatial-orbital indices and an
// Abelian point-group symmetry table of order NIrreps with XOR as the
// group law.
package excite

import (
	"golang.org/x/exp/slices"

	"github.com/dairdre/gofries/internal/detbit"
)

// NIrreps is the number of irreducible representations supported
// (Abelian point groups of order 8).
const NIrreps = 8

// SymmLookup is an n_irreps x (n_orb+1) table: row g starts with the count
// of spatial orbitals carrying irrep g, followed by that many orbital
// indices in ascending order.
type SymmLookup [][]int

// GenSymmLookup builds the lookup table from a per-spatial-orbital irrep
// assignment.
func GenSymmLookup(symm []uint8, nOrb int) SymmLookup {
	tbl := make(SymmLookup, NIrreps)
	for g := range tbl {
		tbl[g] = make([]int, 1, nOrb+1)
	}
	for orb := 0; orb < nOrb; orb++ {
		g := symm[orb]
		tbl[g] = append(tbl[g], orb)
		tbl[g][0]++
	}
	return tbl
}

// Single is a single excitation: occupied orbital i to virtual orbital a
// (spin-orbital indices).
type Single struct {
	IOcc, AVirt uint8
}

// Double is a double excitation i<j (occupied), a<b (virtual), same-spin
// pairs kept on the same side, different-spin pairs with the spin-up
// electron in slot 0.
type Double struct {
	IOcc, JOcc, AVirt, BVirt uint8
}

// SymmVirtCounts[g][s] is the number of unoccupied spatial orbitals of
// irrep g and spin s (0 = up, 1 = down) in a determinant.
type SymmVirtCounts [NIrreps][2]int

// CountSymmVirt computes, for every (irrep, spin) pair, the number of
// unoccupied orbitals of that irrep and spin.
func CountSymmVirt(det detbit.Det, occ []uint8, symm []uint8, nOrb int) SymmVirtCounts {
	var counts SymmVirtCounts
	for g := 0; g < NIrreps; g++ {
		for orb := 0; orb < nOrb; orb++ {
			if int(symm[orb]) != g {
				continue
			}
			if !detbit.ReadBit(det, orb) {
				counts[g][0]++
			}
			if !detbit.ReadBit(det, nOrb+orb) {
				counts[g][1]++
			}
		}
	}
	return counts
}

func spinOf(spinOrb int, nOrb int) int {
	if spinOrb >= nOrb {
		return 1
	}
	return 0
}

func spatialOf(spinOrb int, nOrb int) int {
	if spinOrb >= nOrb {
		return spinOrb - nOrb
	}
	return spinOrb
}

// SingExSymm enumerates every single excitation out of det (given its
// occupied-orbital list occ) that preserves spin and irrep (Gamma_i =
// Gamma_a).
func SingExSymm(det detbit.Det, occ []uint8, symm []uint8, nOrb int) []Single {
	var out []Single
	for _, i := range occ {
		spin := spinOf(int(i), nOrb)
		gi := symm[spatialOf(int(i), nOrb)]
		for a := 0; a < nOrb; a++ {
			if symm[a] != gi {
				continue
			}
			aSpin := spin*nOrb + a
			if detbit.ReadBit(det, aSpin) {
				continue
			}
			out = append(out, Single{IOcc: i, AVirt: uint8(aSpin)})
		}
	}
	return out
}

// CountSingex counts single excitations without materializing them.
func CountSingex(det detbit.Det, occ []uint8, symm []uint8, nOrb int) int {
	n := 0
	for _, i := range occ {
		spin := spinOf(int(i), nOrb)
		gi := symm[spatialOf(int(i), nOrb)]
		for a := 0; a < nOrb; a++ {
			if symm[a] != gi {
				continue
			}
			if !detbit.ReadBit(det, spin*nOrb+a) {
				n++
			}
		}
	}
	return n
}

// DoubExSymm enumerates every double excitation allowed by spin
// conservation (same-spin requires i<j, a<b; different-spin keeps the
// spin-up electron in slot 0) and symmetry (Gamma_i xor Gamma_j xor
// Gamma_a xor Gamma_b == 0).
func DoubExSymm(det detbit.Det, occ []uint8, symm []uint8, nOrb int) []Double {
	var out []Double
	n := len(occ)
	for oi := 0; oi < n; oi++ {
		for oj := oi + 1; oj < n; oj++ {
			i, j := occ[oi], occ[oj]
			si, sj := spinOf(int(i), nOrb), spinOf(int(j), nOrb)
			gi := symm[spatialOf(int(i), nOrb)]
			gj := symm[spatialOf(int(j), nOrb)]
			if si == sj {
				out = append(out, sameSpinDoubles(det, i, j, gi, gj, si, nOrb, symm)...)
			} else {
				// keep spin-up electron (si==0) as the first slot.
				up, down := i, j
				gUp, gDown := gi, gj
				if si == 1 {
					up, down = j, i
					gUp, gDown = gj, gi
				}
				out = append(out, diffSpinDoubles(det, up, down, gUp, gDown, nOrb, symm)...)
			}
		}
	}
	return out
}

func sameSpinDoubles(det detbit.Det, i, j uint8, gi, gj uint8, spin int, nOrb int, symm []uint8) []Double {
	var out []Double
	base := spin * nOrb
	for a := 0; a < nOrb; a++ {
		if detbit.ReadBit(det, base+a) {
			continue
		}
		for b := a + 1; b < nOrb; b++ {
			if detbit.ReadBit(det, base+b) {
				continue
			}
			if symm[a]^symm[b]^gi^gj != 0 {
				continue
			}
			out = append(out, Double{IOcc: i, JOcc: j, AVirt: uint8(base + a), BVirt: uint8(base + b)})
		}
	}
	return out
}

func diffSpinDoubles(det detbit.Det, up, down uint8, gUp, gDown uint8, nOrb int, symm []uint8) []Double {
	var out []Double
	for a := 0; a < nOrb; a++ {
		if detbit.ReadBit(det, a) {
			continue
		}
		for b := 0; b < nOrb; b++ {
			if detbit.ReadBit(det, nOrb+b) {
				continue
			}
			if symm[a]^symm[b]^gUp^gDown != 0 {
				continue
			}
			out = append(out, Double{IOcc: up, JOcc: down, AVirt: uint8(a), BVirt: uint8(nOrb + b)})
		}
	}
	return out
}

// CountSingAllowed returns the number of occupied orbitals sharing a
// symmetry-allowed partner in the factored near-uniform sampler: every
// occupied orbital is eligible (a single can always be attempted, even
// if it later draws zero virtuals).
func CountSingAllowed(occ []uint8) int {
	return len(occ)
}

// CountSingVirt returns the number of unoccupied orbitals of the same
// irrep and spin as occupied orbital occOrb.
func CountSingVirt(det detbit.Det, occOrb uint8, symm []uint8, nOrb int) int {
	spin := spinOf(int(occOrb), nOrb)
	g := symm[spatialOf(int(occOrb), nOrb)]
	n := 0
	base := spin * nOrb
	for a := 0; a < nOrb; a++ {
		if symm[a] == g && !detbit.ReadBit(det, base+a) {
			n++
		}
	}
	return n
}

// SymmPairWt returns the unnormalized weight of sampling an (irrep-pair)
// combination: the product of the numbers of symmetry-allowed virtuals in
// each irrep, used by near-uniform's irrep-pair-by-weight step.
func SymmPairWt(counts SymmVirtCounts, g1, s1, g2, s2 int) float64 {
	return float64(counts[g1][s1]) * float64(counts[g2][s2])
}

// VirtFromIdx returns the k-th (0-based, ascending) virtual spin-orbital
// of irrep g and spin s in det.
func VirtFromIdx(det detbit.Det, g, s int, symm []uint8, nOrb, k int) uint8 {
	base := s * nOrb
	found := 0
	for a := 0; a < nOrb; a++ {
		if int(symm[a]) != g {
			continue
		}
		if detbit.ReadBit(det, base+a) {
			continue
		}
		if found == k {
			return uint8(base + a)
		}
		found++
	}
	return 0
}

// SortedOccupied returns a defensive sorted copy of occ (occupied-orbital
// lists must stay ascending per spec.md's data model).
func SortedOccupied(occ []uint8) []uint8 {
	out := append([]uint8(nil), occ...)
	slices.Sort(out)
	return out
}
