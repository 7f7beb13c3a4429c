// Package hamil evaluates diagonal and off-diagonal Hamiltonian matrix
// elements between Slater determinants using Slater-Condon rules on
// frozen-core-renormalized one- and two-electron integrals, per spec.md
// §4.3. Inputs to every exported function use active spatial-orbital
// indices; callers of the tensors themselves must apply the n_frz/2
// offset.
package hamil

// HCore is a symmetric tot_orb x tot_orb one-electron integral matrix.
type HCore struct {
	n    int
	data []float64
}

// NewHCore builds an HCore from row-major data of size n*n.
func NewHCore(n int, data []float64) *HCore {
	return &HCore{n: n, data: data}
}

// At returns h_core(i, j).
func (h *HCore) At(i, j int) float64 {
	return h.data[i*h.n+j]
}

// Eris is a tot_orb^4 two-electron-repulsion-integral tensor in chemists'
// notation (ij|kl), row-major.
type Eris struct {
	n    int
	data []float64
}

// NewEris builds an Eris from row-major data of size n^4.
func NewEris(n int, data []float64) *Eris {
	return &Eris{n: n, data: data}
}

// At returns (ij|kl).
func (e *Eris) At(i, j, k, l int) float64 {
	n := e.n
	return e.data[((i*n+j)*n+k)*n+l]
}

// offset returns the active-index shift applied before indexing h_core/eris:
// frozen-core orbitals are renormalized out, so active spatial orbital 0
// corresponds to tensor index nFrz/2.
func offset(nFrz int) int {
	return nFrz / 2
}

// DoubMatrElNosgn computes the magnitude-correct (unsigned) off-diagonal
// element for a double excitation: (ij|ab) - [same-spin](ij|ba). orbs are
// active spatial orbitals (spin already stripped by the caller, along with
// a same-spin flag).
func DoubMatrElNosgn(eris *Eris, nFrz int, i, j, a, b int, sameSpin bool) float64 {
	o := offset(nFrz)
	val := eris.At(i+o, j+o, a+o, b+o)
	if sameSpin {
		val -= eris.At(i+o, j+o, b+o, a+o)
	}
	return val
}

// SingMatrElNosgn computes the magnitude-correct off-diagonal element for
// a single excitation i -> a: h_core(i,a), plus the closed-shell sum over
// every frozen-core spatial orbital k (raw tensor indices 0..nFrz/2-1) of
// 2(ia|kk) - (ik|ka), plus the same sum over any additional active-space
// core orbitals passed in coreOrbs (for semi-core spaces beyond the
// frozen set), plus the sum over the other occupied orbitals (spin-orbital
// indices, excluding i) of (ia|jj) minus the exchange term (ij|ja) when
// the other electron shares i's spin.
//
// occSpatial lists the *other* occupied spatial orbitals (excluding i),
// each paired with a flag reporting whether that electron shares i's spin.
// coreOrbs holds raw tensor indices of any additional doubly-occupied
// orbitals treated as core beyond the frozen set; pass nil when there are
// none.
func SingMatrElNosgn(hcore *HCore, eris *Eris, nFrz int, i, a int, occSpatial []int, sameSpinOther []bool, coreOrbs []int) float64 {
	o := offset(nFrz)
	val := hcore.At(i+o, a+o)
	for k := 0; k < o; k++ {
		val += 2*eris.At(i+o, a+o, k, k) - eris.At(i+o, k, k, a+o)
	}
	for _, k := range coreOrbs {
		val += 2*eris.At(i+o, a+o, k, k) - eris.At(i+o, k, k, a+o)
	}
	for idx, j := range occSpatial {
		val += eris.At(i+o, a+o, j+o, j+o)
		if sameSpinOther[idx] {
			val -= eris.At(i+o, j+o, j+o, a+o)
		}
	}
	return val
}

// DiagMatrel computes the Hartree-Fock-like diagonal expectation value:
// the frozen-core self-energy (every orbital below nFrz/2 is doubly
// occupied), the cross term between each active occupied orbital and the
// frozen core, and the sum of one-electron energies plus the double sum
// of Coulomb minus (same-spin) exchange two-electron energies over all
// active occupied spatial orbitals, spin reporting each occupied
// orbital's spin.
func DiagMatrel(hcore *HCore, eris *Eris, nFrz int, occSpatial []int, spin []int) float64 {
	o := offset(nFrz)
	var val float64

	for j := 0; j < o; j++ {
		val += 2 * hcore.At(j, j)
		val += eris.At(j, j, j, j)
		for k := j + 1; k < o; k++ {
			val += 4*eris.At(j, j, k, k) - 2*eris.At(j, k, k, j)
		}
	}

	for _, p := range occSpatial {
		val += hcore.At(p+o, p+o)
		for k := 0; k < o; k++ {
			val += 2*eris.At(p+o, p+o, k, k) - eris.At(p+o, k, k, p+o)
		}
	}
	for idxP, p := range occSpatial {
		for idxQ, q := range occSpatial {
			if idxQ <= idxP {
				continue
			}
			val += eris.At(p+o, p+o, q+o, q+o)
			if spin[idxP] == spin[idxQ] {
				val -= eris.At(p+o, q+o, q+o, p+o)
			}
		}
	}
	return val
}

// SplitOccSpatial converts an occupied spin-orbital list (excluding a
// reference spin-orbital ref) into spatial indices plus a same-spin flag
// relative to ref, given nOrb spatial orbitals per spin block.
func SplitOccSpatial(occ []uint8, ref uint8, nOrb int) (spatial []int, sameSpin []bool) {
	refSpin := 0
	if int(ref) >= nOrb {
		refSpin = 1
	}
	for _, o := range occ {
		if o == ref {
			continue
		}
		spin := 0
		sp := int(o)
		if sp >= nOrb {
			spin = 1
			sp -= nOrb
		}
		spatial = append(spatial, sp)
		sameSpin = append(sameSpin, spin == refSpin)
	}
	return spatial, sameSpin
}

// OccSpatialAndSpin splits a full occupied spin-orbital list into spatial
// indices and spins, for DiagMatrel.
func OccSpatialAndSpin(occ []uint8, nOrb int) (spatial []int, spin []int) {
	for _, o := range occ {
		sp := int(o)
		s := 0
		if sp >= nOrb {
			s = 1
			sp -= nOrb
		}
		spatial = append(spatial, sp)
		spin = append(spin, s)
	}
	return spatial, spin
}

// ExcitationElement computes the signed matrix element <det_b|H|det_a> for
// a single or double excitation already resolved into source/target
// determinants: it multiplies the magnitude from DoubMatrElNosgn /
// SingMatrElNosgn by the fermionic sign from detbit.SingDetParity /
// detbit.DoubDetParity.
func ExcitationElement(mag float64, sign int) float64 {
	return mag * float64(sign)
}
