package arnoldi

import (
	"math"
	"testing"

	"github.com/dairdre/gofries/internal/detbit"
	"github.com/dairdre/gofries/internal/distvec"
	"github.com/dairdre/gofries/internal/hamil"
	"github.com/dairdre/gofries/internal/sample"
	"github.com/dairdre/gofries/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func eyeDense(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1.0)
	}
	return m
}

// fourDetSystem builds a 3-orbital, 2-electron system with every h_core
// entry -1 and every eris entry 0.1, and three determinants: the HF
// reference and its two single excitations from spatial orbital 0 to 2
// (one per spin block). H also connects these to determinants outside the
// set; the driver only couples determinants already in its index set.
func fourDetSystem(t *testing.T) (*hamil.HCore, *hamil.Eris, []detbit.Det) {
	t.Helper()
	nOrb := 3
	h := make([]float64, nOrb*nOrb)
	for i := range h {
		h[i] = -1.0
	}
	e := make([]float64, nOrb*nOrb*nOrb*nOrb)
	for i := range e {
		e[i] = 0.1
	}
	hcore := hamil.NewHCore(nOrb, h)
	eris := hamil.NewEris(nOrb, e)

	hf := detbit.HFDeterminant(nOrb, 2)
	d1 := hf.Clone()
	detbit.ClearBit(d1, 0)
	detbit.SetBit(d1, 2)
	d2 := hf.Clone()
	detbit.ClearBit(d2, nOrb)
	detbit.SetBit(d2, nOrb+2)

	return hcore, eris, []detbit.Det{hf, d1, d2}
}

func newTestDriver(t *testing.T, nTrial int) (*Driver, *distvec.DistVec, []detbit.Det) {
	t.Helper()
	hcore, eris, dets := fourDetSystem(t)
	nOrb := 3

	cfg := distvec.Config{
		NOrb:           nOrb,
		NVecs:          2 * nTrial,
		InitCapacity:   8,
		MinDelIdx:      0,
		ProcScrambler:  distvec.NewScrambler(2*nOrb, 3),
		LocalScrambler: distvec.NewScrambler(2*nOrb, 5),
		AdderCap:       256,
	}
	vec := distvec.New(cfg, transport.LocalTransport{})

	for v := 0; v < nTrial; v++ {
		require.NoError(t, vec.SetCurrVecIdx(v))
		_, err := vec.Add(dets[v], 1.0, true)
		require.NoError(t, err)
		vec.PerformAdd()
	}
	require.NoError(t, vec.SetCurrVecIdx(0))

	acfg := Config{
		NTrial:           nTrial,
		NFrz:             0,
		Eps:              0.01,
		RestartInterval:  0,
		RestartTechnique: "eig",
		NormTechnique:    "none",
	}
	d := New(vec, hcore, eris, nOrb, sample.NewDefaultStream(7), transport.LocalTransport{}, acfg)
	return d, vec, dets
}

func seedIdentityTrial(t *testing.T, d *Driver, dets []detbit.Det, nTrial int) {
	t.Helper()
	idx := make([][]detbit.Det, nTrial)
	val := make([][]float64, nTrial)
	for v := 0; v < nTrial; v++ {
		idx[v] = []detbit.Det{dets[v]}
		val[v] = []float64{1.0}
	}
	d.SetTrialVectors(idx, val)
}

func TestOverlapMatrixIsIdentityForOrthonormalSeed(t *testing.T) {
	d, _, dets := newTestDriver(t, 3)
	seedIdentityTrial(t, d, dets, 3)

	overlap := d.overlapMatrix()
	n, _ := overlap.Dims()
	require.Equal(t, 3, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			assert.InDelta(t, want, overlap.At(i, j), 1e-9)
		}
	}
}

func TestApplyOperatorWritesFiniteNextHalf(t *testing.T) {
	d, vec, dets := newTestDriver(t, 2)
	seedIdentityTrial(t, d, dets, 2)
	d.applyOperator()

	next0 := make([]float64, 3)
	next1 := make([]float64, 3)
	for pos := 0; pos < vec.CurrSize(); pos++ {
		next0[pos] = vec.ValueAt(d.otherOffset()+0, pos)
		next1[pos] = vec.ValueAt(d.otherOffset()+1, pos)
	}
	assert.False(t, math.IsNaN(next0[0]))
	assert.False(t, math.IsNaN(next1[0]))
	assert.NotEqual(t, 0.0, next0[0])
}

func TestStepRunsWithoutError(t *testing.T) {
	d, _, dets := newTestDriver(t, 3)
	seedIdentityTrial(t, d, dets, 3)

	for i := 0; i < 3; i++ {
		err := d.Step("", 0)
		require.NoError(t, err)
	}
}

func TestRestartEigRecombinesAndSwapsHalves(t *testing.T) {
	d, _, dets := newTestDriver(t, 3)
	seedIdentityTrial(t, d, dets, 3)
	d.cfg.RestartInterval = 1

	before := d.curOffset
	err := d.Step("", 0)
	require.NoError(t, err)
	assert.NotEqual(t, before, d.curOffset)
}

func TestRestartHInvProducesFiniteCoefficients(t *testing.T) {
	d, _, dets := newTestDriver(t, 2)
	seedIdentityTrial(t, d, dets, 2)
	overlap := d.overlapMatrix()
	d.applyOperator()
	projection := d.hamiltonianProjection()

	x, err := restartHInv(projection)
	require.NoError(t, err)
	n, _ := x.Dims()
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			assert.False(t, math.IsNaN(x.At(i, j)))
		}
	}
	_ = overlap
}

func TestSymSqrtInvOnIdentityIsIdentity(t *testing.T) {
	overlap := eyeDense(3)
	inv, err := symSqrtInv(overlap)
	require.NoError(t, err)
	n, _ := inv.Dims()
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			assert.InDelta(t, want, inv.At(i, j), 1e-9)
		}
	}
}

func TestMatrixElementDiagonalMatchesDiagMatrel(t *testing.T) {
	d, _, dets := newTestDriver(t, 1)
	occ := detbit.EnumerateSetBits(dets[0])
	occSpatial, spin := hamil.OccSpatialAndSpin(occ, 3)
	want := hamil.DiagMatrel(d.hcore, d.eris, 0, occSpatial, spin)
	got := d.matrixElement(dets[0], dets[0])
	assert.InDelta(t, want, got, 1e-12)
}
