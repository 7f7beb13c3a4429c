// Package driver implements the power/FCIQMC/FRI iteration loop of
// spec.md §4.8: row weighting and hierarchical compression of the
// matrix-vector product, staged adds through an Adder, in-place
// death/clone on the diagonal, a second vector-level compression,
// periodic shift adjustment, trial-vector projection, and checkpointing.
// It also carries the semi-stochastic deterministic subspace: a prefix
// of positions whose Hamiltonian connections are applied exactly every
// iteration, bypassing the stochastic kernel entirely.
package driver

import (
	"math"

	"github.com/dairdre/gofries/internal/compress"
	"github.com/dairdre/gofries/internal/detbit"
	"github.com/dairdre/gofries/internal/distvec"
	"github.com/dairdre/gofries/internal/excite"
	"github.com/dairdre/gofries/internal/hamil"
	"github.com/dairdre/gofries/internal/sample"
	"github.com/dairdre/gofries/internal/transport"
	"github.com/op/go-logging"
	"gonum.org/v1/gonum/floats"
)

var log = logging.MustGetLogger("driver")

// Params bundles the run-level constants the iteration loop needs.
type Params struct {
	NOrb          int
	NFrz          int
	Eps           float64
	TargetNonz    int  // vector-level compression target (spec's target_nonz)
	MatrSamp      int  // matrix-column compression target
	CandPerRow    int  // candidate excitations drawn per row before sub-weighting
	ShiftInterval int
	SaveInterval  int
	Damp          float64
	NDetermine    int // size of the deterministic subspace prefix
}

// DetermConn is one precomputed exact Hamiltonian connection a -> b used
// by the deterministic subspace: applied every iteration outside the
// stochastic kernel.
type DetermConn struct {
	FromPos int
	ToIdx   detbit.Det
	Mel     float64
}

// Driver owns one DistVec and runs the iteration loop over it.
type Driver struct {
	vec    *distvec.DistVec
	hcore  *hamil.HCore
	eris   *hamil.Eris
	symm   []uint8
	stream sample.Stream
	tr     transport.Transport
	red    compress.Reducer

	params Params
	shift  float64
	prevNorm float64
	iter   int

	determ []DetermConn

	trialIdx []detbit.Det
	trialVal []float64
	hTrialIdx []detbit.Det
	hTrialVal []float64
}

// New builds a Driver over vec, using hcore/eris/symm for matrix
// elements, stream for randomness, and tr for the collectives the
// compression kernel and adder need.
func New(vec *distvec.DistVec, hcore *hamil.HCore, eris *hamil.Eris, symm []uint8, stream sample.Stream, tr transport.Transport, params Params) *Driver {
	return &Driver{
		vec:    vec,
		hcore:  hcore,
		eris:   eris,
		symm:   symm,
		stream: stream,
		tr:     tr,
		red:    compress.TransportReducer{T: tr},
		params: params,
	}
}

// SetDeterministicSubspace installs the precomputed exact connections for
// positions below params.NDetermine.
func (d *Driver) SetDeterministicSubspace(conns []DetermConn) { d.determ = conns }

// SetTrialVector installs the vector projected against in step 8, along
// with its precomputed H-times-trial vector (both already collected
// across processes via distvec.CollectProcs).
func (d *Driver) SetTrialVector(idx []detbit.Det, val []float64, hIdx []detbit.Det, hVal []float64) {
	d.trialIdx, d.trialVal = idx, val
	d.hTrialIdx, d.hTrialVal = hIdx, hVal
}

// Shift returns the current energy shift.
func (d *Driver) Shift() float64 { return d.shift }

// SetShift seeds the initial shift, typically -hf_energy at startup.
func (d *Driver) SetShift(s float64) { d.shift = s }

type rowCandidate struct {
	pos     int
	det     detbit.Det
	occ     []uint8
	kind    sample.Kind
	single  excite.Single
	double  excite.Double
	prob    float64
}

// Step runs one full iteration (spec §4.8, steps 1-9) and returns the
// global one-norm of the vector after the second compression, for the
// caller's convergence/shift bookkeeping.
func (d *Driver) Step(checkpointDir string) float64 {
	d.iter++
	d.applyDeterministicSubspace()
	rows, candidates := d.buildHierarchicalRows()
	d.sampleAndStage(rows, candidates)
	d.vec.PerformAdd()
	d.deathClone()
	norm := d.secondCompression()
	if d.params.ShiftInterval > 0 && d.iter%d.params.ShiftInterval == 0 {
		d.adjustShift(norm)
	}
	d.prevNorm = norm
	var projNum, projDen float64
	if len(d.trialIdx) > 0 {
		projNum, projDen = d.project()
		log.Debugf("iter %d: norm=%.6g shift=%.6g projNum=%.6g projDen=%.6g", d.iter, norm, d.shift, projNum, projDen)
	}
	if checkpointDir != "" && d.params.SaveInterval > 0 && d.iter%d.params.SaveInterval == 0 {
		if err := d.vec.Save(checkpointDir); err != nil {
			log.Errorf("checkpoint at iter %d failed: %v", d.iter, err)
		}
	}
	return norm
}

// applyDeterministicSubspace applies every precomputed exact connection
// from the deterministic prefix directly, outside the stochastic kernel.
func (d *Driver) applyDeterministicSubspace() {
	if len(d.determ) == 0 {
		return
	}
	for _, c := range d.determ {
		rowWeight := d.vec.ValueAt(0, c.FromPos)
		if rowWeight == 0 {
			continue
		}
		if _, err := d.vec.Add(c.ToIdx, d.params.Eps*c.Mel*rowWeight, true); err != nil {
			log.Fatalf("deterministic subspace add overflowed the adder: %v", err)
		}
	}
}

// buildHierarchicalRows implements step 1: for each live stochastic
// position it draws a bounded candidate set of excitations via the
// near-uniform sampler and turns their exact proposal probabilities into
// a normalized sub-weight vector for the factored compression.
func (d *Driver) buildHierarchicalRows() ([]compress.SubWeighted, [][]rowCandidate) {
	n := d.vec.CurrSize()
	var rows []compress.SubWeighted
	var candidates [][]rowCandidate

	for pos := d.params.NDetermine; pos < n; pos++ {
		w := d.vec.ValueAt(0, pos)
		if w == 0 {
			continue
		}
		det := d.vec.IndexAt(pos)
		occ := d.vec.OccOrbsAt(pos)
		draws := sample.NearUniform(det, occ, d.symm, d.params.NOrb, d.params.CandPerRow, d.stream)
		if len(draws) == 0 {
			continue
		}

		cand := make([]rowCandidate, 0, len(draws))
		subwt := make([]float64, 0, len(draws))
		var probSum float64
		for _, dr := range draws {
			if dr.Prob <= 0 {
				continue
			}
			cand = append(cand, rowCandidate{pos: pos, det: det, occ: occ, kind: dr.Kind, single: dr.Single, double: dr.Double, prob: dr.Prob})
			subwt = append(subwt, dr.Prob)
			probSum += dr.Prob
		}
		if len(cand) == 0 || probSum <= 0 {
			continue
		}
		for i := range subwt {
			subwt[i] /= probSum
		}
		rows = append(rows, compress.SubWeighted{Value: math.Abs(w), SubWt: subwt})
		candidates = append(candidates, cand)
	}
	return rows, candidates
}

// sampleAndStage implements steps 2-4: compress the hierarchical rows
// down to matr_samp surviving (position, excitation) draws, evaluate the
// signed matrix element for each, and stage the resulting spawn.
func (d *Driver) sampleAndStage(rows []compress.SubWeighted, candidates [][]rowCandidate) {
	if len(rows) == 0 {
		return
	}
	keep := make(compress.KeptSub, len(rows))
	for i, r := range rows {
		keep[i] = make([]bool, len(r.SubWt))
	}
	rn := d.stream.Float64()
	draws := compress.CompSub(rows, keep, d.params.MatrSamp, rn, d.tr.Rank(), d.red)

	for _, dr := range draws {
		cand := candidates[dr.Row][dr.Sub]
		target, mel, sign, ok := d.resolveExcitation(cand)
		if !ok || mel == 0 {
			continue
		}
		pProposal := rows[dr.Row].SubWt[dr.Sub]
		if pProposal <= 0 {
			continue
		}
		rowSign := 1.0
		if d.vec.ValueAt(0, cand.pos) < 0 {
			rowSign = -1.0
		}
		signedMel := hamil.ExcitationElement(mel, sign)
		spawn := d.params.Eps * signedMel * dr.Value / pProposal * rowSign
		if _, err := d.vec.Add(target, spawn, true); err != nil {
			log.Fatalf("spawn add overflowed the adder: %v", err)
		}
	}
}

// resolveExcitation computes the target determinant, the unsigned matrix
// element magnitude, and the fermionic sign for one sampled excitation.
func (d *Driver) resolveExcitation(c rowCandidate) (target detbit.Det, mel float64, sign int, ok bool) {
	nOrb := d.params.NOrb
	target = c.det.Clone()
	switch c.kind {
	case sample.KindSingle:
		i := int(c.single.IOcc)
		a := int(c.single.AVirt)
		iSp, aSp := spatialIdx(i, nOrb), spatialIdx(a, nOrb)
		occSpatial, sameSpin := hamil.SplitOccSpatial(c.occ, c.single.IOcc, nOrb)
		mag := hamil.SingMatrElNosgn(d.hcore, d.eris, d.params.NFrz, iSp, aSp, occSpatial, sameSpin, nil)
		sign = detbit.SingDetParity(target, [2]uint8{c.single.IOcc, c.single.AVirt})
		return target, mag, sign, true
	case sample.KindDouble:
		i, j := int(c.double.IOcc), int(c.double.JOcc)
		a, b := int(c.double.AVirt), int(c.double.BVirt)
		sameSpin := spatialSpin(i, nOrb) == spatialSpin(j, nOrb)
		mag := hamil.DoubMatrElNosgn(d.eris, d.params.NFrz, spatialIdx(i, nOrb), spatialIdx(j, nOrb), spatialIdx(a, nOrb), spatialIdx(b, nOrb), sameSpin)
		sign = detbit.DoubDetParity(target, [4]uint8{c.double.IOcc, c.double.JOcc, c.double.AVirt, c.double.BVirt})
		return target, mag, sign, true
	}
	return nil, 0, 0, false
}

func spatialIdx(spinOrb, nOrb int) int {
	if spinOrb >= nOrb {
		return spinOrb - nOrb
	}
	return spinOrb
}

func spatialSpin(spinOrb, nOrb int) int {
	if spinOrb >= nOrb {
		return 1
	}
	return 0
}

// deathClone implements step 5: scale every live stochastic position's
// value by 1 - eps*(H_aa - shift), computing and caching the diagonal
// element on first use. Never deletes in this phase.
func (d *Driver) deathClone() {
	n := d.vec.CurrSize()
	for pos := d.params.NDetermine; pos < n; pos++ {
		w := d.vec.ValueAt(0, pos)
		if w == 0 {
			continue
		}
		diag, computed := d.vec.DiagAt(pos)
		if !computed {
			occ := d.vec.OccOrbsAt(pos)
			occSpatial, spin := hamil.OccSpatialAndSpin(occ, d.params.NOrb)
			diag = hamil.DiagMatrel(d.hcore, d.eris, d.params.NFrz, occSpatial, spin)
			d.vec.SetDiagAt(pos, diag)
		}
		d.vec.SetValueAt(0, pos, w*(1-d.params.Eps*(diag-d.shift)))
	}
}

// secondCompression implements step 6: find_preserve + sys_comp over the
// full stochastic value vector (the deterministic prefix's norm is added
// back in afterward), returning the resulting global one-norm.
func (d *Driver) secondCompression() float64 {
	n := d.vec.CurrSize()
	determNorm := 0.0
	for pos := 0; pos < d.params.NDetermine && pos < n; pos++ {
		determNorm += math.Abs(d.vec.ValueAt(0, pos))
	}

	values := make([]float64, 0, n)
	positions := make([]int, 0, n)
	for pos := d.params.NDetermine; pos < n; pos++ {
		v := d.vec.ValueAt(0, pos)
		if v != 0 {
			values = append(values, v)
			positions = append(positions, pos)
		}
	}

	rn := d.stream.Float64()
	keep, _ := compress.Compress(values, d.params.TargetNonz, rn, d.tr.Rank(), d.red)
	for i, pos := range positions {
		d.vec.SetValueAt(0, pos, values[i])
		if values[i] == 0 && !keep[i] {
			d.vec.DelAtPos(pos)
		}
	}

	localNorm := determNorm
	if len(values) > 0 {
		localNorm += floats.Norm(values, 1)
	}
	return d.red.SumAll(localNorm)
}

// adjustShift implements step 7: the log-ratio shift update run every
// shift_interval iterations.
func (d *Driver) adjustShift(norm float64) {
	if d.prevNorm <= 0 || norm <= 0 {
		return
	}
	dt := d.params.Eps
	interval := float64(d.params.ShiftInterval)
	d.shift -= (d.params.Damp / (dt * interval)) * math.Log(norm/d.prevNorm)
}

// project implements step 8: <trial | v> and <H*trial | v> via local dot
// plus an all-reduce to rank 0's view.
func (d *Driver) project() (num, den float64) {
	_ = d.vec.SetCurrVecIdx(0)
	localNum := d.vec.Dot(d.hTrialIdx, d.hTrialVal)
	localDen := d.vec.Dot(d.trialIdx, d.trialVal)
	num = d.red.SumAll(localNum)
	den = d.red.SumAll(localDen)
	return num, den
}
