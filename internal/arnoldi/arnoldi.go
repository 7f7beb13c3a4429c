// Package arnoldi implements the subspace/Arnoldi driver of spec.md §4.9:
// parallel evolution of n_trial iterates sharing one index set, overlap
// and Hamiltonian-projection matrices in the trial-vector basis, and
// periodic restart by generalized eigendecomposition or matrix inversion.
// The eig restart follows the diagonalize/transform/recombine idiom of a
// Hartree-Fock orbital orthogonalization step.
package arnoldi

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/dairdre/gofries/internal/compress"
	"github.com/dairdre/gofries/internal/detbit"
	"github.com/dairdre/gofries/internal/distvec"
	"github.com/dairdre/gofries/internal/hamil"
	"github.com/dairdre/gofries/internal/sample"
	"github.com/dairdre/gofries/internal/transport"
	"github.com/op/go-logging"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var log = logging.MustGetLogger("arnoldi")

// Config bundles the subspace driver's run-level constants.
type Config struct {
	NTrial           int
	NFrz             int
	Eps              float64
	RestartInterval  int
	RestartTechnique string // "eig", "h_inv", "r_inv"
	NormTechnique    string // "none", "1-norm", "max-1-norm"
}

// Driver evolves n_trial iterates held as the 2*n_trial value rows of one
// DistVec, alternating a "current" half and a "next" half.
type Driver struct {
	vec    *distvec.DistVec
	hcore  *hamil.HCore
	eris   *hamil.Eris
	nOrb   int
	cfg    Config
	stream sample.Stream
	tr     transport.Transport
	red    compress.Reducer

	trialIdx [][]detbit.Det
	trialVal [][]float64

	curOffset int
	iter      int
}

// New builds a Driver over vec, which must carry 2*cfg.NTrial value rows.
func New(vec *distvec.DistVec, hcore *hamil.HCore, eris *hamil.Eris, nOrb int, stream sample.Stream, tr transport.Transport, cfg Config) *Driver {
	return &Driver{
		vec:    vec,
		hcore:  hcore,
		eris:   eris,
		nOrb:   nOrb,
		cfg:    cfg,
		stream: stream,
		tr:     tr,
		red:    compress.TransportReducer{T: tr},
	}
}

// SetTrialVectors installs the n_trial trial vectors, each already
// collected across every process via distvec.CollectProcs.
func (d *Driver) SetTrialVectors(idx [][]detbit.Det, val [][]float64) {
	d.trialIdx, d.trialVal = idx, val
}

// CurrentColumn returns the value-row index currently holding iterate v.
func (d *Driver) CurrentColumn(v int) int { return d.curOffset + v }

func (d *Driver) otherOffset() int {
	if d.curOffset == 0 {
		return d.cfg.NTrial
	}
	return 0
}

// Step runs one outer iteration (spec §4.9 steps 1-6): normalize, compute
// the overlap matrix, compress each iterate, apply (I - eps*H), compute
// the Hamiltonian-projection matrix, optionally write both to outDir, and
// restart (recombine + swap halves) every restart_int iterations.
func (d *Driver) Step(outDir string, targetNonz int) error {
	d.iter++
	d.normalize()
	overlap := d.overlapMatrix()
	d.compressCurrent(targetNonz)
	d.applyOperator()
	projection := d.hamiltonianProjection()

	if outDir != "" {
		if err := d.writeMatrix(outDir, "d_mat", d.iter, overlap); err != nil {
			return err
		}
		if err := d.writeMatrix(outDir, "b_mat", d.iter, projection); err != nil {
			return err
		}
	}

	if d.cfg.RestartInterval > 0 && d.iter%d.cfg.RestartInterval == 0 {
		x, err := d.restartCoeffs(overlap, projection)
		if err != nil {
			return fmt.Errorf("arnoldi: restart at iter %d: %w", d.iter, err)
		}
		d.recombineAndSwap(x)
		log.Debugf("iter %d: restarted via %s, current half now at offset %d", d.iter, d.cfg.RestartTechnique, d.curOffset)
	}
	return nil
}

func (d *Driver) oneNorm(col int, positions []int) float64 {
	vals := make([]float64, len(positions))
	for i, pos := range positions {
		vals[i] = d.vec.ValueAt(col, pos)
	}
	var local float64
	if len(vals) > 0 {
		local = floats.Norm(vals, 1)
	}
	return d.red.SumAll(local)
}

// normalize implements step 1: per-vector one-norm, max-of-one-norms, or
// no-op normalization of the current half.
func (d *Driver) normalize() {
	if d.cfg.NormTechnique == "" || d.cfg.NormTechnique == "none" {
		return
	}
	positions := d.vec.LivePositions()
	norms := make([]float64, d.cfg.NTrial)
	for v := range norms {
		norms[v] = d.oneNorm(d.curOffset+v, positions)
	}

	switch d.cfg.NormTechnique {
	case "1-norm":
		for v, n := range norms {
			if n == 0 {
				continue
			}
			d.scaleColumn(d.curOffset+v, positions, 1/n)
		}
	case "max-1-norm":
		var maxNorm float64
		for _, n := range norms {
			if n > maxNorm {
				maxNorm = n
			}
		}
		if maxNorm == 0 {
			return
		}
		for v := range norms {
			d.scaleColumn(d.curOffset+v, positions, 1/maxNorm)
		}
	default:
		log.Warningf("unrecognized norm technique %q, skipping normalization", d.cfg.NormTechnique)
	}
}

func (d *Driver) scaleColumn(col int, positions []int, factor float64) {
	for _, pos := range positions {
		d.vec.SetValueAt(col, pos, d.vec.ValueAt(col, pos)*factor)
	}
}

// overlapMatrix implements step 2: D_{t,v} = <trial_t | current_v>.
func (d *Driver) overlapMatrix() *mat.Dense {
	return d.projectOnto(d.curOffset)
}

// hamiltonianProjection implements step 5: B_{t,v} = <trial_t | next_v>.
func (d *Driver) hamiltonianProjection() *mat.Dense {
	return d.projectOnto(d.otherOffset())
}

func (d *Driver) projectOnto(offset int) *mat.Dense {
	nTrial := d.cfg.NTrial
	m := mat.NewDense(nTrial, nTrial, nil)
	for v := 0; v < nTrial; v++ {
		_ = d.vec.SetCurrVecIdx(offset + v)
		for t := 0; t < nTrial; t++ {
			local := d.vec.Dot(d.trialIdx[t], d.trialVal[t])
			m.Set(t, v, d.red.SumAll(local))
		}
	}
	return m
}

// compressCurrent implements step 3: compress.Compress run independently
// on each iterate's column. Unlike the main iteration driver, this never
// deletes a position: a position must stay live for every iterate's
// column, not just the one currently being compressed.
func (d *Driver) compressCurrent(targetNonz int) {
	if targetNonz <= 0 {
		return
	}
	positions := d.vec.LivePositions()
	for v := 0; v < d.cfg.NTrial; v++ {
		col := d.curOffset + v
		values := make([]float64, len(positions))
		for i, pos := range positions {
			values[i] = d.vec.ValueAt(col, pos)
		}
		rn := d.stream.Float64()
		compress.Compress(values, targetNonz, rn, d.tr.Rank(), d.red)
		for i, pos := range positions {
			d.vec.SetValueAt(col, pos, values[i])
		}
	}
}

// applyOperator implements step 4: next_v <- (I - eps*H) * current_v,
// built from one shared matrix of exact pairwise Hamiltonian elements over
// the live index set (off-diagonal application plus in-place diagonal
// scaling, applied together since H already includes its diagonal).
func (d *Driver) applyOperator() {
	positions := d.vec.LivePositions()
	n := len(positions)
	dets := make([]detbit.Det, n)
	for i, pos := range positions {
		dets[i] = d.vec.IndexAt(pos)
	}

	mel := make([][]float64, n)
	for i := range mel {
		mel[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		mel[i][i] = d.matrixElement(dets[i], dets[i])
		for j := i + 1; j < n; j++ {
			v := d.matrixElement(dets[i], dets[j])
			mel[i][j] = v
			mel[j][i] = v
		}
	}

	for v := 0; v < d.cfg.NTrial; v++ {
		curCol := d.curOffset + v
		nextCol := d.otherOffset() + v
		cur := make([]float64, n)
		for i, pos := range positions {
			cur[i] = d.vec.ValueAt(curCol, pos)
		}
		for b := 0; b < n; b++ {
			var acc float64
			for a := 0; a < n; a++ {
				acc += mel[b][a] * cur[a]
			}
			d.vec.SetValueAt(nextCol, positions[b], cur[b]-d.cfg.Eps*acc)
		}
	}
}

// matrixElement computes the exact signed Hamiltonian coupling between two
// arbitrary determinants in the index set, via Slater-Condon rules.
func (d *Driver) matrixElement(a, b detbit.Det) float64 {
	if detbit.Equal(a, b) {
		occ := detbit.EnumerateSetBits(a)
		occSpatial, spin := hamil.OccSpatialAndSpin(occ, d.nOrb)
		return hamil.DiagMatrel(d.hcore, d.eris, d.cfg.NFrz, occSpatial, spin)
	}
	orbs, ok := detbit.FindExcitation(a, b)
	if !ok {
		return 0
	}
	switch len(orbs) {
	case 2:
		occ := detbit.EnumerateSetBits(a)
		occSpatial, sameSpin := hamil.SplitOccSpatial(occ, orbs[0], d.nOrb)
		mag := hamil.SingMatrElNosgn(d.hcore, d.eris, d.cfg.NFrz, spatialIdx(int(orbs[0]), d.nOrb), spatialIdx(int(orbs[1]), d.nOrb), occSpatial, sameSpin, nil)
		sign := detbit.SingDetParity(a.Clone(), [2]uint8{orbs[0], orbs[1]})
		return hamil.ExcitationElement(mag, sign)
	case 4:
		sameSpin := spatialSpin(int(orbs[0]), d.nOrb) == spatialSpin(int(orbs[1]), d.nOrb)
		mag := hamil.DoubMatrElNosgn(d.eris, d.cfg.NFrz, spatialIdx(int(orbs[0]), d.nOrb), spatialIdx(int(orbs[1]), d.nOrb), spatialIdx(int(orbs[2]), d.nOrb), spatialIdx(int(orbs[3]), d.nOrb), sameSpin)
		sign := detbit.DoubDetParity(a.Clone(), [4]uint8{orbs[0], orbs[1], orbs[2], orbs[3]})
		return hamil.ExcitationElement(mag, sign)
	default:
		return 0
	}
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

// restartCoeffs dispatches to the configured restart technique, returning
// the n_trial x n_trial recombination coefficient matrix.
func (d *Driver) restartCoeffs(overlap, projection *mat.Dense) (*mat.Dense, error) {
	switch d.cfg.RestartTechnique {
	case "", "eig":
		return d.restartEig(overlap, projection)
	case "h_inv":
		return restartHInv(projection)
	case "r_inv":
		return restartRInv(projection)
	default:
		return nil, fmt.Errorf("arnoldi: unknown restart technique %q", d.cfg.RestartTechnique)
	}
}

// restartEig solves the generalized eigenproblem B*x = lambda*D*x by an
// orthogonalize/diagonalize/back-transform sequence, as a Hartree-Fock
// solver does for the AO overlap matrix: invert D's symmetric square
// root, diagonalize the resulting similarity transform of B, and
// back-transform its eigenvectors.
func (d *Driver) restartEig(overlap, projection *mat.Dense) (*mat.Dense, error) {
	dSqrtInv, err := symSqrtInv(overlap)
	if err != nil {
		return nil, fmt.Errorf("overlap orthogonalization: %w", err)
	}

	var c mat.Dense
	c.Mul(dSqrtInv, projection)
	c.Mul(&c, dSqrtInv)

	var eig mat.Eigen
	if ok := eig.Factorize(&c, mat.EigenRight); !ok {
		return nil, fmt.Errorf("projected-Hamiltonian eigendecomposition failed")
	}
	vals := eig.Values(nil)
	var vecs mat.CDense
	eig.VectorsTo(&vecs)

	n := len(vals)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return real(vals[order[i]]) > real(vals[order[j]]) })

	y := mat.NewDense(n, n, nil)
	for col, orig := range order {
		for row := 0; row < n; row++ {
			cv := vecs.At(row, orig)
			if math.Abs(imag(cv)) > 1e-6*math.Max(1, math.Abs(real(cv))) {
				log.Warningf("restart eigenvector %d has non-negligible imaginary part %.3g", orig, imag(cv))
			}
			y.Set(row, col, real(cv))
		}
	}

	var x mat.Dense
	x.Mul(dSqrtInv, y)
	return &x, nil
}

func restartHInv(projection *mat.Dense) (*mat.Dense, error) {
	var x mat.Dense
	if err := x.Inverse(projection); err != nil {
		return nil, fmt.Errorf("h_inv restart: %w", err)
	}
	return &x, nil
}

func restartRInv(projection *mat.Dense) (*mat.Dense, error) {
	var qr mat.QR
	qr.Factorize(projection)
	var r mat.Dense
	qr.RTo(&r)
	var x mat.Dense
	if err := x.Inverse(&r); err != nil {
		return nil, fmt.Errorf("r_inv restart: %w", err)
	}
	return &x, nil
}

// symSqrtInv computes S^-1/2 for a (near-)symmetric matrix s via
// eigendecomposition of its symmetrized part: form
// sqrt(S) = V*sqrt(Lambda)*V^-1, then invert it directly.
func symSqrtInv(s *mat.Dense) (*mat.Dense, error) {
	n, _ := s.Dims()
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, 0.5*(s.At(i, j)+s.At(j, i)))
		}
	}

	var eigsym mat.EigenSym
	if ok := eigsym.Factorize(sym, true); !ok {
		return nil, fmt.Errorf("overlap eigendecomposition failed")
	}
	var vectors mat.Dense
	eigsym.VectorsTo(&vectors)
	values := eigsym.Values(nil)

	sqrtVals := make([]float64, n)
	for i, v := range values {
		if v <= 0 {
			return nil, fmt.Errorf("overlap matrix not positive definite (eigenvalue %.3g)", v)
		}
		sqrtVals[i] = math.Sqrt(v)
	}
	diag := mat.NewDiagDense(n, sqrtVals)

	var sqrtS mat.Dense
	sqrtS.Mul(&vectors, diag)
	var vecInv mat.Dense
	if err := vecInv.Inverse(&vectors); err != nil {
		return nil, fmt.Errorf("eigenvector matrix inversion failed: %w", err)
	}
	sqrtS.Mul(&sqrtS, &vecInv)

	var sqrtInv mat.Dense
	if err := sqrtInv.Inverse(&sqrtS); err != nil {
		return nil, fmt.Errorf("S^1/2 inversion failed: %w", err)
	}
	return &sqrtInv, nil
}

// recombineAndSwap implements the tail of step 6: linearly recombine the
// other half's iterates through x, write the result back into that same
// half, and promote it to "current".
func (d *Driver) recombineAndSwap(x *mat.Dense) {
	other := d.otherOffset()
	nTrial := d.cfg.NTrial
	positions := d.vec.LivePositions()

	for _, pos := range positions {
		src := make([]float64, nTrial)
		for v := 0; v < nTrial; v++ {
			src[v] = d.vec.ValueAt(other+v, pos)
		}
		for t := 0; t < nTrial; t++ {
			var sum float64
			for v := 0; v < nTrial; v++ {
				sum += x.At(v, t) * src[v]
			}
			d.vec.SetValueAt(other+t, pos, sum)
		}
	}
	d.curOffset = other
}

// writeMatrix writes m in both a plain comma-separated text form and a
// row-major binary float64 form, matching the naming convention
// "<name>_<samp>.{txt,dat}".
func (d *Driver) writeMatrix(dir, name string, samp int, m *mat.Dense) error {
	n, _ := m.Dims()

	var sb strings.Builder
	for i := 0; i < n; i++ {
		row := make([]string, n)
		for j := 0; j < n; j++ {
			row[j] = strconv.FormatFloat(m.At(i, j), 'g', -1, 64)
		}
		sb.WriteString(strings.Join(row, ","))
		sb.WriteString("\n")
	}
	txtPath := filepath.Join(dir, fmt.Sprintf("%s_%d.txt", name, samp))
	if err := os.WriteFile(txtPath, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("arnoldi: write %s: %w", txtPath, err)
	}

	buf := make([]byte, 0, n*n*8)
	var b [8]byte
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			binary.LittleEndian.PutUint64(b[:], math.Float64bits(m.At(i, j)))
			buf = append(buf, b[:]...)
		}
	}
	datPath := filepath.Join(dir, fmt.Sprintf("%s_%d.dat", name, samp))
	if err := os.WriteFile(datPath, buf, 0644); err != nil {
		return fmt.Errorf("arnoldi: write %s: %w", datPath, err)
	}
	return nil
}
