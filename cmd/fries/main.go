// Command fries runs the FRI/FCIQMC stochastic eigensolver: it reads a
// Hartree-Fock integral set and either drives the plain power-method
// iteration loop or, when trial vectors span an Arnoldi subspace, the
// restarted subspace driver, appending per-iteration diagnostics to the
// result directory until max_iter is reached.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dairdre/gofries/internal/arnoldi"
	"github.com/dairdre/gofries/internal/config"
	"github.com/dairdre/gofries/internal/detbit"
	"github.com/dairdre/gofries/internal/distvec"
	"github.com/dairdre/gofries/internal/driver"
	"github.com/dairdre/gofries/internal/hamil"
	"github.com/dairdre/gofries/internal/logging"
	"github.com/dairdre/gofries/internal/sample"
	"github.com/dairdre/gofries/internal/transport"
	flags "github.com/jessevdk/go-flags"
	golog "github.com/op/go-logging"
)

var log = golog.MustGetLogger("main")

func appBanner() {
	fmt.Println(`
   __      _
  / _|_ __(_) ___  ___
 | |_| '__| |/ _ \/ __|
 |  _| |  | |  __/\__ \
 |_| |_|  |_|\___||___/

 A distributed FRI/FCIQMC eigensolver.`)
}

func main() {
	var opts config.Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(1)
	}

	closer, err := logging.Setup(opts.LogLevel, opts.LogFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer closer()

	appBanner()

	if opts.ResultDir != "" {
		if err := os.MkdirAll(opts.ResultDir, 0755); err != nil {
			log.Fatalf("creating result dir: %v", err)
		}
	}

	sp, err := config.ReadSysParams(filepath.Join(opts.HFPath, "sys_params.txt"))
	if err != nil {
		log.Fatalf("reading sys_params.txt: %v", err)
	}
	symm, err := config.ReadSymm(filepath.Join(opts.HFPath, "symm.txt"))
	if err != nil {
		log.Fatalf("reading symm.txt: %v", err)
	}
	totOrb := sp.NOrb + sp.NFrozen/2
	hcore, err := config.ReadHCore(filepath.Join(opts.HFPath, "hcore.txt"), totOrb)
	if err != nil {
		log.Fatalf("reading hcore.txt: %v", err)
	}
	eris, err := config.ReadEris(filepath.Join(opts.HFPath, "eris.txt"), totOrb)
	if err != nil {
		log.Fatalf("reading eris.txt: %v", err)
	}

	tr := transport.LocalTransport{}
	seed := opts.Seed
	if seed == 0 {
		seed = 1
	}
	scramLen := 2 * sp.NOrb
	procScrambler := distvec.NewScrambler(scramLen, seed)
	localScrambler := distvec.NewScrambler(scramLen, seed+1+uint64(tr.Rank()))

	nVecs := opts.NVecs
	if opts.NTrial > 0 {
		nVecs = 2 * opts.NTrial
	}
	if nVecs < 1 {
		nVecs = 1
	}
	vec := distvec.New(distvec.Config{
		NOrb:           sp.NOrb,
		NVecs:          nVecs,
		InitCapacity:   1024,
		MinDelIdx:      opts.NDetermine,
		ProcScrambler:  procScrambler,
		LocalScrambler: localScrambler,
		AdderCap:       4096,
	}, tr)

	if opts.LoadDir != "" {
		if err := vec.Load(opts.LoadDir); err != nil {
			log.Fatalf("loading from %s: %v", opts.LoadDir, err)
		}
		log.Infof("restarted from %s: %d live determinants", opts.LoadDir, vec.NNonzero())
	} else {
		hf := detbit.HFDeterminant(sp.NOrb, sp.NElec)
		if _, err := vec.Add(hf, 1.0, true); err != nil {
			log.Fatalf("seeding HF determinant: %v", err)
		}
		vec.PerformAdd()
	}

	stream := sample.NewDefaultStream(seed)

	if opts.NTrial > 0 {
		runArnoldi(vec, hcore, eris, sp, opts, stream, tr)
		return
	}
	runIteration(vec, hcore, eris, sp, symm, opts, stream, tr)
}

func runIteration(vec *distvec.DistVec, hcore *hamil.HCore, eris *hamil.Eris, sp *config.SysParams, symm []uint8, opts config.Options, stream sample.Stream, tr transport.Transport) {
	params := driver.Params{
		NOrb:          sp.NOrb,
		NFrz:          sp.NFrozen,
		Eps:           sp.Eps,
		TargetNonz:    opts.VecNonz,
		MatrSamp:      opts.MatNonz,
		CandPerRow:    opts.CandPerRow,
		ShiftInterval: opts.ShiftInterval,
		SaveInterval:  opts.SaveInterval,
		Damp:          opts.Damp,
		NDetermine:    opts.NDetermine,
	}
	d := driver.New(vec, hcore, eris, symm, stream, tr, params)
	d.SetShift(-sp.HFEnergy)

	if opts.IniVec != "" {
		tv, err := config.ReadTrialVector(opts.IniVec)
		if err != nil {
			log.Fatalf("reading trial vector: %v", err)
		}
		trialIdx, trialVal := decodeTrialVector(tv, sp.NOrb)
		hIdx, hVal := applyExactHamiltonian(hcore, eris, sp.NFrozen, sp.NOrb, trialIdx, trialVal)
		d.SetTrialVector(trialIdx, trialVal, hIdx, hVal)
	}

	normFile, err := newAppendWriter(opts.ResultDir, "norm.txt")
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer normFile.Close()
	nonzFile, err := newAppendWriter(opts.ResultDir, "nonz.txt")
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer nonzFile.Close()

	for i := 0; i < opts.MaxIter; i++ {
		norm := d.Step(opts.ResultDir)
		fmt.Fprintf(normFile, "%.10g\n", norm)
		fmt.Fprintf(nonzFile, "%d\n", vec.NNonzero())
		if opts.ShiftInterval > 0 && (i+1)%opts.ShiftInterval == 0 {
			log.Infof("iter %d: norm=%.6g shift=%.6g nonz=%d", i+1, norm, d.Shift(), vec.NNonzero())
		}
	}
	log.Infof("completed %d iterations, final shift=%.6g", opts.MaxIter, d.Shift())
}

func runArnoldi(vec *distvec.DistVec, hcore *hamil.HCore, eris *hamil.Eris, sp *config.SysParams, opts config.Options, stream sample.Stream, tr transport.Transport) {
	cfg := arnoldi.Config{
		NTrial:           opts.NTrial,
		NFrz:             sp.NFrozen,
		Eps:              sp.Eps,
		RestartInterval:  opts.RestartInterval,
		RestartTechnique: opts.RestartTechnique,
		NormTechnique:    opts.NormTechnique,
	}
	d := arnoldi.New(vec, hcore, eris, sp.NOrb, stream, tr, cfg)

	if opts.IniVec == "" {
		log.Fatalf("arnoldi mode requires -n/--ini-vec trial vectors")
	}
	tv, err := config.ReadTrialVector(opts.IniVec)
	if err != nil {
		log.Fatalf("reading trial vector: %v", err)
	}
	idx, val := decodeTrialVector(tv, sp.NOrb)
	trialIdx := make([][]detbit.Det, opts.NTrial)
	trialVal := make([][]float64, opts.NTrial)
	for t := range trialIdx {
		trialIdx[t] = idx
		trialVal[t] = val
	}
	d.SetTrialVectors(trialIdx, trialVal)

	for i := 0; i < opts.MaxIter; i++ {
		if err := d.Step(opts.ResultDir, opts.VecNonz); err != nil {
			log.Fatalf("arnoldi step %d: %v", i+1, err)
		}
	}
	log.Infof("completed %d Arnoldi iterations", opts.MaxIter)
}

func decodeTrialVector(tv *config.TrialVector, nOrb int) ([]detbit.Det, []float64) {
	idx := make([]detbit.Det, len(tv.Dets))
	for i, bits := range tv.Dets {
		idx[i] = detbit.FromUint64(nOrb, bits)
	}
	return idx, tv.Vals
}

func newAppendWriter(dir, name string) (*os.File, error) {
	if dir == "" {
		dir = "."
	}
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	return f, nil
}

// applyExactHamiltonian materializes H*trial for the projection step,
// exactly, since the trial vector is small relative to the full basis.
func applyExactHamiltonian(hcore *hamil.HCore, eris *hamil.Eris, nFrz, nOrb int, idx []detbit.Det, val []float64) ([]detbit.Det, []float64) {
	out := make(map[string]float64, len(idx))
	order := make([]detbit.Det, 0, len(idx))
	add := func(d detbit.Det, v float64) {
		key := string(d)
		if _, ok := out[key]; !ok {
			order = append(order, d)
		}
		out[key] += v
	}
	for i, a := range idx {
		occ := detbit.EnumerateSetBits(a)
		occSpatial, spin := hamil.OccSpatialAndSpin(occ, nOrb)
		diag := hamil.DiagMatrel(hcore, eris, nFrz, occSpatial, spin)
		add(a, diag*val[i])
		for j, b := range idx {
			if i == j {
				continue
			}
			orbs, ok := detbit.FindExcitation(a, b)
			if !ok {
				continue
			}
			var mel float64
			switch len(orbs) {
			case 2:
				occSpatial, sameSpin := hamil.SplitOccSpatial(occ, orbs[0], nOrb)
				mag := hamil.SingMatrElNosgn(hcore, eris, nFrz, spatialIndex(int(orbs[0]), nOrb), spatialIndex(int(orbs[1]), nOrb), occSpatial, sameSpin, nil)
				sign := detbit.SingDetParity(a.Clone(), [2]uint8{orbs[0], orbs[1]})
				mel = hamil.ExcitationElement(mag, sign)
			case 4:
				sameSpin := spatialSpinOf(int(orbs[0]), nOrb) == spatialSpinOf(int(orbs[1]), nOrb)
				mag := hamil.DoubMatrElNosgn(eris, nFrz, spatialIndex(int(orbs[0]), nOrb), spatialIndex(int(orbs[1]), nOrb), spatialIndex(int(orbs[2]), nOrb), spatialIndex(int(orbs[3]), nOrb), sameSpin)
				sign := detbit.DoubDetParity(a.Clone(), [4]uint8{orbs[0], orbs[1], orbs[2], orbs[3]})
				mel = hamil.ExcitationElement(mag, sign)
			default:
				continue
			}
			add(b, mel*val[i])
		}
	}
	outVal := make([]float64, len(order))
	for i, d := range order {
		outVal[i] = out[string(d)]
	}
	return order, outVal
}

func spatialIndex(spinOrb, nOrb int) int {
	if spinOrb >= nOrb {
		return spinOrb - nOrb
	}
	return spinOrb
}

func spatialSpinOf(spinOrb, nOrb int) int {
	if spinOrb >= nOrb {
		return 1
	}
	return 0
}
