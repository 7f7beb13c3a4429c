// Package compress implements the stochastic compression kernel of
// spec.md §4.7: keep-above-threshold preservation followed by
// low-variance systematic resampling, its factored ("sub-weight") variant
// used when a row's sampling probability is itself a chain of conditional
// factors, and Walker's alias method for O(1) categorical draws from the
// heat-bath proposal distributions (spec §4.4/§4.7).
//
// All cross-process reductions go through a compress.Reducer, which in
// production is backed by an internal/transport.Transport (spec §4.6/§5);
// tests use a single-process reducer.
package compress

import (
	"container/heap"
	"math"
)

// Reducer performs the two collectives find_preserve/sys_comp need:
// summing a scalar across every process, and broadcasting rank 0's random
// draw. A single-process Reducer is the identity on both.
type Reducer interface {
	SumAll(local float64) float64
	SumAllInt(local int) int
	Broadcast(rn float64) float64
	AllGather(local float64) []float64
}

// LocalReducer is the single-process Reducer used by tests and by
// single-rank runs.
type LocalReducer struct{}

func (LocalReducer) SumAll(local float64) float64   { return local }
func (LocalReducer) SumAllInt(local int) int        { return local }
func (LocalReducer) Broadcast(rn float64) float64   { return rn }
func (LocalReducer) AllGather(local float64) []float64 { return []float64{local} }

// magHeap is a max-heap over |values[idx]| keyed by index into values.
type magHeap struct {
	idx    []int
	values []float64
}

func (h magHeap) Len() int { return len(h.idx) }
func (h magHeap) Less(i, j int) bool {
	return math.Abs(h.values[h.idx[i]]) > math.Abs(h.values[h.idx[j]])
}
func (h magHeap) Swap(i, j int) { h.idx[i], h.idx[j] = h.idx[j], h.idx[i] }
func (h *magHeap) Push(x any)   { h.idx = append(h.idx, x.(int)) }
func (h *magHeap) Pop() any {
	old := h.idx
	n := len(old)
	v := old[n-1]
	h.idx = old[:n-1]
	return v
}

// FindPreserve implements find_preserve: it greedily pulls the
// largest-magnitude elements off a max-heap and marks them "kept exactly"
// as long as |v| >= (running global one-norm) / (n_target - n_kept so
// far), synchronizing the one-norm across processes (via red) on every
// pass since the threshold depends on it. It returns the kept mask, the
// residual one-norm of un-kept elements, and mutates nTarget down to the
// number of stochastic draws still owed.
func FindPreserve(values []float64, nTarget *int, red Reducer) (keep []bool, residualNorm float64) {
	count := len(values)
	keep = make([]bool, count)
	localNorm := 0.0
	for _, v := range values {
		localNorm += math.Abs(v)
	}

	h := &magHeap{idx: make([]int, 0, count), values: values}
	for i, v := range values {
		if v != 0 {
			h.idx = append(h.idx, i)
		}
	}
	heap.Init(h)

	globSampled := 1
	for globSampled > 0 {
		globNorm := red.SumAll(localNorm)
		locSampled := 0
		keepGoing := true
		for keepGoing && h.Len() > 0 {
			maxIdx := h.idx[0]
			magn := math.Abs(values[maxIdx])
			if *nTarget-locSampled <= 0 {
				keepGoing = false
				break
			}
			if magn >= globNorm/float64(*nTarget-locSampled) {
				keep[maxIdx] = true
				locSampled++
				localNorm -= magn
				globNorm -= magn
				heap.Pop(h)
			} else {
				keepGoing = false
			}
		}
		globSampled = red.SumAllInt(locSampled)
		*nTarget -= globSampled
	}

	localNorm = 0
	for i, v := range values {
		if !keep[i] {
			localNorm += math.Abs(v)
		}
	}
	globNorm := red.SumAll(localNorm)
	if globNorm < 1e-9 {
		*nTarget = 0
	}
	return keep, localNorm
}

// SeedSys adjusts the broadcast random number rn (in [0,1)) into this
// process' slab of the global one-norm, per spec §4.7's systematic
// resampling scheme: norms lists every process' un-kept one-norm (this
// process' slot is norms[rank]).
func SeedSys(norms []float64, rank int, rn float64, nSamp int) (rnAdjusted, lbound float64) {
	for p := 0; p < rank; p++ {
		lbound += norms[p]
	}
	globalNorm := lbound
	for p := rank; p < len(norms); p++ {
		globalNorm += norms[p]
	}
	step := globalNorm / float64(nSamp)
	rn = rn*step + step*math.Floor(lbound*float64(nSamp)/globalNorm)
	if rn < lbound {
		rn += step
	}
	return rn, lbound
}

// SysComp performs classical systematic (low-variance) resampling on the
// un-kept elements of values in place: elements already marked in
// keepExact are passed through unchanged; surviving un-kept elements are
// zeroed or promoted to +/-(globalNorm/nSamp) as a single broadcast random
// number rn (already in [0,1), to be scaled internally) walks the local
// prefix sum. locNorms holds this process' slot of the un-kept one-norm
// per process (as produced by FindPreserve) and is updated in place to the
// post-resampling one-norm contributed by this process.
func SysComp(values []float64, keepExact []bool, locNorms []float64, rank int, nSamp int, rn float64, red Reducer) {
	rn = red.Broadcast(rn)

	globalNorm := 0.0
	for _, n := range locNorms {
		globalNorm += n
	}

	var lbound float64
	if nSamp > 0 {
		rn, lbound = SeedSys(locNorms, rank, rn, nSamp)
	} else {
		lbound = 0
		rn = math.Inf(1)
	}

	locNorms[rank] = 0
	step := globalNorm / float64(max(nSamp, 1))
	for i, v := range values {
		if keepExact[i] {
			locNorms[rank] += math.Abs(v)
			keepExact[i] = false
			continue
		}
		if v == 0 {
			continue
		}
		lbound += math.Abs(v)
		if rn < lbound {
			sign := 1.0
			if v < 0 {
				sign = -1.0
			}
			values[i] = step * sign
			locNorms[rank] += step
			rn += step
		} else {
			values[i] = 0
			keepExact[i] = false
		}
	}
}

// Compress composes FindPreserve and SysComp into one full compression
// pass over values (mutated in place), returning the mask of elements
// preserved exactly and nTarget minus the number of draws left to the
// systematic resampling after preservation.
func Compress(values []float64, nTarget int, rnSys float64, rank int, red Reducer) (keep []bool, used int) {
	target := nTarget
	keep, _ = FindPreserve(values, &target, red)
	kept := append([]bool(nil), keep...)
	locNorms := red.AllGather(residualNorm(values, keep))
	SysComp(values, keep, locNorms, rank, target, rnSys, red)
	return kept, nTarget - target
}

func residualNorm(values []float64, keep []bool) float64 {
	var n float64
	for i, v := range values {
		if !keep[i] {
			n += math.Abs(v)
		}
	}
	return n
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// SubWeighted describes one row of the factored compression: either a
// uniform divisor NDiv (no sub-weights) or a normalized/unnormalized
// SubWt vector. Exactly one of NDiv>0 or len(SubWt)>0 should hold.
type SubWeighted struct {
	Value float64
	NDiv  int
	SubWt []float64
}

// KeptSub marks, per row, whether the whole row (sub-index 0 when NDiv>0)
// or an individual sub-weight entry has already been preserved exactly.
type KeptSub [][]bool

// FindKeepSub implements find_keep_sub: it greedily keeps whole rows (when
// NDiv>0) or individual sub-weight entries whose magnitude already exceeds
// the dynamic preservation threshold, running a second "last pass" once a
// round preserves nothing new but residual weight remains, mirroring the
// original engine's last_pass bookkeeping exactly.
func FindKeepSub(rows []SubWeighted, keep KeptSub, nSamp *int, red Reducer) (wtRemain []float64, localNorm float64) {
	count := len(rows)
	wtRemain = make([]float64, count)
	localNorm = 0
	for i, r := range rows {
		localNorm += r.Value
		wtRemain[i] = r.Value
	}

	globSampled := 1
	lastPass := false
	for globSampled > 0 {
		globNorm := red.SumAll(localNorm)
		if globNorm < 0 {
			break
		}
		locSampled := 0
		for i, r := range rows {
			magn := r.Value
			keepThresh := globNorm / float64(*nSamp-locSampled)
			if magn < keepThresh {
				continue
			}
			if r.NDiv > 0 {
				if magn/float64(r.NDiv) >= keepThresh && !keep[i][0] {
					keep[i][0] = true
					wtRemain[i] = 0
					locSampled += r.NDiv
					localNorm -= magn
					globNorm -= magn
					if globNorm < 0 {
						break
					}
				}
				continue
			}
			subRemain := 0.0
			for s, w := range r.SubWt {
				if keep[i][s] {
					continue
				}
				subMagn := magn * w
				if subMagn >= keepThresh && math.Abs(subMagn) > 1e-10 {
					keep[i][s] = true
					locSampled++
					localNorm -= subMagn
					globNorm -= subMagn
					if globNorm < 0 {
						wtRemain[i] = 0
						break
					}
					keepThresh = globNorm / float64(*nSamp-locSampled)
				} else {
					subRemain += subMagn
				}
			}
			wtRemain[i] = subRemain
		}
		globSampled = red.SumAllInt(locSampled)
		*nSamp -= globSampled

		if lastPass && globSampled > 0 {
			lastPass = false
		}
		if globSampled == 0 && !lastPass {
			lastPass = true
			globSampled = 1
			localNorm = 0
			for _, w := range wtRemain {
				localNorm += w
			}
		}
	}

	localNorm = 0
	for _, w := range wtRemain {
		localNorm += w
	}
	if *nSamp > 0 && red.SumAll(localNorm)/float64(*nSamp) < 1e-8 {
		*nSamp = 0
	}
	return wtRemain, localNorm
}

// SampledDraw is one surviving (row, sub-index) draw from SysSub, with
// its resampled value.
type SampledDraw struct {
	Row, Sub int
	Value    float64
}

// SysSub performs the systematic resampling pass over the factored rows
// left un-kept by FindKeepSub, implementing sys_sub.
func SysSub(rows []SubWeighted, keep KeptSub, wtRemain []float64, locNorms []float64, rank int, nSamp int, rn float64, red Reducer) []SampledDraw {
	rn = red.Broadcast(rn)

	globalNorm := 0.0
	for _, n := range locNorms {
		globalNorm += n
	}

	var lbound float64
	if nSamp > 0 {
		rn, lbound = SeedSys(locNorms, rank, rn, nSamp)
	} else {
		lbound = 0
		rn = math.Inf(1)
	}
	locNorms[rank] = 0

	step := globalNorm / float64(max(nSamp, 1))
	var draws []SampledDraw
	for i, r := range rows {
		lbound += wtRemain[i]
		if r.NDiv > 0 {
			if keep[i][0] {
				keep[i][0] = false
				for s := 0; s < r.NDiv; s++ {
					draws = append(draws, SampledDraw{Row: i, Sub: s, Value: r.Value / float64(r.NDiv)})
				}
				locNorms[rank] += r.Value
			} else if r.Value != 0 {
				for rn < lbound {
					s := int((lbound - rn) * float64(r.NDiv) / r.Value)
					draws = append(draws, SampledDraw{Row: i, Sub: s, Value: step})
					rn += step
					locNorms[rank] += step
				}
			}
			continue
		}
		if wtRemain[i] < r.Value || rn < lbound {
			locNorms[rank] += r.Value - wtRemain[i]
			subLbound := lbound - wtRemain[i]
			for s, w := range r.SubWt {
				if keep[i][s] {
					keep[i][s] = false
					draws = append(draws, SampledDraw{Row: i, Sub: s, Value: r.Value * w})
				} else {
					subLbound += r.Value * w
					if rn < subLbound {
						draws = append(draws, SampledDraw{Row: i, Sub: s, Value: step})
						locNorms[rank] += step
						rn += step
					}
				}
			}
		}
	}
	return draws
}

// CompSub composes FindKeepSub and SysSub into one factored compression
// pass, implementing comp_sub.
func CompSub(rows []SubWeighted, keep KeptSub, nSamp int, rnSys float64, rank int, red Reducer) []SampledDraw {
	rnSys = red.Broadcast(rnSys)
	tmpNSamp := nSamp
	wtRemain, localNorm := FindKeepSub(rows, keep, &tmpNSamp, red)
	locNorms := red.AllGather(localNorm)
	return SysSub(rows, keep, wtRemain, locNorms, rank, tmpNSamp, rnSys, red)
}
