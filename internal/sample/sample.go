// Package sample implements the near-uniform and heat-bath Power-Pitzer
// proposal distributions of spec.md §4.4: factored samplers that draw
// excitations out of a fixed origin determinant and report the exact
// marginal probability of each draw, plus the binomial split used to
// divide a walker budget between "try a single" and "try a double".
package sample

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/dairdre/gofries/internal/compress"
	"github.com/dairdre/gofries/internal/detbit"
	"github.com/dairdre/gofries/internal/excite"
)

// Stream is the u32 random stream the engine consumes; spec.md §1 leaves
// the concrete generator (e.g. Mersenne Twister) out of scope, so any
// source of well-distributed uint32s can implement this.
type Stream interface {
	Uint32() uint32
	Float64() float64 // uniform on [0, 1)
}

// DefaultStream wraps math/rand/v2, the standard-library generator used
// here because no third-party PRNG appears anywhere in the retrieval pack
// and spec.md §1 explicitly places the PRNG algorithm out of scope.
type DefaultStream struct {
	r *rand.Rand
}

// NewDefaultStream builds a DefaultStream seeded deterministically from
// seed, so runs are reproducible (spec.md §8 scenario S5 depends on
// reproducibility across process counts).
func NewDefaultStream(seed uint64) *DefaultStream {
	return &DefaultStream{r: rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15))}
}

func (s *DefaultStream) Uint32() uint32   { return uint32(s.r.Uint64()) }
func (s *DefaultStream) Float64() float64 { return s.r.Float64() }

// streamSource adapts a Stream into gonum/stat/distuv's rand.Source
// interface so distuv.Binomial can consume it directly.
type streamSource struct{ s Stream }

func (a streamSource) Uint64() uint64 {
	return uint64(a.s.Uint32())<<32 | uint64(a.s.Uint32())
}

func (a streamSource) Seed(seed uint64) {}

// BinSample draws a Binomial(n, p) sample, splitting a walker budget
// between two proposal branches (spec §4.4 "Binomial-split"), using
// gonum's distuv.Binomial rather than a hand-rolled sampler.
func BinSample(n int, p float64, stream Stream) int {
	if n <= 0 {
		return 0
	}
	b := distuv.Binomial{N: float64(n), P: p, Src: streamSource{stream}}
	return int(b.Rand())
}

// RoundBinomially stochastically rounds a fractional count p*n to an
// integer by combining a deterministic floor with a binomial correction,
// matching FRIES/compress_utils.cpp:round_binomially. Nothing in this
// module calls it: the iteration driver stages real-valued spawn weights.
func RoundBinomially(p float64, n int, stream Stream) int {
	flr := int(p)
	frac := p - float64(flr)
	successes := 0
	for i := 0; i < n; i++ {
		if stream.Float64() < frac {
			successes++
		}
	}
	return flr*n + successes
}

// Kind distinguishes a sampled single from a sampled double excitation.
type Kind int

const (
	KindSingle Kind = iota
	KindDouble
)

// Draw is one sampled excitation and its exact proposal probability.
// Prob == 0 marks a null draw (e.g. the chosen virtual turned out
// occupied): spec §4.4 requires the caller filter these before staging
// an add.
type Draw struct {
	Kind   Kind
	Single excite.Single
	Double excite.Double
	Prob   float64
}

// NearUniform draws nSamp independent excitations uniformly from the full
// enumerated list of det's symmetry-allowed singles and doubles: each draw
// picks single vs double with probability proportional to their counts,
// then one excitation of that kind uniformly, so every draw has Prob
// 1/(nSing+nDoub). It does not stratify by spin pair, occupied pair or
// irrep pair, and it does not use BinSample.
func NearUniform(det detbit.Det, occ []uint8, symm []uint8, nOrb int, nSamp int, stream Stream) []Draw {
	singles := excite.SingExSymm(det, occ, symm, nOrb)
	doubles := excite.DoubExSymm(det, occ, symm, nOrb)
	nSing, nDoub := len(singles), len(doubles)
	total := nSing + nDoub
	if total == 0 {
		return nil
	}
	pSingle := float64(nSing) / float64(total)

	draws := make([]Draw, 0, nSamp)
	for i := 0; i < nSamp; i++ {
		if stream.Float64() < pSingle {
			idx := int(stream.Float64() * float64(nSing))
			if idx >= nSing {
				idx = nSing - 1
			}
			draws = append(draws, Draw{Kind: KindSingle, Single: singles[idx], Prob: pSingle * (1.0 / float64(nSing))})
		} else {
			idx := int(stream.Float64() * float64(nDoub))
			if idx >= nDoub {
				idx = nDoub - 1
			}
			draws = append(draws, Draw{Kind: KindDouble, Double: doubles[idx], Prob: (1 - pSingle) * (1.0 / float64(nDoub))})
		}
	}
	return draws
}

// HeatBathTable is the heat-bath Power-Pitzer orbital sampler: unlike
// NearUniform, it draws a spatial orbital from per-orbital weights (set up
// once via NewHeatBathTable) through an alias table rather than a uniform
// draw. With unnormalized set, SampleOrbital reports the raw weight of the
// drawn orbital instead of its normalized probability (the HB_unnorm
// variant, spec §4.4).
type HeatBathTable struct {
	nOrb          int
	unnormalized  bool
	orbitalWeight []float64      // marginal |eris|-derived weight of each spatial orbital, row-summed
	alias         *compress.AliasTable
}

// NewHeatBathTable builds the once-per-run CDF (as an alias table) from
// per-orbital weights, the role of spec §4.4's "set_up(eris)". weights is a
// caller-supplied per-orbital marginal (e.g. sum_b |(ab|ab)| or an
// equivalent Power-Pitzer factorization); HeatBathTable only owns the
// alias-table machinery, keeping the specific integral combination in the
// hamil-aware caller.
func NewHeatBathTable(weights []float64, unnormalized bool) *HeatBathTable {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	norm := make([]float64, len(weights))
	if sum > 0 {
		for i, w := range weights {
			norm[i] = w / sum
		}
	}
	return &HeatBathTable{
		nOrb:          len(weights),
		unnormalized:  unnormalized,
		orbitalWeight: weights,
		alias:         compress.SetupAlias(norm),
	}
}

// SampleOrbital draws one spatial orbital index from the heat-bath
// marginal via the alias table (O(1), per spec §4.4/§9).
func (h *HeatBathTable) SampleOrbital(stream Stream) (orb int, prob float64) {
	orb = h.alias.Sample(stream.Float64(), stream.Float64())
	prob = h.orbitalWeight[orb]
	if !h.unnormalized {
		sum := 0.0
		for _, w := range h.orbitalWeight {
			sum += w
		}
		if sum > 0 {
			prob /= sum
		}
	}
	return orb, prob
}
