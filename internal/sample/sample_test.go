package sample

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dairdre/gofries/internal/detbit"
)

func TestBinSampleMean(t *testing.T) {
	stream := NewDefaultStream(1)
	n, p := 200, 0.3
	trials := 2000
	sum := 0
	for i := 0; i < trials; i++ {
		sum += BinSample(n, p, stream)
	}
	mean := float64(sum) / float64(trials)
	assert.InDelta(t, float64(n)*p, mean, 3.0)
}

func TestRoundBinomiallyMean(t *testing.T) {
	stream := NewDefaultStream(2)
	p := 3.7
	trials := 5000
	sum := 0
	for i := 0; i < trials; i++ {
		sum += RoundBinomially(p, 1, stream)
	}
	mean := float64(sum) / float64(trials)
	assert.InDelta(t, p, mean, 0.1)
}

func TestNearUniformProbabilityInUnitInterval(t *testing.T) {
	nOrb, nElec := 4, 4
	symm := make([]uint8, nOrb)
	det := detbit.HFDeterminant(nOrb, nElec)
	occ := detbit.EnumerateSetBits(det)
	stream := NewDefaultStream(5)

	draws := NearUniform(det, occ, symm, nOrb, 1, stream)
	assert.Len(t, draws, 1)
	assert.Greater(t, draws[0].Prob, 0.0)
	assert.LessOrEqual(t, draws[0].Prob, 1.0)
}

func TestHeatBathAliasNormalized(t *testing.T) {
	weights := []float64{1, 2, 3, 4}
	hb := NewHeatBathTable(weights, false)
	stream := NewDefaultStream(9)
	sum := 0.0
	trials := 20000
	counts := make([]int, len(weights))
	for i := 0; i < trials; i++ {
		orb, _ := hb.SampleOrbital(stream)
		counts[orb]++
	}
	total := 0
	for _, c := range counts {
		total += c
	}
	_ = sum
	for i, w := range weights {
		expected := w / 10.0
		freq := float64(counts[i]) / float64(total)
		assert.InDelta(t, expected, freq, 0.03)
	}
	assert.False(t, math.IsNaN(hb.orbitalWeight[0]))
}
