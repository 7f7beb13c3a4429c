package distvec

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dairdre/gofries/internal/detbit"
	"github.com/dairdre/gofries/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVec(t *testing.T) *DistVec {
	t.Helper()
	nOrb := 6
	cfg := Config{
		NOrb:           nOrb,
		NVecs:          1,
		InitCapacity:   2,
		MinDelIdx:      0,
		ProcScrambler:  NewScrambler(2*nOrb, 1),
		LocalScrambler: NewScrambler(2*nOrb, 2),
		AdderCap:       64,
	}
	return New(cfg, transport.LocalTransport{})
}

func det(nOrb int, bits ...int) detbit.Det {
	d := detbit.New(nOrb)
	for _, b := range bits {
		detbit.SetBit(d, b)
	}
	return d
}

func TestAddElementsCreatesSlotOnlyForInitiator(t *testing.T) {
	d := newTestVec(t)
	idx := det(6, 0, 1, 6, 7)

	kept := d.AddElements([][]byte{idx}, []float64{1.0}, []bool{false})
	assert.Equal(t, []bool{false}, kept)
	assert.Equal(t, 0, d.NNonzero())

	kept = d.AddElements([][]byte{idx}, []float64{1.0}, []bool{true})
	assert.Equal(t, []bool{true}, kept)
	assert.Equal(t, 1, d.NNonzero())
	assert.Equal(t, 1.0, d.ValueAt(0, 0))
}

func TestAddElementsAccumulates(t *testing.T) {
	d := newTestVec(t)
	idx := det(6, 0, 1, 6, 7)
	d.AddElements([][]byte{idx}, []float64{1.0}, []bool{true})
	d.AddElements([][]byte{idx}, []float64{2.5}, []bool{false})
	assert.Equal(t, 1, d.NNonzero())
	assert.Equal(t, 3.5, d.ValueAt(0, 0))
}

func TestAddElementsGrowsPastInitialCapacity(t *testing.T) {
	d := newTestVec(t)
	dets := []detbit.Det{
		det(6, 0, 1, 6, 7),
		det(6, 0, 2, 6, 7),
		det(6, 0, 3, 6, 7),
		det(6, 0, 4, 6, 7),
	}
	for _, dd := range dets {
		kept := d.AddElements([][]byte{dd}, []float64{1.0}, []bool{true})
		require.True(t, kept[0])
	}
	assert.Equal(t, 4, d.NNonzero())
	assert.Equal(t, 4, d.CurrSize())
}

func TestDelAtPosRespectsWatermarkAndZeroRows(t *testing.T) {
	d := newTestVec(t)
	d.minDelIdx = 1
	idx0 := det(6, 0, 1, 6, 7)
	idx1 := det(6, 0, 2, 6, 7)
	d.AddElements([][]byte{idx0}, []float64{1.0}, []bool{true})
	d.AddElements([][]byte{idx1}, []float64{0.0}, []bool{true})

	assert.False(t, d.DelAtPos(0), "below watermark, even though its row is also nonzero")
	assert.True(t, d.DelAtPos(1), "at watermark and zero-valued, should delete")
}

func TestDelAtPosDeletesZeroRowAboveWatermark(t *testing.T) {
	d := newTestVec(t)
	idx0 := det(6, 0, 1, 6, 7)
	d.AddElements([][]byte{idx0}, []float64{0.0}, []bool{true})
	assert.Equal(t, 1, d.NNonzero())
	ok := d.DelAtPos(0)
	assert.True(t, ok)
	assert.Equal(t, 0, d.NNonzero())

	idx1 := det(6, 0, 2, 6, 7)
	_, err := d.Add(idx1, 1.0, true)
	require.NoError(t, err)
	d.PerformAdd()
	assert.Equal(t, 1, d.NNonzero())
	assert.True(t, detbit.Equal(idx1, d.IndexAt(0)), "freed position 0 should be reused")
}

func TestSetCurrVecIdxRange(t *testing.T) {
	d := newTestVec(t)
	assert.Error(t, d.SetCurrVecIdx(-1))
	assert.Error(t, d.SetCurrVecIdx(5))
	assert.NoError(t, d.SetCurrVecIdx(0))
}

func TestAddAndPerformAddSingleRank(t *testing.T) {
	d := newTestVec(t)
	idx := det(6, 0, 1, 6, 7)
	_, err := d.Add(idx, 2.0, true)
	require.NoError(t, err)
	results := d.PerformAdd()
	require.Len(t, results, 1)
	assert.Equal(t, []bool{true}, results[0].Kept)
	assert.Equal(t, 1, d.NNonzero())
	assert.Equal(t, 2.0, d.ValueAt(0, 0))
}

func TestDotFindsMatchingIndex(t *testing.T) {
	d := newTestVec(t)
	idx := det(6, 0, 1, 6, 7)
	d.AddElements([][]byte{idx}, []float64{3.0}, []bool{true})

	other := det(6, 0, 1, 6, 7)
	got := d.Dot([]detbit.Det{other}, []float64{2.0})
	assert.Equal(t, 6.0, got)

	miss := det(6, 0, 2, 6, 7)
	got = d.Dot([]detbit.Det{miss}, []float64{2.0})
	assert.Equal(t, 0.0, got)
}

func TestCollectProcsSingleRankRoundTrip(t *testing.T) {
	d := newTestVec(t)
	idx := det(6, 0, 1, 6, 7)
	d.AddElements([][]byte{idx}, []float64{5.0}, []bool{true})

	idxs, vals := d.CollectProcs()
	require.Len(t, idxs, 1)
	require.Len(t, vals, 1)
	assert.True(t, detbit.Equal(idx, idxs[0]))
	assert.Equal(t, 5.0, vals[0])
}

func TestSaveLoadRoundTrip(t *testing.T) {
	d := newTestVec(t)
	idx1 := det(6, 0, 1, 6, 7)
	idx2 := det(6, 0, 2, 6, 7)
	d.AddElements([][]byte{idx1, idx2}, []float64{1.5, -2.5}, []bool{true, true})

	dir := t.TempDir()
	require.NoError(t, d.Save(dir))

	loaded := newTestVec(t)
	require.NoError(t, loaded.Load(dir))
	assert.Equal(t, 2, loaded.NNonzero())

	got := make(map[string]float64)
	for pos := 0; pos < loaded.CurrSize(); pos++ {
		got[string(loaded.IndexAt(pos))] = loaded.ValueAt(0, pos)
	}
	assert.Equal(t, 1.5, got[string(idx1)])
	assert.Equal(t, -2.5, got[string(idx2)])

	_, statErr := os.Stat(filepath.Join(dir, "dets0.dat"))
	require.NoError(t, statErr)
	_, statErr = os.Stat(filepath.Join(dir, "vals0.dat"))
	require.NoError(t, statErr)
}

func TestDiagCacheStartsEmpty(t *testing.T) {
	d := newTestVec(t)
	idx := det(6, 0, 1, 6, 7)
	d.AddElements([][]byte{idx}, []float64{1.0}, []bool{true})
	_, computed := d.DiagAt(0)
	assert.False(t, computed)
	d.SetDiagAt(0, -4.2)
	v, computed := d.DiagAt(0)
	assert.True(t, computed)
	assert.Equal(t, -4.2, v)
}
