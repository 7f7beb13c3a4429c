package adder

import (
	"testing"

	"github.com/dairdre/gofries/internal/detbit"
	"github.com/dairdre/gofries/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCommitter struct {
	gotIdx [][]byte
	gotVal []float64
	gotIni []bool
	accept func(idx []byte, val float64, ini bool) bool
}

func (f *fakeCommitter) AddElements(idx [][]byte, val []float64, ini []bool) []bool {
	kept := make([]bool, len(idx))
	for i := range idx {
		f.gotIdx = append(f.gotIdx, idx[i])
		f.gotVal = append(f.gotVal, val[i])
		f.gotIni = append(f.gotIni, ini[i])
		if f.accept == nil {
			kept[i] = true
		} else {
			kept[i] = f.accept(idx[i], val[i], ini[i])
		}
	}
	return kept
}

func TestStageCapacityExceeded(t *testing.T) {
	a := New(1, 2, 4, func(idx []byte) int { return 0 })
	_, err := a.Stage([]byte{1}, 1.0, true)
	require.NoError(t, err)
	_, err = a.Stage([]byte{2}, 1.0, true)
	require.NoError(t, err)
	_, err = a.Stage([]byte{3}, 1.0, true)
	assert.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestFlushSingleRankRoundTrip(t *testing.T) {
	nOrb := 4
	a := New(1, 8, nOrb, func(idx []byte) int { return 0 })
	idx1 := []byte{0b00000011}
	idx2 := []byte{0b00001100}
	_, err := a.Stage(idx1, 0.5, true)
	require.NoError(t, err)
	_, err = a.Stage(idx2, -1.5, false)
	require.NoError(t, err)

	commit := &fakeCommitter{}
	results := Flush(a, transport.LocalTransport{}, commit)

	require.Len(t, commit.gotIdx, 2)
	assert.Equal(t, idx1, commit.gotIdx[0])
	assert.Equal(t, idx2, commit.gotIdx[1])
	assert.Equal(t, 0.5, commit.gotVal[0])
	assert.Equal(t, -1.5, commit.gotVal[1])
	assert.True(t, commit.gotIni[0])
	assert.False(t, commit.gotIni[1])

	require.Len(t, results, 1)
	assert.Equal(t, []bool{true, true}, results[0].Kept)
}

func TestFlushReportsRejectedEntries(t *testing.T) {
	nOrb := 4
	a := New(1, 8, nOrb, func(idx []byte) int { return 0 })
	_, _ = a.Stage([]byte{1}, 1.0, true)
	_, _ = a.Stage([]byte{2}, 1.0, false)

	commit := &fakeCommitter{accept: func(idx []byte, val float64, ini bool) bool { return ini }}
	results := Flush(a, transport.LocalTransport{}, commit)
	assert.Equal(t, []bool{true, false}, results[0].Kept)
}

func TestFlushDrainsBuffers(t *testing.T) {
	a := New(1, 8, 4, func(idx []byte) int { return 0 })
	_, _ = a.Stage([]byte{1}, 1.0, true)
	Flush(a, transport.LocalTransport{}, &fakeCommitter{})
	assert.Equal(t, 0, len(a.send[0]))
}

func TestEncodeDecodeIndexPreservesInitiatorFlag(t *testing.T) {
	for _, nOrb := range []int{4, 6, 8, 10} {
		det := detbit.New(nOrb)
		for b := 0; b < 2*nOrb; b += 3 {
			detbit.SetBit(det, b)
		}
		idx := []byte(det)
		for _, ini := range []bool{true, false} {
			wire := encodeIndex(idx, nOrb, ini)
			gotIdx, gotIni := decodeIndex(wire, nOrb)
			assert.Equal(t, ini, gotIni, "nOrb=%d", nOrb)
			assert.Equal(t, idx, gotIdx, "nOrb=%d ini=%v", nOrb, ini)
		}
	}
}
