package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestReadSysParams(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "sys_params.txt", "n_elec\n4\nn_frozen\n0\nn_orb\n6\neps\n0.01\nhf_energy\n-2.5\n")
	sp, err := ReadSysParams(path)
	require.NoError(t, err)
	assert.Equal(t, 4, sp.NElec)
	assert.Equal(t, 0, sp.NFrozen)
	assert.Equal(t, 6, sp.NOrb)
	assert.InDelta(t, 0.01, sp.Eps, 1e-12)
	assert.InDelta(t, -2.5, sp.HFEnergy, 1e-12)
}

func TestReadSysParamsMissingKey(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "sys_params.txt", "n_elec\n4\n")
	_, err := ReadSysParams(path)
	assert.Error(t, err)
}

func TestReadSymm(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "symm.txt", "0 1 2 3 0 1\n")
	symm, err := ReadSymm(path)
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 1, 2, 3, 0, 1}, symm)
}

func TestReadHCoreShapeMismatch(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "hcore.txt", "1,2,3,4\n")
	_, err := ReadHCore(path, 3)
	assert.Error(t, err)
}

func TestReadHCoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "hcore.txt", "1,2,3,4\n")
	h, err := ReadHCore(path, 2)
	require.NoError(t, err)
	assert.Equal(t, 1.0, h.At(0, 0))
	assert.Equal(t, 4.0, h.At(1, 1))
}

func TestReadTrialVector(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "trialdets", "3\n5\n")
	writeFile(t, dir, "trialvals", "0.5\n-0.25\n")
	tv, err := ReadTrialVector(filepath.Join(dir, "trial"))
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 5}, tv.Dets)
	assert.InDeltaSlice(t, []float64{0.5, -0.25}, tv.Vals, 1e-12)
}

func TestDenseLensRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dense.txt")
	require.NoError(t, WriteDenseLens(path, []int{3, 0, 7}))
	got, err := ReadDenseLens(path)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 0, 7}, got)
}

func TestRankPath(t *testing.T) {
	got := RankPath("/tmp/run", "dets", 2, "dat")
	assert.Equal(t, "/tmp/run/dets2.dat", got)
}
