// Package config parses the on-disk text input formats and the CLI
// surface this engine reads at startup: sys_params.txt, symm.txt,
// hcore.txt, eris.txt, trial-vector dets/vals pairs, and a go-flags
// Options struct covering the documented flags.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dairdre/gofries/internal/hamil"
)

// ReadFileLines reads fname into a slice of its lines, in the same shape
// the rest of this module's text-format readers build on.
func ReadFileLines(fname string) ([]string, error) {
	file, err := os.Open(fname)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", fname, err)
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", fname, err)
	}
	return lines, nil
}

// SysParams holds the five keyed values of sys_params.txt.
type SysParams struct {
	NElec    int
	NFrozen  int
	NOrb     int
	Eps      float64
	HFEnergy float64
}

// ReadSysParams parses sys_params.txt: alternating label/value lines,
// looked up by label; the keys n_elec, n_frozen, n_orb, eps and hf_energy
// are required and any other label/value pairs are ignored.
func ReadSysParams(path string) (*SysParams, error) {
	lines, err := ReadFileLines(path)
	if err != nil {
		return nil, err
	}
	values := make(map[string]string)
	for i := 0; i+1 < len(lines); i += 2 {
		key := strings.TrimSpace(lines[i])
		values[key] = strings.TrimSpace(lines[i+1])
	}

	get := func(key string) (string, error) {
		v, ok := values[key]
		if !ok {
			return "", fmt.Errorf("config: %s missing key %q", path, key)
		}
		return v, nil
	}
	atoi := func(key string) (int, error) {
		s, err := get(key)
		if err != nil {
			return 0, err
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("config: %s key %q: %w", path, key, err)
		}
		return n, nil
	}
	atof := func(key string) (float64, error) {
		s, err := get(key)
		if err != nil {
			return 0, err
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("config: %s key %q: %w", path, key, err)
		}
		return f, nil
	}

	sp := &SysParams{}
	if sp.NElec, err = atoi("n_elec"); err != nil {
		return nil, err
	}
	if sp.NFrozen, err = atoi("n_frozen"); err != nil {
		return nil, err
	}
	if sp.NOrb, err = atoi("n_orb"); err != nil {
		return nil, err
	}
	if sp.Eps, err = atof("eps"); err != nil {
		return nil, err
	}
	if sp.HFEnergy, err = atof("hf_energy"); err != nil {
		return nil, err
	}
	return sp, nil
}

// ReadSymm parses symm.txt: whitespace-separated irrep indices, one per
// spatial orbital.
func ReadSymm(path string) ([]uint8, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	fields := strings.Fields(string(data))
	symm := make([]uint8, len(fields))
	for i, f := range fields {
		n, err := strconv.ParseUint(f, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("config: %s entry %d: %w", path, i, err)
		}
		symm[i] = uint8(n)
	}
	return symm, nil
}

func readCommaSeparatedFloats(path string) ([]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	fields := strings.Split(strings.TrimSpace(string(data)), ",")
	out := make([]float64, 0, len(fields))
	for i, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("config: %s entry %d: %w", path, i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// ReadHCore parses hcore.txt: a comma-separated row-major totOrb x totOrb
// matrix of doubles.
func ReadHCore(path string, totOrb int) (*hamil.HCore, error) {
	data, err := readCommaSeparatedFloats(path)
	if err != nil {
		return nil, err
	}
	want := totOrb * totOrb
	if len(data) != want {
		return nil, fmt.Errorf("config: %s has %d entries, want %d", path, len(data), want)
	}
	return hamil.NewHCore(totOrb, data), nil
}

// ReadEris parses eris.txt: a comma-separated row-major totOrb^4 tensor
// of doubles in chemists' notation.
func ReadEris(path string, totOrb int) (*hamil.Eris, error) {
	data, err := readCommaSeparatedFloats(path)
	if err != nil {
		return nil, err
	}
	want := totOrb * totOrb * totOrb * totOrb
	if len(data) != want {
		return nil, fmt.Errorf("config: %s has %d entries, want %d", path, len(data), want)
	}
	return hamil.NewEris(totOrb, data), nil
}

// TrialVector is the parallel (determinant, value) pair read from a
// <trial_vec>dets/<trial_vec>vals file pair.
type TrialVector struct {
	Dets []uint64
	Vals []float64
}

// ReadTrialVector parses <prefix>dets and <prefix>vals: determinants as
// decimal integers (at most 64 bits, so tot_orb <= 32) and parallel
// decimal values.
func ReadTrialVector(prefix string) (*TrialVector, error) {
	detLines, err := ReadFileLines(prefix + "dets")
	if err != nil {
		return nil, err
	}
	valLines, err := ReadFileLines(prefix + "vals")
	if err != nil {
		return nil, err
	}
	if len(detLines) != len(valLines) {
		return nil, fmt.Errorf("config: %sdets has %d lines, %svals has %d",
			prefix, len(detLines), prefix, len(valLines))
	}
	tv := &TrialVector{
		Dets: make([]uint64, len(detLines)),
		Vals: make([]float64, len(valLines)),
	}
	for i, l := range detLines {
		n, err := strconv.ParseUint(strings.TrimSpace(l), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: %sdets line %d: %w", prefix, i, err)
		}
		tv.Dets[i] = n
	}
	for i, l := range valLines {
		v, err := strconv.ParseFloat(strings.TrimSpace(l), 64)
		if err != nil {
			return nil, fmt.Errorf("config: %svals line %d: %w", prefix, i, err)
		}
		tv.Vals[i] = v
	}
	return tv, nil
}

// ReadDenseLens parses dense.txt: one line, comma-separated lengths of
// the deterministic subspace per rank.
func ReadDenseLens(path string) ([]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	fields := strings.Split(strings.TrimSpace(string(data)), ",")
	out := make([]int, 0, len(fields))
	for i, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("config: %s entry %d: %w", path, i, err)
		}
		out = append(out, n)
	}
	return out, nil
}

// WriteDenseLens writes dense.txt in the single comma-separated line
// format ReadDenseLens expects.
func WriteDenseLens(path string, lens []int) error {
	parts := make([]string, len(lens))
	for i, n := range lens {
		parts[i] = strconv.Itoa(n)
	}
	content := strings.Join(parts, ",") + "\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// RankPath builds the per-process state file name convention
// "<name><rank>.<ext>", e.g. dets3.dat for rank 3.
func RankPath(dir, name string, rank int, ext string) string {
	return filepath.Join(dir, fmt.Sprintf("%s%d.%s", name, rank, ext))
}
