// Package distvec implements the distributed hashed sparse vector of
// spec.md §4.5: a position-indexed store of determinant indices, cached
// occupied-orbital lists, a lazily-populated diagonal cache, and one or
// more value rows, fronted by a hash table and a LIFO free-slot stack.
// Cross-process adds are staged through an adder.Adder and committed via
// AddElements, which implements adder.Committer.
package distvec

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/dairdre/gofries/internal/adder"
	"github.com/dairdre/gofries/internal/config"
	"github.com/dairdre/gofries/internal/detbit"
	"github.com/dairdre/gofries/internal/transport"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("distvec")

// diagEmpty is the "not yet computed" sentinel for the diagonal cache.
var diagEmpty = math.NaN()

// DiagEmpty reports whether a diagonal-cache slot still holds the
// not-computed sentinel.
func DiagEmpty(v float64) bool { return math.IsNaN(v) }

// NewScrambler builds a length-n table of scramble words for hashing
// occupied-orbital lists. Two scramblers are kept per spec §4.5: callers
// must build the process-assignment scrambler with the same seed on every
// process, and the intra-process scrambler with a per-process seed.
func NewScrambler(n int, seed uint64) []uint64 {
	s := make([]uint64, n)
	x := seed
	for i := range s {
		// splitmix64, enough statistical spread for bucket placement and
		// deterministic across processes given the same seed.
		x += 0x9E3779B97F4A7C15
		z := x
		z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
		z = (z ^ (z >> 27)) * 0x94D049BB133111EB
		s[i] = z ^ (z >> 31)
	}
	return s
}

func hashOcc(occ []uint8, scrambler []uint64) uint64 {
	h := uint64(14695981039346656037)
	for _, o := range occ {
		h ^= scrambler[o]
		h *= 1099511628211
	}
	return h
}

// DistVec is the distributed hashed sparse vector.
type DistVec struct {
	nOrb      int
	nVecs     int
	minDelIdx int
	currVec   int

	indices []detbit.Det
	occOrbs [][]uint8
	diag    []float64
	values  [][]float64 // values[vecRow][pos]

	currSize int
	free     []int32
	live     *roaring.Bitmap
	nNonz    int

	hashTable map[string]*int32

	procScrambler  []uint64
	localScrambler []uint64

	transport transport.Transport
	add       *adder.Adder

	nonInitiatorOccupiedAdds int
}

// Config bundles the construction parameters spec §4.5's storage layout
// needs: orbital count, number of value rows, the initial capacity, the
// never-delete watermark, and the two scramblers.
type Config struct {
	NOrb           int
	NVecs          int
	InitCapacity   int
	MinDelIdx      int
	ProcScrambler  []uint64
	LocalScrambler []uint64
	AdderCap       int
}

// New allocates an empty DistVec wired to t for its cross-process adds.
func New(cfg Config, t transport.Transport) *DistVec {
	if cfg.InitCapacity < 1 {
		cfg.InitCapacity = 1
	}
	d := &DistVec{
		nOrb:           cfg.NOrb,
		nVecs:          cfg.NVecs,
		minDelIdx:      cfg.MinDelIdx,
		indices:        make([]detbit.Det, cfg.InitCapacity),
		occOrbs:        make([][]uint8, cfg.InitCapacity),
		diag:           make([]float64, cfg.InitCapacity),
		values:         make([][]float64, cfg.NVecs),
		live:           roaring.New(),
		hashTable:      make(map[string]*int32),
		procScrambler:  cfg.ProcScrambler,
		localScrambler: cfg.LocalScrambler,
		transport:      t,
	}
	for i := range d.diag {
		d.diag[i] = diagEmpty
	}
	for v := range d.values {
		d.values[v] = make([]float64, cfg.InitCapacity)
	}
	d.add = adder.New(t.NProcs(), cfg.AdderCap, cfg.NOrb, d.hProc)
	return d
}

func (d *DistVec) hProc(idx []byte) int {
	occ := detbit.EnumerateSetBits(detbit.Det(idx))
	n := d.transport.NProcs()
	if n <= 1 {
		return 0
	}
	return int(hashOcc(occ, d.procScrambler) % uint64(n))
}

// NNonzero returns the number of occupied positions.
func (d *DistVec) NNonzero() int { return d.nNonz }

// CurrSize returns the current high-water mark of the position arrays,
// including freed-but-not-reused slots.
func (d *DistVec) CurrSize() int { return d.currSize }

// LivePositions returns every occupied position, in ascending order,
// skipping slots on the free-stack.
func (d *DistVec) LivePositions() []int {
	out := make([]int, 0, d.nNonz)
	it := d.live.Iterator()
	for it.HasNext() {
		out = append(out, int(it.Next()))
	}
	return out
}

// IndexAt returns the determinant stored at pos.
func (d *DistVec) IndexAt(pos int) detbit.Det { return d.indices[pos] }

// OccOrbsAt returns the cached occupied-orbital list at pos.
func (d *DistVec) OccOrbsAt(pos int) []uint8 { return d.occOrbs[pos] }

// ValueAt returns row vecIdx's value at pos.
func (d *DistVec) ValueAt(vecIdx, pos int) float64 { return d.values[vecIdx][pos] }

// SetValueAt overwrites row vecIdx's value at pos, e.g. after a
// death/clone pass recomputes it in place.
func (d *DistVec) SetValueAt(vecIdx, pos int, v float64) { d.values[vecIdx][pos] = v }

// DiagAt returns the cached diagonal element at pos and whether it has
// been computed yet.
func (d *DistVec) DiagAt(pos int) (float64, bool) {
	v := d.diag[pos]
	return v, !DiagEmpty(v)
}

// SetDiagAt fills the diagonal cache at pos.
func (d *DistVec) SetDiagAt(pos int, v float64) { d.diag[pos] = v }

// SetCurrVecIdx directs the row-implicit operations (the commits made by
// AddElements/PerformAdd, Dot, and CollectProcs) at row k.
func (d *DistVec) SetCurrVecIdx(k int) error {
	if k < 0 || k >= d.nVecs {
		return fmt.Errorf("distvec: vec index %d out of range [0,%d)", k, d.nVecs)
	}
	d.currVec = k
	return nil
}

// Add stages a contribution for later commit by PerformAdd. It buffers
// into the Adder keyed to idx's owning process, which may be this one.
func (d *DistVec) Add(idx detbit.Det, val float64, ini bool) (int, error) {
	return d.add.Stage(idx, val, ini)
}

// PerformAdd flushes every staged add across processes and commits the
// results received from every process against this vector's hash table.
func (d *DistVec) PerformAdd() []adder.PerDestResult {
	return adder.Flush(d.add, d.transport, d)
}

// AddElements implements adder.Committer: spec §4.5's add_elements commit
// semantics, run once per entry in the order received.
func (d *DistVec) AddElements(idx [][]byte, val []float64, ini []bool) []bool {
	kept := make([]bool, len(idx))
	for i := range idx {
		kept[i] = d.commitOne(idx[i], val[i], ini[i])
	}
	return kept
}

func (d *DistVec) commitOne(idxBytes []byte, val float64, ini bool) bool {
	key := string(idxBytes)
	slot, existed := d.hashTable[key]
	if !existed {
		if !ini {
			return false
		}
		p := int32(-1)
		slot = &p
		d.hashTable[key] = slot
	}
	if *slot == -1 {
		*slot = int32(d.allocPos(idxBytes))
	} else if !ini {
		d.nonInitiatorOccupiedAdds++
	}
	pos := int(*slot)
	d.values[d.currVec][pos] += val
	return true
}

func (d *DistVec) allocPos(idxBytes []byte) int {
	var pos int
	if n := len(d.free); n > 0 {
		pos = int(d.free[n-1])
		d.free = d.free[:n-1]
	} else {
		pos = d.currSize
		d.growTo(pos + 1)
		d.currSize++
	}
	det := detbit.Det(append([]byte(nil), idxBytes...))
	d.indices[pos] = det
	d.occOrbs[pos] = detbit.EnumerateSetBits(det)
	d.diag[pos] = diagEmpty
	for v := range d.values {
		d.values[v][pos] = 0
	}
	d.live.Add(uint32(pos))
	d.nNonz++
	return pos
}

func (d *DistVec) growTo(need int) {
	if need <= len(d.indices) {
		return
	}
	newCap := len(d.indices) * 2
	if newCap < need {
		newCap = need
	}
	grown := make([]detbit.Det, newCap)
	copy(grown, d.indices)
	d.indices = grown

	grownOcc := make([][]uint8, newCap)
	copy(grownOcc, d.occOrbs)
	d.occOrbs = grownOcc

	grownDiag := make([]float64, newCap)
	copy(grownDiag, d.diag)
	for i := len(d.diag); i < newCap; i++ {
		grownDiag[i] = diagEmpty
	}
	d.diag = grownDiag

	for v := range d.values {
		grownVal := make([]float64, newCap)
		copy(grownVal, d.values[v])
		d.values[v] = grownVal
	}
}

// DelAtPos removes pos from the hash table and pushes it onto the
// free-stack iff every value row at pos is zero and pos is at or above
// the never-delete watermark. Returns whether it deleted.
func (d *DistVec) DelAtPos(pos int) bool {
	if pos < d.minDelIdx {
		return false
	}
	for _, row := range d.values {
		if row[pos] != 0 {
			return false
		}
	}
	key := string(d.indices[pos])
	delete(d.hashTable, key)
	d.free = append(d.free, int32(pos))
	d.live.Remove(uint32(pos))
	d.nNonz--
	return true
}

// Dot computes the local partial of <this | other> against a sparse
// operand given as parallel index/value slices.
func (d *DistVec) Dot(otherIdx []detbit.Det, otherVals []float64) float64 {
	var sum float64
	for i, idx := range otherIdx {
		if slot, ok := d.hashTable[string(idx)]; ok && *slot >= 0 {
			sum += d.values[d.currVec][*slot] * otherVals[i]
		}
	}
	return sum
}

// CollectProcs all-gathers every process' live entries so each process
// holds the full concatenation, used to materialize trial vectors.
func (d *DistVec) CollectProcs() ([]detbit.Det, []float64) {
	nProcs := d.transport.NProcs()
	local := d.serializeLive()
	sendBufs := make([][]byte, nProcs)
	for p := range sendBufs {
		sendBufs[p] = local
	}
	recvBufs := d.transport.AllToAllV(sendBufs)

	var idxs []detbit.Det
	var vals []float64
	for _, buf := range recvBufs {
		di, dv := d.deserializeEntries(buf)
		idxs = append(idxs, di...)
		vals = append(vals, dv...)
	}
	return idxs, vals
}

func (d *DistVec) serializeLive() []byte {
	idxLen := detbit.Bytes(d.nOrb)
	stride := idxLen + 8
	buf := make([]byte, 0, int(d.live.GetCardinality())*stride)
	it := d.live.Iterator()
	for it.HasNext() {
		pos := int(it.Next())
		buf = append(buf, d.indices[pos]...)
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(d.values[d.currVec][pos]))
		buf = append(buf, tmp[:]...)
	}
	return buf
}

func (d *DistVec) deserializeEntries(buf []byte) ([]detbit.Det, []float64) {
	idxLen := detbit.Bytes(d.nOrb)
	stride := idxLen + 8
	n := len(buf) / stride
	idxs := make([]detbit.Det, 0, n)
	vals := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		off := i * stride
		det := detbit.Det(append([]byte(nil), buf[off:off+idxLen]...))
		v := math.Float64frombits(binary.LittleEndian.Uint64(buf[off+idxLen : off+stride]))
		idxs = append(idxs, det)
		vals = append(vals, v)
	}
	return idxs, vals
}

// Save writes a per-process binary dump of every live index and its value
// rows to dir, as the pair of files dets<rank>.dat and vals<rank>.dat named
// by config.RankPath: dets<rank>.dat holds the packed index rows,
// contiguous in live-iteration order, and vals<rank>.dat holds the n_vecs
// value rows in that same order, each row's length equal to the number of
// live entries.
func (d *DistVec) Save(dir string) error {
	rank := d.transport.Rank()
	detsPath := config.RankPath(dir, "dets", rank, "dat")
	valsPath := config.RankPath(dir, "vals", rank, "dat")

	detsFile, err := os.Create(detsPath)
	if err != nil {
		return fmt.Errorf("distvec: save %s: %w", detsPath, err)
	}
	defer detsFile.Close()
	dw := bufio.NewWriter(detsFile)

	valsFile, err := os.Create(valsPath)
	if err != nil {
		return fmt.Errorf("distvec: save %s: %w", valsPath, err)
	}
	defer valsFile.Close()
	vw := bufio.NewWriter(valsFile)

	n := d.live.GetCardinality()
	rowVals := make([][]float64, d.nVecs)
	for v := range rowVals {
		rowVals[v] = make([]float64, 0, n)
	}

	it := d.live.Iterator()
	for it.HasNext() {
		pos := int(it.Next())
		if _, err := dw.Write(d.indices[pos]); err != nil {
			return fmt.Errorf("distvec: save %s: %w", detsPath, err)
		}
		for v := 0; v < d.nVecs; v++ {
			rowVals[v] = append(rowVals[v], d.values[v][pos])
		}
	}
	if err := dw.Flush(); err != nil {
		return fmt.Errorf("distvec: save %s: %w", detsPath, err)
	}

	for v := 0; v < d.nVecs; v++ {
		for _, val := range rowVals[v] {
			var tmp [8]byte
			binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(val))
			if _, err := vw.Write(tmp[:]); err != nil {
				return fmt.Errorf("distvec: save %s: %w", valsPath, err)
			}
		}
	}
	if err := vw.Flush(); err != nil {
		return fmt.Errorf("distvec: save %s: %w", valsPath, err)
	}
	log.Debugf("saved %d entries to %s / %s", n, detsPath, valsPath)
	return nil
}

// Load rebuilds the vector from the dets<rank>.dat/vals<rank>.dat pair
// written by Save: the hash table and occupied-orbital lists are
// recomputed, not stored on disk.
func (d *DistVec) Load(dir string) error {
	rank := d.transport.Rank()
	detsPath := config.RankPath(dir, "dets", rank, "dat")
	valsPath := config.RankPath(dir, "vals", rank, "dat")

	detsFile, err := os.Open(detsPath)
	if err != nil {
		return fmt.Errorf("distvec: load %s: %w", detsPath, err)
	}
	defer detsFile.Close()
	dr := bufio.NewReader(detsFile)

	idxLen := detbit.Bytes(d.nOrb)
	var positions []int
	for {
		idxBytes := make([]byte, idxLen)
		if _, err := io.ReadFull(dr, idxBytes); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("distvec: load %s: %w", detsPath, err)
		}
		pos := d.allocPos(idxBytes)
		p := int32(pos)
		d.hashTable[string(d.indices[pos])] = &p
		positions = append(positions, pos)
	}

	valsFile, err := os.Open(valsPath)
	if err != nil {
		return fmt.Errorf("distvec: load %s: %w", valsPath, err)
	}
	defer valsFile.Close()
	vr := bufio.NewReader(valsFile)

	for v := 0; v < d.nVecs; v++ {
		for _, pos := range positions {
			var tmp [8]byte
			if _, err := io.ReadFull(vr, tmp[:]); err != nil {
				return fmt.Errorf("distvec: load %s: %w", valsPath, err)
			}
			d.values[v][pos] = math.Float64frombits(binary.LittleEndian.Uint64(tmp[:]))
		}
	}
	log.Debugf("loaded %d entries from %s / %s", len(positions), detsPath, valsPath)
	return nil
}
