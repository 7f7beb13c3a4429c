// Package adder implements the cross-process staging protocol of
// spec.md §4.6: per-destination send buffers with a fixed capacity, one
// all-to-all-shaped flush per call that exchanges counts then payloads,
// and a local commit against a Committer (the distributed vector).
package adder

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/dairdre/gofries/internal/detbit"
	"github.com/dairdre/gofries/internal/transport"
)

// ErrCapacityExceeded is returned by Stage when a destination row is
// already at adder_cap: spec §4.6 requires the staging routine refuse
// over-capacity adds with a fatal error rather than growing silently, so
// callers must flush before this can happen in a well-tuned run.
var ErrCapacityExceeded = errors.New("adder: destination buffer at capacity, flush required")

// Committer is implemented by the distributed vector: it applies the
// add_elements commit semantics of spec §4.5 to a batch of entries
// received from one source process, in order, and reports which
// contributions were kept (an add from a noninitiator that would have
// created a new slot is dropped, per spec's initiator rule) for the
// return-leg initiator accounting spec §4.6 describes.
type Committer interface {
	AddElements(idx [][]byte, val []float64, ini []bool) (kept []bool)
}

type entry struct {
	idx []byte
	val float64
	ini bool
}

// Adder buffers per-destination adds and flushes them through a
// transport.Transport in the two-phase protocol of spec §4.6.
type Adder struct {
	nOrb   int
	capPer int
	hProc  func(idx []byte) int
	send   [][]entry
}

// New builds an Adder for nProcs destinations, each capped at capPer
// pending entries, using hProc (spec's h_proc) to route an index to its
// owning process.
func New(nProcs, capPer, nOrb int, hProc func(idx []byte) int) *Adder {
	return &Adder{
		nOrb:   nOrb,
		capPer: capPer,
		hProc:  hProc,
		send:   make([][]entry, nProcs),
	}
}

// Stage buffers one (idx, val, ini) contribution for its destination
// process, returning the buffer position within that destination's row.
func (a *Adder) Stage(idx []byte, val float64, ini bool) (pos int, err error) {
	dest := a.hProc(idx)
	if len(a.send[dest]) >= a.capPer {
		return 0, ErrCapacityExceeded
	}
	idxCopy := append([]byte(nil), idx...)
	a.send[dest] = append(a.send[dest], entry{idx: idxCopy, val: val, ini: ini})
	return len(a.send[dest]) - 1, nil
}

// wireLen is the byte length of a staged index once the initiator flag is
// folded in: one bit wider than the raw index, per spec's "buffers one
// bit wider than the raw index so the flag never aliases data."
func wireLen(nOrb int) int {
	bits := 2 * nOrb
	if bits%8 == 0 {
		return bits/8 + 1
	}
	return detbit.Bytes(nOrb)
}

func encodeIndex(idx []byte, nOrb int, ini bool) []byte {
	wl := wireLen(nOrb)
	out := make([]byte, wl)
	copy(out, idx)
	bits := 2 * nOrb
	if bits%8 == 0 {
		if ini {
			out[wl-1] = 1
		}
	} else if ini {
		flagBit := uint(bits % 8)
		out[wl-1] |= 1 << flagBit
	}
	return out
}

func decodeIndex(wire []byte, nOrb int) (idx []byte, ini bool) {
	idxLen := detbit.Bytes(nOrb)
	idx = make([]byte, idxLen)
	copy(idx, wire)
	bits := 2 * nOrb
	if bits%8 == 0 {
		ini = wire[len(wire)-1]&1 != 0
	} else {
		flagBit := uint(bits % 8)
		ini = wire[idxLen-1]&(1<<flagBit) != 0
		idx[idxLen-1] &^= 1 << flagBit
	}
	return idx, ini
}

const float64Size = 8

// PerDestResult is the flush outcome for one destination: the number of
// entries sent, and (only meaningful for FRI initiator accounting) which
// of those were actually kept by the receiving process.
type PerDestResult struct {
	Kept []bool
}

// Flush runs the two-phase exchange: exchange counts, exchange payloads,
// commit locally against recv, and ship a success/fail return leg back to
// the original senders so FRI initiator bookkeeping (PT2 weight sums) can
// use it. It drains all send buffers regardless of outcome.
func Flush(a *Adder, t transport.Transport, commit Committer) []PerDestResult {
	nProcs := t.NProcs()
	sendCounts := make([]int, nProcs)
	sendBufs := make([][]byte, nProcs)
	for p, entries := range a.send {
		sendCounts[p] = len(entries)
		sendBufs[p] = serialize(entries, a.nOrb)
	}
	t.AllToAll(sendCounts)
	recvBufs := t.AllToAllV(sendBufs)

	returnBufs := make([][]byte, nProcs)
	for src, buf := range recvBufs {
		idxs, vals, inis := deserialize(buf, a.nOrb)
		kept := commit.AddElements(idxs, vals, inis)
		rb := make([]byte, len(kept))
		for i, k := range kept {
			if k {
				rb[i] = 1
			}
		}
		returnBufs[src] = rb
	}
	returnRecv := t.AllToAllV(returnBufs)

	results := make([]PerDestResult, nProcs)
	for p := range results {
		kept := make([]bool, len(a.send[p]))
		for i := range kept {
			if i < len(returnRecv[p]) {
				kept[i] = returnRecv[p][i] != 0
			}
		}
		results[p] = PerDestResult{Kept: kept}
	}

	a.send = make([][]entry, nProcs)
	return results
}

func serialize(entries []entry, nOrb int) []byte {
	wl := wireLen(nOrb)
	buf := make([]byte, 0, len(entries)*(wl+float64Size))
	for _, e := range entries {
		buf = append(buf, encodeIndex(e.idx, nOrb, e.ini)...)
		buf = appendFloat64(buf, e.val)
	}
	return buf
}

func appendFloat64(buf []byte, v float64) []byte {
	var tmp [float64Size]byte
	binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(v))
	return append(buf, tmp[:]...)
}

func readFloat64(b []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

func deserialize(buf []byte, nOrb int) (idxs [][]byte, vals []float64, inis []bool) {
	wl := wireLen(nOrb)
	stride := wl + float64Size
	n := len(buf) / stride
	idxs = make([][]byte, 0, n)
	vals = make([]float64, 0, n)
	inis = make([]bool, 0, n)
	for i := 0; i < n; i++ {
		off := i * stride
		idx, ini := decodeIndex(buf[off:off+wl], nOrb)
		v := readFloat64(buf[off+wl : off+stride])
		idxs = append(idxs, idx)
		vals = append(vals, v)
		inis = append(inis, ini)
	}
	return idxs, vals, inis
}
