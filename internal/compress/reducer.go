package compress

import "github.com/dairdre/gofries/internal/transport"

// TransportReducer adapts a transport.Transport into the Reducer this
// package's kernels need.
type TransportReducer struct {
	T transport.Transport
}

func (r TransportReducer) SumAll(local float64) float64 { return r.T.AllReduceSumFloat(local) }
func (r TransportReducer) SumAllInt(local int) int       { return r.T.AllReduceSumInt(local) }
func (r TransportReducer) Broadcast(rn float64) float64  { return r.T.Broadcast(rn) }
func (r TransportReducer) AllGather(local float64) []float64 {
	return r.T.AllGatherFloat(local)
}
