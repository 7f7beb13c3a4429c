package compress

// AliasTable is Walker's alias table for O(1) categorical sampling,
// built once per set-up call and reused across many draws (spec.md
// §4.4/§4.7): the heat-bath Power-Pitzer sampler's CDFs are expensive to
// build but sampled in the inner loop, so an alias table amortizes that
// cost far better than a per-draw binary search over a CDF.
type AliasTable struct {
	Alias []int
	Probs []float64
}

// SetupAlias builds an alias table from a discrete probability vector,
// which must already be normalized to sum to 1.
func SetupAlias(probs []float64) *AliasTable {
	n := len(probs)
	t := &AliasTable{Alias: make([]int, n), Probs: make([]float64, n)}

	var smaller, bigger []int
	for i, p := range probs {
		t.Alias[i] = i
		t.Probs[i] = float64(n) * p
		if t.Probs[i] < 1 {
			smaller = append(smaller, i)
		} else {
			bigger = append(bigger, i)
		}
	}

	for len(smaller) > 0 && len(bigger) > 0 {
		s := smaller[len(smaller)-1]
		smaller = smaller[:len(smaller)-1]
		b := bigger[len(bigger)-1]
		bigger = bigger[:len(bigger)-1]

		t.Alias[s] = b
		t.Probs[b] += t.Probs[s] - 1
		if t.Probs[b] < 1 {
			smaller = append(smaller, b)
		} else {
			bigger = append(bigger, b)
		}
	}
	return t
}

// Sample draws one index from the table given two independent uniform
// [0,1) draws (u1 picks a bucket, u2 decides between the bucket's own
// state and its alias).
func (t *AliasTable) Sample(u1, u2 float64) int {
	n := len(t.Probs)
	chosen := int(u1 * float64(n))
	if chosen >= n {
		chosen = n - 1
	}
	if u2 < t.Probs[chosen] {
		return chosen
	}
	return t.Alias[chosen]
}
