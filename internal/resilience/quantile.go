package resilience

import "sort"

// P2Quantile is an online, constant-space estimator for a single
// quantile using the P² (Jain & Chlamtac, 1985) algorithm: five markers
// track the quantile and its neighbourhood without retaining samples,
// giving O(1) memory and update cost regardless of stream length.
type P2Quantile struct {
	p       float64
	count   int
	initial []float64

	n       [5]float64
	npos    [5]float64
	dn      [5]float64
	heights [5]float64
}

// NewP2Quantile constructs an estimator for quantile p, e.g. 0.5 for the
// running median.
func NewP2Quantile(p float64) *P2Quantile {
	return &P2Quantile{
		p:  p,
		dn: [5]float64{0, p / 2, p, (1 + p) / 2, 1},
	}
}

// Warm reports whether five samples have been observed, the minimum the
// five-marker algorithm needs before it can report an estimate.
func (q *P2Quantile) Warm() bool { return q.count >= 5 }

// Count returns the number of samples observed so far.
func (q *P2Quantile) Count() int { return q.count }

// Add feeds one observation into the estimator.
func (q *P2Quantile) Add(x float64) {
	q.count++

	if q.count <= 5 {
		q.initial = append(q.initial, x)
		if q.count == 5 {
			sort.Float64s(q.initial)
			for i := 0; i < 5; i++ {
				q.heights[i] = q.initial[i]
				q.n[i] = float64(i + 1)
			}
			q.npos = [5]float64{1, 1 + 2*q.p, 1 + 4*q.p, 3 + 2*q.p, 5}
		}
		return
	}

	k := q.findCell(x)
	switch {
	case x < q.heights[0]:
		q.heights[0] = x
		k = 0
	case x > q.heights[4]:
		q.heights[4] = x
		k = 3
	}

	for i := k + 1; i < 5; i++ {
		q.n[i]++
	}
	for i := 0; i < 5; i++ {
		q.npos[i] += q.dn[i]
	}

	for i := 1; i <= 3; i++ {
		d := q.npos[i] - q.n[i]
		if (d >= 1 && q.n[i+1]-q.n[i] > 1) || (d <= -1 && q.n[i-1]-q.n[i] < -1) {
			sign := 1.0
			if d < 0 {
				sign = -1.0
			}
			height := q.parabolic(i, sign)
			if q.heights[i-1] < height && height < q.heights[i+1] {
				q.heights[i] = height
			} else {
				q.heights[i] = q.linear(i, sign)
			}
			q.n[i] += sign
		}
	}
}

func (q *P2Quantile) findCell(x float64) int {
	for i := 0; i < 4; i++ {
		if x < q.heights[i+1] {
			return i
		}
	}
	return 3
}

func (q *P2Quantile) parabolic(i int, d float64) float64 {
	return q.heights[i] + d/(q.n[i+1]-q.n[i-1])*(
		(q.n[i]-q.n[i-1]+d)*(q.heights[i+1]-q.heights[i])/(q.n[i+1]-q.n[i])+
			(q.n[i+1]-q.n[i]-d)*(q.heights[i]-q.heights[i-1])/(q.n[i]-q.n[i-1]))
}

func (q *P2Quantile) linear(i int, d float64) float64 {
	j := i + int(d)
	return q.heights[i] + d*(q.heights[j]-q.heights[i])/(q.n[j]-q.n[i])
}

// Value returns the current quantile estimate. Before Warm, it returns
// the best estimate available from the samples seen so far (0 if none).
func (q *P2Quantile) Value() float64 {
	if q.count == 0 {
		return 0
	}
	if q.count < 5 {
		sorted := append([]float64(nil), q.initial...)
		sort.Float64s(sorted)
		idx := int(q.p * float64(len(sorted)-1))
		return sorted[idx]
	}
	return q.heights[2]
}
