package series

// Policy decides how a study's new value combines with the pending
// value already accumulated for the current window bucket.
type Policy int

const (
	// Last overwrites the bucket's value with the newer one.
	Last Policy = iota
	// RunningMean folds the new value into the bucket's running
	// average: existing = (existing*(n-1) + new) / n.
	RunningMean
	// PassthroughNewBucket ignores the time window entirely: each value
	// replaces the bucket state and IsNewBucket mirrors the producer's
	// own flag, used by VPIN to mark volume-bucket boundaries regardless
	// of how much wall-clock time has elapsed.
	PassthroughNewBucket
)

type aggState struct {
	bucket int64
	value  float64
	count  int
}

// apply folds value into st under policy p. producerNewBucket is the
// producer's own view of whether this value starts a fresh bucket
// (e.g. a VPIN reading's bucket-fill/overflow flag); only
// PassthroughNewBucket consults it — every other policy derives
// isNewBucket purely from the window's own bucket transition.
func (p Policy) apply(st *aggState, bucket int64, value float64, producerNewBucket bool) (merged float64, isNewBucket bool) {
	if p == PassthroughNewBucket {
		st.bucket, st.value, st.count = bucket, value, 1
		return value, producerNewBucket
	}

	if st.count == 0 || st.bucket != bucket {
		st.bucket, st.value, st.count = bucket, value, 1
		return value, true
	}

	st.count++
	switch p {
	case RunningMean:
		st.value = (st.value*float64(st.count-1) + value) / float64(st.count)
	default: // Last
		st.value = value
	}
	return st.value, false
}
