// Package series publishes study outputs (resilience scores, bias
// events, VPIN readings) onto a second ring-buffer-backed stream, each
// study applying its own aggregation policy to adjacent points that
// fall inside the same time window.
package series

// StudyPoint is one published value from a study, immutable once
// constructed like an order-book snapshot.
type StudyPoint struct {
	Symbol      string
	StudyName   string
	Timestamp   int64 // unix nanos
	Value       float64
	MidPrice    float64
	HaveMidPrice bool
	// FormatHint and ColorHint are optional display hints a study may
	// set; the core never reads or validates their contents.
	FormatHint string
	ColorHint  string
	IsNewBucket bool
}
