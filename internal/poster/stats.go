package poster

import "sync"

// Stats are the running counters of a Poster. Counters only grow.
type Stats struct {
	RecordsProcessed int `json:"records_processed" yaml:"records_processed"`
	RecordsPosted    int `json:"records_posted" yaml:"records_posted"`
	RecordsCreated   int `json:"records_created" yaml:"records_created"`
	RecordsUpdated   int `json:"records_updated" yaml:"records_updated"`
	RecordsFailed    int `json:"records_failed" yaml:"records_failed"`
	BatchesPosted    int `json:"batches_posted" yaml:"batches_posted"`
	BatchesFailed    int `json:"batches_failed" yaml:"batches_failed"`
	BadLines         int `json:"bad_lines" yaml:"bad_lines"`
}

// InFlight is the number of processed records with no outcome yet.
func (s Stats) InFlight() int {
	return s.RecordsProcessed - s.RecordsCreated - s.RecordsUpdated - s.RecordsFailed
}

type statsBox struct {
	mu sync.Mutex
	s  Stats
}

func (b *statsBox) update(fn func(*Stats)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(&b.s)
}

func (b *statsBox) snapshot() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.s
}
