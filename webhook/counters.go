package webhook

import "sync/atomic"

// Counters are the pipeline's emitted metrics: cheap atomics surfaced
// through the health endpoint. Not a metrics system, just enough for an
// operator to see traffic shape.
type Counters struct {
	incoming    atomic.Int64
	processed   atomic.Int64
	outgoing    atomic.Int64
	failedTx    atomic.Int64
	rejected    atomic.Int64
	rateLimited atomic.Int64
	deadLetters atomic.Int64
}

func (c *Counters) Snapshot() map[string]int64 {
	if c == nil {
		return map[string]int64{}
	}
	return map[string]int64{
		"incoming_events":     c.incoming.Load(),
		"processed_deposits":  c.processed.Load(),
		"outgoing_events":     c.outgoing.Load(),
		"failed_tx_events":    c.failedTx.Load(),
		"rejected_requests":   c.rejected.Load(),
		"rate_limited":        c.rateLimited.Load(),
		"dead_letter_capture": c.deadLetters.Load(),
	}
}
