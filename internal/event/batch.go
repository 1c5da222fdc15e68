package event

// FrameBatch is one frame's dispatched events in the realized order the
// dispatcher invoked them. The ledger persists batches verbatim so a replay
// reproduces exactly what happened, not merely a permitted interleaving.
type FrameBatch struct {
	Frame  uint64   `json:"frame"`
	Events []Record `json:"events"`
}

// Clone returns a deep copy safe to retain after the source is recycled.
func (b FrameBatch) Clone() FrameBatch {
	events := make([]Record, len(b.Events))
	copy(events, b.Events)
	return FrameBatch{Frame: b.Frame, Events: events}
}
