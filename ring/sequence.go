package ring

// sequence is a registry entry: a contiguous epoch of ring bytes described by
// one immutable header. Handles given to callers hold a pointer plus the
// expired flag, checked on every use.
type sequence struct {
	id      uint64
	name    string
	timeTag uint64
	header  []byte
	begin   int64
	end     int64 // -1 while open
	refs    int
	expired bool
}

// SequenceInfo describes a live sequence.
type SequenceInfo struct {
	ID      uint64 `json:"id"`
	Name    string `json:"name"`
	TimeTag uint64 `json:"timeTag"`
	Begin   int64  `json:"begin"`
	End     int64  `json:"end"` // -1 while open
}

// Sequences lists the registry in begin-offset order.
func (r *Ring) Sequences() (list []SequenceInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.seqs {
		list = append(list, SequenceInfo{ID: s.id, Name: s.name, TimeTag: s.timeTag, Begin: s.begin, End: s.end})
	}
	return list
}
