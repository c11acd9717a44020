package ring

import "fmt"

// ReaderCounters reports one reader's position relative to the writer.
type ReaderCounters struct {
	Guaranteed bool  `json:"guaranteed"`
	Cursor     int64 `json:"cursor"`
	Lag        int64 `json:"lag"`
}

// Counters reports the ring's current state for telemetry.
type Counters struct {
	Name       string           `json:"name"`
	Space      string           `json:"space"`
	Capacity   int64            `json:"capacity"`
	Contiguous int64            `json:"contiguous"`
	Head       int64            `json:"head"` // commit cursor
	Reserved   int64            `json:"reserved"`
	Tail       int64            `json:"tail"`
	NSequences int              `json:"nSequences"`
	Readers    []ReaderCounters `json:"readers"`
}

func (cnt Counters) String() string {
	return fmt.Sprintf("%s(%s) %dB head=%d tail=%d %dseqs %drdrs",
		cnt.Name, cnt.Space, cnt.Capacity, cnt.Head, cnt.Tail, cnt.NSequences, len(cnt.Readers))
}

// Counters returns a snapshot of ring state.
func (r *Ring) Counters() (cnt Counters) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cnt = Counters{
		Name:       r.name,
		Space:      r.space.String(),
		Capacity:   r.capacity,
		Contiguous: r.contiguous,
		Head:       r.commitHead,
		Reserved:   r.writeHead,
		Tail:       r.tail(),
		NSequences: len(r.seqs),
	}
	for rd := range r.readers {
		cnt.Readers = append(cnt.Readers, ReaderCounters{
			Guaranteed: rd.guaranteed,
			Cursor:     rd.guardPos(),
			Lag:        r.commitHead - rd.guardPos(),
		})
	}
	return cnt
}
