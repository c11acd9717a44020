package capture

import "fmt"

// Counters contains capture statistics.
// NReceived = NGood + NRejected + NLate + NDuplicate once each received packet
// has been processed; a snapshot taken while a packet is in progress may count
// it in NReceived only.
type Counters struct {
	NReceived  uint64 `json:"nReceived"`
	NGood      uint64 `json:"nGood"`
	NRejected  uint64 `json:"nRejected"`
	NLate      uint64 `json:"nLate"`
	NDuplicate uint64 `json:"nDuplicate"`

	NSequences   int `json:"nSequences"`
	NSeqRejected int `json:"nSeqRejected"`

	NSlotsCommitted uint64 `json:"nSlotsCommitted"`
	NBytesCommitted uint64 `json:"nBytesCommitted"`
	NFramesGood     uint64 `json:"nFramesGood"`
	NFramesMissing  uint64 `json:"nFramesMissing"`
}

func (cnt Counters) String() string {
	return fmt.Sprintf("%drecv %dgood %drej %dlate %ddup, %dseqs %dslots %dB",
		cnt.NReceived, cnt.NGood, cnt.NRejected, cnt.NLate, cnt.NDuplicate,
		cnt.NSequences, cnt.NSlotsCommitted, cnt.NBytesCommitted)
}
