package capture

// slot is the scratch buffer for one time interval of packets before commit.
// Layout is time-major: frame (t, src) lives at ((t*nsrc)+src)*frameBytes.
type slot struct {
	idx     int64 // time-slot index, -1 when empty
	data    []byte
	bitmap  []uint64 // one bit per frame
	nframes int
	ngood   int
}

func newSlot(nbytes, nframes int) *slot {
	s := &slot{
		data:    make([]byte, nbytes),
		bitmap:  make([]uint64, (nframes+63)/64),
		nframes: nframes,
	}
	s.reset(-1)
	return s
}

func (s *slot) reset(idx int64) {
	s.idx = idx
	s.ngood = 0
	for i := range s.data {
		s.data[i] = 0
	}
	for i := range s.bitmap {
		s.bitmap[i] = 0
	}
}

// testSet sets frame bit i, reporting whether it was already set.
func (s *slot) testSet(i int) bool {
	w, m := i/64, uint64(1)<<(i%64)
	old := s.bitmap[w]&m != 0
	s.bitmap[w] |= m
	return old
}

// scatter places one packet's samples, skipping duplicates.
// It reports whether any new frame was written.
func (s *slot) scatter(eng *Engine, desc *PacketDesc, payload []byte) (anyNew bool) {
	tIn := int(int64(desc.Seq) - s.idx*int64(eng.cfg.BufferNtime))
	rel := desc.Src - eng.cfg.Src0
	for k := 0; k < desc.Ntime; k++ {
		fidx := (tIn+k)*eng.cfg.Nsrc + rel
		if s.testSet(fidx) {
			continue
		}
		frame := s.data[fidx*eng.frame : (fidx+1)*eng.frame]
		eng.format.Scatter(desc, payload[k*eng.frame:(k+1)*eng.frame], frame)
		s.ngood++
		anyNew = true
	}
	return anyNew
}
