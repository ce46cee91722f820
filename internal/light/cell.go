package light

import "sync/atomic"

// Reading is one value published to a DistanceCell. Seq counts the stores
// made to the cell; a zero Seq means nothing has been stored yet.
type Reading struct {
	Centimeters int
	Seq         uint32
}

// DistanceCell holds the latest distance sample. The value and its
// sequence number share one 64-bit word so a Load always returns a pair
// written by a single Store.
type DistanceCell struct {
	word atomic.Uint64
}

func pack(seq uint32, cm uint32) uint64 { return uint64(seq)<<32 | uint64(cm) }

func unpack(w uint64) Reading {
	return Reading{Centimeters: int(uint32(w)), Seq: uint32(w >> 32)}
}

// Store publishes cm and returns the sequence number it was stored under.
// Negative distances are rejected and leave the cell unchanged.
func (c *DistanceCell) Store(cm int) (uint32, bool) {
	if cm < 0 || int64(cm) > int64(^uint32(0)) {
		return 0, false
	}
	for {
		old := c.word.Load()
		seq := uint32(old>>32) + 1
		if seq == 0 {
			seq = 1
		}
		if c.word.CompareAndSwap(old, pack(seq, uint32(cm))) {
			return seq, true
		}
	}
}

// Load returns the latest reading. ok is false until the first Store.
func (c *DistanceCell) Load() (r Reading, ok bool) {
	r = unpack(c.word.Load())
	return r, r.Seq != 0
}
