package detect

import "github.com/rkarpov/carrierwatch/internal/iq"

// history keeps a bounded rolling window of the most recent raw
// samples, addressed by absolute stream offset, so snippets can be cut
// for events discovered a few spectra after the samples arrived.
type history struct {
	limit int
	buf   []complex64
	start uint64 // stream offset of buf[0]
}

func newHistory(limit int) *history {
	return &history{limit: limit}
}

func (h *history) end() uint64 {
	return h.start + uint64(len(h.buf))
}

// append extends the window with a block's samples. A sequence gap
// (replay sources may jump) resets the window to the new block.
func (h *history) append(b *iq.Block) {
	if b.Offset != h.end() {
		h.buf = h.buf[:0]
		h.start = b.Offset
	}
	h.buf = append(h.buf, b.Samples...)

	if excess := len(h.buf) - h.limit; excess > 0 {
		copy(h.buf, h.buf[excess:])
		h.buf = h.buf[:h.limit]
		h.start += uint64(excess)
	}
}

// slice appends the samples in [from, to) to dst, clipped to the
// retained window.
func (h *history) slice(from, to uint64, dst []complex64) []complex64 {
	if from < h.start {
		from = h.start
	}
	if end := h.end(); to > end {
		to = end
	}
	if to <= from {
		return dst
	}
	lo := from - h.start
	hi := to - h.start
	return append(dst, h.buf[lo:hi]...)
}
