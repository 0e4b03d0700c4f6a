package sealcap

// ReadSequencer exposes the published record through a 32-bit window
// as three slices selected by a cursor. Because the consumer's read
// transaction is itself multi-step, the cursor advances only on the
// transport layer's read-complete edge — never on the read-in-progress
// level — so the value returned stays bit-stable for the whole of one
// logical read.
type ReadSequencer struct {
	src    *CommitSequencer
	cursor uint8
}

// NewReadSequencer binds a read sequencer to the record source.
func NewReadSequencer(src *CommitSequencer) *ReadSequencer {
	return &ReadSequencer{src: src}
}

// Cursor returns the current slice index.
func (r *ReadSequencer) Cursor() uint8 { return r.cursor }

// Read returns the slice under the cursor with no side effect. Before
// the first commit all slices read zero.
func (r *ReadSequencer) Read() uint32 {
	rec, _ := r.src.Record()
	return rec.Words()[r.cursor]
}

// Complete is the one-tick read-complete pulse. Reading past slice 2
// wraps to slice 0 and returns the (possibly superseded) value again;
// callers are expected to read exactly three times per commit.
func (r *ReadSequencer) Complete() {
	r.cursor = (r.cursor + 1) % 3
}

// ResetCursor forces the cursor back to slice 0. Fired whenever a
// commit starts or completes, even mid-readout.
func (r *ReadSequencer) ResetCursor() { r.cursor = 0 }
