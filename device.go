package sealcap

// Control register write layout.
const (
	ctrlChecksumReset = 1 << 0
	ctrlCommit        = 1 << 1
	ctrlSourceShift   = 2
)

// Control register read layout.
const (
	// StatusBusy is set while a commit is in flight.
	StatusBusy = 1 << 0
	// StatusReady is set when the sequencer can accept a commit.
	StatusReady = 1 << 1
	// StatusDropped is the sticky commit-dropped flag.
	StatusDropped = 1 << 2
)

// Ad hoc checksum register layout.
const (
	// CRCInit in a checksum register write re-initializes the engine.
	CRCInit = 1 << 8
	// CRCBusy in a checksum register read means the engine is
	// unavailable to the ad hoc client.
	CRCBusy = 1 << 16
)

// Device is the register-level model of the seal subsystem: the shared
// checksum engine, the arbiter, the commit sequencer, and the read
// sequencer behind the DATA/CONTROL register pair plus the ad hoc
// client's own checksum register pair.
//
// The model is a single synchronous actor: register accesses latch
// inputs or return outputs, and Tick advances every component exactly
// once in fixed order. Nothing blocks; everything is pollable.
type Device struct {
	eng *Engine
	arb *Arbiter
	seq *CommitSequencer
	rdr *ReadSequencer

	sessionIn byte
}

// NewDevice builds a device in the power-on reset state.
func NewDevice() *Device {
	eng := NewEngine()
	arb := NewArbiter(eng)
	seq := NewCommitSequencer(arb)
	rdr := NewReadSequencer(seq)
	seq.onCommit = rdr.ResetCursor
	return &Device{eng: eng, arb: arb, seq: seq, rdr: rdr}
}

// SetSessionInput drives the free-running counter byte the sequencer
// samples exactly once, at the first commit after reset.
func (d *Device) SetSessionInput(b byte) { d.sessionIn = b }

// WriteData stages a 32-bit value for the next commit.
func (d *Device) WriteData(v uint32) { d.seq.StageValue(v) }

// ReadData returns the slice under the read cursor. It has no side
// effect; the cursor moves only on DataReadComplete.
func (d *Device) ReadData() uint32 { return d.rdr.Read() }

// DataReadComplete is the bus layer's read-complete edge for the DATA
// register. One pulse per finished logical read.
func (d *Device) DataReadComplete() { d.rdr.Complete() }

// WriteControl decodes a control register write:
// {source_id[9:2], commit bit 1, checksum_reset bit 0}.
// Commit takes priority over a simultaneous checksum reset.
func (d *Device) WriteControl(v uint16) {
	switch {
	case v&ctrlCommit != 0:
		d.seq.Commit(byte(v>>ctrlSourceShift), d.sessionIn)
	case v&ctrlChecksumReset != 0:
		d.arb.Init(ClientAdHoc)
	}
}

// ReadControl returns the status bits
// {commit_dropped bit 2, ready bit 1, busy bit 0}.
func (d *Device) ReadControl() uint16 {
	var v uint16
	if d.seq.Busy() {
		v |= StatusBusy
	}
	if d.seq.Ready() {
		v |= StatusReady
	}
	if d.seq.Dropped() {
		v |= StatusDropped
	}
	return v
}

// WriteCRC is the ad hoc client's checksum register write: bit 8
// re-initializes the engine, otherwise the low byte is fed. Writes
// while the commit sequencer owns the engine are silently ignored.
func (d *Device) WriteCRC(v uint32) {
	if v&CRCInit != 0 {
		d.arb.Init(ClientAdHoc)
		return
	}
	d.arb.Feed(ClientAdHoc, byte(v))
}

// ReadCRC is the ad hoc client's checksum register read:
// {busy bit 16, result[15:0]}. Busy stays set for the commit
// sequencer's entire ownership window.
func (d *Device) ReadCRC() uint32 {
	v := uint32(d.arb.Result())
	if d.arb.BusyTo(ClientAdHoc) {
		v |= CRCBusy
	}
	return v
}

// Record returns the last published seal record, if any.
func (d *Device) Record() (Record, bool) { return d.seq.Record() }

// Tick advances all components by one cycle in fixed order: the
// sequencer first, then the engine and arbiter. No component observes
// a partially updated peer within one tick.
func (d *Device) Tick() {
	d.seq.Tick()
	d.arb.Tick()
}

// TickN advances n cycles.
func (d *Device) TickN(n int) {
	for i := 0; i < n; i++ {
		d.Tick()
	}
}

// TickUntilReady ticks until the sequencer is idle, up to budget
// cycles, and reports whether it got there.
func (d *Device) TickUntilReady(budget int) bool {
	for i := 0; i < budget; i++ {
		if d.seq.Ready() {
			return true
		}
		d.Tick()
	}
	return d.seq.Ready()
}

// Reset models any reset source: external pin, watchdog expiry, or
// software request. It aborts mid-commit work unconditionally and
// clears everything to the power-on state. The session input is an
// external signal and is not cleared.
func (d *Device) Reset() {
	d.seq.Reset()
	d.rdr.ResetCursor()
	d.arb.Reset()
}
