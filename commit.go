package sealcap

// commitState is the sequencer's internal state. Any value outside the
// declared set is treated as idle.
type commitState uint8

const (
	stateIdle commitState = iota
	stateFeed
	stateLatch
)

const sealFeedBytes = 9

// CommitSequencer is the seal state machine. It accepts commit
// requests, snapshots the staged value and counters, drives the nine
// seal bytes through the shared engine, and latches the finished
// record as one atomic publish.
//
// The sequencer is the sole writer of the monotonic counter and the
// session lock. Both live for the power cycle and are cleared only by
// Reset.
type CommitSequencer struct {
	arb *Arbiter

	state   commitState
	staged  uint32
	byteIdx int

	// snapshot of the in-flight commit
	curValue  uint32
	curMono   uint32
	curSource byte

	mono          uint32
	session       uint8
	sessionLocked bool

	dropped   bool
	clearDrop bool

	rec       Record
	hasRecord bool

	// onCommit fires at commit accept and again at publish; the device
	// wires it to the read cursor reset.
	onCommit func()
}

// NewCommitSequencer binds a sequencer to its arbiter.
func NewCommitSequencer(arb *Arbiter) *CommitSequencer {
	return &CommitSequencer{arb: arb}
}

// StageValue latches a value for the next commit. Only the latest
// write before commit start is used; writes during an in-flight commit
// land in staging without affecting that commit.
func (s *CommitSequencer) StageValue(v uint32) { s.staged = v }

// Commit requests a seal of the staged value under source. A request
// while a commit is in flight is dropped and sets the sticky dropped
// flag; the flag clears only when a later accepted request completes.
func (s *CommitSequencer) Commit(source byte, sessionIn byte) bool {
	if s.state != stateIdle {
		// The in-flight commit predates this drop, so its completion
		// must not clear the flag.
		s.dropped = true
		s.clearDrop = false
		return false
	}
	if !s.sessionLocked {
		s.session = sessionIn
		s.sessionLocked = true
	}
	s.curValue = s.staged
	s.curMono = s.mono
	s.mono++ // the only write path to the monotonic counter
	s.curSource = source
	s.arb.Claim()
	s.arb.Init(ClientCommit)
	s.byteIdx = 0
	s.clearDrop = true
	s.state = stateFeed
	if s.onCommit != nil {
		s.onCommit()
	}
	return true
}

// Tick advances the state machine by one cycle.
func (s *CommitSequencer) Tick() {
	switch s.state {
	case stateIdle:
	case stateFeed:
		if s.arb.BusyTo(ClientCommit) {
			return
		}
		if s.byteIdx == sealFeedBytes {
			s.state = stateLatch
			return
		}
		b := sealBytes(s.curSource, s.curValue, s.curMono)
		s.arb.Feed(ClientCommit, b[s.byteIdx])
		s.byteIdx++
	case stateLatch:
		if s.arb.BusyTo(ClientCommit) {
			return
		}
		s.rec = Record{
			Value:   s.curValue,
			Mono:    s.curMono,
			Session: s.session,
			CRC16:   s.arb.Result(),
		}
		s.hasRecord = true
		s.arb.Release()
		if s.clearDrop {
			s.dropped = false
			s.clearDrop = false
		}
		s.state = stateIdle
		if s.onCommit != nil {
			s.onCommit()
		}
	default:
		// Illegal state values self-heal to idle, never fatal.
		s.state = stateIdle
	}
}

// Busy reports whether a commit is in flight.
func (s *CommitSequencer) Busy() bool { return s.state != stateIdle }

// Ready reports whether the sequencer can accept a commit.
func (s *CommitSequencer) Ready() bool { return s.state == stateIdle }

// Dropped returns the sticky dropped flag.
func (s *CommitSequencer) Dropped() bool { return s.dropped }

// Mono returns the monotonic counter's current value.
func (s *CommitSequencer) Mono() uint32 { return s.mono }

// Session returns the locked session id and whether it is locked yet.
func (s *CommitSequencer) Session() (uint8, bool) {
	return s.session, s.sessionLocked
}

// Record returns the last published record, if any commit has
// completed since reset.
func (s *CommitSequencer) Record() (Record, bool) {
	return s.rec, s.hasRecord
}

// Reset aborts any in-flight commit unconditionally, clears the
// monotonic counter, the session lock, the dropped flag, and the
// published record. No partial record survives.
func (s *CommitSequencer) Reset() {
	s.arb.Release()
	s.state = stateIdle
	s.staged = 0
	s.byteIdx = 0
	s.curValue = 0
	s.curMono = 0
	s.curSource = 0
	s.mono = 0
	s.session = 0
	s.sessionLocked = false
	s.dropped = false
	s.clearDrop = false
	s.rec = Record{}
	s.hasRecord = false
}
