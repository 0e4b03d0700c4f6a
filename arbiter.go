package sealcap

// Client identifies one of the two logical requesters of the shared
// checksum engine.
type Client uint8

// Ownership states of the shared engine.
const (
	ClientNone Client = iota
	ClientAdHoc
	ClientCommit
)

// Arbiter routes feed requests from exactly two clients into the one
// Engine. Priority is fixed and asymmetric: the commit sequencer always
// preempts; the ad hoc client never interrupts a commit. While the
// commit sequencer owns the engine the ad hoc client observes busy for
// the entire ownership window, not merely per byte.
type Arbiter struct {
	eng   *Engine
	owner Client
}

// NewArbiter wraps eng for two-client arbitration.
func NewArbiter(eng *Engine) *Arbiter {
	return &Arbiter{eng: eng}
}

// Owner returns the current ownership flag.
func (a *Arbiter) Owner() Client { return a.owner }

// Claim grants the engine to the commit sequencer unconditionally.
func (a *Arbiter) Claim() { a.owner = ClientCommit }

// Release ends the commit sequencer's ownership window. The engine is
// left in whatever terminal state the commit sequence produced; the ad
// hoc client must Init before reuse.
func (a *Arbiter) Release() {
	if a.owner == ClientCommit {
		a.owner = ClientNone
	}
}

// BusyTo reports whether the engine is unavailable to client c: either
// the engine itself is busy, or the other client currently owns it.
func (a *Arbiter) BusyTo(c Client) bool {
	if a.owner != ClientNone && a.owner != c {
		return true
	}
	return a.eng.Busy()
}

// Feed forwards one byte on behalf of c. Feeds from a locked-out or
// backpressured client are silently ignored.
func (a *Arbiter) Feed(c Client, b byte) bool {
	if a.BusyTo(c) {
		return false
	}
	if !a.eng.Feed(b) {
		return false
	}
	if c == ClientAdHoc {
		a.owner = ClientAdHoc
	}
	return true
}

// Init re-initializes the engine on behalf of c. Ignored while the
// other client owns the engine.
func (a *Arbiter) Init(c Client) bool {
	if a.owner != ClientNone && a.owner != c {
		return false
	}
	a.eng.Init()
	return true
}

// Result returns the engine's running value; readable by any client.
func (a *Arbiter) Result() uint16 { return a.eng.Result() }

// Tick advances the engine and drops ad hoc ownership once its byte
// has landed. Commit ownership ends only via Release.
func (a *Arbiter) Tick() {
	a.eng.Tick()
	if a.owner == ClientAdHoc && !a.eng.Busy() {
		a.owner = ClientNone
	}
}

// Reset returns the arbiter and engine to the power-on state.
func (a *Arbiter) Reset() {
	a.owner = ClientNone
	a.eng.Init()
}
