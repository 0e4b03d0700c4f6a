package sealcap

import "errors"

// Verifier is the streaming form of VerifyFrom: it consumes entries
// one at a time and carries the verified tail forward. The collector
// uses one per device for verify-on-ingest.
type Verifier struct {
	tail TailState
}

// NewVerifier returns a verifier expecting a capture from its first
// entry.
func NewVerifier() *Verifier { return &Verifier{} }

// ResumeVerifier returns a verifier continuing from a previously
// verified tail.
func ResumeVerifier(tail TailState) *Verifier { return &Verifier{tail: tail} }

// Verify checks one entry against the verified tail and advances it.
// On error the tail is unchanged, so a corrected retransmission of the
// same entry can still pass.
func (v *Verifier) Verify(e Entry) error {
	tail, err := v.Check(e)
	if err != nil {
		return err
	}
	v.tail = tail
	return nil
}

// Check verifies one entry without advancing the tail, returning the
// tail Advance would commit. Callers that persist entries check first,
// append, then advance, so a failed append leaves the verifier in step
// with the store.
func (v *Verifier) Check(e Entry) (TailState, error) {
	return checkEntry(v.tail, e)
}

// Advance commits a tail previously returned by Check.
func (v *Verifier) Advance(tail TailState) { v.tail = tail }

// Tail returns the verified tail state.
func (v *Verifier) Tail() TailState { return v.tail }

// VerifyStore replays a store against a verifier from scratch and
// checks that the store's recorded tail matches the verified one.
func VerifyStore(st Store) error {
	ch, done, err := st.Iter(1)
	if err != nil {
		return err
	}
	defer done()

	v := NewVerifier()
	for e := range ch {
		if err := v.Verify(e); err != nil {
			return err
		}
	}

	tail, ok, err := st.Tail()
	if err != nil {
		return err
	}
	if !ok {
		if v.Tail().Seq == 0 {
			return nil
		}
		return errors.New("tail state unavailable")
	}
	if tail != v.Tail() {
		return errors.New("stored tail does not match verified entries")
	}
	return nil
}
