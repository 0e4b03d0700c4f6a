package sealcap

import "errors"

// ErrGap indicates missing or non-sequential entries were detected
// during verification.
var ErrGap = errors.New("gap or reordering detected")

// ErrChecksumMismatch indicates a recomputed CRC16 does not match the
// latched one, suggesting tampering or corruption in flight.
var ErrChecksumMismatch = errors.New("checksum mismatch: record corrupted or forged")

// ErrSessionMismatch indicates entries that claim the same power cycle
// carry different session ids.
var ErrSessionMismatch = errors.New("session id mismatch: entries span a reset")

// ErrNonMonotonic indicates the mono count did not advance by exactly
// one between consecutive entries.
var ErrNonMonotonic = errors.New("mono count not advancing by one")

// checkEntry applies the per-entry and chaining rules against the
// previous tail. The first entry of a power cycle (tail.Seq == 0) locks
// the session and leaves the mono count unconstrained.
func checkEntry(tail TailState, e Entry) (TailState, error) {
	if e.Seq != tail.Seq+1 {
		return tail, ErrGap
	}
	if !e.Record.Verify(e.Source) {
		return tail, ErrChecksumMismatch
	}
	if tail.Seq != 0 {
		if e.Record.Session != tail.Session {
			return tail, ErrSessionMismatch
		}
		// One device commit per captured entry; the counter wraps
		// silently at 2^32.
		if e.Record.Mono != tail.Mono+1 {
			return tail, ErrNonMonotonic
		}
	}
	return TailState{Seq: e.Seq, Mono: e.Record.Mono, Session: e.Record.Session}, nil
}

// VerifyFrom verifies entries as the continuation of a previously
// verified tail and returns the new tail.
func VerifyFrom(entries []Entry, tail TailState) (TailState, error) {
	for _, e := range entries {
		var err error
		tail, err = checkEntry(tail, e)
		if err != nil {
			return tail, err
		}
	}
	return tail, nil
}

// VerifyEntries verifies a full capture from its first entry.
func VerifyEntries(entries []Entry) error {
	_, err := VerifyFrom(entries, TailState{})
	return err
}
