package sealcap

import (
	"errors"
	"fmt"
	"time"
)

// Entry is one sealed record as captured off the device, with the
// capture-side sequence number and timestamp attached.
type Entry struct {
	Seq        uint64 // 1-based capture sequence
	CapturedAt int64  // unix nanos, host clock
	Source     byte
	Record     Record
}

// TailState is the store's view of the newest captured entry, used to
// resume capture and verification across restarts.
type TailState struct {
	Seq     uint64
	Mono    uint32
	Session uint8
}

// Store abstracts persistence of captured entries. Implementations
// must reject non-contiguous appends.
type Store interface {
	Append(e Entry, tail TailState) error
	Iter(startSeq uint64) (<-chan Entry, func() error, error)
	Tail() (TailState, bool, error)
}

// ErrSealTimeout indicates the device did not return to idle within
// the capture tick budget.
var ErrSealTimeout = errors.New("seal timeout: device stuck busy")

// ErrCommitRejected indicates the device dropped the commit request.
var ErrCommitRejected = errors.New("commit rejected: device busy")

// CaptureConfig controls capture behavior.
type CaptureConfig struct {
	// TickBudget bounds how many cycles one commit may take before the
	// capture gives up (0 = default).
	TickBudget int
}

const defaultTickBudget = 4096

// Capture drives a Device through commits and persists the sealed
// records. It is the single driver of the device's seal registers; the
// ad hoc checksum register remains free for other users.
type Capture struct {
	cfg   CaptureConfig
	dev   *Device
	store Store
	seq   uint64
}

// NewCapture binds a capture session to a device and a store, resuming
// the sequence from the store's tail when one exists.
func NewCapture(cfg CaptureConfig, dev *Device, st Store) (*Capture, error) {
	if cfg.TickBudget == 0 {
		cfg.TickBudget = defaultTickBudget
	}
	c := &Capture{cfg: cfg, dev: dev, store: st}
	tail, ok, err := st.Tail()
	if err != nil {
		return nil, fmt.Errorf("read store tail: %w", err)
	}
	if ok {
		c.seq = tail.Seq
	}
	return c, nil
}

// Commit seals value under source on the device, reads the record
// back, cross-checks the checksum, and appends it to the store. On a
// store failure the capture sequence does not advance; the device-side
// monotonic counter already has, so the next successful commit will
// show the skip.
func (c *Capture) Commit(source byte, value uint32) (Entry, error) {
	if c.dev.ReadControl()&StatusBusy != 0 {
		return Entry{}, ErrCommitRejected
	}

	c.dev.WriteData(value)
	c.dev.WriteControl(uint16(source)<<ctrlSourceShift | ctrlCommit)
	if !c.dev.TickUntilReady(c.cfg.TickBudget) {
		return Entry{}, ErrSealTimeout
	}

	var words [3]uint32
	for i := range words {
		words[i] = c.dev.ReadData()
		c.dev.DataReadComplete()
	}
	rec := RecordFromWords(words)

	if !rec.Verify(source) {
		return Entry{}, fmt.Errorf("seq %d: %w", c.seq+1, ErrChecksumMismatch)
	}

	e := Entry{
		Seq:        c.seq + 1,
		CapturedAt: time.Now().UnixNano(),
		Source:     source,
		Record:     rec,
	}
	tail := TailState{Seq: e.Seq, Mono: rec.Mono, Session: rec.Session}

	if err := c.store.Append(e, tail); err != nil {
		return Entry{}, fmt.Errorf("append entry %d: %w", e.Seq, err)
	}

	c.seq = e.Seq
	return e, nil
}

// Seq returns the last persisted capture sequence number.
func (c *Capture) Seq() uint64 { return c.seq }

// Manifest describes the capture session for collector registration.
// The session id is only known after the first commit.
func (c *Capture) Manifest(deviceID string, boot time.Time) (DeviceManifest, bool) {
	sid, locked := c.dev.seq.Session()
	if !locked {
		return DeviceManifest{}, false
	}
	return DeviceManifest{DeviceID: deviceID, Session: sid, BootTime: boot}, true
}
