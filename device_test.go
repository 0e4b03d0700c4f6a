package sealcap

import "testing"

// commitValue drives one commit through the register interface.
func commitValue(t *testing.T, dev *Device, source byte, value uint32) Record {
	t.Helper()
	dev.WriteData(value)
	dev.WriteControl(ctrlCommit | uint16(source)<<ctrlSourceShift)
	if !dev.TickUntilReady(4096) {
		t.Fatal("commit did not complete")
	}
	rec, ok := dev.Record()
	if !ok {
		t.Fatal("no record after commit")
	}
	return rec
}

// readWords performs one full three-slice readout.
func readWords(dev *Device) [3]uint32 {
	var w [3]uint32
	for i := range w {
		w[i] = dev.ReadData()
		dev.DataReadComplete()
	}
	return w
}

func TestDevice_ResetCommitReadout(t *testing.T) {
	dev := NewDevice()
	dev.SetSessionInput(0x5A)
	dev.Reset()

	rec := commitValue(t, dev, 0x01, 0xDEADBEEF)
	w := readWords(dev)

	if w[0] != 0xDEADBEEF {
		t.Errorf("slice 0 = 0x%08X, want 0xDEADBEEF", w[0])
	}
	if uint8(w[1]>>24) != 0x5A {
		t.Errorf("slice 1 session = 0x%02X, want sampled 0x5A", uint8(w[1]>>24))
	}
	if w[1]&0x00FFFFFF != 0 {
		t.Errorf("slice 1 counter bits = 0x%06X, want 0 on first commit", w[1]&0x00FFFFFF)
	}
	if w[2]&0xFF000000 != 0 {
		t.Errorf("slice 2 counter byte = 0x%08X, want 0", w[2]&0xFF000000)
	}
	if uint16(w[2]>>8) == 0 {
		t.Error("slice 2 carries no checksum")
	}
	if w[2]&0xFF != 0 {
		t.Errorf("slice 2 pad byte = 0x%02X, want 0x00", w[2]&0xFF)
	}
	if got := RecordFromWords(w); got != rec {
		t.Errorf("readout %+v disagrees with published record %+v", got, rec)
	}
	if !rec.Verify(0x01) {
		t.Error("record fails verification")
	}
}

func TestDevice_StatusBits(t *testing.T) {
	dev := NewDevice()
	if got := dev.ReadControl(); got != StatusReady {
		t.Fatalf("status after reset = 0x%04X, want ready only", got)
	}
	dev.WriteData(1)
	dev.WriteControl(ctrlCommit)
	if got := dev.ReadControl(); got&StatusBusy == 0 || got&StatusReady != 0 {
		t.Fatalf("status during commit = 0x%04X, want busy and not ready", got)
	}
	// A second commit while busy is dropped, not queued.
	dev.WriteControl(ctrlCommit)
	if got := dev.ReadControl(); got&StatusDropped == 0 {
		t.Fatalf("status = 0x%04X, dropped bit not set", got)
	}
	if !dev.TickUntilReady(4096) {
		t.Fatal("commit did not complete")
	}
	if got := dev.ReadControl(); got&StatusDropped == 0 {
		t.Fatalf("status = 0x%04X, dropped bit must stay sticky", got)
	}
	// It clears only once a commit accepted after the drop completes.
	commitValue(t, dev, 0x00, 2)
	if got := dev.ReadControl(); got != StatusReady {
		t.Fatalf("status = 0x%04X after clean commit, want ready only", got)
	}
	if rec, _ := dev.Record(); rec.Mono != 1 {
		t.Errorf("dropped request advanced the counter: mono = %d, want 1", rec.Mono)
	}
}

func TestDevice_CommitWinsOverChecksumReset(t *testing.T) {
	dev := NewDevice()

	// Give the ad hoc engine a non-initial value first.
	dev.WriteCRC(0x30)
	dev.TickN(feedLatency)

	dev.WriteData(7)
	dev.WriteControl(ctrlCommit | ctrlChecksumReset | 0x03<<ctrlSourceShift)
	if dev.ReadControl()&StatusBusy == 0 {
		t.Fatal("simultaneous commit+reset did not start the commit")
	}
	if !dev.TickUntilReady(4096) {
		t.Fatal("commit did not complete")
	}
	rec, _ := dev.Record()
	if !rec.Verify(0x03) {
		t.Error("commit corrupted by the simultaneous reset bit")
	}

	// Standalone checksum reset re-initializes the engine.
	dev.WriteControl(ctrlChecksumReset)
	if got := dev.ReadCRC(); got != crcInit {
		t.Errorf("checksum register after standalone reset = 0x%08X, want 0x%04X", got, crcInit)
	}
}

func TestDevice_AdHocChecksumRegister(t *testing.T) {
	dev := NewDevice()

	feedAdHoc := func(msg []byte) uint32 {
		dev.WriteCRC(CRCInit)
		for _, b := range msg {
			dev.WriteCRC(uint32(b))
			for dev.ReadCRC()&CRCBusy != 0 {
				dev.Tick()
			}
		}
		return dev.ReadCRC()
	}

	msg := []byte{0x01, 0x02, 0x03}
	if got := feedAdHoc(msg); got != 0x6161 {
		t.Fatalf("ad hoc checksum before commit = 0x%08X, want 0x6161", got)
	}

	// During a commit the register reads busy and writes are ignored.
	dev.WriteData(0x1000)
	dev.WriteControl(ctrlCommit | 0x02<<ctrlSourceShift)
	if dev.ReadCRC()&CRCBusy == 0 {
		t.Fatal("checksum register not busy during commit window")
	}
	dev.WriteCRC(uint32(0x99))
	dev.WriteCRC(CRCInit)
	if !dev.TickUntilReady(4096) {
		t.Fatal("commit did not complete")
	}
	rec, _ := dev.Record()
	if !rec.Verify(0x02) {
		t.Error("ignored ad hoc writes corrupted the commit")
	}

	// After release the engine holds the commit's terminal state, so the
	// ad hoc client must re-init; with that it gets its result back.
	if got := feedAdHoc(msg); got != 0x6161 {
		t.Errorf("ad hoc checksum after commit = 0x%08X, want 0x6161", got)
	}
}

func TestDevice_ResetAbortsMidCommit(t *testing.T) {
	dev := NewDevice()
	dev.SetSessionInput(0x21)
	commitValue(t, dev, 0x01, 0xABCD)

	dev.WriteData(0xEF01)
	dev.WriteControl(ctrlCommit | 0x01<<ctrlSourceShift)
	dev.TickN(3) // abort mid-flight
	dev.Reset()

	if got := dev.ReadControl(); got != StatusReady {
		t.Fatalf("status after reset = 0x%04X, want ready only", got)
	}
	if _, ok := dev.Record(); ok {
		t.Fatal("partial record survived reset")
	}
	for _, w := range readWords(dev) {
		if w != 0 {
			t.Fatal("readout not zeroed after reset")
		}
	}

	// Counter restarts and the session re-locks from the live input.
	dev.SetSessionInput(0x77)
	rec := commitValue(t, dev, 0x01, 0x1234)
	if rec.Mono != 0 || rec.Session != 0x77 {
		t.Errorf("post-reset record {mono %d session 0x%02X}, want {0, 0x77}", rec.Mono, rec.Session)
	}
}

func TestDevice_MonoNeverSkipsAcrossRandomTraffic(t *testing.T) {
	dev := NewDevice()
	dev.SetSessionInput(0x01)

	var published []Record
	for i := 0; i < 50; i++ {
		dev.WriteData(uint32(i) * 3)
		dev.WriteControl(ctrlCommit | 0x04<<ctrlSourceShift)
		// Interleave hostile traffic: overlapping commits, ad hoc
		// writes, and partial readouts.
		dev.WriteControl(ctrlCommit)
		dev.WriteCRC(0x55)
		dev.ReadData()
		dev.DataReadComplete()
		if !dev.TickUntilReady(4096) {
			t.Fatal("commit did not complete")
		}
		rec, _ := dev.Record()
		published = append(published, rec)
	}
	for i, rec := range published {
		if rec.Mono != uint32(i) {
			t.Fatalf("record %d: mono = %d, holes or repeats in the sequence", i, rec.Mono)
		}
		if !rec.Verify(0x04) {
			t.Fatalf("record %d fails verification", i)
		}
	}
}
