// Package sealcap models the integrity seal subsystem of a sensor-node
// controller and the host-side pipeline that captures, verifies, and
// collects its sealed records.
package sealcap

// Example: Sealing a reading at the register level
//
// The Device is a cycle-accurate model of the seal peripheral: one
// shared CRC16 engine, the arbiter that guards it, the commit
// sequencer, and the 3-slice read window. Everything advances on an
// explicit Tick; nothing blocks.
//
// Usage:
//   dev := NewDevice()
//   dev.SetSessionInput(0x42)          // free-running counter input
//
//   dev.WriteData(0xDEADBEEF)          // stage the value
//   dev.WriteControl(0x01<<2 | 0x02)   // source=0x01, commit=1
//   dev.TickUntilReady(1024)           // poll busy until the seal lands
//
//   // Read the three slices; each read-complete pulse is the bus
//   // layer's edge, never the read-in-progress level.
//   v := dev.ReadData(); dev.DataReadComplete()   // value
//   m := dev.ReadData(); dev.DataReadComplete()   // {session, mono[23:0]}
//   c := dev.ReadData(); dev.DataReadComplete()   // {mono[31:24], crc16, 00}
//
// Properties the model preserves:
// 1. Monotonicity: the mono counter moves only on completed commits,
//    by exactly one, wrapping silently at 2^32.
// 2. Session lock: the session id is sampled once, at the first commit
//    after reset, and never changes until the next reset.
// 3. Atomic publish: a reader that sees ready=1 sees a fully
//    consistent record; there is no partially latched state.
// 4. Arbitration: the ad hoc client's checksum register reads busy for
//    the whole commit window and its feeds are silently ignored; after
//    release it must re-init before reuse because the engine is left
//    holding the commit's final CRC.
// 5. Dropped commits: a second commit during a seal is dropped and
//    only the sticky status bit tells; the flag clears when the next
//    accepted commit completes.
