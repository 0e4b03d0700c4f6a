package sealcap

// CRC-16/MODBUS: init 0xFFFF, reflected polynomial 0xA001, LSB-first.
const (
	crcInit = 0xFFFF
	crcPoly = 0xA001
)

// feedLatency is the number of ticks the engine spends on one byte,
// matching the serial bit loop of the hardware core.
const feedLatency = 8

func crcUpdate(crc uint16, b byte) uint16 {
	crc ^= uint16(b)
	for i := 0; i < 8; i++ {
		if crc&1 != 0 {
			crc = (crc >> 1) ^ crcPoly
		} else {
			crc >>= 1
		}
	}
	return crc
}

// Checksum computes the CRC-16/MODBUS of data in one call.
func Checksum(data []byte) uint16 {
	crc := uint16(crcInit)
	for _, b := range data {
		crc = crcUpdate(crc, b)
	}
	return crc
}

// Engine is the cycle-accurate checksum compute core. It holds one
// running value and processes at most one byte at a time. Feeding while
// busy is ignored, never queued; misuse degrades to "ignored".
type Engine struct {
	crc     uint16
	pending byte
	wait    int
}

// NewEngine returns an engine in the idle, initialized state.
func NewEngine() *Engine {
	return &Engine{crc: crcInit}
}

// Init resets the running value to 0xFFFF and returns the engine to
// idle, discarding any byte still in flight.
func (e *Engine) Init() {
	e.crc = crcInit
	e.wait = 0
}

// Busy reports whether a fed byte has not yet taken effect.
func (e *Engine) Busy() bool { return e.wait > 0 }

// Feed accepts one byte when idle and reports whether it was accepted.
func (e *Engine) Feed(b byte) bool {
	if e.wait > 0 {
		return false
	}
	e.pending = b
	e.wait = feedLatency
	return true
}

// Result returns the current running value. While busy this is the
// value before the pending byte's update.
func (e *Engine) Result() uint16 { return e.crc }

// Tick advances the engine by one cycle. The pending byte's update
// lands on the tick that ends the latency window.
func (e *Engine) Tick() {
	if e.wait == 0 {
		return
	}
	e.wait--
	if e.wait == 0 {
		e.crc = crcUpdate(e.crc, e.pending)
	}
}
