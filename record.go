package sealcap

// Record is one latched, immutable seal snapshot: the committed value,
// the monotonic count at commit time (pre-increment), the per-boot
// session id, and the CRC-16/MODBUS over the 9-byte seal encoding.
type Record struct {
	Value   uint32
	Mono    uint32
	Session uint8
	CRC16   uint16
}

// sealBytes builds the fixed 9-byte sequence fed to the checksum
// engine: source id, then value and mono count little-endian.
func sealBytes(source byte, value, mono uint32) [9]byte {
	var b [9]byte
	b[0] = source
	b[1] = byte(value)
	b[2] = byte(value >> 8)
	b[3] = byte(value >> 16)
	b[4] = byte(value >> 24)
	b[5] = byte(mono)
	b[6] = byte(mono >> 8)
	b[7] = byte(mono >> 16)
	b[8] = byte(mono >> 24)
	return b
}

// SealChecksum is the reference checksum for a seal tuple. The session
// id is deliberately outside the checksummed bytes.
func SealChecksum(source byte, value, mono uint32) uint16 {
	b := sealBytes(source, value, mono)
	return Checksum(b[:])
}

// Verify recomputes the checksum for the record as committed under
// source and reports whether it matches the latched CRC16.
func (r Record) Verify(source byte) bool {
	return SealChecksum(source, r.Value, r.Mono) == r.CRC16
}

// Words encodes the record as the three 32-bit readout slices:
//
//	word 0: value
//	word 1: {session[31:24], mono[23:0]}
//	word 2: {mono[31:24], crc16[23:8], 8'h00}
func (r Record) Words() [3]uint32 {
	return [3]uint32{
		r.Value,
		uint32(r.Session)<<24 | r.Mono&0x00FFFFFF,
		r.Mono&0xFF000000 | uint32(r.CRC16)<<8,
	}
}

// RecordFromWords rebuilds a record from the three readout slices.
func RecordFromWords(w [3]uint32) Record {
	return Record{
		Value:   w[0],
		Mono:    w[2]&0xFF000000 | w[1]&0x00FFFFFF,
		Session: uint8(w[1] >> 24),
		CRC16:   uint16(w[2] >> 8),
	}
}
