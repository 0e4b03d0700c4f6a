package sealcap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Wire format for moving captured entries off-host.
//
// Each message body is protobuf wire encoding (so any protobuf
// toolchain can decode it against a matching schema), framed with a
// length and CRC32 header for corruption detection in transit:
//
//	[4]byte: body length (uint32 LE)
//	[4]byte: CRC32-IEEE of body (uint32 LE)
//	[n]byte: body
//
// A batch is a uint32 LE entry count followed by that many frames.
//
// Entry fields: 1=seq 2=captured_at 3=source 4=value 5=mono
// 6=session 7=crc16, all varint.
// Manifest fields: 1=device_id (bytes) 2=session 3=boot_unix_nanos.

// ErrCorruptFrame indicates a frame failed its length or CRC32 check.
var ErrCorruptFrame = errors.New("corrupt wire frame")

const frameHeaderSize = 8

func appendFrame(dst, body []byte) []byte {
	var hdr [frameHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[:4], uint32(len(body)))
	binary.LittleEndian.PutUint32(hdr[4:], crc32.ChecksumIEEE(body))
	dst = append(dst, hdr[:]...)
	return append(dst, body...)
}

// consumeFrame validates and strips one frame, returning the body and
// the remaining input.
func consumeFrame(data []byte) (body, rest []byte, err error) {
	if len(data) < frameHeaderSize {
		return nil, nil, ErrCorruptFrame
	}
	n := binary.LittleEndian.Uint32(data[:4])
	want := binary.LittleEndian.Uint32(data[4:8])
	data = data[frameHeaderSize:]
	if uint32(len(data)) < n {
		return nil, nil, ErrCorruptFrame
	}
	body, rest = data[:n], data[n:]
	if crc32.ChecksumIEEE(body) != want {
		return nil, nil, ErrCorruptFrame
	}
	return body, rest, nil
}

func appendEntryBody(b []byte, e Entry) []byte {
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, e.Seq)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.CapturedAt))
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Source))
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Record.Value))
	b = protowire.AppendTag(b, 5, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Record.Mono))
	b = protowire.AppendTag(b, 6, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Record.Session))
	b = protowire.AppendTag(b, 7, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Record.CRC16))
	return b
}

func parseEntryBody(body []byte) (Entry, error) {
	var e Entry
	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return e, fmt.Errorf("entry tag: %w", protowire.ParseError(n))
		}
		body = body[n:]

		if typ != protowire.VarintType {
			n = protowire.ConsumeFieldValue(num, typ, body)
			if n < 0 {
				return e, fmt.Errorf("entry field %d: %w", num, protowire.ParseError(n))
			}
			body = body[n:]
			continue
		}

		v, n := protowire.ConsumeVarint(body)
		if n < 0 {
			return e, fmt.Errorf("entry field %d: %w", num, protowire.ParseError(n))
		}
		body = body[n:]

		switch num {
		case 1:
			e.Seq = v
		case 2:
			e.CapturedAt = int64(v)
		case 3:
			e.Source = byte(v)
		case 4:
			e.Record.Value = uint32(v)
		case 5:
			e.Record.Mono = uint32(v)
		case 6:
			e.Record.Session = uint8(v)
		case 7:
			e.Record.CRC16 = uint16(v)
		}
	}
	return e, nil
}

// MarshalEntry encodes one entry as a framed wire message.
func MarshalEntry(e Entry) []byte {
	return appendFrame(nil, appendEntryBody(nil, e))
}

// UnmarshalEntry decodes one framed entry.
func UnmarshalEntry(data []byte) (Entry, error) {
	body, rest, err := consumeFrame(data)
	if err != nil {
		return Entry{}, err
	}
	if len(rest) != 0 {
		return Entry{}, ErrCorruptFrame
	}
	return parseEntryBody(body)
}

// EncodeBatch encodes entries as a count-prefixed sequence of frames.
func EncodeBatch(entries []Entry) []byte {
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, uint32(len(entries)))
	for _, e := range entries {
		out = appendFrame(out, appendEntryBody(nil, e))
	}
	return out
}

// DecodeBatch decodes a count-prefixed sequence of entry frames.
func DecodeBatch(data []byte) ([]Entry, error) {
	if len(data) < 4 {
		return nil, ErrCorruptFrame
	}
	count := binary.LittleEndian.Uint32(data[:4])
	data = data[4:]

	// The count is untrusted input; size the buffer by what the body
	// could actually hold, one header minimum per frame.
	capHint := count
	if max := uint32(len(data)) / frameHeaderSize; capHint > max {
		capHint = max
	}
	entries := make([]Entry, 0, capHint)
	for i := uint32(0); i < count; i++ {
		body, rest, err := consumeFrame(data)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		e, err := parseEntryBody(body)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		entries = append(entries, e)
		data = rest
	}
	if len(data) != 0 {
		return nil, ErrCorruptFrame
	}
	return entries, nil
}

// MarshalManifest encodes a device manifest as a framed wire message.
func MarshalManifest(m DeviceManifest) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(m.DeviceID))
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Session))
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.BootTime.UnixNano()))
	return appendFrame(nil, b)
}

// UnmarshalManifest decodes a framed device manifest.
func UnmarshalManifest(data []byte) (DeviceManifest, error) {
	var m DeviceManifest
	body, rest, err := consumeFrame(data)
	if err != nil {
		return m, err
	}
	if len(rest) != 0 {
		return m, ErrCorruptFrame
	}
	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return m, fmt.Errorf("manifest tag: %w", protowire.ParseError(n))
		}
		body = body[n:]

		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(body)
			if n < 0 {
				return m, fmt.Errorf("manifest device_id: %w", protowire.ParseError(n))
			}
			m.DeviceID = string(v)
			body = body[n:]
		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return m, fmt.Errorf("manifest field %d: %w", num, protowire.ParseError(n))
			}
			body = body[n:]
			switch num {
			case 2:
				m.Session = uint8(v)
			case 3:
				m.BootTime = time.Unix(0, int64(v))
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, body)
			if n < 0 {
				return m, fmt.Errorf("manifest field %d: %w", num, protowire.ParseError(n))
			}
			body = body[n:]
		}
	}
	return m, nil
}
