package mdr

import (
	"bytes"
	"encoding/binary"
)

// Message is one decoded frame. For non-ACK frames the first payload byte is
// the feature opcode.
type Message struct {
	DataType DataType
	Seq      byte
	Payload  []byte
}

// Opcode returns the feature opcode, or 0 if the payload is empty.
func (m *Message) Opcode() Command {
	if len(m.Payload) == 0 {
		return 0
	}
	return Command(m.Payload[0])
}

// Escape replaces the reserved framing bytes with their two-byte escape
// sequences. All other bytes pass through unchanged.
func Escape(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for _, b := range data {
		if sub, ok := escapeMap[b]; ok {
			out = append(out, EscapeByte, sub)
			continue
		}
		out = append(out, b)
	}
	return out
}

// Unescape reverses Escape. An escape byte not followed by a recognized
// substitute (including at end of input) is passed through literally, so a
// damaged stream still yields bytes instead of an error.
func Unescape(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] == EscapeByte && i+1 < len(data) {
			if orig, ok := unescapeMap[data[i+1]]; ok {
				out = append(out, orig)
				i++
				continue
			}
		}
		out = append(out, data[i])
	}
	return out
}

// Checksum is the wrapping 8-bit sum of all bytes.
func Checksum(b []byte) byte {
	var sum byte
	for i := 0; i < len(b); i++ {
		sum += b[i]
	}
	return sum
}

// Pack builds a complete framed packet ready for the wire:
//
//	START | data_type | seq | payload_len(4 BE) | payload | checksum | END
//
// The region between the markers is escaped. The length field is 32 bits
// even though observed payloads are tiny.
func Pack(dataType DataType, seq byte, payload []byte) []byte {
	inner := make([]byte, 6, 7+len(payload))
	inner[0] = byte(dataType)
	inner[1] = seq
	binary.BigEndian.PutUint32(inner[2:6], uint32(len(payload)))
	inner = append(inner, payload...)
	inner = append(inner, Checksum(inner))

	out := make([]byte, 0, len(inner)+2)
	out = append(out, StartMarker)
	out = append(out, Escape(inner)...)
	out = append(out, EndMarker)
	return out
}

// BuildAck builds a zero-payload acknowledgement frame for the given
// sequence number.
func BuildAck(seq byte) []byte {
	return Pack(DataTypeAck, seq, nil)
}

// Unpack decodes a raw framed packet, markers included. Any violation
// (missing marker, truncation, checksum or length mismatch) yields an error
// and never a partial message.
func Unpack(raw []byte) (*Message, error) {
	if len(raw) < 2 || raw[0] != StartMarker || raw[len(raw)-1] != EndMarker {
		return nil, ErrNoMarker
	}

	inner := Unescape(raw[1 : len(raw)-1])
	if len(inner) < 7 { // 6-byte header + checksum
		return nil, ErrShortFrame
	}

	if Checksum(inner[:len(inner)-1]) != inner[len(inner)-1] {
		return nil, ErrBadChecksum
	}

	length := binary.BigEndian.Uint32(inner[2:6])
	payload := inner[6 : len(inner)-1]
	if uint32(len(payload)) != length {
		return nil, ErrLengthMismatch
	}

	return &Message{
		DataType: DataType(inner[0]),
		Seq:      inner[1],
		Payload:  payload,
	}, nil
}

// ExtractMessage pulls the first complete frame out of an accumulating
// receive buffer and returns it together with the unconsumed remainder.
//
// No start marker: nothing is consumed. Start marker without an end marker:
// bytes before the marker are dropped, the rest is kept for the next read.
// A malformed frame drops the offending start marker and the scan resumes
// from the next byte, resynchronizing after garbage or a false marker match.
// The cursor only moves forward, so the scan terminates on any input.
func ExtractMessage(buffer []byte) (*Message, []byte) {
	search := buffer
	for {
		start := bytes.IndexByte(search, StartMarker)
		if start < 0 {
			return nil, buffer
		}
		search = search[start:]

		end := bytes.IndexByte(search[1:], EndMarker)
		if end < 0 {
			return nil, search
		}
		end += 1 // account for the skipped start byte

		msg, err := Unpack(search[:end+1])
		if err != nil {
			// Not actually a frame boundary; retry past this marker.
			search = search[1:]
			continue
		}
		return msg, search[end+1:]
	}
}
