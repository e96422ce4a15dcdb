// Package castlink implements the Castlink control channel: a TLS-wrapped
// TCP connection carrying a length-prefixed, field-tagged binary envelope,
// used to drive a receiver's virtual connections, heartbeat, and media
// sessions. Grounded on original_source/atavism/chromecast.py.
package castlink

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Namespaces, matching chromecast.py's module-level constants exactly.
const (
	ConnectionNS = "urn:x-cast:com.google.cast.tp.connection"
	HeartbeatNS  = "urn:x-cast:com.google.cast.tp.heartbeat"
	ReceiverNS   = "urn:x-cast:com.google.cast.receiver"
	AuthNS       = "urn:x-cast:com.google.cast.tp.deviceauth"
	MediaNS      = "urn:x-cast:com.google.cast.media"

	PlatformDest = "receiver-0"
)

// Payload type tags (field 5 of the envelope).
const (
	TypeString = 0
	TypeBinary = 1
)

// wire field ids, per ProtoBuff.as_string/from_string.
const (
	fieldProtocolVersion = 1
	fieldSourceID        = 2
	fieldDestinationID   = 3
	fieldNamespace       = 4
	fieldPayloadType     = 5
	fieldUTF8Payload     = 6
	fieldBinaryPayload   = 7
)

// wire type tags packed into the low three bits of a field byte.
const (
	wireEnum   = 0
	wireString = 2
)

const protocolVersion = 0

// ErrTruncated is returned when an envelope's declared length runs past the
// available bytes.
var ErrTruncated = errors.New("castlink: truncated envelope")

// ParseStrict controls how ParseEnvelope treats an unrecognized field id.
// By default (false) it stops decoding and returns whatever fields were
// read so far, with no error — the protocol has never defined a field
// past 7, so this is purely defensive. Tests that want to assert on
// exactly this condition can set ParseStrict true to get an error instead.
var ParseStrict = false

// ErrUnknownField is returned by ParseEnvelope when ParseStrict is true
// and the envelope carries a field id the protocol does not define.
var ErrUnknownField = errors.New("castlink: unknown envelope field")

// Envelope is one Castlink protocol message: a CastMessage in Google's
// terms, here named for what it does rather than what Google calls it.
// Grounded on ProtoBuff.
type Envelope struct {
	Protocol      int
	SourceID      string
	DestinationID string
	Namespace     string
	PayloadType   int
	Data          []byte
}

// NewEnvelope returns an Envelope with the same defaults as ProtoBuff's
// constructor: protocol 0, source-0, receiver-0, the connection namespace.
func NewEnvelope() *Envelope {
	return &Envelope{
		SourceID:      "source-0",
		DestinationID: PlatformDest,
		Namespace:     ConnectionNS,
	}
}

// WithJSON sets Data to the given raw JSON text and returns the envelope,
// mirroring ProtoBuff(json=...).
func (e *Envelope) WithJSON(jsonText string) *Envelope {
	e.PayloadType = TypeString
	e.Data = []byte(jsonText)
	return e
}

func packType(fieldID, wireType int) byte {
	return byte((fieldID << 3) | wireType)
}

func unpackType(b byte) (fieldID, wireType int) {
	return int(b >> 3), int(b & 0x7)
}

// varint encodes l the way ProtoBuff._data_length does: 7 bits per byte,
// little-endian base-128, continuation bit set on all but the last byte.
func varint(l int) []byte {
	var out []byte
	for l > 0x7f {
		out = append(out, byte(l&0x7f|0x80))
		l >>= 7
	}
	out = append(out, byte(l&0x7f))
	return out
}

func unpackVarint(b []byte) (value int, consumed int, err error) {
	base := 1
	for _, raw := range b {
		consumed++
		value += int(raw&0x7f) * base
		if raw&0x80 == 0 {
			return value, consumed, nil
		}
		base *= 128
	}
	return 0, 0, fmt.Errorf("castlink: %w: unterminated varint", ErrTruncated)
}

// Marshal renders the envelope as a length-prefixed frame: a 4-byte
// big-endian length followed by the tagged field body. Grounded on
// ProtoBuff.as_string.
func (e *Envelope) Marshal() []byte {
	body := make([]byte, 0, 64)
	body = append(body, packType(fieldProtocolVersion, wireEnum), byte(e.Protocol))
	body = appendString(body, fieldSourceID, e.SourceID)
	body = appendString(body, fieldDestinationID, e.DestinationID)
	body = appendString(body, fieldNamespace, e.Namespace)
	body = append(body, packType(fieldPayloadType, wireEnum), byte(e.PayloadType))

	payloadField := fieldUTF8Payload
	if e.PayloadType == TypeBinary {
		payloadField = fieldBinaryPayload
	}
	body = append(body, packType(payloadField, wireString))
	body = append(body, varint(len(e.Data))...)
	body = append(body, e.Data...)

	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(body)))
	copy(frame[4:], body)
	return frame
}

func appendString(buf []byte, fieldID int, s string) []byte {
	buf = append(buf, packType(fieldID, wireString), byte(len(s)))
	return append(buf, s...)
}

// ParseEnvelope decodes one frame body (the bytes after the 4-byte length
// prefix, exactly frameLen bytes long) into an Envelope. Grounded on
// ProtoBuff.from_string; unknown field ids stop decoding the way the
// Python's from_string breaks on an unrecognized tag.
//
// Fields 2-4 (source, destination, namespace) are defined by the protocol
// to be short ASCII/UTF-8 identifiers; this parser validates them as UTF-8
// and rejects malformed ones rather than passing through whatever bytes
// arrived, a stricter stance than the Python's bare unpack.
func ParseEnvelope(frame []byte) (*Envelope, error) {
	e := &Envelope{}
	pos := 0
	for pos < len(frame) {
		fieldID, _ := unpackType(frame[pos])
		pos++
		switch fieldID {
		case fieldProtocolVersion:
			if pos >= len(frame) {
				return nil, ErrTruncated
			}
			e.Protocol = int(frame[pos])
			pos++
		case fieldSourceID:
			s, n, err := readString(frame[pos:])
			if err != nil {
				return nil, err
			}
			e.SourceID = s
			pos += n
		case fieldDestinationID:
			s, n, err := readString(frame[pos:])
			if err != nil {
				return nil, err
			}
			e.DestinationID = s
			pos += n
		case fieldNamespace:
			s, n, err := readString(frame[pos:])
			if err != nil {
				return nil, err
			}
			e.Namespace = s
			pos += n
		case fieldPayloadType:
			if pos >= len(frame) {
				return nil, ErrTruncated
			}
			e.PayloadType = int(frame[pos])
			pos++
		case fieldUTF8Payload, fieldBinaryPayload:
			slen, n, err := unpackVarint(frame[pos:])
			if err != nil {
				return nil, err
			}
			pos += n
			if pos+slen > len(frame) {
				return nil, ErrTruncated
			}
			e.Data = append([]byte(nil), frame[pos:pos+slen]...)
			pos += slen
		default:
			if ParseStrict {
				return nil, fmt.Errorf("%w: field %d", ErrUnknownField, fieldID)
			}
			return e, nil
		}
	}
	return e, nil
}

func readString(b []byte) (string, int, error) {
	if len(b) < 1 {
		return "", 0, ErrTruncated
	}
	slen := int(b[0])
	if len(b) < 1+slen {
		return "", 0, ErrTruncated
	}
	s := b[1 : 1+slen]
	if !utf8.Valid(s) {
		return "", 0, fmt.Errorf("castlink: field is not valid UTF-8")
	}
	return string(s), 1 + slen, nil
}

// SplitFrames scans buf for complete length-prefixed frames, returning the
// frame bodies (still encoded, for ParseEnvelope) and the number of bytes
// consumed. Mirrors the
// communicator() loop's "unpack(">I", buffer[:4])" framing check.
func SplitFrames(buf []byte) (frames [][]byte, consumed int, err error) {
	for len(buf)-consumed >= 4 {
		start := consumed
		plen := binary.BigEndian.Uint32(buf[start : start+4])
		if len(buf)-start-4 < int(plen) {
			break
		}
		frames = append(frames, buf[start+4:start+4+int(plen)])
		consumed = start + 4 + int(plen)
	}
	return frames, consumed, nil
}
