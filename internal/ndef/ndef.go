// Package ndef locates an NDEF message in a tag's user memory and splits it
// into records. Only the parts needed to read filament tags are covered:
// TLV scanning, short and long records, and the ID field. Chunked records
// are rejected.
package ndef

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// TNF (Type Name Format) values as defined by NFC Forum.
const (
	TNFEmpty       byte = 0x00
	TNFWellKnown   byte = 0x01
	TNFMedia       byte = 0x02
	TNFAbsoluteURI byte = 0x03
	TNFExternal    byte = 0x04
	TNFUnknown     byte = 0x05
	TNFUnchanged   byte = 0x06
	TNFReserved    byte = 0x07
)

const (
	tnfMask byte = 0x07
	flagMB  byte = 0x80
	flagME  byte = 0x40
	flagCF  byte = 0x20
	flagSR  byte = 0x10
	flagIL  byte = 0x08

	shortRecordMaxLen = 255
)

// TLV block types.
const (
	TLVNull          byte = 0x00
	TLVLockControl   byte = 0x01
	TLVMemoryControl byte = 0x02
	TLVMessage       byte = 0x03
	TLVProprietary   byte = 0xFD
	TLVTerminator    byte = 0xFE
)

var (
	ErrNoMessage       = errors.New("ndef: no message TLV found")
	ErrEmptyMessage    = errors.New("ndef: empty message")
	ErrTruncatedRecord = errors.New("ndef: truncated record data")
	ErrTruncatedTLV    = errors.New("ndef: truncated TLV")
	ErrInvalidTNF      = errors.New("ndef: invalid TNF value")
	ErrChunkedRecord   = errors.New("ndef: chunked records not supported")
)

// Record is a single NDEF record.
type Record struct {
	TNF     byte
	Type    string
	ID      string
	Payload []byte

	mb bool
	me bool
}

// MIMEType returns the record type for media records and "" otherwise.
func (r *Record) MIMEType() string {
	if r.TNF != TNFMedia {
		return ""
	}
	return r.Type
}

// Message is an ordered list of records.
type Message struct {
	Records []*Record
}

// FirstMIME returns the first media-type record, or nil.
func (m *Message) FirstMIME() *Record {
	for _, r := range m.Records {
		if r.TNF == TNFMedia {
			return r
		}
	}
	return nil
}

// FindMessage scans TLV blocks and returns the value of the first NDEF
// message TLV. NULL TLVs are single bytes; lock-control, memory-control and
// proprietary TLVs are skipped by length. A terminator before any message
// TLV yields ErrNoMessage.
func FindMessage(area []byte) ([]byte, error) {
	offset := 0
	for offset < len(area) {
		t := area[offset]
		offset++

		switch t {
		case TLVNull:
			continue
		case TLVTerminator:
			return nil, ErrNoMessage
		}

		length, n, err := tlvLength(area[offset:])
		if err != nil {
			return nil, err
		}
		offset += n

		switch t {
		case TLVMessage:
			if offset+length > len(area) {
				return nil, ErrTruncatedTLV
			}
			return area[offset : offset+length], nil
		case TLVLockControl, TLVMemoryControl, TLVProprietary:
			offset += length
		default:
			return nil, fmt.Errorf("%w: unexpected TLV type 0x%02X", ErrNoMessage, t)
		}
	}
	return nil, ErrNoMessage
}

// tlvLength decodes a one-byte or three-byte (0xFF + big-endian u16) length.
func tlvLength(data []byte) (int, int, error) {
	if len(data) < 1 {
		return 0, 0, ErrTruncatedTLV
	}
	if data[0] != 0xFF {
		return int(data[0]), 1, nil
	}
	if len(data) < 3 {
		return 0, 0, ErrTruncatedTLV
	}
	return int(binary.BigEndian.Uint16(data[1:3])), 3, nil
}

// ValidHeader reports whether b can start a record: a TNF other than
// Reserved and no chunk flag.
func ValidHeader(b byte) bool {
	return b&tnfMask < TNFReserved && b&flagCF == 0
}

// Parse finds the message TLV in area and decodes its records.
func Parse(area []byte) (*Message, error) {
	raw, err := FindMessage(area)
	if err != nil {
		return nil, err
	}
	m := &Message{}
	if _, err := m.Unmarshal(raw); err != nil {
		return nil, err
	}
	return m, nil
}

// Unmarshal parses message data and returns the number of bytes consumed.
// Parsing stops at the record carrying the ME flag.
func (m *Message) Unmarshal(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, ErrEmptyMessage
	}

	m.Records = nil
	offset := 0
	for offset < len(data) {
		rec := &Record{}
		n, err := rec.Unmarshal(data[offset:])
		if err != nil {
			return offset, fmt.Errorf("record at offset %d: %w", offset, err)
		}
		m.Records = append(m.Records, rec)
		offset += n
		if rec.me {
			break
		}
	}

	if len(m.Records) == 0 {
		return 0, ErrEmptyMessage
	}
	return offset, nil
}

// Unmarshal parses a single record and returns the number of bytes consumed.
func (r *Record) Unmarshal(data []byte) (int, error) {
	if len(data) < 3 {
		return 0, ErrTruncatedRecord
	}

	flags := data[0]
	r.TNF = flags & tnfMask
	r.mb = flags&flagMB != 0
	r.me = flags&flagME != 0

	if flags&flagCF != 0 {
		return 0, ErrChunkedRecord
	}
	if r.TNF > TNFUnchanged {
		return 0, ErrInvalidTNF
	}

	typeLen := int(data[1])
	offset := 2

	var payloadLen int
	if flags&flagSR != 0 {
		payloadLen = int(data[offset])
		offset++
	} else {
		if offset+4 > len(data) {
			return 0, ErrTruncatedRecord
		}
		payloadLen = int(binary.BigEndian.Uint32(data[offset : offset+4]))
		offset += 4
	}

	var idLen int
	if flags&flagIL != 0 {
		if offset >= len(data) {
			return 0, ErrTruncatedRecord
		}
		idLen = int(data[offset])
		offset++
	}

	if payloadLen < 0 || offset+typeLen+idLen+payloadLen > len(data) {
		return 0, ErrTruncatedRecord
	}

	r.Type = string(data[offset : offset+typeLen])
	offset += typeLen
	r.ID = string(data[offset : offset+idLen])
	offset += idLen
	r.Payload = make([]byte, payloadLen)
	copy(r.Payload, data[offset:offset+payloadLen])
	offset += payloadLen

	return offset, nil
}

// Marshal serializes the message, setting MB on the first record and ME on
// the last.
func (m *Message) Marshal() ([]byte, error) {
	if len(m.Records) == 0 {
		return nil, ErrEmptyMessage
	}

	var out []byte
	for i, rec := range m.Records {
		rec.mb = i == 0
		rec.me = i == len(m.Records)-1
		data, err := rec.Marshal()
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, data...)
	}
	return out, nil
}

// Marshal serializes a single record.
func (r *Record) Marshal() ([]byte, error) {
	if r.TNF >= TNFReserved {
		return nil, ErrInvalidTNF
	}

	flags := r.TNF
	if r.mb {
		flags |= flagMB
	}
	if r.me {
		flags |= flagME
	}
	short := len(r.Payload) <= shortRecordMaxLen
	if short {
		flags |= flagSR
	}
	if r.ID != "" {
		flags |= flagIL
	}

	out := []byte{flags, byte(len(r.Type))}
	if short {
		out = append(out, byte(len(r.Payload)))
	} else {
		out = binary.BigEndian.AppendUint32(out, uint32(len(r.Payload)))
	}
	if r.ID != "" {
		out = append(out, byte(len(r.ID)))
	}
	out = append(out, r.Type...)
	out = append(out, r.ID...)
	out = append(out, r.Payload...)
	return out, nil
}

// WrapTLV wraps a serialized message in a message TLV followed by a
// terminator TLV.
func WrapTLV(message []byte) []byte {
	out := []byte{TLVMessage}
	if len(message) < 0xFF {
		out = append(out, byte(len(message)))
	} else {
		out = append(out, 0xFF)
		out = binary.BigEndian.AppendUint16(out, uint16(len(message)))
	}
	out = append(out, message...)
	return append(out, TLVTerminator)
}

// NewMIMERecord builds a media-type record.
func NewMIMERecord(mimeType string, payload []byte) *Record {
	return &Record{TNF: TNFMedia, Type: mimeType, Payload: payload}
}
