// Package tlv owns the type-length-value field codec carried in frame payloads.
//
// A field is a 7-byte big-endian header (id u16, type u8, len u32) followed
// by len value bytes. Decoders preserve unknown field IDs so schema layers
// can ignore them.
package tlv

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const HeaderLen = 7

var (
	ErrShortFieldHeader = errors.New("tlv: truncated field header")
	ErrShortFieldValue  = errors.New("tlv: field value shorter than declared length")
)

// Wire type identifiers. Values are fixed on the wire; new types append.
const (
	TypeU8     uint8 = 1
	TypeU16    uint8 = 2
	TypeU32    uint8 = 3
	TypeU64    uint8 = 4
	TypeBool   uint8 = 5
	TypeString uint8 = 6
	TypeBytes  uint8 = 7
)

// Field is a single id-typed value as carried on the wire.
type Field struct {
	ID    uint16
	Type  uint8
	Value []byte
}

func appendField(buf []byte, f Field) []byte {
	buf = binary.BigEndian.AppendUint16(buf, f.ID)
	buf = append(buf, f.Type)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(f.Value)))
	return append(buf, f.Value...)
}

func EncodeField(f Field) []byte {
	return appendField(make([]byte, 0, HeaderLen+len(f.Value)), f)
}

func EncodeFields(fields []Field) []byte {
	size := 0
	for _, f := range fields {
		size += HeaderLen + len(f.Value)
	}
	buf := make([]byte, 0, size)
	for _, f := range fields {
		buf = appendField(buf, f)
	}
	return buf
}

func DecodeFields(payload []byte) ([]Field, error) {
	fields := make([]Field, 0, len(payload)/HeaderLen)
	rest := payload
	for len(rest) > 0 {
		if len(rest) < HeaderLen {
			return nil, ErrShortFieldHeader
		}
		f := Field{
			ID:   binary.BigEndian.Uint16(rest[0:2]),
			Type: rest[2],
		}
		n := binary.BigEndian.Uint32(rest[3:7])
		rest = rest[HeaderLen:]
		if uint64(len(rest)) < uint64(n) {
			return nil, ErrShortFieldValue
		}
		f.Value = append([]byte(nil), rest[:n]...)
		rest = rest[n:]
		fields = append(fields, f)
	}
	return fields, nil
}

// GetField returns the first field carrying id.
func GetField(fields []Field, id uint16) (Field, bool) {
	for _, f := range fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

func U32FromBytes(b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("tlv: u32 value must be 4 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint32(b), nil
}

func BoolFromBytes(b []byte) (bool, error) {
	if len(b) != 1 {
		return false, fmt.Errorf("tlv: invalid bool length: %d", len(b))
	}
	switch b[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, fmt.Errorf("tlv: invalid bool value: %d", b[0])
}

func PutBool(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}
