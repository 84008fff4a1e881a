// Package frame owns the fixed binary framing for engine host sessions.
//
// A frame is a 32-byte big-endian header, an optional auth block, and an
// opaque payload. The header layout is stable; payload semantics belong to
// the schema and session layers.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	FixedHeaderLen uint16 = 32

	FlagHasAuth    uint32 = 0x01
	FlagIsResponse uint32 = 0x02
	FlagIsError    uint32 = 0x04
	FlagIsEvent    uint32 = 0x08
)

// Fixed header field offsets.
const (
	offMagic       = 0
	offVersion     = 4
	offHeaderLen   = 6
	offMessageID   = 8
	offMessageType = 16
	offFlags       = 20
	offPayloadLen  = 24
)

var (
	ErrShortHeader       = errors.New("frame: truncated fixed header")
	ErrHeaderLenTooSmall = errors.New("frame: header_len below fixed header size")
	ErrHeaderLenMismatch = errors.New("frame: auth flag set but header_len carries no auth")
	ErrPayloadTooLarge   = errors.New("frame: payload exceeds limit")
	ErrAuthTooLarge      = errors.New("frame: auth block exceeds limit")
	ErrBadMagic          = errors.New("frame: bad magic")
	ErrBadVersion        = errors.New("frame: unsupported version")
)

// Header is the 32-byte fixed header present on every frame.
type Header struct {
	Magic       uint32
	Version     uint16
	HeaderLen   uint16
	MessageID   uint64
	MessageType uint32
	Flags       uint32
	PayloadLen  uint64
}

// authLen is the auth block size implied by HeaderLen. Callers must have
// checked HeaderLen >= FixedHeaderLen first.
func (h Header) authLen() uint64 {
	return uint64(h.HeaderLen - FixedHeaderLen)
}

// Verify checks the header against the expected protocol identity.
func (h Header) Verify(magic uint32, version uint16) error {
	if h.Magic != magic {
		return fmt.Errorf("%w: 0x%08X", ErrBadMagic, h.Magic)
	}
	if h.Version != version {
		return fmt.Errorf("%w: %d", ErrBadVersion, h.Version)
	}
	return nil
}

// checkSizes validates the declared block sizes before anything is
// allocated for them.
func (h Header) checkSizes(limits Limits) error {
	if h.HeaderLen < FixedHeaderLen {
		return ErrHeaderLenTooSmall
	}
	if h.Flags&FlagHasAuth != 0 && h.authLen() == 0 {
		return ErrHeaderLenMismatch
	}
	if h.authLen() > limits.MaxAuthBytes {
		return ErrAuthTooLarge
	}
	if h.PayloadLen > limits.MaxPayloadBytes {
		return ErrPayloadTooLarge
	}
	return nil
}

// Frame is a decoded wire message: header plus its auth and payload blocks.
type Frame struct {
	Header  Header
	Auth    []byte
	Payload []byte
}

// Limits caps how much memory a single frame may claim in either direction.
type Limits struct {
	MaxAuthBytes    uint64
	MaxPayloadBytes uint64
}

func DefaultLimits() Limits {
	return Limits{
		MaxAuthBytes:    64 * 1024,
		MaxPayloadBytes: 8 * 1024 * 1024,
	}
}

// ReadFrame decodes one frame from r.
func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var fixed [FixedHeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}
	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Frame{}, err
	}
	if err := h.checkSizes(limits); err != nil {
		return Frame{}, err
	}

	auth, err := readBlock(r, h.authLen())
	if err != nil {
		return Frame{}, err
	}
	payload, err := readBlock(r, h.PayloadLen)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Header: h, Auth: auth, Payload: payload}, nil
}

func readBlock(r io.Reader, n uint64) ([]byte, error) {
	b := make([]byte, n)
	if n == 0 {
		return b, nil
	}
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// WriteFrame stamps the derived length fields and auth flag, then emits
// header, auth block, and payload as a single write.
func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	authLen := uint64(len(f.Auth))
	if authLen > limits.MaxAuthBytes {
		return ErrAuthTooLarge
	}
	if uint64(len(f.Payload)) > limits.MaxPayloadBytes {
		return ErrPayloadTooLarge
	}

	h := f.Header
	h.HeaderLen = FixedHeaderLen + uint16(authLen)
	h.PayloadLen = uint64(len(f.Payload))
	h.Flags &^= FlagHasAuth
	if authLen > 0 {
		h.Flags |= FlagHasAuth
	}

	buf := make([]byte, 0, int(h.HeaderLen)+len(f.Payload))
	buf = append(buf, EncodeHeader(h)...)
	buf = append(buf, f.Auth...)
	buf = append(buf, f.Payload...)
	_, err := w.Write(buf)
	return err
}

// EncodeHeader lays the header out big-endian at the fixed offsets.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, FixedHeaderLen)
	binary.BigEndian.PutUint32(buf[offMagic:], h.Magic)
	binary.BigEndian.PutUint16(buf[offVersion:], h.Version)
	binary.BigEndian.PutUint16(buf[offHeaderLen:], h.HeaderLen)
	binary.BigEndian.PutUint64(buf[offMessageID:], h.MessageID)
	binary.BigEndian.PutUint32(buf[offMessageType:], h.MessageType)
	binary.BigEndian.PutUint32(buf[offFlags:], h.Flags)
	binary.BigEndian.PutUint64(buf[offPayloadLen:], h.PayloadLen)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != int(FixedHeaderLen) {
		return Header{}, fmt.Errorf("frame: fixed header must be %d bytes, got %d", FixedHeaderLen, len(b))
	}
	return Header{
		Magic:       binary.BigEndian.Uint32(b[offMagic:]),
		Version:     binary.BigEndian.Uint16(b[offVersion:]),
		HeaderLen:   binary.BigEndian.Uint16(b[offHeaderLen:]),
		MessageID:   binary.BigEndian.Uint64(b[offMessageID:]),
		MessageType: binary.BigEndian.Uint32(b[offMessageType:]),
		Flags:       binary.BigEndian.Uint32(b[offFlags:]),
		PayloadLen:  binary.BigEndian.Uint64(b[offPayloadLen:]),
	}, nil
}
