// Package schema owns the engine-host wire contract: protocol identity,
// message type IDs, field IDs, and required-field validation.
package schema

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/taigalab/taigactl/internal/protocol/tlv"
)

// Protocol identity stamped on every frame header.
const (
	Magic   uint32 = 0x54414947 // "TAIG"
	Version uint16 = 1
)

// Message type IDs.
const (
	MsgConfigure uint32 = 1
	MsgCreate    uint32 = 2
	MsgAdvance   uint32 = 3
	MsgResult    uint32 = 4
	MsgProgress  uint32 = 5
	MsgShutdown  uint32 = 6
)

// Field IDs.
const (
	FieldRunID       uint16 = 1
	FieldOp          uint16 = 2
	FieldTimestampMS uint16 = 3

	FieldProject   uint16 = 100
	FieldOverrides uint16 = 101

	FieldSteps uint16 = 200

	FieldHasError  uint16 = 300
	FieldLastError uint16 = 301
	FieldPanicked  uint16 = 302

	FieldYear uint16 = 400
)

// Operation names carried in result frames.
const (
	OpConfigure = "configure"
	OpCreate    = "create"
	OpAdvance   = "advance"
	OpShutdown  = "shutdown"
)

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

var requirements = map[uint32][]Requirement{
	MsgConfigure: {
		{FieldRunID, tlv.TypeString},
		{FieldProject, tlv.TypeString},
	},
	MsgCreate: {
		{FieldRunID, tlv.TypeString},
	},
	MsgAdvance: {
		{FieldRunID, tlv.TypeString},
		{FieldSteps, tlv.TypeU32},
	},
	MsgResult: {
		{FieldRunID, tlv.TypeString},
		{FieldOp, tlv.TypeString},
		{FieldHasError, tlv.TypeBool},
	},
	MsgProgress: {
		{FieldRunID, tlv.TypeString},
		{FieldYear, tlv.TypeU32},
	},
	MsgShutdown: {
		{FieldRunID, tlv.TypeString},
	},
}

// Validate enforces required fields and required field types for a message type.
// Unknown fields are ignored.
func Validate(messageType uint32, fields []tlv.Field) error {
	reqs, ok := requirements[messageType]
	if !ok {
		log.Error().Uint32("message_type", messageType).Msg("schema validate unknown message_type")
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			log.Error().
				Uint32("message_type", messageType).
				Uint16("field_id", req.ID).
				Msg("schema validate missing field")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			log.Error().
				Uint32("message_type", messageType).
				Uint16("field_id", req.ID).
				Uint8("got", f.Type).
				Uint8("want", req.Type).
				Msg("schema validate type mismatch")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	return nil
}
