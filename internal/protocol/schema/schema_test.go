package schema

import (
	"testing"

	"github.com/taigalab/taigactl/internal/protocol/tlv"
	"github.com/taigalab/taigactl/internal/testutil/testlog"
)

func wantValidationError(t *testing.T, err error, fieldID uint16, reason string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error")
	}
	ve, ok := err.(ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if ve.FieldID != fieldID || ve.Reason != reason {
		t.Fatalf("unexpected validation error: %+v", ve)
	}
}

func TestValidateConfigureRequiredFields(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{
		{ID: FieldRunID, Type: tlv.TypeString, Value: []byte("run-1")},
		{ID: FieldProject, Type: tlv.TypeString, Value: []byte("project.xml")},
	}
	if err := Validate(MsgConfigure, fields); err != nil {
		t.Fatalf("validate configure: %v", err)
	}
}

func TestValidateUnknownFieldsIgnored(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{
		{ID: FieldRunID, Type: tlv.TypeString, Value: []byte("run-1")},
		{ID: FieldProject, Type: tlv.TypeString, Value: []byte("project.xml")},
		{ID: 9999, Type: tlv.TypeBytes, Value: []byte{0x01}},
	}
	if err := Validate(MsgConfigure, fields); err != nil {
		t.Fatalf("validate with unknown field: %v", err)
	}
}

func TestValidateMissingRequiredDeterministic(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{{ID: FieldRunID, Type: tlv.TypeString, Value: []byte("run-1")}}
	wantValidationError(t, Validate(MsgConfigure, fields), FieldProject, "missing required field")
}

func TestValidateTypeMismatchDeterministic(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{
		{ID: FieldRunID, Type: tlv.TypeString, Value: []byte("run-1")},
		{ID: FieldSteps, Type: tlv.TypeString, Value: []byte("11")},
	}
	wantValidationError(t, Validate(MsgAdvance, fields), FieldSteps, "type mismatch")
}

func TestValidateResultRequiredFields(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{
		{ID: FieldRunID, Type: tlv.TypeString, Value: []byte("run-1")},
		{ID: FieldOp, Type: tlv.TypeString, Value: []byte(OpAdvance)},
		{ID: FieldHasError, Type: tlv.TypeBool, Value: tlv.PutBool(false)},
	}
	if err := Validate(MsgResult, fields); err != nil {
		t.Fatalf("validate result: %v", err)
	}
}

func TestValidateResultMissingHasErrorDeterministic(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{
		{ID: FieldRunID, Type: tlv.TypeString, Value: []byte("run-1")},
		{ID: FieldOp, Type: tlv.TypeString, Value: []byte(OpCreate)},
	}
	wantValidationError(t, Validate(MsgResult, fields), FieldHasError, "missing required field")
}

func TestValidateUnknownMessageTypeDeterministic(t *testing.T) {
	testlog.Start(t)
	wantValidationError(t, Validate(99, nil), 0, "unknown message_type")
}
