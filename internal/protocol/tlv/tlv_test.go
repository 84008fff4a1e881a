package tlv

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeFieldsRoundTripPreservesUnknown(t *testing.T) {
	in := []Field{
		{ID: 2, Type: TypeString, Value: []byte("eng-rng")},
		{ID: 3, Type: TypeU32, Value: []byte{0, 0, 0, 10}},
		{ID: 7001, Type: TypeBytes, Value: []byte{0xDE, 0xAD}},
	}
	out, err := DecodeFields(EncodeFields(in))
	if err != nil {
		t.Fatalf("decode fields: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("expected %d fields, got %d", len(in), len(out))
	}
	for i := range in {
		if out[i].ID != in[i].ID || out[i].Type != in[i].Type || !bytes.Equal(out[i].Value, in[i].Value) {
			t.Fatalf("field %d mismatch: got=%+v want=%+v", i, out[i], in[i])
		}
	}
}

func TestDecodeFieldsMalformedIsDeterministic(t *testing.T) {
	cases := []struct {
		name    string
		payload []byte
		wantErr error
	}{
		{"truncated header", []byte{0, 2, TypeString}, ErrShortFieldHeader},
		{"value shorter than declared", EncodeField(Field{ID: 2, Type: TypeString, Value: []byte("eng-rng")})[:HeaderLen+3], ErrShortFieldValue},
		{"second field truncated", append(EncodeField(Field{ID: 3, Type: TypeU32, Value: []byte{0, 0, 0, 1}}), 0, 4), ErrShortFieldHeader},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeFields(tc.payload); !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestGetField(t *testing.T) {
	fields := []Field{
		{ID: 2, Type: TypeString, Value: []byte("eng-rng")},
		{ID: 3, Type: TypeU32, Value: []byte{0, 0, 0, 10}},
	}
	f, ok := GetField(fields, 3)
	if !ok || f.Type != TypeU32 {
		t.Fatalf("expected field 3, got ok=%v field=%+v", ok, f)
	}
	if _, ok := GetField(fields, 99); ok {
		t.Fatalf("expected missing field 99")
	}
}

func TestU32FromBytes(t *testing.T) {
	v, err := U32FromBytes([]byte{0, 0, 0, 10})
	if err != nil || v != 10 {
		t.Fatalf("u32 from bytes: v=%d err=%v", v, err)
	}
	if _, err := U32FromBytes([]byte{0, 10}); err == nil {
		t.Fatalf("expected error for short u32 value")
	}
}

func TestBoolRoundTrip(t *testing.T) {
	for _, want := range []bool{true, false} {
		got, err := BoolFromBytes(PutBool(want))
		if err != nil {
			t.Fatalf("bool from bytes: %v", err)
		}
		if got != want {
			t.Fatalf("bool mismatch: got=%v want=%v", got, want)
		}
	}
	if _, err := BoolFromBytes([]byte{2}); err == nil {
		t.Fatalf("expected error for invalid bool value")
	}
	if _, err := BoolFromBytes(nil); err == nil {
		t.Fatalf("expected error for empty bool value")
	}
}
