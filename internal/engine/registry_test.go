package engine

import (
	"errors"
	"reflect"
	"testing"

	"github.com/taigalab/taigactl/internal/testutil/testlog"
)

type fakeEngine struct{}

func (fakeEngine) Configure(src Source) {}
func (fakeEngine) Create()              {}
func (fakeEngine) Advance(steps int)    {}
func (fakeEngine) HasError() bool       { return false }
func (fakeEngine) LastError() string    { return "" }

type fakeFactory struct {
	meta Metadata
}

func (f fakeFactory) Metadata() Metadata {
	return f.meta
}

func (f fakeFactory) New() Engine {
	return fakeEngine{}
}

func TestRegisterResolveAndDuplicate(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	f := fakeFactory{meta: Metadata{ID: "engine.stub", Name: "Stub", Description: "Deterministic scripted engine"}}

	if err := r.Register(f); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(f); !errors.Is(err, ErrFactoryExists) {
		t.Fatalf("expected ErrFactoryExists, got %v", err)
	}
	got, err := r.Resolve("engine.stub")
	if err != nil || got.Metadata().ID != "engine.stub" {
		t.Fatalf("resolve failed: err=%v", err)
	}
}

func TestResolveUnknownKind(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	if _, err := r.Resolve("engine.missing"); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestListMetadataSorted(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	_ = r.Register(fakeFactory{meta: Metadata{ID: "engine.z", Name: "Z", Description: "z"}})
	_ = r.Register(fakeFactory{meta: Metadata{ID: "engine.a", Name: "A", Description: "a"}})
	_ = r.Register(fakeFactory{meta: Metadata{ID: "engine.m", Name: "M", Description: "m"}})

	list := r.ListMetadata()
	ids := []string{list[0].ID, list[1].ID, list[2].ID}
	want := []string{"engine.a", "engine.m", "engine.z"}
	if !reflect.DeepEqual(ids, want) {
		t.Fatalf("metadata not sorted: got=%v want=%v", ids, want)
	}
}

func TestValidateMetadataFailures(t *testing.T) {
	testlog.Start(t)
	cases := []Metadata{
		{ID: "", Name: "Stub", Description: "x"},
		{ID: "engine.stub", Name: "", Description: "x"},
		{ID: "engine.stub", Name: "Stub", Description: ""},
		{ID: "Engine.Stub", Name: "Stub", Description: "x"},
		{ID: ".engine.stub", Name: "Stub", Description: "x"},
		{ID: "engine..stub", Name: "Stub", Description: "x"},
	}
	for _, meta := range cases {
		if err := ValidateMetadata(meta); !errors.Is(err, ErrInvalidMetadata) {
			t.Fatalf("expected ErrInvalidMetadata for meta=%+v, got %v", meta, err)
		}
	}
}

func TestRegisterNilFactory(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	if err := r.Register(nil); !errors.Is(err, ErrFactoryNil) {
		t.Fatalf("expected ErrFactoryNil, got %v", err)
	}
}

func TestFaultMessage(t *testing.T) {
	testlog.Start(t)
	fault := NewError("create", "bad config")
	if fault.Error() != "create: bad config" {
		t.Fatalf("unexpected fault string: %q", fault.Error())
	}
	bare := &Error{Message: "bad config"}
	if bare.Error() != "bad config" {
		t.Fatalf("unexpected bare fault string: %q", bare.Error())
	}
}

func TestPanicMessageExtraction(t *testing.T) {
	testlog.Start(t)
	if got := PanicMessage(NewError("create", "tree init failed")); got != "tree init failed" {
		t.Fatalf("structured fault message: %q", got)
	}
	if got := PanicMessage("boom"); got != "boom" {
		t.Fatalf("string panic message: %q", got)
	}
	if got := PanicMessage(42); got != "42" {
		t.Fatalf("non-string panic message: %q", got)
	}
}
