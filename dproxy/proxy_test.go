package dproxy

import (
	"testing"

	"github.com/distclass-go/dorpc/dcerr"
	"github.com/distclass-go/dorpc/proxytab"
	"github.com/distclass-go/dorpc/wire"
)

func TestProxyStringUsesClassNameAndRefNum(t *testing.T) {
	p := New(nil, &proxytab.Proxy{RefNum: 7}, "Counter")
	if got, want := p.String(), "<Counter 7>"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestProxyStringFallsBackWithoutClassName(t *testing.T) {
	p := New(nil, &proxytab.Proxy{RefNum: 3}, "")
	if got, want := p.String(), "<Proxy 3>"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestProxyEqualBySameConnectionAndRefNum(t *testing.T) {
	a := New(nil, &proxytab.Proxy{RefNum: 5}, "")
	b := New(nil, &proxytab.Proxy{RefNum: 5}, "")
	c := New(nil, &proxytab.Proxy{RefNum: 6}, "")
	if !a.Equal(b) {
		t.Fatalf("expected proxies with same conn/refnum to be equal")
	}
	if a.Equal(c) {
		t.Fatalf("expected proxies with different refnum to be unequal")
	}
}

func TestProtocolResolutionNeverTouchesConnection(t *testing.T) {
	// conn is nil: resolveSignature must not dereference it when a
	// protocol descriptor is installed, proving the RPC path is skipped.
	p := New(nil, &proxytab.Proxy{RefNum: 1}, "")
	p.SetProtocolForProxy(NewProtocolDescriptor("Counter", []MethodDescriptor{
		{Selector: "increment", TypeEncoding: "v:"},
	}))
	sig, err := p.resolveSignature(1, "increment")
	if err != nil {
		t.Fatalf("resolveSignature: %v", err)
	}
	if sig != "v:" {
		t.Fatalf("got %q want %q", sig, "v:")
	}
}

func TestProtocolResolutionRejectsUnknownSelector(t *testing.T) {
	p := New(nil, &proxytab.Proxy{RefNum: 1}, "")
	p.SetProtocolForProxy(NewProtocolDescriptor("Counter", nil))
	_, err := p.resolveSignature(1, "whatever")
	if !dcerr.Is(err, dcerr.KindNoSuchSelector) {
		t.Fatalf("expected KindNoSuchSelector, got %v", err)
	}
}

func TestReleaseIsNoOpForLocalProxy(t *testing.T) {
	// ref.Local set marks this a local (vended) proxy; Release must return
	// without touching conn, which is nil here and would panic otherwise.
	p := New(nil, &proxytab.Proxy{RefNum: 9, Local: struct{}{}}, "")
	p.Release()
}

func TestMethodDescriptorByCopyRoundTrip(t *testing.T) {
	want := MethodDescriptor{
		Selector:     "setValue:",
		TypeEncoding: "v:i",
		ArgCount:     1,
		ReturnType:   "v",
		ArgTypes:     []string{"i"},
	}
	payload, err := wire.NewByCopyPayload(methodDescriptorTypeName, want)
	if err != nil {
		t.Fatalf("NewByCopyPayload: %v", err)
	}
	decoded, err := payload.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got := decoded.(*MethodDescriptor)
	if got.Selector != want.Selector || got.TypeEncoding != want.TypeEncoding ||
		got.ReturnType != want.ReturnType || len(got.ArgTypes) != 1 || got.ArgTypes[0] != "i" {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestClassListByCopyRoundTrip(t *testing.T) {
	want := ClassList{"Counter", "Echoer"}
	payload, err := wire.NewByCopyPayload(classListTypeName, want)
	if err != nil {
		t.Fatalf("NewByCopyPayload: %v", err)
	}
	decoded, err := payload.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got := *decoded.(*ClassList)
	if len(got) != 2 || got[0] != "Counter" || got[1] != "Echoer" {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestVendorClassNamesSorted(t *testing.T) {
	v := NewVendor()
	v.RegisterClass("Zebra", func() interface{} { return nil })
	v.RegisterClass("Apple", func() interface{} { return nil })
	names := v.ClassNames()
	if len(names) != 2 || names[0] != "Apple" || names[1] != "Zebra" {
		t.Fatalf("got %v", names)
	}
}
