package envelope

import (
	"testing"

	"github.com/distclass-go/dorpc/dcerr"
	"github.com/distclass-go/dorpc/wire"
)

func delegates(t *testing.T) []Delegate {
	t.Helper()
	secret := []byte("shared-secret-material")
	ds := []Delegate{
		NoneDelegate{},
		NewXORDelegate(secret),
		NewAESDelegate(secret),
		NewChaChaDelegate(secret),
	}
	for _, d := range ds {
		if err := d.Handshake(true, []byte("first-frame")); err != nil {
			t.Fatalf("handshake: %v", err)
		}
	}
	return ds
}

func testFrame() *wire.Frame {
	return &wire.Frame{
		MsgID:        wire.MsgRequest,
		Sequence:     1,
		Conversation: 1,
		Components:   []wire.Component{{Kind: wire.KindData, Bytes: []byte("hello, remote object")}},
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	for _, d := range delegates(t) {
		f := testFrame()
		plaintext := append([]byte{}, f.Components[0].Bytes...)
		if err := Seal(d, f); err != nil {
			t.Fatalf("%T Seal: %v", d, err)
		}
		if err := Open(d, f); err != nil {
			t.Fatalf("%T Open: %v", d, err)
		}
		if string(f.Components[0].Bytes) != string(plaintext) {
			t.Fatalf("%T: got %q want %q", d, f.Components[0].Bytes, plaintext)
		}
	}
}

func TestBitFlippedFrameRejected(t *testing.T) {
	for _, d := range delegates(t) {
		if _, ok := d.(NoneDelegate); ok {
			continue // passthrough has no authenticity to violate
		}
		f := testFrame()
		if err := Seal(d, f); err != nil {
			t.Fatalf("%T Seal: %v", d, err)
		}
		f.Components[0].Bytes[0] ^= 0xFF
		err := Open(d, f)
		if err == nil {
			t.Fatalf("%T: expected AUTH_FAILED on bit-flipped frame, got nil", d)
		}
		if !dcerr.Is(err, dcerr.KindAuthFailed) {
			t.Fatalf("%T: expected KindAuthFailed, got %v", d, err)
		}
	}
}

func TestClearFramePassesThroughUnsealed(t *testing.T) {
	secret := []byte("shared-secret-material")
	d := NewAESDelegate(secret)
	if err := d.Handshake(true, []byte("first-frame")); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	f := testFrame()
	f.Flags |= wire.FlagClear
	plaintext := append([]byte{}, f.Components[0].Bytes...)
	if err := Seal(d, f); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if string(f.Components[0].Bytes) != string(plaintext) {
		t.Fatalf("clear frame was modified by Seal")
	}
	if err := Open(d, f); err != nil {
		t.Fatalf("Open: %v", err)
	}
}
