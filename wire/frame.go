package wire

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/distclass-go/dorpc/dcerr"
)

// MsgID identifies the frame kinds the protocol exchanges.
type MsgID uint8

const (
	// MsgRequest carries an outbound Invocation.
	MsgRequest MsgID = 0
	// MsgReply carries a return value or exception for a prior request.
	MsgReply MsgID = 1
	// MsgAck acknowledges receipt of a request, independent of its reply.
	MsgAck MsgID = 2
	// MsgRelease is the out-of-band notification emitted when this side's
	// last user handle on a remote proxy is released, telling the peer to
	// drop the matching local proxy (spec §4.E's dropRemoteProxy).
	MsgRelease MsgID = 3
)

// Flags are the per-frame header bits (spec §6).
type Flags uint8

const (
	// FlagClear marks a frame that bypasses decryption: the first handshake
	// exchange of a connection, and every ACK.
	FlagClear Flags = 1 << 0
	// FlagHasException marks a MsgReply whose body is a serialised exception
	// rather than a return value.
	FlagHasException Flags = 1 << 1
	// FlagByCopy marks an invocation whose target-relevant object argument
	// was shipped by value. Informational; the authoritative encoding lives
	// per-argument in the body.
	FlagByCopy Flags = 1 << 2
	// FlagByRef is the by-reference counterpart of FlagByCopy.
	FlagByRef Flags = 1 << 3
)

// ComponentKind discriminates a Frame component's payload.
type ComponentKind uint8

const (
	// KindData is an opaque data blob (the header+body, or an ancillary item).
	KindData ComponentKind = 0
	// KindPortRef is a port reference, reserved for rendezvous extensions.
	KindPortRef ComponentKind = 1
)

// Component is one element of a Frame's component list.
type Component struct {
	Kind  ComponentKind
	Bytes []byte
}

// Frame is the atomic wire unit exchanged between two Ports (spec §6).
type Frame struct {
	MsgID        MsgID
	Flags        Flags
	Sequence     uint32
	Conversation uint32
	Components   []Component
	AuthTag      []byte
}

// IsClear reports whether the frame bypasses decryption.
func (f *Frame) IsClear() bool { return f.Flags&FlagClear != 0 }

// Body returns the first component's bytes, which is always the invocation
// or reply payload; ancillary "imports" follow as later components.
func (f *Frame) Body() []byte {
	if len(f.Components) == 0 {
		return nil
	}
	return f.Components[0].Bytes
}

// Marshal encodes a Frame to its wire form: uint32 length prefix, header,
// components, and a trailing auth tag if one is present. All integers are
// little-endian.
func (f *Frame) Marshal() ([]byte, error) {
	var body bytes.Buffer
	if err := binary.Write(&body, binary.LittleEndian, uint8(f.MsgID)); err != nil {
		return nil, err
	}
	if err := binary.Write(&body, binary.LittleEndian, uint8(f.Flags)); err != nil {
		return nil, err
	}
	if err := binary.Write(&body, binary.LittleEndian, f.Sequence); err != nil {
		return nil, err
	}
	if err := binary.Write(&body, binary.LittleEndian, f.Conversation); err != nil {
		return nil, err
	}
	if len(f.Components) > 0xFFFF {
		return nil, dcerr.New(dcerr.KindEncodingMismatch, "too many components (%d)", len(f.Components))
	}
	if err := binary.Write(&body, binary.LittleEndian, uint16(len(f.Components))); err != nil {
		return nil, err
	}
	for _, c := range f.Components {
		if err := binary.Write(&body, binary.LittleEndian, uint32(len(c.Bytes))); err != nil {
			return nil, err
		}
		if err := binary.Write(&body, binary.LittleEndian, uint8(c.Kind)); err != nil {
			return nil, err
		}
		body.Write(c.Bytes)
	}
	body.Write(f.AuthTag)

	var out bytes.Buffer
	if err := binary.Write(&out, binary.LittleEndian, uint32(body.Len())); err != nil {
		return nil, err
	}
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

// Unmarshal decodes a Frame from the bytes of one Marshal output that follow
// its uint32 length prefix (the prefix itself is not part of b; the
// receiving Connection checks and strips it first). authTagLen is the number of trailing bytes that belong
// to the security envelope's auth tag (0 if the envelope requires none);
// clear frames (handshake, ACKs) never carry one regardless of authTagLen,
// matching Frame.Marshal only ever appending a tag set by envelope.Seal.
func Unmarshal(b []byte, authTagLen int) (*Frame, error) {
	r := bytes.NewReader(b)
	f := &Frame{}

	var msgID, flags uint8
	if err := binary.Read(r, binary.LittleEndian, &msgID); err != nil {
		return nil, dcerr.Wrap(dcerr.KindMalformedFrame, err, "truncated frame header")
	}
	if err := binary.Read(r, binary.LittleEndian, &flags); err != nil {
		return nil, dcerr.Wrap(dcerr.KindMalformedFrame, err, "truncated frame header")
	}
	f.MsgID = MsgID(msgID)
	f.Flags = Flags(flags)

	if err := binary.Read(r, binary.LittleEndian, &f.Sequence); err != nil {
		return nil, dcerr.Wrap(dcerr.KindMalformedFrame, err, "truncated sequence")
	}
	if err := binary.Read(r, binary.LittleEndian, &f.Conversation); err != nil {
		return nil, dcerr.Wrap(dcerr.KindMalformedFrame, err, "truncated conversation id")
	}

	var nComponents uint16
	if err := binary.Read(r, binary.LittleEndian, &nComponents); err != nil {
		return nil, dcerr.Wrap(dcerr.KindMalformedFrame, err, "truncated component count")
	}

	for i := 0; i < int(nComponents); i++ {
		var size uint32
		var kind uint8
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return nil, dcerr.Wrap(dcerr.KindMalformedFrame, err, "truncated component %d size", i)
		}
		if err := binary.Read(r, binary.LittleEndian, &kind); err != nil {
			return nil, dcerr.Wrap(dcerr.KindMalformedFrame, err, "truncated component %d kind", i)
		}
		buf := make([]byte, size)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, dcerr.Wrap(dcerr.KindMalformedFrame, err, "truncated component %d body", i)
		}
		f.Components = append(f.Components, Component{Kind: ComponentKind(kind), Bytes: buf})
	}

	if authTagLen > 0 && !f.IsClear() {
		tag := make([]byte, authTagLen)
		if _, err := io.ReadFull(r, tag); err != nil {
			return nil, dcerr.Wrap(dcerr.KindMalformedFrame, err, "truncated auth tag")
		}
		f.AuthTag = tag
	}

	if r.Len() != 0 {
		return nil, dcerr.New(dcerr.KindMalformedFrame, "%d trailing bytes after frame body", r.Len())
	}

	return f, nil
}
