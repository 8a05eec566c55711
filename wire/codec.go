package wire

import (
	"encoding/binary"

	"github.com/distclass-go/dorpc/dcerr"
)

// EncodeRequestFrame builds a MsgRequest Frame body for inv. clear marks the
// frame as bypassing decryption (used only for the first handshake exchange
// of a connection).
func EncodeRequestFrame(inv *Invocation, sequence, conversation uint32, clear bool) (*Frame, error) {
	body, err := EncodeInvocation(inv)
	if err != nil {
		return nil, err
	}
	var flags Flags
	if clear {
		flags |= FlagClear
	}
	return &Frame{
		MsgID:        MsgRequest,
		Flags:        flags,
		Sequence:     sequence,
		Conversation: conversation,
		Components:   []Component{{Kind: KindData, Bytes: body}},
	}, nil
}

// DecodeRequestFrame is the mirror of EncodeRequestFrame.
func DecodeRequestFrame(f *Frame) (*Invocation, error) {
	if f.MsgID != MsgRequest {
		return nil, dcerr.New(dcerr.KindMalformedFrame, "expected MsgRequest, got %d", f.MsgID)
	}
	return DecodeInvocation(f.Body())
}

// EncodeReplyFrame builds a MsgReply Frame body carrying either a return
// value or an exception, never both, per spec §4.A.
func EncodeReplyFrame(value *Arg, exception *dcerr.RemoteInfo, sequence, conversation uint32) (*Frame, error) {
	if (value == nil) == (exception == nil) {
		return nil, dcerr.New(dcerr.KindEncodingMismatch, "reply must carry exactly one of value or exception")
	}
	var body []byte
	var err error
	var flags Flags
	if exception != nil {
		flags |= FlagHasException
		body, err = EncodeException(exception)
	} else {
		body, err = EncodeReply(*value)
	}
	if err != nil {
		return nil, err
	}
	return &Frame{
		MsgID:        MsgReply,
		Flags:        flags,
		Sequence:     sequence,
		Conversation: conversation,
		Components:   []Component{{Kind: KindData, Bytes: body}},
	}, nil
}

// DecodeReplyFrame is the mirror of EncodeReplyFrame. letter/qualifier
// describe the expected return type and are ignored when the frame carries
// an exception.
func DecodeReplyFrame(f *Frame, letter byte, qualifier Qualifier) (*Reply, error) {
	if f.MsgID != MsgReply {
		return nil, dcerr.New(dcerr.KindMalformedFrame, "expected MsgReply, got %d", f.MsgID)
	}
	if f.Flags&FlagHasException != 0 {
		info, err := DecodeException(f.Body())
		if err != nil {
			return nil, err
		}
		return &Reply{Exception: info}, nil
	}
	a, err := DecodeReply(f.Body(), letter, qualifier)
	if err != nil {
		return nil, err
	}
	return &Reply{Value: &a}, nil
}

// EncodeAckFrame builds the zero-body MsgAck frame a receiver sends back
// immediately on accepting a request, independent of producing its reply.
func EncodeAckFrame(sequence, conversation uint32) *Frame {
	return &Frame{
		MsgID:        MsgAck,
		Flags:        FlagClear,
		Sequence:     sequence,
		Conversation: conversation,
	}
}

// EncodeReleaseFrame builds a MsgRelease frame announcing that refNum (the
// reference number the recipient issued for its local object) has just lost
// its last remote handle on the sender's side.
func EncodeReleaseFrame(refNum uint32) *Frame {
	body := make([]byte, 4)
	binary.LittleEndian.PutUint32(body, refNum)
	return &Frame{
		MsgID:      MsgRelease,
		Components: []Component{{Kind: KindData, Bytes: body}},
	}
}

// DecodeReleaseFrame is the mirror of EncodeReleaseFrame.
func DecodeReleaseFrame(f *Frame) (uint32, error) {
	if f.MsgID != MsgRelease {
		return 0, dcerr.New(dcerr.KindMalformedFrame, "expected MsgRelease, got %d", f.MsgID)
	}
	body := f.Body()
	if len(body) != 4 {
		return 0, dcerr.New(dcerr.KindMalformedFrame, "release frame body must be 4 bytes, got %d", len(body))
	}
	return binary.LittleEndian.Uint32(body), nil
}
