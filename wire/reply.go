package wire

import (
	"bytes"

	"github.com/distclass-go/dorpc/dcerr"
)

// Reply is the decoded body of a MsgReply frame: exactly one of Value or
// Exception is set, mirroring spec §4.A's "Exceptions are a distinct return
// kind."
type Reply struct {
	Value     *Arg
	Exception *dcerr.RemoteInfo
}

// EncodeReply serialises a successful return value.
func EncodeReply(v Arg) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeArg(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeReply decodes a successful return value given its declared letter/qualifier.
func DecodeReply(b []byte, letter byte, qualifier Qualifier) (Arg, error) {
	r := bytes.NewReader(b)
	a, err := DecodeArg(r, letter, qualifier)
	if err != nil {
		return Arg{}, err
	}
	if r.Len() != 0 {
		return Arg{}, dcerr.New(dcerr.KindMalformedFrame, "%d trailing bytes after reply value", r.Len())
	}
	return a, nil
}

// EncodeException serialises a RemoteInfo (name, reason, call stack, user
// info) for a reply frame carrying FlagHasException.
func EncodeException(info *dcerr.RemoteInfo) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeLenPrefixed(&buf, []byte(info.Name)); err != nil {
		return nil, err
	}
	if err := writeLenPrefixed(&buf, []byte(info.Reason)); err != nil {
		return nil, err
	}
	if err := writeLenPrefixed(&buf, []byte(joinStack(info.CallStack))); err != nil {
		return nil, err
	}
	if err := writeLenPrefixed(&buf, []byte(joinUserInfo(info.UserInfo))); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeException is the mirror of EncodeException.
func DecodeException(b []byte) (*dcerr.RemoteInfo, error) {
	r := bytes.NewReader(b)
	name, err := readLenPrefixed(r)
	if err != nil {
		return nil, err
	}
	reason, err := readLenPrefixed(r)
	if err != nil {
		return nil, err
	}
	stack, err := readLenPrefixed(r)
	if err != nil {
		return nil, err
	}
	userInfo, err := readLenPrefixed(r)
	if err != nil {
		return nil, err
	}
	return &dcerr.RemoteInfo{
		Name:      string(name),
		Reason:    string(reason),
		CallStack: splitStack(string(stack)),
		UserInfo:  splitUserInfo(string(userInfo)),
	}, nil
}

func joinStack(frames []string) string {
	var buf bytes.Buffer
	for i, f := range frames {
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(f)
	}
	return buf.String()
}

func splitStack(s string) []string {
	if s == "" {
		return nil
	}
	parts := bytes.Split([]byte(s), []byte{'\n'})
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = string(p)
	}
	return out
}

func joinUserInfo(m map[string]string) string {
	var buf bytes.Buffer
	first := true
	for k, v := range m {
		if !first {
			buf.WriteByte('\n')
		}
		first = false
		buf.WriteString(k)
		buf.WriteByte('=')
		buf.WriteString(v)
	}
	return buf.String()
}

func splitUserInfo(s string) map[string]string {
	if s == "" {
		return nil
	}
	m := make(map[string]string)
	for _, line := range bytes.Split([]byte(s), []byte{'\n'}) {
		kv := bytes.SplitN(line, []byte{'='}, 2)
		if len(kv) == 2 {
			m[string(kv[0])] = string(kv[1])
		}
	}
	return m
}
